package factory

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"beltsim.ai/internal/sim/belt"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything that influences future ticks: tiles, item
// positions, endpoint queues and rotation state, counters and producers.
func (f *Factory) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, f.nextItem)
	c := f.coord.Counters()
	digestWriteU64(h, &tmp, c.Produced)
	digestWriteU64(h, &tmp, c.Delivered)
	digestWriteU64(h, &tmp, c.Lost)
	digestWriteU64(h, &tmp, c.Dropped)

	tiles := f.tiles.Sorted()
	digestWriteU64(h, &tmp, uint64(len(tiles)))
	for _, t := range tiles {
		digestWriteCell(h, &tmp, t.Cell)
		h.Write([]byte{byte(t.Dir), boolByte(t.Splitter)})
		digestWriteI64(h, &tmp, int64(t.TunnelID))
	}

	for _, p := range f.producers {
		digestWriteCell(h, &tmp, p.cell)
		digestWriteU64(h, &tmp, p.emitted)
	}

	for _, st := range f.coord.ExportState() {
		digestWriteCell(h, &tmp, st.Head)
		digestWriteU64(h, &tmp, uint64(len(st.Items)))
		for _, it := range st.Items {
			digestWriteU64(h, &tmp, uint64(it.ID))
			digestWriteU64(h, &tmp, math.Float64bits(it.Offset))
		}
		h.Write([]byte(st.HeadKind))
		h.Write([]byte{0})
		digestWriteIDs(h, &tmp, st.Queued)
		digestWriteU64(h, &tmp, uint64(len(st.Sources)))
		for _, src := range st.Sources {
			digestWriteCell(h, &tmp, src.From)
			digestWriteIDs(h, &tmp, src.Items)
		}
		digestWriteI64(h, &tmp, int64(st.Turn))
		if st.Split == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		digestWriteIDs(h, &tmp, st.Split.Items)
		digestWriteI64(h, &tmp, int64(st.Split.Last))
		digestWriteI64(h, &tmp, int64(st.Split.Cursor))
		digestWriteI64(h, &tmp, int64(st.Split.Credited))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteCell(h hashWriter, tmp *[8]byte, c belt.Cell) {
	digestWriteI64(h, tmp, int64(c.X))
	digestWriteI64(h, tmp, int64(c.Y))
}

func digestWriteIDs(h hashWriter, tmp *[8]byte, ids []belt.ItemID) {
	digestWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		digestWriteU64(h, tmp, uint64(id))
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
