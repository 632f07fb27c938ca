package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	FactoryID string `json:"factory_id"`
	Tick      uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRateHz    int     `json:"tick_rate_hz"`
	Speed         float64 `json:"speed"`
	MinSpacing    float64 `json:"min_spacing"`
	AdmitRetryCap int     `json:"admit_retry_cap,omitempty"`
	AutoWire      bool    `json:"auto_wire"`

	// Operational parameters (captured for deterministic replay/resume).
	SnapshotEveryTicks int `json:"snapshot_every_ticks,omitempty"`

	Tiles     []TileV1     `json:"tiles"`
	Producers []ProducerV1 `json:"producers,omitempty"`
	Sinks     []SinkV1     `json:"sinks,omitempty"`
	Weights   []WeightV1   `json:"weights,omitempty"`
	Runs      []RunV1      `json:"runs,omitempty"`

	Counters CountersV1 `json:"counters"`
}

type TileV1 struct {
	Pos      [2]int `json:"pos"`
	Dir      uint8  `json:"dir"`
	TunnelID int    `json:"tunnel_id,omitempty"`
	Splitter bool   `json:"splitter,omitempty"`
}

type ProducerV1 struct {
	Pos        [2]int `json:"pos"`
	EveryTicks int    `json:"every_ticks"`
	Offset     int    `json:"offset,omitempty"`
	Limit      uint64 `json:"limit,omitempty"`
	Emitted    uint64 `json:"emitted"`
}

// SinkV1 is a sink cell and the items it has consumed.
type SinkV1 struct {
	Pos      [2]int `json:"pos"`
	Consumed uint64 `json:"consumed,omitempty"`
}

// WeightV1 is one output weight of the splitter at the run tail Tail.
type WeightV1 struct {
	Tail   [2]int `json:"tail"`
	Output [2]int `json:"output"`
	Weight int    `json:"weight"`
}

// RunV1 holds the items of the run starting at Head and the state of its head
// endpoint and splitter.
type RunV1 struct {
	Head     [2]int     `json:"head"`
	Items    []ItemV1   `json:"items,omitempty"`
	HeadKind string     `json:"head_kind,omitempty"`
	Queued   []uint64   `json:"queued,omitempty"`
	Sources  []SourceV1 `json:"sources,omitempty"`
	Turn     int        `json:"turn,omitempty"`
	Split    *SplitV1   `json:"split,omitempty"`
}

// SourceV1 is a merger input FIFO, keyed by the head cell of the source run.
type SourceV1 struct {
	From  [2]int   `json:"from"`
	Items []uint64 `json:"items,omitempty"`
}

type SplitV1 struct {
	Items    []uint64 `json:"items,omitempty"`
	Last     int      `json:"last"`
	Cursor   int      `json:"cursor"`
	Credited int      `json:"credited"`
}

type ItemV1 struct {
	ID     uint64  `json:"id"`
	Offset float64 `json:"offset"`
}

type CountersV1 struct {
	NextItem  uint64 `json:"next_item"`
	Produced  uint64 `json:"produced"`
	Delivered uint64 `json:"delivered"`
	Lost      uint64 `json:"lost"`
	Dropped   uint64 `json:"dropped"`
	Rebuilds  uint64 `json:"rebuilds"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is repeated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Path returns the conventional file name for a snapshot at tick.
func Path(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}
