package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	persistlog "beltsim.ai/internal/persistence/log"
	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/belt"
	"beltsim.ai/internal/sim/factory"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "factories"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		line := e.Name()
		if p := latestSnapshot(filepath.Join(*dataDir, "factories", e.Name())); p != "" {
			line += " latest_snapshot=" + filepath.Base(p)
			if st, err := os.Stat(p); err == nil {
				line += " size=" + humanize.Bytes(uint64(st.Size())) + " modified=" + humanize.Time(st.ModTime())
			}
		}
		fmt.Println(line)
	}
}

// rollbackCmd undoes the structural edits inside a cell rectangle by walking
// the audit log backwards and restoring each replaced tile into a snapshot.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	factoryID := fs.String("factory", "", "factory id")
	snapPath := fs.String("snapshot", "", "snapshot path to rollback from (optional; defaults to latest)")
	rect := fs.String("rect", "", "cell rectangle: x1,y1:x2,y2 (required)")
	sinceTick := fs.Uint64("since_tick", 0, "rollback changes since tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "rollback changes up to tick (inclusive, optional; defaults to snapshot tick)")
	actor := fs.String("actor", "", "only rollback edits by this session id (optional)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*factoryID) == "" {
		fmt.Fprintln(os.Stderr, "missing -factory")
		os.Exit(2)
	}
	if strings.TrimSpace(*rect) == "" {
		fmt.Fprintln(os.Stderr, "missing -rect")
		os.Exit(2)
	}

	factoryDir := filepath.Join(*dataDir, "factories", *factoryID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad = latestSnapshot(factoryDir)
	}
	if snapshotToLoad == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	min, max, err := parseRect(*rect)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -rect:", err)
		os.Exit(2)
	}

	endTick := *toTick
	if endTick == 0 || endTick > snap.Header.Tick {
		endTick = snap.Header.Tick
	}

	recs, err := readAudit(filepath.Join(factoryDir, "audit"), auditFilter{
		Since: *sinceTick,
		To:    endTick,
		Min:   min,
		Max:   max,
		Actor: strings.TrimSpace(*actor),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("no matching audit entries; nothing to rollback")
		return
	}

	applied, skipped := applyRollback(&snap, recs)

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(factoryDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("rollback ok: snapshot=%s tick=%d rect=%s since=%d to=%d entries=%d applied=%d skipped=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, *rect, *sinceTick, endTick, len(recs), applied, skipped, *outPath)
}

type auditRec struct {
	Seq   uint64
	Entry factory.AuditEntry
}

type auditFilter struct {
	Since, To uint64
	Min, Max  [2]int
	Actor     string
}

func (f auditFilter) match(e factory.AuditEntry) bool {
	if e.Action != protocol.OpPlace && e.Action != protocol.OpRemove {
		return false
	}
	if e.Tick < f.Since || e.Tick > f.To {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	return withinRect(e.Pos, f.Min, f.Max)
}

// readAudit returns the matching audit entries, newest first.
func readAudit(dir string, filter auditFilter) ([]auditRec, error) {
	files, err := persistlog.ListSegments(dir, "audit")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no audit segments in %s", dir)
	}

	out := make([]auditRec, 0, 1024)
	var seq uint64
	for _, path := range files {
		err := persistlog.ReadAudits(path, func(e factory.AuditEntry) error {
			seq++
			if filter.match(e) {
				out = append(out, auditRec{Seq: seq, Entry: e})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Reverse chronological apply: highest tick first; for same tick use reverse read order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Tick != out[j].Entry.Tick {
			return out[i].Entry.Tick > out[j].Entry.Tick
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// applyRollback restores the tile each record replaced. Item state is left
// as is; the factory re-homes or drops items when the snapshot is imported.
func applyRollback(snap *snapshot.SnapshotV1, recs []auditRec) (applied, skipped int) {
	if snap == nil || len(recs) == 0 {
		return 0, 0
	}
	tiles := make(map[[2]int]snapshot.TileV1, len(snap.Tiles))
	for _, t := range snap.Tiles {
		tiles[t.Pos] = t
	}

	for _, r := range recs {
		p := r.Entry.Pos
		if r.Entry.From == nil {
			delete(tiles, p)
			applied++
			continue
		}
		d, err := belt.ParseDirection(r.Entry.From.Dir)
		if err != nil {
			skipped++
			continue
		}
		tiles[p] = snapshot.TileV1{Pos: p, Dir: uint8(d), TunnelID: r.Entry.From.Tunnel, Splitter: r.Entry.From.Splitter}
		applied++
	}

	snap.Tiles = snap.Tiles[:0]
	for _, t := range tiles {
		snap.Tiles = append(snap.Tiles, t)
	}
	sort.Slice(snap.Tiles, func(i, j int) bool {
		return belt.CellFromArray(snap.Tiles[i].Pos).Less(belt.CellFromArray(snap.Tiles[j].Pos))
	})
	return applied, skipped
}

func withinRect(pos, min, max [2]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1]
}

func parseRect(s string) (min, max [2]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1:x2,y2")
	}
	a, err := parseCell(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseCell(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 2; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseCell(s string) ([2]int, error) {
	var v [2]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return v, fmt.Errorf("expected x,y")
	}
	for i := 0; i < 2; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func latestSnapshot(factoryDir string) string {
	dir := filepath.Join(factoryDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			// Rollback outputs are not resume candidates.
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
