package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	persistlog "beltsim.ai/internal/persistence/log"
	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/belt"
	"beltsim.ai/internal/sim/factory"
	"beltsim.ai/internal/sim/layout"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		fromTick  = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d factory=%s tick=%d tiles=%d runs=%d producers=%d produced=%s delivered=%s\n",
		snap.Header.Version, snap.Header.FactoryID, snap.Header.Tick,
		len(snap.Tiles), len(snap.Runs), len(snap.Producers),
		humanize.Comma(int64(snap.Counters.Produced)), humanize.Comma(int64(snap.Counters.Delivered)))

	if *eventsDir == "" {
		return
	}

	files, err := persistlog.ListSegments(*eventsDir, "events")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	res, err := replay(snap, files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%s ticks (from snapshot tick=%d) segments=%d (%s) edits=%s final produced=%s delivered=%s\n",
		humanize.Comma(int64(res.Checked)), snap.Header.Tick, len(files), humanize.Bytes(res.Bytes),
		humanize.Comma(int64(res.Requests)), humanize.Comma(int64(res.Stats.Produced)), humanize.Comma(int64(res.Stats.Delivered)))
}

type replayResult struct {
	Checked  uint64
	Requests uint64
	Bytes    uint64
	Stats    belt.Counters
}

var errDone = errors.New("done")

// replay restores snap and re-applies the recorded requests of every tick
// logged after it, comparing each resulting digest with the recorded one.
func replay(snap snapshot.SnapshotV1, files []string, fromTick, toTick uint64) (replayResult, error) {
	var res replayResult

	f, err := factory.New(factory.Config{ID: snap.Header.FactoryID}, layout.Layout{})
	if err != nil {
		return res, fmt.Errorf("factory: %w", err)
	}
	if err := f.ImportSnapshot(snap); err != nil {
		return res, fmt.Errorf("import snapshot: %w", err)
	}

	startTick := f.CurrentTick()
	verifyFrom := fromTick
	if verifyFrom == 0 {
		verifyFrom = startTick
	}

	for _, path := range files {
		if st, err := os.Stat(path); err == nil {
			res.Bytes += uint64(st.Size())
		}
		err := persistlog.ReadTicks(path, func(entry factory.TickLogEntry) error {
			if entry.Tick < startTick {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return errDone
			}
			if entry.Tick != f.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", f.CurrentTick(), entry.Tick, filepath.Base(path))
			}

			tick, gotDigest := f.StepOnce(entry.Requests)
			res.Requests += uint64(len(entry.Requests))

			// Sanity check: StepOnce should have stepped the same tick.
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
			}
			if tick >= verifyFrom {
				res.Checked++
				if gotDigest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			return res, err
		}
	}
	res.Stats = f.Coordinator().Counters()
	return res, nil
}
