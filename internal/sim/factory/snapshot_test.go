package factory

import (
	"testing"

	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/layout"
)

func TestSnapshot_ResumeMatchesUninterruptedRun(t *testing.T) {
	a := newTestFactory(t, plantLayout())
	for i := uint64(0); i < 45; i++ {
		a.StepOnce(requestsAt(i))
	}
	snap := a.ExportSnapshot(44)
	if snap.Header.Tick != 44 || len(snap.Runs) == 0 || len(snap.Tiles) != 14 {
		t.Fatalf("snapshot header=%+v runs=%d tiles=%d", snap.Header, len(snap.Runs), len(snap.Tiles))
	}

	path := snapshot.Path(t.TempDir(), snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	b, err := New(Config{}, layout.Layout{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.ImportSnapshot(loaded); err != nil {
		t.Fatalf("import: %v", err)
	}
	if b.CurrentTick() != 45 || b.ID() != "test" || b.TickRateHz() != 10 {
		t.Fatalf("tick=%d id=%s hz=%d", b.CurrentTick(), b.ID(), b.TickRateHz())
	}
	checkConserved(t, b)

	for i := uint64(45); i < 160; i++ {
		ta, da := a.StepOnce(requestsAt(i))
		tb, db := b.StepOnce(requestsAt(i))
		if ta != tb || da != db {
			t.Fatalf("tick %d/%d: resumed digest %s want %s", tb, ta, db, da)
		}
	}
	if a.Coordinator().Counters() != b.Coordinator().Counters() {
		t.Fatalf("counters a=%+v b=%+v", a.Coordinator().Counters(), b.Coordinator().Counters())
	}
}

func TestSnapshot_ExportIsStable(t *testing.T) {
	f := newTestFactory(t, plantLayout())
	for i := 0; i < 30; i++ {
		f.StepOnce(nil)
	}
	s1 := f.ExportSnapshot(29)
	g, err := New(Config{}, layout.Layout{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := g.ImportSnapshot(s1); err != nil {
		t.Fatalf("import: %v", err)
	}
	s2 := g.ExportSnapshot(29)
	if len(s1.Runs) != len(s2.Runs) || s1.Counters != s2.Counters || len(s1.Weights) != 3 || len(s2.Weights) != 3 {
		t.Fatalf("export differs after import: runs %d/%d counters %+v/%+v", len(s1.Runs), len(s2.Runs), s1.Counters, s2.Counters)
	}
	for i := range s1.Runs {
		if s1.Runs[i].Head != s2.Runs[i].Head || len(s1.Runs[i].Items) != len(s2.Runs[i].Items) {
			t.Fatalf("run %d: %+v vs %+v", i, s1.Runs[i], s2.Runs[i])
		}
	}
	if f.stateDigest(29) != g.stateDigest(29) {
		t.Fatalf("digest differs after import")
	}
}

func TestSnapshot_ImportRejectsBadInput(t *testing.T) {
	f := newTestFactory(t, lineLayout())
	snap := f.ExportSnapshot(0)
	snap.Header.Version = 99
	if err := f.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected version error")
	}
	snap = f.ExportSnapshot(0)
	snap.Tiles[0].Dir = 7
	if err := f.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected dir error")
	}
}
