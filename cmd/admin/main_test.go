package main

import (
	"path/filepath"
	"testing"

	persistlog "beltsim.ai/internal/persistence/log"
	"beltsim.ai/internal/persistence/snapshot"
	"beltsim.ai/internal/sim/factory"
)

func TestParseRect_Normalizes(t *testing.T) {
	min, max, err := parseRect("5,-1: 2,3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if min != [2]int{2, -1} || max != [2]int{5, 3} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"1,2", "1,2:3", "a,b:1,2"} {
		if _, _, err := parseRect(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRollback_RestoresReplacedTiles(t *testing.T) {
	dir := t.TempDir()
	al := persistlog.NewAuditLogger(dir)
	entries := []factory.AuditEntry{
		// (1,0) RIGHT -> UP, then removed.
		{Tick: 5, Actor: "s1", Action: "PLACE", Pos: [2]int{1, 0}, Dir: "UP", From: &factory.AuditTile{Dir: "RIGHT"}},
		{Tick: 8, Actor: "s2", Action: "REMOVE", Pos: [2]int{1, 0}, From: &factory.AuditTile{Dir: "UP"}},
		// New tile on an empty cell.
		{Tick: 9, Actor: "s1", Action: "PLACE", Pos: [2]int{3, 3}, Dir: "LEFT"},
		// Outside the rectangle.
		{Tick: 9, Actor: "s1", Action: "REMOVE", Pos: [2]int{50, 0}, From: &factory.AuditTile{Dir: "DOWN"}},
		// Before since_tick.
		{Tick: 1, Actor: "s1", Action: "REMOVE", Pos: [2]int{2, 0}, From: &factory.AuditTile{Dir: "RIGHT"}},
	}
	for _, e := range entries {
		if err := al.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs, err := readAudit(filepath.Join(dir, "audit"), auditFilter{Since: 2, To: 20, Min: [2]int{0, 0}, Max: [2]int{10, 10}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 3 || recs[0].Entry.Tick != 9 || recs[2].Entry.Tick != 5 {
		t.Fatalf("recs=%+v", recs)
	}

	snap := snapshot.SnapshotV1{Tiles: []snapshot.TileV1{
		{Pos: [2]int{0, 0}, Dir: 1},
		{Pos: [2]int{3, 3}, Dir: 3},
	}}
	applied, skipped := applyRollback(&snap, recs)
	if applied != 3 || skipped != 0 {
		t.Fatalf("applied=%d skipped=%d", applied, skipped)
	}
	want := []snapshot.TileV1{
		{Pos: [2]int{0, 0}, Dir: 1},
		{Pos: [2]int{1, 0}, Dir: 1},
	}
	if len(snap.Tiles) != len(want) {
		t.Fatalf("tiles=%+v", snap.Tiles)
	}
	for i := range want {
		if snap.Tiles[i] != want[i] {
			t.Fatalf("tiles=%+v want %+v", snap.Tiles, want)
		}
	}
}

func TestRollback_ActorFilter(t *testing.T) {
	f := auditFilter{To: 100, Min: [2]int{-5, -5}, Max: [2]int{5, 5}, Actor: "s2"}
	if f.match(factory.AuditEntry{Tick: 3, Actor: "s1", Action: "PLACE"}) {
		t.Fatalf("other actor matched")
	}
	if !f.match(factory.AuditEntry{Tick: 3, Actor: "s2", Action: "REMOVE"}) {
		t.Fatalf("actor edit not matched")
	}
	if f.match(factory.AuditEntry{Tick: 3, Actor: "s2", Action: "PRODUCE"}) {
		t.Fatalf("non-structural action matched")
	}
}
