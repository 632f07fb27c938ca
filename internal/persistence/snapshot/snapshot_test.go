package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header:     Header{Version: Version, FactoryID: "factory_1", Tick: 1200},
		TickRateHz: 20,
		Speed:      2,
		MinSpacing: 0.25,
		AutoWire:   true,
		Tiles: []TileV1{
			{Pos: [2]int{0, 0}, Dir: 1},
			{Pos: [2]int{1, 0}, Dir: 1, TunnelID: 3},
			{Pos: [2]int{2, 0}, Dir: 0, Splitter: true},
		},
		Producers: []ProducerV1{{Pos: [2]int{0, 0}, EveryTicks: 5, Emitted: 240}},
		Sinks:     []SinkV1{{Pos: [2]int{9, 9}}},
		Weights:   []WeightV1{{Tail: [2]int{2, 0}, Output: [2]int{3, 0}, Weight: 2}},
		Runs: []RunV1{{
			Head:     [2]int{0, 0},
			Items:    []ItemV1{{ID: 7, Offset: 0.5}, {ID: 6, Offset: 1.25}},
			HeadKind: "MERGER",
			Queued:   []uint64{8},
			Sources:  []SourceV1{{From: [2]int{4, 0}, Items: []uint64{9, 10}}},
			Turn:     1,
			Split:    &SplitV1{Items: []uint64{5}, Last: 1, Cursor: 1, Credited: 1},
		}},
		Counters: CountersV1{NextItem: 10, Produced: 10, Delivered: 4},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := Path(filepath.Join(t.TempDir(), "snapshots"), 1200)
	want := sample()
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("roundtrip mismatch:\n got=%+v\nwant=%+v", got, want)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h != want.Header {
		t.Fatalf("header=%+v want %+v", h, want.Header)
	}
}

func TestReadRejectsOtherVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	snap := sample()
	snap.Header.Version = Version + 1
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

func TestPath(t *testing.T) {
	if got := Path("snaps", 42); got != filepath.Join("snaps", "42.snap.zst") {
		t.Fatalf("path=%q", got)
	}
}
