package factory

import (
	"testing"

	"beltsim.ai/internal/sim/layout"
)

// lineLayout is a five-tile line fed at (0,0) and drained at (4,0).
func lineLayout() layout.Layout {
	return layout.Layout{
		Tiles:     []layout.Tile{{Pos: [2]int{0, 0}, Dir: "right", Repeat: 5}},
		Producers: []layout.Producer{{Pos: [2]int{0, 0}, EveryTicks: 5, Limit: 10}},
		Sinks:     [][2]int{{4, 0}},
	}
}

// plantLayout merges two feeders into a trunk that ends in a weighted
// splitter with three sinked outputs.
func plantLayout() layout.Layout {
	return layout.Layout{
		Tiles: []layout.Tile{
			{Pos: [2]int{0, 0}, Dir: "right", Repeat: 2},
			{Pos: [2]int{4, 0}, Dir: "left", Repeat: 2},
			{Pos: [2]int{2, 0}, Dir: "up", Repeat: 3},
			{Pos: [2]int{2, 3}, Dir: "up", Splitter: true},
			{Pos: [2]int{2, 4}, Dir: "up", Repeat: 2},
			{Pos: [2]int{3, 3}, Dir: "right", Repeat: 2},
			{Pos: [2]int{1, 3}, Dir: "left", Repeat: 2},
		},
		Producers: []layout.Producer{
			{Pos: [2]int{0, 0}, EveryTicks: 2},
			{Pos: [2]int{4, 0}, EveryTicks: 3, Offset: 1},
		},
		Sinks: [][2]int{{2, 5}, {4, 3}, {0, 3}},
		Splitters: []layout.Weights{{
			Pos: [2]int{2, 3},
			Outputs: []layout.OutputWeight{
				{Pos: [2]int{2, 4}, Weight: 2},
				{Pos: [2]int{3, 3}, Weight: 1},
				{Pos: [2]int{1, 3}, Weight: 1},
			},
		}},
	}
}

func testConfig() Config {
	return Config{ID: "test", TickRateHz: 10, Speed: 2, MinSpacing: 0.25, AutoWire: true}
}

func newTestFactory(t *testing.T, l layout.Layout) *Factory {
	t.Helper()
	f, err := New(testConfig(), l)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	return f
}

// requestsAt is a fixed edit script used by determinism tests.
func requestsAt(tick uint64) []Request {
	switch tick {
	case 7:
		return []Request{{Op: OpProduce, Pos: [2]int{2, 0}}}
	case 20:
		return []Request{{Op: "REMOVE", Pos: [2]int{2, 5}}}
	case 35:
		return []Request{
			{Op: "PLACE", Pos: [2]int{2, 5}, Dir: "up"},
			{Op: OpProduce, Pos: [2]int{0, 0}},
		}
	case 50:
		return []Request{{Op: "PLACE", Pos: [2]int{1, 3}, Dir: "down"}}
	}
	return nil
}

func checkConserved(t *testing.T, f *Factory) {
	t.Helper()
	st := f.Coordinator().Stats()
	accounted := uint64(st.OnRuns+st.Queued) + st.Delivered + st.Lost + st.Dropped
	if st.Produced != accounted {
		t.Fatalf("produced=%d accounted=%d (%+v)", st.Produced, accounted, st)
	}
}

type memTickLogger struct{ entries []TickLogEntry }

func (m *memTickLogger) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memAuditLogger struct{ entries []AuditEntry }

func (m *memAuditLogger) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}
