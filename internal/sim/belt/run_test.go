package belt

import (
	"math"
	"math/rand"
	"testing"
)

func straightRun(n int, speed, spacing float64) *Run {
	cells := make([]Cell, n)
	for i := range cells {
		cells[i] = Cell{X: i}
	}
	return NewRun(cells, Right, nil, speed, spacing)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRun_Geometry(t *testing.T) {
	r := straightRun(5, 2, 1)
	if !near(r.TotalLength(), 4) {
		t.Fatalf("total=%v want 4", r.TotalLength())
	}
	if len(r.Points()) != 5 || len(r.SegmentLengths()) != 4 {
		t.Fatalf("points=%d segs=%d", len(r.Points()), len(r.SegmentLengths()))
	}
	p, fwd := r.PositionAt(1.5)
	if !near(p.X, 2.0) || !near(p.Y, 0.5) {
		t.Fatalf("pos=%v", p)
	}
	if fwd != (Vec2{X: 1}) {
		t.Fatalf("fwd=%v", fwd)
	}
	// Clamped at both ends.
	if p, _ := r.PositionAt(-3); !near(p.X, 0.5) {
		t.Fatalf("clamped head pos=%v", p)
	}
	if p, _ := r.PositionAt(99); !near(p.X, 4.5) {
		t.Fatalf("clamped tail pos=%v", p)
	}
}

func TestRun_SingleCellUsesTailDir(t *testing.T) {
	r := NewRun([]Cell{{X: 2, Y: 2}}, Up, nil, 1, 1)
	if r.TotalLength() != 0 {
		t.Fatalf("total=%v", r.TotalLength())
	}
	if r.MinSpacing() != 0 {
		t.Fatalf("minSpacing=%v want clamp to 0", r.MinSpacing())
	}
	_, fwd := r.PositionAt(0)
	if fwd != (Vec2{Y: 1}) {
		t.Fatalf("fwd=%v want up", fwd)
	}
}

func TestRun_TurnForward(t *testing.T) {
	r := NewRun([]Cell{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}, Up, nil, 1, 0.5)
	_, fwd := r.PositionAt(0.5)
	if fwd != (Vec2{X: 1}) {
		t.Fatalf("first segment fwd=%v", fwd)
	}
	_, fwd = r.PositionAt(1.5)
	if fwd != (Vec2{Y: 1}) {
		t.Fatalf("second segment fwd=%v", fwd)
	}
}

func TestRun_EnqueueRespectsSpacing(t *testing.T) {
	r := straightRun(5, 2, 1)
	if !r.TryEnqueue(1) {
		t.Fatalf("empty run should admit")
	}
	if r.TryEnqueue(2) {
		t.Fatalf("head occupied at 0 should reject")
	}
	r.Advance(0.25, false, nil) // 0.5
	if r.CanEnqueue() {
		t.Fatalf("offset 0.5 < spacing 1 should reject")
	}
	r.Advance(0.25, false, nil) // 1.0
	if !r.TryEnqueue(2) {
		t.Fatalf("offset 1.0 == spacing should admit")
	}
	if got := r.Items(); got[0].ID != 2 || got[1].ID != 1 {
		t.Fatalf("order=%v", got)
	}
}

func TestRun_ProduceAdvanceEject(t *testing.T) {
	r := straightRun(5, 2, 1)
	var out []Item

	if !r.TryEnqueue(1) {
		t.Fatalf("enqueue 1")
	}
	out = r.Advance(1, false, out)
	if len(out) != 0 || !near(r.Items()[0].Offset, 2) {
		t.Fatalf("tick1 out=%v items=%v", out, r.Items())
	}

	if !r.TryEnqueue(2) {
		t.Fatalf("enqueue 2")
	}
	out = r.Advance(1, false, out)
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("tick2 ejected=%v want item 1", out)
	}
	if r.Len() != 1 || r.Items()[0].ID != 2 || !near(r.Items()[0].Offset, 2) {
		t.Fatalf("tick2 items=%v want item 2 at 2", r.Items())
	}
}

func TestRun_BlockedTailStacksItems(t *testing.T) {
	r := straightRun(5, 2, 1)
	for id := ItemID(1); id <= 3; id++ {
		if !r.TryEnqueue(id) {
			t.Fatalf("enqueue %d", id)
		}
		r.Advance(0.5, true, nil)
	}
	for i := 0; i < 10; i++ {
		if out := r.Advance(1, true, nil); len(out) != 0 {
			t.Fatalf("blocked run ejected %v", out)
		}
	}
	items := r.Items()
	want := []float64{2, 3, 4}
	for i, it := range items {
		if !near(it.Offset, want[i]) {
			t.Fatalf("items=%v want offsets %v", items, want)
		}
	}
	out := r.Advance(0.01, false, nil)
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("unblocked ejected=%v", out)
	}
}

func TestRun_EjectsSeveralTailFirst(t *testing.T) {
	r := straightRun(3, 1, 0.5)
	r.TryEnqueue(1)
	r.Advance(0.5, false, nil)
	r.TryEnqueue(2)
	out := r.Advance(10, false, nil)
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 2 {
		t.Fatalf("ejected=%v want [1 2]", out)
	}
	if r.Len() != 0 {
		t.Fatalf("left=%v", r.Items())
	}
}

func TestRun_RandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := straightRun(9, 1.5, 0.75)
	next := ItemID(1)
	seen := map[ItemID]bool{}
	for tick := 0; tick < 500; tick++ {
		if rng.Intn(2) == 0 && r.TryEnqueue(next) {
			next++
		}
		out := r.Advance(rng.Float64()*0.6, rng.Intn(5) == 0, nil)
		for _, it := range out {
			if seen[it.ID] {
				t.Fatalf("item %d ejected twice", it.ID)
			}
			seen[it.ID] = true
		}
		items := r.Items()
		for i, it := range items {
			if it.Offset < -epsilon || it.Offset > r.TotalLength()+epsilon {
				t.Fatalf("tick %d: item %v out of range", tick, it)
			}
			if i > 0 && items[i].Offset-items[i-1].Offset < r.MinSpacing()-epsilon {
				t.Fatalf("tick %d: spacing violated %v", tick, items)
			}
			if i > 0 && items[i].ID >= items[i-1].ID {
				t.Fatalf("tick %d: order changed %v", tick, items)
			}
		}
	}
	if got := uint64(len(seen)) + uint64(r.Len()); got != uint64(next-1) {
		t.Fatalf("ejected+onrun=%d produced=%d", got, next-1)
	}
}

func TestRun_InjectClampsAndDrops(t *testing.T) {
	r := straightRun(3, 1, 1) // total 2
	dropped := r.Inject([]Item{{ID: 1, Offset: 5}, {ID: 2, Offset: 5}, {ID: 3, Offset: 5}, {ID: 4, Offset: 5}})
	if r.Len() != 3 {
		t.Fatalf("kept=%v", r.Items())
	}
	if len(dropped) != 1 {
		t.Fatalf("dropped=%v", dropped)
	}
	items := r.Items()
	want := []float64{0, 1, 2}
	for i, it := range items {
		if !near(it.Offset, want[i]) {
			t.Fatalf("items=%v", items)
		}
	}
}

func TestRun_RebuildKeepsConfiguredSpacing(t *testing.T) {
	r := NewRun([]Cell{{}}, Right, nil, 1, 1)
	if r.MinSpacing() != 0 {
		t.Fatalf("single cell spacing=%v", r.MinSpacing())
	}
	r.BuildFromCells([]Cell{{X: 0}, {X: 1}, {X: 2}}, Right, nil)
	if r.MinSpacing() != 1 {
		t.Fatalf("rebuilt spacing=%v want 1", r.MinSpacing())
	}
}
