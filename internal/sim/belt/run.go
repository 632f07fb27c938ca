package belt

import "slices"

// ItemID identifies an item for its whole lifetime.
type ItemID uint64

// Item is an item travelling along a run. Offset is measured from the head.
type Item struct {
	ID     ItemID
	Offset float64
}

const epsilon = 1e-6

// Run is a polyline belt segment. Items are kept in ascending offset order:
// index 0 is nearest the head, the last index nearest the tail.
type Run struct {
	cells      []Cell
	points     []Vec2
	segLens    []float64
	total      float64
	tailFwd    Vec2
	speed      float64
	spacing    float64
	minSpacing float64

	items []Item
}

// NewRun builds run geometry from a cell sequence. tailDir gives the forward
// direction used for single-cell runs. A nil cellToWorld uses CellCenter.
func NewRun(cells []Cell, tailDir Direction, cellToWorld CellToWorld, speed, minSpacing float64) *Run {
	r := &Run{speed: speed, spacing: minSpacing}
	r.BuildFromCells(cells, tailDir, cellToWorld)
	return r
}

// BuildFromCells replaces the run geometry. Items are left untouched.
func (r *Run) BuildFromCells(cells []Cell, tailDir Direction, cellToWorld CellToWorld) {
	if cellToWorld == nil {
		cellToWorld = CellCenter
	}
	r.cells = append(r.cells[:0], cells...)
	r.points = r.points[:0]
	r.segLens = r.segLens[:0]
	r.total = 0
	for i, c := range cells {
		p := cellToWorld(c)
		r.points = append(r.points, p)
		if i > 0 {
			l := p.Sub(r.points[i-1]).Len()
			r.segLens = append(r.segLens, l)
			r.total += l
		}
	}
	dv := tailDir.Vec()
	r.tailFwd = Vec2{X: float64(dv.X), Y: float64(dv.Y)}
	if n := len(r.points); n >= 2 {
		if d := r.points[n-1].Sub(r.points[n-2]).Norm(); d != (Vec2{}) {
			r.tailFwd = d
		}
	}
	r.minSpacing = r.spacing
	if r.minSpacing > r.total {
		r.minSpacing = r.total
	}
	if r.minSpacing < 0 {
		r.minSpacing = 0
	}
}

func (r *Run) Cells() []Cell             { return r.cells }
func (r *Run) Points() []Vec2            { return r.points }
func (r *Run) SegmentLengths() []float64 { return r.segLens }
func (r *Run) TotalLength() float64      { return r.total }
func (r *Run) Speed() float64            { return r.speed }
func (r *Run) MinSpacing() float64       { return r.minSpacing }
func (r *Run) Len() int                  { return len(r.items) }

// Items returns the run's items, head first. Callers must not modify it.
func (r *Run) Items() []Item { return r.items }

func (r *Run) Head() Cell {
	if len(r.cells) == 0 {
		return Cell{}
	}
	return r.cells[0]
}

func (r *Run) Tail() Cell {
	if len(r.cells) == 0 {
		return Cell{}
	}
	return r.cells[len(r.cells)-1]
}

// PositionAt returns the world position and unit forward vector at offset,
// clamped to the run.
func (r *Run) PositionAt(offset float64) (Vec2, Vec2) {
	if len(r.points) == 0 {
		return Vec2{}, r.tailFwd
	}
	maxOff := r.total
	if maxOff < epsilon {
		maxOff = epsilon
	}
	if offset < 0 {
		offset = 0
	}
	if offset > maxOff {
		offset = maxOff
	}
	acc := 0.0
	for i, l := range r.segLens {
		if l <= 0 {
			continue
		}
		if offset <= acc+l {
			a, b := r.points[i], r.points[i+1]
			t := (offset - acc) / l
			return a.Add(b.Sub(a).Scale(t)), b.Sub(a).Norm()
		}
		acc += l
	}
	return r.points[len(r.points)-1], r.tailFwd
}

// CanEnqueue reports whether TryEnqueue would admit an item now.
func (r *Run) CanEnqueue() bool {
	return len(r.items) == 0 || r.items[0].Offset >= r.minSpacing
}

// TryEnqueue admits id at offset 0 when the head has room.
func (r *Run) TryEnqueue(id ItemID) bool {
	if !r.CanEnqueue() {
		return false
	}
	r.items = slices.Insert(r.items, 0, Item{ID: id})
	return true
}

// Advance moves every item forward by speed*dt, keeps spacing from the tail
// back towards the head and appends ejected items to out in tail-first order.
func (r *Run) Advance(dt float64, tailBlocked bool, out []Item) []Item {
	n := len(r.items)
	if n == 0 {
		return out
	}
	step := r.speed * dt
	for i := range r.items {
		r.items[i].Offset += step
	}
	if tailBlocked && r.items[n-1].Offset > r.total {
		r.items[n-1].Offset = r.total
	}
	for i := n - 2; i >= 0; i-- {
		if limit := r.items[i+1].Offset - r.minSpacing; r.items[i].Offset > limit {
			r.items[i].Offset = limit
		}
	}
	if tailBlocked {
		return out
	}
	k := n
	for k > 0 && r.items[k-1].Offset >= r.total {
		out = append(out, r.items[k-1])
		k--
	}
	r.items = r.items[:k]
	return out
}

// Inject places items onto the run after a rebuild. Offsets are clamped to
// the run and spacing is restored from the tail; items pushed behind the head
// are returned.
func (r *Run) Inject(items []Item) (dropped []Item) {
	if len(items) == 0 {
		return nil
	}
	all := append(slices.Clone(r.items), items...)
	for i := range all {
		if all[i].Offset > r.total {
			all[i].Offset = r.total
		}
		if all[i].Offset < 0 {
			all[i].Offset = 0
		}
	}
	slices.SortStableFunc(all, func(a, b Item) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	for i := len(all) - 2; i >= 0; i-- {
		if limit := all[i+1].Offset - r.minSpacing; all[i].Offset > limit {
			all[i].Offset = limit
		}
	}
	k := 0
	for k < len(all) && all[k].Offset < -epsilon {
		dropped = append(dropped, all[k])
		k++
	}
	r.items = all[k:]
	for i := range r.items {
		if r.items[i].Offset < 0 {
			r.items[i].Offset = 0
		}
	}
	return dropped
}

// Clear removes and returns all items.
func (r *Run) Clear() []Item {
	out := r.items
	r.items = nil
	return out
}
