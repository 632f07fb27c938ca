package belt

import (
	"sort"

	"github.com/zyedidia/generic/mapset"
)

// Graph partitions the tile index into runs. Slices are parallel and indexed by
// run id; ids are only meaningful for the graph that produced them.
type Graph struct {
	Runs      [][]Cell
	HeadCells []Cell
	TailCells []Cell
	TailDirs  []Direction

	// Tunnel ids of the head and tail tiles, 0 when none.
	HeadTunnels []int
	TailTunnels []int
	Incoming    [][]int
	Outgoing    [][]int
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Runs)
}

// RunAtHead returns the run whose head is c.
func (g *Graph) RunAtHead(c Cell) (int, bool) {
	if g == nil {
		return 0, false
	}
	for i, h := range g.HeadCells {
		if h == c {
			return i, true
		}
	}
	return 0, false
}

// listPool is a free list of scratch slices owned by a single Builder.
type listPool[T any] struct {
	free [][]T
}

func (p *listPool[T]) get() []T {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	return s[:0]
}

func (p *listPool[T]) put(s []T) {
	if cap(s) == 0 {
		return
	}
	p.free = append(p.free, s[:0])
}

// Builder turns a tile index into a Graph. Scratch state is reused across
// Build calls; a Builder is not safe for concurrent use.
type Builder struct {
	indeg     map[Cell]int
	splitFed  map[Cell]bool
	headsAt   map[Cell][]int
	cellLists listPool[Cell]
	intLists  listPool[int]
}

func NewBuilder() *Builder {
	return &Builder{
		indeg:    map[Cell]int{},
		splitFed: map[Cell]bool{},
		headsAt:  map[Cell][]int{},
	}
}

// Build computes the run partition and run adjacency for ix.
func (b *Builder) Build(ix *TileIndex) *Graph {
	g := &Graph{}
	if ix == nil || ix.Len() == 0 {
		return g
	}
	tiles := ix.Sorted()

	clear(b.indeg)
	clear(b.splitFed)
	for _, t := range tiles {
		for _, out := range ix.Outputs(t) {
			if out == t.Cell {
				continue
			}
			if _, ok := ix.Get(out); !ok {
				continue
			}
			b.indeg[out]++
			if t.Splitter {
				b.splitFed[out] = true
			}
		}
	}
	junction := func(c Cell) bool {
		return b.indeg[c] != 1 || b.splitFed[c]
	}

	starts := b.cellLists.get()
	for _, t := range tiles {
		if junction(t.Cell) {
			starts = append(starts, t.Cell)
		}
	}

	used := mapset.New[Cell]()
	visited := mapset.New[Cell]()
	grow := func(start Cell) {
		cells := []Cell{start}
		used.Put(start)
		visited.Put(start)
		cur := start
		for {
			t, _ := ix.Get(cur)
			if t.Splitter {
				break
			}
			next := cur.Step(t.Dir)
			if _, ok := ix.Get(next); !ok {
				break
			}
			if visited.Has(next) {
				break
			}
			if junction(next) {
				// Junction cells stay free so a run can start there.
				cells = append(cells, next)
				break
			}
			cells = append(cells, next)
			used.Put(next)
			visited.Put(next)
			cur = next
		}
		for _, c := range cells {
			visited.Remove(c)
		}
		tail := cells[len(cells)-1]
		ht, _ := ix.Get(start)
		tt, _ := ix.Get(tail)
		g.Runs = append(g.Runs, cells)
		g.HeadCells = append(g.HeadCells, start)
		g.TailCells = append(g.TailCells, tail)
		g.TailDirs = append(g.TailDirs, tt.Dir)
		g.HeadTunnels = append(g.HeadTunnels, ht.TunnelID)
		g.TailTunnels = append(g.TailTunnels, tt.TunnelID)
	}

	for _, c := range starts {
		if used.Has(c) {
			continue
		}
		grow(c)
	}
	// Cycles without any junction are left over; break each at its lowest cell.
	for _, t := range tiles {
		if used.Has(t.Cell) {
			continue
		}
		grow(t.Cell)
	}
	b.cellLists.put(starts)

	b.link(ix, g)
	return g
}

func (b *Builder) link(ix *TileIndex, g *Graph) {
	n := len(g.Runs)
	g.Incoming = make([][]int, n)
	g.Outgoing = make([][]int, n)

	for k, v := range b.headsAt {
		b.intLists.put(v)
		delete(b.headsAt, k)
	}
	for i, h := range g.HeadCells {
		l, ok := b.headsAt[h]
		if !ok {
			l = b.intLists.get()
		}
		b.headsAt[h] = append(l, i)
	}

	for i, tail := range g.TailCells {
		targets := b.intLists.get()
		for _, j := range b.headsAt[tail] {
			if j != i {
				targets = append(targets, j)
			}
		}
		if len(targets) == 0 {
			if t, ok := ix.Get(tail); ok {
				for _, out := range ix.Outputs(t) {
					targets = append(targets, b.headsAt[out]...)
				}
			}
		}
		sort.Ints(targets)
		var outs []int
		for k, j := range targets {
			if k > 0 && targets[k-1] == j {
				continue
			}
			outs = append(outs, j)
			g.Incoming[j] = append(g.Incoming[j], i)
		}
		g.Outgoing[i] = outs
		b.intLists.put(targets)
	}
}
