package belt

import "sort"

// Tile is a placed belt piece. TunnelID 0 means no tunnel.
type Tile struct {
	Cell     Cell
	Dir      Direction
	TunnelID int
	Splitter bool
}

// TileIndex holds at most one tile per cell.
type TileIndex struct {
	tiles   map[Cell]Tile
	version uint64
}

func NewTileIndex() *TileIndex {
	return &TileIndex{tiles: map[Cell]Tile{}}
}

// Place inserts or replaces the tile at t.Cell. Placing a tile identical to
// the current one changes nothing and reports false.
func (ix *TileIndex) Place(t Tile) bool {
	if cur, ok := ix.tiles[t.Cell]; ok && cur == t {
		return false
	}
	ix.tiles[t.Cell] = t
	ix.version++
	return true
}

func (ix *TileIndex) Remove(c Cell) bool {
	if _, ok := ix.tiles[c]; !ok {
		return false
	}
	delete(ix.tiles, c)
	ix.version++
	return true
}

func (ix *TileIndex) Get(c Cell) (Tile, bool) {
	t, ok := ix.tiles[c]
	return t, ok
}

func (ix *TileIndex) Len() int { return len(ix.tiles) }

// Version increases on every edit that changes the tile set.
func (ix *TileIndex) Version() uint64 { return ix.version }

// Sorted returns all tiles ordered by cell.
func (ix *TileIndex) Sorted() []Tile {
	if len(ix.tiles) == 0 {
		return nil
	}
	out := make([]Tile, 0, len(ix.tiles))
	for _, t := range ix.tiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell.Less(out[j].Cell) })
	return out
}

// Outputs lists the cells a tile hands items to. A plain tile feeds the cell
// in front of it; a splitter also feeds its right and left neighbours when they
// hold a tile that does not face back into the splitter.
func (ix *TileIndex) Outputs(t Tile) []Cell {
	fwd := t.Cell.Step(t.Dir)
	if !t.Splitter {
		return []Cell{fwd}
	}
	out := make([]Cell, 0, 3)
	for _, d := range []Direction{t.Dir, t.Dir.Right(), t.Dir.Left()} {
		c := t.Cell.Step(d)
		n, ok := ix.tiles[c]
		if !ok {
			if d == t.Dir {
				out = append(out, c)
			}
			continue
		}
		if n.Dir == d.Opposite() {
			continue
		}
		out = append(out, c)
	}
	return out
}
