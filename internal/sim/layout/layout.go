// Package layout loads factory floor descriptions: belt tiles, item producers,
// sinks and splitter weights.
package layout

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"beltsim.ai/internal/sim/belt"
)

//go:embed layout.schema.json
var schemaJSON string

type Layout struct {
	Tiles     []Tile     `yaml:"tiles" json:"tiles,omitempty"`
	Producers []Producer `yaml:"producers" json:"producers,omitempty"`
	Sinks     [][2]int   `yaml:"sinks" json:"sinks,omitempty"`
	Splitters []Weights  `yaml:"splitters" json:"splitters,omitempty"`
}

// Tile places Repeat tiles (default 1) starting at Pos and stepping along Dir.
type Tile struct {
	Pos      [2]int `yaml:"pos" json:"pos"`
	Dir      string `yaml:"dir" json:"dir"`
	Repeat   int    `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Tunnel   int    `yaml:"tunnel,omitempty" json:"tunnel,omitempty"`
	Splitter bool   `yaml:"splitter,omitempty" json:"splitter,omitempty"`
}

// Producer emits one item at the run head Pos every EveryTicks ticks, starting
// at tick Offset. Limit 0 means unbounded.
type Producer struct {
	Pos        [2]int `yaml:"pos" json:"pos"`
	EveryTicks int    `yaml:"every_ticks" json:"every_ticks"`
	Offset     int    `yaml:"offset,omitempty" json:"offset,omitempty"`
	Limit      uint64 `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Weights configures the splitter whose feeding run ends at Pos.
type Weights struct {
	Pos     [2]int         `yaml:"pos" json:"pos"`
	Outputs []OutputWeight `yaml:"outputs" json:"outputs"`
}

type OutputWeight struct {
	Pos    [2]int `yaml:"pos" json:"pos"`
	Weight int    `yaml:"weight" json:"weight"`
}

var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("layout.schema.json", schemaJSON)
})

// Load reads, validates and decodes a layout file.
func Load(path string) (Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	l, err := Parse(raw)
	if err != nil {
		return l, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse validates raw YAML (or JSON) against the layout schema and decodes it.
func Parse(raw []byte) (Layout, error) {
	var l Layout
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return l, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return l, nil
	}
	// Round-trip through JSON so the validator sees JSON value types.
	b, err := json.Marshal(doc)
	if err != nil {
		return l, fmt.Errorf("layout: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return l, fmt.Errorf("layout: %w", err)
	}
	s, err := schema()
	if err != nil {
		return l, fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return l, fmt.Errorf("schema: %w", err)
	}
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("yaml: %w", err)
	}
	if _, err := l.TileIndex(); err != nil {
		return l, err
	}
	return l, nil
}

// TileIndex expands the tile list. Overlapping tiles are an error.
func (l Layout) TileIndex() (*belt.TileIndex, error) {
	ix := belt.NewTileIndex()
	for i, t := range l.Tiles {
		d, err := belt.ParseDirection(t.Dir)
		if err != nil {
			return nil, fmt.Errorf("tiles[%d]: %w", i, err)
		}
		n := t.Repeat
		if n <= 0 {
			n = 1
		}
		c := belt.CellFromArray(t.Pos)
		for k := 0; k < n; k++ {
			if _, dup := ix.Get(c); dup {
				return nil, fmt.Errorf("tiles[%d]: cell %v placed twice", i, c)
			}
			ix.Place(belt.Tile{Cell: c, Dir: d, TunnelID: t.Tunnel, Splitter: t.Splitter})
			c = c.Step(d)
		}
	}
	return ix, nil
}

// SinkCells returns the configured sink cells.
func (l Layout) SinkCells() []belt.Cell {
	out := make([]belt.Cell, 0, len(l.Sinks))
	for _, s := range l.Sinks {
		out = append(out, belt.CellFromArray(s))
	}
	return out
}

// SplitterWeights maps a splitter feed tail cell to output head weights.
func (l Layout) SplitterWeights() map[belt.Cell]map[belt.Cell]int {
	out := map[belt.Cell]map[belt.Cell]int{}
	for _, w := range l.Splitters {
		m := map[belt.Cell]int{}
		for _, o := range w.Outputs {
			m[belt.CellFromArray(o.Pos)] = o.Weight
		}
		out[belt.CellFromArray(w.Pos)] = m
	}
	return out
}
