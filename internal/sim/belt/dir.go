package belt

import (
	"fmt"
	"math"
	"strings"
)

// Direction is the facing of a belt tile. Values run clockwise.
type Direction uint8

const (
	Up Direction = iota
	Right
	Down
	Left
)

func (d Direction) Vec() Cell {
	switch d {
	case Up:
		return Cell{X: 0, Y: 1}
	case Right:
		return Cell{X: 1, Y: 0}
	case Down:
		return Cell{X: 0, Y: -1}
	case Left:
		return Cell{X: -1, Y: 0}
	}
	return Cell{}
}

func (d Direction) Opposite() Direction { return (d + 2) % 4 }
func (d Direction) Right() Direction    { return (d + 1) % 4 }
func (d Direction) Left() Direction     { return (d + 3) % 4 }

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Right:
		return "RIGHT"
	case Down:
		return "DOWN"
	case Left:
		return "LEFT"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

func (d Direction) Valid() bool { return d <= Left }

// ParseDirection accepts full names or single letters, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "U", "N", "NORTH":
		return Up, nil
	case "RIGHT", "R", "E", "EAST":
		return Right, nil
	case "DOWN", "D", "S", "SOUTH":
		return Down, nil
	case "LEFT", "L", "W", "WEST":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Cell is an integer grid coordinate.
type Cell struct {
	X int
	Y int
}

func (c Cell) Add(o Cell) Cell       { return Cell{X: c.X + o.X, Y: c.Y + o.Y} }
func (c Cell) Step(d Direction) Cell { return c.Add(d.Vec()) }
func (c Cell) ToArray() [2]int       { return [2]int{c.X, c.Y} }
func CellFromArray(a [2]int) Cell    { return Cell{X: a[0], Y: a[1]} }
func (c Cell) String() string        { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Less orders cells by X then Y.
func (c Cell) Less(o Cell) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// Vec2 is a world-space point or direction.
type Vec2 struct {
	X float64
	Y float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) ToArray() [2]float64  { return [2]float64{v.X, v.Y} }

func (v Vec2) Norm() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Y: v.Y / l}
}

// CellToWorld maps a grid cell to its world-space position.
type CellToWorld func(Cell) Vec2

// CellCenter places cell centres at unit spacing.
func CellCenter(c Cell) Vec2 {
	return Vec2{X: float64(c.X) + 0.5, Y: float64(c.Y) + 0.5}
}
