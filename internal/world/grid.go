// Package world provides the town the agents live in: a hex grid, the
// locations placed on it and the rules for choosing where to go.
package world

import (
	"cmp"
	"slices"
)

// HexCoord is an axial hex coordinate. The cube coordinate s is -q-r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

var neighborOffsets = [6]HexCoord{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}

// Neighbors returns the six adjacent coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var out [6]HexCoord
	for i, d := range neighborOffsets {
		out[i] = HexCoord{Q: h.Q + d.Q, R: h.R + d.R}
	}
	return out
}

// Distance is the number of hex steps between a and b.
func Distance(a, b HexCoord) int {
	return max(abs(a.Q-b.Q), abs(a.R-b.R), abs(a.S()-b.S()))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Hex is one block of the town.
type Hex struct {
	Coord     HexCoord     `json:"coord"`
	Density   float64      `json:"density"` // 0 open land, 1 centre
	Locations []LocationID `json:"locations,omitempty"`
}

// Map is the town grid: every hex within Radius steps of the origin.
type Map struct {
	Hexes  map[HexCoord]*Hex `json:"-"`
	Radius int               `json:"radius"`
}

// NewMap returns an empty grid of the given radius.
func NewMap(radius int) *Map {
	return &Map{Hexes: make(map[HexCoord]*Hex), Radius: radius}
}

// Get returns the hex at c, or nil.
func (m *Map) Get(c HexCoord) *Hex { return m.Hexes[c] }

// Set stores h under its coordinate.
func (m *Map) Set(h *Hex) { m.Hexes[h.Coord] = h }

// InBounds reports whether c lies on the grid.
func (m *Map) InBounds(c HexCoord) bool {
	return Distance(c, HexCoord{}) <= m.Radius
}

// ByDensity returns every hex, densest first. Ties break on coordinate so
// the order does not depend on map iteration.
func (m *Map) ByDensity() []*Hex {
	out := make([]*Hex, 0, len(m.Hexes))
	for _, h := range m.Hexes {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Hex) int {
		if c := cmp.Compare(b.Density, a.Density); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Coord.Q, b.Coord.Q); c != 0 {
			return c
		}
		return cmp.Compare(a.Coord.R, b.Coord.R)
	})
	return out
}
