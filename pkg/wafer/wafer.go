// Package wafer models a wafer map: the finite set of die grid positions a
// sampling strategy selects from.
package wafer

import "fmt"

// Die is one chip-sized region on the wafer, indexed by its logical grid
// position. Grid coordinates are row/column indices, not micrometers.
type Die struct {
	X         int  `json:"x"`
	Y         int  `json:"y"`
	Available bool `json:"available"`
}

// Coord identifies a die position.
type Coord struct {
	X int
	Y int
}

// Map is a finite set of dies uniquely keyed by grid position.
type Map struct {
	dies  map[Coord]Die
	order []Coord

	WaferSize   string `json:"waferSize,omitempty"`
	ProductType string `json:"productType,omitempty"`
	LotID       string `json:"lotId,omitempty"`
}

// NewMap returns an empty wafer map.
func NewMap() *Map {
	return &Map{dies: make(map[Coord]Die)}
}

// Add inserts a die. Adding a second die at an occupied position is an
// error; positions are unique.
func (m *Map) Add(d Die) error {
	c := Coord{X: d.X, Y: d.Y}
	if _, ok := m.dies[c]; ok {
		return fmt.Errorf("wafer: duplicate die at (%d, %d)", d.X, d.Y)
	}
	m.dies[c] = d
	m.order = append(m.order, c)
	return nil
}

// Get returns the die at (x, y), if present.
func (m *Map) Get(x, y int) (Die, bool) {
	d, ok := m.dies[Coord{X: x, Y: y}]
	return d, ok
}

// Len returns the total number of dies.
func (m *Map) Len() int { return len(m.dies) }

// Dies returns all dies in insertion order.
func (m *Map) Dies() []Die {
	out := make([]Die, 0, len(m.order))
	for _, c := range m.order {
		out = append(out, m.dies[c])
	}
	return out
}

// AvailableDies returns the dies with Available set, in insertion order.
func (m *Map) AvailableDies() []Die {
	var out []Die
	for _, c := range m.order {
		if d := m.dies[c]; d.Available {
			out = append(out, d)
		}
	}
	return out
}

// GridBounds returns the min/max grid coordinates over all dies. ok is
// false for an empty map.
func (m *Map) GridBounds() (minX, minY, maxX, maxY int, ok bool) {
	if len(m.order) == 0 {
		return 0, 0, 0, 0, false
	}
	first := true
	for _, c := range m.order {
		if first {
			minX, maxX, minY, maxY = c.X, c.X, c.Y, c.Y
			first = false
			continue
		}
		if c.X < minX {
			minX = c.X
		}
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y < minY {
			minY = c.Y
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}
	return minX, minY, maxX, maxY, true
}

// FromDies builds a map from a die list, rejecting duplicate positions.
func FromDies(dies []Die) (*Map, error) {
	m := NewMap()
	for _, d := range dies {
		if err := m.Add(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}
