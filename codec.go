package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Sign dimensions, matching the physical letterboard.
const (
	NumRows    = 4
	NumColumns = 17
)

const (
	segmentSeparator = ";"
	keySeparator     = ", "
)

var (
	ErrSegmentMismatch = errors.New("coordinates and characters have different segment counts")
	ErrInvalidCellKey  = errors.New("invalid cell key")
)

// CellIndex identifies one cell of the sign.
type CellIndex struct {
	Row int
	Col int
}

// Key renders the index as it is stored in the coordinates string ("row, col").
func (c CellIndex) Key() string {
	return strconv.Itoa(c.Row) + keySeparator + strconv.Itoa(c.Col)
}

// Valid reports whether the index falls inside the sign.
func (c CellIndex) Valid() bool {
	return c.Row >= 0 && c.Row < NumRows && c.Col >= 0 && c.Col < NumColumns
}

// ParseCellKey parses "row, col". The space after the comma is optional.
func ParseCellKey(key string) (CellIndex, error) {
	r, c, ok := strings.Cut(key, ",")
	if !ok {
		return CellIndex{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, key)
	}
	row, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return CellIndex{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, key)
	}
	col, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return CellIndex{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, key)
	}
	return CellIndex{Row: row, Col: col}, nil
}

// Grid maps a cell key to the character shown in it. Unset cells are absent.
type Grid map[string]string

// At returns the character at idx, or "" when the cell is unset.
func (g Grid) At(idx CellIndex) string {
	return g[idx.Key()]
}

// Clone returns an independent copy. A nil grid clones to an empty one.
func (g Grid) Clone() Grid {
	if g == nil {
		return Grid{}
	}
	return maps.Clone(g)
}

// Equal compares by value. nil and empty grids are equal.
func (g Grid) Equal(other Grid) bool {
	return maps.Equal(g, other)
}

// Rows lays the grid out as NumRows x NumColumns, "" for unset cells.
// Keys are parsed, so "0,1" and "0, 1" land on the same cell; keys outside
// the sign are not shown.
func (g Grid) Rows() [][]string {
	rows := make([][]string, NumRows)
	for r := range rows {
		rows[r] = make([]string, NumColumns)
	}
	for k, v := range g {
		idx, err := ParseCellKey(k)
		if err != nil || !idx.Valid() {
			continue
		}
		rows[idx.Row][idx.Col] = v
	}
	return rows
}

// EncodedSign is the wire form of a Grid: two parallel ";"-delimited strings.
type EncodedSign struct {
	Coordinates string `json:"coordinates"`
	Characters  string `json:"characters"`
}

// Encode serializes g. Entries are emitted in row-major order; keys that do
// not parse as a cell index sort after the valid ones, lexically.
func Encode(g Grid) EncodedSign {
	keys := slices.Collect(maps.Keys(g))
	slices.SortFunc(keys, compareCellKeys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = g[k]
	}
	return EncodedSign{
		Coordinates: strings.Join(keys, segmentSeparator),
		Characters:  strings.Join(values, segmentSeparator),
	}
}

// Decode rebuilds a Grid from its wire form. When the segment counts differ
// the pairing stops at the shorter sequence and the rest is dropped.
func Decode(coordinates, characters string) Grid {
	keys := splitSegments(coordinates)
	values := splitSegments(characters)

	n := min(len(keys), len(values))
	g := make(Grid, n)
	for i := range n {
		g[keys[i]] = values[i]
	}
	return g
}

// DecodeStrict is Decode but rejects mismatched segment counts.
func DecodeStrict(coordinates, characters string) (Grid, error) {
	keys := splitSegments(coordinates)
	values := splitSegments(characters)
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d coordinates, %d characters", ErrSegmentMismatch, len(keys), len(values))
	}
	return Decode(coordinates, characters), nil
}

// An empty string holds zero segments, not one empty segment.
func splitSegments(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, segmentSeparator)
}

func compareCellKeys(a, b string) int {
	ia, errA := ParseCellKey(a)
	ib, errB := ParseCellKey(b)
	switch {
	case errA == nil && errB == nil:
		if ia.Row != ib.Row {
			return ia.Row - ib.Row
		}
		if ia.Col != ib.Col {
			return ia.Col - ib.Col
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
