// Package grid partitions a screen region into a labelled grid of cells.
//
// Columns are labelled 1..N from left to right and rows A, B, ... Z, AA, AB
// from top to bottom. All arithmetic is integer: every column but the last is
// floor(width/columns) wide and the last column absorbs the remainder, so the
// cells always tile the region exactly. Rows work the same way.
package grid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/gridpilot/pkg/types"
)

var (
	// ErrInvalidGridSpec is returned for a spec with fewer than one column or row
	ErrInvalidGridSpec = errors.New("invalid grid spec")
	// ErrOutOfRangeLabel is returned for a label that does not name a cell of the grid
	ErrOutOfRangeLabel = errors.New("cell label out of range")
	// ErrDegenerateRegion is returned when a region is too small to give every cell a pixel
	ErrDegenerateRegion = errors.New("region too small for grid")
)

// Cell is one labelled cell of a concrete grid
type Cell struct {
	Label  types.CellLabel
	Column int
	Row    int
	Bounds types.Region
}

// Validate checks that a grid spec has at least one column and one row
func Validate(spec types.GridSpec) error {
	if spec.Columns < 1 || spec.Rows < 1 {
		return fmt.Errorf("%w: %s", ErrInvalidGridSpec, spec)
	}
	return nil
}

// CellBounds returns the pixel bounds of the labelled cell within region
func CellBounds(region types.Region, spec types.GridSpec, label types.CellLabel) (types.Region, error) {
	col, row, err := ParseLabel(label, spec)
	if err != nil {
		return types.Region{}, err
	}
	return cellAt(region, spec, col, row)
}

// CellBoundsAt returns the bounds of the cell at zero-based column and row indices
func CellBoundsAt(region types.Region, spec types.GridSpec, col, row int) (types.Region, error) {
	if err := Validate(spec); err != nil {
		return types.Region{}, err
	}
	if col < 0 || col >= spec.Columns || row < 0 || row >= spec.Rows {
		return types.Region{}, fmt.Errorf("%w: index (%d,%d) for %s grid", ErrOutOfRangeLabel, col, row, spec)
	}
	return cellAt(region, spec, col, row)
}

func cellAt(region types.Region, spec types.GridSpec, col, row int) (types.Region, error) {
	if region.Width < spec.Columns || region.Height < spec.Rows {
		return types.Region{}, fmt.Errorf("%w: %dx%d region cannot hold a %s grid",
			ErrDegenerateRegion, region.Width, region.Height, spec)
	}

	cw := region.Width / spec.Columns
	ch := region.Height / spec.Rows

	x := region.X + col*cw
	y := region.Y + row*ch
	w, h := cw, ch
	if col == spec.Columns-1 {
		w = region.Right() - x
	}
	if row == spec.Rows-1 {
		h = region.Bottom() - y
	}

	return types.Region{X: x, Y: y, Width: w, Height: h}, nil
}

// Cells enumerates every cell of the grid in row-major order
func Cells(region types.Region, spec types.GridSpec) ([]Cell, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	cells := make([]Cell, 0, spec.Cells())
	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Columns; col++ {
			bounds, err := cellAt(region, spec, col, row)
			if err != nil {
				return nil, err
			}
			cells = append(cells, Cell{
				Label:  types.CellLabel{Column: ColumnLabel(col), Row: RowLabel(row)},
				Column: col,
				Row:    row,
				Bounds: bounds,
			})
		}
	}
	return cells, nil
}

// CenterOf returns the center of a region rounded to the nearest pixel.
// Halves round toward positive infinity.
func CenterOf(region types.Region) types.Point {
	return types.Point{
		X: region.X + halfUp(region.Width),
		Y: region.Y + halfUp(region.Height),
	}
}

// halfUp returns n/2 rounded half toward positive infinity for n >= 0
func halfUp(n int) int {
	return (n + 1) / 2
}

// ColumnLabel returns the label of the zero-based column index ("1", "2", ...)
func ColumnLabel(col int) string {
	return strconv.Itoa(col + 1)
}

// RowLabel returns the spreadsheet-style label of the zero-based row index
// (0 -> A, 25 -> Z, 26 -> AA)
func RowLabel(row int) string {
	n := row + 1
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// ParseLabel resolves a cell label into zero-based column and row indices
func ParseLabel(label types.CellLabel, spec types.GridSpec) (int, int, error) {
	if err := Validate(spec); err != nil {
		return 0, 0, err
	}

	colText := strings.TrimSpace(label.Column)
	rowText := strings.ToUpper(strings.TrimSpace(label.Row))

	col, err := strconv.Atoi(colText)
	if err != nil || col < 1 || col > spec.Columns {
		return 0, 0, fmt.Errorf("%w: column %q not in 1-%d", ErrOutOfRangeLabel, label.Column, spec.Columns)
	}

	row, ok := parseRow(rowText)
	if !ok || row >= spec.Rows {
		return 0, 0, fmt.Errorf("%w: row %q not in A-%s", ErrOutOfRangeLabel, label.Row, RowLabel(spec.Rows-1))
	}

	return col - 1, row, nil
}

func parseRow(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		n = n*26 + int(r-'A') + 1
		if n > 1<<20 {
			return 0, false
		}
	}
	return n - 1, true
}
