package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot/pkg/types"
)

func TestCellBoundsManualComputation(t *testing.T) {
	screen := types.Region{X: 0, Y: 0, Width: 1000, Height: 1000}

	first, err := CellBounds(screen, types.GridSpec{Columns: 10, Rows: 10}, types.CellLabel{Column: "5", Row: "C"})
	require.NoError(t, err)
	assert.Equal(t, types.Region{X: 400, Y: 200, Width: 100, Height: 100}, first)

	second, err := CellBounds(first, types.GridSpec{Columns: 2, Rows: 2}, types.CellLabel{Column: "2", Row: "A"})
	require.NoError(t, err)
	assert.Equal(t, types.Region{X: 450, Y: 200, Width: 50, Height: 50}, second)

	assert.Equal(t, types.Point{X: 475, Y: 225}, CenterOf(second))
}

func TestCellBoundsLastCellAbsorbsRemainder(t *testing.T) {
	region := types.Region{X: 7, Y: 3, Width: 103, Height: 51}
	spec := types.GridSpec{Columns: 10, Rows: 4}

	last, err := CellBounds(region, spec, types.CellLabel{Column: "10", Row: "D"})
	require.NoError(t, err)
	assert.Equal(t, region.Right(), last.Right())
	assert.Equal(t, region.Bottom(), last.Bottom())
	assert.Equal(t, 13, last.Width) // 10 + remainder 3
	assert.Equal(t, 15, last.Height)

	first, err := CellBounds(region, spec, types.CellLabel{Column: "1", Row: "a"})
	require.NoError(t, err)
	assert.Equal(t, types.Region{X: 7, Y: 3, Width: 10, Height: 12}, first)
}

func TestCellsTileRegion(t *testing.T) {
	regions := []types.Region{
		{X: 0, Y: 0, Width: 192, Height: 108},
		{X: 13, Y: 29, Width: 97, Height: 61},
		{X: 400, Y: 200, Width: 100, Height: 100},
		{X: 0, Y: 0, Width: 3, Height: 3},
	}
	specs := []types.GridSpec{
		{Columns: 1, Rows: 1},
		{Columns: 2, Rows: 2},
		{Columns: 3, Rows: 3},
		{Columns: 10, Rows: 10},
		{Columns: 3, Rows: 1},
	}

	for _, region := range regions {
		for _, spec := range specs {
			if region.Width < spec.Columns || region.Height < spec.Rows {
				continue
			}
			cells, err := Cells(region, spec)
			require.NoError(t, err, "region %s spec %s", region, spec)
			require.Len(t, cells, spec.Cells())

			covered := make(map[[2]int]int)
			for _, c := range cells {
				assert.False(t, c.Bounds.Empty(), "cell %s empty in %s", c.Label, region)
				assert.True(t, region.ContainsRegion(c.Bounds), "cell %s escapes %s", c.Label, region)
				assert.True(t, region.Contains(CenterOf(c.Bounds)))
				for y := c.Bounds.Y; y < c.Bounds.Bottom(); y++ {
					for x := c.Bounds.X; x < c.Bounds.Right(); x++ {
						covered[[2]int{x, y}]++
					}
				}
			}

			assert.Len(t, covered, region.Area(), "gaps in %s over %s", spec, region)
			for px, n := range covered {
				if n != 1 {
					t.Fatalf("pixel %v covered %d times for %s over %s", px, n, spec, region)
				}
			}
		}
	}
}

func TestCellBoundsErrors(t *testing.T) {
	region := types.Region{Width: 100, Height: 100}

	tests := []struct {
		name  string
		spec  types.GridSpec
		label types.CellLabel
		want  error
	}{
		{"zero columns", types.GridSpec{Columns: 0, Rows: 3}, types.CellLabel{Column: "1", Row: "A"}, ErrInvalidGridSpec},
		{"zero rows", types.GridSpec{Columns: 3, Rows: 0}, types.CellLabel{Column: "1", Row: "A"}, ErrInvalidGridSpec},
		{"column too large", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "4", Row: "A"}, ErrOutOfRangeLabel},
		{"column zero", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "0", Row: "A"}, ErrOutOfRangeLabel},
		{"column not numeric", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "two", Row: "A"}, ErrOutOfRangeLabel},
		{"row too large", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "1", Row: "D"}, ErrOutOfRangeLabel},
		{"row empty", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "1", Row: ""}, ErrOutOfRangeLabel},
		{"row not a letter", types.GridSpec{Columns: 3, Rows: 3}, types.CellLabel{Column: "1", Row: "3"}, ErrOutOfRangeLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CellBounds(region, tt.spec, tt.label)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCellBoundsDegenerateRegion(t *testing.T) {
	_, err := CellBounds(types.Region{Width: 1, Height: 10}, types.GridSpec{Columns: 2, Rows: 2},
		types.CellLabel{Column: "1", Row: "A"})
	assert.ErrorIs(t, err, ErrDegenerateRegion)
}

func TestCenterOfRoundsHalfUp(t *testing.T) {
	tests := []struct {
		region types.Region
		want   types.Point
	}{
		{types.Region{X: 0, Y: 0, Width: 100, Height: 50}, types.Point{X: 50, Y: 25}},
		{types.Region{X: 0, Y: 0, Width: 3, Height: 5}, types.Point{X: 2, Y: 3}},
		{types.Region{X: 10, Y: 20, Width: 1, Height: 1}, types.Point{X: 11, Y: 21}},
		{types.Region{X: -10, Y: -10, Width: 5, Height: 4}, types.Point{X: -7, Y: -8}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CenterOf(tt.region), "region %s", tt.region)
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "1", ColumnLabel(0))
	assert.Equal(t, "10", ColumnLabel(9))
	assert.Equal(t, "A", RowLabel(0))
	assert.Equal(t, "J", RowLabel(9))
	assert.Equal(t, "Z", RowLabel(25))
	assert.Equal(t, "AA", RowLabel(26))
	assert.Equal(t, "AB", RowLabel(27))

	spec := types.GridSpec{Columns: 30, Rows: 30}
	for i := 0; i < 30; i++ {
		col, row, err := ParseLabel(types.CellLabel{Column: ColumnLabel(i), Row: RowLabel(i)}, spec)
		require.NoError(t, err)
		assert.Equal(t, i, col)
		assert.Equal(t, i, row)
	}

	col, row, err := ParseLabel(types.CellLabel{Column: " 2 ", Row: " b "}, types.GridSpec{Columns: 2, Rows: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, col)
	assert.Equal(t, 1, row)
}

func BenchmarkCells(b *testing.B) {
	region := types.Region{Width: 2560, Height: 1440}
	spec := types.GridSpec{Columns: 10, Rows: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Cells(region, spec)
	}
}
