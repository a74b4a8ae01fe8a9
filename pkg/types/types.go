package types

import (
	"fmt"
	"image"
)

// Region represents an axis-aligned rectangle in screen pixels (origin top-left)
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenRegion returns the region covering all of img in screen coordinates,
// which start at the image's top-left pixel whatever its bounds origin
func ScreenRegion(img image.Image) Region {
	b := img.Bounds()
	return Region{Width: b.Dx(), Height: b.Dy()}
}

// Right returns the exclusive right edge
func (r Region) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge
func (r Region) Bottom() int { return r.Y + r.Height }

// Empty reports whether the region covers no pixels
func (r Region) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Area returns the area of the region
func (r Region) Area() int { return r.Width * r.Height }

// Rect converts the region into an image rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.Right(), r.Bottom())
}

// Contains reports whether p lies within the closed bounds of the region.
// The right and bottom edges are included so that a rounded-up center of a
// one pixel wide cell is still considered inside.
func (r Region) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// ContainsPixel reports whether p addresses a pixel of the region, excluding
// the right and bottom edges
func (r Region) ContainsPixel(p Point) bool {
	return p.X >= r.X && p.X < r.Right() && p.Y >= r.Y && p.Y < r.Bottom()
}

// ContainsRegion reports whether o lies entirely inside r
func (r Region) ContainsRegion(o Region) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X, r.Y, r.Right(), r.Bottom())
}

// Point is a pixel coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// GridSpec is the column/row layout laid over a region
type GridSpec struct {
	Columns int `json:"columns" mapstructure:"columns"`
	Rows    int `json:"rows" mapstructure:"rows"`
}

// Cells returns the number of cells in the grid
func (g GridSpec) Cells() int { return g.Columns * g.Rows }

func (g GridSpec) String() string {
	return fmt.Sprintf("%dx%d", g.Columns, g.Rows)
}

// CellLabel is the oracle's selection of a single grid cell, e.g. {"5", "C"}
type CellLabel struct {
	Column string `json:"X"`
	Row    string `json:"Y"`
}

func (l CellLabel) String() string {
	return l.Row + l.Column
}

// EncodedImage is an image prepared for a vision model
type EncodedImage struct {
	B64  string
	MIME string
}
