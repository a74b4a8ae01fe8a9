package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/gridpilot/pkg/grid"
	"github.com/menta2k/gridpilot/pkg/types"
)

// RenderOptions controls how grids are burned into images
type RenderOptions struct {
	LineWidth  int
	LineColor  color.NRGBA
	TextColor  color.NRGBA
	Background color.NRGBA
	// LabelScale multiplies the 7x13 glyphs; 0 picks a scale from the cell size
	LabelScale int
	// Margin is the gap in pixels around labels inside the padding
	Margin int
}

// DefaultRenderOptions mirrors the red-grid-on-white-margin look the prompts describe
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		LineWidth:  2,
		LineColor:  color.NRGBA{255, 0, 0, 255},
		TextColor:  color.NRGBA{0, 0, 0, 255},
		Background: color.NRGBA{255, 255, 255, 255},
		Margin:     6,
	}
}

// Processor handles image processing operations
type Processor struct {
	render     RenderOptions
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return NewProcessorWithOptions(DefaultRenderOptions())
}

// NewProcessorWithOptions creates a processor with custom grid rendering
func NewProcessorWithOptions(opts RenderOptions) *Processor {
	if opts.LineWidth < 1 {
		opts.LineWidth = 1
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	}
	return &Processor{
		render:     opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "gridpilot/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.DecodeImage(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareImageForModel encodes an image for sending to a vision model,
// shrinking it so the long side is at most maxDim (0 keeps the original size)
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (types.EncodedImage, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return types.EncodedImage{}, err
		}
		return types.EncodedImage{B64: base64.StdEncoding.EncodeToString(buf.Bytes()), MIME: "image/png"}, nil
	default: // jpg
		if quality < 1 || quality > 100 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return types.EncodedImage{}, err
		}
		return types.EncodedImage{B64: base64.StdEncoding.EncodeToString(buf.Bytes()), MIME: "image/jpeg"}, nil
	}
}

// CropToRegion crops img to a region expressed in screen coordinates, where
// the image's top-left pixel is the screen origin
func (p *Processor) CropToRegion(img image.Image, region types.Region) (image.Image, error) {
	bounds := img.Bounds()
	rect := region.Rect().Add(bounds.Min)
	if region.Empty() || !rect.In(bounds) {
		return nil, fmt.Errorf("crop region %s outside %dx%d image", region, bounds.Dx(), bounds.Dy())
	}
	return imaging.Crop(img, rect), nil
}

// RenderGrid crops img to region and burns in grid lines and cell labels.
// Row labels go in a white margin on the left, column labels in a margin at
// the bottom, so the cell content itself stays unobstructed. Lines follow the
// exact integer cell bounds used to resolve the oracle's answer.
func (p *Processor) RenderGrid(img image.Image, region types.Region, spec types.GridSpec) (image.Image, error) {
	cropped, err := p.CropToRegion(img, region)
	if err != nil {
		return nil, err
	}

	local := types.Region{Width: region.Width, Height: region.Height}
	cells, err := grid.Cells(local, spec)
	if err != nil {
		return nil, err
	}

	opts := p.render
	scale := opts.LabelScale
	if scale <= 0 {
		scale = autoLabelScale(region.Width/spec.Columns, region.Height/spec.Rows)
	}

	face := basicfont.Face7x13
	widest := font.MeasureString(face, grid.RowLabel(spec.Rows-1)).Ceil() * scale
	padLeft := widest + 2*opts.Margin
	padBottom := face.Height*scale + 2*opts.Margin

	w, h := region.Width, region.Height
	out := imaging.New(w+padLeft, h+padBottom, opts.Background)
	out = imaging.Paste(out, cropped, image.Pt(padLeft, 0))

	lw := opts.LineWidth
	for _, c := range cells {
		x0, y0 := padLeft+c.Bounds.X, c.Bounds.Y
		x1, y1 := padLeft+c.Bounds.Right(), c.Bounds.Bottom()
		for s := 0; s < lw; s++ {
			drawHLine(out, y0+s, x0, x1, opts.LineColor)
			drawVLine(out, x0+s, y0, y1, opts.LineColor)
		}
		if c.Column == spec.Columns-1 {
			for s := 0; s < lw; s++ {
				drawVLine(out, x1-1-s, y0, y1, opts.LineColor)
			}
		}
		if c.Row == spec.Rows-1 {
			for s := 0; s < lw; s++ {
				drawHLine(out, y1-1-s, x0, x1, opts.LineColor)
			}
		}

		if c.Column == 0 {
			drawLabel(out, c.Label.Row, padLeft/2, (y0+y1)/2, scale, opts.TextColor)
		}
		if c.Row == 0 {
			drawLabel(out, c.Label.Column, (x0+x1)/2, h+padBottom/2, scale, opts.TextColor)
		}
	}

	return out, nil
}

// OutlineRegion returns a copy of img with region outlined, giving the model
// the surrounding context of a refinement crop
func (p *Processor) OutlineRegion(img image.Image, region types.Region) image.Image {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.003*float64(minInt(w, h))))
	drawRect(nrgba, region, p.render.LineColor, stroke)
	return nrgba
}

// DrawClickMarker returns a copy of img with a ring and crosshair at pt
func (p *Processor) DrawClickMarker(img image.Image, pt types.Point, radius int) image.Image {
	nrgba := imaging.Clone(img)
	if radius < 2 {
		radius = 2
	}
	red := color.NRGBA{255, 0, 0, 255}

	for ring := radius - 1; ring <= radius+1; ring++ {
		steps := int(2*math.Pi*float64(ring)) + 8
		for i := 0; i < steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			x := pt.X + int(math.Round(float64(ring)*math.Cos(a)))
			y := pt.Y + int(math.Round(float64(ring)*math.Sin(a)))
			if (image.Point{X: x, Y: y}).In(nrgba.Bounds()) {
				nrgba.SetNRGBA(x, y, red)
			}
		}
	}
	drawHLine(nrgba, pt.Y, pt.X-radius/2, pt.X+radius/2+1, red)
	drawVLine(nrgba, pt.X, pt.Y-radius/2, pt.Y+radius/2+1, red)
	return nrgba
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

func autoLabelScale(cellW, cellH int) int {
	m := minInt(cellW, cellH)
	switch {
	case m >= 160:
		return 3
	case m >= 48:
		return 2
	default:
		return 1
	}
}

// drawLabel draws text centered on (cx, cy) using the 7x13 bitmap face
// enlarged by an integer factor
func drawLabel(dst *image.NRGBA, text string, cx, cy, scale int, c color.NRGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Height
	if w <= 0 {
		return
	}

	glyphs := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	scaled := imaging.Resize(glyphs, w*scale, h*scale, imaging.NearestNeighbor)
	pos := image.Pt(cx-scaled.Bounds().Dx()/2, cy-scaled.Bounds().Dy()/2)
	draw.Draw(dst, scaled.Bounds().Add(pos), scaled, image.Point{}, draw.Over)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r types.Region, c color.NRGBA, stroke int) {
	x0, y0 := r.X+img.Bounds().Min.X, r.Y+img.Bounds().Min.Y
	x1, y1 := x0+r.Width, y0+r.Height
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
