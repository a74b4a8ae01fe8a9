package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot/pkg/types"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestNewProcessor(t *testing.T) {
	p := NewProcessor()
	require.NotNil(t, p)
	assert.Equal(t, DefaultRenderOptions(), p.render)

	p = NewProcessorWithOptions(RenderOptions{LineWidth: 0, Margin: -3})
	assert.Equal(t, 1, p.render.LineWidth)
	assert.Equal(t, 0, p.render.Margin)
}

func TestRenderGrid(t *testing.T) {
	opts := DefaultRenderOptions()
	opts.LabelScale = 1
	p := NewProcessorWithOptions(opts)

	img := createTestImage(1000, 1000)
	out, err := p.RenderGrid(img, types.Region{Width: 1000, Height: 1000}, types.GridSpec{Columns: 10, Rows: 10})
	require.NoError(t, err)

	// one 7px glyph plus margins on the left, one 13px line plus margins below
	padLeft := 7 + 2*opts.Margin
	padBottom := 13 + 2*opts.Margin
	assert.Equal(t, 1000+padLeft, out.Bounds().Dx())
	assert.Equal(t, 1000+padBottom, out.Bounds().Dy())

	assert.Equal(t, opts.LineColor, nrgbaAt(out, padLeft, 0), "grid line at the region origin")
	assert.Equal(t, opts.LineColor, nrgbaAt(out, padLeft+100, 50), "grid line between columns 1 and 2")
	assert.Equal(t, opts.LineColor, nrgbaAt(out, padLeft+999, 50), "right edge")
	assert.Equal(t, opts.Background, nrgbaAt(out, 0, out.Bounds().Dy()-1), "padding corner")
	assert.Equal(t, color.NRGBA{50, 50, 128, 255}, nrgbaAt(out, padLeft+50, 50), "cell content untouched")
}

func TestRenderGridSubRegion(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(1000, 1000)

	out, err := p.RenderGrid(img, types.Region{X: 400, Y: 200, Width: 100, Height: 100}, types.GridSpec{Columns: 2, Rows: 2})
	require.NoError(t, err)
	assert.Greater(t, out.Bounds().Dx(), 100)
	assert.Greater(t, out.Bounds().Dy(), 100)

	_, err = p.RenderGrid(img, types.Region{X: 950, Y: 0, Width: 100, Height: 100}, types.GridSpec{Columns: 2, Rows: 2})
	assert.Error(t, err)

	_, err = p.RenderGrid(img, types.Region{Width: 5, Height: 5}, types.GridSpec{Columns: 10, Rows: 10})
	assert.Error(t, err, "cells narrower than a pixel")
}

func TestCropToRegion(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 100)

	out, err := p.CropToRegion(img, types.Region{X: 10, Y: 20, Width: 30, Height: 40})
	require.NoError(t, err)
	assert.Equal(t, 30, out.Bounds().Dx())
	assert.Equal(t, 40, out.Bounds().Dy())
	assert.Equal(t, color.NRGBA{10, 20, 128, 255}, nrgbaAt(out, 0, 0))

	_, err = p.CropToRegion(img, types.Region{X: 190, Y: 0, Width: 30, Height: 10})
	assert.Error(t, err)
	_, err = p.CropToRegion(img, types.Region{X: 0, Y: 0, Width: 0, Height: 10})
	assert.Error(t, err)
}

func TestCropToRegionOffsetBounds(t *testing.T) {
	p := NewProcessor()
	sub := createTestImage(200, 100).(*image.RGBA).SubImage(image.Rect(50, 50, 150, 100))

	out, err := p.CropToRegion(sub, types.Region{X: 0, Y: 0, Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{50, 50, 128, 255}, nrgbaAt(out, 0, 0))
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(400, 200)

	enc, err := p.PrepareImageForModel(img, "png", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", enc.MIME)

	data, err := base64.StdEncoding.DecodeString(enc.B64)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())

	enc, err = p.PrepareImageForModel(img, "jpg", 0, 70)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", enc.MIME)
	decodedJPEG, err := p.DecodeImage(mustB64(t, enc.B64))
	require.NoError(t, err)
	assert.Equal(t, 400, decodedJPEG.Bounds().Dx())
}

func mustB64(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestOutlineRegion(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(400, 400)

	out := p.OutlineRegion(img, types.Region{X: 100, Y: 100, Width: 100, Height: 100})
	assert.Equal(t, img.Bounds().Size(), out.Bounds().Size())
	assert.Equal(t, p.render.LineColor, nrgbaAt(out, 150, 100))
	assert.Equal(t, color.NRGBA{150, 150, 128, 255}, nrgbaAt(out, 150, 150))
	assert.Equal(t, color.NRGBA{100, 100, 128, 255}, nrgbaAt(img, 100, 100), "source is not modified")
}

func TestDrawClickMarker(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(100, 100)

	out := p.DrawClickMarker(img, types.Point{X: 50, Y: 50}, 10)
	red := color.NRGBA{255, 0, 0, 255}
	assert.Equal(t, red, nrgbaAt(out, 50, 50), "crosshair center")
	assert.Equal(t, red, nrgbaAt(out, 60, 50), "ring")

	// markers near the edge are clipped, not a panic
	assert.NotPanics(t, func() { p.DrawClickMarker(img, types.Point{X: 0, Y: 99}, 15) })
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(64, 48)
	dir := t.TempDir()

	for _, format := range []string{"png", "jpg", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out."+format)
			require.NoError(t, p.SaveImage(img, path, format, 90, true))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())

			loaded, err := p.LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, 64, loaded.Bounds().Dx())
			assert.Equal(t, 48, loaded.Bounds().Dy())
		})
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := NewProcessor().DecodeImage([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadImageFromURLRejectsBadScheme(t *testing.T) {
	_, err := NewProcessor().LoadImageFromURL(t.Context(), "ftp://example.com/a.png")
	assert.Error(t, err)
}
