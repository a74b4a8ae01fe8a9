package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot"
	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/internal/observability"
	"github.com/menta2k/gridpilot/pkg/capture"
	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/processing"
)

func writeTestImage(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "screen.png")
	require.NoError(t, processing.NewProcessor().SaveImage(img, path, "png", 0, false))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "gridpilot "+gridpilot.Version+"\n", out)
}

func TestGridCommand(t *testing.T) {
	in := writeTestImage(t, 300, 200)

	out, err := execute(t, "grid", in, "--rows", "4", "--cols", "6")
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(filepath.Dir(in), "screen_grid.png"), path)

	img, err := processing.NewProcessor().LoadImage(path)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 300)
	assert.Greater(t, img.Bounds().Dy(), 200)
}

func TestGridCommandRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	_, err := execute(t, "grid", path)
	assert.Error(t, err)
}

func TestRunCommandNeedsArgs(t *testing.T) {
	_, err := execute(t, "run", "--backend", "ollama")
	assert.Error(t, err)
}

func TestRepl(t *testing.T) {
	cfg := config.Default()
	cfg.Recorder.Enabled = false
	cfg.Executor.Mode = "dryrun"
	proc := processing.NewProcessor()

	oracle := client.NewScripted(
		`{"action": "KEYBOARD_TYPE", "text": "hello"}`,
		`{"action": "COMPLETE"}`,
		`{"action": "ERROR", "reason": "nothing to close"}`,
	)
	pilot, err := gridpilot.New(context.Background(), cfg, nil,
		gridpilot.WithOracle(oracle),
		gridpilot.WithCapturer(capture.NewFileSource(writeTestImage(t, 64, 64), proc)))
	require.NoError(t, err)
	defer pilot.Close()

	in := strings.NewReader("type hello\n\nclose it\nexit\nnever run\n")
	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), pilot, in, &out, observability.GetLogger()))

	text := out.String()
	assert.Contains(t, text, "complete after 2 iterations")
	assert.Contains(t, text, "error after 1 iterations: nothing to close")
	assert.Len(t, oracle.Calls(), 3)
}

func TestReplEndsOnEOF(t *testing.T) {
	cfg := config.Default()
	cfg.Recorder.Enabled = false
	pilot, err := gridpilot.New(context.Background(), cfg, nil, gridpilot.WithOracle(client.NewScripted()))
	require.NoError(t, err)
	defer pilot.Close()

	var out bytes.Buffer
	require.NoError(t, repl(context.Background(), pilot, strings.NewReader(""), &out, observability.GetLogger()))
	assert.Contains(t, out.String(), "gridpilot> ")
}
