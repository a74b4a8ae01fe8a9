package targeting

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/grid"
	"github.com/menta2k/gridpilot/pkg/processing"
	"github.com/menta2k/gridpilot/pkg/recorder"
	"github.com/menta2k/gridpilot/pkg/types"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), 200, 255})
		}
	}
	return img
}

type memRecorder struct {
	mu        sync.Mutex
	artifacts []recorder.Artifact
}

func (m *memRecorder) Record(a recorder.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
}

func (m *memRecorder) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, a.Name)
	}
	return out
}

func testOptions() Options {
	return Options{Attempts: 3, ContextImage: true, ImageFormat: "png"}
}

func TestPipelineResolvesKnownTarget(t *testing.T) {
	screen := createTestImage(1000, 1000)
	oracle := client.NewScripted(`{"X": "5", "Y": "C"}`, `{"X": "2", "Y": "A"}`)
	rec := &memRecorder{}
	opts := testOptions()
	opts.Recorder = rec

	p, err := NewPipeline(oracle, processing.NewProcessor(), DefaultStages, opts, nil)
	require.NoError(t, err)

	ctx := recorder.WithStep(context.Background(), 4)
	pt, err := p.ResolveTarget(ctx, screen, types.Region{Width: 1000, Height: 1000}, "the OK button")
	require.NoError(t, err)
	assert.Equal(t, types.Point{X: 475, Y: 225}, pt)

	calls := oracle.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "stage1", calls[0].Site)
	assert.Len(t, calls[0].Images, 1)
	assert.Equal(t, "stage2", calls[1].Site)
	assert.Len(t, calls[1].Images, 2, "later stages carry the outlined full screen")
	assert.Contains(t, calls[0].Prompt, "the OK button")
	assert.Contains(t, calls[0].Prompt, "1 to 10")
	assert.Contains(t, calls[0].Prompt, "A to J")

	assert.Contains(t, rec.names(), "stage1_grid")
	assert.Contains(t, rec.names(), "stage2_context")
	assert.Contains(t, rec.names(), "stage2_response")
	for _, a := range rec.artifacts {
		assert.Equal(t, 4, a.Step)
	}
}

func TestPipelineRespectsInitialRegionOffset(t *testing.T) {
	screen := createTestImage(800, 600)
	initial := types.Region{X: 200, Y: 100, Width: 400, Height: 400}
	oracle := client.NewScripted(`{"X": "4", "Y": "D"}`, `{"X": "2", "Y": "B"}`)

	p, err := NewPipeline(oracle, processing.NewProcessor(), []types.GridSpec{{Columns: 4, Rows: 4}, {Columns: 2, Rows: 2}}, testOptions(), nil)
	require.NoError(t, err)

	pt, err := p.ResolveTarget(context.Background(), screen, initial, "close icon")
	require.NoError(t, err)
	// last cell of 4x4 is (500,400)-(600,500); its bottom-right quarter is (550,450)-(600,500)
	assert.Equal(t, types.Point{X: 575, Y: 475}, pt)
	assert.True(t, initial.Contains(pt))
}

func TestPipelineSupportsAnyStageCount(t *testing.T) {
	screen := createTestImage(1200, 900)
	initial := types.Region{Width: 1200, Height: 900}
	specs := []types.GridSpec{{Columns: 6, Rows: 6}, {Columns: 3, Rows: 3}, {Columns: 3, Rows: 3}, {Columns: 2, Rows: 1}}
	oracle := client.NewScripted(
		`{"X": "6", "Y": "F"}`,
		`{"X": "3", "Y": "C"}`,
		`{"X": "1", "Y": "A"}`,
		`{"X": "2", "Y": "A"}`,
	)

	p, err := NewPipeline(oracle, processing.NewProcessor(), specs, testOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, specs, p.Stages())

	pt, err := p.ResolveTarget(context.Background(), screen, initial, "tray clock")
	require.NoError(t, err)
	assert.True(t, initial.Contains(pt))
	assert.Len(t, oracle.Calls(), 4)
}

func TestStageRetriesWithStricterPrompts(t *testing.T) {
	screen := createTestImage(1000, 1000)
	oracle := client.NewScripted(
		"I believe it is near the top left.",
		`{"X": "11", "Y": "A"}`,
		`{"X": 1, "Y": "a"}`,
	)

	st, err := NewStage(1, types.GridSpec{Columns: 10, Rows: 10}, oracle, processing.NewProcessor(), testOptions(), nil)
	require.NoError(t, err)

	got, err := st.Refine(context.Background(), screen, types.Region{Width: 1000, Height: 1000}, "start menu")
	require.NoError(t, err)
	assert.Equal(t, types.Region{X: 0, Y: 0, Width: 100, Height: 100}, got)

	calls := oracle.Calls()
	require.Len(t, calls, 3)
	assert.NotContains(t, calls[0].Prompt, "could not be used")
	assert.Contains(t, calls[1].Prompt, "could not be used")
	assert.Contains(t, calls[2].Prompt, "FORMAT ONLY")
}

func TestStageTransportErrorUsesAnAttempt(t *testing.T) {
	oracle := client.NewScripted().Push(
		client.Reply{Err: errors.New("connection reset")},
		client.Reply{Text: `{"X": "2", "Y": "B"}`},
	)
	st, err := NewStage(1, types.GridSpec{Columns: 2, Rows: 2}, oracle, processing.NewProcessor(), testOptions(), nil)
	require.NoError(t, err)

	got, err := st.Refine(context.Background(), createTestImage(100, 100), types.Region{Width: 100, Height: 100}, "x")
	require.NoError(t, err)
	assert.Equal(t, types.Region{X: 50, Y: 50, Width: 50, Height: 50}, got)
	assert.Len(t, oracle.Calls(), 2)
}

func TestStageGivesUpAfterAttempts(t *testing.T) {
	oracle := client.NewScripted().Repeat(client.Reply{Text: "no"})
	st, err := NewStage(1, types.GridSpec{Columns: 3, Rows: 3}, oracle, processing.NewProcessor(), testOptions(), nil)
	require.NoError(t, err)

	_, err = st.Refine(context.Background(), createTestImage(90, 90), types.Region{Width: 90, Height: 90}, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageResolutionFailed)
	assert.True(t, IsRecoverable(err))
	assert.Len(t, oracle.Calls(), 3)
}

func TestPipelineReturnsNoPartialResult(t *testing.T) {
	oracle := client.NewScripted(`{"X": "1", "Y": "A"}`).Repeat(client.Reply{Text: `{"X": "9", "Y": "Z"}`})
	p, err := NewPipeline(oracle, processing.NewProcessor(), DefaultStages, testOptions(), nil)
	require.NoError(t, err)

	pt, err := p.ResolveTarget(context.Background(), createTestImage(500, 500), types.Region{Width: 500, Height: 500}, "x")
	assert.ErrorIs(t, err, ErrStageResolutionFailed)
	assert.ErrorIs(t, err, grid.ErrOutOfRangeLabel)
	assert.Equal(t, types.Point{}, pt)
}

func TestStageDegenerateRegionIsFatal(t *testing.T) {
	oracle := client.NewScripted()
	st, err := NewStage(1, types.GridSpec{Columns: 10, Rows: 10}, oracle, processing.NewProcessor(), testOptions(), nil)
	require.NoError(t, err)

	_, err = st.Refine(context.Background(), createTestImage(50, 50), types.Region{Width: 5, Height: 5}, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, grid.ErrDegenerateRegion)
	assert.False(t, IsRecoverable(err))
	assert.Empty(t, oracle.Calls())
}

func TestStageStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := NewStage(1, types.GridSpec{Columns: 2, Rows: 2}, client.NewScripted(`{"X":"1","Y":"A"}`), processing.NewProcessor(), testOptions(), nil)
	require.NoError(t, err)

	_, err = st.Refine(ctx, createTestImage(40, 40), types.Region{Width: 40, Height: 40}, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRecoverable(err))
}

func TestNewPipelineValidatesStages(t *testing.T) {
	proc := processing.NewProcessor()
	oracle := client.NewScripted()

	tests := []struct {
		name  string
		specs []types.GridSpec
	}{
		{"no stages", nil},
		{"single cell", []types.GridSpec{{Columns: 1, Rows: 1}}},
		{"zero columns", []types.GridSpec{{Columns: 0, Rows: 3}}},
		{"bad later stage", []types.GridSpec{{Columns: 3, Rows: 3}, {Columns: 2, Rows: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(oracle, proc, tt.specs, testOptions(), nil)
			assert.ErrorIs(t, err, grid.ErrInvalidGridSpec)
		})
	}
}
