package input

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/pkg/action"
	"github.com/menta2k/gridpilot/pkg/types"
)

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func newTestExecutor(t *testing.T, r *recordingRunner, scale float64) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor(Options{
		Commands:    config.Default().Executor.Commands,
		ScaleFactor: scale,
		Bounds:      types.Region{Width: 1920, Height: 1080},
		Runner:      r.run,
	}, nil)
	require.NoError(t, err)
	return e
}

func TestPointerActions(t *testing.T) {
	r := &recordingRunner{}
	e := newTestExecutor(t, r, 1)
	ctx := context.Background()

	require.NoError(t, e.ExecutePointerAction(ctx, types.Point{X: 475, Y: 225}, action.LeftClick))
	require.NoError(t, e.ExecutePointerAction(ctx, types.Point{X: 10, Y: 20}, action.DoubleClick))
	require.NoError(t, e.ExecutePointerAction(ctx, types.Point{X: 1919, Y: 1079}, action.RightClick))

	require.Len(t, r.calls, 3)
	assert.Equal(t, "xdotool mousemove 475 225 click 1", strings.Join(r.calls[0], " "))
	assert.Equal(t, "xdotool mousemove 10 20 click --repeat 2 1", strings.Join(r.calls[1], " "))
	assert.Equal(t, "xdotool mousemove 1919 1079 click 3", strings.Join(r.calls[2], " "))
}

func TestPointerActionScaling(t *testing.T) {
	r := &recordingRunner{}
	e := newTestExecutor(t, r, 2)

	require.NoError(t, e.ExecutePointerAction(context.Background(), types.Point{X: 475, Y: 225}, action.LeftClick))
	assert.Equal(t, []string{"xdotool", "mousemove", "238", "113", "click", "1"}, r.calls[0])
}

func TestPointerActionOutOfBounds(t *testing.T) {
	r := &recordingRunner{}
	e := newTestExecutor(t, r, 1)

	err := e.ExecutePointerAction(context.Background(), types.Point{X: 2000, Y: 10}, action.LeftClick)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Empty(t, r.calls)

	// the right and bottom edges are one pixel off screen
	for _, pt := range []types.Point{{X: 1920, Y: 10}, {X: 10, Y: 1080}, {X: -1, Y: 10}} {
		err := e.ExecutePointerAction(context.Background(), pt, action.LeftClick)
		assert.ErrorIs(t, err, ErrOutOfBounds, pt.String())
	}
	assert.Empty(t, r.calls)

	e.SetBounds(types.Region{Width: 2560, Height: 1440})
	require.NoError(t, e.ExecutePointerAction(context.Background(), types.Point{X: 2000, Y: 10}, action.LeftClick))
	assert.Len(t, r.calls, 1)
}

func TestDirectInputKeepsTextAsOneArgument(t *testing.T) {
	r := &recordingRunner{}
	e := newTestExecutor(t, r, 1)
	ctx := context.Background()

	require.NoError(t, e.ExecuteDirectInput(ctx, action.DirectInput{Kind: action.TypeText, Payload: "hello world"}))
	require.NoError(t, e.ExecuteDirectInput(ctx, action.DirectInput{Kind: action.KeyPress, Payload: "ctrl+l"}))

	assert.Equal(t, []string{"xdotool", "type", "--delay", "50", "hello world"}, r.calls[0])
	assert.Equal(t, []string{"xdotool", "key", "ctrl+l"}, r.calls[1])
}

func TestRunnerErrorsAreWrapped(t *testing.T) {
	boom := errors.New("exit status 1")
	e := newTestExecutor(t, &recordingRunner{err: boom}, 1)

	err := e.ExecuteDirectInput(context.Background(), action.DirectInput{Kind: action.KeyPress, Payload: "enter"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "key action")
}

func TestActionDelayHonoursContext(t *testing.T) {
	r := &recordingRunner{}
	e, err := NewCommandExecutor(Options{
		Commands:    config.Default().Executor.Commands,
		ActionDelay: time.Hour,
		Runner:      r.run,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = e.ExecutePointerAction(ctx, types.Point{X: 1, Y: 1}, action.LeftClick)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, r.calls, 1)
}

func TestMissingTemplate(t *testing.T) {
	_, err := NewCommandExecutor(Options{Commands: map[string]string{"click": "xdotool click 1"}}, nil)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Executor

	e, err := New(cfg, types.Region{Width: 800, Height: 600}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CommandExecutor{}, e)

	cfg.Mode = "dryrun"
	e, err = New(cfg, types.Region{}, nil)
	require.NoError(t, err)
	require.IsType(t, &DryRun{}, e)
	assert.NoError(t, e.ExecutePointerAction(context.Background(), types.Point{X: 5, Y: 5}, action.LeftClick))

	cfg.Mode = "telepathy"
	_, err = New(cfg, types.Region{}, nil)
	assert.Error(t, err)
}
