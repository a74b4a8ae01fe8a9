// Package controller drives a command to completion: capture the screen, ask
// for the next action, locate its target, act, and repeat within a bound.
package controller

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/observability"
	"github.com/menta2k/gridpilot/pkg/action"
	"github.com/menta2k/gridpilot/pkg/recorder"
	"github.com/menta2k/gridpilot/pkg/targeting"
	"github.com/menta2k/gridpilot/pkg/types"
)

var (
	// ErrCaptureFailed is returned when the screen could not be captured twice in a row
	ErrCaptureFailed = errors.New("screen capture failed")
	// ErrAlreadyRunning is returned by Run while another run is in progress
	ErrAlreadyRunning = errors.New("a command is already running")
)

// DefaultMaxIterations bounds a run
const DefaultMaxIterations = 20

// Capturer takes a fresh screenshot
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Resolver picks the next action for a command
type Resolver interface {
	ResolveNextAction(ctx context.Context, screen image.Image, command string, history []action.Entry) (action.Intent, error)
}

// Targeter locates a described element inside a region
type Targeter interface {
	ResolveTarget(ctx context.Context, screen image.Image, initial types.Region, goal string) (types.Point, error)
}

// Executor performs actions on the desktop
type Executor interface {
	ExecutePointerAction(ctx context.Context, pt types.Point, kind action.PointerKind) error
	ExecuteDirectInput(ctx context.Context, in action.DirectInput) error
}

// MarkerDrawer draws where a click landed, for the execution record
type MarkerDrawer interface {
	DrawClickMarker(img image.Image, pt types.Point, radius int) image.Image
}

// Options tune the controller
type Options struct {
	MaxIterations int
	Recorder      recorder.Recorder
	// Marker, when set, records a screenshot taken after each click with the
	// click point marked
	Marker       MarkerDrawer
	MarkerRadius int
	// Cancel is polled alongside the controller's own stop flag
	Cancel CancellationSource
}

// Controller runs one command at a time
type Controller struct {
	capturer Capturer
	resolver Resolver
	targeter Targeter
	executor Executor
	opts     Options
	logger   *zap.Logger

	stop StopFlag

	mu    sync.Mutex
	state State
}

// New creates a controller
func New(capturer Capturer, resolver Resolver, targeter Targeter, executor Executor, opts Options, logger *zap.Logger) *Controller {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MarkerRadius < 1 {
		opts.MarkerRadius = 15
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		capturer: capturer,
		resolver: resolver,
		targeter: targeter,
		executor: executor,
		opts:     opts,
		logger:   logger.Named("controller"),
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop asks the running command to end before its next iteration. In-flight
// oracle calls and actions are allowed to finish.
func (c *Controller) Stop() {
	c.stop.Request()
}

// StopRequested implements CancellationSource
func (c *Controller) StopRequested() bool {
	if c.stop.StopRequested() {
		return true
	}
	return c.opts.Cancel != nil && c.opts.Cancel.StopRequested()
}

// Run executes command until it completes, fails, is stopped, or hits the
// iteration bound. The returned error is the cause of an OutcomeError result
// when there is one; a stop request or a model-reported failure return a nil
// error with the reason in the result.
func (c *Controller) Run(ctx context.Context, command string) (Result, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	// cleared before Running is observable so a Stop seen as Running is kept
	c.stop.Reset()
	c.state = Running
	c.mu.Unlock()

	r := &run{
		Controller: c,
		res:        Result{RunID: uuid.NewString(), Command: command},
		started:    time.Now(),
	}
	c.opts.Recorder.Record(recorder.Start(r.res.RunID, command))
	c.transition(0, Idle, Running, command)
	c.logger.Info("Run started", zap.String("run_id", r.res.RunID), zap.String("command", command))

	err := r.loop(ctx)

	r.res.History = r.history.Entries()
	d := time.Since(r.started)
	observability.RecordRun(r.res.Outcome.String(), d)
	c.transition(r.res.Iterations, Terminated, Idle, "")
	c.opts.Recorder.Record(recorder.Summary(r.res))

	c.logger.Info("Run finished",
		zap.String("run_id", r.res.RunID),
		zap.Stringer("outcome", r.res.Outcome),
		zap.String("reason", r.res.Reason),
		zap.Int("iterations", r.res.Iterations),
		zap.Duration("duration", d))

	c.setState(Idle)
	return r.res, err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) transition(step int, from, to State, detail string) {
	c.opts.Recorder.Record(recorder.Transition(step, from.String(), to.String(), detail))
}

// run holds the state of one Run call
type run struct {
	*Controller
	res     Result
	history action.History
	started time.Time
}

func (r *run) terminate(step int, outcome Outcome, reason string, cause error) error {
	from := r.State()
	r.setState(Terminated)
	r.res.Outcome = outcome
	r.res.Reason = reason
	r.transition(step, from, Terminated, outcome.String()+": "+reason)
	return cause
}

func (r *run) fail(step int, cause error) error {
	return r.terminate(step, OutcomeError, cause.Error(), cause)
}

func (r *run) loop(ctx context.Context) error {
	for n := 1; ; n++ {
		if r.StopRequested() {
			r.setState(Stopping)
			r.transition(n, Running, Stopping, "stop requested")
			return r.terminate(n, OutcomeError, ReasonUserCancelled, nil)
		}
		if err := ctx.Err(); err != nil {
			return r.fail(n, err)
		}
		if n > r.opts.MaxIterations {
			return r.terminate(n, OutcomeMaxIterationsExceeded,
				fmt.Sprintf("no result after %d iterations", r.opts.MaxIterations), nil)
		}

		done, err := r.tick(recorder.WithStep(ctx, n), n)
		if done || err != nil {
			return err
		}
		r.res.Iterations = n
		observability.RecordIteration()
	}
}

// tick runs iteration n; done reports that the run reached a terminal state
func (r *run) tick(ctx context.Context, n int) (bool, error) {
	logger := r.logger.With(zap.Int("iteration", n))

	screen, err := r.capture(ctx, logger)
	if err != nil {
		return true, r.fail(n, err)
	}
	r.opts.Recorder.Record(recorder.Image(n, "screenshot", screen))

	intent, err := r.resolver.ResolveNextAction(ctx, screen, r.res.Command, r.history.Entries())
	if err != nil {
		return true, r.fail(n, fmt.Errorf("resolve next action: %w", err))
	}
	r.opts.Recorder.Record(recorder.JSON(n, "action", action.Encode(intent)))
	logger.Info("Next action", zap.String("intent", action.MarshalIntent(intent)))

	switch in := intent.(type) {
	case action.Complete:
		r.history.Append(in, action.Succeeded(""))
		r.res.Iterations = n
		observability.RecordIteration()
		return true, r.terminate(n, OutcomeComplete, "command completed", nil)

	case action.Fail:
		r.history.Append(in, action.Failed(in.Reason))
		r.res.Iterations = n
		observability.RecordIteration()
		return true, r.terminate(n, OutcomeError, in.Reason, nil)

	case action.PointerTarget:
		bounds := types.ScreenRegion(screen)
		pt, err := r.targeter.ResolveTarget(ctx, screen, bounds, in.Description)
		if err != nil {
			if ctx.Err() != nil {
				return true, r.fail(n, ctx.Err())
			}
			if targeting.IsRecoverable(err) {
				logger.Warn("Target not found", zap.String("target", in.Description), zap.Error(err))
			} else {
				logger.Error("Targeting failed", zap.String("target", in.Description), zap.Error(err))
			}
			r.history.Append(in, action.Failed(err.Error()))
			observability.RecordAction(in.Kind.String(), observability.StatusError)
			return false, nil
		}

		err = r.executor.ExecutePointerAction(ctx, pt, in.Kind)
		if err == nil {
			r.recordClick(ctx, n, pt, logger)
		}
		return r.settle(ctx, n, in, in.Kind.String(), fmt.Sprintf("%s at %s", in.Kind, pt), err)

	case action.DirectInput:
		err := r.executor.ExecuteDirectInput(ctx, in)
		return r.settle(ctx, n, in, in.Kind.String(), in.Kind.String(), err)

	default:
		return true, r.fail(n, fmt.Errorf("%w: unhandled intent %T", action.ErrMalformedIntent, intent))
	}
}

// settle appends the executor's outcome to the history. Only a cancelled
// context ends the run; other executor errors are left for the next
// iteration to react to.
func (r *run) settle(ctx context.Context, n int, in action.Intent, kind, detail string, err error) (bool, error) {
	observability.RecordAction(kind, observability.StatusOf(err))
	if err != nil {
		r.history.Append(in, action.Failed(err.Error()))
		if ctx.Err() != nil {
			return true, r.fail(n, ctx.Err())
		}
		r.logger.Warn("Action failed", zap.Int("iteration", n), zap.String("action", kind), zap.Error(err))
		return false, nil
	}
	r.history.Append(in, action.Succeeded(detail))
	return false, nil
}

// recordClick records a screenshot taken after the click with the click
// point marked. A failed capture only costs the artifact.
func (r *run) recordClick(ctx context.Context, n int, pt types.Point, logger *zap.Logger) {
	if r.opts.Marker == nil {
		return
	}
	after, err := r.capturer.Capture(ctx)
	if err != nil {
		logger.Warn("Post-click capture failed", zap.Error(err))
		return
	}
	r.opts.Recorder.Record(recorder.Image(n, "click", r.opts.Marker.DrawClickMarker(after, pt, r.opts.MarkerRadius)))
}

// capture takes a screenshot, retrying once
func (r *run) capture(ctx context.Context, logger *zap.Logger) (image.Image, error) {
	img, err := r.capturer.Capture(ctx)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Warn("Capture failed, retrying", zap.Error(err))

	img, err = r.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	return img, nil
}
