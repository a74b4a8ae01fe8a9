// Package input sends pointer and keyboard actions to the desktop.
package input

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/pkg/action"
	"github.com/menta2k/gridpilot/pkg/types"
)

// ErrOutOfBounds is returned for a click outside the screen
var ErrOutOfBounds = errors.New("click outside screen bounds")

// Template keys
const (
	KeyClick       = "click"
	KeyDoubleClick = "double_click"
	KeyRightClick  = "right_click"
	KeyType        = "type"
	KeyPress       = "key"
)

// Runner runs one external command
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Options configure a CommandExecutor
type Options struct {
	// Commands maps template keys to command lines. {x} {y} {text} {key}
	// are substituted per argument, so typed text stays a single argument.
	Commands map[string]string
	// ScaleFactor converts screenshot pixels to input coordinates (2 on most HiDPI displays)
	ScaleFactor float64
	// ActionDelay is waited after each action so the UI can settle
	ActionDelay time.Duration
	// Bounds, when non-empty, rejects clicks outside it
	Bounds types.Region
	Runner Runner
}

// CommandExecutor drives the desktop through command-line tools such as
// xdotool or cliclick
type CommandExecutor struct {
	templates map[string][]string
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	bounds types.Region
}

// NewCommandExecutor parses the templates in opts
func NewCommandExecutor(opts Options, logger *zap.Logger) (*CommandExecutor, error) {
	if opts.ScaleFactor <= 0 {
		opts.ScaleFactor = 1
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	templates := make(map[string][]string, len(opts.Commands))
	for _, key := range []string{KeyClick, KeyDoubleClick, KeyRightClick, KeyType, KeyPress} {
		line := strings.TrimSpace(opts.Commands[key])
		if line == "" {
			return nil, fmt.Errorf("missing command template for %q", key)
		}
		templates[key] = strings.Fields(line)
	}

	return &CommandExecutor{
		templates: templates,
		opts:      opts,
		logger:    logger.Named("executor"),
		bounds:    opts.Bounds,
	}, nil
}

// SetBounds replaces the screen bounds used to validate clicks
func (e *CommandExecutor) SetBounds(r types.Region) {
	e.mu.Lock()
	e.bounds = r
	e.mu.Unlock()
}

// ExecutePointerAction clicks at pt, given in screenshot pixels
func (e *CommandExecutor) ExecutePointerAction(ctx context.Context, pt types.Point, kind action.PointerKind) error {
	e.mu.Lock()
	bounds := e.bounds
	e.mu.Unlock()
	if !bounds.Empty() && !bounds.ContainsPixel(pt) {
		return fmt.Errorf("%w: %s not in %s", ErrOutOfBounds, pt, bounds)
	}

	key := KeyClick
	switch kind {
	case action.DoubleClick:
		key = KeyDoubleClick
	case action.RightClick:
		key = KeyRightClick
	}

	x := int(math.Round(float64(pt.X) / e.opts.ScaleFactor))
	y := int(math.Round(float64(pt.Y) / e.opts.ScaleFactor))
	vars := map[string]string{"{x}": strconv.Itoa(x), "{y}": strconv.Itoa(y)}

	e.logger.Info("Pointer action", zap.Stringer("kind", kind), zap.Stringer("point", pt), zap.Int("x", x), zap.Int("y", y))
	return e.run(ctx, key, vars)
}

// ExecuteDirectInput types text or presses a key
func (e *CommandExecutor) ExecuteDirectInput(ctx context.Context, in action.DirectInput) error {
	if in.Kind == action.KeyPress {
		e.logger.Info("Key press", zap.String("key", in.Payload))
		return e.run(ctx, KeyPress, map[string]string{"{key}": in.Payload})
	}
	e.logger.Info("Typing text", zap.Int("length", len(in.Payload)))
	return e.run(ctx, KeyType, map[string]string{"{text}": in.Payload})
}

func (e *CommandExecutor) run(ctx context.Context, key string, vars map[string]string) error {
	tmpl := e.templates[key]
	args := make([]string, len(tmpl))
	for i, a := range tmpl {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		args[i] = a
	}

	if err := e.opts.Runner(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("%s action: %w", key, err)
	}
	return wait(ctx, e.opts.ActionDelay)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DryRun logs actions without performing them
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun creates a DryRun executor
func NewDryRun(logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{logger: logger.Named("dryrun")}
}

// ExecutePointerAction logs the click
func (d *DryRun) ExecutePointerAction(ctx context.Context, pt types.Point, kind action.PointerKind) error {
	d.logger.Info("Would click", zap.Stringer("kind", kind), zap.Stringer("point", pt))
	return ctx.Err()
}

// ExecuteDirectInput logs the input
func (d *DryRun) ExecuteDirectInput(ctx context.Context, in action.DirectInput) error {
	d.logger.Info("Would send input", zap.Stringer("kind", in.Kind), zap.String("payload", in.Payload))
	return ctx.Err()
}

// Executor is implemented by CommandExecutor and DryRun
type Executor interface {
	ExecutePointerAction(ctx context.Context, pt types.Point, kind action.PointerKind) error
	ExecuteDirectInput(ctx context.Context, in action.DirectInput) error
}

// New builds the executor selected by cfg. bounds is the screen size used
// for click validation; pass an empty region to skip the check.
func New(cfg config.ExecutorConfig, bounds types.Region, logger *zap.Logger) (Executor, error) {
	switch strings.ToLower(cfg.Mode) {
	case "dryrun":
		return NewDryRun(logger), nil
	case "command", "":
		return NewCommandExecutor(Options{
			Commands:    cfg.Commands,
			ScaleFactor: cfg.ScaleFactor,
			ActionDelay: cfg.ActionDelay,
			Bounds:      bounds,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown executor mode: %s", cfg.Mode)
	}
}
