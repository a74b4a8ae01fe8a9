// Package gridpilot carries out natural-language commands on a desktop by
// asking a vision model what to do next and where exactly to click.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/gridpilot"
//		"github.com/menta2k/gridpilot/internal/config"
//	)
//
//	func main() {
//		cfg, err := config.Load("")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		pilot, err := gridpilot.New(context.Background(), cfg, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer pilot.Close()
//
//		result, err := pilot.Run(context.Background(), "open the browser and search for cats")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%s after %d iterations\n", result.Outcome, result.Iterations)
//	}
//
// The package wires four parts together:
//
// 1. Action resolution (pkg/action): asks the model for the single next step
// 2. Targeting (pkg/targeting): narrows a described element to a pixel through successive grids
// 3. Control loop (pkg/controller): bounded, stoppable capture/resolve/act cycle
// 4. Recorder (pkg/recorder): per-run folder of screenshots, prompts and transitions
//
// Screen capture (pkg/capture), input (pkg/input) and the model transport
// (pkg/oracle) are chosen by configuration.
package gridpilot

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/pkg/action"
	"github.com/menta2k/gridpilot/pkg/capture"
	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/controller"
	"github.com/menta2k/gridpilot/pkg/input"
	"github.com/menta2k/gridpilot/pkg/oracle"
	"github.com/menta2k/gridpilot/pkg/processing"
	"github.com/menta2k/gridpilot/pkg/recorder"
	"github.com/menta2k/gridpilot/pkg/targeting"
	"github.com/menta2k/gridpilot/pkg/types"
)

// Version of the gridpilot library
const Version = "0.3.0"

// Option replaces a configured collaborator
type Option func(*deps)

type deps struct {
	oracle   client.VisionClient
	capturer capture.Capturer
	executor input.Executor
}

// WithOracle uses vc instead of the configured oracle backend
func WithOracle(vc client.VisionClient) Option {
	return func(d *deps) { d.oracle = vc }
}

// WithCapturer uses c instead of the configured capture source
func WithCapturer(c capture.Capturer) Option {
	return func(d *deps) { d.capturer = c }
}

// WithExecutor uses e instead of the configured executor
func WithExecutor(e input.Executor) Option {
	return func(d *deps) { d.executor = e }
}

// Pilot provides a high-level interface over the control loop
type Pilot struct {
	cfg        *config.Config
	proc       *processing.Processor
	pipeline   *targeting.Pipeline
	controller *controller.Controller
	folder     *recorder.Folder
	rec        recorder.Recorder
	logger     *zap.Logger

	closeOnce sync.Once
}

// New wires cfg into a ready Pilot
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Pilot, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var d deps
	for _, opt := range opts {
		opt(&d)
	}

	proc := processing.NewProcessor()

	var rec recorder.Recorder = recorder.Nop{}
	var folder *recorder.Folder
	if cfg.Recorder.Enabled {
		f, err := recorder.New(recorder.Options{
			Dir:          cfg.Recorder.Dir,
			ImageFormat:  cfg.Recorder.ImageFormat,
			ImageQuality: cfg.Recorder.ImageQuality,
			QueueSize:    cfg.Recorder.QueueSize,
		}, proc, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create recorder: %w", err)
		}
		rec, folder = f, f
	}

	p := &Pilot{cfg: cfg, proc: proc, folder: folder, rec: rec, logger: logger}
	if err := p.build(ctx, d, rec); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pilot) build(ctx context.Context, d deps, rec recorder.Recorder) error {
	cfg := p.cfg

	vc := d.oracle
	if vc == nil {
		var err error
		if vc, err = oracle.New(ctx, cfg.Oracle, p.logger); err != nil {
			return err
		}
	}

	capt := d.capturer
	if capt == nil {
		var err error
		if capt, err = capture.New(cfg.Capture, p.proc, p.logger); err != nil {
			return fmt.Errorf("failed to create capture source: %w", err)
		}
	}

	exec := d.executor
	if exec == nil {
		var err error
		if exec, err = input.New(cfg.Executor, types.Region{}, p.logger); err != nil {
			return fmt.Errorf("failed to create executor: %w", err)
		}
	}

	pipeline, err := targeting.NewPipeline(vc, p.proc, cfg.Targeting.Stages, targeting.Options{
		Attempts:     cfg.Targeting.Attempts,
		ContextImage: cfg.Targeting.ContextImage,
		ImageFormat:  cfg.Oracle.ImageFormat,
		MaxImageDim:  cfg.Oracle.MaxImageDim,
		ImageQuality: cfg.Oracle.ImageQuality,
		Recorder:     rec,
	}, p.logger)
	if err != nil {
		return fmt.Errorf("failed to create targeting pipeline: %w", err)
	}
	p.pipeline = pipeline

	resolver := action.NewResolver(vc, p.proc, action.Options{
		Attempts:     cfg.Loop.ResolveAttempts,
		ImageFormat:  cfg.Oracle.ImageFormat,
		MaxImageDim:  cfg.Oracle.MaxImageDim,
		ImageQuality: cfg.Oracle.ImageQuality,
		Recorder:     rec,
	}, p.logger)

	p.controller = controller.New(boundsTracker{Capturer: capt, exec: exec}, resolver, pipeline, exec, controller.Options{
		MaxIterations: cfg.Loop.MaxIterations,
		Recorder:      rec,
		Marker:        p.proc,
		MarkerRadius:  cfg.Recorder.MarkerRadius,
	}, p.logger)
	return nil
}

// boundsTracker keeps the executor's click bounds in step with the last screenshot
type boundsTracker struct {
	capture.Capturer
	exec input.Executor
}

func (b boundsTracker) Capture(ctx context.Context) (image.Image, error) {
	img, err := b.Capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if s, ok := b.exec.(interface{ SetBounds(types.Region) }); ok {
		s.SetBounds(types.ScreenRegion(img))
	}
	return img, nil
}

// Run carries out command. See controller.Controller.Run.
func (p *Pilot) Run(ctx context.Context, command string) (controller.Result, error) {
	return p.controller.Run(ctx, command)
}

// Stop asks the current run to end before its next iteration
func (p *Pilot) Stop() {
	p.controller.Stop()
}

// State returns the control loop state
func (p *Pilot) State() controller.State {
	return p.controller.State()
}

// LocateSummary is the summary.json of a Locate call
type LocateSummary struct {
	RunID       string       `json:"run_id"`
	Description string       `json:"description"`
	Point       *types.Point `json:"point,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Locate runs only the targeting pipeline over the whole of screen. Its
// artifacts go to a run folder of their own. It cannot overlap a Run.
func (p *Pilot) Locate(ctx context.Context, screen image.Image, description string) (types.Point, error) {
	if p.controller.State() != controller.Idle {
		return types.Point{}, controller.ErrAlreadyRunning
	}

	summary := LocateSummary{RunID: uuid.NewString(), Description: description}
	p.rec.Record(recorder.Start(summary.RunID, "locate: "+description))

	pt, err := p.pipeline.ResolveTarget(recorder.WithStep(ctx, 1), screen, types.ScreenRegion(screen), description)
	if err != nil {
		summary.Error = err.Error()
	} else {
		summary.Point = &pt
	}
	p.rec.Record(recorder.Summary(summary))
	return pt, err
}

// Processor returns the image processor used for rendering and encoding
func (p *Pilot) Processor() *processing.Processor {
	return p.proc
}

// RunDir returns the recorder folder of the current or last run, if recording
func (p *Pilot) RunDir() string {
	if p.folder == nil {
		return ""
	}
	return p.folder.RunDir()
}

// Close flushes the recorder
func (p *Pilot) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.folder != nil {
			err = p.folder.Close()
		}
	})
	return err
}
