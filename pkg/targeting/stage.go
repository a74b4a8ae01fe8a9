package targeting

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/observability"
	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/grid"
	"github.com/menta2k/gridpilot/pkg/recorder"
	"github.com/menta2k/gridpilot/pkg/reply"
	"github.com/menta2k/gridpilot/pkg/types"
)

var (
	// ErrStageResolutionFailed is returned when a stage could not get a usable
	// cell from the oracle within its attempts
	ErrStageResolutionFailed = errors.New("stage resolution failed")
	// ErrRegionInvariant is returned when a stage would not shrink its region
	ErrRegionInvariant = errors.New("refined region is not a strict subset of its input")
)

// Renderer draws grids and prepares images for the oracle
type Renderer interface {
	RenderGrid(img image.Image, region types.Region, spec types.GridSpec) (image.Image, error)
	OutlineRegion(img image.Image, region types.Region) image.Image
	PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (types.EncodedImage, error)
}

// Options tune every stage of a pipeline
type Options struct {
	// Attempts per stage; parse failures, bad labels and transport errors each use one
	Attempts int
	// ContextImage sends the outlined full screen alongside later stages
	ContextImage bool
	ImageFormat  string
	MaxImageDim  int
	ImageQuality int
	Recorder     recorder.Recorder
}

func (o Options) withDefaults() Options {
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.ImageFormat == "" {
		o.ImageFormat = "png"
	}
	if o.ImageQuality < 1 {
		o.ImageQuality = 85
	}
	if o.Recorder == nil {
		o.Recorder = recorder.Nop{}
	}
	return o
}

// Stage narrows a region to one cell of its grid
type Stage struct {
	index    int
	spec     types.GridSpec
	oracle   client.VisionClient
	renderer Renderer
	opts     Options
	logger   *zap.Logger
}

// NewStage creates the stage at 1-based position index
func NewStage(index int, spec types.GridSpec, oracle client.VisionClient, renderer Renderer, opts Options, logger *zap.Logger) (*Stage, error) {
	if err := grid.Validate(spec); err != nil {
		return nil, err
	}
	if spec.Cells() < 2 {
		return nil, fmt.Errorf("%w: stage %d has a single cell and cannot refine", grid.ErrInvalidGridSpec, index)
	}
	if oracle == nil || renderer == nil {
		return nil, fmt.Errorf("stage %d needs an oracle and a renderer", index)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{
		index:    index,
		spec:     spec,
		oracle:   oracle,
		renderer: renderer,
		opts:     opts.withDefaults(),
		logger:   logger.Named("stage" + strconv.Itoa(index)),
	}, nil
}

// Spec returns the stage's grid layout
func (s *Stage) Spec() types.GridSpec { return s.spec }

type cellReply struct {
	X reply.Text `json:"X"`
	Y reply.Text `json:"Y"`
}

// Refine asks the oracle which cell of region holds goal and returns that
// cell's bounds. The screen image is only read.
func (s *Stage) Refine(ctx context.Context, screen image.Image, region types.Region, goal string) (types.Region, error) {
	step := recorder.StepFrom(ctx)
	name := "stage" + strconv.Itoa(s.index)

	gridded, err := s.renderer.RenderGrid(screen, region, s.spec)
	if err != nil {
		return types.Region{}, fmt.Errorf("stage %d: render %s grid over %s: %w", s.index, s.spec, region, err)
	}
	s.opts.Recorder.Record(recorder.Image(step, name+"_grid", gridded))

	griddedEnc, err := s.renderer.PrepareImageForModel(gridded, s.opts.ImageFormat, s.opts.MaxImageDim, s.opts.ImageQuality)
	if err != nil {
		return types.Region{}, fmt.Errorf("stage %d: encode grid image: %w", s.index, err)
	}
	images := []types.EncodedImage{griddedEnc}

	withContext := s.index > 1 && s.opts.ContextImage
	if withContext {
		outlined := s.renderer.OutlineRegion(screen, region)
		ctxEnc, err := s.renderer.PrepareImageForModel(outlined, s.opts.ImageFormat, s.opts.MaxImageDim, s.opts.ImageQuality)
		if err != nil {
			return types.Region{}, fmt.Errorf("stage %d: encode context image: %w", s.index, err)
		}
		images = append(images, ctxEnc)
		s.opts.Recorder.Record(recorder.Image(step, name+"_context", outlined))
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		prompt := stagePrompt(goal, s.spec, withContext, attempt, lastErr)
		s.opts.Recorder.Record(recorder.Text(step, name+"_prompt", prompt))

		raw, err := s.oracle.Query(ctx, client.Query{
			Site:   name,
			System: stageSystemPrompt,
			Prompt: prompt,
			Images: images,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.Region{}, ctxErr
			}
			lastErr = fmt.Errorf("oracle: %w", err)
			s.fail(attempt, lastErr)
			continue
		}
		s.opts.Recorder.Record(recorder.Text(step, name+"_response", raw))

		label, err := parseCell(raw)
		if err != nil {
			lastErr = err
			s.fail(attempt, lastErr)
			continue
		}

		bounds, err := grid.CellBounds(region, s.spec, label)
		if err != nil {
			if errors.Is(err, grid.ErrOutOfRangeLabel) {
				lastErr = err
				s.fail(attempt, lastErr)
				continue
			}
			return types.Region{}, fmt.Errorf("stage %d: %w", s.index, err)
		}

		if bounds.Empty() || !region.ContainsRegion(bounds) || bounds == region {
			return types.Region{}, fmt.Errorf("%w: stage %d picked %s inside %s", ErrRegionInvariant, s.index, bounds, region)
		}

		observability.RecordStageAttempt(strconv.Itoa(s.index), observability.StatusSuccess)
		s.logger.Debug("Cell selected",
			zap.Stringer("cell", label),
			zap.Stringer("bounds", bounds),
			zap.Int("attempt", attempt))
		return bounds, nil
	}

	return types.Region{}, fmt.Errorf("%w: stage %d (%s) gave up after %d attempts: %w",
		ErrStageResolutionFailed, s.index, s.spec, s.opts.Attempts, lastErr)
}

func (s *Stage) fail(attempt int, err error) {
	observability.RecordStageAttempt(strconv.Itoa(s.index), observability.StatusError)
	s.logger.Warn("Stage attempt failed", zap.Int("attempt", attempt), zap.Error(err))
}

func parseCell(raw string) (types.CellLabel, error) {
	cell, err := reply.Decode[cellReply](raw)
	if err != nil {
		return types.CellLabel{}, err
	}
	if cell.X == "" || cell.Y == "" {
		return types.CellLabel{}, fmt.Errorf("reply is missing X or Y: %s", reply.Truncate(raw, 120))
	}
	return types.CellLabel{Column: string(cell.X), Row: string(cell.Y)}, nil
}
