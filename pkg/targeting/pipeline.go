// Package targeting turns a description of an on-screen element into a pixel
// coordinate by repeatedly asking a vision model to pick a grid cell.
package targeting

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/grid"
	"github.com/menta2k/gridpilot/pkg/types"
)

// DefaultStages is a coarse 10x10 pass followed by a 2x2 refinement
var DefaultStages = []types.GridSpec{
	{Columns: 10, Rows: 10},
	{Columns: 2, Rows: 2},
}

// Pipeline chains stages; each stage refines the region picked by the previous one
type Pipeline struct {
	stages []*Stage
	logger *zap.Logger
}

// NewPipeline creates a pipeline with one stage per spec, in order
func NewPipeline(oracle client.VisionClient, renderer Renderer, specs []types.GridSpec, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: pipeline needs at least one stage", grid.ErrInvalidGridSpec)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("targeting")

	stages := make([]*Stage, 0, len(specs))
	for i, spec := range specs {
		st, err := NewStage(i+1, spec, oracle, renderer, opts, logger)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return &Pipeline{stages: stages, logger: logger}, nil
}

// Stages returns the grid layout of every stage
func (p *Pipeline) Stages() []types.GridSpec {
	out := make([]types.GridSpec, len(p.stages))
	for i, st := range p.stages {
		out[i] = st.Spec()
	}
	return out
}

// ResolveTarget runs every stage starting from initial and returns the center
// of the final cell. No partial result is returned on failure.
func (p *Pipeline) ResolveTarget(ctx context.Context, screen image.Image, initial types.Region, goal string) (types.Point, error) {
	if initial.Empty() {
		return types.Point{}, fmt.Errorf("%w: empty initial region %s", grid.ErrDegenerateRegion, initial)
	}

	region := initial
	for _, st := range p.stages {
		next, err := st.Refine(ctx, screen, region, goal)
		if err != nil {
			return types.Point{}, err
		}
		region = next
	}

	pt := grid.CenterOf(region)
	if !initial.Contains(pt) {
		return types.Point{}, fmt.Errorf("%w: target %s outside %s", ErrRegionInvariant, pt, initial)
	}

	p.logger.Info("Target resolved",
		zap.String("goal", goal),
		zap.Stringer("cell", region),
		zap.Stringer("point", pt))
	return pt, nil
}

// IsRecoverable reports whether err only fails the current targeting attempt
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrStageResolutionFailed)
}
