// Package capture provides screen sources for the control loop.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/pkg/processing"
	"github.com/menta2k/gridpilot/pkg/types"
)

// Capturer takes a fresh screenshot on every call
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// FileSource re-reads an image file on every call, for replays and dry runs
type FileSource struct {
	Path string
	proc *processing.Processor
}

// NewFileSource creates a FileSource
func NewFileSource(path string, proc *processing.Processor) *FileSource {
	return &FileSource{Path: path, proc: proc}
}

// Capture implements Capturer
func (s *FileSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.proc.LoadImage(s.Path)
}

// URLSource fetches a screenshot from an HTTP endpoint
type URLSource struct {
	URL  string
	proc *processing.Processor
}

// NewURLSource creates a URLSource
func NewURLSource(url string, proc *processing.Processor) *URLSource {
	return &URLSource{URL: url, proc: proc}
}

// Capture implements Capturer
func (s *URLSource) Capture(ctx context.Context) (image.Image, error) {
	return s.proc.LoadImageFromURL(ctx, s.URL)
}

// CommandSource runs a screenshot tool. If any argument contains {path} the
// tool writes to a temporary file that is read back; otherwise the image is
// read from stdout.
type CommandSource struct {
	Command []string
	proc    *processing.Processor
	logger  *zap.Logger
}

// NewCommandSource creates a CommandSource
func NewCommandSource(command []string, proc *processing.Processor, logger *zap.Logger) (*CommandSource, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("capture command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandSource{Command: command, proc: proc, logger: logger.Named("capture")}, nil
}

// Capture implements Capturer
func (s *CommandSource) Capture(ctx context.Context) (image.Image, error) {
	args := make([]string, len(s.Command))
	copy(args, s.Command)

	var outPath string
	for i, a := range args {
		if strings.Contains(a, "{path}") {
			if outPath == "" {
				dir, err := os.MkdirTemp("", "gridpilot-capture-")
				if err != nil {
					return nil, fmt.Errorf("failed to create temp dir: %w", err)
				}
				defer os.RemoveAll(dir)
				outPath = filepath.Join(dir, "screen.png")
			}
			args[i] = strings.ReplaceAll(a, "{path}", outPath)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	if outPath != "" {
		return s.proc.LoadImage(outPath)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s wrote no image to stdout", args[0])
	}
	img, err := s.proc.DecodeImage(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	s.logger.Debug("Screen captured", zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))
	return img, nil
}

// Crop limits another source to a sub-region of the screen. Points resolved
// on the cropped image are relative to Region's origin.
type Crop struct {
	Source Capturer
	Region types.Region
	proc   *processing.Processor
}

// NewCrop creates a Crop
func NewCrop(src Capturer, region types.Region, proc *processing.Processor) *Crop {
	return &Crop{Source: src, Region: region, proc: proc}
}

// Capture implements Capturer
func (c *Crop) Capture(ctx context.Context) (image.Image, error) {
	img, err := c.Source.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return c.proc.CropToRegion(img, c.Region)
}

// New builds the source selected by cfg
func New(cfg config.CaptureConfig, proc *processing.Processor, logger *zap.Logger) (Capturer, error) {
	switch strings.ToLower(cfg.Source) {
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("capture.path is required for the file source")
		}
		return NewFileSource(cfg.Path, proc), nil
	case "url":
		if cfg.URL == "" {
			return nil, errors.New("capture.url is required for the url source")
		}
		return NewURLSource(cfg.URL, proc), nil
	case "command", "":
		return NewCommandSource(cfg.Command, proc, logger)
	default:
		return nil, fmt.Errorf("unknown capture source: %s", cfg.Source)
	}
}
