// Package recorder persists execution artifacts of each run to disk.
//
// Every run gets its own folder named after its start time and run ID:
//
//	execution/2026-01-02_15-04-05_1a2b3c4d/
//	    command.txt
//	    step_01_screenshot.png
//	    step_01_action_prompt.txt
//	    step_01_action_response.json
//	    ...
//	    transitions.jsonl
//	    summary.json
//
// All writes happen on one background goroutine so recording never blocks the
// control loop.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/utils"
	"github.com/menta2k/gridpilot/pkg/processing"
)

// Recorder accepts artifacts without blocking
type Recorder interface {
	Record(a Artifact)
}

// Nop discards every artifact
type Nop struct{}

// Record implements Recorder
func (Nop) Record(Artifact) {}

// Options configures a Folder recorder
type Options struct {
	Dir          string
	ImageFormat  string
	ImageQuality int
	QueueSize    int
}

// Folder writes artifacts into per-run folders under Options.Dir
type Folder struct {
	opts   Options
	proc   *processing.Processor
	logger *zap.Logger

	queue chan Artifact
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	dropped atomic.Int64

	// runDir is the open run, cleared when its summary is written; lastDir
	// outlives it for RunDir
	runDir  string
	lastDir string

	// owned by the writer goroutine
	transitions *os.File
	transWriter *bufio.Writer
	names       map[string]int
}

var _ Recorder = (*Folder)(nil)

// New creates a Folder recorder and starts its writer goroutine
func New(opts Options, proc *processing.Processor, logger *zap.Logger) (*Folder, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("recorder directory is required")
	}
	if err := utils.EnsureDir(opts.Dir); err != nil {
		return nil, fmt.Errorf("failed to create recorder directory: %w", err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "png"
	}
	if opts.ImageQuality <= 0 {
		opts.ImageQuality = 90
	}
	if proc == nil {
		proc = processing.NewProcessor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Folder{
		opts:   opts,
		proc:   proc,
		logger: logger.Named("recorder"),
		queue:  make(chan Artifact, opts.QueueSize),
		done:   make(chan struct{}),
	}
	go f.loop()
	return f, nil
}

// Record queues a for writing. A full queue drops the artifact.
func (f *Folder) Record(a Artifact) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- a:
	default:
		f.dropped.Add(1)
		f.logger.Warn("Recorder queue full, dropping artifact",
			zap.Stringer("kind", a.Kind), zap.Int("step", a.Step), zap.String("name", a.Name))
	}
}

// Dropped returns the number of artifacts dropped so far
func (f *Folder) Dropped() int64 {
	return f.dropped.Load()
}

// RunDir returns the folder of the current or last run. Only meaningful after
// Close or from tests that have drained the queue.
func (f *Folder) RunDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastDir
}

// Close stops accepting artifacts and waits for the queue to drain
func (f *Folder) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.queue)
		f.mu.Unlock()
	})
	<-f.done
	return nil
}

func (f *Folder) loop() {
	defer close(f.done)
	for a := range f.queue {
		if err := f.write(a); err != nil {
			f.logger.Warn("Failed to write artifact",
				zap.Stringer("kind", a.Kind), zap.String("name", a.Name), zap.Error(err))
		}
	}
	f.closeRun()
}

func (f *Folder) write(a Artifact) error {
	if a.Kind == KindStart {
		return f.startRun(a)
	}
	if f.currentRunDir() == "" {
		return fmt.Errorf("no run started")
	}

	switch a.Kind {
	case KindImage:
		path := f.stepPath(a.Step, a.Name, f.opts.ImageFormat)
		return f.proc.SaveImage(a.Image, path, f.opts.ImageFormat, f.opts.ImageQuality, false)
	case KindText:
		return os.WriteFile(f.stepPath(a.Step, a.Name, "txt"), []byte(a.Text), 0644)
	case KindJSON:
		return writeJSON(f.stepPath(a.Step, a.Name, "json"), a.Data)
	case KindTransition:
		return f.appendTransition(a.Data)
	case KindSummary:
		err := writeJSON(filepath.Join(f.currentRunDir(), "summary.json"), a.Data)
		f.closeRun()
		return err
	default:
		return fmt.Errorf("unknown artifact kind %d", a.Kind)
	}
}

func (f *Folder) startRun(a Artifact) error {
	f.closeRun()

	ts := a.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	id := a.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	name := ts.Format("2006-01-02_15-04-05")
	if id != "" {
		name += "_" + utils.SanitizeFilename(id)
	}

	dir := filepath.Join(f.opts.Dir, name)
	if err := utils.EnsureDir(dir); err != nil {
		return err
	}

	tf, err := os.Create(filepath.Join(dir, "transitions.jsonl"))
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.runDir = dir
	f.lastDir = dir
	f.mu.Unlock()
	f.transitions = tf
	f.transWriter = bufio.NewWriter(tf)
	f.names = make(map[string]int)

	f.logger.Debug("Run folder created", zap.String("dir", dir))
	return os.WriteFile(filepath.Join(dir, "command.txt"), []byte(a.Text), 0644)
}

// closeRun finishes the open run; later artifacts need a new Start
func (f *Folder) closeRun() {
	f.mu.Lock()
	f.runDir = ""
	f.mu.Unlock()

	if f.transitions == nil {
		return
	}
	if err := f.transWriter.Flush(); err != nil {
		f.logger.Warn("Failed to flush transitions", zap.Error(err))
	}
	if err := f.transitions.Close(); err != nil {
		f.logger.Warn("Failed to close transitions", zap.Error(err))
	}
	f.transitions = nil
	f.transWriter = nil
}

func (f *Folder) appendTransition(v any) error {
	if f.transWriter == nil {
		return fmt.Errorf("run already finished")
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.transWriter.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.transWriter.Flush()
}

func (f *Folder) currentRunDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.runDir
}

// stepPath names a file step_NN_<name>.<ext>, adding a counter when the same
// name is recorded twice in one step
func (f *Folder) stepPath(step int, name, ext string) string {
	base := fmt.Sprintf("step_%02d_%s", step, utils.SanitizeFilename(name))
	n := f.names[base+"."+ext]
	f.names[base+"."+ext] = n + 1
	if n > 0 {
		base = fmt.Sprintf("%s_%d", base, n+1)
	}
	return filepath.Join(f.currentRunDir(), base+"."+ext)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
