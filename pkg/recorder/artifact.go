package recorder

import (
	"context"
	"image"
	"time"
)

// Kind tells the recorder how to persist an artifact
type Kind int

const (
	KindStart Kind = iota
	KindImage
	KindText
	KindJSON
	KindTransition
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindImage:
		return "image"
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	case KindTransition:
		return "transition"
	case KindSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Artifact is one thing worth keeping from a run. Images must not be
// modified after they are recorded.
type Artifact struct {
	Kind  Kind
	Step  int
	Name  string
	Image image.Image
	Text  string
	Data  any
	Time  time.Time
	RunID string
}

// Start opens a new run folder and stores the command
func Start(runID, command string) Artifact {
	return Artifact{Kind: KindStart, RunID: runID, Text: command, Time: time.Now()}
}

// Image stores img as step_NN_<name>
func Image(step int, name string, img image.Image) Artifact {
	return Artifact{Kind: KindImage, Step: step, Name: name, Image: img, Time: time.Now()}
}

// Text stores body as step_NN_<name>.txt
func Text(step int, name, body string) Artifact {
	return Artifact{Kind: KindText, Step: step, Name: name, Text: body, Time: time.Now()}
}

// JSON stores v as step_NN_<name>.json
func JSON(step int, name string, v any) Artifact {
	return Artifact{Kind: KindJSON, Step: step, Name: name, Data: v, Time: time.Now()}
}

// TransitionRecord is one line of transitions.jsonl
type TransitionRecord struct {
	Time      time.Time `json:"time"`
	Iteration int       `json:"iteration"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Detail    string    `json:"detail,omitempty"`
}

// Transition logs a state change of the control loop
func Transition(step int, from, to, detail string) Artifact {
	now := time.Now()
	return Artifact{
		Kind: KindTransition,
		Step: step,
		Time: now,
		Data: TransitionRecord{Time: now, Iteration: step, From: from, To: to, Detail: detail},
	}
}

// Summary writes summary.json and closes the run folder
func Summary(v any) Artifact {
	return Artifact{Kind: KindSummary, Data: v, Time: time.Now()}
}

type stepKey struct{}

// WithStep attaches the current loop iteration to ctx so that nested
// components name their artifacts consistently
func WithStep(ctx context.Context, step int) context.Context {
	return context.WithValue(ctx, stepKey{}, step)
}

// StepFrom returns the iteration stored by WithStep, or 0
func StepFrom(ctx context.Context) int {
	if step, ok := ctx.Value(stepKey{}).(int); ok {
		return step
	}
	return 0
}
