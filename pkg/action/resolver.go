package action

import (
	"context"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/recorder"
	"github.com/menta2k/gridpilot/pkg/reply"
	"github.com/menta2k/gridpilot/pkg/types"
)

const systemPrompt = "You are a desktop automation assistant. Analyze screenshots and determine actions. " +
	"You must respond with valid JSON only."

// ImageEncoder prepares screenshots for the model
type ImageEncoder interface {
	PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (types.EncodedImage, error)
}

// Options tune the resolver
type Options struct {
	// Attempts on malformed replies before giving up
	Attempts     int
	ImageFormat  string
	MaxImageDim  int
	ImageQuality int
	Recorder     recorder.Recorder
}

// Resolver asks the oracle for the next action toward a command
type Resolver struct {
	oracle  client.VisionClient
	encoder ImageEncoder
	opts    Options
	logger  *zap.Logger
}

// NewResolver creates a resolver
func NewResolver(oracle client.VisionClient, encoder ImageEncoder, opts Options, logger *zap.Logger) *Resolver {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "png"
	}
	if opts.ImageQuality < 1 {
		opts.ImageQuality = 85
	}
	if opts.Recorder == nil {
		opts.Recorder = recorder.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{oracle: oracle, encoder: encoder, opts: opts, logger: logger.Named("resolver")}
}

// ResolveNextAction returns the single next intent for command given what has
// happened so far. Malformed replies are retried with a stricter prompt;
// transport errors are returned at once.
func (r *Resolver) ResolveNextAction(ctx context.Context, screen image.Image, command string, history []Entry) (Intent, error) {
	step := recorder.StepFrom(ctx)

	enc, err := r.encoder.PrepareImageForModel(screen, r.opts.ImageFormat, r.opts.MaxImageDim, r.opts.ImageQuality)
	if err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		prompt := actionPrompt(command, history, attempt, lastErr)
		r.opts.Recorder.Record(recorder.Text(step, "action_prompt", prompt))

		raw, err := r.oracle.Query(ctx, client.Query{
			Site:   "action",
			System: systemPrompt,
			Prompt: prompt,
			Images: []types.EncodedImage{enc},
		})
		if err != nil {
			return nil, fmt.Errorf("action oracle: %w", err)
		}
		r.opts.Recorder.Record(recorder.Text(step, "action_response", raw))

		intent, err := Decode(raw)
		if err != nil {
			lastErr = err
			r.logger.Warn("Unusable action reply", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		r.logger.Debug("Next action", zap.String("intent", MarshalIntent(intent)), zap.Int("attempt", attempt))
		return intent, nil
	}

	return nil, fmt.Errorf("no usable action after %d attempts: %w", r.opts.Attempts, lastErr)
}

func actionPrompt(command string, history []Entry, attempt int, lastErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User command: %s\n\n", command)
	b.WriteString("Actions already taken for this command:\n")
	b.WriteString(formatHistory(history))
	b.WriteString("\n\n")
	b.WriteString("Based on the current screen state, determine the SINGLE next action needed.\n")
	b.WriteString("If an earlier action FAILED, its note says why; try a different approach instead of repeating it.\n\n")
	b.WriteString("Respond with exactly one of these JSON objects:\n")
	b.WriteString(`- {"action": "MOUSE_LEFT_CLICK", "target": "<what to click>"}` + "\n")
	b.WriteString(`- {"action": "MOUSE_DOUBLE_CLICK", "target": "<what to double-click>"}` + "\n")
	b.WriteString(`- {"action": "MOUSE_RIGHT_CLICK", "target": "<what to right-click>"}` + "\n")
	b.WriteString(`- {"action": "KEYBOARD_TYPE", "text": "<text to type>"}` + "\n")
	b.WriteString(`- {"action": "KEYBOARD_BUTTON_PRESS", "button": "<key such as enter, tab, ctrl+l>"}` + "\n")
	b.WriteString(`- {"action": "COMPLETE"} if the command has been fully carried out` + "\n")
	b.WriteString(`- {"action": "ERROR", "reason": "<why it cannot be done>"}` + "\n")

	if attempt > 1 {
		fmt.Fprintf(&b, "\nYour previous reply was not a valid action (%s).\n", reply.Describe(lastErr))
		b.WriteString("You MUST respond with ONLY valid JSON, no other text. Respond with ONLY the JSON object, nothing else.")
	}
	return b.String()
}
