// Package gemini implements the vision client on Google's genai SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/menta2k/gridpilot/pkg/client"
)

// Client sends queries to the Gemini API
type Client struct {
	models *genai.Models
	opts   client.Options
	logger *zap.Logger
}

var _ client.VisionClient = (*Client)(nil)

// NewClient initializes the client. baseURL overrides the API endpoint and
// is mainly useful for tests.
func NewClient(ctx context.Context, apiKey, baseURL string, opts client.Options, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		models: gc.Models,
		opts:   opts,
		logger: logger.Named("gemini"),
	}, nil
}

// Query sends the prompt and images as one user turn
func (c *Client) Query(ctx context.Context, q client.Query) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	parts := []*genai.Part{genai.NewPartFromText(q.Prompt)}
	for i, img := range q.Images {
		raw, err := base64.StdEncoding.DecodeString(img.B64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image %d: %w", i, err)
		}
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(raw, mime))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.opts.Temperature)),
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	if q.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(q.System, genai.RoleUser)
	}

	var text string
	op := func() error {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.opts.Model, contents, cfg)
		if err != nil {
			return classify(err)
		}
		text = resp.Text()
		if text == "" {
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
				return backoff.Permanent(fmt.Errorf("gemini blocked the request (reason: %s)", resp.Candidates[0].FinishReason))
			}
			return fmt.Errorf("gemini returned no text")
		}

		fields := []zap.Field{zap.String("site", q.Site), zap.Duration("duration", time.Since(start))}
		if resp.UsageMetadata != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount))
		}
		c.logger.Debug("Generation complete", fields...)
		return nil
	}

	if err := client.Retry(ctx, c.opts.Retry, c.logger, op); err != nil {
		return "", fmt.Errorf("gemini generate error: %w", err)
	}
	return text, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return client.ClassifyStatus(apiErr.Code, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return client.ClassifyStatus(http.StatusServiceUnavailable, err)
}
