package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/pkg/client"
)

const defaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
	opts   client.Options
	logger *zap.Logger
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, opts client.Options, logger *zap.Logger) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Base URL only; paths like /api/chat are added by the SDK
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		opts:   opts,
		logger: logger.Named("ollama"),
	}, nil
}

// Query sends the prompt and every image in one chat request
func (c *Client) Query(ctx context.Context, q client.Query) (string, error) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	images := make([]api.ImageData, 0, len(q.Images))
	for i, img := range q.Images {
		raw, err := base64.StdEncoding.DecodeString(img.B64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image %d: %w", i, err)
		}
		images = append(images, api.ImageData(raw))
	}

	messages := make([]api.Message, 0, 2)
	if q.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: q.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: q.Prompt, Images: images})

	options := map[string]any{
		"temperature": c.opts.Temperature,
	}
	if c.opts.MaxTokens > 0 {
		options["num_predict"] = c.opts.MaxTokens
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    c.opts.Model,
		Messages: messages,
		Stream:   &streamFalse,
		Options:  options,
	}

	var responseContent string
	op := func() error {
		start := time.Now()
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			responseContent = resp.Message.Content
			return nil
		})
		if err != nil {
			return classify(err)
		}
		if responseContent == "" {
			return fmt.Errorf("empty response from ollama")
		}
		c.logger.Debug("Chat complete",
			zap.String("site", q.Site),
			zap.Int("images", len(images)),
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	if err := client.Retry(ctx, c.opts.Retry, c.logger, op); err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	return responseContent, nil
}

// classify treats server-side and rate-limit errors as transient
func classify(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		return client.ClassifyStatus(status.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return err
}
