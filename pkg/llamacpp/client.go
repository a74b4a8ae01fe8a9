// Package llamacpp talks to any server speaking the OpenAI-compatible
// /v1/chat/completions protocol: llama.cpp, vLLM, or OpenAI itself.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/pkg/client"
)

// OpenAIURL is the base URL used by the "openai" backend
const OpenAIURL = "https://api.openai.com"

type Client struct {
	baseURL    string
	apiKey     string
	opts       client.Options
	httpClient *http.Client
	logger     *zap.Logger
}

var _ client.VisionClient = (*Client)(nil)

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a client for serverURL. apiKey is sent as a bearer token
// when set.
func NewClient(serverURL, apiKey string, opts client.Options, logger *zap.Logger) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		apiKey:  apiKey,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("llamacpp"),
	}, nil
}

// Query sends the prompt followed by every image as data URLs
func (c *Client) Query(ctx context.Context, q client.Query) (string, error) {
	content := []ContentPart{
		{
			Type: "text",
			Text: q.Prompt,
		},
	}
	for _, img := range q.Images {
		mime := img.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL:    "data:" + mime + ";base64," + img.B64,
				Detail: "high",
			},
		})
	}

	messages := make([]Message, 0, 2)
	if q.System != "" {
		messages = append(messages, Message{Role: "system", Content: q.System})
	}
	messages = append(messages, Message{Role: "user", Content: content})

	req := ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Stream:      false,
	}

	var text string
	op := func() error {
		start := time.Now()
		respBody, err := c.sendRequest(ctx, "/v1/chat/completions", req)
		if err != nil {
			return err
		}

		var resp ChatCompletionResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices in response")
		}

		text = extractText(resp.Choices[0].Message.Content)
		if text == "" {
			return fmt.Errorf("no text content in response")
		}

		c.logger.Debug("Chat completion done",
			zap.String("site", q.Site),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens))
		return nil
	}

	if err := client.Retry(ctx, c.opts.Retry, c.logger, op); err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	return text, nil
}

// extractText handles both string and array content formats
func extractText(content interface{}) string {
	switch content := content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
		return nil, client.ClassifyStatus(resp.StatusCode, statusErr)
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
