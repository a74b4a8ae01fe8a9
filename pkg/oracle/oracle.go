// Package oracle builds the configured vision client backend.
package oracle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/internal/observability"
	"github.com/menta2k/gridpilot/pkg/client"
	"github.com/menta2k/gridpilot/pkg/gemini"
	"github.com/menta2k/gridpilot/pkg/llamacpp"
	"github.com/menta2k/gridpilot/pkg/ollama"
)

// Options converts the oracle section of the config into client options
func Options(cfg config.OracleConfig) client.Options {
	retries := cfg.Retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return client.Options{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		Retry: client.RetryPolicy{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
			MaxRetries:      uint64(retries),
		},
	}
}

// New creates the backend named by cfg.Backend, rate limited and instrumented
func New(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (client.VisionClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := Options(cfg)

	var (
		backend client.VisionClient
		err     error
	)
	switch cfg.Backend {
	case "ollama":
		backend, err = ollama.NewClient(cfg.URL, opts, logger)
	case "llamacpp":
		backend, err = llamacpp.NewClient(cfg.URL, cfg.APIKey, opts, logger)
	case "openai":
		url := cfg.URL
		if url == "" {
			url = llamacpp.OpenAIURL
		}
		backend, err = llamacpp.NewClient(url, cfg.APIKey, opts, logger)
	case "gemini":
		backend, err = gemini.NewClient(ctx, cfg.APIKey, cfg.URL, opts, logger)
	default:
		return nil, fmt.Errorf("unknown oracle backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}

	logger.Info("Vision oracle ready",
		zap.String("backend", cfg.Backend),
		zap.String("model", cfg.Model),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute))

	return Instrumented(client.RateLimited(backend, cfg.RequestsPerMinute)), nil
}

type instrumented struct {
	next client.VisionClient
}

// Instrumented records call counts and latency for every query
func Instrumented(next client.VisionClient) client.VisionClient {
	return &instrumented{next: next}
}

func (i *instrumented) Query(ctx context.Context, q client.Query) (string, error) {
	start := time.Now()
	out, err := i.next.Query(ctx, q)
	site := q.Site
	if site == "" {
		site = "unknown"
	}
	observability.RecordOracleCall(site, observability.StatusOf(err), time.Since(start))
	return out, err
}
