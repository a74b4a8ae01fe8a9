package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/pkg/client"
)

func TestOptions(t *testing.T) {
	cfg := config.Default().Oracle
	cfg.Retry.MaxRetries = -1

	opts := Options(cfg)
	assert.Equal(t, "gpt-4o", opts.Model)
	assert.Equal(t, 256, opts.MaxTokens)
	assert.Equal(t, 2*time.Minute, opts.Timeout)
	assert.Equal(t, uint64(0), opts.Retry.MaxRetries)
	assert.Equal(t, time.Second, opts.Retry.InitialInterval)
}

func TestNewBuildsEveryBackend(t *testing.T) {
	for _, backend := range []string{"ollama", "llamacpp", "openai", "gemini"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default().Oracle
			cfg.Backend = backend
			cfg.APIKey = "key"
			c, err := New(context.Background(), cfg, nil)
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}

	cfg := config.Default().Oracle
	cfg.Backend = "smoke-signals"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestInstrumentedPassesThrough(t *testing.T) {
	inner := client.NewScripted("first").Push(client.Reply{Err: errors.New("down")})
	c := Instrumented(inner)

	out, err := c.Query(context.Background(), client.Query{Site: "action"})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	_, err = c.Query(context.Background(), client.Query{})
	assert.EqualError(t, err, "down")
	assert.Len(t, inner.Calls(), 2)
}
