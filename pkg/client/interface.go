// Package client defines the contract every vision model backend implements.
package client

import (
	"context"

	"github.com/menta2k/gridpilot/pkg/types"
)

// Query is one multimodal request to a vision model
type Query struct {
	// Site names the caller ("action", "stage1", ...) for logs and metrics
	Site   string
	System string
	Prompt string
	Images []types.EncodedImage
}

// VisionClient answers a prompt about one or more images with raw text
type VisionClient interface {
	Query(ctx context.Context, q Query) (string, error)
}

// Func adapts a plain function to VisionClient
type Func func(ctx context.Context, q Query) (string, error)

// Query implements VisionClient
func (f Func) Query(ctx context.Context, q Query) (string, error) {
	return f(ctx, q)
}
