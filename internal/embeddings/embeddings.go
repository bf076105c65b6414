// Package embeddings provides the embedding collaborator used to attach
// similarity vectors to newly created patterns.
//
// The pipeline treats embedding as strictly optional: a failed or absent
// provider degrades to patterns without vectors, never to a failed task.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates similarity vectors for text.
type Embedder interface {
	// EmbedQuery generates an embedding for a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds configuration for the embedding collaborator.
type Config struct {
	// Provider selects the implementation: "tei" or "none".
	Provider string

	// BaseURL is the base URL for the TEI API.
	BaseURL string

	// Model is the embedding model name, recorded for observability.
	Model string

	// APIKey is optional; TEI deployments usually run without one.
	APIKey string

	// RequestsPerSecond throttles calls to the provider.
	RequestsPerSecond float64

	// Burst is the rate limiter burst allowance.
	Burst int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "none":
		return nil
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
}

// New builds the configured embedder. Provider "none" returns (nil, nil):
// callers treat a nil Embedder as embedding disabled.
func New(cfg Config) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == "none" {
		return nil, nil
	}
	return NewService(cfg)
}
