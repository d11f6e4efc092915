// Package embeddings provides embedding generation via multiple providers.
//
// Two providers are available: "fastembed" runs local ONNX models (requires
// CGO), and "hash" is a deterministic pure-Go fallback suitable for tests
// and deployments without a model runtime.
package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

// Sentinel errors for embedding operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input")
	// ErrEmbeddingFailed indicates the underlying model failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "fastembed" or "hash".
	Provider string
	// Model is the embedding model name (fastembed only).
	Model string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
}

// NewProvider creates an embedding provider from config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashProvider(0), nil
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
