//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when FastEmbed is not available
// (the binary was built without CGO; use the hash provider instead).
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support)")

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is a stub for non-CGO builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns an error when CGO is not available.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedDocuments returns an error when CGO is not available.
func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedQuery returns an error when CGO is not available.
func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Dimension returns 0 when CGO is not available.
func (p *FastEmbedProvider) Dimension() int {
	return 0
}

// Close is a no-op when CGO is not available.
func (p *FastEmbedProvider) Close() error {
	return nil
}
