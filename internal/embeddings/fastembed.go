//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider provides embedding generation using local ONNX models.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	mu        sync.RWMutex
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// NewFastEmbedProvider creates a new FastEmbed embedding provider.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported model %q", ErrInvalidConfig, cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	// Disable progress bar for daemon use
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: modelDimensions[model],
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
// Uses the "passage: " prefix for documents as recommended by BGE models.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embeddings, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single query.
// QueryEmbed adds the "query: " prefix automatically.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embedding, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embedding, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases resources held by the FastEmbed provider.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		p.model.Destroy()
		p.model = nil
	}
	return nil
}
