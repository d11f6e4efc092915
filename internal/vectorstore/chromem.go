package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("orchd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, optional gob persistence.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore creates a new ChromemStore with the given configuration.
// A nil logger is replaced with a no-op logger.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = chromem.NewPersistentDB(expandedPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = expandedPath
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder interface to chromem.EmbeddingFunc.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// AddDocuments adds documents to the vector store.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	collectionName := docs[0].Collection
	if collectionName == "" {
		return nil, fmt.Errorf("document collection cannot be empty")
	}
	for i, doc := range docs {
		if doc.Collection != collectionName {
			return nil, fmt.Errorf("document at index %d targets collection %q but batch targets %q",
				i, doc.Collection, collectionName)
		}
	}
	span.SetAttributes(attribute.String("collection", collectionName))

	collection, err := s.db.GetOrCreateCollection(collectionName, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting/creating collection %s: %w", collectionName, err)
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document at index %d has no ID", i)
		}
		ids[i] = doc.ID
		texts[i] = doc.Content
	}

	// Generate embeddings in batch
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        ids[i],
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1 since we already have embeddings
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("added documents to chromem",
		zap.String("collection", collectionName),
		zap.Int("count", len(docs)),
	)
	return ids, nil
}

// Search performs similarity search in a collection.
func (s *ChromemStore) Search(ctx context.Context, collectionName, query string, k int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}

	// chromem requires nResults <= doc count
	docCount := collection.Count()
	if docCount == 0 {
		return []SearchResult{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.Query(ctx, query, k, filters, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	return searchResults, nil
}

// DeleteDocuments deletes documents by ID from a collection.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, collectionName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
	}

	var failed []string
	for _, id := range ids {
		if err := collection.Delete(ctx, nil, nil, id); err != nil {
			s.logger.Error("failed to delete document",
				zap.String("collection", collectionName),
				zap.String("id", id),
				zap.Error(err),
			)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d of %d documents from %s", len(failed), len(ids), collectionName)
	}
	return nil
}

// DeleteCollection removes a whole collection. Deleting a collection that
// does not exist is a no-op.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collectionName string) error {
	if err := s.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collectionName, err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *ChromemStore) Count(ctx context.Context, collectionName string) (int, error) {
	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}
