// Package vectorstore defines the interface for vector storage operations
// and provides an embedded chromem-go implementation.
//
// The orchestration core uses the vector store for two things: semantic
// goal-deliverable matching (goal descriptions indexed per workspace) and
// memory recall. Both go through the same Store interface so the backing
// engine stays swappable.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Document represents a document to be stored in the vector store.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Content is the text content of the document.
	Content string

	// Metadata contains additional key-value pairs for filtering.
	Metadata map[string]string

	// Collection is the target collection name for this document.
	Collection string
}

// SearchResult represents a search result from the vector store.
type SearchResult struct {
	// ID is the document identifier.
	ID string

	// Content is the document text content.
	Content string

	// Score is the similarity score in [0,1]; higher is more similar.
	Score float32

	// Metadata contains the document metadata.
	Metadata map[string]string
}

// Embedder generates vector embeddings from text.
//
// Embeddings are dense numerical representations that capture semantic
// meaning, enabling similarity search. Implementations can use local ONNX
// models or a deterministic hashing fallback.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage operations.
type Store interface {
	// AddDocuments adds documents to a collection. All documents in one
	// batch must target the same collection. Returns the stored IDs.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search performs similarity search in a collection, optionally
	// filtered by metadata equality.
	Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error)

	// DeleteDocuments deletes documents by ID from a collection.
	DeleteDocuments(ctx context.Context, collection string, ids []string) error

	// DeleteCollection removes a whole collection.
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of documents in a collection, zero if the
	// collection does not exist.
	Count(ctx context.Context, collection string) (int, error)
}
