// Package vector provides interfaces and implementations for owner-scoped
// vector storage and similarity search over memory embeddings.
package vector

import "context"

// Document represents a stored embedding with its identity and owner scope.
type Document struct {
	// ID is the memory ID the embedding belongs to.
	ID string

	// Owner scopes similarity queries; embeddings never cross owners.
	Owner string

	// Embedding is the vector representation of the memory content.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the similarity score (higher = more similar), normalized
	// to (0, 1] by each driver.
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings. Implementers update in
	// place when a document with the same ID already exists.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding
	// within a single owner's scope.
	Query(ctx context.Context, owner string, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
