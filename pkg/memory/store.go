package memory

import "context"

// Store defines the interface for persisting and retrieving memories in a
// storage backend. Implementations must make InsertSuperseding atomic: a
// concurrent reader never observes both the old and new record as current,
// nor both as non-current.
type Store interface {
	// Insert stores a new independent memory.
	Insert(ctx context.Context, m *Memory) error

	// InsertSuperseding atomically marks the memory oldID as non-current
	// with superseded_by pointing at m, and inserts m as current. The
	// old-row update is guarded on is_current so a lost race returns
	// ErrSuperseded instead of double-superseding.
	InsertSuperseding(ctx context.Context, m *Memory, oldID string) error

	// Get retrieves one memory by owner and id.
	Get(ctx context.Context, ownerID, id string) (*Memory, error)

	// FindCurrentByFingerprint returns the single current memory holding
	// the fingerprint, or ErrNotFound.
	FindCurrentByFingerprint(ctx context.Context, ownerID, fingerprint string) (*Memory, error)

	// Recent returns the owner's newest memories (current or not),
	// newest first, used by the write-path dedup check.
	Recent(ctx context.Context, ownerID string, limit int) ([]*Memory, error)

	// Current returns current memories for the owner, newest first,
	// optionally scoped to a category, bounded by limit. This is the
	// retrieval prefilter.
	Current(ctx context.Context, ownerID, category string, limit int) ([]*Memory, error)

	// CurrentByCategories returns current memories in any of the given
	// categories, newest first. Used by safety-critical injection.
	CurrentByCategories(ctx context.Context, ownerID string, categories []string, limit int) ([]*Memory, error)

	// SetEmbedding records the async embedding result for a memory.
	// Succeeds even if the memory has been superseded in the meantime;
	// retrieval filters on is_current so a late embedding is harmless.
	SetEmbedding(ctx context.Context, ownerID, id string, embedding []float32, status EmbeddingStatus) error

	// Stats summarizes the owner's memory population.
	Stats(ctx context.Context, ownerID string) (Stats, error)

	// Close releases backend resources.
	Close() error
}
