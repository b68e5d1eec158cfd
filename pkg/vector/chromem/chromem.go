// Package chromem provides a pure-Go embedded vector driver backed by
// chromem-go. No external service and no cgo, which makes it the default
// for development and tests. Each owner gets their own collection for
// namespace isolation.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/vector"
)

const collectionPrefix = "engram-"

// Driver implements vector.Driver using chromem-go.
type Driver struct {
	db     *chromemgo.DB
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*chromemgo.Collection
}

// Config holds configuration for the chromem driver.
type Config struct {
	// PersistPath stores collections on disk when set; empty keeps
	// everything in memory.
	PersistPath string
}

// NewDriver creates a chromem-backed vector driver.
func NewDriver(c Config, logger *zap.Logger) (*Driver, error) {
	var db *chromemgo.DB
	var err error

	if c.PersistPath != "" {
		db, err = chromemgo.NewPersistentDB(c.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db: %v", vector.ErrConnection, err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	logger.Info("chromem vector driver initialized",
		zap.String("persist_path", c.PersistPath),
	)

	return &Driver{
		db:          db,
		logger:      logger,
		collections: make(map[string]*chromemgo.Collection),
	}, nil
}

// collection returns the per-owner collection, creating it on first use.
func (d *Driver) collection(owner string) (*chromemgo.Collection, error) {
	d.mu.RLock()
	col, ok := d.collections[owner]
	d.mu.RUnlock()
	if ok {
		return col, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if col, ok := d.collections[owner]; ok {
		return col, nil
	}

	// Embeddings are always provided by the caller, so no embedding
	// function is configured.
	col, err := d.db.GetOrCreateCollection(collectionPrefix+owner, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection for owner %s: %w", owner, err)
	}

	d.collections[owner] = col
	return col, nil
}

// Add stores documents with their embeddings, grouped into per-owner collections.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	for _, doc := range docs {
		col, err := d.collection(doc.Owner)
		if err != nil {
			return err
		}

		err = col.AddDocument(ctx, chromemgo.Document{
			ID:        doc.ID,
			Embedding: doc.Embedding,
			// chromem requires non-empty content; the ID suffices since
			// memory text lives in the memory store.
			Content: doc.ID,
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK most similar documents within the owner's collection.
func (d *Driver) Query(ctx context.Context, owner string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	col, err := d.collection(owner)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection for owner %s: %w", owner, err)
	}

	out := make([]vector.QueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, vector.QueryResult{
			Document: vector.Document{
				ID:    r.ID,
				Owner: owner,
			},
			Score: r.Similarity,
		})
	}

	d.logger.Debug("queried chromem",
		zap.String("owner", owner),
		zap.Int("results", len(out)),
	)

	return out, nil
}

// Delete removes documents by their IDs across all owner collections.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.RLock()
	cols := make([]*chromemgo.Collection, 0, len(d.collections))
	for _, col := range d.collections {
		cols = append(cols, col)
	}
	d.mu.RUnlock()

	for _, col := range cols {
		// Absent IDs are a no-op per collection.
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return fmt.Errorf("deleting documents: %w", err)
		}
	}

	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	// chromem has no connection lifecycle to tear down.
	return nil
}

// Ensure Driver implements vector.Driver
var _ vector.Driver = (*Driver)(nil)
