// Package worker provides the asynchronous embedding pool. Memories are
// persisted synchronously on the write path in pending state; the pool
// computes their embeddings in the background and records the result, so
// the caller never waits on the embedding provider.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/vector"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is one memory awaiting embedding.
type Job struct {
	OwnerID  string
	MemoryID string
	Content  string

	// SupersededID names a memory this one replaced; its index entry is
	// dropped once the replacement is indexed.
	SupersededID string
}

// Config is the configuration options for the embedding pool.
type Config struct {
	// Store records embedding results against persisted memories.
	Store memory.Store

	// VectorDriver receives the embedding for similarity search.
	VectorDriver vector.Driver

	// Embedder generates text embeddings.
	Embedder embeddings.Embedder

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool embeds memories asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Store == nil || c.Embedder == nil {
		return nil, fmt.Errorf("store and embedder are required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job
// being dropped. A dropped job leaves the memory in pending state; retrieval
// degrades to keyword and anchor scoring for it.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("embedding job queued",
			zap.String("memory_id", job.MemoryID),
		)
		return true
	default:
		p.logger.Error("embedding job not queued, queue full, job dropped",
			zap.String("memory_id", job.MemoryID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the API server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("embedding worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("embedding worker stopped", zap.Uint("worker_id", id))
}

// processJob embeds one memory and records the outcome. A failed embedding
// marks the memory failed rather than retrying; the memory itself stays
// retrievable either way.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	embedding, err := p.config.Embedder.Embed(ctx, job.Content)
	if err != nil {
		p.logger.Warn("failed to generate embedding",
			zap.String("memory_id", job.MemoryID),
			zap.Error(err),
		)
		p.markFailed(ctx, job)
		return
	}

	if err := p.config.Store.SetEmbedding(ctx, job.OwnerID, job.MemoryID, embedding, memory.EmbeddingReady); err != nil {
		// The memory may have been superseded or removed while the job was
		// queued; that is not a pool failure.
		p.logger.Warn("failed to record embedding",
			zap.String("memory_id", job.MemoryID),
			zap.Error(err),
		)
		return
	}

	if p.config.VectorDriver != nil {
		doc := vector.Document{
			ID:        job.MemoryID,
			Owner:     job.OwnerID,
			Embedding: embedding,
		}

		if err := p.config.VectorDriver.Add(ctx, []vector.Document{doc}); err != nil {
			p.logger.Warn("failed to store embedding in vector index",
				zap.String("memory_id", job.MemoryID),
				zap.Error(err),
			)
			return
		}

		if job.SupersededID != "" {
			if err := p.config.VectorDriver.Delete(ctx, []string{job.SupersededID}); err != nil {
				p.logger.Warn("failed to drop superseded memory from vector index",
					zap.String("memory_id", job.SupersededID),
					zap.Error(err),
				)
			}
		}
	}

	p.logger.Debug("memory embedded",
		zap.String("memory_id", job.MemoryID),
		zap.Int("embedding_dim", len(embedding)),
	)
}

func (p *Pool) markFailed(ctx context.Context, job Job) {
	if err := p.config.Store.SetEmbedding(ctx, job.OwnerID, job.MemoryID, nil, memory.EmbeddingFailed); err != nil {
		p.logger.Warn("failed to mark embedding failed",
			zap.String("memory_id", job.MemoryID),
			zap.Error(err),
		)
	}
}
