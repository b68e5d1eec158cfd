// Package writer implements the storage write path: compress the utterance
// into factual lines, fingerprint it, extract anchors, deduplicate against
// recent memories, supersede a prior fact holding the same fingerprint, and
// enqueue async embedding. Any failure along the enrichment pipeline
// downgrades to a plain insert; the write itself is never blocked by
// classification or ranking machinery.
package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/anchors"
	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/fingerprint"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/tokens"
	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/worker"
)

// Actions reported in WriteResult.
const (
	ActionInserted     = "inserted"
	ActionSuperseded   = "superseded"
	ActionDeduplicated = "deduplicated"
	ActionSkipped      = "skipped"
)

const (
	// DefaultDedupThreshold is the cosine distance below which a new
	// utterance is considered a duplicate of a recent memory.
	DefaultDedupThreshold = 0.08

	// dedupWindow is how many recent memories dedup compares against.
	dedupWindow = 50

	// dedupEmbedTimeout bounds the synchronous embed used only for dedup.
	// The memory's own embedding is always computed asynchronously.
	dedupEmbedTimeout = 2 * time.Second

	maxLines     = 5
	minLineWords = 3
)

var explicitRecallPattern = regexp.MustCompile(`(?i)\b(?:remember\s+(?:this|that)|please\s+remember|don'?t\s+forget)\b`)

// WriteResult reports what the writer did with an utterance.
type WriteResult struct {
	MemoryID        string `json:"memory_id,omitempty"`
	Action          string `json:"action"`
	SupersededCount int    `json:"superseded_count"`
	SupersededID    string `json:"superseded_id,omitempty"`
}

// Meta carries optional per-utterance hints from the request handler.
type Meta struct {
	// Category is the topical bucket assigned by the caller.
	Category string
}

// Enqueuer accepts embedding jobs. *worker.Pool satisfies this.
type Enqueuer interface {
	Enqueue(job worker.Job) bool
}

// Config is the configuration options for the Writer.
type Config struct {
	Store        memory.Store
	Fingerprints *fingerprint.Generator

	// Embedder is used synchronously for dedup only; nil disables
	// embedding-based dedup in favor of exact text matching.
	Embedder embeddings.Embedder

	// Pool receives async embedding jobs; nil leaves memories pending.
	Pool Enqueuer

	// Events receives lifecycle events; nil disables publishing.
	Events eventstream.Publisher

	// DedupThreshold overrides DefaultDedupThreshold when positive.
	DedupThreshold float64

	Logger *zap.Logger
}

// Writer is the storage write path.
type Writer struct {
	store        memory.Store
	fingerprints *fingerprint.Generator
	embedder     embeddings.Embedder
	pool         Enqueuer
	events       eventstream.Publisher
	threshold    float64
	logger       *zap.Logger
}

// NewWriter creates a Writer.
func NewWriter(c *Config) (*Writer, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.Fingerprints == nil {
		return nil, fmt.Errorf("fingerprint generator is required")
	}

	threshold := c.DedupThreshold
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}

	return &Writer{
		store:        c.Store,
		fingerprints: c.Fingerprints,
		embedder:     c.Embedder,
		pool:         c.Pool,
		events:       c.Events,
		threshold:    threshold,
		logger:       c.Logger,
	}, nil
}

// Write records one utterance for the owner.
func (w *Writer) Write(ctx context.Context, ownerID, utterance string, meta Meta) (WriteResult, error) {
	content := Compress(utterance)
	if content == "" {
		w.logger.Debug("utterance compressed to nothing, skipping",
			zap.String("owner_id", ownerID),
		)
		return WriteResult{Action: ActionSkipped}, nil
	}

	fp := w.fingerprints.Generate(ctx, ownerID, content)
	extracted := anchors.Extract(content)

	m := &memory.Memory{
		ID:              memory.NewID(),
		OwnerID:         ownerID,
		Content:         content,
		CategoryName:    meta.Category,
		EmbeddingStatus: memory.EmbeddingPending,
		Anchors:         extracted,
		Fingerprint:     fp.Fingerprint,
		ExplicitRecall:  explicitRecallPattern.MatchString(utterance),
		IsCurrent:       true,
		TokenCount:      tokens.Estimate(content),
		CreatedAt:       time.Now().UTC(),
	}
	m.Importance = importance(m)

	recent, err := w.store.Recent(ctx, ownerID, dedupWindow)
	if err != nil {
		// Dedup is an optimization; write anyway.
		w.logger.Warn("recent memory fetch failed, skipping dedup",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		recent = nil
	}

	if dup := w.findDuplicate(ctx, content, recent); dup != nil {
		w.logger.Info("duplicate utterance, skipping write",
			zap.String("owner_id", ownerID),
			zap.String("duplicate_of", dup.ID),
		)
		return WriteResult{MemoryID: dup.ID, Action: ActionDeduplicated}, nil
	}

	result, err := w.persist(ctx, m)
	if err != nil {
		return WriteResult{}, err
	}

	if w.pool != nil {
		w.pool.Enqueue(worker.Job{
			OwnerID:      ownerID,
			MemoryID:     m.ID,
			Content:      content,
			SupersededID: result.SupersededID,
		})
	}

	return result, nil
}

// persist stores m, superseding a prior holder of its fingerprint when one
// exists. A lost supersession race degrades to an independent insert with an
// audit log rather than failing the write.
func (w *Writer) persist(ctx context.Context, m *memory.Memory) (WriteResult, error) {
	if m.Fingerprint != "" {
		old, err := w.store.FindCurrentByFingerprint(ctx, m.OwnerID, m.Fingerprint)
		switch {
		case err == nil:
			if err := w.store.InsertSuperseding(ctx, m, old.ID); err != nil {
				if errors.Is(err, memory.ErrSuperseded) {
					w.logger.Warn("supersession race lost, inserting as independent",
						zap.String("owner_id", m.OwnerID),
						zap.String("fingerprint", m.Fingerprint),
						zap.String("contender", old.ID),
					)
					m.Fingerprint = ""
					break
				}
				return WriteResult{}, err
			}

			w.publish(ctx, eventstream.MemorySuperseded(m.OwnerID, m.ID, old.ID, m.Fingerprint))
			return WriteResult{MemoryID: m.ID, Action: ActionSuperseded, SupersededCount: 1, SupersededID: old.ID}, nil

		case errors.Is(err, memory.ErrNotFound):
			// First holder of this fingerprint.

		default:
			w.logger.Warn("fingerprint lookup failed, inserting as independent",
				zap.String("owner_id", m.OwnerID),
				zap.Error(err),
			)
			m.Fingerprint = ""
		}
	}

	if err := w.store.Insert(ctx, m); err != nil {
		return WriteResult{}, err
	}

	w.publish(ctx, eventstream.MemoryPersisted(m.OwnerID, m.ID, m.Fingerprint))
	return WriteResult{MemoryID: m.ID, Action: ActionInserted}, nil
}

// findDuplicate returns a recent memory the content duplicates, or nil.
// Embedding-based comparison is preferred; when the embedder is unavailable
// it falls back to exact normalized-text matching over the same window.
func (w *Writer) findDuplicate(ctx context.Context, content string, recent []*memory.Memory) *memory.Memory {
	if len(recent) == 0 {
		return nil
	}

	if w.embedder != nil {
		embedCtx, cancel := context.WithTimeout(ctx, dedupEmbedTimeout)
		defer cancel()

		emb, err := w.embedder.Embed(embedCtx, content)
		if err == nil {
			for _, r := range recent {
				if len(r.Embedding) == 0 {
					continue
				}
				if vector.CosineDistance(emb, r.Embedding) < w.threshold {
					return r
				}
			}
			return nil
		}

		w.logger.Debug("dedup embedding unavailable, falling back to text match",
			zap.Error(err),
		)
	}

	norm := normalizeForDedup(content)
	for _, r := range recent {
		if normalizeForDedup(r.Content) == norm {
			return r
		}
	}
	return nil
}

func (w *Writer) publish(ctx context.Context, e eventstream.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, e); err != nil {
		w.logger.Warn("event publish failed",
			zap.String("type", e.Type),
			zap.Error(err),
		)
	}
}

// Compress normalizes an utterance into at most five short factual lines.
// Lines with fewer than three words are dropped as noise, and every kept
// line ends with terminal punctuation so downstream splitting can never
// merge two facts.
func Compress(utterance string) string {
	sentences := tokens.SplitSentences(utterance)

	var kept []string
	for _, s := range sentences {
		if len(strings.Fields(s)) < minLineWords {
			continue
		}
		if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
			s += "."
		}
		kept = append(kept, s)
		if len(kept) == maxLines {
			break
		}
	}

	return strings.Join(kept, "\n")
}

// importance computes the memory's relevance weight in [0, 1].
func importance(m *memory.Memory) float64 {
	score := 0.4

	if m.Fingerprint != "" {
		score += 0.2
	}

	var anchorBonus float64
	if len(m.Anchors.Names) > 0 {
		anchorBonus += 0.1
	}
	if len(m.Anchors.Temporal) > 0 {
		anchorBonus += 0.1
	}
	if len(m.Anchors.Numeric) > 0 {
		anchorBonus += 0.1
	}
	if anchorBonus > 0.3 {
		anchorBonus = 0.3
	}
	score += anchorBonus

	if m.ExplicitRecall {
		score += 0.3
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func normalizeForDedup(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
