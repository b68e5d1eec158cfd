// Package memory defines the durable unit of remembered fact and the Store
// interface that persistence backends implement.
//
// A Memory is one or more short factual lines distilled from a user
// utterance, scoped to an owner, optionally carrying a fingerprint (the key
// identifying "the same fact slot" across utterances) and anchors
// (structured sub-facts extracted at write time). Supersession is a
// forward-only chain: a newer memory for the same fingerprint marks the
// older one non-current exactly once.
package memory

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EmbeddingStatus tracks the async embedding lifecycle of a memory.
type EmbeddingStatus string

const (
	// EmbeddingPending means the embedding job is queued or in flight.
	EmbeddingPending EmbeddingStatus = "pending"

	// EmbeddingReady means the embedding was computed and stored.
	EmbeddingReady EmbeddingStatus = "ready"

	// EmbeddingFailed means embedding computation gave up. Retrieval
	// degrades to keyword/anchor scoring for such rows.
	EmbeddingFailed EmbeddingStatus = "failed"
)

// TemporalAnchor is a time-related sub-fact extracted from content.
type TemporalAnchor struct {
	// Kind is "duration_years" or "year".
	Kind string `json:"kind"`

	// Value is the number of years for durations, or the absolute year.
	Value int `json:"value"`
}

// NumericAnchor is a number-related sub-fact extracted from content.
type NumericAnchor struct {
	// Kind is "ordinal", "currency", or "number".
	Kind string `json:"kind"`

	// Value is the parsed numeric value (ordinal position for ordinals).
	Value float64 `json:"value"`

	// Raw preserves the original surface form, e.g. "$1,200" or "first".
	Raw string `json:"raw,omitempty"`
}

// Anchors is the structured side-table attached to a memory at write time.
// Never re-derived at read time except as a retrieval fallback for rows
// stored before anchor extraction existed.
type Anchors struct {
	// Names are proper names found in the content, each kept as a single
	// unit (compound surnames and internal punctuation included).
	Names []string `json:"names,omitempty"`

	// UnicodeNames is the subset of Names containing non-ASCII runes,
	// preserved verbatim so downstream repair can restore diacritics.
	UnicodeNames []string `json:"unicodeNames,omitempty"`

	Temporal []TemporalAnchor `json:"temporal,omitempty"`
	Numeric  []NumericAnchor  `json:"numeric,omitempty"`
}

// Empty reports whether no anchors of any class were extracted.
func (a Anchors) Empty() bool {
	return len(a.Names) == 0 && len(a.Temporal) == 0 && len(a.Numeric) == 0
}

// Memory is the durable unit of remembered fact.
type Memory struct {
	// ID is assigned at creation and immutable. ULIDs sort by creation
	// time, which the supersession chain invariant leans on.
	ID string `json:"id"`

	// OwnerID scopes all reads and writes.
	OwnerID string `json:"owner_id"`

	// Content is the normalized fact text, one or more short lines.
	Content string `json:"content"`

	// CategoryName is a coarse topical bucket.
	CategoryName string `json:"category_name,omitempty"`

	// Embedding is absent until the async embedding service completes.
	Embedding []float32 `json:"-"`

	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`

	Anchors Anchors `json:"anchors"`

	// Fingerprint is the canonical fact-slot key; empty when the content
	// is not fact-like.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Importance is a normalized relevance weight in [0,1], computed once.
	Importance float64 `json:"importance"`

	// IsCurrent is false once superseded.
	IsCurrent bool `json:"is_current"`

	// SupersededBy references the memory that replaced this one.
	SupersededBy string `json:"superseded_by,omitempty"`

	// ExplicitRecall marks memories stored via an explicit "remember this"
	// request; retrieval boosts these near-unconditionally.
	ExplicitRecall bool `json:"explicit_recall"`

	// TokenCount is the precomputed approximate token length of Content.
	TokenCount int `json:"token_count"`

	CreatedAt time.Time `json:"created_at"`
}

// NewID returns a fresh creation-time-ordered memory ID.
func NewID() string {
	return ulid.Make().String()
}

// Stats summarizes a single owner's memory population.
type Stats struct {
	Total             int `json:"total"`
	Current           int `json:"current"`
	Superseded        int `json:"superseded"`
	PendingEmbeddings int `json:"pending_embeddings"`
	FailedEmbeddings  int `json:"failed_embeddings"`
}
