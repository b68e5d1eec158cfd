// Package testutils provides shared fakes for package tests.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/engramhq/engram/pkg/memory"
)

// MemoryStore is an in-memory memory.Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	memories map[string]*memory.Memory

	// FailInsert causes Insert and InsertSuperseding to return an error.
	FailInsert bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memories: make(map[string]*memory.Memory),
	}
}

func (s *MemoryStore) Insert(_ context.Context, m *memory.Memory) error {
	if s.FailInsert {
		return memory.ErrConnection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *MemoryStore) InsertSuperseding(_ context.Context, m *memory.Memory, oldID string) error {
	if s.FailInsert {
		return memory.ErrConnection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.memories[oldID]
	if !ok || old.OwnerID != m.OwnerID || !old.IsCurrent {
		return fmt.Errorf("%w: %s", memory.ErrSuperseded, oldID)
	}

	old.IsCurrent = false
	old.SupersededBy = m.ID

	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ownerID, id string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || m.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) FindCurrentByFingerprint(_ context.Context, ownerID, fingerprint string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.memories {
		if m.OwnerID == ownerID && m.IsCurrent && m.Fingerprint == fingerprint {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: fingerprint %s", memory.ErrNotFound, fingerprint)
}

func (s *MemoryStore) Recent(_ context.Context, ownerID string, limit int) ([]*memory.Memory, error) {
	return s.collect(ownerID, limit, func(m *memory.Memory) bool {
		return true
	})
}

func (s *MemoryStore) Current(_ context.Context, ownerID, category string, limit int) ([]*memory.Memory, error) {
	return s.collect(ownerID, limit, func(m *memory.Memory) bool {
		return m.IsCurrent && (category == "" || m.CategoryName == category)
	})
}

func (s *MemoryStore) CurrentByCategories(_ context.Context, ownerID string, categories []string, limit int) ([]*memory.Memory, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}

	return s.collect(ownerID, limit, func(m *memory.Memory) bool {
		return m.IsCurrent && set[m.CategoryName]
	})
}

func (s *MemoryStore) SetEmbedding(_ context.Context, ownerID, id string, embedding []float32, status memory.EmbeddingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok || m.OwnerID != ownerID {
		return fmt.Errorf("%w: %s", memory.ErrNotFound, id)
	}

	m.Embedding = embedding
	m.EmbeddingStatus = status
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, ownerID string) (memory.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st memory.Stats
	for _, m := range s.memories {
		if m.OwnerID != ownerID {
			continue
		}
		st.Total++
		if m.IsCurrent {
			st.Current++
		} else {
			st.Superseded++
		}
		switch m.EmbeddingStatus {
		case memory.EmbeddingPending:
			st.PendingEmbeddings++
		case memory.EmbeddingFailed:
			st.FailedEmbeddings++
		}
	}
	return st, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) collect(ownerID string, limit int, keep func(*memory.Memory) bool) ([]*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*memory.Memory
	for _, m := range s.memories {
		if m.OwnerID == ownerID && keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Ensure MemoryStore implements memory.Store
var _ memory.Store = (*MemoryStore)(nil)
