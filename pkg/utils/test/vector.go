package testutils

import (
	"context"

	"github.com/engramhq/engram/pkg/vector"
)

// MockVectorDriver is a test vector driver that records added documents and
// returns preconfigured query results.
type MockVectorDriver struct {
	Documents []vector.Document

	// Results is returned by Query for any owner, truncated to topK.
	Results []vector.QueryResult

	// FailAdd causes Add to return an error.
	FailAdd bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make([]vector.Document, 0),
		Results:   make([]vector.QueryResult, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	if m.FailAdd {
		return vector.ErrConnection
	}
	m.Documents = append(m.Documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ string, _ []float32, topK int) ([]vector.QueryResult, error) {
	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		for i, doc := range m.Documents {
			if doc.ID == id {
				m.Documents = append(m.Documents[:i], m.Documents[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
