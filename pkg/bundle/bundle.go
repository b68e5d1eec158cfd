// Package bundle assembles the final token-budgeted context for a model
// call. Each source (memory, document, vault, external facts) gets a
// per-source ceiling, the whole bundle gets a global ceiling, and precedence
// between sources is an explicit total order carried by the budget. When
// the bundle cannot fit, the lowest-priority source is trimmed first, always
// at line boundaries with an explicit truncation marker, and the request
// never fails.
package bundle

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/tokens"
)

// Well-known source names.
const (
	SourceMemory   = "memory"
	SourceDocument = "document"
	SourceVault    = "vault"
	SourceExternal = "external"
)

// DefaultOrder is the default precedence, highest priority first.
var DefaultOrder = []string{SourceMemory, SourceDocument, SourceVault, SourceExternal}

// Section is one source's contribution to the assembled bundle.
type Section struct {
	Source    string `json:"source"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated"`
}

// ContextBundle is the assembled, budget-compliant set of text blocks for a
// single model call. Bundles are request-scoped.
type ContextBundle struct {
	Sections    []Section `json:"sections"`
	TotalTokens int       `json:"total_tokens"`
}

// Section returns the named section and whether it is present.
func (b *ContextBundle) Section(source string) (Section, bool) {
	for _, s := range b.Sections {
		if s.Source == source {
			return s, true
		}
	}
	return Section{}, false
}

// Budget configures the budgeter's ceilings.
type Budget struct {
	// Total is the global token ceiling for the whole bundle.
	Total int

	// PerSource ceilings; sources without an entry get no dedicated cap
	// beyond the global ceiling.
	PerSource map[string]int

	// Order is the precedence, highest priority first. Every source that
	// can appear must be listed exactly once; ties are not representable.
	Order []string
}

// Budgeter assembles context bundles under a fixed budget. The budget can
// be swapped at runtime via SetBudget; assembly snapshots it per call.
type Budgeter struct {
	mu     sync.RWMutex
	budget Budget
	logger *zap.Logger
}

// NewBudgeter creates a budgeter. The order must be a total order: no
// duplicates, and empty order falls back to DefaultOrder.
func NewBudgeter(budget Budget, logger *zap.Logger) (*Budgeter, error) {
	normalized, err := normalizeBudget(budget)
	if err != nil {
		return nil, err
	}

	return &Budgeter{budget: normalized, logger: logger}, nil
}

// SetBudget replaces the budget, validating it the same way NewBudgeter
// does. In-flight assemblies finish against the budget they started with.
func (b *Budgeter) SetBudget(budget Budget) error {
	normalized, err := normalizeBudget(budget)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.budget = normalized
	b.mu.Unlock()

	return nil
}

func normalizeBudget(budget Budget) (Budget, error) {
	if budget.Total <= 0 {
		return Budget{}, fmt.Errorf("total budget must be positive")
	}

	if len(budget.Order) == 0 {
		budget.Order = DefaultOrder
	}

	seen := make(map[string]bool, len(budget.Order))
	for _, s := range budget.Order {
		if seen[s] {
			return Budget{}, fmt.Errorf("duplicate source %q in precedence order", s)
		}
		seen[s] = true
	}

	return budget, nil
}

// Assemble merges the given source texts into a bundle that never exceeds
// the ceilings. Sources missing from the precedence order are dropped with
// a warning rather than guessing a priority.
func (b *Budgeter) Assemble(inputs map[string]string) ContextBundle {
	b.mu.RLock()
	budget := b.budget
	b.mu.RUnlock()

	var bundle ContextBundle

	for _, source := range budget.Order {
		text, ok := inputs[source]
		if !ok || text == "" {
			continue
		}

		// A zero or missing per-source ceiling means only the global
		// ceiling applies.
		trimmed := text
		if ceiling := budget.PerSource[source]; ceiling > 0 {
			trimmed = tokens.TrimToBudget(text, ceiling)
		}

		bundle.Sections = append(bundle.Sections, Section{
			Source:    source,
			Text:      trimmed,
			Tokens:    tokens.Estimate(trimmed),
			Truncated: trimmed != text,
		})
	}

	for source := range inputs {
		if !contains(budget.Order, source) {
			b.logger.Warn("source missing from precedence order, dropped",
				zap.String("source", source),
			)
		}
	}

	b.enforceTotal(&bundle, budget)

	bundle.TotalTokens = 0
	for _, s := range bundle.Sections {
		bundle.TotalTokens += s.Tokens
	}

	return bundle
}

// enforceTotal trims lowest-priority sections first until the bundle fits
// the global ceiling.
func (b *Budgeter) enforceTotal(bundle *ContextBundle, budget Budget) {
	total := 0
	for _, s := range bundle.Sections {
		total += s.Tokens
	}
	if total <= budget.Total {
		return
	}

	b.logger.Info("bundle over budget, trimming lowest-priority sources",
		zap.Int("total_tokens", total),
		zap.Int("budget", budget.Total),
	)

	for i := len(bundle.Sections) - 1; i >= 0 && total > budget.Total; i-- {
		s := &bundle.Sections[i]
		overshoot := total - budget.Total
		target := s.Tokens - overshoot
		if target < 0 {
			target = 0
		}

		trimmed := tokens.TrimToBudget(s.Text, target)
		if trimmed == s.Text {
			continue
		}

		total -= s.Tokens
		s.Text = trimmed
		s.Tokens = tokens.Estimate(trimmed)
		s.Truncated = true
		total += s.Tokens
	}

	// drop now-empty sections from the tail of the precedence order
	kept := bundle.Sections[:0]
	for _, s := range bundle.Sections {
		if s.Text != "" && s.Text != tokens.TruncationMarker {
			kept = append(kept, s)
		}
	}
	bundle.Sections = kept
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
