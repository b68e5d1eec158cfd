package retrieval

import (
	"fmt"
	"strings"

	"github.com/engramhq/engram/pkg/anchors"
	"github.com/engramhq/engram/pkg/memory"
)

// Boost magnitudes. Entity matches dominate raw semantic similarity on
// purpose: a named-entity query must not lose to a topically similar memory
// about someone else.
const (
	KeywordBoost   = 0.15
	EntityBoost    = 0.6
	OrdinalBoost   = 0.5
	OrdinalPenalty = -0.25
	ExplicitBoost  = 0.9
)

// Rule is one typed boost or penalty. Rules run in the declared order of
// DefaultRules and accumulate deltas additively; each firing is recorded
// with an explanation.
type Rule interface {
	// Name identifies the rule in boost records and logs.
	Name() string

	// Evaluate returns the score delta for the candidate, an explanation,
	// and whether the rule fired at all.
	Evaluate(c *Candidate, q *Query) (delta float64, explanation string, fired bool)
}

// DefaultRules returns the rule chain in its fixed evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		keywordRule{},
		entityRule{},
		ordinalRule{},
		explicitRecallRule{},
	}
}

// keywordRule grants a small fixed bonus when the query and content share
// salient terms.
type keywordRule struct{}

func (keywordRule) Name() string { return "keyword" }

func (keywordRule) Evaluate(c *Candidate, q *Query) (float64, string, bool) {
	n := keywordOverlap(q, c.Memory.Content)
	if n == 0 {
		return 0, "", false
	}
	return KeywordBoost, fmt.Sprintf("%d shared keyword(s)", n), true
}

// entityRule grants a large bonus when a proper name in the query matches a
// name anchor on the memory.
type entityRule struct{}

func (entityRule) Name() string { return "entity" }

func (entityRule) Evaluate(c *Candidate, q *Query) (float64, string, bool) {
	if len(q.Names) == 0 {
		return 0, "", false
	}

	for _, qn := range q.Names {
		for _, cn := range candidateNames(c.Memory) {
			if namesMatch(qn, cn) {
				return EntityBoost, fmt.Sprintf("query names %q", cn), true
			}
		}
	}
	return 0, "", false
}

// ordinalRule rewards a matching ordinal anchor and penalizes a mismatch.
// Memories without an ordinal anchor are left alone.
type ordinalRule struct{}

func (ordinalRule) Name() string { return "ordinal" }

func (ordinalRule) Evaluate(c *Candidate, q *Query) (float64, string, bool) {
	if !q.HasOrdinal {
		return 0, "", false
	}

	for _, n := range candidateAnchors(c.Memory).Numeric {
		if n.Kind != "ordinal" {
			continue
		}
		if int(n.Value) == q.Ordinal {
			return OrdinalBoost, fmt.Sprintf("ordinal %d matches", q.Ordinal), true
		}
		return OrdinalPenalty, fmt.Sprintf("ordinal %d does not match %d", int(n.Value), q.Ordinal), true
	}
	return 0, "", false
}

// explicitRecallRule near-unconditionally surfaces memories the user asked
// to remember, once they are topically relevant at all.
type explicitRecallRule struct{}

func (explicitRecallRule) Name() string { return "explicit_recall" }

func (explicitRecallRule) Evaluate(c *Candidate, q *Query) (float64, string, bool) {
	if !c.Memory.ExplicitRecall {
		return 0, "", false
	}
	if c.BaseScore <= 0 && keywordOverlap(q, c.Memory.Content) == 0 {
		return 0, "", false
	}
	return ExplicitBoost, "explicit remember request", true
}

// candidateAnchors returns the memory's stored anchors, re-deriving them
// only for rows persisted before anchor extraction existed.
func candidateAnchors(m *memory.Memory) memory.Anchors {
	if !m.Anchors.Empty() {
		return m.Anchors
	}
	return anchors.Extract(m.Content)
}

func candidateNames(m *memory.Memory) []string {
	return candidateAnchors(m).Names
}

// namesMatch compares two name units case-insensitively, accepting a
// single-word query name matching one word of a compound name.
func namesMatch(queryName, candidateName string) bool {
	qn := strings.ToLower(queryName)
	cn := strings.ToLower(candidateName)

	if qn == cn {
		return true
	}

	for _, part := range strings.Fields(cn) {
		if part == qn {
			return true
		}
	}
	for _, part := range strings.Fields(qn) {
		if part == cn {
			return true
		}
	}
	return false
}
