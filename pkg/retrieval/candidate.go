package retrieval

import "github.com/engramhq/engram/pkg/memory"

// BoostRecord is one fired rule's contribution to a candidate's score.
// Records survive ranking so downstream consumers (audit, repair) can see
// which boosts were available.
type BoostRecord struct {
	Rule        string  `json:"rule"`
	Delta       float64 `json:"delta"`
	Explanation string  `json:"explanation"`
}

// Candidate is one memory moving through the ranking pipeline. Candidates
// are request-scoped and discarded when the request completes.
type Candidate struct {
	Memory *memory.Memory `json:"memory"`

	// BaseScore is the semantic (or keyword-fallback) similarity before
	// any boosts.
	BaseScore float64 `json:"base_score"`

	// Score is BaseScore plus all accumulated boost deltas.
	Score float64 `json:"score"`

	Boosts []BoostRecord `json:"boosts,omitempty"`

	// SafetyInjected marks candidates force-included by the safety pass
	// rather than earned by rank.
	SafetyInjected bool `json:"safety_injected,omitempty"`
}
