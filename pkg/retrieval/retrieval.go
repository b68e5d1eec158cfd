// Package retrieval implements the hybrid ranking engine: an owner-scoped
// SQL prefilter feeds a bounded candidate pool, each candidate gets a base
// similarity score plus additive boosts from a fixed chain of typed rules,
// and a safety pass force-includes health-critical memories for trigger
// domains. Ranking is read-only and side-effect free; candidates are scored
// concurrently since each score is independent.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/vector"
)

const (
	// DefaultCandidatePool bounds the SQL prefilter.
	DefaultCandidatePool = 500

	// DefaultResultCap bounds the ranked result regardless of budget headroom.
	DefaultResultCap = 15

	// maxSafetyInjections bounds the safety pass.
	maxSafetyInjections = 3

	// queryEmbedTimeout bounds the synchronous query embedding.
	queryEmbedTimeout = 2 * time.Second

	// maxScorers bounds concurrent candidate scoring.
	maxScorers = 8

	// keywordBase scales the keyword-overlap fallback base score so it
	// stays below a strong cosine match.
	keywordBase = 0.1
)

// safetyTriggers lists trigger domains and their query keyword sets in a
// fixed evaluation order. A query touching any of these domains pulls in
// safety-category memories even when their similarity rank is poor.
var safetyTriggers = []struct {
	domain string
	words  []string
}{
	{"food", []string{"eat", "eating", "food", "meal", "dinner", "lunch", "breakfast", "restaurant", "recipe", "snack", "cook", "cooking", "dish", "menu"}},
	{"activity", []string{"run", "running", "hike", "hiking", "exercise", "workout", "swim", "swimming", "sport", "gym", "climb", "climbing", "bike", "biking"}},
	{"pets", []string{"pet", "pets", "dog", "dogs", "cat", "cats", "puppy", "kitten", "adopt", "adopting"}},
}

// Config is the configuration options for the Engine.
type Config struct {
	Store memory.Store

	// Embedder computes the query embedding; nil degrades every candidate
	// to keyword scoring.
	Embedder embeddings.Embedder

	// Vectors is the similarity index populated by the embedding worker.
	// When set, base scores come from an index query; candidates the index
	// does not know fall back to store-resident cosine. Nil skips the
	// index entirely.
	Vectors vector.Driver

	// Rules defaults to DefaultRules() when nil.
	Rules []Rule

	// CandidatePool and ResultCap default to the package constants.
	CandidatePool int
	ResultCap     int

	// SafetyCategories are force-included for trigger-domain queries
	// (defaults to ["health"]).
	SafetyCategories []string

	Logger *zap.Logger
}

// Engine ranks an owner's current memories against a query.
type Engine struct {
	store            memory.Store
	embedder         embeddings.Embedder
	vectors          vector.Driver
	rules            []Rule
	candidatePool    int
	resultCap        int
	safetyCategories []string
	logger           *zap.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(c *Config) *Engine {
	e := &Engine{
		store:            c.Store,
		embedder:         c.Embedder,
		vectors:          c.Vectors,
		rules:            c.Rules,
		candidatePool:    c.CandidatePool,
		resultCap:        c.ResultCap,
		safetyCategories: c.SafetyCategories,
		logger:           c.Logger,
	}

	if e.rules == nil {
		e.rules = DefaultRules()
	}
	if e.candidatePool <= 0 {
		e.candidatePool = DefaultCandidatePool
	}
	if e.resultCap <= 0 {
		e.resultCap = DefaultResultCap
	}
	if e.safetyCategories == nil {
		e.safetyCategories = []string{"health"}
	}

	return e
}

// Retrieve returns the ranked, capped, budget-trimmed candidates for a
// query. Failures degrade to a smaller or empty result; only the candidate
// fetch itself can error.
func (e *Engine) Retrieve(ctx context.Context, ownerID, queryText string, tokenBudget int, categoryHint string) ([]*Candidate, error) {
	q := ParseQuery(ownerID, queryText, categoryHint)
	q.Embedding = e.embedQuery(ctx, queryText)

	pool, err := e.store.Current(ctx, ownerID, categoryHint, e.candidatePool)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	sims := e.querySimilarity(ctx, ownerID, q.Embedding)
	candidates := e.scoreAll(pool, q, sims)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Memory.CreatedAt.After(candidates[j].Memory.CreatedAt)
	})

	if len(candidates) > e.resultCap {
		candidates = candidates[:e.resultCap]
	}

	candidates = e.injectSafety(ctx, candidates, q)

	if tokenBudget > 0 {
		candidates = trimToBudget(candidates, tokenBudget)
	}

	e.logger.Debug("retrieval complete",
		zap.String("owner_id", ownerID),
		zap.Int("pool", len(pool)),
		zap.Int("results", len(candidates)),
	)

	return candidates, nil
}

// embedQuery computes the query embedding, degrading to nil on any failure.
func (e *Engine) embedQuery(ctx context.Context, text string) []float32 {
	if e.embedder == nil {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	emb, err := e.embedder.Embed(ectx, text)
	if err != nil {
		e.logger.Debug("query embedding unavailable, using keyword scoring",
			zap.Error(err),
		)
		return nil
	}
	return emb
}

// querySimilarity asks the vector index for the memories nearest the query
// embedding, keyed by memory ID. Any failure degrades to nil and the
// store-resident fallback takes over.
func (e *Engine) querySimilarity(ctx context.Context, ownerID string, embedding []float32) map[string]float64 {
	if e.vectors == nil || len(embedding) == 0 {
		return nil
	}

	results, err := e.vectors.Query(ctx, ownerID, embedding, e.candidatePool)
	if err != nil {
		e.logger.Debug("vector index unavailable, using store-resident scoring",
			zap.Error(err),
		)
		return nil
	}

	sims := make(map[string]float64, len(results))
	for _, r := range results {
		sims[r.ID] = float64(r.Score)
	}
	return sims
}

// scoreAll scores every pool entry concurrently. Each candidate's score is
// independent, so workers write disjoint slice slots and need no locking.
func (e *Engine) scoreAll(pool []*memory.Memory, q *Query, sims map[string]float64) []*Candidate {
	candidates := make([]*Candidate, len(pool))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxScorers)

	for i, m := range pool {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, m *memory.Memory) {
			defer wg.Done()
			defer func() { <-sem }()
			candidates[i] = e.score(m, q, sims)
		}(i, m)
	}
	wg.Wait()

	return candidates
}

// score computes one candidate's hybrid score. Index-backed similarity
// wins over store-resident cosine, which wins over keyword overlap.
func (e *Engine) score(m *memory.Memory, q *Query, sims map[string]float64) *Candidate {
	c := &Candidate{Memory: m}

	if s, ok := sims[m.ID]; ok {
		c.BaseScore = s
	} else if len(q.Embedding) > 0 && len(m.Embedding) > 0 {
		c.BaseScore = vector.CosineSimilarity(q.Embedding, m.Embedding)
	} else {
		c.BaseScore = keywordBase * float64(keywordOverlap(q, m.Content))
	}
	c.Score = c.BaseScore

	for _, rule := range e.rules {
		delta, explanation, fired := rule.Evaluate(c, q)
		if !fired {
			continue
		}
		c.Score += delta
		c.Boosts = append(c.Boosts, BoostRecord{
			Rule:        rule.Name(),
			Delta:       delta,
			Explanation: explanation,
		})
	}

	return c
}

// injectSafety force-includes up to maxSafetyInjections memories from the
// safety categories when the query touches a trigger domain. Omitting a
// known allergy from a dining answer is a correctness defect, not a ranking
// nicety, so injected entries displace the lowest-ranked ordinary results
// rather than count against them; the result cap still holds.
func (e *Engine) injectSafety(ctx context.Context, ranked []*Candidate, q *Query) []*Candidate {
	domain := triggerDomain(q)
	if domain == "" {
		return ranked
	}

	safety, err := e.store.CurrentByCategories(ctx, q.OwnerID, e.safetyCategories, maxSafetyInjections)
	if err != nil {
		e.logger.Warn("safety category fetch failed",
			zap.String("owner_id", q.OwnerID),
			zap.Error(err),
		)
		return ranked
	}

	present := make(map[string]bool, len(ranked))
	for _, c := range ranked {
		present[c.Memory.ID] = true
	}

	for _, m := range safety {
		if present[m.ID] {
			continue
		}
		c := e.score(m, q, nil)
		c.SafetyInjected = true
		c.Boosts = append(c.Boosts, BoostRecord{
			Rule:        "safety_injection",
			Explanation: "safety-relevant memory for " + domain + " query",
		})
		ranked = append(ranked, c)

		e.logger.Info("safety memory injected",
			zap.String("owner_id", q.OwnerID),
			zap.String("memory_id", m.ID),
			zap.String("domain", domain),
		)
	}

	// Evict lowest-ranked non-safety entries so injection never grows the
	// result past the cap.
	for len(ranked) > e.resultCap {
		idx := -1
		for i := len(ranked) - 1; i >= 0; i-- {
			if !ranked[i].SafetyInjected {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		ranked = append(ranked[:idx], ranked[idx+1:]...)
	}

	return ranked
}

// triggerDomain returns the safety trigger domain the query touches, or "".
func triggerDomain(q *Query) string {
	for _, trigger := range safetyTriggers {
		for _, w := range trigger.words {
			for _, kw := range q.Keywords {
				if kw == w {
					return trigger.domain
				}
			}
		}
	}
	return ""
}

// trimToBudget drops lowest-ranked non-safety candidates until the
// cumulative token count fits. Safety-injected entries are dropped last.
func trimToBudget(candidates []*Candidate, budget int) []*Candidate {
	total := 0
	for _, c := range candidates {
		total += c.Memory.TokenCount
	}

	for total > budget && len(candidates) > 0 {
		idx := -1
		for i := len(candidates) - 1; i >= 0; i-- {
			if !candidates[i].SafetyInjected {
				idx = i
				break
			}
		}
		if idx == -1 {
			idx = len(candidates) - 1
		}
		total -= candidates[idx].Memory.TokenCount
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}

	return candidates
}
