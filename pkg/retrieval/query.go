package retrieval

import (
	"strings"

	"github.com/engramhq/engram/pkg/anchors"
)

// Query is the parsed form of a retrieval request, computed once and shared
// by every rule evaluation.
type Query struct {
	OwnerID string
	Text    string

	// Embedding is nil when the embedder was unavailable; scoring then
	// degrades to keyword overlap.
	Embedding []float32

	// Keywords are the salient lowercase terms of the query text.
	Keywords []string

	// Names are proper names detected in the query.
	Names []string

	// Ordinal is set when the query asks about "the first", "the 2nd", etc.
	Ordinal    int
	HasOrdinal bool

	// CategoryHint narrows the candidate prefilter when non-empty.
	CategoryHint string
}

// queryStopwords are common terms excluded from keyword matching.
var queryStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "what": true, "when": true, "where": true, "who": true,
	"why": true, "how": true, "did": true, "does": true, "was": true,
	"were": true, "are": true, "have": true, "has": true, "had": true,
	"about": true, "tell": true, "know": true, "you": true, "your": true,
	"whats": true, "which": true, "them": true, "they": true, "their": true,
	"there": true, "from": true, "into": true, "some": true, "any": true,
	"all": true, "can": true, "could": true, "should": true, "would": true,
	"will": true, "our": true, "out": true, "not": true, "but": true,
	"remember": true, "recall": true, "memories": true, "memory": true,
}

// ParseQuery computes the derived fields for a retrieval request.
func ParseQuery(ownerID, text, categoryHint string) *Query {
	q := &Query{
		OwnerID:      ownerID,
		Text:         text,
		Keywords:     keywords(text),
		Names:        anchors.Extract(text).Names,
		CategoryHint: categoryHint,
	}
	q.Ordinal, q.HasOrdinal = anchors.Ordinal(text)
	return q
}

// keywords extracts the salient lowercase terms of text.
func keywords(text string) []string {
	var out []string
	seen := map[string]bool{}

	for _, raw := range strings.Fields(strings.ToLower(text)) {
		w := strings.Trim(raw, ".,;:!?\"'()[]")
		if len(w) < 3 || queryStopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}

	return out
}

// keywordOverlap counts how many query keywords appear in content.
func keywordOverlap(q *Query, content string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, kw := range q.Keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}
