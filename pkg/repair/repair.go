// Package repair implements the deterministic post-answer repair layer.
//
// Two primitives run after the model call: temporal arithmetic (compute a
// start year from a duration plus an anchor year when the draft omits it)
// and list completeness (append enumerated names the draft dropped, with
// their original diacritics restored from anchor data). Each primitive fires
// only when the injected context contains a computable answer AND the draft
// fails to state it; when a correction cannot be computed confidently the
// primitive reports instead of guessing. Every invocation emits a structured
// record, fired or not.
package repair

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/retrieval"
)

// Primitive names used in records and logs.
const (
	PrimitiveTemporal = "temporal_arithmetic"
	PrimitiveList     = "list_completeness"
)

// Reasons for not firing.
const (
	ReasonNotApplicable  = "query does not match primitive"
	ReasonNoContext      = "context contains no computable answer"
	ReasonAmbiguous      = "multiple candidate pairs, refusing to guess"
	ReasonAlreadyCorrect = "draft already states the answer"
	ReasonFired          = "draft was missing the computable answer"
)

// Record is the structured outcome of one primitive invocation. A record is
// produced on every invocation whether or not the primitive fired.
type Record struct {
	Primitive     string   `json:"primitive"`
	Fired         bool     `json:"fired"`
	Reason        string   `json:"reason"`
	ItemsExpected []string `json:"items_expected,omitempty"`
	ItemsMissing  []string `json:"items_missing,omitempty"`
}

var (
	temporalQueryPattern = regexp.MustCompile(`(?i)\bwhen\s+(?:did|was|were)\b.*\b(?:start|begin|began|happen|join|move|arrive|open)`)
	listQueryPattern     = regexp.MustCompile(`(?i)\b(?:all|list|every|everyone|who\s+are|name\s+them|which\s+ones)\b`)
	listSeparatorPattern = regexp.MustCompile(`,|;|\band\b`)
)

// Layer applies the repair primitives to draft answers.
type Layer struct {
	logger *zap.Logger
	events eventstream.Publisher
}

// Option configures a Layer.
type Option func(*Layer)

// WithEvents installs a publisher that receives one audit event per
// primitive invocation.
func WithEvents(p eventstream.Publisher) Option {
	return func(l *Layer) { l.events = p }
}

// NewLayer creates a repair layer.
func NewLayer(logger *zap.Logger, opts ...Option) *Layer {
	l := &Layer{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Repair runs both primitives against a draft answer and the retrieval
// candidates that backed its context. Returns the final answer and the full
// invocation log.
func (l *Layer) Repair(ctx context.Context, ownerID, draft, query string, candidates []*retrieval.Candidate) (string, []Record) {
	var records []Record

	draft, rec := l.temporal(draft, query, candidates)
	records = append(records, rec)

	draft, rec = l.listCompleteness(draft, query, candidates)
	records = append(records, rec)

	for _, r := range records {
		l.publish(ctx, ownerID, r)
	}

	return draft, records
}

// publish emits the audit event for one record. Publishing is best-effort;
// failures are logged and the repaired answer still returns.
func (l *Layer) publish(ctx context.Context, ownerID string, r Record) {
	if l.events == nil {
		return
	}
	if err := l.events.Publish(ctx, eventstream.RepairInvoked(ownerID, r.Primitive, r.Fired)); err != nil {
		l.logger.Warn("repair event publish failed",
			zap.String("primitive", r.Primitive),
			zap.Error(err),
		)
	}
}

// temporal appends a computed start year when the context holds exactly one
// (duration, anchor year) pair and the draft lacks the arithmetic result.
func (l *Layer) temporal(draft, query string, candidates []*retrieval.Candidate) (string, Record) {
	rec := Record{Primitive: PrimitiveTemporal, Reason: ReasonNotApplicable}
	defer func() { l.log(rec) }()

	if !temporalQueryPattern.MatchString(query) {
		return draft, rec
	}

	var durations, years []int
	for _, c := range candidates {
		for _, t := range c.Memory.Anchors.Temporal {
			switch t.Kind {
			case "duration_years":
				durations = appendUnique(durations, t.Value)
			case "year":
				years = appendUnique(years, t.Value)
			}
		}
	}

	if len(durations) == 0 || len(years) == 0 {
		rec.Reason = ReasonNoContext
		return draft, rec
	}

	// More than one possible pairing means the subject is ambiguous; a
	// wrong year is worse than no repair.
	if len(durations) > 1 || len(years) > 1 {
		rec.Reason = ReasonAmbiguous
		return draft, rec
	}

	computed := years[0] - durations[0]
	computedStr := fmt.Sprintf("%d", computed)
	rec.ItemsExpected = []string{computedStr}

	if strings.Contains(draft, computedStr) {
		rec.Reason = ReasonAlreadyCorrect
		return draft, rec
	}

	rec.Fired = true
	rec.Reason = ReasonFired
	rec.ItemsMissing = []string{computedStr}

	return appendSentence(draft, fmt.Sprintf("That would have been in %s.", computedStr)), rec
}

// listCompleteness appends enumerated names the draft omitted, verbatim from
// the anchor data so diacritics survive.
func (l *Layer) listCompleteness(draft, query string, candidates []*retrieval.Candidate) (string, Record) {
	rec := Record{Primitive: PrimitiveList, Reason: ReasonNotApplicable}
	defer func() { l.log(rec) }()

	if !listQueryPattern.MatchString(query) {
		return draft, rec
	}

	expected := enumeratedNames(candidates)
	if len(expected) < 2 {
		rec.Reason = ReasonNoContext
		return draft, rec
	}
	rec.ItemsExpected = expected

	foldedDraft := foldForComparison(draft)
	var missing []string
	for _, name := range expected {
		if !strings.Contains(foldedDraft, foldForComparison(name)) {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		rec.Reason = ReasonAlreadyCorrect
		return draft, rec
	}

	rec.Fired = true
	rec.Reason = ReasonFired
	rec.ItemsMissing = missing

	return appendSentence(draft, "Also: "+strings.Join(missing, ", ")+"."), rec
}

func (l *Layer) log(rec Record) {
	l.logger.Info("repair primitive invoked",
		zap.String("primitive", rec.Primitive),
		zap.Bool("fired", rec.Fired),
		zap.String("reason", rec.Reason),
		zap.Strings("items_expected", rec.ItemsExpected),
		zap.Strings("items_missing", rec.ItemsMissing),
	)
}

// enumeratedNames collects the names of context memories that actually
// enumerate: two or more name anchors joined by list separators. Names come
// verbatim from the anchors, never re-derived from normalized text.
func enumeratedNames(candidates []*retrieval.Candidate) []string {
	var out []string
	seen := map[string]bool{}

	for _, c := range candidates {
		names := c.Memory.Anchors.Names
		if len(names) < 2 || !listSeparatorPattern.MatchString(c.Memory.Content) {
			continue
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}

	return out
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// foldForComparison lowercases and strips diacritics so "José" matches
// "jose". Used for comparison only; appended text keeps the original runes.
func foldForComparison(s string) string {
	folded, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func appendSentence(draft, sentence string) string {
	draft = strings.TrimRight(draft, " \n")
	if draft == "" {
		return sentence
	}
	return draft + " " + sentence
}

func appendUnique(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
