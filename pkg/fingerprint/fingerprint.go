// Package fingerprint derives canonical fact-slot keys from utterances.
//
// A fingerprint identifies "the same fact slot" across utterances — e.g.
// every statement of the user's phone number maps to phone:<owner> — so the
// storage writer can supersede stale facts cheaply. Deterministic pattern
// rules run first; a model-assisted classifier is consulted only when the
// rules are inconclusive, bounded by a short timeout after which the
// generator returns no fingerprint rather than block the write path.
package fingerprint

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// MethodRule means a deterministic pattern matched.
	MethodRule = "rule"

	// MethodClassifier means the model-assisted fallback produced the slot.
	MethodClassifier = "classifier"

	// MethodNone means no fingerprint could be derived.
	MethodNone = "none"

	// DefaultTimeout bounds the classifier fallback.
	DefaultTimeout = 2 * time.Second

	// classifierFloor is the minimum classifier confidence accepted.
	classifierFloor = 0.6
)

// Result is the outcome of fingerprint generation. Fingerprint is empty when
// the utterance is not fact-like.
type Result struct {
	Fingerprint string
	Confidence  float64
	Method      string
}

// Classifier is the model-assisted fallback. Implementations return the slot
// name (e.g. "phone") and a confidence in [0,1], or an empty slot when the
// utterance carries no single updatable fact.
type Classifier interface {
	Classify(ctx context.Context, text string) (slot string, confidence float64, err error)
}

// slotRule is one deterministic pattern mapping to a fact slot.
type slotRule struct {
	slot    string
	pattern *regexp.Regexp
}

// slotRules run in declared order; first match wins.
var slotRules = []slotRule{
	{"phone", regexp.MustCompile(`(?i)\bmy (?:phone|mobile|cell)(?: number)? is\b`)},
	{"email", regexp.MustCompile(`(?i)\bmy e?-?mail(?: address)? is\b`)},
	{"address", regexp.MustCompile(`(?i)\bmy (?:home |work )?address is\b`)},
	{"birthday", regexp.MustCompile(`(?i)\bmy birthday is\b|\bi was born on\b`)},
	{"name", regexp.MustCompile(`(?i)\bmy name is\b|\bcall me\b`)},
	{"employer", regexp.MustCompile(`(?i)\bi work (?:at|for)\b|\bmy employer is\b`)},
	{"doctor", regexp.MustCompile(`(?i)\bmy (?:doctor|physician) is\b`)},
	{"car", regexp.MustCompile(`(?i)\bmy car is\b|\bi drive an?\b`)},
}

// Generator derives fingerprints for one deployment. The classifier is
// optional; without it only deterministic rules apply.
type Generator struct {
	classifier Classifier
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClassifier installs the model-assisted fallback.
func WithClassifier(c Classifier) Option {
	return func(g *Generator) { g.classifier = c }
}

// WithTimeout overrides the classifier timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGenerator creates a fingerprint generator.
func NewGenerator(logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate derives the fingerprint for an utterance. Never returns an error:
// classification failures degrade to an empty fingerprint so storage is
// never blocked. No side effects.
func (g *Generator) Generate(ctx context.Context, ownerID, text string) Result {
	for _, rule := range slotRules {
		if rule.pattern.MatchString(text) {
			return Result{
				Fingerprint: Key(rule.slot, ownerID),
				Confidence:  1.0,
				Method:      MethodRule,
			}
		}
	}

	if g.classifier == nil {
		return Result{Method: MethodNone}
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	slot, confidence, err := g.classifier.Classify(cctx, text)
	if err != nil {
		g.logger.Debug("fingerprint classifier unavailable, degrading",
			zap.Error(err),
		)
		return Result{Method: MethodNone}
	}

	slot = normalizeSlot(slot)
	if slot == "" || confidence < classifierFloor {
		return Result{Method: MethodNone}
	}

	return Result{
		Fingerprint: Key(slot, ownerID),
		Confidence:  confidence,
		Method:      MethodClassifier,
	}
}

// Key builds the canonical fingerprint string for a slot and owner.
func Key(slot, ownerID string) string {
	return fmt.Sprintf("%s:%s", slot, ownerID)
}

// normalizeSlot lowercases and strips a classifier-returned slot down to a
// short identifier; anything unusable collapses to empty.
func normalizeSlot(slot string) string {
	slot = strings.ToLower(strings.TrimSpace(slot))
	slot = strings.Trim(slot, `"'.`)
	if slot == "" || slot == "none" || strings.ContainsAny(slot, " \t\n:") || len(slot) > 32 {
		return ""
	}
	return slot
}
