package fingerprint_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/fingerprint"
)

// stubClassifier is a test classifier with scripted behavior.
type stubClassifier struct {
	slot       string
	confidence float64
	err        error
	delay      time.Duration
}

func (s *stubClassifier) Classify(ctx context.Context, _ string) (string, float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	return s.slot, s.confidence, s.err
}

var _ = Describe("Generator", func() {
	var logger *zap.Logger

	BeforeEach(func() {
		logger = zap.NewNop()
	})

	Describe("deterministic rules", func() {
		It("fingerprints a phone statement without consulting the classifier", func() {
			g := fingerprint.NewGenerator(logger)
			res := g.Generate(context.Background(), "owner-1", "My phone number is 555-0100.")
			Expect(res.Fingerprint).To(Equal("phone:owner-1"))
			Expect(res.Method).To(Equal(fingerprint.MethodRule))
			Expect(res.Confidence).To(Equal(1.0))
		})

		It("fingerprints an employer statement", func() {
			g := fingerprint.NewGenerator(logger)
			res := g.Generate(context.Background(), "owner-1", "I work at Acme Corp now.")
			Expect(res.Fingerprint).To(Equal("employer:owner-1"))
		})

		It("returns no fingerprint for non-fact chatter", func() {
			g := fingerprint.NewGenerator(logger)
			res := g.Generate(context.Background(), "owner-1", "what a lovely day")
			Expect(res.Fingerprint).To(BeEmpty())
			Expect(res.Method).To(Equal(fingerprint.MethodNone))
		})
	})

	Describe("classifier fallback", func() {
		It("uses the classifier when rules are inconclusive", func() {
			g := fingerprint.NewGenerator(logger,
				fingerprint.WithClassifier(&stubClassifier{slot: "allergy", confidence: 0.8}),
			)
			res := g.Generate(context.Background(), "owner-1", "peanuts make my throat close up")
			Expect(res.Fingerprint).To(Equal("allergy:owner-1"))
			Expect(res.Method).To(Equal(fingerprint.MethodClassifier))
		})

		It("rejects low-confidence classifications", func() {
			g := fingerprint.NewGenerator(logger,
				fingerprint.WithClassifier(&stubClassifier{slot: "allergy", confidence: 0.3}),
			)
			res := g.Generate(context.Background(), "owner-1", "peanuts are dangerous")
			Expect(res.Fingerprint).To(BeEmpty())
		})

		It("degrades to no fingerprint when the classifier errors", func() {
			g := fingerprint.NewGenerator(logger,
				fingerprint.WithClassifier(&stubClassifier{err: errors.New("boom")}),
			)
			res := g.Generate(context.Background(), "owner-1", "some free text")
			Expect(res.Fingerprint).To(BeEmpty())
			Expect(res.Method).To(Equal(fingerprint.MethodNone))
		})

		It("times out a slow classifier instead of blocking the write", func() {
			g := fingerprint.NewGenerator(logger,
				fingerprint.WithClassifier(&stubClassifier{slot: "allergy", confidence: 0.9, delay: time.Second}),
				fingerprint.WithTimeout(20*time.Millisecond),
			)
			start := time.Now()
			res := g.Generate(context.Background(), "owner-1", "some free text")
			Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
			Expect(res.Fingerprint).To(BeEmpty())
		})

		It("rejects malformed classifier slots", func() {
			g := fingerprint.NewGenerator(logger,
				fingerprint.WithClassifier(&stubClassifier{slot: "two words", confidence: 0.9}),
			)
			res := g.Generate(context.Background(), "owner-1", "some free text")
			Expect(res.Fingerprint).To(BeEmpty())
		})
	})
})
