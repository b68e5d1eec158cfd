package bundle_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/bundle"
	"github.com/engramhq/engram/pkg/tokens"
)

// line builds a single sentence costing roughly n tokens.
func line(n int) string {
	return strings.Repeat("word ", n-1) + "word."
}

var _ = Describe("Budgeter", func() {
	newBudgeter := func(b bundle.Budget) *bundle.Budgeter {
		budgeter, err := bundle.NewBudgeter(b, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return budgeter
	}

	Describe("NewBudgeter", func() {
		It("rejects a non-positive total", func() {
			_, err := bundle.NewBudgeter(bundle.Budget{Total: 0}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})

		It("rejects duplicate sources in the order", func() {
			_, err := bundle.NewBudgeter(bundle.Budget{
				Total: 100,
				Order: []string{"memory", "memory"},
			}, zap.NewNop())
			Expect(err).To(HaveOccurred())
		})

		It("falls back to the default order", func() {
			b := newBudgeter(bundle.Budget{Total: 100})
			out := b.Assemble(map[string]string{
				bundle.SourceExternal: "weather is clear today.",
				bundle.SourceMemory:   "lives in Lisbon now.",
			})
			Expect(out.Sections[0].Source).To(Equal(bundle.SourceMemory))
			Expect(out.Sections[1].Source).To(Equal(bundle.SourceExternal))
		})
	})

	Describe("Assemble", func() {
		It("keeps everything when under budget", func() {
			b := newBudgeter(bundle.Budget{Total: 1000})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory:   "lives in Lisbon now.",
				bundle.SourceDocument: "contract renews in June.",
			})

			Expect(out.Sections).To(HaveLen(2))
			for _, s := range out.Sections {
				Expect(s.Truncated).To(BeFalse())
			}
		})

		It("applies per-source ceilings at line boundaries", func() {
			text := line(20) + "\n" + line(20) + "\n" + line(20)

			b := newBudgeter(bundle.Budget{
				Total:     1000,
				PerSource: map[string]int{bundle.SourceDocument: 50},
			})
			out := b.Assemble(map[string]string{bundle.SourceDocument: text})

			s, ok := out.Section(bundle.SourceDocument)
			Expect(ok).To(BeTrue())
			Expect(s.Truncated).To(BeTrue())
			Expect(s.Tokens).To(BeNumerically("<=", 50))
			Expect(s.Text).To(HaveSuffix(tokens.TruncationMarker))

			// every kept line is whole
			for _, l := range strings.Split(strings.TrimSuffix(s.Text, "\n"+tokens.TruncationMarker), "\n") {
				Expect(l).To(HaveSuffix("."))
			}
		})

		It("holds the global ceiling when sources are many short lines", func() {
			// Joining newlines dominate the token count here; the
			// assembled total must still respect the ceiling.
			short := strings.TrimSuffix(strings.Repeat("abc.\n", 40), "\n")
			b := newBudgeter(bundle.Budget{Total: 10})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory:   short,
				bundle.SourceDocument: short,
				bundle.SourceVault:    short,
			})

			Expect(out.TotalTokens).To(BeNumerically("<=", 10))
			for _, s := range out.Sections {
				Expect(tokens.Estimate(s.Text)).To(BeNumerically("<=", 10))
			}
		})

		It("never exceeds the global ceiling", func() {
			b := newBudgeter(bundle.Budget{Total: 60})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory:   line(20) + "\n" + line(20),
				bundle.SourceDocument: line(20) + "\n" + line(20),
				bundle.SourceVault:    line(20) + "\n" + line(20),
			})

			Expect(out.TotalTokens).To(BeNumerically("<=", 60))
		})

		It("trims the lowest-priority source first", func() {
			b := newBudgeter(bundle.Budget{Total: 110})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory:   line(20) + "\n" + line(20),
				bundle.SourceDocument: line(20) + "\n" + line(20),
				bundle.SourceVault:    line(20) + "\n" + line(20),
			})

			mem, ok := out.Section(bundle.SourceMemory)
			Expect(ok).To(BeTrue())
			Expect(mem.Truncated).To(BeFalse())

			doc, ok := out.Section(bundle.SourceDocument)
			Expect(ok).To(BeTrue())
			Expect(doc.Truncated).To(BeFalse())

			// vault either truncated or dropped entirely
			if vault, ok := out.Section(bundle.SourceVault); ok {
				Expect(vault.Truncated).To(BeTrue())
			}
		})

		It("drops sources not named in the precedence order", func() {
			b := newBudgeter(bundle.Budget{Total: 100, Order: []string{bundle.SourceMemory}})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory: "lives in Lisbon now.",
				"mystery":           "should never appear.",
			})

			Expect(out.Sections).To(HaveLen(1))
			_, ok := out.Section("mystery")
			Expect(ok).To(BeFalse())
		})

		It("skips empty inputs", func() {
			b := newBudgeter(bundle.Budget{Total: 100})
			out := b.Assemble(map[string]string{bundle.SourceMemory: ""})
			Expect(out.Sections).To(BeEmpty())
		})
	})

	Describe("SetBudget", func() {
		It("applies the new ceilings to subsequent assemblies", func() {
			b := newBudgeter(bundle.Budget{Total: 1000})
			out := b.Assemble(map[string]string{
				bundle.SourceMemory: "lives in Lisbon now.\nworks at the port authority.",
			})
			Expect(out.Sections[0].Truncated).To(BeFalse())

			Expect(b.SetBudget(bundle.Budget{Total: 8})).To(Succeed())

			out = b.Assemble(map[string]string{
				bundle.SourceMemory: "lives in Lisbon now.\nworks at the port authority.",
			})
			Expect(out.TotalTokens).To(BeNumerically("<=", 8))
		})

		It("rejects an invalid replacement", func() {
			b := newBudgeter(bundle.Budget{Total: 1000})
			Expect(b.SetBudget(bundle.Budget{Total: 0})).NotTo(Succeed())
			Expect(b.SetBudget(bundle.Budget{
				Total: 100,
				Order: []string{"memory", "memory"},
			})).NotTo(Succeed())

			out := b.Assemble(map[string]string{bundle.SourceMemory: "lives in Lisbon now."})
			Expect(out.Sections).To(HaveLen(1))
		})
	})
})
