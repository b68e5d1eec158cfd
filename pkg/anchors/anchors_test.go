package anchors_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/anchors"
	"github.com/engramhq/engram/pkg/memory"
)

var _ = Describe("Extract", func() {
	Describe("names", func() {
		It("keeps compound names with diacritics and apostrophes as single units", func() {
			a := anchors.Extract("I met Björn O'Shaughnessy and José García-López yesterday.")
			Expect(a.Names).To(ContainElement("Björn O'Shaughnessy"))
			Expect(a.Names).To(ContainElement("José García-López"))
		})

		It("records non-ASCII names in the unicode side table verbatim", func() {
			a := anchors.Extract("My friends are Björn O'Shaughnessy, José García-López, Zhang Wei.")
			Expect(a.UnicodeNames).To(ConsistOf("Björn O'Shaughnessy", "José García-López"))
			Expect(a.Names).To(ContainElement("Zhang Wei"))
		})

		It("does not split a hyphenated surname at the hyphen", func() {
			a := anchors.Extract("García-López runs the team.")
			Expect(a.Names).To(ContainElement("García-López"))
			Expect(a.Names).NotTo(ContainElement("García"))
		})

		It("skips sentence-initial pronouns and articles", func() {
			a := anchors.Extract("My manager is Alex Chen.")
			Expect(a.Names).To(ConsistOf("Alex Chen"))
		})

		It("treats all-caps code words as names", func() {
			a := anchors.Extract("The first code was CHARLIE.")
			Expect(a.Names).To(ContainElement("CHARLIE"))
		})
	})

	Describe("temporal", func() {
		It("extracts a duration in years", func() {
			a := anchors.Extract("I worked there 5 years.")
			Expect(a.Temporal).To(ContainElement(memory.TemporalAnchor{Kind: "duration_years", Value: 5}))
		})

		It("extracts an absolute year", func() {
			a := anchors.Extract("I left the company in 2020.")
			Expect(a.Temporal).To(ContainElement(memory.TemporalAnchor{Kind: "year", Value: 2020}))
		})

		It("extracts both from one utterance", func() {
			a := anchors.Extract("Worked 5 years at Acme and left in 2020.")
			Expect(a.Temporal).To(HaveLen(2))
		})
	})

	Describe("numeric", func() {
		It("extracts currency values with the raw form preserved", func() {
			a := anchors.Extract("My rent is $1,200 per month.")
			var currency *memory.NumericAnchor
			for i := range a.Numeric {
				if a.Numeric[i].Kind == "currency" {
					currency = &a.Numeric[i]
				}
			}
			Expect(currency).NotTo(BeNil())
			Expect(currency.Value).To(Equal(1200.0))
			Expect(currency.Raw).To(ContainSubstring("1,200"))
		})

		It("extracts ordinals from spelled-out words", func() {
			a := anchors.Extract("The second code was DELTA.")
			Expect(a.Numeric).To(ContainElement(memory.NumericAnchor{Kind: "ordinal", Value: 2}))
		})

		It("does not duplicate years as plain numbers", func() {
			a := anchors.Extract("I left in 2020.")
			for _, n := range a.Numeric {
				Expect(n.Kind).NotTo(Equal("number"))
			}
		})
	})
})

var _ = Describe("Ordinal", func() {
	It("parses spelled-out ordinals", func() {
		n, ok := anchors.Ordinal("what was the first code")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(1))
	})

	It("parses suffixed ordinals", func() {
		n, ok := anchors.Ordinal("the 3rd door")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(3))
	})

	It("reports absence", func() {
		_, ok := anchors.Ordinal("no ordinal here")
		Expect(ok).To(BeFalse())
	})
})
