package repair

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/anchors"
	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/retrieval"
)

func candidate(content string) *retrieval.Candidate {
	return &retrieval.Candidate{
		Memory: &memory.Memory{
			ID:      memory.NewID(),
			OwnerID: "alice",
			Content: content,
			Anchors: anchors.Extract(content),
		},
	}
}

func findRecord(records []Record, primitive string) Record {
	for _, r := range records {
		if r.Primitive == primitive {
			return r
		}
	}
	Fail("no record for " + primitive)
	return Record{}
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	events []eventstream.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e eventstream.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

var _ = Describe("Layer", func() {
	var (
		layer *Layer
		ctx   context.Context
	)

	BeforeEach(func() {
		layer = NewLayer(zap.NewNop())
		ctx = context.Background()
	})

	Describe("temporal arithmetic", func() {
		backing := []*retrieval.Candidate{
			candidate("Worked at the port authority for 5 years."),
			candidate("Left the port authority in 2020."),
		}

		It("appends the computed year when the draft omits it", func() {
			final, records := layer.Repair(ctx, "alice",
				"You worked at the port authority for a while.",
				"when did I start at the port authority",
				backing,
			)

			Expect(final).To(ContainSubstring("2015"))

			rec := findRecord(records, PrimitiveTemporal)
			Expect(rec.Fired).To(BeTrue())
			Expect(rec.ItemsMissing).To(Equal([]string{"2015"}))
		})

		It("does not fire when the draft already states the year", func() {
			draft := "You started there back in 2015, five years before leaving."
			final, records := layer.Repair(ctx, "alice", draft, "when did I start at the port authority", backing)

			Expect(final).To(Equal(draft))

			rec := findRecord(records, PrimitiveTemporal)
			Expect(rec.Fired).To(BeFalse())
			Expect(rec.Reason).To(Equal(ReasonAlreadyCorrect))
		})

		It("does not fire for non-temporal queries", func() {
			draft := "The port authority is near the harbor."
			final, records := layer.Repair(ctx, "alice", draft, "where is the port authority", backing)

			Expect(final).To(Equal(draft))
			Expect(findRecord(records, PrimitiveTemporal).Fired).To(BeFalse())
		})

		It("refuses to guess between multiple pairs", func() {
			ambiguous := []*retrieval.Candidate{
				candidate("Worked at the port authority for 5 years."),
				candidate("Left the port authority in 2020."),
				candidate("Worked at the library for 3 years."),
				candidate("Left the library in 2012."),
			}

			draft := "You have held a few jobs."
			final, records := layer.Repair(ctx, "alice", draft, "when did I start working", ambiguous)

			Expect(final).To(Equal(draft))

			rec := findRecord(records, PrimitiveTemporal)
			Expect(rec.Fired).To(BeFalse())
			Expect(rec.Reason).To(Equal(ReasonAmbiguous))
		})

		It("reports no context when the pair is incomplete", func() {
			partial := []*retrieval.Candidate{
				candidate("Worked at the port authority for 5 years."),
			}

			_, records := layer.Repair(ctx, "alice", "Some answer.", "when did I start there", partial)

			rec := findRecord(records, PrimitiveTemporal)
			Expect(rec.Fired).To(BeFalse())
			Expect(rec.Reason).To(Equal(ReasonNoContext))
		})
	})

	Describe("list completeness", func() {
		backing := []*retrieval.Candidate{
			candidate("The book club members are Björn O'Shaughnessy, José García-López, and Zhang Wei."),
		}

		It("appends omitted names with diacritics intact", func() {
			final, records := layer.Repair(ctx, "alice",
				"The members are Bjorn O'Shaughnessy and Zhang Wei.",
				"who are all the book club members",
				backing,
			)

			Expect(final).To(ContainSubstring("José García-López"))

			rec := findRecord(records, PrimitiveList)
			Expect(rec.Fired).To(BeTrue())
			Expect(rec.ItemsMissing).To(Equal([]string{"José García-López"}))
		})

		It("accepts diacritic-free spellings as present", func() {
			draft := "The members are Bjorn O'Shaughnessy, Jose Garcia-Lopez, and Zhang Wei."
			final, records := layer.Repair(ctx, "alice", draft, "list the book club members", backing)

			Expect(final).To(Equal(draft))

			rec := findRecord(records, PrimitiveList)
			Expect(rec.Fired).To(BeFalse())
			Expect(rec.Reason).To(Equal(ReasonAlreadyCorrect))
		})

		It("does not fire for non-list queries", func() {
			draft := "The club meets on Thursdays."
			_, records := layer.Repair(ctx, "alice", draft, "when does the club meet", backing)

			Expect(findRecord(records, PrimitiveList).Fired).To(BeFalse())
		})

		It("ignores context that does not enumerate", func() {
			sparse := []*retrieval.Candidate{
				candidate("Zhang Wei runs the book club."),
			}

			_, records := layer.Repair(ctx, "alice", "Someone runs it.", "who are all the members", sparse)

			rec := findRecord(records, PrimitiveList)
			Expect(rec.Fired).To(BeFalse())
			Expect(rec.Reason).To(Equal(ReasonNoContext))
		})
	})

	Describe("audit events", func() {
		It("publishes one event per primitive invocation", func() {
			pub := &recordingPublisher{}
			layer = NewLayer(zap.NewNop(), WithEvents(pub))

			backing := []*retrieval.Candidate{
				candidate("Worked at the port authority for 5 years."),
				candidate("Left the port authority in 2020."),
			}
			_, _ = layer.Repair(ctx, "alice",
				"You worked at the port authority for a while.",
				"when did I start at the port authority",
				backing,
			)

			Expect(pub.events).To(HaveLen(2))
			for _, e := range pub.events {
				Expect(e.Type).To(Equal(eventstream.TypeRepairInvoked))
				Expect(e.OwnerID).To(Equal("alice"))
			}
			Expect(pub.events[0].Primitive).To(Equal(PrimitiveTemporal))
			Expect(pub.events[0].Fired).To(BeTrue())
			Expect(pub.events[1].Primitive).To(Equal(PrimitiveList))
			Expect(pub.events[1].Fired).To(BeFalse())
		})

		It("publishes nothing when no publisher is configured", func() {
			_, records := layer.Repair(ctx, "alice", "Anything.", "where is the harbor", nil)
			Expect(records).To(HaveLen(2))
		})
	})
})
