package writer

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/fingerprint"
	"github.com/engramhq/engram/pkg/memory"
	testutils "github.com/engramhq/engram/pkg/utils/test"
	"github.com/engramhq/engram/pkg/worker"
)

type recordingEnqueuer struct {
	jobs []worker.Job
}

func (r *recordingEnqueuer) Enqueue(job worker.Job) bool {
	r.jobs = append(r.jobs, job)
	return true
}

var _ = Describe("Writer", func() {
	var (
		w        *Writer
		store    *testutils.MemoryStore
		embedder *testutils.MockEmbedder
		queue    *recordingEnqueuer
		ctx      context.Context
	)

	BeforeEach(func() {
		store = testutils.NewMemoryStore()
		embedder = testutils.NewMockEmbedder()
		queue = &recordingEnqueuer{}

		var err error
		w, err = NewWriter(&Config{
			Store:        store,
			Fingerprints: fingerprint.NewGenerator(zap.NewNop()),
			Embedder:     embedder,
			Pool:         queue,
			Logger:       zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
	})

	Describe("Write", func() {
		It("inserts a new memory and enqueues embedding", func() {
			res, err := w.Write(ctx, "alice", "I adopted a golden retriever named Biscuit last spring.", Meta{Category: "pets"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionInserted))
			Expect(res.MemoryID).NotTo(BeEmpty())

			m, err := store.Get(ctx, "alice", res.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.CategoryName).To(Equal("pets"))
			Expect(m.EmbeddingStatus).To(Equal(memory.EmbeddingPending))
			Expect(m.TokenCount).To(BeNumerically(">", 0))
			Expect(m.Anchors.Names).To(ContainElement("Biscuit"))

			Expect(queue.jobs).To(HaveLen(1))
			Expect(queue.jobs[0].MemoryID).To(Equal(res.MemoryID))
		})

		It("skips utterances that compress to nothing", func() {
			res, err := w.Write(ctx, "alice", "ok. yes. hm.", Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionSkipped))
			Expect(queue.jobs).To(BeEmpty())
		})

		It("supersedes a prior fact holding the same fingerprint", func() {
			first, err := w.Write(ctx, "alice", "My phone number is 555-0100.", Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Action).To(Equal(ActionInserted))

			second, err := w.Write(ctx, "alice", "My phone number is 555-0199 now.", Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Action).To(Equal(ActionSuperseded))
			Expect(second.SupersededCount).To(Equal(1))
			Expect(second.SupersededID).To(Equal(first.MemoryID))

			// the embedding job carries the retired ID so its index entry
			// can be dropped once the replacement is indexed
			Expect(queue.jobs).To(HaveLen(2))
			Expect(queue.jobs[1].SupersededID).To(Equal(first.MemoryID))

			old, err := store.Get(ctx, "alice", first.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(old.IsCurrent).To(BeFalse())
			Expect(old.SupersededBy).To(Equal(second.MemoryID))

			// single-chain: only the replacement still holds the fingerprint
			cur, err := store.FindCurrentByFingerprint(ctx, "alice", fingerprint.Key("phone", "alice"))
			Expect(err).NotTo(HaveOccurred())
			Expect(cur.ID).To(Equal(second.MemoryID))
		})

		It("keeps fingerprints owner-scoped", func() {
			_, err := w.Write(ctx, "alice", "My phone number is 555-0100.", Meta{})
			Expect(err).NotTo(HaveOccurred())

			res, err := w.Write(ctx, "bob", "My phone number is 555-0200.", Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionInserted))
		})

		It("deduplicates an immediately repeated utterance", func() {
			utterance := "My favorite trail is the ridge loop above town."

			first, err := w.Write(ctx, "alice", utterance, Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Action).To(Equal(ActionInserted))

			// embedding ready, identical vector puts distance at zero
			Expect(store.SetEmbedding(ctx, "alice", first.MemoryID, []float32{0.1, 0.2, 0.3}, memory.EmbeddingReady)).To(Succeed())

			second, err := w.Write(ctx, "alice", utterance, Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Action).To(Equal(ActionDeduplicated))
			Expect(second.MemoryID).To(Equal(first.MemoryID))

			st, err := store.Stats(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Total).To(Equal(1))
		})

		It("falls back to text matching when the embedder is down", func() {
			first, err := w.Write(ctx, "alice", "My favorite trail is the ridge loop above town.", Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Action).To(Equal(ActionInserted))

			repeat := "my favorite trail is the RIDGE loop above town."
			embedder.FailOn = Compress(repeat)

			second, err := w.Write(ctx, "alice", repeat, Meta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Action).To(Equal(ActionDeduplicated))
		})

		It("flags explicit recall requests", func() {
			res, err := w.Write(ctx, "alice", "Please remember that my locker code is 4312.", Meta{})
			Expect(err).NotTo(HaveOccurred())

			m, err := store.Get(ctx, "alice", res.MemoryID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.ExplicitRecall).To(BeTrue())
			Expect(m.Importance).To(BeNumerically(">=", 0.7))
		})

		It("returns the storage error when the insert itself fails", func() {
			store.FailInsert = true

			_, err := w.Write(ctx, "alice", "I work at the observatory on the hill.", Meta{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Compress", func() {
		It("caps output at five lines", func() {
			in := "One fact here now. Two facts here now. Three facts here now. Four facts here now. Five facts here now. Six facts here now."
			out := Compress(in)
			Expect(strings.Split(out, "\n")).To(HaveLen(5))
		})

		It("drops lines under three words", func() {
			out := Compress("Yes. I moved to Lisbon last month.")
			Expect(out).To(Equal("I moved to Lisbon last month."))
		})

		It("terminates every line with punctuation", func() {
			out := Compress("I play bass in a band\nWe rehearse on Tuesdays")
			for _, line := range strings.Split(out, "\n") {
				Expect(line).To(MatchRegexp(`[.!?]$`))
			}
		})
	})

	Describe("importance", func() {
		It("clamps the stacked bonuses to one", func() {
			m := &memory.Memory{
				Fingerprint:    "phone:alice",
				ExplicitRecall: true,
				Anchors: memory.Anchors{
					Names:    []string{"Ada"},
					Temporal: []memory.TemporalAnchor{{Kind: "year", Value: 2020}},
					Numeric:  []memory.NumericAnchor{{Kind: "number", Value: 7}},
				},
			}
			Expect(importance(m)).To(BeNumerically("<=", 1.0))
			Expect(importance(m)).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("scores a bare statement at the base weight", func() {
			Expect(importance(&memory.Memory{})).To(BeNumerically("~", 0.4, 1e-9))
		})
	})
})
