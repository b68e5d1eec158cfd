package worker

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/memory"
	testutils "github.com/engramhq/engram/pkg/utils/test"
	"github.com/engramhq/engram/pkg/vector"
)

// newTestPool creates an embedding pool backed by in-memory fakes.
// Callers should "p.Close()" to drain enqueued jobs before asserting state.
func newTestPool() (*Pool, *testutils.MemoryStore, *testutils.MockEmbedder, *testutils.MockVectorDriver) {
	store := testutils.NewMemoryStore()
	embedder := testutils.NewMockEmbedder()
	vectors := testutils.NewMockVectorDriver()

	p, err := NewPool(&Config{
		Store:        store,
		VectorDriver: vectors,
		Embedder:     embedder,
		Logger:       zap.NewNop(),
	})
	Expect(err).NotTo(HaveOccurred())

	return p, store, embedder, vectors
}

func seedPending(store *testutils.MemoryStore, content string) *memory.Memory {
	m := &memory.Memory{
		ID:              memory.NewID(),
		OwnerID:         "alice",
		Content:         content,
		EmbeddingStatus: memory.EmbeddingPending,
		IsCurrent:       true,
		CreatedAt:       time.Now().UTC(),
	}
	Expect(store.Insert(context.Background(), m)).To(Succeed())
	return m
}

var _ = Describe("Embedding Pool", func() {
	var (
		p        *Pool
		store    *testutils.MemoryStore
		embedder *testutils.MockEmbedder
		vectors  *testutils.MockVectorDriver
		ctx      context.Context
	)

	BeforeEach(func() {
		p, store, embedder, vectors = newTestPool()
		ctx = context.Background()
	})

	Describe("Enqueue", func() {
		It("returns true when the queue has capacity", func() {
			m := seedPending(store, "Alice works at Initech.")
			ok := p.Enqueue(Job{OwnerID: m.OwnerID, MemoryID: m.ID, Content: m.Content})
			Expect(ok).To(BeTrue())
			p.Close()
		})
	})

	Describe("successful embedding", func() {
		It("marks the memory ready and indexes the vector", func() {
			m := seedPending(store, "Alice works at Initech.")
			embedder.Embeddings[m.Content] = []float32{0.5, 0.6, 0.7}

			p.Enqueue(Job{OwnerID: m.OwnerID, MemoryID: m.ID, Content: m.Content})
			p.Close()

			got, err := store.Get(ctx, "alice", m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EmbeddingStatus).To(Equal(memory.EmbeddingReady))
			Expect(got.Embedding).To(Equal([]float32{0.5, 0.6, 0.7}))

			Expect(vectors.Documents).To(HaveLen(1))
			Expect(vectors.Documents[0].ID).To(Equal(m.ID))
			Expect(vectors.Documents[0].Owner).To(Equal("alice"))
		})
	})

	Describe("embedding provider failure", func() {
		It("marks the memory failed and stores no vector", func() {
			m := seedPending(store, "unreachable content")
			embedder.FailOn = m.Content

			p.Enqueue(Job{OwnerID: m.OwnerID, MemoryID: m.ID, Content: m.Content})
			p.Close()

			got, err := store.Get(ctx, "alice", m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EmbeddingStatus).To(Equal(memory.EmbeddingFailed))
			Expect(vectors.Documents).To(BeEmpty())
		})
	})

	Describe("memory removed while queued", func() {
		It("drops the job without touching the vector index", func() {
			p.Enqueue(Job{OwnerID: "alice", MemoryID: "gone", Content: "orphan"})
			p.Close()

			Expect(vectors.Documents).To(BeEmpty())
		})
	})

	Describe("superseded while queued", func() {
		It("still records the embedding on the retired row", func() {
			old := seedPending(store, "Alice drives a Civic.")
			old.Fingerprint = "car:alice"

			repl := &memory.Memory{
				ID:              memory.NewID(),
				OwnerID:         "alice",
				Content:         "Alice drives an Outback.",
				Fingerprint:     "car:alice",
				EmbeddingStatus: memory.EmbeddingPending,
				IsCurrent:       true,
				CreatedAt:       time.Now().UTC(),
			}
			Expect(store.InsertSuperseding(ctx, repl, old.ID)).To(Succeed())

			p.Enqueue(Job{OwnerID: old.OwnerID, MemoryID: old.ID, Content: old.Content})
			p.Close()

			got, err := store.Get(ctx, "alice", old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EmbeddingStatus).To(Equal(memory.EmbeddingReady))
			Expect(got.IsCurrent).To(BeFalse())
		})
	})

	Describe("supersession cleanup", func() {
		It("drops the replaced memory from the vector index", func() {
			old := seedPending(store, "Alice drives a Civic.")
			vectors.Documents = append(vectors.Documents, vector.Document{
				ID:        old.ID,
				Owner:     "alice",
				Embedding: []float32{0.1, 0.2, 0.3},
			})

			repl := seedPending(store, "Alice drives an Outback.")
			embedder.Embeddings[repl.Content] = []float32{0.4, 0.5, 0.6}

			p.Enqueue(Job{
				OwnerID:      repl.OwnerID,
				MemoryID:     repl.ID,
				Content:      repl.Content,
				SupersededID: old.ID,
			})
			p.Close()

			Expect(vectors.Documents).To(HaveLen(1))
			Expect(vectors.Documents[0].ID).To(Equal(repl.ID))
		})

		It("keeps the stale entry when the replacement fails to embed", func() {
			old := seedPending(store, "Alice drives a Civic.")
			vectors.Documents = append(vectors.Documents, vector.Document{
				ID:    old.ID,
				Owner: "alice",
			})

			repl := seedPending(store, "Alice drives an Outback.")
			embedder.FailOn = repl.Content

			p.Enqueue(Job{
				OwnerID:      repl.OwnerID,
				MemoryID:     repl.ID,
				Content:      repl.Content,
				SupersededID: old.ID,
			})
			p.Close()

			Expect(vectors.Documents).To(HaveLen(1))
			Expect(vectors.Documents[0].ID).To(Equal(old.ID))
		})
	})

	Describe("NewPool", func() {
		It("requires a store and an embedder", func() {
			_, err := NewPool(&Config{Logger: zap.NewNop()})
			Expect(err).To(HaveOccurred())
		})
	})
})
