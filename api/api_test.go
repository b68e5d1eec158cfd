package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/anchors"
	"github.com/engramhq/engram/pkg/bundle"
	"github.com/engramhq/engram/pkg/cache"
	"github.com/engramhq/engram/pkg/fingerprint"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/repair"
	"github.com/engramhq/engram/pkg/retrieval"
	testutils "github.com/engramhq/engram/pkg/utils/test"
	"github.com/engramhq/engram/pkg/writer"
)

func newTestServer() (*Server, *testutils.MemoryStore) {
	logger := zap.NewNop()
	store := testutils.NewMemoryStore()
	embedder := testutils.NewMockEmbedder()

	w, err := writer.NewWriter(&writer.Config{
		Store:        store,
		Fingerprints: fingerprint.NewGenerator(logger),
		Embedder:     embedder,
		Logger:       logger,
	})
	Expect(err).NotTo(HaveOccurred())

	engine := retrieval.NewEngine(&retrieval.Config{
		Store:    store,
		Embedder: embedder,
		Logger:   logger,
	})

	budgeter, err := bundle.NewBudgeter(bundle.Budget{Total: 3000}, logger)
	Expect(err).NotTo(HaveOccurred())

	sources, err := cache.NewCache(0, 0, logger)
	Expect(err).NotTo(HaveOccurred())

	server := NewServer(Config{ListenAddr: ":0"}, store, w, engine, budgeter, repair.NewLayer(logger), sources, logger)
	return server, store
}

func postJSON(server *Server, path string, body any) *http.Response {
	payload, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())

	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.app.Test(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func get(server *Server, path string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	Expect(err).NotTo(HaveOccurred())

	resp, err := server.app.Test(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(raw, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		server *Server
		store  *testutils.MemoryStore
	)

	BeforeEach(func() {
		server, store = newTestServer()
	})

	Describe("GET /ping", func() {
		It("responds pong", func() {
			resp := get(server, "/ping")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /v1/utterances", func() {
		It("records an utterance", func() {
			resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{
				OwnerID: "alice",
				Text:    "I moved to Lisbon last month.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result writer.WriteResult
			decode(resp, &result)
			Expect(result.Action).To(Equal(writer.ActionInserted))
			Expect(result.MemoryID).NotTo(BeEmpty())
		})

		It("rejects a missing owner", func() {
			resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{Text: "no owner"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /v1/context", func() {
		BeforeEach(func() {
			resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{
				OwnerID: "alice",
				Text:    "The sourdough starter lives in the blue jar.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns the ranked memory section", func() {
			resp := get(server, "/v1/context?owner=alice&query=where+is+the+sourdough+starter")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var ctx ContextResponse
			decode(resp, &ctx)
			Expect(ctx.MemorySection).To(ContainSubstring("sourdough"))
			Expect(ctx.Candidates).NotTo(BeEmpty())
		})

		It("requires owner and query", func() {
			resp := get(server, "/v1/context?owner=alice")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a negative budget", func() {
			resp := get(server, "/v1/context?owner=alice&query=x&budget=-5")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /v1/sources", func() {
		It("assembles a registered document alongside memory", func() {
			resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{
				OwnerID: "alice",
				Text:    "The sourdough starter lives in the blue jar.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = postJSON(server, "/v1/sources", RegisterSourceRequest{
				OwnerID: "alice",
				Source:  bundle.SourceDocument,
				Text:    "Sourdough care guide: feed the starter daily.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			server.sources.Wait()

			ctxResp := get(server, "/v1/context?owner=alice&query=where+is+the+sourdough+starter")
			Expect(ctxResp.StatusCode).To(Equal(http.StatusOK))

			var ctx ContextResponse
			decode(ctxResp, &ctx)
			Expect(ctx.MemorySection).To(ContainSubstring("blue jar"))

			var docSection *bundle.Section
			for i := range ctx.Sections {
				if ctx.Sections[i].Source == bundle.SourceDocument {
					docSection = &ctx.Sections[i]
				}
			}
			Expect(docSection).NotTo(BeNil())
			Expect(docSection.Text).To(ContainSubstring("feed the starter"))
		})

		It("rejects an unknown source", func() {
			resp := postJSON(server, "/v1/sources", RegisterSourceRequest{
				OwnerID: "alice",
				Source:  "scratchpad",
				Text:    "whatever",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("drops a source on empty text", func() {
			resp := postJSON(server, "/v1/sources", RegisterSourceRequest{
				OwnerID: "alice",
				Source:  bundle.SourceVault,
				Text:    "vault secret summary",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			server.sources.Wait()

			resp = postJSON(server, "/v1/sources", RegisterSourceRequest{
				OwnerID: "alice",
				Source:  bundle.SourceVault,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			_, ok := server.sources.Get("alice", bundle.SourceVault)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("POST /v1/repair", func() {
		BeforeEach(func() {
			for _, text := range []string{
				"Worked at the port authority for 5 years.",
				"Left the port authority in 2020.",
			} {
				resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{OwnerID: "alice", Text: text})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}
		})

		It("repairs a draft missing the computed year", func() {
			resp := postJSON(server, "/v1/repair", RepairRequest{
				OwnerID: "alice",
				Query:   "when did I start at the port authority",
				Draft:   "You worked there for a while.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result RepairResponse
			decode(resp, &result)
			Expect(result.FinalAnswer).To(ContainSubstring("2015"))
			Expect(result.RepairLog).To(HaveLen(2))
		})
	})

	Describe("GET /v1/memories", func() {
		It("redacts sensitive content in the listing", func() {
			m := &memory.Memory{
				ID:           memory.NewID(),
				OwnerID:      "alice",
				Content:      "Phone number is 5550100123.",
				CategoryName: "personal",
				Anchors:      anchors.Extract("Phone number is 5550100123."),
				IsCurrent:    true,
				CreatedAt:    time.Now().UTC(),
			}
			Expect(store.Insert(context.Background(), m)).To(Succeed())

			resp := get(server, "/v1/memories?owner=alice")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Count    int             `json:"count"`
				Memories []MemoryListing `json:"memories"`
			}
			decode(resp, &body)
			Expect(body.Count).To(Equal(1))
			Expect(body.Memories[0].Content).NotTo(ContainSubstring("5550100123"))
			Expect(body.Memories[0].Content).To(ContainSubstring("[redacted]"))
		})

		It("masks currency amounts via their anchor surface forms", func() {
			content := "Rent is $1,200 a month."
			m := &memory.Memory{
				ID:           memory.NewID(),
				OwnerID:      "alice",
				Content:      content,
				CategoryName: "finance",
				Anchors:      anchors.Extract(content),
				IsCurrent:    true,
				CreatedAt:    time.Now().UTC(),
			}
			Expect(store.Insert(context.Background(), m)).To(Succeed())

			resp := get(server, "/v1/memories?owner=alice")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Memories []MemoryListing `json:"memories"`
			}
			decode(resp, &body)
			Expect(body.Memories).To(HaveLen(1))
			Expect(body.Memories[0].Content).NotTo(ContainSubstring("$1,200"))
			Expect(body.Memories[0].Content).To(ContainSubstring("[redacted]"))
		})

		It("requires an owner", func() {
			resp := get(server, "/v1/memories")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /v1/stats", func() {
		It("summarizes the owner's memories", func() {
			resp := postJSON(server, "/v1/utterances", RecordUtteranceRequest{
				OwnerID: "alice",
				Text:    "I moved to Lisbon last month.",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			statsResp := get(server, "/v1/stats?owner=alice")
			Expect(statsResp.StatusCode).To(Equal(http.StatusOK))

			var stats memory.Stats
			decode(statsResp, &stats)
			Expect(stats.Total).To(Equal(1))
			Expect(stats.Current).To(Equal(1))
		})
	})
})
