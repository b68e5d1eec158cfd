package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/bundle"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/redact"
	"github.com/engramhq/engram/pkg/repair"
	"github.com/engramhq/engram/pkg/retrieval"
	"github.com/engramhq/engram/pkg/writer"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// RecordUtteranceRequest is the body of POST /v1/utterances.
type RecordUtteranceRequest struct {
	OwnerID  string `json:"owner_id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

// handleRecordUtterance records one utterance for an owner.
func (s *Server) handleRecordUtterance(c *fiber.Ctx) error {
	var req RecordUtteranceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.OwnerID == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner_id and text are required"})
	}

	result, err := s.writer.Write(c.Context(), req.OwnerID, req.Text, writer.Meta{Category: req.Category})
	if err != nil {
		s.logger.Error("utterance write failed",
			zap.String("owner_id", req.OwnerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "write failed"})
	}

	return c.JSON(result)
}

// ContextResponse is the body of GET /v1/context.
type ContextResponse struct {
	MemorySection string                 `json:"memory_section"`
	Sections      []bundle.Section       `json:"sections"`
	TotalTokens   int                    `json:"total_tokens"`
	Candidates    []*retrieval.Candidate `json:"candidates"`
}

// handleQueryContext retrieves and budgets the memory context for a query.
// Retrieval failures degrade to an empty section rather than erroring.
func (s *Server) handleQueryContext(c *fiber.Ctx) error {
	ownerID := c.Query("owner")
	query := c.Query("query")
	if ownerID == "" || query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner and query parameters are required"})
	}

	budget := 0
	if v := c.Query("budget"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "budget must be a non-negative integer"})
		}
		budget = parsed
	}

	candidates, err := s.engine.Retrieve(c.Context(), ownerID, query, budget, c.Query("category"))
	if err != nil {
		s.logger.Warn("retrieval failed, returning empty context",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		candidates = nil
	}

	sources := map[string]string{
		bundle.SourceMemory: retrieval.FormatContext(candidates),
	}
	if s.sources != nil {
		for _, source := range []string{bundle.SourceDocument, bundle.SourceVault, bundle.SourceExternal} {
			if payload, ok := s.sources.Get(ownerID, source); ok {
				sources[source] = payload
			}
		}
	}
	assembled := s.budgeter.Assemble(sources)

	resp := ContextResponse{
		Sections:    assembled.Sections,
		TotalTokens: assembled.TotalTokens,
		Candidates:  candidates,
	}
	if section, ok := assembled.Section(bundle.SourceMemory); ok {
		resp.MemorySection = section.Text
	}

	return c.JSON(resp)
}

// RepairRequest is the body of POST /v1/repair.
type RepairRequest struct {
	OwnerID  string `json:"owner_id"`
	Query    string `json:"query"`
	Draft    string `json:"draft"`
	Category string `json:"category,omitempty"`
}

// RepairResponse is the body of POST /v1/repair.
type RepairResponse struct {
	FinalAnswer string          `json:"final_answer"`
	RepairLog   []repair.Record `json:"repair_log"`
}

// handleRepair runs the deterministic repair layer over a draft answer,
// re-deriving the backing candidates for the query.
func (s *Server) handleRepair(c *fiber.Ctx) error {
	var req RepairRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.OwnerID == "" || req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner_id and query are required"})
	}

	candidates, err := s.engine.Retrieve(c.Context(), req.OwnerID, req.Query, 0, req.Category)
	if err != nil {
		s.logger.Warn("retrieval for repair failed, repairing without context",
			zap.String("owner_id", req.OwnerID),
			zap.Error(err),
		)
		candidates = nil
	}

	final, log := s.repairer.Repair(c.Context(), req.OwnerID, req.Draft, req.Query, candidates)

	return c.JSON(RepairResponse{
		FinalAnswer: final,
		RepairLog:   log,
	})
}

// MemoryListing is one entry of the transparency listing. Content is
// redacted with the same masking applied to any user-facing text.
type MemoryListing struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Category   string  `json:"category,omitempty"`
	CreatedAt  string  `json:"created_at"`
	Importance float64 `json:"importance"`
}

// handleListMemories returns the owner's current memories with redaction,
// backing the "what do you remember about me" transparency surface.
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	ownerID := c.Query("owner")
	if ownerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner parameter is required"})
	}

	memories, err := s.store.Current(c.Context(), ownerID, c.Query("category"), 0)
	if err != nil {
		s.logger.Error("memory listing failed",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "listing failed"})
	}

	listings := make([]MemoryListing, 0, len(memories))
	for _, m := range memories {
		content := redact.String(m.Content)
		// Currency amounts are too short for the digit-run patterns, but
		// their surface forms are known from the anchor side-table.
		content = redact.Values(content, currencyRaws(m.Anchors)...)

		listings = append(listings, MemoryListing{
			ID:         m.ID,
			Content:    content,
			Category:   m.CategoryName,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
			Importance: m.Importance,
		})
	}

	return c.JSON(map[string]any{
		"count":    len(listings),
		"memories": listings,
	})
}

// currencyRaws collects the surface forms of currency anchors.
func currencyRaws(a memory.Anchors) []string {
	var raws []string
	for _, n := range a.Numeric {
		if n.Kind == "currency" && n.Raw != "" {
			raws = append(raws, n.Raw)
		}
	}
	return raws
}

// RegisterSourceRequest is the body of POST /v1/sources. An empty Text
// drops the cached payload for the source.
type RegisterSourceRequest struct {
	OwnerID string `json:"owner_id"`
	Source  string `json:"source"`
	Text    string `json:"text"`
}

// handleRegisterSource caches a non-memory context payload (document
// excerpt, vault snippet, external result) so subsequent context queries
// can assemble it alongside the memory section.
func (s *Server) handleRegisterSource(c *fiber.Ctx) error {
	if s.sources == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "source cache disabled"})
	}

	var req RegisterSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner_id is required"})
	}

	switch req.Source {
	case bundle.SourceDocument, bundle.SourceVault, bundle.SourceExternal:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "source must be document, vault, or external"})
	}

	if req.Text == "" {
		s.sources.Invalidate(req.OwnerID, req.Source)
	} else {
		s.sources.Set(req.OwnerID, req.Source, req.Text)
	}

	return c.JSON(map[string]string{"status": "ok"})
}

// handleStats returns the owner's memory population summary.
func (s *Server) handleStats(c *fiber.Ctx) error {
	ownerID := c.Query("owner")
	if ownerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "owner parameter is required"})
	}

	stats, err := s.store.Stats(c.Context(), ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "stats failed"})
	}

	return c.JSON(stats)
}
