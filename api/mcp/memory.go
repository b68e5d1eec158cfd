package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/writer"
)

var (
	queryToolName    = "memory_query"
	queryDescription = "Query the memory engine for facts relevant to a question. Returns the ranked memories for the owner, including which boosts fired for each result."

	rememberToolName    = "memory_remember"
	rememberDescription = "Store an utterance in the memory engine. The text is compressed into factual lines, deduplicated against recent memories, and supersedes any prior fact holding the same fingerprint."
)

// QueryInput represents the input arguments for the memory_query tool.
type QueryInput struct {
	OwnerID  string `json:"owner_id" jsonschema:"the owner whose memories to search"`
	Query    string `json:"query" jsonschema:"the question to find relevant memories for"`
	Budget   int    `json:"budget,omitempty" jsonschema:"optional token budget for the result set"`
	Category string `json:"category,omitempty" jsonschema:"optional category to scope the search"`
}

// QueryResult represents a single ranked memory.
type QueryResult struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Boosts   []string `json:"boosts,omitempty"`
	Safety   bool     `json:"safety_injected,omitempty"`
	Category string   `json:"category,omitempty"`
}

// QueryOutput represents the output of the memory_query tool.
type QueryOutput struct {
	Query   string        `json:"query"`
	Results []QueryResult `json:"results"`
	Count   int           `json:"count"`
}

// handleMemoryQuery processes a memory query request.
func (s *Server) handleMemoryQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	logger := s.config.Logger

	if input.OwnerID == "" || input.Query == "" {
		return errorResult("owner_id and query are required"), QueryOutput{}, nil
	}

	logger.Debug("MCP memory query",
		zap.String("owner_id", input.OwnerID),
		zap.String("query", input.Query),
	)

	candidates, err := s.config.Engine.Retrieve(ctx, input.OwnerID, input.Query, input.Budget, input.Category)
	if err != nil {
		logger.Error("MCP memory query failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Memory query failed: %v", err)), QueryOutput{}, nil
	}

	results := make([]QueryResult, 0, len(candidates))
	for _, c := range candidates {
		r := QueryResult{
			ID:       c.Memory.ID,
			Content:  c.Memory.Content,
			Score:    c.Score,
			Safety:   c.SafetyInjected,
			Category: c.Memory.CategoryName,
		}
		for _, b := range c.Boosts {
			r.Boosts = append(r.Boosts, b.Rule)
		}
		results = append(results, r)
	}

	output := QueryOutput{
		Query:   input.Query,
		Results: results,
		Count:   len(results),
	}

	return jsonResult(output), output, nil
}

// RememberInput represents the input arguments for the memory_remember tool.
type RememberInput struct {
	OwnerID  string `json:"owner_id" jsonschema:"the owner to store the memory for"`
	Text     string `json:"text" jsonschema:"the utterance to remember"`
	Category string `json:"category,omitempty" jsonschema:"optional category bucket for the memory"`
}

// RememberOutput represents the output of the memory_remember tool.
type RememberOutput struct {
	MemoryID        string `json:"memory_id,omitempty"`
	Action          string `json:"action"`
	SupersededCount int    `json:"superseded_count"`
}

// handleMemoryRemember processes a remember request.
func (s *Server) handleMemoryRemember(ctx context.Context, _ *mcp.CallToolRequest, input RememberInput) (*mcp.CallToolResult, RememberOutput, error) {
	if input.OwnerID == "" || input.Text == "" {
		return errorResult("owner_id and text are required"), RememberOutput{}, nil
	}

	result, err := s.config.Writer.Write(ctx, input.OwnerID, input.Text, writer.Meta{Category: input.Category})
	if err != nil {
		s.config.Logger.Error("MCP memory remember failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Memory write failed: %v", err)), RememberOutput{}, nil
	}

	output := RememberOutput{
		MemoryID:        result.MemoryID,
		Action:          result.Action,
		SupersededCount: result.SupersededCount,
	}

	return jsonResult(output), output, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

// jsonResult serializes the structured output as JSON for the text field.
// Per MCP spec: tools returning structured content should also return
// serialized JSON in a TextContent block for backwards compatibility.
func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}
