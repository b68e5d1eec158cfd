// Package mcp provides an MCP (Model Context Protocol) surface for the
// engram memory engine, exposing memory query and remember tools to agent
// runtimes.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/retrieval"
	"github.com/engramhq/engram/pkg/utils"
	"github.com/engramhq/engram/pkg/writer"
)

type Config struct {
	// Engine ranks memories for the memory_query tool.
	Engine *retrieval.Engine

	// Writer records utterances for the memory_remember tool.
	Writer *writer.Writer

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "engram",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Engine == nil {
		return nil, errors.New("retrieval engine is required")
	}
	if c.Writer == nil {
		return nil, errors.New("writer is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        queryToolName,
		Description: queryDescription,
	}, s.handleMemoryQuery)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        rememberToolName,
		Description: rememberDescription,
	}, s.handleMemoryRemember)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
