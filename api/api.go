package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/bundle"
	"github.com/engramhq/engram/pkg/cache"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/repair"
	"github.com/engramhq/engram/pkg/retrieval"
	"github.com/engramhq/engram/pkg/writer"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the API server for the engram memory engine.
type Server struct {
	config   Config
	store    memory.Store
	writer   *writer.Writer
	engine   *retrieval.Engine
	budgeter *bundle.Budgeter
	repairer *repair.Layer
	sources  *cache.Cache
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates a new API server. The collaborators are injected to
// allow sharing with the MCP surface. A nil sources cache disables the
// /v1/sources surface and context assembly uses the memory section alone.
func NewServer(config Config, store memory.Store, w *writer.Writer, engine *retrieval.Engine, budgeter *bundle.Budgeter, repairer *repair.Layer, sources *cache.Cache, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		store:    store,
		writer:   w,
		engine:   engine,
		budgeter: budgeter,
		repairer: repairer,
		sources:  sources,
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/utterances", s.handleRecordUtterance)
	app.Get("/v1/context", s.handleQueryContext)
	app.Post("/v1/repair", s.handleRepair)
	app.Post("/v1/sources", s.handleRegisterSource)
	app.Get("/v1/memories", s.handleListMemories)
	app.Get("/v1/stats", s.handleStats)

	return s
}

// Mount attaches an extra handler subtree (e.g. the MCP surface) under the
// given prefix.
func (s *Server) Mount(prefix string, handler fiber.Handler) {
	s.app.All(prefix+"/*", handler)
	s.app.All(prefix, handler)
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
