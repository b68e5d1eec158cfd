// Package servecmder provides the serve command for running the engram
// memory API server.
package servecmder

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/api/mcp"
	"github.com/engramhq/engram/pkg/bundle"
	"github.com/engramhq/engram/pkg/cache"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/dotdir"
	"github.com/engramhq/engram/pkg/embeddings/ollama"
	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/eventstream/kafka"
	"github.com/engramhq/engram/pkg/eventstream/nop"
	"github.com/engramhq/engram/pkg/fingerprint"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/memory/postgres"
	"github.com/engramhq/engram/pkg/memory/sqlite"
	"github.com/engramhq/engram/pkg/repair"
	"github.com/engramhq/engram/pkg/retrieval"
	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/vector/chromem"
	"github.com/engramhq/engram/pkg/vector/qdrant"
	"github.com/engramhq/engram/pkg/vector/sqlitevec"
	"github.com/engramhq/engram/pkg/worker"
	"github.com/engramhq/engram/pkg/writer"
)

const defaultKafkaTopic = "engram.events"

type ServeCommander struct {
	listen     string
	configDir  string
	disableMCP bool
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

const serveLongDesc string = `Run the engram memory API server.

Starts the HTTP API for recording utterances, querying ranked memory
context, running answer repair, and inspecting stored memories, plus an
MCP tool surface mounted under /mcp.

Configuration is read from config.toml in the .engram/ directory,
overridable through ENGRAM_-prefixed environment variables and flags.
Budget changes written to the config file are picked up live.`

const serveShortDesc string = "Run the engram memory API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address for the API server to listen on (overrides config)")
	cmd.Flags().BoolVar(&cmder.disableMCP, "disable-mcp", false, "Disable the MCP tool surface")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return err
	}
	c.cfg = config.FromViper(v)

	if c.listen != "" {
		c.cfg.API.Listen = c.listen
	}

	dataDir, err := dotdir.NewManager().Ensure(c.configDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	store, err := c.newStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	driver, err := c.newVectorDriver(dataDir)
	if err != nil {
		return err
	}
	defer driver.Close()

	embedder, err := ollama.NewEmbedder(ollama.EmbedderConfig{
		BaseURL: c.cfg.Embedding.Target,
		Model:   c.cfg.Embedding.Model,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	pool, err := worker.NewPool(&worker.Config{
		Store:        store,
		VectorDriver: driver,
		Embedder:     embedder,
		NumWorkers:   c.cfg.Engine.EmbedWorkers,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating embedding pool: %w", err)
	}

	events, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer events.Close()

	w, err := writer.NewWriter(&writer.Config{
		Store:          store,
		Fingerprints:   c.newFingerprints(),
		Embedder:       embedder,
		Pool:           pool,
		Events:         events,
		DedupThreshold: c.cfg.Engine.DedupThreshold,
		Logger:         c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	engine := retrieval.NewEngine(&retrieval.Config{
		Store:            store,
		Embedder:         embedder,
		Vectors:          driver,
		CandidatePool:    c.cfg.Engine.CandidatePool,
		ResultCap:        c.cfg.Engine.ResultCap,
		SafetyCategories: c.cfg.Engine.SafetyCategories,
		Logger:           c.logger,
	})

	budgeter, err := bundle.NewBudgeterFromConfig(c.cfg.Budget, c.logger)
	if err != nil {
		return fmt.Errorf("creating budgeter: %w", err)
	}

	sources, err := cache.NewCache(0, 0, c.logger)
	if err != nil {
		return fmt.Errorf("creating source cache: %w", err)
	}
	defer sources.Close()

	server := api.NewServer(
		api.Config{ListenAddr: c.cfg.API.Listen},
		store, w, engine, budgeter, repair.NewLayer(c.logger, repair.WithEvents(events)), sources, c.logger,
	)

	if !c.disableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Engine: engine,
			Writer: w,
			Logger: c.logger,
		})
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}
		server.Mount("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	watcher := c.watchConfig(budgeter)
	if watcher != nil {
		defer watcher.Close()
	}

	c.logger.Info("starting engram",
		zap.String("listen", c.cfg.API.Listen),
		zap.String("storage", c.cfg.Storage.Backend),
		zap.String("vector_store", c.cfg.VectorStore.Provider),
		zap.String("embedding_model", c.cfg.Embedding.Model),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		pool.Close()
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		if err := server.Shutdown(); err != nil {
			c.logger.Warn("API server shutdown failed", zap.Error(err))
		}
		// Drain in-flight embedding jobs after the server stops accepting
		// new writes.
		pool.Close()
		return nil
	}
}

func (c *ServeCommander) newStore(dataDir string) (memory.Store, error) {
	switch c.cfg.Storage.Backend {
	case "postgres":
		if c.cfg.Storage.PostgresURL == "" {
			return nil, fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := postgres.NewStore(ctx, c.cfg.Storage.PostgresURL, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		return store, nil

	case "sqlite", "":
		path := c.cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(dataDir, "engram.db")
		}
		store, err := sqlite.NewStore(path, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.cfg.Storage.Backend)
	}
}

func (c *ServeCommander) newVectorDriver(dataDir string) (vector.Driver, error) {
	switch c.cfg.VectorStore.Provider {
	case "sqlite", "sqlitevec":
		path := c.cfg.VectorStore.Target
		if path == "" {
			path = filepath.Join(dataDir, "vectors.db")
		}
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     path,
			Dimensions: c.cfg.Embedding.Dimensions,
		}, c.logger)

	case "chromem", "":
		path := c.cfg.VectorStore.Target
		if path == "" {
			path = filepath.Join(dataDir, "chromem")
		}
		return chromem.NewDriver(chromem.Config{PersistPath: path}, c.logger)

	case "qdrant":
		host, port, err := splitHostPort(c.cfg.VectorStore.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid vector_store.target %q: %w", c.cfg.VectorStore.Target, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:       host,
			Port:       port,
			Dimensions: c.cfg.Embedding.Dimensions,
		}, c.logger)

	default:
		return nil, fmt.Errorf("unknown vector store provider %q", c.cfg.VectorStore.Provider)
	}
}

func (c *ServeCommander) newFingerprints() *fingerprint.Generator {
	opts := []fingerprint.Option{}
	if c.cfg.Classifier.Model != "" {
		opts = append(opts, fingerprint.WithClassifier(fingerprint.NewOllamaClassifier(fingerprint.OllamaConfig{
			BaseURL: c.cfg.Classifier.Target,
			Model:   c.cfg.Classifier.Model,
		})))
		if c.cfg.Classifier.TimeoutMs > 0 {
			opts = append(opts, fingerprint.WithTimeout(time.Duration(c.cfg.Classifier.TimeoutMs)*time.Millisecond))
		}
	}
	return fingerprint.NewGenerator(c.logger, opts...)
}

func (c *ServeCommander) newPublisher() (eventstream.Publisher, error) {
	switch c.cfg.EventStream.Provider {
	case "kafka":
		if len(c.cfg.EventStream.Brokers) == 0 {
			return nil, fmt.Errorf("event_stream.brokers is required for the kafka provider")
		}
		topic := c.cfg.EventStream.Topic
		if topic == "" {
			topic = defaultKafkaTopic
		}
		return kafka.NewPublisher(c.cfg.EventStream.Brokers, topic, c.logger)

	case "nop", "":
		return nop.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("unknown event stream provider %q", c.cfg.EventStream.Provider)
	}
}

// watchConfig reloads budget ceilings from config.toml as it changes.
// Returns nil when there is no config file to watch.
func (c *ServeCommander) watchConfig(budgeter *bundle.Budgeter) *config.Watcher {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil || cfger.GetTarget() == "" {
		return nil
	}

	watcher, err := config.NewWatcher(cfger, c.logger, func(cfg *config.Config) {
		if err := budgeter.SetBudget(bundle.BudgetFromConfig(cfg.Budget)); err != nil {
			c.logger.Warn("rejected budget from reloaded config", zap.Error(err))
		}
	})
	if err != nil {
		c.logger.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}
	return watcher
}

func splitHostPort(target string) (string, int, error) {
	if target == "" {
		return "", 0, fmt.Errorf("target is empty")
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// A bare host uses Qdrant's default gRPC port.
		return target, 0, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
