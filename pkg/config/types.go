package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Classifier  ClassifierConfig  `toml:"classifier"`
	Engine      EngineConfig      `toml:"engine"`
	Budget      BudgetConfig      `toml:"budget"`
	EventStream EventStreamConfig `toml:"event_stream"`
}

// StorageConfig holds memory store settings.
type StorageConfig struct {
	// Backend selects the memory store: "sqlite" or "postgres".
	Backend     string `toml:"backend,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresURL string `toml:"postgres_url,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Provider selects the vector driver: "sqlite", "chromem", or "qdrant".
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ClassifierConfig holds the fingerprint classifier fallback settings.
// The classifier is only consulted when deterministic fingerprint rules are
// inconclusive, bounded by TimeoutMs.
type ClassifierConfig struct {
	Target    string `toml:"target,omitempty"`
	Model     string `toml:"model,omitempty"`
	TimeoutMs int    `toml:"timeout_ms,omitempty"`
}

// EngineConfig holds retrieval and write-path tuning.
type EngineConfig struct {
	// CandidatePool bounds how many rows the retrieval prefilter fetches.
	CandidatePool int `toml:"candidate_pool,omitempty"`

	// ResultCap bounds the ranked result list regardless of token budget.
	ResultCap int `toml:"result_cap,omitempty"`

	// DedupThreshold is the cosine-distance ceiling under which a new
	// utterance is treated as a duplicate of a recent memory.
	DedupThreshold float64 `toml:"dedup_threshold,omitempty"`

	// SafetyCategories are category names force-injected into results for
	// safety-trigger queries (food, physical activity, pets).
	SafetyCategories []string `toml:"safety_categories,omitempty"`

	// EmbedWorkers is the size of the async embedding worker pool.
	EmbedWorkers uint `toml:"embed_workers,omitempty"`
}

// BudgetConfig holds context assembly ceilings, in tokens.
type BudgetConfig struct {
	Total int `toml:"total,omitempty"`

	Memory   int `toml:"memory,omitempty"`
	Document int `toml:"document,omitempty"`
	Vault    int `toml:"vault,omitempty"`
	External int `toml:"external,omitempty"`

	// Order is the source precedence, highest priority first. Must name
	// every source exactly once.
	Order []string `toml:"order,omitempty"`
}

// EventStreamConfig holds audit event publishing settings.
type EventStreamConfig struct {
	// Provider selects the publisher: "nop" or "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend": {
		get: func(c *Config) string { return c.Storage.Backend },
		set: func(c *Config, v string) error { c.Storage.Backend = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"classifier.target": {
		get: func(c *Config) string { return c.Classifier.Target },
		set: func(c *Config, v string) error { c.Classifier.Target = v; return nil },
	},
	"classifier.model": {
		get: func(c *Config) string { return c.Classifier.Model },
		set: func(c *Config, v string) error { c.Classifier.Model = v; return nil },
	},
	"classifier.timeout_ms": {
		get: func(c *Config) string { return strconv.Itoa(c.Classifier.TimeoutMs) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for classifier.timeout_ms: %w", err)
			}
			c.Classifier.TimeoutMs = n
			return nil
		},
	},
	"engine.candidate_pool": {
		get: func(c *Config) string { return strconv.Itoa(c.Engine.CandidatePool) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for engine.candidate_pool: %w", err)
			}
			c.Engine.CandidatePool = n
			return nil
		},
	},
	"engine.result_cap": {
		get: func(c *Config) string { return strconv.Itoa(c.Engine.ResultCap) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for engine.result_cap: %w", err)
			}
			c.Engine.ResultCap = n
			return nil
		},
	},
	"engine.dedup_threshold": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Engine.DedupThreshold, 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for engine.dedup_threshold: %w", err)
			}
			c.Engine.DedupThreshold = f
			return nil
		},
	},
	"engine.safety_categories": {
		get: func(c *Config) string { return strings.Join(c.Engine.SafetyCategories, ",") },
		set: func(c *Config, v string) error {
			c.Engine.SafetyCategories = splitList(v)
			return nil
		},
	},
	"budget.total": {
		get: func(c *Config) string { return strconv.Itoa(c.Budget.Total) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for budget.total: %w", err)
			}
			c.Budget.Total = n
			return nil
		},
	},
	"budget.order": {
		get: func(c *Config) string { return strings.Join(c.Budget.Order, ",") },
		set: func(c *Config, v string) error {
			c.Budget.Order = splitList(v)
			return nil
		},
	},
	"event_stream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error { c.EventStream.Provider = v; return nil },
	},
	"event_stream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.EventStream.Brokers = splitList(v)
			return nil
		},
	},
	"event_stream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
