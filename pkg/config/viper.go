package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/engramhq/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by callers)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STORAGE_BACKEND, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the viper instance, honoring the
// flag > env > file > default precedence InitViper establishes.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresURL: v.GetString("storage.postgres_url"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		VectorStore: VectorStoreConfig{
			Provider: v.GetString("vector_store.provider"),
			Target:   v.GetString("vector_store.target"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
		},
		Classifier: ClassifierConfig{
			Target:    v.GetString("classifier.target"),
			Model:     v.GetString("classifier.model"),
			TimeoutMs: v.GetInt("classifier.timeout_ms"),
		},
		Engine: EngineConfig{
			CandidatePool:    v.GetInt("engine.candidate_pool"),
			ResultCap:        v.GetInt("engine.result_cap"),
			DedupThreshold:   v.GetFloat64("engine.dedup_threshold"),
			SafetyCategories: v.GetStringSlice("engine.safety_categories"),
			EmbedWorkers:     v.GetUint("engine.embed_workers"),
		},
		Budget: BudgetConfig{
			Total:    v.GetInt("budget.total"),
			Memory:   v.GetInt("budget.memory"),
			Document: v.GetInt("budget.document"),
			Vault:    v.GetInt("budget.vault"),
			External: v.GetInt("budget.external"),
			Order:    v.GetStringSlice("budget.order"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("event_stream.provider"),
			Brokers:  v.GetStringSlice("event_stream.brokers"),
			Topic:    v.GetString("event_stream.topic"),
		},
	}
}

func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_url", d.Storage.PostgresURL)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Classifier
	v.SetDefault("classifier.target", d.Classifier.Target)
	v.SetDefault("classifier.model", d.Classifier.Model)
	v.SetDefault("classifier.timeout_ms", d.Classifier.TimeoutMs)

	// Engine
	v.SetDefault("engine.candidate_pool", d.Engine.CandidatePool)
	v.SetDefault("engine.result_cap", d.Engine.ResultCap)
	v.SetDefault("engine.dedup_threshold", d.Engine.DedupThreshold)
	v.SetDefault("engine.safety_categories", d.Engine.SafetyCategories)
	v.SetDefault("engine.embed_workers", d.Engine.EmbedWorkers)

	// Budget
	v.SetDefault("budget.total", d.Budget.Total)
	v.SetDefault("budget.memory", d.Budget.Memory)
	v.SetDefault("budget.document", d.Budget.Document)
	v.SetDefault("budget.vault", d.Budget.Vault)
	v.SetDefault("budget.external", d.Budget.External)
	v.SetDefault("budget.order", d.Budget.Order)

	// Event stream
	v.SetDefault("event_stream.provider", d.EventStream.Provider)
	v.SetDefault("event_stream.brokers", d.EventStream.Brokers)
	v.SetDefault("event_stream.topic", d.EventStream.Topic)
}
