package config

const (
	defaultStorageBackend = "sqlite"
	defaultAPIListen      = ":8086"

	defaultVectorProvider = "chromem"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultClassifierTimeoutMs = 2000

	defaultCandidatePool  = 500
	defaultResultCap      = 15
	defaultDedupThreshold = 0.08
	defaultEmbedWorkers   = 3

	defaultBudgetTotal    = 3000
	defaultBudgetMemory   = 1200
	defaultBudgetDocument = 1000
	defaultBudgetVault    = 500
	defaultBudgetExternal = 300

	defaultEventStreamProvider = "nop"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Backend: defaultStorageBackend,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Classifier: ClassifierConfig{
			Target:    defaultEmbeddingTarget,
			TimeoutMs: defaultClassifierTimeoutMs,
		},
		Engine: EngineConfig{
			CandidatePool:    defaultCandidatePool,
			ResultCap:        defaultResultCap,
			DedupThreshold:   defaultDedupThreshold,
			SafetyCategories: []string{"health"},
			EmbedWorkers:     defaultEmbedWorkers,
		},
		Budget: BudgetConfig{
			Total:    defaultBudgetTotal,
			Memory:   defaultBudgetMemory,
			Document: defaultBudgetDocument,
			Vault:    defaultBudgetVault,
			External: defaultBudgetExternal,
			Order:    []string{"memory", "document", "vault", "external"},
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
		},
	}
}
