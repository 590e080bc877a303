package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration problems that must stop the process before it serves requests.
var ErrInvalidConfig = errors.New("invalid config")

const (
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGoOpenAI = "goopenai"

	BackendFile     = "file"
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

// LLMConfig configures either the completion model or the embedding model.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key" json:"-"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	BatchSize   int     `yaml:"batch_size"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type RAGConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Dimension           int     `yaml:"dimension"`
	EncryptionKey       string  `yaml:"encryption_key" json:"-"`
}

// StorageConfig selects where snapshots of the index and chunk list are written.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password" json:"-"`
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr"`
	UploadDir        string `yaml:"upload_dir"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
	MaxUploadMB      int64  `yaml:"max_upload_mb"`
}

type Config struct {
	LogLevel string         `yaml:"log_level"`
	LLM      LLMConfig      `yaml:"llm"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
}

// LoadConfig reads the YAML file at path, applies defaults, resolves secrets from the
// environment and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no secrets resolved.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}

	llm := &cfg.LLM
	if llm.Provider == "" {
		llm.Provider = ProviderOpenAI
	}
	if llm.BaseURL == "" && llm.Provider != ProviderOllama {
		llm.BaseURL = "https://api.groq.com/openai/v1"
	}
	if llm.BaseURL == "" {
		llm.BaseURL = "http://localhost:11434"
	}
	if llm.APIKeyEnv == "" {
		llm.APIKeyEnv = "GROQ_API_KEY"
	}
	if llm.Model == "" {
		llm.Model = "llama-3.3-70b-versatile"
	}
	if llm.Temperature == 0 {
		llm.Temperature = 0.1
	}
	if llm.MaxTokens == 0 {
		llm.MaxTokens = 500
	}
	if llm.TimeoutSecs == 0 {
		llm.TimeoutSecs = 60
	}

	emb := &cfg.EmbedLLM
	if emb.Provider == "" {
		emb.Provider = ProviderOllama
	}
	if emb.BaseURL == "" && emb.Provider == ProviderOllama {
		emb.BaseURL = "http://localhost:11434"
	}
	if emb.BaseURL == "" {
		emb.BaseURL = "https://api.openai.com/v1"
	}
	if emb.APIKeyEnv == "" && emb.Provider != ProviderOllama {
		emb.APIKeyEnv = "OPENAI_API_KEY"
	}
	if emb.Model == "" {
		emb.Model = "nomic-embed-text"
	}
	if emb.BatchSize == 0 {
		emb.BatchSize = 32
	}

	// overlap is only defaulted together with the size so an explicit zero overlap survives
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 500
		if cfg.RAG.ChunkOverlap == 0 {
			cfg.RAG.ChunkOverlap = 50
		}
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.SimilarityThreshold == 0 {
		cfg.RAG.SimilarityThreshold = 1.5
	}
	if cfg.RAG.Dimension == 0 {
		cfg.RAG.Dimension = 768
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "vector_store"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "chunks"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploads"
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 60
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 300
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
}

func (c *Config) resolveSecrets() {
	if c.LLM.Key == "" && c.LLM.APIKeyEnv != "" {
		c.LLM.Key = os.Getenv(c.LLM.APIKeyEnv)
	}
	if c.EmbedLLM.Key == "" && c.EmbedLLM.APIKeyEnv != "" {
		c.EmbedLLM.Key = os.Getenv(c.EmbedLLM.APIKeyEnv)
	}
}

// Validate reports the first configuration problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGoOpenAI:
		if c.LLM.Key == "" {
			return fmt.Errorf("%w: missing completion API key (set %s)", ErrInvalidConfig, c.LLM.APIKeyEnv)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("%w: llm max_tokens must not be negative", ErrInvalidConfig)
	}

	switch c.EmbedLLM.Provider {
	case ProviderOpenAI:
		if c.EmbedLLM.Key == "" {
			return fmt.Errorf("%w: missing embedding API key (set %s)", ErrInvalidConfig, c.EmbedLLM.APIKeyEnv)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.EmbedLLM.Provider)
	}

	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d", ErrInvalidConfig, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, c.RAG.TopK)
	}
	if c.RAG.SimilarityThreshold <= 0 {
		return fmt.Errorf("%w: similarity_threshold must be positive, got %g", ErrInvalidConfig, c.RAG.SimilarityThreshold)
	}
	if c.RAG.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.RAG.Dimension)
	}

	switch c.Storage.Backend {
	case BackendFile, BackendChromem:
		if c.Storage.Dir == "" {
			return fmt.Errorf("%w: storage dir is required", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	return nil
}
