package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the attune service.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol)
	EmbeddingProvider   string // openai, siliconflow, ollama
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Thought synthesis LLM configuration
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  int // request timeout in seconds (default: 30)

	// Vector store configuration
	VectorBackend string // "pgvector" or "memory"
	VectorDSN     string // postgres connection string for the pgvector backend

	// Conversation state storage. Empty DSN keeps state in memory.
	StateDSN string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Version string
}

// Provider default configurations. Applied when the base URL is not
// explicitly set.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// UsesPgvector reports whether the indexed vector backend is requested.
func (p *Profile) UsesPgvector() bool {
	return p.VectorBackend == "pgvector" && p.VectorDSN != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("ATTUNE_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("ATTUNE_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("ATTUNE_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("ATTUNE_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("ATTUNE_EMBEDDING_DIMENSIONS", 1536)

	p.LLMProvider = getEnvOrDefault("ATTUNE_LLM_PROVIDER", "openai")
	p.LLMModel = getEnvOrDefault("ATTUNE_LLM_MODEL", "gpt-4o-mini")
	p.LLMAPIKey = getEnvOrDefault("ATTUNE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("ATTUNE_LLM_BASE_URL", "")
	p.LLMTimeout = getEnvOrDefaultInt("ATTUNE_LLM_TIMEOUT_SECONDS", 30)

	p.VectorBackend = getEnvOrDefault("ATTUNE_VECTOR_BACKEND", "pgvector")
	p.VectorDSN = getEnvOrDefault("ATTUNE_VECTOR_DSN", "")
	p.StateDSN = getEnvOrDefault("ATTUNE_STATE_DSN", "")

	if p.EmbeddingProvider != "" {
		if _, ok := providerDefaults[p.EmbeddingProvider]; !ok {
			slog.Warn("unknown embedding provider, using default: openai", "provider", p.EmbeddingProvider)
			p.EmbeddingProvider = "openai"
		}
	}
	if defaults, ok := providerDefaults[p.EmbeddingProvider]; ok {
		if p.EmbeddingBaseURL == "" {
			p.EmbeddingBaseURL = defaults.BaseURL
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaults.Model
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.EmbeddingProvider != "ollama" && p.EmbeddingAPIKey == "" {
		return errors.New("embedding API key is required")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	if p.VectorBackend != "pgvector" && p.VectorBackend != "memory" {
		slog.Warn("unknown vector backend, using memory", "backend", p.VectorBackend)
		p.VectorBackend = "memory"
	}
	if p.VectorBackend == "pgvector" && p.VectorDSN == "" {
		// Missing prerequisites downgrade rather than abort startup.
		slog.Warn("pgvector backend requested without DSN, falling back to memory backend")
		p.VectorBackend = "memory"
	}

	if p.Data != "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.StateDSN == "" {
			p.StateDSN = filepath.Join(dataDir, fmt.Sprintf("attune_%s.db", p.Mode))
		}
	}

	return nil
}
