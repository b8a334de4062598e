package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultOllamaBaseURL        = "http://localhost:11434"
	DefaultOllamaLLMModel       = "gpt-oss"
	DefaultOllamaEmbeddingModel = "nomic-embed-text"
	DefaultOllamaVisionModel    = "llava"
	DefaultEmbeddingDimension   = 768
	DefaultVectorDBType         = "sqlite"
	DefaultSQLitePath           = "./rag_data"
	DefaultChromaHost           = "localhost"
	DefaultChromaPort           = 8000
	DefaultQdrantURL            = "http://localhost:6333"
	DefaultChunkSize            = 1000
	DefaultChunkOverlap         = 200
	DefaultTextCollection       = "documents"
	DefaultImageCollection      = "images"
	DefaultTextWeight           = 0.5
	DefaultImageWeight          = 0.5
	DefaultSessionHistoryLimit  = 20
	DefaultSessionIdleTimeout   = 30 * time.Minute
	DefaultServerAddr           = ":8080"

	MinChunkSize = 100
	MaxChunkSize = 10000
)

// ConfigError indicates invalid or missing configuration. It is fatal at
// startup; nothing should attempt to run with a partially valid Config.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Config holds every setting the server and its services consume. It is
// loaded once at startup and passed by reference; nothing reads the
// environment after Load returns.
type Config struct {
	// Ollama
	OllamaBaseURL        string
	OllamaLLMModel       string
	OllamaEmbeddingModel string
	OllamaVisionModel    string
	EmbeddingDimension   int

	// Vector store backend selection plus per-backend connection parameters.
	VectorDBType string
	SQLitePath   string
	ChromaHost   string
	ChromaPort   int
	ChromaTenant string
	ChromaDB     string
	QdrantURL    string
	QdrantAPIKey string
	PgvectorDSN  string

	// Redis (optional; embedding cache is disabled when host is empty).
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Collections and fusion weights
	TextCollection  string
	ImageCollection string
	TextWeight      float64
	ImageWeight     float64

	// Sessions
	SessionHistoryLimit int
	SessionIdleTimeout  time.Duration

	// HTTP surface
	ServerAddr string
}

// Load reads configuration from the environment, consulting a .env file if
// one is present, applies defaults, and validates. Returns a ConfigError on
// the first invalid value.
func Load() (*Config, error) {
	// Missing .env is fine; the environment alone is a valid source.
	_ = godotenv.Load()

	cfg := &Config{
		OllamaBaseURL:        getEnv("OLLAMA_BASE_URL", DefaultOllamaBaseURL),
		OllamaLLMModel:       getEnv("OLLAMA_LLM_MODEL", DefaultOllamaLLMModel),
		OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", DefaultOllamaEmbeddingModel),
		OllamaVisionModel:    getEnv("OLLAMA_VISION_MODEL", DefaultOllamaVisionModel),
		VectorDBType:         strings.ToLower(getEnv("VECTOR_DB_TYPE", DefaultVectorDBType)),
		SQLitePath:           getEnv("SQLITE_PATH", DefaultSQLitePath),
		ChromaHost:           getEnv("CHROMA_HOST", DefaultChromaHost),
		ChromaTenant:         getEnv("CHROMA_TENANT", "default_tenant"),
		ChromaDB:             getEnv("CHROMA_DATABASE", "default_database"),
		QdrantURL:            getEnv("QDRANT_URL", DefaultQdrantURL),
		QdrantAPIKey:         os.Getenv("QDRANT_API_KEY"),
		PgvectorDSN:          os.Getenv("PGVECTOR_DSN"),
		RedisHost:            os.Getenv("REDIS_HOST"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		TextCollection:       getEnv("TEXT_COLLECTION", DefaultTextCollection),
		ImageCollection:      getEnv("IMAGE_COLLECTION", DefaultImageCollection),
		ServerAddr:           getEnv("SERVER_ADDR", DefaultServerAddr),
	}

	var err error
	if cfg.EmbeddingDimension, err = getEnvInt("EMBEDDING_DIMENSION", DefaultEmbeddingDimension); err != nil {
		return nil, err
	}
	if cfg.ChromaPort, err = getEnvInt("CHROMA_PORT", DefaultChromaPort); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = getEnvInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = getEnvInt("CHUNK_OVERLAP", DefaultChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.SessionHistoryLimit, err = getEnvInt("SESSION_HISTORY_LIMIT", DefaultSessionHistoryLimit); err != nil {
		return nil, err
	}
	if cfg.TextWeight, err = getEnvFloat("MULTIMODAL_TEXT_WEIGHT", DefaultTextWeight); err != nil {
		return nil, err
	}
	if cfg.ImageWeight, err = getEnvFloat("MULTIMODAL_IMAGE_WEIGHT", DefaultImageWeight); err != nil {
		return nil, err
	}

	cfg.SessionIdleTimeout = DefaultSessionIdleTimeout
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &ConfigError{Field: "SESSION_IDLE_TIMEOUT", Message: "must be a duration (e.g. 30m): " + v}
		}
		cfg.SessionIdleTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.OllamaBaseURL, "http://") && !strings.HasPrefix(c.OllamaBaseURL, "https://") {
		return &ConfigError{Field: "OLLAMA_BASE_URL", Message: "must start with http:// or https://, got " + c.OllamaBaseURL}
	}
	if strings.TrimSpace(c.OllamaLLMModel) == "" {
		return &ConfigError{Field: "OLLAMA_LLM_MODEL", Message: "cannot be empty"}
	}
	if strings.TrimSpace(c.OllamaEmbeddingModel) == "" {
		return &ConfigError{Field: "OLLAMA_EMBEDDING_MODEL", Message: "cannot be empty"}
	}
	if c.EmbeddingDimension <= 0 {
		return &ConfigError{Field: "EMBEDDING_DIMENSION", Message: fmt.Sprintf("must be positive, got %d", c.EmbeddingDimension)}
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return &ConfigError{
			Field:   "CHUNK_SIZE",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinChunkSize, MaxChunkSize, c.ChunkSize),
		}
	}
	if c.ChunkOverlap <= 0 || c.ChunkOverlap >= c.ChunkSize {
		return &ConfigError{
			Field:   "CHUNK_OVERLAP",
			Message: fmt.Sprintf("must be between 1 and CHUNK_SIZE-1 (%d), got %d", c.ChunkSize-1, c.ChunkOverlap),
		}
	}
	if c.SessionHistoryLimit <= 0 {
		return &ConfigError{Field: "SESSION_HISTORY_LIMIT", Message: fmt.Sprintf("must be positive, got %d", c.SessionHistoryLimit)}
	}
	if c.SessionIdleTimeout <= 0 {
		return &ConfigError{Field: "SESSION_IDLE_TIMEOUT", Message: "must be positive"}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer, got " + v}
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a number, got " + v}
	}
	return f, nil
}
