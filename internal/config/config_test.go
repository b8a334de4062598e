package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultOllamaBaseURL, cfg.OllamaBaseURL)
	assert.Equal(t, DefaultOllamaVisionModel, cfg.OllamaVisionModel)
	assert.Equal(t, DefaultVectorDBType, cfg.VectorDBType)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.ChunkOverlap)
	assert.Equal(t, DefaultSessionIdleTimeout, cfg.SessionIdleTimeout)
	assert.Equal(t, DefaultTextCollection, cfg.TextCollection)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_VISION_MODEL", "bakllava")
	t.Setenv("VECTOR_DB_TYPE", "QDRANT")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "100")
	t.Setenv("SESSION_IDLE_TIMEOUT", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bakllava", cfg.OllamaVisionModel)
	assert.Equal(t, "qdrant", cfg.VectorDBType, "backend kind is normalized to lowercase")
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"bad base url", "OLLAMA_BASE_URL", "localhost:11434", "OLLAMA_BASE_URL"},
		{"chunk size too small", "CHUNK_SIZE", "50", "CHUNK_SIZE"},
		{"chunk size too large", "CHUNK_SIZE", "20000", "CHUNK_SIZE"},
		{"non-numeric chunk size", "CHUNK_SIZE", "big", "CHUNK_SIZE"},
		{"overlap equals size", "CHUNK_OVERLAP", "1000", "CHUNK_OVERLAP"},
		{"bad idle timeout", "SESSION_IDLE_TIMEOUT", "soon", "SESSION_IDLE_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_OverlapMustBeLessThanSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "300")
	t.Setenv("CHUNK_OVERLAP", "299")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 299, cfg.ChunkOverlap)
}
