package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfchat/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"port": 8000, "db_path": "pdfchat.db"}`))
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, "chromem", cfg.VectorStore.Type)
	require.Equal(t, "memory", cfg.SessionStore.Type)
	require.EqualValues(t, 86400, *cfg.SessionStore.TTLSeconds)
	require.Equal(t, 4, cfg.Retrieval.TopK)
	require.Equal(t, 1000, cfg.Retrieval.ChunkSize)
	require.Equal(t, 200, cfg.Retrieval.ChunkOverlap)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	require.True(t, filepath.IsAbs(cfg.ModelDir))
	require.Equal(t, model.DefaultModelConfig(), *cfg.ModelDefaults)
}

func TestLoadPartialModelDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"port": 8000, "db_path": "x.db", "model_defaults": {"temperature": 0.7, "model_type": "openai"}}`))
	require.NoError(t, err)
	require.Equal(t, 0.7, cfg.ModelDefaults.Temperature)
	require.Equal(t, 512, cfg.ModelDefaults.MaxTokens)
	require.Equal(t, model.ModelTypeHosted, cfg.ModelDefaults.ModelType)
	require.Equal(t, model.EmbeddingTypeHosted, cfg.ModelDefaults.EmbeddingType)
}

func TestLoadKeepsZeroSessionTTL(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"port": 8000, "db_path": "x.db", "session_store": {"ttl_seconds": 0}}`))
	require.NoError(t, err)
	require.EqualValues(t, 0, *cfg.SessionStore.TTLSeconds)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing port", content: `{"db_path": "x.db"}`},
		{name: "missing db path", content: `{"port": 1}`},
		{name: "overlap too large", content: `{"port": 1, "db_path": "x.db", "retrieval": {"chunk_size": 100, "chunk_overlap": 100}}`},
		{name: "negative ttl", content: `{"port": 1, "db_path": "x.db", "session_store": {"ttl_seconds": -1}}`},
		{name: "bad file store", content: `{"port": 1, "db_path": "x.db", "file_store": {"type": "ftp"}}`},
		{name: "bad json", content: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}
