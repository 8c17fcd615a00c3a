package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/pdfchat/internal/model"
)

type Config struct {
	Port           int                `json:"port"`
	DBPath         string             `json:"db_path"`
	ModelDir       string             `json:"model_dir"`
	AllowedOrigins []string           `json:"allowed_origins"`
	LogConfig      logger.LogConfig   `json:"log_config"`
	Upload         UploadConfig       `json:"upload"`
	FileStore      FileStoreConfig    `json:"file_store"`
	VectorStore    VectorStoreConfig  `json:"vector_store"`
	SessionStore   SessionStoreConfig `json:"session_store"`
	Hosted         BackendConfig      `json:"hosted"`
	Local          BackendConfig      `json:"local"`
	EmbedCache     EmbedCacheConfig   `json:"embed_cache"`
	Retrieval      RetrievalConfig    `json:"retrieval"`
	Chat           ChatConfig         `json:"chat"`
	ModelDefaults  *model.ModelConfig `json:"model_defaults"`
	DocumentGC     DocumentGCConfig   `json:"document_gc"`
	RateLimit      RateLimitConfig    `json:"rate_limit"`
}

type UploadConfig struct {
	MaxFileSize  int64 `json:"max_file_size"`
	MaxFiles     int   `json:"max_files"`
	MaxModelSize int64 `json:"max_model_size"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type VectorStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type SessionStoreConfig struct {
	Type        string      `json:"type"`
	TTLSeconds  *int64      `json:"ttl_seconds"`
	MaxSessions int         `json:"max_sessions"`
	Data        interface{} `json:"data"`
}

// BackendConfig names the ai provider serving one model type and its provider specific data.
type BackendConfig struct {
	Provider       string      `json:"provider"`
	ChatModel      string      `json:"chat_model"`
	EmbeddingModel string      `json:"embedding_model"`
	Data           interface{} `json:"data"`
}

type EmbedCacheConfig struct {
	Size       int   `json:"size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type RetrievalConfig struct {
	TopK         int `json:"top_k"`
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

type ChatConfig struct {
	TimeoutSeconds int64 `json:"timeout_seconds"`
	HistoryTurns   int   `json:"history_turns"`
}

type DocumentGCConfig struct {
	Spec           string `json:"spec"`
	RetentionHours int64  `json:"retention_hours"`
}

type RateLimitConfig struct {
	ChatIntervalMillis int64 `json:"chat_interval_ms"`
}

const (
	defaultMaxFileSize  = 50 * 1024 * 1024
	defaultMaxFiles     = 20
	defaultMaxModelSize = 16 * 1024 * 1024 * 1024
	defaultSessionTTL   = 24 * 60 * 60
)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	defaults := model.DefaultModelConfig()
	cfg := Config{ModelDefaults: &defaults}
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "./models"
	}
	abs, err := filepath.Abs(cfg.ModelDir)
	if err != nil {
		return fmt.Errorf("resolve model_dir: %w", err)
	}
	cfg.ModelDir = abs
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Upload.MaxFileSize <= 0 {
		cfg.Upload.MaxFileSize = defaultMaxFileSize
	}
	if cfg.Upload.MaxFiles <= 0 {
		cfg.Upload.MaxFiles = defaultMaxFiles
	}
	if cfg.Upload.MaxModelSize <= 0 {
		cfg.Upload.MaxModelSize = defaultMaxModelSize
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.FileStore.Type == "local" && cfg.FileStore.Data == nil {
		cfg.FileStore.Data = map[string]interface{}{"dir": "./data/uploads"}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "chromem"
	}
	if cfg.SessionStore.Type == "" {
		cfg.SessionStore.Type = "memory"
	}
	if cfg.SessionStore.TTLSeconds == nil {
		ttl := int64(defaultSessionTTL)
		cfg.SessionStore.TTLSeconds = &ttl
	}
	if *cfg.SessionStore.TTLSeconds < 0 {
		return fmt.Errorf("session_store.ttl_seconds must not be negative")
	}
	if cfg.Hosted.Provider == "" {
		cfg.Hosted.Provider = "openai"
	}
	if cfg.Hosted.ChatModel == "" {
		cfg.Hosted.ChatModel = "gpt-3.5-turbo"
	}
	if cfg.Hosted.EmbeddingModel == "" {
		cfg.Hosted.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Local.Provider == "" {
		cfg.Local.Provider = "ollama"
	}
	if cfg.Local.EmbeddingModel == "" {
		cfg.Local.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.ChunkSize <= 0 {
		cfg.Retrieval.ChunkSize = 1000
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = min(200, cfg.Retrieval.ChunkSize/5)
	}
	if cfg.Retrieval.ChunkOverlap < 0 || cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.Chat.TimeoutSeconds <= 0 {
		cfg.Chat.TimeoutSeconds = 300
	}
	if cfg.Chat.HistoryTurns == 0 {
		cfg.Chat.HistoryTurns = 3
	}
	if cfg.ModelDefaults == nil {
		defaults := model.DefaultModelConfig()
		cfg.ModelDefaults = &defaults
	}
	normalized := cfg.ModelDefaults.Normalize()
	cfg.ModelDefaults = &normalized
	if cfg.DocumentGC.Spec == "" {
		cfg.DocumentGC.Spec = "0 * * * *"
	}
	switch strings.ToLower(cfg.FileStore.Type) {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	return nil
}
