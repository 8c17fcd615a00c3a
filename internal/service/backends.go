package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/config"
	"github.com/xxxsen/pdfchat/internal/embedcache"
	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

// Backend binds one model type to the provider that serves its chat and embedding calls.
type Backend struct {
	provider  ai.IProvider
	chatModel string
	embedder  ai.IEmbedder
	err       error
}

// NewBackend builds a backend from cfg. A provider that cannot be constructed is kept as an
// unavailable backend so the service still starts; its calls fail with the construction error.
func NewBackend(ctx context.Context, cfg config.BackendConfig, cache config.EmbedCacheConfig) *Backend {
	provider, err := ai.NewProvider(cfg.Provider, cfg.Data)
	if err != nil {
		logutil.GetLogger(ctx).Warn("ai provider unavailable", zap.String("provider", cfg.Provider), zap.Error(err))
		return &Backend{err: err}
	}
	return NewBackendFromProvider(provider, cfg.ChatModel, cfg.EmbeddingModel, cache)
}

func NewBackendFromProvider(provider ai.IProvider, chatModel, embeddingModel string, cache config.EmbedCacheConfig) *Backend {
	embedder := ai.NewEmbedder(provider, embeddingModel)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cache.Size, time.Duration(cache.TTLSeconds)*time.Second)
	return &Backend{provider: provider, chatModel: chatModel, embedder: embedder}
}

type Backends struct {
	Hosted *Backend
	Local  *Backend
}

func (b *Backends) forType(t model.ModelType) (*Backend, error) {
	var backend *Backend
	switch t {
	case model.ModelTypeHosted:
		backend = b.Hosted
	case model.ModelTypeLocal:
		backend = b.Local
	}
	if backend == nil {
		return nil, fmt.Errorf("no backend configured for %s models", t)
	}
	if backend.err != nil {
		return nil, backend.err
	}
	return backend, nil
}

// Embedder returns the embedder of an embedding space. Failures wrap ErrEmbeddingUnavailable.
func (b *Backends) Embedder(t model.EmbeddingType) (ai.IEmbedder, error) {
	mt := model.ModelTypeHosted
	if t == model.EmbeddingTypeLocal {
		mt = model.ModelTypeLocal
	}
	backend, err := b.forType(mt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appErr.ErrEmbeddingUnavailable, err.Error())
	}
	return backend.embedder, nil
}

// Generator returns the chat model for cfg. Local configs run the artifact named by model_path
// unless the backend pins a chat model.
func (b *Backends) Generator(cfg model.ModelConfig) (ai.IGenerator, error) {
	backend, err := b.forType(cfg.ModelType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appErr.ErrGenerationFailed, err.Error())
	}
	name := backend.chatModel
	if cfg.ModelType == model.ModelTypeLocal && name == "" {
		name = LocalModelName(cfg.ModelPath)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no chat model configured", appErr.ErrGenerationFailed)
	}
	return ai.NewGenerator(backend.provider, name), nil
}

func generateOptions(cfg model.ModelConfig) ai.GenerateOptions {
	return ai.GenerateOptions{
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		TopP:          cfg.TopP,
		RepeatPenalty: cfg.RepeatPenalty,
		NumCtx:        cfg.NCtx,
		GPULayers:     cfg.GPULayers,
	}
}
