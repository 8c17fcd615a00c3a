package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
)

var ErrUnavailable = errors.New("ai provider unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// GenerateOptions carries sampling parameters. Zero values leave the provider default in place.
// NumCtx, GPULayers and RepeatPenalty only reach local runtimes; GPULayers < 0 means all layers.
type GenerateOptions struct {
	Temperature   float64
	MaxTokens     int
	TopP          float64
	RepeatPenalty float64
	NumCtx        int
	GPULayers     int
}

type IProvider interface {
	Name() string
	Stream(ctx context.Context, model string, messages []Message, opts GenerateOptions) iter.Seq2[string, error]
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

type IGenerator interface {
	Stream(ctx context.Context, messages []Message, opts GenerateOptions) iter.Seq2[string, error]
	ModelName() string
}

type IEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type generator struct {
	provider IProvider
	model    string
}

func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Stream(ctx context.Context, messages []Message, opts GenerateOptions) iter.Seq2[string, error] {
	return g.provider.Stream(ctx, g.model, messages, opts)
}

func (g *generator) ModelName() string {
	return g.model
}

type embedder struct {
	provider IProvider
	model    string
}

func NewEmbedder(p IProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.provider.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d inputs", e.provider.Name(), len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *embedder) ModelName() string {
	return e.provider.Name() + ":" + e.model
}

type ProviderFactory func(args interface{}) (IProvider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai provider is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

func single(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
