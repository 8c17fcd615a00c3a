package ai

import (
	"context"
	"iter"
	"strings"

	"github.com/tmc/langchaingo/llms/ollama"
)

type ollamaConfig struct {
	ServerURL string `json:"server_url"`
}

type ollamaProvider struct {
	serverURL string
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) options(model string) []ollama.Option {
	opts := []ollama.Option{ollama.WithModel(model)}
	if p.serverURL != "" {
		opts = append(opts, ollama.WithServerURL(p.serverURL))
	}
	return opts
}

func (p *ollamaProvider) Stream(ctx context.Context, model string, messages []Message, opts GenerateOptions) iter.Seq2[string, error] {
	llmOpts := p.options(model)
	if opts.NumCtx > 0 {
		llmOpts = append(llmOpts, ollama.WithRunnerNumCtx(opts.NumCtx))
	}
	if opts.GPULayers >= 0 {
		llmOpts = append(llmOpts, ollama.WithRunnerNumGPU(opts.GPULayers))
	}
	llm, err := ollama.New(llmOpts...)
	if err != nil {
		return single(err)
	}
	return streamLangchain(ctx, llm, messages, langchainCallOptions(opts, true))
}

func (p *ollamaProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	llm, err := ollama.New(p.options(model)...)
	if err != nil {
		return nil, err
	}
	return embedLangchain(ctx, llm, texts)
}

func createOllamaFactory(args interface{}) (IProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &ollamaProvider{serverURL: strings.TrimSpace(cfg.ServerURL)}, nil
}

func init() {
	Register("ollama", createOllamaFactory)
}
