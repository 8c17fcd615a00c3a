package ai

import (
	"context"
	"iter"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"
)

type openAIConfig struct {
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	Organization string `json:"organization"`
}

type openAIProvider struct {
	apiKey       string
	baseURL      string
	organization string
}

func (p *openAIProvider) Name() string {
	return "openai"
}

func (p *openAIProvider) options(extra ...openai.Option) []openai.Option {
	opts := []openai.Option{openai.WithToken(p.apiKey)}
	if p.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.baseURL))
	}
	if p.organization != "" {
		opts = append(opts, openai.WithOrganization(p.organization))
	}
	return append(opts, extra...)
}

func (p *openAIProvider) Stream(ctx context.Context, model string, messages []Message, opts GenerateOptions) iter.Seq2[string, error] {
	if p.apiKey == "" {
		return single(ErrUnavailable)
	}
	llm, err := openai.New(p.options(openai.WithModel(model))...)
	if err != nil {
		return single(err)
	}
	return streamLangchain(ctx, llm, messages, langchainCallOptions(opts, false))
}

func (p *openAIProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	llm, err := openai.New(p.options(openai.WithEmbeddingModel(model))...)
	if err != nil {
		return nil, err
	}
	return embedLangchain(ctx, llm, texts)
}

func createOpenAIFactory(args interface{}) (IProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	return &openAIProvider{
		apiKey:       apiKey,
		baseURL:      strings.TrimSpace(cfg.BaseURL),
		organization: strings.TrimSpace(cfg.Organization),
	}, nil
}

func init() {
	Register("openai", createOpenAIFactory)
}
