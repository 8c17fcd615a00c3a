package ai

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) client(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *geminiProvider) Stream(ctx context.Context, model string, messages []Message, opts GenerateOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := p.client(ctx)
		if err != nil {
			yield("", err)
			return
		}
		config := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(opts.Temperature)),
		}
		if opts.TopP > 0 {
			config.TopP = genai.Ptr(float32(opts.TopP))
		}
		if opts.MaxTokens > 0 {
			config.MaxOutputTokens = int32(opts.MaxTokens)
		}
		contents := make([]*genai.Content, 0, len(messages))
		for _, m := range messages {
			part := &genai.Part{Text: m.Content}
			switch m.Role {
			case RoleSystem:
				config.SystemInstruction = &genai.Content{Parts: []*genai.Part{part}}
			case RoleAssistant:
				contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{part}})
			default:
				contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
			}
		}
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (p *geminiProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

func createGeminiFactory(args interface{}) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	return &geminiProvider{apiKey: apiKey}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
