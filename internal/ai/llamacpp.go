package ai

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultLlamaCppBaseURL = "http://localhost:8080/v1"

type llamaCppConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// llamaCppProvider talks to a llama.cpp server through its OpenAI compatible API.
type llamaCppProvider struct {
	baseURL string
	apiKey  string
}

func (p *llamaCppProvider) Name() string {
	return "llamacpp"
}

func (p *llamaCppProvider) Stream(ctx context.Context, model string, messages []Message, opts GenerateOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		chat, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:  p.apiKey,
			BaseURL: p.baseURL,
			Model:   model,
		})
		if err != nil {
			yield("", err)
			return
		}
		callOpts := []einomodel.Option{einomodel.WithTemperature(float32(opts.Temperature))}
		if opts.MaxTokens > 0 {
			callOpts = append(callOpts, einomodel.WithMaxTokens(opts.MaxTokens))
		}
		if opts.TopP > 0 {
			callOpts = append(callOpts, einomodel.WithTopP(float32(opts.TopP)))
		}
		reader, err := chat.Stream(ctx, toSchemaMessages(messages), callOpts...)
		if err != nil {
			yield("", err)
			return
		}
		defer reader.Close()
		for {
			msg, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			if !yield(msg.Content, nil) {
				return
			}
		}
	}
}

func (p *llamaCppProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	emb, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  p.apiKey,
		BaseURL: p.baseURL,
		Model:   model,
	})
	if err != nil {
		return nil, err
	}
	vectors, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		out[i] = make([]float32, len(vec))
		for j, v := range vec {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func createLlamaCppFactory(args interface{}) (IProvider, error) {
	cfg := &llamaCppConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultLlamaCppBaseURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = "no-key"
	}
	return &llamaCppProvider{baseURL: baseURL, apiKey: apiKey}, nil
}

func init() {
	Register("llamacpp", createLlamaCppFactory)
}
