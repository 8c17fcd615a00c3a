package ai

import (
	"context"
	"iter"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

func toLangchainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func langchainCallOptions(opts GenerateOptions, withPenalty bool) []llms.CallOption {
	out := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		out = append(out, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.TopP > 0 {
		out = append(out, llms.WithTopP(opts.TopP))
	}
	if withPenalty && opts.RepeatPenalty > 0 {
		out = append(out, llms.WithRepetitionPenalty(opts.RepeatPenalty))
	}
	return out
}

func streamLangchain(ctx context.Context, llm llms.Model, messages []Message, opts []llms.CallOption) iter.Seq2[string, error] {
	content := toLangchainMessages(messages)
	return streamCallback(ctx, func(ctx context.Context, onChunk ChunkFunc) error {
		callOpts := append(append([]llms.CallOption{}, opts...), llms.WithStreamingFunc(onChunk))
		_, err := llm.GenerateContent(ctx, content, callOpts...)
		return err
	})
}

func embedLangchain(ctx context.Context, client embeddings.EmbedderClient, texts []string) ([][]float32, error) {
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(64))
	if err != nil {
		return nil, err
	}
	return embedder.EmbedDocuments(ctx, texts)
}
