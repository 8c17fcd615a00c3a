package service

import (
	"fmt"
	"strings"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/model"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

const (
	systemPrompt = "You answer questions about the user's PDF documents. " +
		"Use only the provided context. If the context does not contain the answer, say that you do not know."
	excerptRunes = 200
)

type promptChunk struct {
	hit      vectorstore.Hit
	filename string
}

func buildPrompt(question string, chunks []promptChunk, history []model.ChatMessage, historyTurns int) []ai.Message {
	var sb strings.Builder
	sb.WriteString("Answer based on context:\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "\n[%d] %s, page %d:\n%s\n", i+1, c.filename, c.hit.Page, c.hit.Content)
	}
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt + "\n\n" + sb.String()},
	}
	for _, msg := range recentTurns(history, historyTurns) {
		role := ai.RoleUser
		if msg.Role == model.RoleAssistant {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: msg.Content})
	}
	return append(messages, ai.Message{Role: ai.RoleUser, Content: question})
}

// recentTurns keeps the last n user/assistant pairs. n < 0 keeps everything.
func recentTurns(history []model.ChatMessage, n int) []model.ChatMessage {
	if n < 0 || len(history) <= 2*n {
		return history
	}
	return history[len(history)-2*n:]
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content + "..."
	}
	return string(runes[:excerptRunes]) + "..."
}

func buildSources(chunks []promptChunk) []model.Source {
	sources := make([]model.Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, model.Source{
			DocumentID: c.hit.DocumentID,
			Filename:   c.filename,
			Page:       c.hit.Page,
			Excerpt:    excerpt(c.hit.Content),
		})
	}
	return sources
}
