package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Session struct {
	ID           string        `json:"session_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	DocumentIDs  []string      `json:"document_ids"`
	Messages     []ChatMessage `json:"messages"`
}

func (s *Session) HasDocument(id string) bool {
	for _, docID := range s.DocumentIDs {
		if docID == id {
			return true
		}
	}
	return false
}

type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
}

type Source struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	Excerpt    string `json:"excerpt"`
}
