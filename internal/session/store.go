// Package session keeps chat sessions: their attached documents and message history.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/pdfchat/internal/config"
	"github.com/xxxsen/pdfchat/internal/model"
)

// Store operations are atomic per session. Get and every mutation refresh the session's TTL.
// Missing or expired sessions yield errors.ErrSessionNotFound.
type Store interface {
	Create(ctx context.Context, sess *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	AttachDocuments(ctx context.Context, id string, documentIDs []string) (*model.Session, error)
	DetachDocument(ctx context.Context, id string, documentID string) error
	AppendMessages(ctx context.Context, id string, msgs ...model.ChatMessage) error
	Delete(ctx context.Context, id string) error
	// ReferencedDocuments returns the ids of documents attached to any live session.
	ReferencedDocuments(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

type Options struct {
	// TTL is measured from the last access. Zero disables expiry.
	TTL         time.Duration
	MaxSessions int
}

type Factory func(opts Options, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.SessionStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("session_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Type)
	}
	opts := Options{MaxSessions: cfg.MaxSessions}
	if cfg.TTLSeconds != nil {
		opts.TTL = time.Duration(*cfg.TTLSeconds) * time.Second
	}
	return factory(opts, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode session store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode session store config: %w", err)
	}
	return nil
}

func cloneSession(s *model.Session) *model.Session {
	out := *s
	out.DocumentIDs = append([]string(nil), s.DocumentIDs...)
	out.Messages = make([]model.ChatMessage, len(s.Messages))
	for i, msg := range s.Messages {
		msg.Sources = append([]model.Source(nil), msg.Sources...)
		out.Messages[i] = msg
	}
	if out.DocumentIDs == nil {
		out.DocumentIDs = []string{}
	}
	return &out
}
