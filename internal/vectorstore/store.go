// Package vectorstore indexes chunk embeddings per document and answers cosine top-K queries.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/pdfchat/internal/config"
)

type Record struct {
	DocumentID  string
	DocumentSeq int64
	ChunkIndex  int
	Page        int
	Content     string
	Embedding   []float32
}

type Hit struct {
	DocumentID  string
	DocumentSeq int64
	ChunkIndex  int
	Page        int
	Content     string
	Score       float32
}

// Store implementations must make a document's records visible atomically, or not at all.
type Store interface {
	Add(ctx context.Context, documentID string, records []Record) error
	Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]Hit, error)
	Delete(ctx context.Context, documentID string) error
	Close() error
}

// Rank orders hits by descending score, breaking ties by insertion order, and keeps at most topK.
func Rank(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentSeq != b.DocumentSeq {
			return a.DocumentSeq < b.DocumentSeq
		}
		return a.ChunkIndex < b.ChunkIndex
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

type Factory func(args interface{}) (Store, error)

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

func New(cfg config.VectorStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
