package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

const (
	metaDocumentID = "document_id"
	metaSeq        = "seq"
	metaChunkIndex = "chunk_index"
	metaPage       = "page"
)

var errNoEmbedding = errors.New("chunk embeddings must be precomputed")

type chromemConfig struct {
	Dir      string `json:"dir"`
	Compress bool   `json:"compress"`
}

// chromemStore keeps one collection per document so queries can be restricted by id.
type chromemStore struct {
	mu sync.RWMutex
	db *chromem.DB
}

func init() {
	Register("chromem", createChromemStore)
}

func createChromemStore(args interface{}) (Store, error) {
	cfg := &chromemConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return NewChromemStore(chromem.NewDB()), nil
	}
	db, err := chromem.NewPersistentDB(cfg.Dir, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return NewChromemStore(db), nil
}

func NewChromemStore(db *chromem.DB) Store {
	return &chromemStore{db: db}
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (s *chromemStore) Add(ctx context.Context, documentID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db.GetCollection(documentID, noEmbedding) != nil {
		if err := s.db.DeleteCollection(documentID); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(documentID, nil, noEmbedding)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:      documentID + "-" + strconv.Itoa(r.ChunkIndex),
			Content: r.Content,
			Metadata: map[string]string{
				metaDocumentID: documentID,
				metaSeq:        strconv.FormatInt(r.DocumentSeq, 10),
				metaChunkIndex: strconv.Itoa(r.ChunkIndex),
				metaPage:       strconv.Itoa(r.Page),
			},
			Embedding: r.Embedding,
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		_ = s.db.DeleteCollection(documentID)
		return err
	}
	return nil
}

func (s *chromemStore) Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]Hit, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []Hit
	for _, id := range documentIDs {
		col := s.db.GetCollection(id, noEmbedding)
		if col == nil {
			continue
		}
		results, err := queryWithTies(ctx, col, query, topK)
		if err != nil {
			return nil, fmt.Errorf("query document %s: %w", id, err)
		}
		for _, r := range results {
			hits = append(hits, Hit{
				DocumentID:  id,
				DocumentSeq: parseInt64(r.Metadata[metaSeq]),
				ChunkIndex:  int(parseInt64(r.Metadata[metaChunkIndex])),
				Page:        int(parseInt64(r.Metadata[metaPage])),
				Content:     r.Content,
				Score:       r.Similarity,
			})
		}
	}
	return Rank(hits, topK), nil
}

// queryWithTies widens the query until every result scoring equal to the
// topK-th one is included, so Rank decides the cutoff instead of chromem.
func queryWithTies(ctx context.Context, col *chromem.Collection, query []float32, topK int) ([]chromem.Result, error) {
	count := col.Count()
	n := min(topK+1, count)
	for n > 0 {
		results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, err
		}
		if n == count || len(results) < n || results[n-1].Similarity != results[topK-1].Similarity {
			return results, nil
		}
		n = min(n*2, count)
	}
	return nil, nil
}

func (s *chromemStore) Delete(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db.GetCollection(documentID, noEmbedding) == nil {
		return nil
	}
	return s.db.DeleteCollection(documentID)
}

func (s *chromemStore) Close() error {
	return nil
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
