package model

import "time"

type Document struct {
	ID             string        `json:"document_id"`
	Filename       string        `json:"filename"`
	PageCount      int           `json:"page_count"`
	ChunkCount     int           `json:"chunk_count"`
	Seq            int64         `json:"-"`
	EmbeddingType  EmbeddingType `json:"embedding_type"`
	EmbeddingModel string        `json:"embedding_model"`
	FileKey        string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Chunk is a span of one document's text, the unit of embedding and retrieval.
type Chunk struct {
	DocumentID string
	Index      int
	Page       int
	Content    string
}
