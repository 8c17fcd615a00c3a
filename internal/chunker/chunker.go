package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xxxsen/pdfchat/internal/model"
	"github.com/xxxsen/pdfchat/internal/pdf"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d)", cfg.ChunkSize)
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
	}, nil
}

// Split chunks each page independently so every chunk keeps its page number.
// Indexes are assigned in page order and define insertion order within the document.
func (c *Chunker) Split(documentID string, pages []pdf.Page) ([]model.Chunk, error) {
	chunks := make([]model.Chunk, 0, len(pages))
	for _, page := range pages {
		segments, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", page.Number, err)
		}
		for _, seg := range segments {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			chunks = append(chunks, model.Chunk{
				DocumentID: documentID,
				Index:      len(chunks),
				Page:       page.Number,
				Content:    seg,
			})
		}
	}
	return chunks, nil
}
