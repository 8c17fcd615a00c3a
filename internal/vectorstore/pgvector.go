package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

type pgvectorConfig struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

type pgvectorStore struct {
	db    *sqlx.DB
	table string
}

type pgvectorRow struct {
	DocumentID  string  `db:"document_id"`
	DocumentSeq int64   `db:"document_seq"`
	ChunkIndex  int     `db:"chunk_index"`
	Page        int     `db:"page"`
	Content     string  `db:"content"`
	Score       float64 `db:"score"`
}

func init() {
	Register("pgvector", createPgvectorStore)
}

func createPgvectorStore(args interface{}) (Store, error) {
	cfg := &pgvectorConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("PG_DSN")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector dsn is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "pdf_chunks"
	}
	store, err := NewPgvectorStore(context.Background(), db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPgvectorStore creates the extension and chunk table when missing.
func NewPgvectorStore(ctx context.Context, db *sqlx.DB, table string) (Store, error) {
	ident := pq.QuoteIdentifier(table)
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			document_id TEXT NOT NULL,
			document_seq BIGINT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (document_id, chunk_index)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init pgvector table: %w", err)
		}
	}
	return &pgvectorStore{db: db, table: ident}, nil
}

func (s *pgvectorStore) Add(ctx context.Context, documentID string, records []Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document_id = $1`, documentID); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO `+s.table+
		` (document_id, document_seq, chunk_index, page, content, embedding) VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, documentID, r.DocumentSeq, r.ChunkIndex, r.Page, r.Content, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", r.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *pgvectorStore) Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]Hit, error) {
	if topK <= 0 || len(query) == 0 || len(documentIDs) == 0 {
		return nil, nil
	}
	var rows []pgvectorRow
	q := `SELECT document_id, document_seq, chunk_index, page, content, 1 - (embedding <=> $1) AS score
		FROM ` + s.table + `
		WHERE document_id = ANY($2)
		ORDER BY embedding <=> $1, document_seq, chunk_index
		LIMIT ` + strconv.Itoa(topK)
	if err := s.db.SelectContext(ctx, &rows, q, pgvector.NewVector(query), pq.Array(documentIDs)); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			DocumentID:  r.DocumentID,
			DocumentSeq: r.DocumentSeq,
			ChunkIndex:  r.ChunkIndex,
			Page:        r.Page,
			Content:     r.Content,
			Score:       float32(r.Score),
		})
	}
	return Rank(hits, topK), nil
}

func (s *pgvectorStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE document_id = $1`, documentID)
	return err
}

func (s *pgvectorStore) Close() error {
	return s.db.Close()
}
