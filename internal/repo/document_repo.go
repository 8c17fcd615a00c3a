package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const documentTable = "documents"

var documentColumns = []string{"seq", "id", "filename", "page_count", "chunk_count", "embedding_type", "embedding_model", "file_key", "ctime"}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create inserts doc and fills in the seq assigned by the catalog.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":              doc.ID,
		"filename":        doc.Filename,
		"page_count":      doc.PageCount,
		"chunk_count":     doc.ChunkCount,
		"embedding_type":  string(doc.EmbeddingType),
		"embedding_model": doc.EmbeddingModel,
		"file_key":        doc.FileKey,
		"ctime":           doc.CreatedAt.UnixMilli(),
	}
	sqlStr, args, err := builder.BuildInsert(documentTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.Seq = seq
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, docID string) (*model.Document, error) {
	docs, err := r.query(ctx, map[string]interface{}{"id": docID})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return docs[0], nil
}

// ListByIDs returns the documents found among ids in seq order. Missing ids are skipped.
func (r *DocumentRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, map[string]interface{}{
		"id in":    ids,
		"_orderby": "seq asc",
	})
}

// ListCreatedBefore returns documents ingested before cutoff with seq above afterSeq, oldest first.
func (r *DocumentRepo) ListCreatedBefore(ctx context.Context, cutoff time.Time, afterSeq int64, limit uint) ([]*model.Document, error) {
	where := map[string]interface{}{
		"ctime <":  cutoff.UnixMilli(),
		"seq >":    afterSeq,
		"_orderby": "seq asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.query(ctx, where)
}

func (r *DocumentRepo) Delete(ctx context.Context, docID string) error {
	sqlStr, args, err := builder.BuildDelete(documentTable, map[string]interface{}{"id": docID})
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect(documentTable, where, documentColumns)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var doc model.Document
		var embeddingType string
		var ctime int64
		if err := rows.Scan(&doc.Seq, &doc.ID, &doc.Filename, &doc.PageCount, &doc.ChunkCount, &embeddingType, &doc.EmbeddingModel, &doc.FileKey, &ctime); err != nil {
			return nil, err
		}
		doc.EmbeddingType = model.EmbeddingType(embeddingType)
		doc.CreatedAt = time.UnixMilli(ctime).UTC()
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}
