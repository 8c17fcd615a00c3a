package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/chunker"
	"github.com/xxxsen/pdfchat/internal/filestore"
	"github.com/xxxsen/pdfchat/internal/model"
	"github.com/xxxsen/pdfchat/internal/pdf"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/repo"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

type DocumentService struct {
	docs     *repo.DocumentRepo
	files    filestore.Store
	index    vectorstore.Store
	chunker  *chunker.Chunker
	backends *Backends
	models   *ModelService
	sessions *SessionService
	now      func() time.Time
}

func NewDocumentService(docs *repo.DocumentRepo, files filestore.Store, index vectorstore.Store, splitter *chunker.Chunker, backends *Backends, models *ModelService, sessions *SessionService) *DocumentService {
	return &DocumentService{docs: docs, files: files, index: index, chunker: splitter, backends: backends, models: models, sessions: sessions, now: time.Now}
}

type UploadFile struct {
	Filename string
	Reader   pdf.File
	Size     int64
}

type IngestResult struct {
	SessionID  string
	Documents  []*model.Document
	TotalPages int
}

type parsedFile struct {
	upload UploadFile
	result *pdf.Result
}

// Ingest validates every file before indexing any of them. Documents are attached to the
// session only after all of them are fully indexed; on failure nothing created here survives.
func (s *DocumentService) Ingest(ctx context.Context, sessionID string, files []UploadFile) (*IngestResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.Int("files", len(files)))
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", appErr.ErrInvalid)
	}
	parsed := make([]parsedFile, 0, len(files))
	for _, f := range files {
		res, err := pdf.ExtractFile(f.Filename, f.Reader, f.Size)
		if err != nil {
			logger.Warn("reject upload", zap.String("file", f.Filename), zap.Error(err))
			return nil, err
		}
		parsed = append(parsed, parsedFile{upload: f, result: res})
	}
	if sessionID != "" {
		if _, err := s.sessions.Get(ctx, sessionID); err != nil {
			return nil, err
		}
		logger = logger.With(zap.String("session_id", sessionID))
	}

	cfg := s.models.Get()
	embedder, err := s.backends.Embedder(cfg.EmbeddingType)
	if err != nil {
		logger.Error("embedder unavailable", zap.Error(err))
		return nil, err
	}

	var created []*model.Document
	rollback := func() {
		// the request may already be cancelled; cleanup must still run
		cleanupCtx := context.WithoutCancel(ctx)
		for _, doc := range created {
			s.purge(cleanupCtx, doc)
		}
	}
	for _, pf := range parsed {
		doc, err := s.indexFile(ctx, pf, cfg.EmbeddingType, embedder)
		if doc != nil {
			created = append(created, doc)
		}
		if err != nil {
			logger.Error("index document failed", zap.String("file", pf.upload.Filename), zap.Error(err))
			rollback()
			return nil, err
		}
	}

	createdSession := false
	if sessionID == "" {
		sess, err := s.sessions.Create(ctx)
		if err != nil {
			rollback()
			return nil, err
		}
		sessionID = sess.ID
		createdSession = true
		logger = logger.With(zap.String("session_id", sessionID))
	}
	ids := make([]string, 0, len(created))
	total := 0
	for _, doc := range created {
		ids = append(ids, doc.ID)
		total += doc.PageCount
	}
	if _, err := s.sessions.AttachDocuments(ctx, sessionID, ids); err != nil {
		logger.Error("attach documents failed", zap.Error(err))
		rollback()
		if createdSession {
			_ = s.sessions.Delete(context.WithoutCancel(ctx), sessionID)
		}
		return nil, err
	}
	logger.Info("documents ingested", zap.Strings("document_ids", ids), zap.Int("pages", total))
	return &IngestResult{SessionID: sessionID, Documents: created, TotalPages: total}, nil
}

// indexFile returns the catalog document as soon as it exists so the caller can roll it back.
func (s *DocumentService) indexFile(ctx context.Context, pf parsedFile, embeddingType model.EmbeddingType, embedder ai.IEmbedder) (*model.Document, error) {
	docID := newID()
	chunks, err := s.chunker.Split(docID, pf.result.Pages)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", appErr.ErrEmbeddingUnavailable, err.Error())
	}

	doc := &model.Document{
		ID:             docID,
		Filename:       pf.upload.Filename,
		PageCount:      pf.result.PageCount,
		ChunkCount:     len(chunks),
		EmbeddingType:  embeddingType,
		EmbeddingModel: embedder.ModelName(),
		FileKey:        docID + ".pdf",
		CreatedAt:      s.now().UTC(),
	}
	if err := s.files.Save(ctx, doc.FileKey, pf.upload.Reader, pf.upload.Size); err != nil {
		return nil, fmt.Errorf("save pdf: %w", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		_ = s.files.Delete(context.WithoutCancel(ctx), doc.FileKey)
		return nil, fmt.Errorf("create document: %w", err)
	}
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			DocumentID:  docID,
			DocumentSeq: doc.Seq,
			ChunkIndex:  c.Index,
			Page:        c.Page,
			Content:     c.Content,
			Embedding:   vectors[i],
		}
	}
	if err := s.index.Add(ctx, docID, records); err != nil {
		return doc, fmt.Errorf("index document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", appErr.ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return doc, nil
}

// Resolve returns the catalog entries of ids in the given order. Any missing id fails.
func (s *DocumentService) Resolve(ctx context.Context, ids []string) ([]*model.Document, error) {
	docs, err := s.docs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	out := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", appErr.ErrDocumentNotFound, id)
		}
		out = append(out, doc)
	}
	return out, nil
}

// ResolveExisting is Resolve without the missing id check. Missing ids are skipped.
func (s *DocumentService) ResolveExisting(ctx context.Context, ids []string) ([]*model.Document, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := s.docs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	out := make([]*model.Document, 0, len(docs))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		if appErr.IsNotFound(err) {
			return fmt.Errorf("%w: %s", appErr.ErrDocumentNotFound, id)
		}
		return err
	}
	if err := s.index.Delete(ctx, doc.ID); err != nil {
		logutil.GetLogger(ctx).Error("delete document vectors failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	if err := s.files.Delete(ctx, doc.FileKey); err != nil {
		logutil.GetLogger(ctx).Error("delete document file failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	logutil.GetLogger(ctx).Info("document deleted", zap.String("document_id", doc.ID))
	return nil
}

// ListCreatedBefore feeds the document gc job.
func (s *DocumentService) ListCreatedBefore(ctx context.Context, cutoff time.Time, afterSeq int64, limit uint) ([]*model.Document, error) {
	return s.docs.ListCreatedBefore(ctx, cutoff, afterSeq, limit)
}

// purge removes the catalog row first so the document stops resolving before its vectors go.
func (s *DocumentService) purge(ctx context.Context, doc *model.Document) {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))
	if err := s.docs.Delete(ctx, doc.ID); err != nil && !appErr.IsNotFound(err) {
		logger.Error("rollback catalog row failed", zap.Error(err))
	}
	if err := s.index.Delete(ctx, doc.ID); err != nil {
		logger.Error("rollback vectors failed", zap.Error(err))
	}
	if err := s.files.Delete(ctx, doc.FileKey); err != nil {
		logger.Error("rollback file failed", zap.Error(err))
	}
}
