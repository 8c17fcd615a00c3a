// Package job holds the background jobs run by the scheduler.
package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const gcBatchSize = 500

type DocumentSource interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time, afterSeq int64, limit uint) ([]*model.Document, error)
	Delete(ctx context.Context, id string) error
}

type ReferenceSource interface {
	ReferencedDocuments(ctx context.Context) (map[string]struct{}, error)
}

// DocumentGCJob deletes documents older than the retention that no live session references.
type DocumentGCJob struct {
	documents DocumentSource
	sessions  ReferenceSource
	retention time.Duration
	now       func() time.Time
}

func NewDocumentGCJob(documents DocumentSource, sessions ReferenceSource, retention time.Duration) *DocumentGCJob {
	return &DocumentGCJob{documents: documents, sessions: sessions, retention: retention, now: time.Now}
}

func (j *DocumentGCJob) Name() string {
	return "document_gc"
}

func (j *DocumentGCJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	refs, err := j.sessions.ReferencedDocuments(ctx)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("job", j.Name()))
	cutoff := j.now().Add(-j.retention)
	var (
		cursor  int64
		deleted int
	)
	for {
		docs, err := j.documents.ListCreatedBefore(ctx, cutoff, cursor, gcBatchSize)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			cursor = doc.Seq
			if _, ok := refs[doc.ID]; ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := j.documents.Delete(ctx, doc.ID); err != nil && !appErr.IsNotFound(err) {
				logger.Error("delete expired document failed", zap.String("document_id", doc.ID), zap.Error(err))
				continue
			}
			deleted++
		}
		if len(docs) < gcBatchSize {
			break
		}
	}
	if deleted > 0 {
		logger.Info("expired documents deleted", zap.Int("count", deleted))
	}
	return nil
}
