package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

func setupRepo(t *testing.T) *DocumentRepo {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDocumentRepo(db)
}

func newDoc(id string, created time.Time) *model.Document {
	return &model.Document{
		ID:             id,
		Filename:       id + ".pdf",
		PageCount:      2,
		ChunkCount:     3,
		EmbeddingType:  model.EmbeddingTypeHosted,
		EmbeddingModel: "openai:text-embedding-3-small",
		FileKey:        id + ".pdf",
		CreatedAt:      created,
	}
}

func TestDocumentRepoCreateAssignsSeq(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	now := time.Now()

	first := newDoc("doc-a", now)
	second := newDoc("doc-b", now)
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, second))
	require.Greater(t, second.Seq, first.Seq)

	got, err := r.GetByID(ctx, "doc-b")
	require.NoError(t, err)
	require.Equal(t, second.Seq, got.Seq)
	require.Equal(t, "doc-b.pdf", got.Filename)
	require.Equal(t, 2, got.PageCount)
	require.Equal(t, 3, got.ChunkCount)
	require.Equal(t, model.EmbeddingTypeHosted, got.EmbeddingType)
	require.Equal(t, now.UnixMilli(), got.CreatedAt.UnixMilli())

	require.Error(t, r.Create(ctx, newDoc("doc-a", now)))
}

func TestDocumentRepoListByIDs(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	for _, id := range []string{"one", "two", "three"} {
		require.NoError(t, r.Create(ctx, newDoc(id, time.Now())))
	}

	docs, err := r.ListByIDs(ctx, []string{"three", "missing", "one"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "one", docs[0].ID)
	require.Equal(t, "three", docs[1].ID)

	docs, err = r.ListByIDs(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestDocumentRepoListCreatedBeforeAndDelete(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	now := time.Now()
	require.NoError(t, r.Create(ctx, newDoc("old", now.Add(-48*time.Hour))))
	require.NoError(t, r.Create(ctx, newDoc("new", now)))

	require.NoError(t, r.Create(ctx, newDoc("older", now.Add(-24*time.Hour))))

	docs, err := r.ListCreatedBefore(ctx, now.Add(-time.Hour), 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "old", docs[0].ID)
	require.Equal(t, "older", docs[1].ID)

	docs, err = r.ListCreatedBefore(ctx, now.Add(-time.Hour), 0, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	docs, err = r.ListCreatedBefore(ctx, now.Add(-time.Hour), docs[0].Seq, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "older", docs[0].ID)

	require.NoError(t, r.Delete(ctx, "old"))
	require.ErrorIs(t, r.Delete(ctx, "old"), appErr.ErrNotFound)
	_, err = r.GetByID(ctx, "old")
	require.True(t, appErr.IsNotFound(err))
}
