package vectorstore

import (
	"context"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"
)

func records(docID string, seq int64, vectors ...[]float32) []Record {
	out := make([]Record, 0, len(vectors))
	for i, v := range vectors {
		out = append(out, Record{
			DocumentID:  docID,
			DocumentSeq: seq,
			ChunkIndex:  i,
			Page:        i + 1,
			Content:     docID + " chunk",
			Embedding:   v,
		})
	}
	return out
}

func TestChromemSearchRestrictsToDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, s.Add(ctx, "doc2", records("doc2", 2, []float32{1, 0})))

	hits, err := s.Search(ctx, []float32{1, 0}, []string{"doc1"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		require.Equal(t, "doc1", h.DocumentID)
	}
	require.Equal(t, 0, hits[0].ChunkIndex)
	require.Equal(t, 1, hits[0].Page)
	require.InDelta(t, 1.0, hits[0].Score, 1e-5)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromemTiesFollowInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	same := []float32{0.6, 0.8}
	require.NoError(t, s.Add(ctx, "later", records("later", 7, same)))
	require.NoError(t, s.Add(ctx, "earlier", records("earlier", 3, same, same, same)))

	hits, err := s.Search(ctx, same, []string{"later", "earlier"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, "earlier", hits[0].DocumentID)
	require.Equal(t, []int{0, 1, 2}, []int{hits[0].ChunkIndex, hits[1].ChunkIndex, hits[2].ChunkIndex})
}

func TestChromemTiesAcrossCutoffKeepEarliestChunks(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	vectors := make([][]float32, 200)
	for i := range vectors {
		vectors[i] = []float32{0.6, 0.8}
	}
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, vectors...)))

	for run := 0; run < 5; run++ {
		hits, err := s.Search(ctx, []float32{0.6, 0.8}, []string{"doc1"}, 4)
		require.NoError(t, err)
		require.Len(t, hits, 4)
		got := make([]int, 0, len(hits))
		for _, h := range hits {
			got = append(got, h.ChunkIndex)
		}
		require.Equal(t, []int{0, 1, 2, 3}, got)
	}
}

func TestChromemTiesBelowBestStillOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	vectors := [][]float32{{0, 1}, {0, 1}, {1, 0}, {0, 1}, {0, 1}, {0, 1}}
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, vectors...)))

	hits, err := s.Search(ctx, []float32{1, 0}, []string{"doc1"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, []int{2, 0, 1}, []int{hits[0].ChunkIndex, hits[1].ChunkIndex, hits[2].ChunkIndex})
}

func TestChromemTopKClampsAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, []float32{1, 0}, []float32{0.5, 0.5}, []float32{0, 1})))

	hits, err := s.Search(ctx, []float32{1, 0}, []string{"doc1", "missing"}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	require.NoError(t, s.Delete(ctx, "doc1"))
	require.NoError(t, s.Delete(ctx, "doc1"))
	hits, err = s.Search(ctx, []float32{1, 0}, []string{"doc1"}, 2)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestChromemReAddReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewChromemStore(chromem.NewDB())
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, []float32{1, 0})))
	hits, err := s.Search(ctx, []float32{1, 0}, []string{"doc1"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestChromemPersistentDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := createChromemStore(map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "doc1", records("doc1", 1, []float32{1, 0})))

	reopened, err := createChromemStore(map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	hits, err := reopened.Search(ctx, []float32{1, 0}, []string{"doc1"}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.EqualValues(t, 1, hits[0].DocumentSeq)
}
