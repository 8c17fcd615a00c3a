package filestore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfchat/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	payload := []byte("%PDF-1.4 payload")
	require.NoError(t, store.Save(ctx, "a.pdf", bytes.NewReader(payload), int64(len(payload))))
	ok, err = store.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Open(ctx, "a.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, store.Delete(ctx, "a.pdf"))
	require.NoError(t, store.Delete(ctx, "a.pdf"))
	_, err = store.Open(ctx, "a.pdf")
	require.ErrorIs(t, err, ErrNotExist)
}

func TestLocalStoreRejectsBadKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../escape", `dir\file`, "a/b"} {
		require.Error(t, store.Save(context.Background(), key, bytes.NewReader(nil), 0), key)
	}
}

func TestLocalStoreShortWrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	err = store.Save(context.Background(), "x.bin", bytes.NewReader([]byte("abc")), 10)
	require.Error(t, err)
	ok, err := store.Exists(context.Background(), "x.bin")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewRequiresKnownType(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
}
