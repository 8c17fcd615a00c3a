package service

import (
	"bytes"
	"context"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/chunker"
	"github.com/xxxsen/pdfchat/internal/config"
	"github.com/xxxsen/pdfchat/internal/filestore"
	"github.com/xxxsen/pdfchat/internal/model"
	"github.com/xxxsen/pdfchat/internal/repo"
	"github.com/xxxsen/pdfchat/internal/session"
	"github.com/xxxsen/pdfchat/internal/testutil"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

// fakeProvider embeds text as letter frequencies and streams a fixed answer.
type fakeProvider struct {
	name string

	mu           sync.Mutex
	fragments    []string
	streamErr    error
	embedErr     error
	streamCalls  int
	embedCalls   int
	lastModel    string
	lastMessages []ai.Message
	lastOpts     ai.GenerateOptions
}

func newFakeProvider(name string, fragments ...string) *fakeProvider {
	return &fakeProvider{name: name, fragments: fragments}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Stream(ctx context.Context, modelName string, messages []ai.Message, opts ai.GenerateOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p.mu.Lock()
		p.streamCalls++
		p.lastModel = modelName
		p.lastMessages = append([]ai.Message(nil), messages...)
		p.lastOpts = opts
		fragments := append([]string(nil), p.fragments...)
		streamErr := p.streamErr
		p.mu.Unlock()
		for _, f := range fragments {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if streamErr != nil {
			yield("", streamErr)
		}
	}
}

func (p *fakeProvider) Embed(ctx context.Context, modelName string, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	err := p.embedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = letterVector(text)
	}
	return out, nil
}

func (p *fakeProvider) calls() (stream, embed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCalls, p.embedCalls
}

func letterVector(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

type harness struct {
	hosted    *fakeProvider
	local     *fakeProvider
	models    *ModelService
	sessions  *SessionService
	documents *DocumentService
	chat      *ChatService
	index     vectorstore.Store
	files     *filestore.LocalStore
	modelDir  *filestore.LocalStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := repo.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	files, err := filestore.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	modelDir, err := filestore.NewLocalStore(filepath.Join(dir, "models"))
	require.NoError(t, err)
	splitter, err := chunker.New(chunker.Config{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)

	h := &harness{
		hosted:   newFakeProvider("fake-hosted", "Hello", ", ", "world"),
		local:    newFakeProvider("fake-local", "local answer"),
		index:    vectorstore.NewChromemStore(chromem.NewDB()),
		files:    files,
		modelDir: modelDir,
	}
	backends := &Backends{
		Hosted: NewBackendFromProvider(h.hosted, "hosted-chat", "hosted-embed", config.EmbedCacheConfig{}),
		Local:  NewBackendFromProvider(h.local, "", "local-embed", config.EmbedCacheConfig{}),
	}
	h.models = NewModelService(model.DefaultModelConfig(), modelDir, 1<<20)
	h.sessions = NewSessionService(session.NewMemoryStore(session.Options{}))
	h.documents = NewDocumentService(repo.NewDocumentRepo(db), files, h.index, splitter, backends, h.models, h.sessions)
	h.chat = NewChatService(h.models, h.sessions, h.documents, h.index, backends, ChatOptions{TopK: 4, HistoryTurns: 3})
	return h
}

func pdfUpload(name string, pages ...string) UploadFile {
	data := testutil.BuildPDF(pages...)
	return UploadFile{Filename: name, Reader: bytes.NewReader(data), Size: int64(len(data))}
}

func rawUpload(name string, data []byte) UploadFile {
	return UploadFile{Filename: name, Reader: bytes.NewReader(data), Size: int64(len(data))}
}

// installModel places a fake artifact in the model dir and returns its path.
func (h *harness) installModel(t *testing.T, name string) string {
	t.Helper()
	data := []byte("GGUF")
	require.NoError(t, h.modelDir.Save(context.Background(), name, bytes.NewReader(data), int64(len(data))))
	return h.modelDir.Path(name)
}

func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for fragment, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, fragment)
	}
	return out, nil
}
