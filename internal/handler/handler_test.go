package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/chunker"
	"github.com/xxxsen/pdfchat/internal/config"
	"github.com/xxxsen/pdfchat/internal/filestore"
	"github.com/xxxsen/pdfchat/internal/model"
	"github.com/xxxsen/pdfchat/internal/repo"
	"github.com/xxxsen/pdfchat/internal/service"
	"github.com/xxxsen/pdfchat/internal/session"
	"github.com/xxxsen/pdfchat/internal/testutil"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

type stubProvider struct {
	fragments []string
	streamErr error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Stream(ctx context.Context, _ string, _ []ai.Message, _ ai.GenerateOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range p.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if p.streamErr != nil {
			yield("", p.streamErr)
		}
	}
}

func (p *stubProvider) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)%7) + 1, 1}
	}
	return out, nil
}

type testServer struct {
	engine   *gin.Engine
	provider *stubProvider
}

func setupServer(t *testing.T, limits config.UploadConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	db, err := repo.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	files, err := filestore.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	models, err := filestore.NewLocalStore(filepath.Join(dir, "models"))
	require.NoError(t, err)
	splitter, err := chunker.New(chunker.Config{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)

	provider := &stubProvider{fragments: []string{"Hello", ", ", "world"}}
	backends := &service.Backends{
		Hosted: service.NewBackendFromProvider(provider, "chat", "embed", config.EmbedCacheConfig{}),
		Local:  service.NewBackendFromProvider(provider, "", "embed", config.EmbedCacheConfig{}),
	}
	index := vectorstore.NewChromemStore(chromem.NewDB())
	modelService := service.NewModelService(model.DefaultModelConfig(), models, limits.MaxModelSize)
	sessionService := service.NewSessionService(session.NewMemoryStore(session.Options{}))
	documentService := service.NewDocumentService(repo.NewDocumentRepo(db), files, index, splitter, backends, modelService, sessionService)
	chatService := service.NewChatService(modelService, sessionService, documentService, index, backends, service.ChatOptions{TopK: 4, HistoryTurns: 3})

	engine := gin.New()
	RegisterRoutes(engine.Group("/api"), RouterDeps{
		PDF:     NewPDFHandler(documentService, limits),
		Model:   NewModelHandler(modelService, limits.MaxModelSize),
		Session: NewSessionHandler(sessionService),
		Chat:    NewChatHandler(chatService),
	})
	return &testServer{engine: engine, provider: provider}
}

func defaultLimits() config.UploadConfig {
	return config.UploadConfig{MaxFileSize: 1 << 20, MaxFiles: 3, MaxModelSize: 1 << 20}
}

type formFile struct {
	field string
	name  string
	data  []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func detailOf(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, w)["detail"]
}

func (s *testServer) upload(t *testing.T, sessionID string) UploadPDFResponse {
	t.Helper()
	fields := map[string]string{}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	w := s.do(multipartRequest(t, "/api/pdf/upload", fields,
		formFile{field: "files", name: "a.pdf", data: testutil.BuildPDF("alpha page", "beta page")},
		formFile{field: "files", name: "b.pdf", data: testutil.BuildPDF("gamma")},
	))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[UploadPDFResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := setupServer(t, defaultLimits())
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestUploadAndFetch(t *testing.T) {
	s := setupServer(t, defaultLimits())
	res := s.upload(t, "")
	require.Len(t, res.DocumentIDs, 2)
	require.Equal(t, 3, res.TotalPages)
	require.NotEmpty(t, res.SessionID)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/pdf/"+res.DocumentIDs[0], nil))
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[map[string]interface{}](t, w)
	require.Equal(t, "a.pdf", doc["filename"])
	require.EqualValues(t, 2, doc["page_count"])

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/"+res.SessionID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[model.Session](t, w)
	require.Equal(t, res.DocumentIDs, sess.DocumentIDs)

	again := s.upload(t, res.SessionID)
	require.Equal(t, res.SessionID, again.SessionID)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/pdf/"+res.DocumentIDs[0], nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/pdf/"+res.DocumentIDs[0], nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, detailOf(t, w), "document not found")
}

func TestUploadErrors(t *testing.T) {
	s := setupServer(t, config.UploadConfig{MaxFileSize: 64 << 10, MaxFiles: 2, MaxModelSize: 1 << 20})
	pdfData := testutil.BuildPDF("alpha")

	tests := []struct {
		name   string
		req    *http.Request
		status int
		detail string
	}{
		{
			name:   "unsupported format",
			req:    multipartRequest(t, "/api/pdf/upload", nil, formFile{field: "files", name: "notes.txt", data: []byte("hello")}),
			status: http.StatusUnsupportedMediaType,
			detail: "unsupported format",
		},
		{
			name:   "no files",
			req:    multipartRequest(t, "/api/pdf/upload", map[string]string{"session_id": ""}),
			status: http.StatusBadRequest,
			detail: "no files uploaded",
		},
		{
			name: "too many files",
			req: multipartRequest(t, "/api/pdf/upload", nil,
				formFile{field: "files", name: "a.pdf", data: pdfData},
				formFile{field: "files", name: "b.pdf", data: pdfData},
				formFile{field: "file", name: "c.pdf", data: pdfData},
			),
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "file too large",
			req:    multipartRequest(t, "/api/pdf/upload", nil, formFile{field: "file", name: "big.pdf", data: make([]byte, 65<<10)}),
			status: http.StatusRequestEntityTooLarge,
			detail: "too large (max 1MB)",
		},
		{
			name:   "unknown session",
			req:    multipartRequest(t, "/api/pdf/upload", map[string]string{"session_id": "nope"}, formFile{field: "file", name: "a.pdf", data: pdfData}),
			status: http.StatusNotFound,
			detail: "session not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			detail := detailOf(t, w)
			require.NotEmpty(t, detail)
			if tt.detail != "" {
				require.Contains(t, detail, tt.detail)
			}
		})
	}
}

func TestUploadBodyLimit(t *testing.T) {
	s := setupServer(t, config.UploadConfig{MaxFileSize: 1, MaxFiles: 1, MaxModelSize: 1})
	w := s.do(multipartRequest(t, "/api/pdf/upload", nil, formFile{field: "file", name: "a.pdf", data: make([]byte, 2<<20)}))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestModelConfigure(t *testing.T) {
	s := setupServer(t, defaultLimits())

	w := s.do(jsonRequest(http.MethodPost, "/api/model/configure", map[string]interface{}{"temperature": 0.7, "model_type": "openai"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Empty(t, w.Body.String())

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/model/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[model.ModelConfig](t, w)
	require.Equal(t, model.ModelTypeHosted, cfg.ModelType)
	require.Equal(t, 0.7, cfg.Temperature)
	require.Equal(t, 512, cfg.MaxTokens)
	require.Equal(t, model.EmbeddingTypeHosted, cfg.EmbeddingType)

	for name, body := range map[string]interface{}{
		"local without path": map[string]interface{}{"model_type": "local"},
		"out of range":       map[string]interface{}{"top_p": 3},
		"bad type":           map[string]interface{}{"model_type": "cloud"},
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(jsonRequest(http.MethodPost, "/api/model/configure", body))
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, detailOf(t, w), "invalid config")
		})
	}

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/model/configure", strings.NewReader("{broken")))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelUploadLocal(t *testing.T) {
	s := setupServer(t, defaultLimits())

	w := s.do(multipartRequest(t, "/api/model/upload-local", nil, formFile{field: "file", name: "tiny.gguf", data: []byte("GGUF")}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	path := decode[UploadModelResponse](t, w).ModelPath
	require.True(t, filepath.IsAbs(path))
	require.Equal(t, "tiny.gguf", filepath.Base(path))

	w = s.do(jsonRequest(http.MethodPost, "/api/model/configure", map[string]interface{}{"model_type": "local", "model_path": path}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(multipartRequest(t, "/api/model/upload-local", nil, formFile{field: "file", name: "tiny.bin", data: []byte("GGUF")}))
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = s.do(multipartRequest(t, "/api/model/upload-local", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	s := setupServer(t, defaultLimits())
	w := s.do(httptest.NewRequest(http.MethodPost, "/api/session/create", nil))
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[CreateSessionResponse](t, w).SessionID
	require.Len(t, id, 36)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[map[string]interface{}](t, w)
	require.Equal(t, id, sess["session_id"])
	require.NotNil(t, sess["created_at"])
	require.Equal(t, []interface{}{}, sess["document_ids"])

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/unknown", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "session not found", detailOf(t, w))

	res := s.upload(t, id)
	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/session/"+id+"/documents/"+res.DocumentIDs[0], nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/session/"+id+"/documents/"+res.DocumentIDs[0], nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/session/"+id, nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatStream(t *testing.T) {
	s := setupServer(t, defaultLimits())
	res := s.upload(t, "")

	w := s.do(jsonRequest(http.MethodPost, "/api/chat/stream", service.ChatRequest{Question: "what?", SessionID: res.SessionID}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	require.Equal(t, "Hello, world", w.Body.String())
	require.NotEmpty(t, w.Header().Get(HeaderChatSources))
	for _, id := range strings.Split(w.Header().Get(HeaderChatSources), ",") {
		require.Contains(t, res.DocumentIDs, id)
	}
	require.Empty(t, w.Result().Trailer.Get(HeaderStreamError))

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/"+res.SessionID, nil))
	sess := decode[model.Session](t, w)
	require.Len(t, sess.Messages, 2)
	require.Equal(t, "Hello, world", sess.Messages[1].Content)
	require.NotEmpty(t, sess.Messages[1].Sources)
}

func TestChatStreamErrors(t *testing.T) {
	s := setupServer(t, defaultLimits())
	res := s.upload(t, "")

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{name: "unknown session", body: service.ChatRequest{Question: "q", SessionID: "nope"}, status: http.StatusNotFound},
		{name: "unknown document", body: service.ChatRequest{Question: "q", SessionID: res.SessionID, DocumentIDs: []string{"ghost"}}, status: http.StatusNotFound},
		{name: "empty question", body: service.ChatRequest{Question: "", SessionID: res.SessionID}, status: http.StatusBadRequest},
		{name: "local without model", body: service.ChatRequest{Question: "q", SessionID: res.SessionID, ModelType: "local"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(jsonRequest(http.MethodPost, "/api/chat/stream", tt.body))
			require.Equal(t, tt.status, w.Code)
			require.NotEmpty(t, detailOf(t, w))
		})
	}
}

func TestChatStreamBodyLimit(t *testing.T) {
	s := setupServer(t, defaultLimits())
	res := s.upload(t, "")

	question := strings.Repeat("a", maxChatBodySize+1)
	w := s.do(jsonRequest(http.MethodPost, "/api/chat/stream", service.ChatRequest{Question: question, SessionID: res.SessionID}))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Contains(t, detailOf(t, w), "chat request too large (max 1MB)")
}

func TestChatStreamMidStreamFailure(t *testing.T) {
	s := setupServer(t, defaultLimits())
	res := s.upload(t, "")
	s.provider.streamErr = errors.New("upstream reset")

	w := s.do(jsonRequest(http.MethodPost, "/api/chat/stream", service.ChatRequest{Question: "q", SessionID: res.SessionID}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Hello, world", w.Body.String())
	require.Contains(t, w.Result().Trailer.Get(HeaderStreamError), "generation failed")

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/session/"+res.SessionID, nil))
	require.Empty(t, decode[model.Session](t, w).Messages)
}

func TestStatusOf(t *testing.T) {
	status, detail := statusOf(errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal error", detail)

	status, _ = statusOf(&http.MaxBytesError{Limit: 1})
	require.Equal(t, http.StatusRequestEntityTooLarge, status)
}
