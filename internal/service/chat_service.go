package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/ai"
	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/vectorstore"
)

type ChatOptions struct {
	TopK         int
	Timeout      time.Duration
	HistoryTurns int
}

type ChatService struct {
	models    *ModelService
	sessions  *SessionService
	documents *DocumentService
	index     vectorstore.Store
	backends  *Backends
	opts      ChatOptions
}

func NewChatService(models *ModelService, sessions *SessionService, documents *DocumentService, index vectorstore.Store, backends *Backends, opts ChatOptions) *ChatService {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	return &ChatService{models: models, sessions: sessions, documents: documents, index: index, backends: backends, opts: opts}
}

type ChatRequest struct {
	Question    string   `json:"question"`
	ModelType   string   `json:"model_type"`
	SessionID   string   `json:"session_id"`
	DocumentIDs []string `json:"document_ids"`
}

// ChatStream is a prepared answer. Nothing is sent to the model until Fragments is iterated,
// and it can be iterated once.
type ChatStream struct {
	SessionID string
	// DocumentIDs lists the documents that supplied context, in first-hit order.
	DocumentIDs []string
	Sources     []model.Source

	question  string
	generator ai.IGenerator
	messages  []ai.Message
	genOpts   ai.GenerateOptions
	timeout   time.Duration
	sessions  *SessionService
	consumed  atomic.Bool
}

// Answer resolves everything the answer depends on. Session and document errors surface here,
// before any model or embedder call.
func (s *ChatService) Answer(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	cfg := s.models.Get()
	if req.ModelType != "" {
		override := cfg
		override.ModelType = model.ParseModelType(req.ModelType)
		validated, err := s.models.Validate(ctx, override)
		if err != nil {
			return nil, err
		}
		validated.EmbeddingType = cfg.EmbeddingType
		cfg = validated
	}

	var (
		docs    []*model.Document
		history []model.ChatMessage
	)
	err := s.sessions.View(ctx, req.SessionID, func(sess *model.Session) error {
		var (
			resolved []*model.Document
			err      error
		)
		if len(req.DocumentIDs) == 0 {
			// Documents deleted since they were attached drop out of the implicit set.
			resolved, err = s.documents.ResolveExisting(ctx, sess.DocumentIDs)
		} else {
			for _, id := range req.DocumentIDs {
				if !sess.HasDocument(id) {
					return fmt.Errorf("%w: %s", appErr.ErrDocumentNotFound, id)
				}
			}
			resolved, err = s.documents.Resolve(ctx, dedupe(req.DocumentIDs))
		}
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			return fmt.Errorf("%w: session has no documents", appErr.ErrInvalid)
		}
		docs = resolved
		history = sess.Messages
		return nil
	})
	if err != nil {
		return nil, err
	}

	generator, err := s.backends.Generator(cfg)
	if err != nil {
		return nil, err
	}
	chunks, err := s.retrieve(ctx, question, docs)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Debug("chat context retrieved",
		zap.String("session_id", req.SessionID),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.String("model", generator.ModelName()),
	)
	return &ChatStream{
		SessionID:   req.SessionID,
		DocumentIDs: contextDocuments(chunks),
		Sources:     buildSources(chunks),
		question:    question,
		generator:   generator,
		messages:    buildPrompt(question, chunks, history, s.opts.HistoryTurns),
		genOpts:     generateOptions(cfg),
		timeout:     s.opts.Timeout,
		sessions:    s.sessions,
	}, nil
}

// retrieve embeds the question once per embedding space and merges the per-space top-K.
func (s *ChatService) retrieve(ctx context.Context, question string, docs []*model.Document) ([]promptChunk, error) {
	byID := make(map[string]*model.Document, len(docs))
	var order []model.EmbeddingType
	groups := map[model.EmbeddingType][]string{}
	for _, doc := range docs {
		byID[doc.ID] = doc
		if _, ok := groups[doc.EmbeddingType]; !ok {
			order = append(order, doc.EmbeddingType)
		}
		groups[doc.EmbeddingType] = append(groups[doc.EmbeddingType], doc.ID)
	}
	var hits []vectorstore.Hit
	for _, et := range order {
		embedder, err := s.backends.Embedder(et)
		if err != nil {
			return nil, err
		}
		vectors, err := embedder.Embed(ctx, []string{question})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", appErr.ErrEmbeddingUnavailable, err.Error())
		}
		found, err := s.index.Search(ctx, vectors[0], groups[et], s.opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		hits = append(hits, found...)
	}
	hits = vectorstore.Rank(hits, s.opts.TopK)
	chunks := make([]promptChunk, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, promptChunk{hit: hit, filename: byID[hit.DocumentID].Filename})
	}
	return chunks, nil
}

// Fragments streams the model output. A generation failure ends the sequence with an error
// wrapping ErrGenerationFailed; cancellation of ctx ends it with ctx's error. Only a complete
// answer is appended to the session history.
func (st *ChatStream) Fragments(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !st.consumed.CompareAndSwap(false, true) {
			yield("", fmt.Errorf("%w: chat stream already consumed", appErr.ErrInvalid))
			return
		}
		logger := logutil.GetLogger(ctx).With(zap.String("session_id", st.SessionID), zap.String("model", st.generator.ModelName()))
		var (
			genCtx context.Context
			cancel context.CancelFunc
		)
		if st.timeout > 0 {
			genCtx, cancel = context.WithTimeout(ctx, st.timeout)
		} else {
			genCtx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		var answer strings.Builder
		for fragment, err := range st.generator.Stream(genCtx, st.messages, st.genOpts) {
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("chat stream cancelled", zap.Int("bytes", answer.Len()))
					yield("", ctx.Err())
					return
				}
				if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil {
					err = fmt.Errorf("%w: generation timed out after %s", appErr.ErrGenerationFailed, st.timeout)
				} else {
					err = fmt.Errorf("%w: %s", appErr.ErrGenerationFailed, err.Error())
				}
				logger.Error("chat generation failed", zap.Error(err))
				yield("", err)
				return
			}
			if fragment == "" {
				continue
			}
			answer.WriteString(fragment)
			if !yield(fragment, nil) {
				logger.Info("chat stream closed by consumer", zap.Int("bytes", answer.Len()))
				return
			}
		}
		if ctx.Err() != nil {
			yield("", ctx.Err())
			return
		}
		if err := st.sessions.AppendExchange(ctx, st.SessionID, st.question, answer.String(), st.Sources); err != nil {
			logger.Error("append chat history failed", zap.Error(err))
			return
		}
		logger.Info("chat answered", zap.Int("bytes", answer.Len()))
	}
}

func contextDocuments(chunks []promptChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var ids []string
	for _, c := range chunks {
		if _, ok := seen[c.hit.DocumentID]; ok {
			continue
		}
		seen[c.hit.DocumentID] = struct{}{}
		ids = append(ids, c.hit.DocumentID)
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
