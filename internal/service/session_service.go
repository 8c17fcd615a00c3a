package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/session"
)

type SessionService struct {
	store session.Store
	locks *sessionLocks
	now   func() time.Time
}

func NewSessionService(store session.Store) *SessionService {
	return &SessionService{store: store, locks: &sessionLocks{}, now: time.Now}
}

func (s *SessionService) Create(ctx context.Context) (*model.Session, error) {
	now := s.now().UTC()
	sess := &model.Session{
		ID:           newID(),
		CreatedAt:    now,
		LastAccessed: now,
		DocumentIDs:  []string{},
		Messages:     []model.ChatMessage{},
	}
	if err := s.store.Create(ctx, sess); err != nil {
		logutil.GetLogger(ctx).Error("create session failed", zap.Error(err))
		return nil, err
	}
	logutil.GetLogger(ctx).Info("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, appErr.ErrSessionNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *SessionService) Delete(ctx context.Context, id string) error {
	lock := s.locks.forSession(id)
	lock.Lock()
	defer lock.Unlock()
	return s.store.Delete(ctx, id)
}

// AttachDocuments makes documentIDs visible to the session's chats.
func (s *SessionService) AttachDocuments(ctx context.Context, id string, documentIDs []string) (*model.Session, error) {
	lock := s.locks.forSession(id)
	lock.Lock()
	defer lock.Unlock()
	return s.store.AttachDocuments(ctx, id, documentIDs)
}

func (s *SessionService) DetachDocument(ctx context.Context, id, documentID string) error {
	lock := s.locks.forSession(id)
	lock.Lock()
	defer lock.Unlock()
	return s.store.DetachDocument(ctx, id, documentID)
}

// View runs fn with a session snapshot under the session's read lock.
func (s *SessionService) View(ctx context.Context, id string, fn func(sess *model.Session) error) error {
	lock := s.locks.forSession(id)
	lock.RLock()
	defer lock.RUnlock()
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(sess)
}

func (s *SessionService) AppendExchange(ctx context.Context, id string, question, answer string, sources []model.Source) error {
	now := s.now().UTC()
	return s.store.AppendMessages(ctx, id,
		model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: now, Sources: sources},
	)
}

func (s *SessionService) ReferencedDocuments(ctx context.Context) (map[string]struct{}, error) {
	return s.store.ReferencedDocuments(ctx)
}
