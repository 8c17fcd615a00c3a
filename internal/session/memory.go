package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

func init() {
	Register("memory", func(opts Options, _ interface{}) (Store, error) {
		return NewMemoryStore(opts), nil
	})
}

type memoryEntry struct {
	mu   sync.Mutex
	sess *model.Session
}

type memoryStore struct {
	cache *expirable.LRU[string, *memoryEntry]
	now   func() time.Time
}

// NewMemoryStore keeps sessions in an expirable LRU. Adding an entry resets its expiry,
// so every access re-adds the entry.
func NewMemoryStore(opts Options) Store {
	size := opts.MaxSessions
	if size < 0 {
		size = 0
	}
	return &memoryStore{
		cache: expirable.NewLRU[string, *memoryEntry](size, nil, opts.TTL),
		now:   time.Now,
	}
}

func (m *memoryStore) Create(_ context.Context, sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", appErr.ErrInvalid)
	}
	if m.cache.Contains(sess.ID) {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	m.cache.Add(sess.ID, &memoryEntry{sess: cloneSession(sess)})
	return nil
}

// touch loads the entry and refreshes its expiry.
func (m *memoryStore) touch(id string) (*memoryEntry, error) {
	entry, ok := m.cache.Get(id)
	if !ok {
		return nil, appErr.ErrSessionNotFound
	}
	m.cache.Add(id, entry)
	return entry, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	entry, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.sess.LastAccessed = m.now()
	return cloneSession(entry.sess), nil
}

func (m *memoryStore) AttachDocuments(_ context.Context, id string, documentIDs []string) (*model.Session, error) {
	entry, err := m.touch(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, docID := range documentIDs {
		if !entry.sess.HasDocument(docID) {
			entry.sess.DocumentIDs = append(entry.sess.DocumentIDs, docID)
		}
	}
	entry.sess.LastAccessed = m.now()
	return cloneSession(entry.sess), nil
}

func (m *memoryStore) DetachDocument(_ context.Context, id string, documentID string) error {
	entry, err := m.touch(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	ids := entry.sess.DocumentIDs[:0]
	found := false
	for _, docID := range entry.sess.DocumentIDs {
		if docID == documentID {
			found = true
			continue
		}
		ids = append(ids, docID)
	}
	entry.sess.DocumentIDs = ids
	entry.sess.LastAccessed = m.now()
	if !found {
		return appErr.ErrDocumentNotFound
	}
	return nil
}

func (m *memoryStore) AppendMessages(_ context.Context, id string, msgs ...model.ChatMessage) error {
	entry, err := m.touch(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, msg := range msgs {
		msg.Sources = append([]model.Source(nil), msg.Sources...)
		entry.sess.Messages = append(entry.sess.Messages, msg)
	}
	entry.sess.LastAccessed = m.now()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	if !m.cache.Remove(id) {
		return appErr.ErrSessionNotFound
	}
	return nil
}

func (m *memoryStore) ReferencedDocuments(_ context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, entry := range m.cache.Values() {
		entry.mu.Lock()
		for _, docID := range entry.sess.DocumentIDs {
			out[docID] = struct{}{}
		}
		entry.mu.Unlock()
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	m.cache.Purge()
	return nil
}
