package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const defaultRedisPrefix = "pdfchat:session:"

type redisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

func init() {
	Register("redis", createRedisStore)
}

func createRedisStore(opts Options, args interface{}) (Store, error) {
	cfg := &redisConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("REDIS_PASSWORD")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix, opts.TTL), nil
}

// redisStore keeps each session in three keys: a hash with timestamps and the attach
// counter, a sorted set of document ids scored by attach order, and a list of messages.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *redisStore) metaKey(id string) string { return r.prefix + id }
func (r *redisStore) docsKey(id string) string { return r.prefix + id + ":docs" }
func (r *redisStore) msgsKey(id string) string { return r.prefix + id + ":messages" }

func (r *redisStore) expire(ctx context.Context, pipe redis.Pipeliner, id string) {
	if r.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, r.metaKey(id), r.ttl)
	pipe.Expire(ctx, r.docsKey(id), r.ttl)
	pipe.Expire(ctx, r.msgsKey(id), r.ttl)
}

func (r *redisStore) Create(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", appErr.ErrInvalid)
	}
	ok, err := r.client.HSetNX(ctx, r.metaKey(sess.ID), "created_at", sess.CreatedAt.UnixMicro()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.metaKey(sess.ID), "last_accessed", sess.LastAccessed.UnixMicro(), "doc_seq", 0)
		for i, docID := range sess.DocumentIDs {
			pipe.ZAddNX(ctx, r.docsKey(sess.ID), redis.Z{Score: float64(i + 1), Member: docID})
		}
		if len(sess.DocumentIDs) > 0 {
			pipe.HSet(ctx, r.metaKey(sess.ID), "doc_seq", len(sess.DocumentIDs))
		}
		for _, msg := range sess.Messages {
			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			pipe.RPush(ctx, r.msgsKey(sess.ID), raw)
		}
		r.expire(ctx, pipe, sess.ID)
		return nil
	})
	return err
}

func (r *redisStore) exists(ctx context.Context, id string) error {
	n, err := r.client.Exists(ctx, r.metaKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrSessionNotFound
	}
	return nil
}

// touch records the access time and refreshes the TTL of all session keys.
func (r *redisStore) touch(ctx context.Context, id string) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.metaKey(id), "last_accessed", r.now().UnixMicro())
		r.expire(ctx, pipe, id)
		return nil
	})
	return err
}

func (r *redisStore) Get(ctx context.Context, id string) (*model.Session, error) {
	if err := r.touch(ctx, id); err != nil {
		return nil, err
	}
	return r.load(ctx, id)
}

func (r *redisStore) load(ctx context.Context, id string) (*model.Session, error) {
	var (
		metaCmd *redis.MapStringStringCmd
		docsCmd *redis.StringSliceCmd
		msgsCmd *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, r.metaKey(id))
		docsCmd = pipe.ZRange(ctx, r.docsKey(id), 0, -1)
		msgsCmd = pipe.LRange(ctx, r.msgsKey(id), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, appErr.ErrSessionNotFound
	}
	sess := &model.Session{
		ID:           id,
		CreatedAt:    parseMicros(meta["created_at"]),
		LastAccessed: parseMicros(meta["last_accessed"]),
		DocumentIDs:  docsCmd.Val(),
		Messages:     make([]model.ChatMessage, 0, len(msgsCmd.Val())),
	}
	if sess.DocumentIDs == nil {
		sess.DocumentIDs = []string{}
	}
	for _, raw := range msgsCmd.Val() {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode session message: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, nil
}

func (r *redisStore) AttachDocuments(ctx context.Context, id string, documentIDs []string) (*model.Session, error) {
	if err := r.exists(ctx, id); err != nil {
		return nil, err
	}
	if len(documentIDs) > 0 {
		last, err := r.client.HIncrBy(ctx, r.metaKey(id), "doc_seq", int64(len(documentIDs))).Result()
		if err != nil {
			return nil, err
		}
		first := last - int64(len(documentIDs)) + 1
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, docID := range documentIDs {
				pipe.ZAddNX(ctx, r.docsKey(id), redis.Z{Score: float64(first + int64(i)), Member: docID})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, id)
}

func (r *redisStore) DetachDocument(ctx context.Context, id string, documentID string) error {
	if err := r.touch(ctx, id); err != nil {
		return err
	}
	n, err := r.client.ZRem(ctx, r.docsKey(id), documentID).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrDocumentNotFound
	}
	return nil
}

func (r *redisStore) AppendMessages(ctx context.Context, id string, msgs ...model.ChatMessage) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, r.msgsKey(id), values...)
		}
		pipe.HSet(ctx, r.metaKey(id), "last_accessed", r.now().UnixMicro())
		r.expire(ctx, pipe, id)
		return nil
	})
	return err
}

func (r *redisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.metaKey(id), r.docsKey(id), r.msgsKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrSessionNotFound
	}
	return nil
}

func (r *redisStore) ReferencedDocuments(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, r.prefix+"*:docs", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasSuffix(key, ":docs") {
			continue
		}
		ids, err := r.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, docID := range ids {
			out[docID] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

func parseMicros(s string) time.Time {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}
