package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// ErrSessionNotFound is returned by a SessionStore for unknown tokens.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions by token.
type SessionStore interface {
	Put(ctx context.Context, sess *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
	// SetActive records token as the user's current session and returns the
	// token it replaced, if any.
	SetActive(ctx context.Context, userID, token string) (string, error)
	// DeleteExpired removes sessions whose expiry is at or before cutoff.
	// Revoked sessions go only once they have expired too.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	active   map[string]string
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.Session),
		active:   make(map[string]string),
	}
}

func (m *MemorySessionStore) Put(_ context.Context, sess *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.Token] = *sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, token string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (m *MemorySessionStore) SetActive(_ context.Context, userID, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active[userID]
	m.active[userID] = token
	return prev, nil
}

func (m *MemorySessionStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, sess := range m.sessions {
		if sess.Expired(cutoff) {
			delete(m.sessions, token)
			if m.active[sess.UserID] == token {
				delete(m.active, sess.UserID)
			}
			n++
		}
	}
	return n, nil
}

func (m *MemorySessionStore) Close() error { return nil }

// RedisSessionStore keeps sessions in Redis so that several servers can
// validate each other's tokens. Each session is a JSON string key with a
// TTL past its expiry; a sorted set indexed by expiry drives DeleteExpired.
type RedisSessionStore struct {
	rdb    *redis.Client
	prefix string
	// linger is how long a session key outlives its expiry. It must cover
	// the gate's retention or Redis drops keys before the sweep does.
	linger time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore wraps rdb. Keys are namespaced by prefix.
func NewRedisSessionStore(rdb *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "tracegate:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisSessionStore{rdb: rdb, prefix: prefix, linger: DefaultRetention + time.Hour}
}

// DialRedis connects to the Redis server at url (redis://...) and checks it
// answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *RedisSessionStore) sessionKey(token string) string { return r.prefix + "session:" + token }
func (r *RedisSessionStore) activeKey(userID string) string { return r.prefix + "active:" + userID }
func (r *RedisSessionStore) expiryKey() string              { return r.prefix + "sessions:expiry" }

func (r *RedisSessionStore) Put(ctx context.Context, sess *model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt) + r.linger
	if ttl <= 0 {
		ttl = time.Second
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.sessionKey(sess.Token), raw, ttl)
	pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt.Unix()), Member: sess.Token})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisSessionStore) Get(ctx context.Context, token string) (*model.Session, error) {
	raw, err := r.rdb.Get(ctx, r.sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisSessionStore) SetActive(ctx context.Context, userID, token string) (string, error) {
	prev, err := r.rdb.GetSet(ctx, r.activeKey(userID), token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return prev, nil
}

func (r *RedisSessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tokens, err := r.rdb.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, token := range tokens {
		sess, err := r.Get(ctx, token)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return n, err
		}
		if sess != nil && !sess.Expired(cutoff) {
			// Expires later within the same second.
			continue
		}
		pipe := r.rdb.TxPipeline()
		pipe.Del(ctx, r.sessionKey(token))
		pipe.ZRem(ctx, r.expiryKey(), token)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *RedisSessionStore) Close() error {
	return r.rdb.Close()
}
