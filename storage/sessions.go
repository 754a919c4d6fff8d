package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dashboard/session"
)

// ErrSessionNotFound is returned for unknown, expired or unreadable sessions.
var ErrSessionNotFound = errors.New("session not found")

const defaultSessionTTL = 8 * time.Hour

// SessionStore keeps signed-in sessions in Redis under an opaque id, so the
// bearer token never leaves the server.
type SessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSessionStore creates a store whose entries live for ttl unless the token
// expires sooner.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if client == nil {
		panic("storage.NewSessionStore: redis client is nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{redis: client, ttl: ttl}
}

// Create stores s under a fresh id and returns it with the id set.
func (st *SessionStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	if !s.Authenticated() {
		return session.Session{}, session.ErrUnauthenticated
	}
	s.ID = uuid.NewString()
	ttl := st.ttlFor(s, time.Now())
	if ttl <= 0 {
		return session.Session{}, fmt.Errorf("create session: %w", ErrSessionNotFound)
	}
	data, err := sonic.Marshal(s)
	if err != nil {
		return session.Session{}, err
	}
	if err := st.redis.Set(ctx, sessionKey(s.ID), data, ttl).Err(); err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Get loads the session with the given id.
func (st *SessionStore) Get(ctx context.Context, id string) (session.Session, error) {
	if id == "" {
		return session.Session{}, ErrSessionNotFound
	}
	data, err := st.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Session{}, ErrSessionNotFound
		}
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	var s session.Session
	if err := sonic.Unmarshal(data, &s); err != nil || !s.Authenticated() {
		_ = st.redis.Del(ctx, sessionKey(id)).Err()
		return session.Session{}, ErrSessionNotFound
	}
	if s.Expired(time.Now()) {
		_ = st.redis.Del(ctx, sessionKey(id)).Err()
		return session.Session{}, ErrSessionNotFound
	}
	s.ID = id
	return s, nil
}

// Touch extends the lifetime of an active session.
func (st *SessionStore) Touch(ctx context.Context, s session.Session) error {
	ttl := st.ttlFor(s, time.Now())
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	ok, err := st.redis.Expire(ctx, sessionKey(s.ID), ttl).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (st *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := st.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (st *SessionStore) Ping(ctx context.Context) error {
	return st.redis.Ping(ctx).Err()
}

func (st *SessionStore) ttlFor(s session.Session, now time.Time) time.Duration {
	ttl := st.ttl
	if !s.ExpiresAt.IsZero() {
		if left := s.ExpiresAt.Sub(now); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func sessionKey(id string) string {
	return "session:" + id
}
