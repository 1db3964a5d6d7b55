package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionStore persists the "who is logged in" pointer behind a token.
// A session exists from login until logout or TTL expiry.
type SessionStore interface {
	Create(ctx context.Context, userID uint64, ttl time.Duration) (string, error)
	Resolve(ctx context.Context, sessionID string) (uint64, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionStore keeps sessions in Redis with TTL.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(addr, password string) *RedisSessionStore {
	return &RedisSessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: "medsconnect:session:",
	}
}

func (s *RedisSessionStore) Create(ctx context.Context, userID uint64, ttl time.Duration) (string, error) {
	sid := uuid.NewString()
	if err := s.client.Set(ctx, s.prefix+sid, strconv.FormatUint(userID, 10), ttl).Err(); err != nil {
		return "", err
	}
	return sid, nil
}

func (s *RedisSessionStore) Resolve(ctx context.Context, sessionID string) (uint64, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+sessionID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.prefix+sessionID).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

type memorySession struct {
	userID    uint64
	expiresAt time.Time
}

// MemorySessionStore is the single-process fallback when no Redis is configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]memorySession{}, now: time.Now}
}

func (s *MemorySessionStore) Create(_ context.Context, userID uint64, ttl time.Duration) (string, error) {
	sid := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sid] = memorySession{userID: userID, expiresAt: s.now().Add(ttl)}
	return sid, nil
}

func (s *MemorySessionStore) Resolve(_ context.Context, sessionID string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, false, nil
	}
	if !s.now().Before(sess.expiresAt) {
		delete(s.sessions, sessionID)
		return 0, false, nil
	}
	return sess.userID, true, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
