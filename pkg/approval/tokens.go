package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenInvalid is returned for tokens that were never issued or have been
// invalidated by delegation or gate resolution.
var ErrTokenInvalid = errors.New("invalid or expired approval token")

// TokenStore tracks which approval tokens are currently valid. The approval
// row keeps the token for audit; the store is the authority on validity, so
// delegation can invalidate a token without rewriting history.
type TokenStore interface {
	Put(ctx context.Context, token, approvalID string) error
	Get(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokenStore returns an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]string)}
}

func (s *MemoryTokenStore) Put(_ context.Context, token, approvalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = approvalID

	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	approvalID, ok := s.tokens[token]
	if !ok {
		return "", ErrTokenInvalid
	}

	return approvalID, nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)

	return nil
}

// RedisTokenStore keeps tokens in Redis so every API replica sees the same
// valid-token set.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore returns a token store backed by the given Redis client.
// A zero TTL keeps tokens until explicitly deleted.
func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	return "tideflow:approval-token:" + token
}

func (s *RedisTokenStore) Put(ctx context.Context, token, approvalID string) error {
	err := s.client.Set(ctx, tokenKey(token), approvalID, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store approval token: %w", err)
	}

	return nil
}

func (s *RedisTokenStore) Get(ctx context.Context, token string) (string, error) {
	approvalID, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenInvalid
	}

	if err != nil {
		return "", fmt.Errorf("failed to look up approval token: %w", err)
	}

	return approvalID, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, token string) error {
	err := s.client.Del(ctx, tokenKey(token)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete approval token: %w", err)
	}

	return nil
}
