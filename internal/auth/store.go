package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sync"
	"time"

	"github.com/peterbourgon/diskv/v3"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNoSession is returned by a SessionStore holding nothing under the key.
var ErrNoSession = errors.New("auth: no session")

// SessionStore persists the raw session token between runs.
type SessionStore interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, token string, ttl time.Duration) error
	Erase(ctx context.Context, key string) error
}

// MemoryStore keeps sessions for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[key]
	if !ok {
		return "", ErrNoSession
	}
	return tok, nil
}

func (m *MemoryStore) Save(_ context.Context, key, token string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

func (m *MemoryStore) Erase(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DiskStore keeps one file per session key under a base directory.
// Expiry is carried by the token itself, so ttl is not stored.
type DiskStore struct {
	d *diskv.Diskv
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{d: diskv.New(diskv.Options{
		BasePath:  dir,
		Transform: func(string) []string { return []string{} },
		FilePerm:  0o600,
		PathPerm:  0o700,
	})}
}

func diskKey(key string) string {
	return "session-" + unsafeKeyChars.ReplaceAllString(key, "_")
}

func (s *DiskStore) Load(_ context.Context, key string) (string, error) {
	data, err := s.d.Read(diskKey(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("read session: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoSession
	}
	return string(data), nil
}

func (s *DiskStore) Save(_ context.Context, key, token string, _ time.Duration) error {
	if err := s.d.Write(diskKey(key), []byte(token)); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *DiskStore) Erase(_ context.Context, key string) error {
	if err := s.d.Erase(diskKey(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("erase session: %w", err)
	}
	return nil
}

// RedisStore keeps sessions as expiring string keys.
type RedisStore struct {
	client goredis.UniversalClient
}

func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(key string) string { return "marks:session:" + key }

func (s *RedisStore) Load(ctx context.Context, key string) (string, error) {
	tok, err := s.client.Get(ctx, redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", ErrNoSession
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) Save(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(key), token, ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Erase(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
