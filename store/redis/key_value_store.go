package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-collab/core"
)

const (
	DefaultKeyPrefix = "go-collab"
	defaultScanCount = 100
)

type Option func(*KeyValueStore)

// WithKeyPrefix sets the prefix every key is stored under.
func WithKeyPrefix(prefix string) Option {
	return func(s *KeyValueStore) {
		s.prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	}
}

// WithTTL expires entries after ttl. Zero keeps them until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(s *KeyValueStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// KeyValueStore keeps entries as plain redis strings under
// <prefix>:<namespace>:<key>. Namespaces must not contain ':' or Clear on a
// parent namespace reaches into the child.
type KeyValueStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewKeyValueStore(client redis.UniversalClient, opts ...Option) (*KeyValueStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &KeyValueStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *KeyValueStore) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	entryKey, err := s.entryKey(namespace, key)
	if err != nil {
		return nil, err
	}
	value, err := s.client.Get(ctx, entryKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.NewNotFoundError(strings.TrimSpace(namespace), strings.TrimSpace(key))
		}
		return nil, fmt.Errorf("redisstore: get %s: %w", entryKey, err)
	}
	return value, nil
}

func (s *KeyValueStore) Put(ctx context.Context, namespace string, key string, value []byte) error {
	entryKey, err := s.entryKey(namespace, key)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, entryKey, append([]byte(nil), value...), s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", entryKey, err)
	}
	return nil
}

func (s *KeyValueStore) Delete(ctx context.Context, namespace string, key string) error {
	entryKey, err := s.entryKey(namespace, key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, entryKey).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", entryKey, err)
	}
	return nil
}

// Clear walks the namespace with SCAN and deletes what it finds. Keys
// written concurrently may survive.
func (s *KeyValueStore) Clear(ctx context.Context, namespace string) error {
	pattern, err := s.namespacePattern(namespace)
	if err != nil {
		return err
	}
	iter := s.client.Scan(ctx, 0, pattern, defaultScanCount).Iterator()
	batch := make([]string, 0, defaultScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) < defaultScanCount {
			continue
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redisstore: clear %s: %w", namespace, err)
		}
		batch = batch[:0]
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisstore: scan %s: %w", namespace, err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redisstore: clear %s: %w", namespace, err)
		}
	}
	return nil
}

func (s *KeyValueStore) entryKey(namespace string, key string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("redisstore: key value store is not configured")
	}
	namespace, key = strings.TrimSpace(namespace), strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return "", core.NewBadInputError("redisstore: namespace and key are required")
	}
	return s.join(namespace, key), nil
}

func (s *KeyValueStore) namespacePattern(namespace string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("redisstore: key value store is not configured")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return "", core.NewBadInputError("redisstore: namespace is required")
	}
	return s.join(escapeGlob(namespace), "*"), nil
}

func (s *KeyValueStore) join(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

// escapeGlob keeps SCAN MATCH from treating namespace characters as a
// pattern.
func escapeGlob(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(value)
}
