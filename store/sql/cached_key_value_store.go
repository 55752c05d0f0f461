package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-collab/core"
)

const keyValueCacheKeyPrefix = "go-collab::kv::v1"

// CachedKeyValueStore serves reads through a go-repository-cache service and
// invalidates the cached entry on every write.
type CachedKeyValueStore struct {
	base  core.KeyValueStore
	cache repositorycache.CacheService

	mu sync.Mutex
	// cached records the keys read through this store per namespace so
	// Clear can invalidate them.
	cached map[string]map[string]struct{}
}

func NewCachedKeyValueStore(base core.KeyValueStore, cacheService repositorycache.CacheService) (*CachedKeyValueStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base key value store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: key value cache service is required")
	}
	return &CachedKeyValueStore{
		base:   base,
		cache:  cacheService,
		cached: map[string]map[string]struct{}{},
	}, nil
}

// KeyValueCacheKey is go-collab::kv::v1::<namespace>::<key> with each segment
// URL-path escaped.
func KeyValueCacheKey(namespace string, key string) (string, error) {
	namespace, key, err := normalizeEntryKey(namespace, key)
	if err != nil {
		return "", err
	}
	return cacheKey(keyValueCacheKeyPrefix, namespace, key), nil
}

// cacheKey joins prefix and the URL-path escaped segments with "::".
func cacheKey(prefix string, segments ...string) string {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, prefix)
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return strings.Join(parts, "::")
}

func (s *CachedKeyValueStore) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	cacheKey, err := KeyValueCacheKey(namespace, key)
	if err != nil {
		return nil, err
	}
	value, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]byte, error) {
		return s.base.Get(ctx, namespace, key)
	})
	if err != nil {
		return nil, err
	}
	s.track(namespace, cacheKey)
	return append([]byte(nil), value...), nil
}

func (s *CachedKeyValueStore) Put(ctx context.Context, namespace string, key string, value []byte) error {
	if err := s.base.Put(ctx, namespace, key, value); err != nil {
		return err
	}
	return s.invalidate(ctx, namespace, key)
}

func (s *CachedKeyValueStore) Delete(ctx context.Context, namespace string, key string) error {
	if err := s.base.Delete(ctx, namespace, key); err != nil {
		return err
	}
	return s.invalidate(ctx, namespace, key)
}

// Clear drops every cached entry of the namespace.
func (s *CachedKeyValueStore) Clear(ctx context.Context, namespace string) error {
	if err := s.base.Clear(ctx, namespace); err != nil {
		return err
	}
	namespace = strings.TrimSpace(namespace)
	s.mu.Lock()
	keys := s.cached[namespace]
	delete(s.cached, namespace)
	s.mu.Unlock()
	for cacheKey := range keys {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedKeyValueStore) track(namespace string, cacheKey string) {
	namespace = strings.TrimSpace(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.cached[namespace]
	if !ok {
		keys = map[string]struct{}{}
		s.cached[namespace] = keys
	}
	keys[cacheKey] = struct{}{}
}

func (s *CachedKeyValueStore) invalidate(ctx context.Context, namespace string, key string) error {
	cacheKey, err := KeyValueCacheKey(namespace, key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
