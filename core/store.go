package core

import (
	"context"
	"strings"
	"sync"
)

// MemoryKeyValueStore is the process-local KeyValueStore used when no
// persistent backend is configured.
type MemoryKeyValueStore struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte
}

func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{entries: map[string]map[string][]byte{}}
}

func (s *MemoryKeyValueStore) Get(_ context.Context, namespace string, key string) ([]byte, error) {
	namespace, key = strings.TrimSpace(namespace), strings.TrimSpace(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[namespace][key]
	if !ok {
		return nil, NewNotFoundError(namespace, key)
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryKeyValueStore) Put(_ context.Context, namespace string, key string, value []byte) error {
	namespace, key = strings.TrimSpace(namespace), strings.TrimSpace(key)
	if namespace == "" || key == "" {
		return goerrorsBadInput("core: namespace and key are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]map[string][]byte{}
	}
	bucket, ok := s.entries[namespace]
	if !ok {
		bucket = map[string][]byte{}
		s.entries[namespace] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryKeyValueStore) Delete(_ context.Context, namespace string, key string) error {
	namespace, key = strings.TrimSpace(namespace), strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[namespace], key)
	return nil
}

func (s *MemoryKeyValueStore) Clear(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(namespace))
	return nil
}
