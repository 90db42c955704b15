package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrObjectNotFound is returned by Get for unknown keys.
var ErrObjectNotFound = errors.New("storage: object not found")

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory. URLs it signs are not
// reachable over HTTP.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[cleanKey] = memoryObject{data: cp, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	obj, ok := s.objects[cleanKey]
	s.mu.RUnlock()
	if !ok {
		return nil, "", ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (s *MemoryStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(ttl)
	return fmt.Sprintf("memory://%s?expires=%d", cleanKey, expires.Unix()), expires, nil
}

func (s *MemoryStore) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if cleanKey, err := sanitizeKey(key); err == nil {
			delete(s.objects, cleanKey)
		}
	}
	return nil
}

// Keys lists stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

var _ BlobStore = (*MemoryStore)(nil)
