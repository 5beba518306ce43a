package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	updated     time.Time
}

// MemoryStore is an in-process object store. It backs local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	buckets  map[string]map[string]memoryObject
	putErr   error
	listErr  error
	putCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]memoryObject)}
}

// Factory returns a connector factory bound to this store.
func (s *MemoryStore) Factory() Factory {
	return func(_ context.Context, bucket string) (Connector, error) {
		return &MemoryConnector{store: s, bucket: bucket}, nil
	}
}

// FailWrites makes every subsequent Put return err. A nil err clears it.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailLists makes every subsequent List return err. A nil err clears it.
func (s *MemoryStore) FailLists(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Seed stores data directly, bypassing write failures.
func (s *MemoryStore) Seed(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(bucket, key, data, "application/octet-stream")
}

// Object returns the stored bytes for bucket/key.
func (s *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	return obj.data, ok
}

// Keys returns every key in bucket in lexical order.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutCalls counts Put attempts, failed ones included.
func (s *MemoryStore) PutCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.putCalls
}

func (s *MemoryStore) store(bucket, key string, data []byte, contentType string) {
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]memoryObject)
		s.buckets[bucket] = objects
	}
	objects[key] = memoryObject{data: data, contentType: contentType, updated: time.Now()}
}

// MemoryConnector is the Connector for one bucket of a MemoryStore.
type MemoryConnector struct {
	store  *MemoryStore
	bucket string
}

func (c *MemoryConnector) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read upload body: %w", err)
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.putCalls++
	if c.store.putErr != nil {
		return c.store.putErr
	}
	c.store.store(c.bucket, key, data, contentType)
	return nil
}

func (c *MemoryConnector) Get(_ context.Context, key string) ([]byte, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	obj, ok := c.store.buckets[c.bucket][key]
	if !ok {
		return nil, fmt.Errorf("gs://%s/%s: %w", c.bucket, key, ErrNotFound)
	}
	return bytes.Clone(obj.data), nil
}

func (c *MemoryConnector) Head(_ context.Context, key string) (*ObjectAttrs, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	obj, ok := c.store.buckets[c.bucket][key]
	if !ok {
		return nil, fmt.Errorf("gs://%s/%s: %w", c.bucket, key, ErrNotFound)
	}
	return &ObjectAttrs{
		Bucket:      c.bucket,
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		Updated:     obj.updated,
	}, nil
}

func (c *MemoryConnector) List(_ context.Context, prefix string) ([]string, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if c.store.listErr != nil {
		return nil, c.store.listErr
	}
	var keys []string
	for k := range c.store.buckets[c.bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *MemoryConnector) CopyTo(_ context.Context, key, dstBucket, dstKey string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	obj, ok := c.store.buckets[c.bucket][key]
	if !ok {
		return fmt.Errorf("gs://%s/%s: %w", c.bucket, key, ErrNotFound)
	}
	if c.store.putErr != nil {
		return c.store.putErr
	}
	c.store.store(dstBucket, dstKey, bytes.Clone(obj.data), obj.contentType)
	return nil
}
