package memory

import (
	"context"
	"sync"

	"dropwin/backend/internal/storage"
)

// BlobStore 使用内存保存数据，主要用于开发验证和测试。
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewBlobStore 创建一个内存存储实例。
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

// Get 返回值的副本
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put 保存值的副本
func (s *BlobStore) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.blobs[key] = stored
	s.mu.Unlock()
	return nil
}

func (s *BlobStore) Health(context.Context) error { return nil }

func (s *BlobStore) Close() error { return nil }
