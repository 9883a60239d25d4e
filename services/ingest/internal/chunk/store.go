// Package chunk 管理录音分块的存储与按序重组
package chunk

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound 分块不存在
var ErrNotFound = errors.New("chunk not found")

// Store 以 (jobId, index) 为 key 保存 base64 编码的分块
type Store interface {
	Get(ctx context.Context, jobID string, index int) (string, error)
	Put(ctx context.Context, jobID string, index int, data string) error
	// Delete 对不存在的分块也返回 nil
	Delete(ctx context.Context, jobID string, index int) error
}

// Key 分块的存储 key：{jobId}/{index}
func Key(jobID string, index int) string {
	return fmt.Sprintf("%s/%d", jobID, index)
}

// MemoryStore 进程内存储，用于本地开发和测试
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, jobID string, index int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.chunks[Key(jobID, index)]
	if !ok {
		return "", ErrNotFound
	}
	return data, nil
}

func (s *MemoryStore) Put(_ context.Context, jobID string, index int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[Key(jobID, index)] = data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, Key(jobID, index))
	return nil
}

// Len 当前保存的分块数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
