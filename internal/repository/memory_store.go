package repository

import (
	"context"
	"strings"
	"sync"

	"guptaai/internal/model"
)

// MemoryStore 是基于内存 map 的 ConversationStore，用于 driver=memory 和测试。
// 存储的是序列化后的 JSON，与其他实现一样受大小上限约束。
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	limit int
}

// NewMemoryStore 创建一个新的 MemoryStore，limit <= 0 表示不限制大小。
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), limit: limit}
}

func (s *MemoryStore) Get(_ context.Context, key string) (model.Conversation, error) {
	s.mu.RLock()
	data, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return model.DecodeConversation(data)
}

func (s *MemoryStore) Set(_ context.Context, key string, conv model.Conversation) error {
	data, err := encodeConversation(conv, s.limit)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Has 判断 key 是否存在。
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Len 返回当前记录数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// PutRaw 直接写入原始字节，用于模拟损坏的数据。
func (s *MemoryStore) PutRaw(key string, data []byte) {
	s.mu.Lock()
	s.data[key] = append([]byte(nil), data...)
	s.mu.Unlock()
}

func (s *MemoryStore) RemovePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}
