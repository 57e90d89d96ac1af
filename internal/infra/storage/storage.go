package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("storage key not found")
	ErrClosed   = errors.New("storage is closed")
)

// Storage 購物車的 key/value 持久層
// 值一律為序列化好的 JSON，實作不解析內容
type Storage interface {
	// Get key 不存在回傳 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete key 不存在不視為錯誤
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// ScopedStorage 以 namespace 前綴隔離不同訪客的資料
// Close 不會關閉底層 Storage
type ScopedStorage struct {
	base      Storage
	namespace string
}

func NewScopedStorage(base Storage, namespace string) *ScopedStorage {
	return &ScopedStorage{base: base, namespace: namespace}
}

var _ Storage = (*ScopedStorage)(nil)

// GuestNamespace guest:<guest-id>
func GuestNamespace(guestID string) string {
	return "guest:" + guestID
}

func (s *ScopedStorage) key(key string) string {
	var builder strings.Builder
	builder.Grow(len(s.namespace) + 1 + len(key))
	builder.WriteString(s.namespace)
	builder.WriteString(":")
	builder.WriteString(key)
	return builder.String()
}

func (s *ScopedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return s.base.Get(ctx, s.key(key))
}

func (s *ScopedStorage) Set(ctx context.Context, key string, value []byte) error {
	return s.base.Set(ctx, s.key(key), value)
}

func (s *ScopedStorage) Delete(ctx context.Context, key string) error {
	return s.base.Delete(ctx, s.key(key))
}

func (s *ScopedStorage) Ping(ctx context.Context) error {
	return s.base.Ping(ctx)
}

func (s *ScopedStorage) Close() error {
	return nil
}
