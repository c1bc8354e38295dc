package repository

import (
	"context"
	"sync"
)

// MemoryKVRepo はプロセス内メモリのKVStore。
// STORAGE_BACKEND=memory およびテストで使用する。
type MemoryKVRepo struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKVRepo はMemoryKVRepoを生成する。
func NewMemoryKVRepo() *MemoryKVRepo {
	return &MemoryKVRepo{data: make(map[string][]byte)}
}

// Get はキーの値のコピーを返す。
func (r *MemoryKVRepo) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set はキーの値を上書きする。
func (r *MemoryKVRepo) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = append([]byte(nil), value...)
	return nil
}
