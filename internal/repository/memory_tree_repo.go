package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryTreeRepo はプロセス内メモリのTreeStore。
// 同一プロセス内の複数ストアを共有ツリーで接続するテストや、
// 単一プロセスでリアルタイムモードを試す場合に使用する。
type MemoryTreeRepo struct {
	mu    sync.Mutex
	nodes map[string]*memoryNode
	hub   *watchHub
}

type memoryNode struct {
	value    []byte
	children map[string][]byte
}

// NewMemoryTreeRepo はMemoryTreeRepoを生成する。
func NewMemoryTreeRepo() *MemoryTreeRepo {
	return &MemoryTreeRepo{
		nodes: make(map[string]*memoryNode),
		hub:   newWatchHub(),
	}
}

// Set はパスの値を置き換え、子ノードをすべて削除する。
func (r *MemoryTreeRepo) Set(_ context.Context, path string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[path] = &memoryNode{
		value:    append([]byte(nil), value...),
		children: make(map[string][]byte),
	}
	r.hub.publish(r.snapshotLocked(path))
	return nil
}

// Push はUUIDv7のキーで子ノードを追加する。
func (r *MemoryTreeRepo) Push(_ context.Context, path string, value []byte) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("キーの採番に失敗しました: %w", err)
	}
	key := id.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodeLocked(path)
	n.children[key] = append([]byte(nil), value...)
	r.hub.publish(r.snapshotLocked(path))
	return key, nil
}

// Remove は子ノードを削除する。存在しない場合は通知も行わない。
func (r *MemoryTreeRepo) Remove(_ context.Context, path, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[path]
	if !ok {
		return nil
	}
	if _, ok := n.children[key]; !ok {
		return nil
	}
	delete(n.children, key)
	r.hub.publish(r.snapshotLocked(path))
	return nil
}

// Snapshot はパスの現在の内容を返す。
func (r *MemoryTreeRepo) Snapshot(_ context.Context, path string) (TreeSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(path), nil
}

// Watch はパスの変更を購読する。現在の内容は即座に通知される。
func (r *MemoryTreeRepo) Watch(path string, fn func(TreeSnapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, created := r.hub.subscribe(path, fn)
	if created {
		r.hub.publish(r.snapshotLocked(path))
	}
	return cancel
}

// Close は全ウォッチャーを停止する。
func (r *MemoryTreeRepo) Close() error {
	r.hub.close()
	return nil
}

func (r *MemoryTreeRepo) nodeLocked(path string) *memoryNode {
	n, ok := r.nodes[path]
	if !ok {
		n = &memoryNode{children: make(map[string][]byte)}
		r.nodes[path] = n
	}
	return n
}

func (r *MemoryTreeRepo) snapshotLocked(path string) TreeSnapshot {
	snap := TreeSnapshot{Path: path, Children: []TreeChild{}}
	n, ok := r.nodes[path]
	if !ok {
		return snap
	}
	if n.value != nil {
		snap.Value = append([]byte(nil), n.value...)
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Children = append(snap.Children, TreeChild{Key: k, Value: append([]byte(nil), n.children[k]...)})
	}
	return snap
}
