package repository

import (
	"sync"

	"github.com/hitoshi/fitbattle/internal/notify"
)

// watchHub はパスごとのウォッチャーを管理する。
// TreeStore実装間で共有する。
type watchHub struct {
	mu    sync.Mutex
	paths map[string]*notify.Broadcaster[TreeSnapshot]
}

func newWatchHub() *watchHub {
	return &watchHub{paths: make(map[string]*notify.Broadcaster[TreeSnapshot])}
}

// subscribe はfnをpathのウォッチャーとして登録する。
// createdはpathが初めてウォッチされた場合にtrueとなる。
func (h *watchHub) subscribe(path string, fn func(TreeSnapshot)) (cancel func(), created bool) {
	h.mu.Lock()
	b, ok := h.paths[path]
	if !ok {
		b = notify.New[TreeSnapshot]()
		h.paths[path] = b
	}
	h.mu.Unlock()
	return b.Subscribe(fn), !ok
}

// publish はpathのウォッチャーへスナップショットを配信する。
// ウォッチャーがいない場合は何もしない。
func (h *watchHub) publish(snap TreeSnapshot) {
	h.mu.Lock()
	b, ok := h.paths[snap.Path]
	h.mu.Unlock()
	if ok {
		b.Publish(snap)
	}
}

// watched はウォッチ中のパス一覧を返す。
func (h *watchHub) watched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	paths := make([]string, 0, len(h.paths))
	for p := range h.paths {
		paths = append(paths, p)
	}
	return paths
}

// hasSnapshot はpathに一度でもスナップショットが配信されたかを返す。
func (h *watchHub) hasSnapshot(path string) bool {
	h.mu.Lock()
	b, ok := h.paths[path]
	h.mu.Unlock()
	if !ok {
		return false
	}
	_, has := b.Latest()
	return has
}

func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p, b := range h.paths {
		b.Close()
		delete(h.paths, p)
	}
}
