// Package notify は購読者ごとに最新値のみを保持する非ブロッキングな配信を提供する。
//
// Publishは購読者のコールバック完了を待たない。購読者の処理が追いつかない場合、
// 未配信の値は最新値で上書きされる（コアレス）。
package notify

import "sync"

// Broadcaster は値Tを購読者へ配信する。
// 最後にPublishされた値を保持し、新規購読者には即座にその値を届ける。
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[uint64]*subscriber[T]
	nextID    uint64
	latest    T
	hasLatest bool
	closed    bool
}

type subscriber[T any] struct {
	fn      func(T)
	mu      sync.Mutex
	pending T
	has     bool
	wake    chan struct{}
	done    chan struct{}
}

// New はBroadcasterを生成する。
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe はfnを購読者として登録し、購読解除関数を返す。
// すでに値がPublishされていれば、その値がまず配信される。
// fnは購読者専用のgoroutineから逐次呼ばれる。
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	s := &subscriber[T]{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	if b.hasLatest {
		s.offer(b.latest)
	}
	b.mu.Unlock()

	go s.loop()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Close済みの場合はdoneも閉じられている
			if _, ok := b.subs[id]; !ok {
				return
			}
			delete(b.subs, id)
			close(s.done)
		})
	}
}

// Publish は値を全購読者へ配信する。購読者の処理完了は待たない。
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = v
	b.hasLatest = true
	for _, s := range b.subs {
		s.offer(v)
	}
}

// Latest は最後にPublishされた値を返す。未Publishの場合はfalseを返す。
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Len は現在の購読者数を返す。
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close は全購読者を停止する。以降のPublishは無視される。
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.done)
		delete(b.subs, id)
	}
}

func (s *subscriber[T]) offer(v T) {
	s.mu.Lock()
	s.pending = v
	s.has = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		v, ok := s.pending, s.has
		var zero T
		s.pending = zero
		s.has = false
		s.mu.Unlock()

		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(v)
	}
}
