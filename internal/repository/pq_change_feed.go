package repository

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	listenerMinReconnect = 1 * time.Second
	listenerMaxReconnect = 1 * time.Minute
	listenerPingInterval = 90 * time.Second
)

// PQChangeFeed はlib/pqのListenerでNOTIFYを受信するChangeFeed。
// 通知のペイロードは変更のあったパス。再接続時は空文字列を送出する。
type PQChangeFeed struct {
	listener *pq.Listener
	events   chan string
	done     chan struct{}
	logger   *slog.Logger
}

// NewPQChangeFeed はdatabaseURLへ接続しchannelをLISTENする。
func NewPQChangeFeed(databaseURL, channel string, logger *slog.Logger) (*PQChangeFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	listener := pq.NewListener(databaseURL, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("変更通知リスナーのイベント",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("LISTEN %s に失敗しました: %w", channel, err)
	}

	f := &PQChangeFeed{
		listener: listener,
		events:   make(chan string, 64),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go f.run()
	return f, nil
}

// Events は変更のあったパスを受け取るチャネルを返す。
func (f *PQChangeFeed) Events() <-chan string {
	return f.events
}

// Close はリスナーを停止する。
func (f *PQChangeFeed) Close() error {
	select {
	case <-f.done:
		return nil
	default:
	}
	close(f.done)
	return f.listener.Close()
}

func (f *PQChangeFeed) run() {
	defer close(f.events)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			// nilは再接続を表す。再接続中の通知は失われているため全パスを読み直す
			path := ""
			if n != nil {
				path = n.Extra
			}
			f.emit(path)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("変更通知リスナーのPingに失敗しました", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

func (f *PQChangeFeed) emit(path string) {
	select {
	case f.events <- path:
	case <-f.done:
	}
}
