// Package publish はランキングのスナップショットと共有メッセージをKafkaへ送信する。
// 送信は任意機能で、ブローカーが設定されない場合は起動されない。
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/fitbattle/internal/leaderboard"
	"github.com/hitoshi/fitbattle/internal/model"
)

// イベント種別（event-typeヘッダ）
const (
	EventSnapshot = "leaderboard.snapshot"
	EventShare    = "leaderboard.share"
)

const (
	defaultMaxAttempts = 3
	initialBackoff     = 200 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// MessageWriter はトピックを指定してメッセージを書き込む。
type MessageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// SnapshotSource はスナップショットを購読できるソース。
type SnapshotSource interface {
	Subscribe(fn func(model.Snapshot)) (unsubscribe func())
}

// MetricsRecorder は送信結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordSnapshotPublished(success bool)
}

// Options はPublisherの設定。
type Options struct {
	SnapshotTopic string
	ShareTopic    string
	MaxAttempts   int
	Logger        *slog.Logger
	Metrics       MetricsRecorder
	// sleep はリトライ間隔の待機。テストで差し替える。
	sleep func(ctx context.Context, d time.Duration) error
}

type noopMetrics struct{}

func (noopMetrics) RecordSnapshotPublished(bool) {}

// Publisher はスナップショットをKafkaへ送信する。
// leaderboard.Sharerも実装し、共有メッセージを共有用トピックへ送る。
type Publisher struct {
	writer MessageWriter
	opts   Options
}

// NewPublisher はPublisherを生成する。
func NewPublisher(writer MessageWriter, opts Options) *Publisher {
	if opts.SnapshotTopic == "" {
		opts.SnapshotTopic = "fitbattle.snapshots"
	}
	if opts.ShareTopic == "" {
		opts.ShareTopic = "fitbattle.shares"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}
	return &Publisher{writer: writer, opts: opts}
}

// Start はsourceを購読し、ctxがキャンセルされるまでスナップショットを送信する。
// 購読コールバックは最新値のみを受け取るため、送信が遅れた間の中間スナップショットは省かれる。
func (p *Publisher) Start(ctx context.Context, source SnapshotSource) {
	p.opts.Logger.Info("スナップショット送信を開始しました",
		slog.String("topic", p.opts.SnapshotTopic),
	)
	unsubscribe := source.Subscribe(func(snap model.Snapshot) {
		// 起動直後の0点スナップショットは送らない
		if snap.Version == 0 {
			return
		}
		if err := p.PublishSnapshot(ctx, snap); err != nil && ctx.Err() == nil {
			p.opts.Logger.Error("スナップショットの送信に失敗しました",
				slog.Uint64("version", snap.Version),
				slog.String("error", err.Error()),
			)
		}
	})
	<-ctx.Done()
	unsubscribe()
	p.opts.Logger.Info("スナップショット送信を停止しました")
}

// PublishSnapshot はスナップショットをバージョンをキーとして送信する。
func (p *Publisher) PublishSnapshot(ctx context.Context, snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}
	msg := newMessage(strconv.FormatUint(snap.Version, 10), EventSnapshot, payload, snap.ComputedAt)

	err = p.write(ctx, p.opts.SnapshotTopic, msg)
	p.opts.Metrics.RecordSnapshotPublished(err == nil)
	if err != nil {
		return err
	}
	p.opts.Logger.Debug("スナップショットを送信しました",
		slog.Uint64("version", snap.Version),
		slog.Int("total_activities", snap.TotalActivities),
	)
	return nil
}

// Share は共有メッセージを共有用トピックへ送信する。
func (p *Publisher) Share(ctx context.Context, msg leaderboard.ShareMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("共有メッセージのエンコードに失敗しました: %w", err)
	}
	if err := p.write(ctx, p.opts.ShareTopic, newMessage(msg.Summary.TopName, EventShare, payload, time.Now())); err != nil {
		return model.NewBackendUnavailableError(err.Error())
	}
	return nil
}

// write は指数バックオフでリトライしながら書き込む。
func (p *Publisher) write(ctx context.Context, topic string, msg kafka.Message) error {
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.opts.sleep(ctx, Backoff(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = p.writer.WriteMessages(ctx, topic, msg)
		if lastErr == nil {
			return nil
		}
		p.opts.Logger.Warn("Kafkaへの書き込みに失敗しました",
			slog.String("topic", topic),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	return fmt.Errorf("Kafkaへの書き込みが%d回失敗しました (topic=%s): %w", p.opts.MaxAttempts, topic, lastErr)
}

// Backoff はリトライ回数に応じた待機時間を返す。初回200ms、2倍ずつ増加、最大5秒。
func Backoff(retries int) time.Duration {
	delay := initialBackoff
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func newMessage(key, eventType string, payload []byte, at time.Time) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  at.UTC(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
