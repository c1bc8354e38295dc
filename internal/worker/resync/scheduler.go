// Package resync はリアルタイムモードの共有ツリーを定期的に読み直す。
// LISTEN/NOTIFYの取りこぼしがあっても、最長で1間隔後には全クライアントが収束する。
package resync

import (
	"context"
	"log/slog"
	"time"
)

// Refresher はウォッチ中の全パスを読み直すストア。
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// MetricsRecorder は再読み込み結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordResync(success bool)
}

// DefaultInterval は不正な間隔が渡されたときに使う再読み込み間隔。
const DefaultInterval = time.Minute

type noopMetrics struct{}

func (noopMetrics) RecordResync(bool) {}

// Scheduler は一定間隔でRefresherを呼び出す。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
	metrics   MetricsRecorder
	timeout   time.Duration
}

// NewScheduler はSchedulerを生成する。metricsはnilでもよい。
func NewScheduler(refresher Refresher, logger *slog.Logger, metrics MetricsRecorder) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Scheduler{
		refresher: refresher,
		logger:    logger,
		metrics:   metrics,
		timeout:   30 * time.Second,
	}
}

// Start はintervalごとに再読み込みを行う。
// コンテキストがキャンセルされるまで実行を継続する。
// intervalが0以下の場合はDefaultIntervalを使う。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("再同期間隔が不正なため既定値を使います",
			slog.Duration("interval", interval),
			slog.Duration("default", DefaultInterval),
		)
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("再同期スケジューラを開始しました", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("再同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("再同期に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は1回だけ再読み込みを行う。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.refresher.RefreshAll(ctx)
	s.metrics.RecordResync(err == nil)
	if err != nil {
		return err
	}

	s.logger.Debug("再同期が完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
