// Package leaderboard は運動記録とカタログの変更を受けてランキングを再計算し、
// 不変のスナップショットとして配信する。
package leaderboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/notify"
	"github.com/hitoshi/fitbattle/internal/scoring"
	"github.com/hitoshi/fitbattle/internal/store"
)

// DefaultRecentLimit は最近の運動記録として表示する件数の既定値。
const DefaultRecentLimit = 6

// ActivitySource は運動記録の一覧を購読できるストア。
type ActivitySource interface {
	Subscribe(fn func([]model.Activity)) (unsubscribe func())
}

// CatalogSource は運動種別カタログを購読できるソース。
type CatalogSource interface {
	Subscribe(fn func([]model.ActivityType)) (unsubscribe func())
}

// MetricsRecorder は再計算のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordRecompute(duration time.Duration, activities int)
}

// Config はControllerの設定。
type Config struct {
	Members     []model.Member
	RecentLimit int
	Clock       func() time.Time
	Logger      *slog.Logger
	Metrics     MetricsRecorder
}

// Controller はストアとカタログの変更を1本のgoroutineで順に処理し、
// そのたびにランキングを全件から再計算する。
type Controller struct {
	activities ActivitySource
	catalog    CatalogSource
	cfg        Config

	// 購読コールバックから受け取った最新の入力
	inMu           sync.Mutex
	pendingActs    []model.Activity
	hasPendingActs bool
	pendingTypes   []model.ActivityType
	hasPendingType bool
	wake           chan struct{}

	// 再計算goroutineのみが更新する状態
	curActs  []model.Activity
	curTypes []model.ActivityType
	version  uint64

	broadcast *notify.Broadcaster[model.Snapshot]
}

type noopMetrics struct{}

func (noopMetrics) RecordRecompute(time.Duration, int) {}

// NewController はControllerを生成する。
// 生成時点でロスター全員が0点のスナップショット（version 0）を保持する。
func NewController(activities ActivitySource, catalog CatalogSource, cfg Config) *Controller {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	cfg.Members = append([]model.Member(nil), cfg.Members...)

	c := &Controller{
		activities: activities,
		catalog:    catalog,
		cfg:        cfg,
		wake:       make(chan struct{}, 1),
		curActs:    []model.Activity{},
		curTypes:   []model.ActivityType{},
		broadcast:  notify.New[model.Snapshot](),
	}
	c.broadcast.Publish(c.compute())
	return c
}

// Run はストアとカタログを購読し、ctxがキャンセルされるまで再計算を続ける。
func (c *Controller) Run(ctx context.Context) {
	unsubActs := c.activities.Subscribe(func(l []model.Activity) {
		c.inMu.Lock()
		c.pendingActs = l
		c.hasPendingActs = true
		c.inMu.Unlock()
		c.signal()
	})
	defer unsubActs()

	unsubTypes := c.catalog.Subscribe(func(l []model.ActivityType) {
		c.inMu.Lock()
		c.pendingTypes = l
		c.hasPendingType = true
		c.inMu.Unlock()
		c.signal()
	})
	defer unsubTypes()

	c.cfg.Logger.Info("ランキングの同期を開始しました", slog.Int("members", len(c.cfg.Members)))
	for {
		select {
		case <-ctx.Done():
			c.cfg.Logger.Info("ランキングの同期を停止しました")
			return
		case <-c.wake:
			c.drain()
		}
	}
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain は保留中の入力を取り込み、変化があれば再計算して配信する。
func (c *Controller) drain() {
	c.inMu.Lock()
	acts, hasActs := c.pendingActs, c.hasPendingActs
	types, hasTypes := c.pendingTypes, c.hasPendingType
	c.pendingActs, c.hasPendingActs = nil, false
	c.pendingTypes, c.hasPendingType = nil, false
	c.inMu.Unlock()

	if !hasActs && !hasTypes {
		return
	}
	if hasActs {
		c.curActs = acts
	}
	if hasTypes {
		c.curTypes = types
	}

	start := time.Now()
	snap := c.compute()
	c.cfg.Metrics.RecordRecompute(time.Since(start), snap.TotalActivities)
	c.broadcast.Publish(snap)

	c.cfg.Logger.Debug("ランキングを再計算しました",
		slog.Uint64("version", snap.Version),
		slog.Int("activities", snap.TotalActivities),
	)
}

// compute は現在の入力からスナップショットを組み立てる。
func (c *Controller) compute() model.Snapshot {
	snap := BuildSnapshot(c.cfg.Members, c.curActs, c.curTypes, c.cfg.RecentLimit)
	snap.Version = c.version
	snap.ComputedAt = c.cfg.Clock().UTC()
	c.version++
	return snap
}

// BuildSnapshot は入力一式からバージョンと算出時刻を除いたスナップショットを組み立てる。
// 一度だけ集計すればよいCLIなど、Controllerを介さない呼び出し元で使う。
func BuildSnapshot(members []model.Member, activities []model.Activity, types []model.ActivityType, recentLimit int) model.Snapshot {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return model.Snapshot{
		Rankings:         scoring.ComputeRankings(members, activities, scoring.TypeList(types)),
		RecentActivities: Recent(activities, recentLimit),
		TotalActivities:  len(activities),
	}
}

// Snapshot は最新のスナップショットを返す。
func (c *Controller) Snapshot() model.Snapshot {
	snap, _ := c.broadcast.Latest()
	return snap
}

// Subscribe は最新のスナップショットを配信し、以降は再計算のたびに配信する。
// 購読者の処理が追いつかない場合は最新のスナップショットのみが届く。
func (c *Controller) Subscribe(fn func(model.Snapshot)) func() {
	return c.broadcast.Subscribe(fn)
}

// Close は購読者への配信を停止する。
func (c *Controller) Close() {
	c.broadcast.Close()
}

// Recent は日時の新しい順にlimit件の記録を返す。元のスライスは変更しない。
func Recent(activities []model.Activity, limit int) []model.Activity {
	sorted := make([]model.Activity, len(activities))
	copy(sorted, activities)
	store.SortByDateDesc(sorted)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
