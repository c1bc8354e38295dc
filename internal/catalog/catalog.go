// Package catalog は運動種別とスコア倍率のカタログを管理する。
package catalog

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/notify"
	"github.com/hitoshi/fitbattle/internal/scoring"
	"github.com/hitoshi/fitbattle/internal/security"
)

// Catalog は運動種別の一覧を保持し、変更を購読者へ配信する。
// scoring.Catalogを満たす。
type Catalog struct {
	repo      Repository
	sanitizer security.TextSanitizer
	logger    *slog.Logger

	mu          sync.Mutex
	types       []model.ActivityType
	cancelWatch func()
	broadcast   *notify.Broadcaster[[]model.ActivityType]
}

// New はCatalogを生成する。sanitizerとloggerはnilの場合に既定値を使う。
func New(repo Repository, sanitizer security.TextSanitizer, logger *slog.Logger) *Catalog {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		repo:      repo,
		sanitizer: sanitizer,
		logger:    logger,
		types:     []model.ActivityType{},
		broadcast: notify.New[[]model.ActivityType](),
	}
}

// SeedIfEmpty は保存済みのカタログがなければ既定の種別を書き込み、手元の一覧を確定させる。
// 何度呼んでも結果は同じ。共有ツリーでの同時初期化は後勝ちになる。
func (c *Catalog) SeedIfEmpty(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	types, ok, err := c.repo.Load(ctx)
	if err != nil {
		return err
	}
	if !ok || len(types) == 0 {
		types = model.DefaultActivityTypes()
		if err := c.repo.Save(ctx, types); err != nil {
			return err
		}
		c.logger.Info("既定の運動種別を登録しました", slog.Int("count", len(types)))
	}

	c.setLocked(types)
	return nil
}

// Start はリポジトリが変更通知に対応していれば購読を開始する。
func (c *Catalog) Start() {
	w, ok := c.repo.(Watcher)
	if !ok {
		return
	}
	c.mu.Lock()
	if c.cancelWatch != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	cancel := w.Watch(func(types []model.ActivityType) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.setLocked(types)
	})

	c.mu.Lock()
	c.cancelWatch = cancel
	c.mu.Unlock()
}

// Get は登録順の種別一覧のコピーを返す。
func (c *Catalog) Get() []model.ActivityType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTypes(c.types)
}

// Lookup は名前が完全一致する最初の種別を返す。
func (c *Catalog) Lookup(name string) (model.ActivityType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return scoring.TypeList(c.types).Lookup(name)
}

// Add は種別を末尾に追加して保存する。名前は前後の空白を除いて保存する。
// 同名の種別がすでにあっても追加する（Lookupは先頭を優先する）。
func (c *Catalog) Add(ctx context.Context, name string, multiplier float64) (model.ActivityType, error) {
	clean, altered := security.Clean(c.sanitizer, name)
	if altered {
		return model.ActivityType{}, model.NewValidationError("name", "HTMLタグは使用できません")
	}
	if clean == "" {
		return model.ActivityType{}, model.NewValidationError("name", "必須です")
	}
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 {
		return model.ActivityType{}, model.NewValidationError("multiplier", "0より大きい有限な数値を指定してください")
	}
	t := model.ActivityType{Name: clean, Multiplier: multiplier}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]model.ActivityType, len(c.types), len(c.types)+1)
	copy(next, c.types)
	next = append(next, t)
	if err := c.repo.Save(ctx, next); err != nil {
		c.logger.Error("運動種別の保存に失敗しました", slog.String("error", err.Error()))
		return model.ActivityType{}, err
	}

	c.setLocked(next)
	return t, nil
}

// Subscribe は現在の一覧を配信し、以降は変更のたびに配信する。
func (c *Catalog) Subscribe(fn func([]model.ActivityType)) func() {
	return c.broadcast.Subscribe(fn)
}

// Close は変更通知の購読と配信を停止する。
func (c *Catalog) Close() {
	c.mu.Lock()
	cancel := c.cancelWatch
	c.cancelWatch = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.broadcast.Close()
}

func (c *Catalog) setLocked(types []model.ActivityType) {
	c.types = cloneTypes(types)
	c.broadcast.Publish(cloneTypes(types))
}

func cloneTypes(src []model.ActivityType) []model.ActivityType {
	out := make([]model.ActivityType, len(src))
	copy(out, src)
	return out
}
