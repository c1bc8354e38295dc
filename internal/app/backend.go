package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fitbattle/internal/catalog"
	"github.com/hitoshi/fitbattle/internal/config"
	"github.com/hitoshi/fitbattle/internal/database"
	"github.com/hitoshi/fitbattle/internal/handler"
	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/repository"
	"github.com/hitoshi/fitbattle/internal/security"
	"github.com/hitoshi/fitbattle/internal/store"
	"github.com/hitoshi/fitbattle/internal/worker/resync"
)

const (
	dbPingTimeout        = 5 * time.Second
	connectRetryInterval = 5 * time.Second
	readyPollPeriod      = 50 * time.Millisecond
	readyWaitTimeout     = 15 * time.Second
)

// activityStore はバックエンドごとのストア実装が満たすインターフェース。
type activityStore interface {
	store.ActivityStore
	Close()
}

// backend はSTORAGE_BACKENDに応じて組み立てたストレージ一式。
type backend struct {
	name    string
	store   activityStore
	catalog *catalog.Catalog
	health  handler.Pinger

	// リアルタイムモードのみ設定される
	refresher resync.Refresher

	background []func(ctx context.Context)
	closers    []func()
}

// connectMode はリアルタイムモードで接続をいつ確立するか。
type connectMode int

const (
	// connectBeforeStart は接続できるまで起動しない（worker、rankings）。
	connectBeforeStart connectMode = iota
	// connectInBackground は接続できなくても起動し、裏で再試行する（serve）。
	connectInBackground
)

// openBackend は設定に応じてストアとカタログを開く。
// ローカルモードでは初回読み込みまで済ませる。
func openBackend(ctx context.Context, cfg *config.Config, mode connectMode, logger *slog.Logger, recorder store.MetricsRecorder) (*backend, error) {
	sanitizer := security.NewTextSanitizer()
	opts := store.Options{
		PhotoMaxBytes: cfg.PhotoMaxBytes,
		Sanitizer:     sanitizer,
		Logger:        logger,
		Metrics:       recorder,
	}

	switch cfg.StorageBackend {
	case config.BackendMemory:
		return openLocal(ctx, config.BackendMemory, repository.NewMemoryKVRepo(), nil, opts, sanitizer, logger)
	case config.BackendSQLite:
		kv, err := repository.OpenSQLiteKV(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, model.NewBackendUnavailableError(err.Error())
		}
		b, err := openLocal(ctx, config.BackendSQLite, kv, kv, opts, sanitizer, logger)
		if err != nil {
			kv.Close()
			return nil, err
		}
		b.closers = append([]func(){func() { kv.Close() }}, b.closers...)
		return b, nil
	case config.BackendPostgres:
		return openRealtime(ctx, cfg, mode, opts, sanitizer, logger)
	default:
		return nil, model.NewMalformedConfigurationError("STORAGE_BACKEND",
			fmt.Sprintf("未対応のストレージバックエンドです: %s", cfg.StorageBackend))
	}
}

func openLocal(
	ctx context.Context,
	name string,
	kv repository.KVStore,
	health handler.Pinger,
	opts store.Options,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) (*backend, error) {
	s := store.NewLocalStore(kv, opts)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	cat := catalog.New(catalog.NewKVRepository(kv), sanitizer, logger)
	if err := cat.SeedIfEmpty(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return &backend{
		name:    name,
		store:   s,
		catalog: cat,
		health:  health,
		closers: []func(){s.Close, cat.Close},
	}, nil
}

// openRealtime はPostgreSQLの共有ツリー上にストアとカタログを組み立てる。
// スキーマはmigrateサブコマンドで事前に適用しておくこと。
//
// connectBeforeStartでは接続できるまで戻らず、失敗すればエラーを返す。
// connectInBackgroundでは接続できなくても起動し、読み取りは空、書き込みは
// BackendUnavailableErrorとなる状態で、バックグラウンドで接続を再試行する。
func openRealtime(
	ctx context.Context,
	cfg *config.Config,
	mode connectMode,
	opts store.Options,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) (*backend, error) {
	if cfg.DatabaseURL == "" {
		const reason = "DATABASE_URLが設定されていません"
		if mode == connectBeforeStart {
			return nil, model.NewBackendUnavailableError(reason)
		}
		logger.Warn("共有ツリーに接続できない状態で起動します", slog.String("reason", reason))
		return openUnavailable(reason, opts, sanitizer, logger), nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, model.NewBackendUnavailableError(err.Error())
	}

	tree := repository.NewPostgresTreeRepo(db, logger)
	s := store.NewRealtimeStore(tree, opts)
	s.Start()
	cat := catalog.New(catalog.NewTreeRepository(tree, logger), sanitizer, logger)
	cat.Start()

	link := &realtimeLink{
		databaseURL: cfg.DatabaseURL,
		db:          db,
		tree:        tree,
		catalog:     cat,
		logger:      logger,
	}
	b := &backend{
		name:       config.BackendPostgres,
		store:      s,
		catalog:    cat,
		health:     tree,
		refresher:  tree,
		background: []func(ctx context.Context){link.run},
		closers: []func(){
			func() { db.Close() },
			link.close,
			func() { tree.Close() },
			s.Close,
			cat.Close,
		},
	}

	if mode == connectBeforeStart {
		if err := link.connect(ctx); err != nil {
			b.close()
			return nil, err
		}
	}
	return b, nil
}

// openUnavailable は接続先のない共有ツリーの上にストアを組み立てる。
// ストアはLoadingのまま、カタログは空のまま残る。
func openUnavailable(reason string, opts store.Options, sanitizer security.TextSanitizer, logger *slog.Logger) *backend {
	tree := repository.NewUnavailableTreeRepo(reason)
	s := store.NewRealtimeStore(tree, opts)
	s.Start()
	cat := catalog.New(catalog.NewTreeRepository(tree, logger), sanitizer, logger)
	return &backend{
		name:    config.BackendPostgres,
		store:   s,
		catalog: cat,
		health:  tree,
		closers: []func(){s.Close, cat.Close},
	}
}

// realtimeLink はPostgreSQLへの接続確立と変更通知の購読を担う。
type realtimeLink struct {
	databaseURL string
	db          *sql.DB
	tree        *repository.PostgresTreeRepo
	catalog     *catalog.Catalog
	logger      *slog.Logger

	mu     sync.Mutex
	feed   *repository.PQChangeFeed
	closed bool
}

// connect は疎通を確認し、LISTENの開始とカタログの初期化、全パスの読み直しを行う。
func (l *realtimeLink) connect(ctx context.Context) error {
	if l.connected() {
		return nil
	}

	if err := database.Ping(ctx, l.db, dbPingTimeout); err != nil {
		return model.NewBackendUnavailableError(err.Error())
	}

	feed, err := repository.NewPQChangeFeed(l.databaseURL, repository.TreeChangeChannel, l.logger)
	if err != nil {
		return model.NewBackendUnavailableError(err.Error())
	}
	if err := l.catalog.SeedIfEmpty(ctx); err != nil {
		feed.Close()
		return err
	}
	if err := l.tree.RefreshAll(ctx); err != nil {
		feed.Close()
		return model.NewBackendUnavailableError(err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		feed.Close()
		return model.NewBackendUnavailableError("接続の確立中に停止しました")
	}
	l.feed = feed
	l.logger.Info("データベースに接続しました", slog.String("database_url", maskDatabaseURL(l.databaseURL)))
	return nil
}

// run は接続できるまで再試行し、その後は変更通知を購読し続ける。
func (l *realtimeLink) run(ctx context.Context) {
	ticker := time.NewTicker(connectRetryInterval)
	defer ticker.Stop()
	for {
		err := l.connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("データベースに接続できません。再試行します",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", connectRetryInterval),
		)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	l.mu.Lock()
	feed := l.feed
	l.mu.Unlock()
	if feed != nil {
		l.tree.Listen(ctx, feed)
	}
}

func (l *realtimeLink) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feed != nil
}

func (l *realtimeLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.feed != nil {
		l.feed.Close()
	}
}

// start はバックグラウンド処理を起動する。
func (b *backend) start(ctx context.Context) {
	for _, fn := range b.background {
		go fn(ctx)
	}
}

// close は開いた順と逆順に資源を解放する。
func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// waitReady はストアが初回スナップショットを確定させるまで待つ。
func waitReady(ctx context.Context, s store.ActivityStore, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollPeriod)
	defer ticker.Stop()
	for s.State() != store.StateReady {
		select {
		case <-ctx.Done():
			return model.NewBackendUnavailableError("記録の初回読み込みが完了しませんでした")
		case <-ticker.C:
		}
	}
	return nil
}
