package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/fitbattle/internal/config"
	"github.com/hitoshi/fitbattle/internal/database"
	"github.com/hitoshi/fitbattle/internal/handler"
	"github.com/hitoshi/fitbattle/internal/leaderboard"
	"github.com/hitoshi/fitbattle/internal/logger"
	"github.com/hitoshi/fitbattle/internal/metrics"
	"github.com/hitoshi/fitbattle/internal/middleware"
	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/worker/publish"
	"github.com/hitoshi/fitbattle/internal/worker/resync"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("backend", cfg.StorageBackend),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRankings:
		return runRankings(ctx, cfg, w)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. ストレージ
	// データベースに接続できなくても起動し、読み取りは空、書き込みは503で応答する
	b, err := openBackend(ctx, cfg, connectInBackground, log, collector)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer b.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.start(runCtx)

	// 3. ランキング
	board := leaderboard.NewController(b.store, b.catalog, leaderboard.Config{
		Members:     cfg.Members,
		RecentLimit: cfg.RecentLimit,
		Logger:      log,
		Metrics:     collector,
	})
	defer board.Close()
	go board.Run(runCtx)

	// 4. バックグラウンドワーカー
	if b.refresher != nil {
		go resync.NewScheduler(b.refresher, log, collector).Start(runCtx, cfg.ResyncInterval)
	}

	var sharer leaderboard.Sharer
	if cfg.KafkaEnabled() {
		producer := publish.NewKafkaProducer(cfg.KafkaBrokers)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Warn("Kafkaプロデューサーのクローズに失敗しました", slog.String("error", err.Error()))
			}
		}()
		pub := publish.NewPublisher(producer, publish.Options{
			SnapshotTopic: cfg.KafkaSnapshotTopic,
			ShareTopic:    cfg.KafkaShareTopic,
			Logger:        log,
			Metrics:       collector,
		})
		sharer = pub
		// リアルタイムモードではworkerがスナップショット送信を担う
		if !cfg.Realtime() {
			go pub.Start(runCtx, board)
		}
	}

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,

		Store:         b.store,
		Catalog:       b.catalog,
		Leaderboard:   board,
		Sharer:        sharer,
		Members:       cfg.Members,
		PhotoMaxBytes: cfg.PhotoMaxBytes,

		Health:         b.health,
		MetricsHandler: metrics.Handler(reg),
		WebDir:         cfg.WebDir,
	})

	// 6. HTTPサーバーの起動
	// SSEの接続を切らないようWriteTimeoutは設定しない。
	// リクエストのコンテキストはrunCtxから派生させ、Shutdown開始時にまとめてキャンセルする
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}
	server.RegisterOnShutdown(cancel)

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はHTTPを公開せずにスナップショットをKafkaへ送り続ける。
// 共有ツリーの変更通知を購読し、再同期ジョブも併せて実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if !cfg.Realtime() {
		return model.NewMalformedConfigurationError("STORAGE_BACKEND", "workerはpostgresバックエンドでのみ起動できます")
	}
	if !cfg.KafkaEnabled() {
		return model.NewMalformedConfigurationError("KAFKA_BROKERS", "workerにはKafkaの接続先が必要です")
	}
	log := slog.Default()

	b, err := openBackend(ctx, cfg, connectBeforeStart, log, nil)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer b.close()
	b.start(ctx)

	board := leaderboard.NewController(b.store, b.catalog, leaderboard.Config{
		Members:     cfg.Members,
		RecentLimit: cfg.RecentLimit,
		Logger:      log,
	})
	defer board.Close()
	go board.Run(ctx)

	go resync.NewScheduler(b.refresher, log, nil).Start(ctx, cfg.ResyncInterval)

	producer := publish.NewKafkaProducer(cfg.KafkaBrokers)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Warn("Kafkaプロデューサーのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}()
	pub := publish.NewPublisher(producer, publish.Options{
		SnapshotTopic: cfg.KafkaSnapshotTopic,
		ShareTopic:    cfg.KafkaShareTopic,
		Logger:        log,
	})

	log.Info("worker starting",
		slog.Duration("resync_interval", cfg.ResyncInterval),
		slog.Any("brokers", cfg.KafkaBrokers),
	)

	// ctxがキャンセルされるまでブロックする
	pub.Start(ctx, board)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// ローカルモードのストアは起動時にテーブルを作成するため対象外。
func runMigrate(cfg *config.Config) error {
	if !cfg.Realtime() {
		slog.Info("migrations are only required for the postgres backend",
			slog.String("backend", cfg.StorageBackend),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runRankings は現在の記録からスナップショットを1回だけ算出し、JSONでoutへ書き出す。
func runRankings(ctx context.Context, cfg *config.Config, out io.Writer) error {
	b, err := openBackend(ctx, cfg, connectBeforeStart, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer b.close()

	if err := waitReady(ctx, b.store, readyWaitTimeout); err != nil {
		return err
	}
	activities, err := b.store.List(ctx)
	if err != nil {
		return err
	}

	snap := leaderboard.BuildSnapshot(cfg.Members, activities, b.catalog.Get(), cfg.RecentLimit)
	snap.ComputedAt = time.Now().UTC()

	if err := json.NewEncoder(out).Encode(snap); err != nil {
		return fmt.Errorf("failed to write rankings: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
