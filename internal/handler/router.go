// Package handler はHTTP APIのルーティングとハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/fitbattle/internal/leaderboard"
	"github.com/hitoshi/fitbattle/internal/middleware"
	"github.com/hitoshi/fitbattle/internal/model"
)

// Pinger はストレージの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// ドメイン
	Store         ActivityStore
	Catalog       Catalog
	Leaderboard   Leaderboard
	Sharer        leaderboard.Sharer
	Members       []model.Member
	PhotoMaxBytes int64

	// 運用
	Health         Pinger       // nilの場合は常にok
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
	WebDir         string       // 空の場合はSPAを配信しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// 書き込み系のルートにはRateLimit(Write)を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", healthHandler(deps.Health))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	snapshotHandler := NewSnapshotHandler(deps.Leaderboard, deps.Sharer, deps.Members, logger)
	activityHandler := NewActivityHandler(deps.Store, deps.PhotoMaxBytes, logger)
	typeHandler := NewActivityTypeHandler(deps.Catalog, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(withNoCache)
		r.Use(rl.GeneralMiddleware())

		r.Get("/snapshot", snapshotHandler.GetSnapshot)
		r.Get("/snapshot/stream", snapshotHandler.Stream)
		r.Get("/members", snapshotHandler.ListMembers)

		r.Route("/share", func(r chi.Router) {
			r.Get("/", snapshotHandler.GetShare)
			r.With(rl.WriteMiddleware()).Post("/", snapshotHandler.PostShare)
		})

		r.Route("/activities", func(r chi.Router) {
			r.Get("/", activityHandler.ListActivities)
			r.With(rl.WriteMiddleware()).Post("/", activityHandler.CreateActivity)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", activityHandler.GetActivity)
				r.With(rl.WriteMiddleware()).Delete("/", activityHandler.DeleteActivity)
			})
		})

		r.Route("/activity-types", func(r chi.Router) {
			r.Get("/", typeHandler.ListActivityTypes)
			r.With(rl.WriteMiddleware()).Post("/", typeHandler.CreateActivityType)
		})
	})

	if deps.WebDir != "" {
		r.Handle("/*", spaFromDisk(deps.WebDir))
	}

	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
