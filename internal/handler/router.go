package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	StateService StateServiceInterface
	SyncRunner   SyncRunner
	DB           DBPinger

	// サイト定義とフィード配信
	Sites   []config.SiteConfig
	FeedDir string

	// MetricsはGET /metricsに割り当てるハンドラー。nilの場合ルートを登録しない。
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	LoggingMiddleware → RecoveryMiddleware → SecurityHeadersMiddleware → CORSMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// ヘルスチェックとメトリクス（/healthz, /metrics）はレート制限の外に配置する。
// 同期トリガーとリセットには一般制限に加えて専用レート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェア
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.DB)
	siteHandler := NewSiteHandler(deps.StateService, deps.SyncRunner, deps.Sites)
	feedHandler := NewFeedHandler(deps.Sites, deps.FeedDir)

	// --- 運用エンドポイント（レート制限の外） ---

	r.Get("/healthz", healthHandler.Healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// サイト管理
		r.Route("/api/sites", func(r chi.Router) {
			r.Get("/", siteHandler.ListSites)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/stats", siteHandler.GetSiteStats)

				// 同期トリガーとリセットは高コストな実行を起動するため専用レート制限を追加
				r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/sync", siteHandler.TriggerSync)
				r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/reset", siteHandler.ResetSite)
			})
		})

		// フィード配信
		r.Get("/feeds/{name}.xml", feedHandler.ServeFeed)
	})

	return r
}
