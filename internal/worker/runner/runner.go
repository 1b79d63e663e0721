// Package runner はサイト同期のバックグラウンド実行を提供する。
// サイトごとの直列化と全体の並列上限を管理し、cronスケジューラと
// APIトリガーの両方から使われる。
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/metrics"
	"github.com/hitoshi/sitewatch/internal/model"
)

const (
	defaultMaxConcurrent = 3
	defaultRunTimeout    = 15 * time.Minute
)

// SyncPipeline は1サイト分の同期処理の実行インターフェース。
type SyncPipeline interface {
	// Run はサイト1件の同期を実行する。
	Run(ctx context.Context, site config.SiteConfig) (*SyncOutcome, error)
	// Baseline はサイトマップの現在のURL集合を処理済みとして登録する。
	Baseline(ctx context.Context, site config.SiteConfig) (int, error)
}

// Runner はサイト同期の実行を管理する。
// 同じサイトの同期は同時に1つだけ実行され、二重トリガーはSYNC_RUNNING
// エラーで拒否される。サイトをまたぐ同時実行数はsemaphoreで制限される。
type Runner struct {
	sites    []config.SiteConfig
	pipeline SyncPipeline
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	timeout  time.Duration

	sem chan struct{}

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner はRunnerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値3を使用する。collectorはnil許容。
func NewRunner(
	sites []config.SiteConfig,
	pipeline SyncPipeline,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	maxConcurrency int,
) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrent
	}
	return &Runner{
		sites:    sites,
		pipeline: pipeline,
		logger:   logger,
		metrics:  collector,
		timeout:  defaultRunTimeout,
		sem:      make(chan struct{}, maxConcurrency),
		running:  make(map[string]bool),
	}
}

// RunSync はサイト1件の同期を実行し、完了までブロックする。
// 未登録のサイトはSITE_NOT_FOUND、実行中のサイトはSYNC_RUNNINGエラーを返す。
func (r *Runner) RunSync(ctx context.Context, siteName string) (*SyncOutcome, error) {
	site, ok := r.findSite(siteName)
	if !ok {
		return nil, model.NewSiteNotFoundError(siteName)
	}
	if err := r.acquire(siteName); err != nil {
		return nil, err
	}
	defer r.release(siteName)

	return r.run(ctx, site, uuid.New().String())
}

// RunSyncAsync は同期をバックグラウンドで開始し、実行IDを即座に返す。
// サイトの存在確認と二重実行の拒否は呼び出し時点で同期的に行う。
// 開始した実行は呼び出し元のコンテキストから切り離され、タイムアウト付きの
// 独立したコンテキストで完了まで進む。
func (r *Runner) RunSyncAsync(ctx context.Context, siteName string) (string, error) {
	site, ok := r.findSite(siteName)
	if !ok {
		return "", model.NewSiteNotFoundError(siteName)
	}
	if err := r.acquire(siteName); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	go func() {
		defer r.release(siteName)

		runCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if _, err := r.run(runCtx, site, runID); err != nil {
			r.logger.Error("バックグラウンド同期が失敗しました",
				slog.String("site", siteName),
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return runID, nil
}

// RunBaseline はサイトマップの現在のURL集合を処理済みとして登録し、
// 新規に登録した件数を返す。既存サイトの導入時に過去分の再通知を防ぐ。
func (r *Runner) RunBaseline(ctx context.Context, siteName string) (int, error) {
	site, ok := r.findSite(siteName)
	if !ok {
		return 0, model.NewSiteNotFoundError(siteName)
	}
	if err := r.acquire(siteName); err != nil {
		return 0, err
	}
	defer r.release(siteName)

	return r.pipeline.Baseline(ctx, site)
}

// run はsemaphoreで並列数を制御しながらパイプラインを実行し、
// 所要時間とメトリクスを記録する。
func (r *Runner) run(ctx context.Context, site config.SiteConfig, runID string) (*SyncOutcome, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()

	start := time.Now()
	r.logger.Info("サイト同期を開始します",
		slog.String("site", site.Name),
		slog.String("run_id", runID),
		slog.Bool("incremental", site.Incremental()),
	)

	outcome, err := r.pipeline.Run(ctx, site)
	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordSyncDuration(duration)
	}

	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordSyncFailure(site.Name)
		}
		r.logger.Error("サイト同期に失敗しました",
			slog.String("site", site.Name),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordSyncSuccess(site.Name)
	}
	r.logger.Info("サイト同期が完了しました",
		slog.String("site", site.Name),
		slog.String("run_id", runID),
		slog.Int("new", len(outcome.Changes.NewURLs)),
		slog.Int("pending", len(outcome.Changes.PendingURLs)),
		slog.Int("skipped", len(outcome.Changes.SkippedURLs)),
		slog.Int("analyzed", outcome.Analyzed),
		slog.Int("failed", outcome.Failed),
		slog.Int("deleted", outcome.Result.DeletedURLs),
		slog.Int("total", outcome.Result.TotalCurrent),
		slog.Int("artifacts", len(outcome.Artifacts)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return outcome, nil
}

// acquire はサイトの実行権を取得する。既に実行中の場合はSYNC_RUNNINGエラー。
func (r *Runner) acquire(siteName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[siteName] {
		return model.NewSyncRunningError(siteName)
	}
	r.running[siteName] = true
	return nil
}

// release はサイトの実行権を解放する。
func (r *Runner) release(siteName string) {
	r.mu.Lock()
	delete(r.running, siteName)
	r.mu.Unlock()
}

// findSite は設定済みサイトを名前で探す。
func (r *Runner) findSite(siteName string) (config.SiteConfig, bool) {
	for _, s := range r.sites {
		if s.Name == siteName {
			return s, true
		}
	}
	return config.SiteConfig{}, false
}
