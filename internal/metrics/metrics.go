// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/sitewatch/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(siteName string)
	RecordSyncFailure(siteName string)
	RecordSyncDuration(duration time.Duration)
	RecordCleanupDeleted(count int64)
}

// コンパイル時のインターフェース実装チェック
var _ MetricsCollector = (*Collector)(nil)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	cleanupDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_sync_runs_total",
			Help: "サイト同期実行の合計数（結果別）",
		}, []string{"site", "result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitewatch_sync_duration_seconds",
			Help:    "サイト同期実行の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_cleanup_deleted_total",
			Help: "保持期間スイープで削除されたURL状態の合計数",
		}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncDuration,
		c.cleanupDeleted,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(siteName string) {
	c.syncRuns.WithLabelValues(siteName, "success").Inc()
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(siteName string) {
	c.syncRuns.WithLabelValues(siteName, "failure").Inc()
}

// RecordSyncDuration は同期の所要時間を記録する。
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

// RecordCleanupDeleted はスイープ削除件数を記録する。
func (c *Collector) RecordCleanupDeleted(count int64) {
	c.cleanupDeleted.Add(float64(count))
}

// StatsSource はURL状態集計の取得元のインターフェース。
// state.Serviceが実装する。
type StatsSource interface {
	ListSites(ctx context.Context) ([]*model.SiteState, error)
	Stats(ctx context.Context, siteName string) (*model.SiteStats, error)
}

// statsTimeout はスクレイプ時のストア問い合わせの上限時間。
const statsTimeout = 5 * time.Second

// StateExporter はスクレイプのたびにストアからURL状態集計を読み、
// ゲージとして公開するPrometheusコレクター。
type StateExporter struct {
	source StatsSource
	logger *slog.Logger

	sitesTracked *prometheus.Desc
	siteURLs     *prometheus.Desc
}

// コンパイル時のインターフェース実装チェック
var _ prometheus.Collector = (*StateExporter)(nil)

// NewStateExporter はStateExporterを生成し、指定されたレジストリに登録する。
func NewStateExporter(source StatsSource, logger *slog.Logger, reg prometheus.Registerer) *StateExporter {
	e := &StateExporter{
		source: source,
		logger: logger,
		sitesTracked: prometheus.NewDesc(
			"sitewatch_sites_tracked",
			"追跡中のサイト数",
			nil, nil,
		),
		siteURLs: prometheus.NewDesc(
			"sitewatch_site_urls",
			"サイトごとのURL状態数（状態別）",
			[]string{"site", "state"}, nil,
		),
	}
	reg.MustRegister(e)
	return e
}

// Describe はメトリクス定義を通知する。
func (e *StateExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.sitesTracked
	ch <- e.siteURLs
}

// Collect はストアの現在の集計をゲージとして出力する。
// ストア障害時はログを残してそのスクレイプ分の出力を諦める
// （スクレイプ自体は失敗させない）。
func (e *StateExporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	sites, err := e.source.ListSites(ctx)
	if err != nil {
		e.logger.Warn("メトリクス収集でサイト一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	ch <- prometheus.MustNewConstMetric(e.sitesTracked, prometheus.GaugeValue, float64(len(sites)))

	for _, site := range sites {
		stats, err := e.source.Stats(ctx, site.SiteName)
		if err != nil {
			e.logger.Warn("メトリクス収集でサイト統計の取得に失敗しました",
				slog.String("site", site.SiteName),
				slog.String("error", err.Error()),
			)
			continue
		}
		for state, value := range map[string]int{
			"active":    stats.Active,
			"pending":   stats.Pending,
			"processed": stats.Processed,
			"failed":    stats.Failed,
			"deleted":   stats.Deleted,
		} {
			ch <- prometheus.MustNewConstMetric(e.siteURLs, prometheus.GaugeValue,
				float64(value), site.SiteName, state)
		}
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
