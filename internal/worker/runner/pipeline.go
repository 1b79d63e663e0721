package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/content"
	"github.com/hitoshi/sitewatch/internal/model"
	"github.com/hitoshi/sitewatch/internal/rss"
	"github.com/hitoshi/sitewatch/internal/sitemap"
	"github.com/hitoshi/sitewatch/internal/storage"
	"github.com/hitoshi/sitewatch/internal/todo"
)

// SitemapSource はサイトマップからエントリ一覧を取得する。
type SitemapSource interface {
	Fetch(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error)
}

// StateStore はURL追跡状態への操作を提供する。
type StateStore interface {
	Detect(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error)
	MarkProcessed(ctx context.Context, siteName string, urls []string, success bool) error
	Sync(ctx context.Context, siteName, sitemapURL string, currentURLs []string) (*model.SyncResult, error)
	InitializeBaseline(ctx context.Context, siteName string, urls []string) (int, error)
}

// ContentBatch は処理対象URLの本文をバッチ分析する。
type ContentBatch interface {
	Run(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string)
}

// FeedBuilder はエントリ群からRSSフィードXMLを生成する。
type FeedBuilder interface {
	Generate(channel rss.Channel, entries []model.SitemapEntry, analyses map[string]*model.ContentAnalysis, now time.Time) (string, error)
}

// SyncOutcome は1回の同期実行の要約。
type SyncOutcome struct {
	Site     string
	Changes  *model.ChangeSet
	Result   *model.SyncResult
	Analyzed int
	Failed   int
	// Artifacts は保存に成功したアーティファクトの保存先一覧。
	Artifacts []string
}

// Pipeline は1サイト分の同期処理を実行する。
// フェッチ→フィルタ→差分検出→（設定に応じて）本文分析→結果記録→
// 完全同期→アーティファクト生成の順に進む。
type Pipeline struct {
	source   SitemapSource
	state    StateStore
	analyzer ContentBatch
	feedGen  FeedBuilder
	store    storage.Provider
	logger   *slog.Logger
	now      func() time.Time
}

var _ SyncPipeline = (*Pipeline)(nil)

// NewPipeline はPipelineの新しいインスタンスを生成する。
// analyzerはnil許容で、その場合はAnalyze設定のサイトでも分析を行わない。
func NewPipeline(
	source SitemapSource,
	state StateStore,
	analyzer ContentBatch,
	feedGen FeedBuilder,
	store storage.Provider,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		source:   source,
		state:    state,
		analyzer: analyzer,
		feedGen:  feedGen,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Run はサイト1件の同期を実行する。
// 状態操作（フェッチ・差分検出・結果記録・完全同期）の失敗は実行を中断して
// エラーを返す。アーティファクトの生成・保存の失敗はログに残して続行する。
func (p *Pipeline) Run(ctx context.Context, site config.SiteConfig) (*SyncOutcome, error) {
	entries, err := p.source.Fetch(ctx, site.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("サイト %s のサイトマップ取得に失敗しました: %w", site.Name, err)
	}

	entries = sitemap.ApplySiteFilters(entries, site)
	urls := sitemap.EntryURLs(entries)

	changes, err := p.state.Detect(ctx, site.Name, urls, site.Incremental())
	if err != nil {
		return nil, err
	}

	toProcess := make([]string, 0, changes.TotalToProcess)
	toProcess = append(toProcess, changes.NewURLs...)
	toProcess = append(toProcess, changes.PendingURLs...)

	var analyses []*model.ContentAnalysis
	var failedURLs []string
	if site.Analyze && p.analyzer != nil && len(toProcess) > 0 {
		analyses, failedURLs = p.analyzer.Run(ctx, toProcess)
	}

	if err := p.recordOutcomes(ctx, site.Name, toProcess, failedURLs); err != nil {
		return nil, err
	}

	result, err := p.state.Sync(ctx, site.Name, site.SitemapURL, urls)
	if err != nil {
		return nil, err
	}

	outcome := &SyncOutcome{
		Site:     site.Name,
		Changes:  changes,
		Result:   result,
		Analyzed: len(analyses),
		Failed:   len(failedURLs),
	}
	outcome.Artifacts = p.PublishArtifacts(ctx, site, entries, changes, analyses)
	return outcome, nil
}

// Baseline はサイトマップの現在のURL集合を処理済みとして登録する。
// サイトレコード自体は作成しない（初回のSyncで作成される）。
func (p *Pipeline) Baseline(ctx context.Context, site config.SiteConfig) (int, error) {
	entries, err := p.source.Fetch(ctx, site.SitemapURL)
	if err != nil {
		return 0, fmt.Errorf("サイト %s のサイトマップ取得に失敗しました: %w", site.Name, err)
	}

	entries = sitemap.ApplySiteFilters(entries, site)
	urls := sitemap.EntryURLs(entries)

	inserted, err := p.state.InitializeBaseline(ctx, site.Name, urls)
	if err != nil {
		return 0, err
	}

	p.logger.Info("ベースラインを登録しました",
		slog.String("site", site.Name),
		slog.Int("urls", len(urls)),
		slog.Int("inserted", inserted),
	)
	return inserted, nil
}

// recordOutcomes は処理対象URLの成否を追跡状態へ記録する。
// 分析に失敗したURLは失敗として記録され、次回の差分検出でリトライ対象になる。
// 残り（分析成功・短文スキップ・分析無効サイトの全URL）は処理済みとする。
func (p *Pipeline) recordOutcomes(ctx context.Context, siteName string, toProcess, failedURLs []string) error {
	if len(toProcess) == 0 {
		return nil
	}

	failed := make(map[string]bool, len(failedURLs))
	for _, u := range failedURLs {
		failed[u] = true
	}
	succeeded := make([]string, 0, len(toProcess))
	for _, u := range toProcess {
		if !failed[u] {
			succeeded = append(succeeded, u)
		}
	}

	if len(failedURLs) > 0 {
		if err := p.state.MarkProcessed(ctx, siteName, failedURLs, false); err != nil {
			return err
		}
	}
	if len(succeeded) > 0 {
		if err := p.state.MarkProcessed(ctx, siteName, succeeded, true); err != nil {
			return err
		}
	}
	return nil
}

// PublishArtifacts は同期結果からRSSフィード・TODOリスト・分析レポートを
// 生成して保存し、保存に成功した保存先の一覧を返す。
// フィードはFeed設定のあるサイトで毎回、TODOは処理対象があった場合、
// レポートは分析結果がある場合のみ生成する。
func (p *Pipeline) PublishArtifacts(
	ctx context.Context,
	site config.SiteConfig,
	entries []model.SitemapEntry,
	changes *model.ChangeSet,
	analyses []*model.ContentAnalysis,
) []string {
	now := p.now().UTC()
	var saved []string

	if site.Feed != nil {
		location, err := p.publishFeed(ctx, site, entries, analyses, now)
		if err != nil {
			p.logger.Error("RSSフィードの保存に失敗しました",
				slog.String("site", site.Name),
				slog.String("error", err.Error()),
			)
		} else {
			saved = append(saved, location)
		}
	}

	if changes.TotalToProcess > 0 {
		items := todo.Generate(changes, todo.EntryIndex(entries), now)
		markdown := todo.RenderMarkdown(site.Name, items, now)
		location, err := p.store.Save(ctx, todo.TodoKey(site.Name), "text/markdown; charset=utf-8", []byte(markdown))
		if err != nil {
			p.logger.Error("TODOリストの保存に失敗しました",
				slog.String("site", site.Name),
				slog.String("error", err.Error()),
			)
		} else {
			saved = append(saved, location)
		}
	}

	if len(analyses) > 0 {
		location, err := p.publishReport(ctx, analyses, now)
		if err != nil {
			p.logger.Error("分析レポートの保存に失敗しました",
				slog.String("site", site.Name),
				slog.String("error", err.Error()),
			)
		} else {
			saved = append(saved, location)
		}
	}

	return saved
}

// publishFeed はRSSフィードを生成・検証して保存する。
func (p *Pipeline) publishFeed(
	ctx context.Context,
	site config.SiteConfig,
	entries []model.SitemapEntry,
	analyses []*model.ContentAnalysis,
	now time.Time,
) (string, error) {
	channel := rss.Channel{
		Title:       site.Feed.Title,
		Link:        site.Feed.Link,
		Description: site.Feed.Description,
	}
	xml, err := p.feedGen.Generate(channel, entries, analysisIndex(analyses), now)
	if err != nil {
		return "", err
	}
	return p.store.Save(ctx, site.FeedKey(), "application/rss+xml; charset=utf-8", []byte(xml))
}

// publishReport は分析レポートをJSONで保存する。
func (p *Pipeline) publishReport(ctx context.Context, analyses []*model.ContentAnalysis, now time.Time) (string, error) {
	report := content.NewReport(now, analyses)
	data, err := report.Marshal()
	if err != nil {
		return "", err
	}
	return p.store.Save(ctx, content.ReportKey(now), "application/json", data)
}

// analysisIndex は分析結果をURLで引けるようにする。
func analysisIndex(analyses []*model.ContentAnalysis) map[string]*model.ContentAnalysis {
	if len(analyses) == 0 {
		return nil
	}
	index := make(map[string]*model.ContentAnalysis, len(analyses))
	for _, a := range analyses {
		index[a.URL] = a
	}
	return index
}
