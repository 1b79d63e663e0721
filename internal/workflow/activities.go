package workflow

import (
	"context"
	"errors"
	"log/slog"

	"go.temporal.io/sdk/temporal"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
	"github.com/hitoshi/sitewatch/internal/sitemap"
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
}

// PageAnalyzer は1URLの取得・抽出・分析を行う。
type PageAnalyzer interface {
	AnalyzeOne(ctx context.Context, pageURL string) (*model.ContentAnalysis, error)
}

// ArtifactPublisher は同期結果からアーティファクトを生成して保存する。
type ArtifactPublisher interface {
	PublishArtifacts(ctx context.Context, site config.SiteConfig, entries []model.SitemapEntry, changes *model.ChangeSet, analyses []*model.ContentAnalysis) []string
}

// FetchResult はフィルタ適用後のサイトマップエントリ一覧。
type FetchResult struct {
	Entries []model.SitemapEntry `json:"entries"`
}

// DetectInput は差分検出アクティビティの入力。
type DetectInput struct {
	Site config.SiteConfig `json:"site"`
	URLs []string          `json:"urls"`
}

// ProcessURLInput はURL処理アクティビティの入力。
type ProcessURLInput struct {
	URL string `json:"url"`
}

// ProcessURLResult はURL処理アクティビティの結果。
// 本文が短く分析をスキップした場合、AnalysisはnilでSkippedがtrueになる。
type ProcessURLResult struct {
	Analysis *model.ContentAnalysis `json:"analysis,omitempty"`
	Skipped  bool                   `json:"skipped,omitempty"`
}

// OutcomesInput は結果記録アクティビティの入力。
type OutcomesInput struct {
	Site      string   `json:"site"`
	Succeeded []string `json:"succeeded,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// ReconcileInput は完全同期アクティビティの入力。
type ReconcileInput struct {
	Site config.SiteConfig `json:"site"`
	URLs []string          `json:"urls"`
}

// PublishInput はアーティファクト生成アクティビティの入力。
type PublishInput struct {
	Site     config.SiteConfig        `json:"site"`
	Entries  []model.SitemapEntry     `json:"entries"`
	Changes  *model.ChangeSet         `json:"changes"`
	Analyses []*model.ContentAnalysis `json:"analyses,omitempty"`
}

// PublishResult はアーティファクト生成アクティビティの結果。
type PublishResult struct {
	Artifacts []string `json:"artifacts,omitempty"`
}

// SyncActivities は同期ワークフローの各段階を実装するアクティビティ群。
// cronワーカーのパイプラインと同じサービス層を使う。
type SyncActivities struct {
	source    SitemapSource
	state     StateStore
	pages     PageAnalyzer
	publisher ArtifactPublisher
	logger    *slog.Logger
}

// NewSyncActivities はSyncActivitiesの新しいインスタンスを生成する。
// pagesはnil許容で、その場合ProcessURLActivityはエラーを返す。
func NewSyncActivities(
	source SitemapSource,
	state StateStore,
	pages PageAnalyzer,
	publisher ArtifactPublisher,
	logger *slog.Logger,
) *SyncActivities {
	return &SyncActivities{
		source:    source,
		state:     state,
		pages:     pages,
		publisher: publisher,
		logger:    logger,
	}
}

// FetchSitemapActivity はサイトマップを取得し、サイトのフィルタを適用する。
func (a *SyncActivities) FetchSitemapActivity(ctx context.Context, site config.SiteConfig) (FetchResult, error) {
	entries, err := a.source.Fetch(ctx, site.SitemapURL)
	if err != nil {
		a.logger.Error("アクティビティ: サイトマップ取得に失敗しました",
			slog.String("site", site.Name),
			slog.String("error", err.Error()),
		)
		return FetchResult{}, asActivityError(err)
	}

	entries = sitemap.ApplySiteFilters(entries, site)
	a.logger.Info("アクティビティ: サイトマップを取得しました",
		slog.String("site", site.Name),
		slog.Int("entries", len(entries)),
	)
	return FetchResult{Entries: entries}, nil
}

// DetectChangesActivity は現在のURL一覧を追跡状態と比較して差分を分類する。
func (a *SyncActivities) DetectChangesActivity(ctx context.Context, input DetectInput) (model.ChangeSet, error) {
	changes, err := a.state.Detect(ctx, input.Site.Name, input.URLs, input.Site.Incremental())
	if err != nil {
		a.logger.Error("アクティビティ: 差分検出に失敗しました",
			slog.String("site", input.Site.Name),
			slog.String("error", err.Error()),
		)
		return model.ChangeSet{}, asActivityError(err)
	}
	return *changes, nil
}

// ProcessURLActivity は1URLの本文を取得して分析する。
func (a *SyncActivities) ProcessURLActivity(ctx context.Context, input ProcessURLInput) (ProcessURLResult, error) {
	if a.pages == nil {
		return ProcessURLResult{}, errors.New("分析が構成されていません")
	}

	analysis, err := a.pages.AnalyzeOne(ctx, input.URL)
	if err != nil {
		a.logger.Warn("アクティビティ: URLの分析に失敗しました",
			slog.String("url", input.URL),
			slog.String("error", err.Error()),
		)
		return ProcessURLResult{}, asActivityError(err)
	}
	if analysis == nil {
		return ProcessURLResult{Skipped: true}, nil
	}
	return ProcessURLResult{Analysis: analysis}, nil
}

// RecordOutcomesActivity は処理対象URLの成否を追跡状態へ記録する。
func (a *SyncActivities) RecordOutcomesActivity(ctx context.Context, input OutcomesInput) error {
	if len(input.Failed) > 0 {
		if err := a.state.MarkProcessed(ctx, input.Site, input.Failed, false); err != nil {
			return asActivityError(err)
		}
	}
	if len(input.Succeeded) > 0 {
		if err := a.state.MarkProcessed(ctx, input.Site, input.Succeeded, true); err != nil {
			return asActivityError(err)
		}
	}
	return nil
}

// ReconcileActivity は追跡状態を現在のサイトマップと完全同期する。
func (a *SyncActivities) ReconcileActivity(ctx context.Context, input ReconcileInput) (model.SyncResult, error) {
	result, err := a.state.Sync(ctx, input.Site.Name, input.Site.SitemapURL, input.URLs)
	if err != nil {
		a.logger.Error("アクティビティ: 完全同期に失敗しました",
			slog.String("site", input.Site.Name),
			slog.String("error", err.Error()),
		)
		return model.SyncResult{}, asActivityError(err)
	}
	return *result, nil
}

// PublishArtifactsActivity は同期結果からアーティファクトを生成して保存する。
// 個別アーティファクトの保存失敗はログに残して続行するため、エラーを返さない。
func (a *SyncActivities) PublishArtifactsActivity(ctx context.Context, input PublishInput) (PublishResult, error) {
	saved := a.publisher.PublishArtifacts(ctx, input.Site, input.Entries, input.Changes, input.Analyses)
	return PublishResult{Artifacts: saved}, nil
}

// asActivityError はAPIエラーをエラーコード付きのアクティビティエラーに変換する。
// コードはリトライポリシーのNonRetryableErrorTypesとの照合に使われる。
func asActivityError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return temporal.NewApplicationError(apiErr.Message, apiErr.Code)
	}
	return err
}
