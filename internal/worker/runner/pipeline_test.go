package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
	"github.com/hitoshi/sitewatch/internal/rss"
)

// --- モック定義 ---

// mockSource はSitemapSourceのテスト用モック。
type mockSource struct {
	fetchFunc func(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error)
}

func (m *mockSource) Fetch(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, sitemapURL)
	}
	return nil, nil
}

// markCall はMarkProcessed呼び出し1回分の記録。
type markCall struct {
	urls    []string
	success bool
}

// mockStateStore はStateStoreのテスト用モック。
type mockStateStore struct {
	detectFunc   func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error)
	syncFunc     func(ctx context.Context, siteName, sitemapURL string, currentURLs []string) (*model.SyncResult, error)
	markFunc     func(ctx context.Context, siteName string, urls []string, success bool) error
	baselineFunc func(ctx context.Context, siteName string, urls []string) (int, error)

	mu        sync.Mutex
	marks     []markCall
	syncCalls int
}

func (m *mockStateStore) Detect(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
	if m.detectFunc != nil {
		return m.detectFunc(ctx, siteName, currentURLs, incremental)
	}
	return &model.ChangeSet{
		NewURLs:        currentURLs,
		TotalToProcess: len(currentURLs),
	}, nil
}

func (m *mockStateStore) MarkProcessed(ctx context.Context, siteName string, urls []string, success bool) error {
	m.mu.Lock()
	m.marks = append(m.marks, markCall{urls: urls, success: success})
	m.mu.Unlock()
	if m.markFunc != nil {
		return m.markFunc(ctx, siteName, urls, success)
	}
	return nil
}

func (m *mockStateStore) Sync(ctx context.Context, siteName, sitemapURL string, currentURLs []string) (*model.SyncResult, error) {
	m.mu.Lock()
	m.syncCalls++
	m.mu.Unlock()
	if m.syncFunc != nil {
		return m.syncFunc(ctx, siteName, sitemapURL, currentURLs)
	}
	return &model.SyncResult{TotalCurrent: len(currentURLs)}, nil
}

func (m *mockStateStore) InitializeBaseline(ctx context.Context, siteName string, urls []string) (int, error) {
	if m.baselineFunc != nil {
		return m.baselineFunc(ctx, siteName, urls)
	}
	return len(urls), nil
}

// mockBatch はContentBatchのテスト用モック。
type mockBatch struct {
	runFunc func(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string)
}

func (m *mockBatch) Run(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string) {
	if m.runFunc != nil {
		return m.runFunc(ctx, urls)
	}
	return nil, nil
}

// mockFeedGen はFeedBuilderのテスト用モック。
type mockFeedGen struct {
	generateFunc func(channel rss.Channel, entries []model.SitemapEntry, analyses map[string]*model.ContentAnalysis, now time.Time) (string, error)
}

func (m *mockFeedGen) Generate(channel rss.Channel, entries []model.SitemapEntry, analyses map[string]*model.ContentAnalysis, now time.Time) (string, error) {
	if m.generateFunc != nil {
		return m.generateFunc(channel, entries, analyses, now)
	}
	return `<rss version="2.0"></rss>`, nil
}

// savedArtifact はSave呼び出し1回分の記録。
type savedArtifact struct {
	key         string
	contentType string
	data        []byte
}

// mockStore はstorage.Providerのテスト用モック。
type mockStore struct {
	saveErr error

	mu    sync.Mutex
	saves []savedArtifact
}

func (m *mockStore) Save(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, savedArtifact{key: key, contentType: contentType, data: data})
	return "file:///output/" + key, nil
}

func (m *mockStore) Name() string { return "mock" }

func testEntries(urls ...string) []model.SitemapEntry {
	entries := make([]model.SitemapEntry, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, model.SitemapEntry{URL: u})
	}
	return entries
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceOf(entries []model.SitemapEntry) *mockSource {
	return &mockSource{
		fetchFunc: func(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error) {
			return entries, nil
		},
	}
}

// --- パイプラインのテスト ---

func TestPipelineRun_MarksDetectedURLsProcessed(t *testing.T) {
	urls := []string{
		"https://example.com/posts/1",
		"https://example.com/posts/2",
		"https://example.com/posts/3",
	}
	state := &mockStateStore{}
	pipe := NewPipeline(sourceOf(testEntries(urls...)), state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	outcome, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(state.marks) != 1 {
		t.Fatalf("MarkProcessed呼び出し回数 = %d, want 1", len(state.marks))
	}
	if !state.marks[0].success {
		t.Error("分析無効サイトの検出URLは処理済みで記録されるべき")
	}
	if !reflect.DeepEqual(state.marks[0].urls, urls) {
		t.Errorf("処理済み記録のURL = %v, want %v", state.marks[0].urls, urls)
	}
	if state.syncCalls != 1 {
		t.Errorf("Sync呼び出し回数 = %d, want 1", state.syncCalls)
	}
	if outcome.Changes.TotalToProcess != 3 {
		t.Errorf("TotalToProcess = %d, want 3", outcome.Changes.TotalToProcess)
	}
	if outcome.Analyzed != 0 || outcome.Failed != 0 {
		t.Errorf("分析なしの実行で analyzed=%d failed=%d", outcome.Analyzed, outcome.Failed)
	}
}

func TestPipelineRun_PassesIncrementalFlag(t *testing.T) {
	tests := []struct {
		name            string
		site            config.SiteConfig
		wantIncremental bool
	}{
		{
			name:            "既定では差分検出",
			site:            config.SiteConfig{Name: "a", SitemapURL: "https://a.example.com/sitemap.xml"},
			wantIncremental: true,
		},
		{
			name:            "full_reprocessで全量処理",
			site:            config.SiteConfig{Name: "b", SitemapURL: "https://b.example.com/sitemap.xml", FullReprocess: true},
			wantIncremental: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIncremental bool
			state := &mockStateStore{
				detectFunc: func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
					gotIncremental = incremental
					return &model.ChangeSet{}, nil
				},
			}
			pipe := NewPipeline(sourceOf(testEntries("https://example.com/p")), state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

			if _, err := pipe.Run(context.Background(), tt.site); err != nil {
				t.Fatalf("Run() がエラーを返した: %v", err)
			}
			if gotIncremental != tt.wantIncremental {
				t.Errorf("incremental = %v, want %v", gotIncremental, tt.wantIncremental)
			}
		})
	}
}

func TestPipelineRun_AppliesSiteFilters(t *testing.T) {
	entries := testEntries(
		"https://example.com/posts/1",
		"https://example.com/drafts/2",
		"https://example.com/posts/3",
	)
	var detectURLs, syncURLs []string
	state := &mockStateStore{
		detectFunc: func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
			detectURLs = currentURLs
			return &model.ChangeSet{}, nil
		},
		syncFunc: func(ctx context.Context, siteName, sitemapURL string, currentURLs []string) (*model.SyncResult, error) {
			syncURLs = currentURLs
			return &model.SyncResult{}, nil
		},
	}
	pipe := NewPipeline(sourceOf(entries), state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	_, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:            "example-blog",
		SitemapURL:      "https://example.com/sitemap.xml",
		ExcludePatterns: []string{"/drafts/"},
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	want := []string{"https://example.com/posts/1", "https://example.com/posts/3"}
	if !reflect.DeepEqual(detectURLs, want) {
		t.Errorf("差分検出に渡されたURL = %v, want %v", detectURLs, want)
	}
	if !reflect.DeepEqual(syncURLs, want) {
		t.Errorf("完全同期に渡されたURL = %v, want %v", syncURLs, want)
	}
}

func TestPipelineRun_AnalyzeRecordsOutcomes(t *testing.T) {
	newURLs := []string{
		"https://example.com/posts/new-1",
		"https://example.com/posts/new-2",
	}
	pendingURL := "https://example.com/posts/retry"
	state := &mockStateStore{
		detectFunc: func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
			return &model.ChangeSet{
				NewURLs:        newURLs,
				PendingURLs:    []string{pendingURL},
				TotalToProcess: 3,
			}, nil
		},
	}

	var batchURLs []string
	batch := &mockBatch{
		runFunc: func(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string) {
			batchURLs = urls
			return []*model.ContentAnalysis{{URL: newURLs[0], Title: "新着"}}, []string{newURLs[1]}
		},
	}
	pipe := NewPipeline(sourceOf(testEntries(newURLs[0], newURLs[1], pendingURL)), state, batch, &mockFeedGen{}, &mockStore{}, discardLogger())

	outcome, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
		Analyze:    true,
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	wantBatch := []string{newURLs[0], newURLs[1], pendingURL}
	if !reflect.DeepEqual(batchURLs, wantBatch) {
		t.Errorf("分析対象URL = %v, want %v", batchURLs, wantBatch)
	}

	if len(state.marks) != 2 {
		t.Fatalf("MarkProcessed呼び出し回数 = %d, want 2", len(state.marks))
	}
	if state.marks[0].success || !reflect.DeepEqual(state.marks[0].urls, []string{newURLs[1]}) {
		t.Errorf("失敗記録 = %+v, want failure %v", state.marks[0], []string{newURLs[1]})
	}
	if !state.marks[1].success || !reflect.DeepEqual(state.marks[1].urls, []string{newURLs[0], pendingURL}) {
		t.Errorf("成功記録 = %+v, want success %v", state.marks[1], []string{newURLs[0], pendingURL})
	}

	if outcome.Analyzed != 1 {
		t.Errorf("Analyzed = %d, want 1", outcome.Analyzed)
	}
	if outcome.Failed != 1 {
		t.Errorf("Failed = %d, want 1", outcome.Failed)
	}
}

func TestPipelineRun_AnalyzeSkippedWhenDisabled(t *testing.T) {
	batchCalled := false
	batch := &mockBatch{
		runFunc: func(ctx context.Context, urls []string) ([]*model.ContentAnalysis, []string) {
			batchCalled = true
			return nil, nil
		},
	}
	state := &mockStateStore{}
	pipe := NewPipeline(sourceOf(testEntries("https://example.com/posts/1")), state, batch, &mockFeedGen{}, &mockStore{}, discardLogger())

	_, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if batchCalled {
		t.Error("Analyze無効のサイトで分析が実行された")
	}
}

func TestPipelineRun_NoProcessingWhenNoChanges(t *testing.T) {
	state := &mockStateStore{
		detectFunc: func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
			return &model.ChangeSet{SkippedURLs: currentURLs}, nil
		},
	}
	store := &mockStore{}
	pipe := NewPipeline(sourceOf(testEntries("https://example.com/posts/1")), state, nil, &mockFeedGen{}, store, discardLogger())

	outcome, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
		Feed:       &config.FeedConfig{Title: "Example Blog", Link: "https://example.com"},
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(state.marks) != 0 {
		t.Errorf("処理対象なしでMarkProcessedが呼ばれた: %+v", state.marks)
	}
	if state.syncCalls != 1 {
		t.Errorf("Sync呼び出し回数 = %d, want 1", state.syncCalls)
	}

	// フィードは毎回再生成されるが、TODOは処理対象がないため保存されない
	if len(store.saves) != 1 {
		t.Fatalf("保存されたアーティファクト数 = %d, want 1", len(store.saves))
	}
	if store.saves[0].key != "feeds/example-blog.xml" {
		t.Errorf("保存キー = %q, want %q", store.saves[0].key, "feeds/example-blog.xml")
	}
	if len(outcome.Artifacts) != 1 {
		t.Errorf("Artifacts = %v, want 1件", outcome.Artifacts)
	}
}

func TestPipelineRun_PublishesAllArtifacts(t *testing.T) {
	urls := []string{
		"https://example.com/posts/1",
		"https://example.com/posts/2",
	}
	state := &mockStateStore{}
	batch := &mockBatch{
		runFunc: func(ctx context.Context, batchURLs []string) ([]*model.ContentAnalysis, []string) {
			return []*model.ContentAnalysis{{URL: urls[0], Title: "記事"}}, nil
		},
	}
	store := &mockStore{}
	pipe := NewPipeline(sourceOf(testEntries(urls...)), state, batch, &mockFeedGen{}, store, discardLogger())
	pipe.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	}

	outcome, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
		Analyze:    true,
		Feed:       &config.FeedConfig{Title: "Example Blog", Link: "https://example.com"},
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(store.saves) != 3 {
		t.Fatalf("保存されたアーティファクト数 = %d, want 3", len(store.saves))
	}

	wantKeys := []string{
		"feeds/example-blog.xml",
		"todos/example-blog.md",
		"analysis_results_20260301_123045.json",
	}
	for i, want := range wantKeys {
		if store.saves[i].key != want {
			t.Errorf("保存キー[%d] = %q, want %q", i, store.saves[i].key, want)
		}
	}
	if store.saves[0].contentType != "application/rss+xml; charset=utf-8" {
		t.Errorf("フィードのContent-Type = %q", store.saves[0].contentType)
	}
	if !strings.Contains(string(store.saves[1].data), urls[0]) {
		t.Error("TODOリストに処理対象URLが含まれていない")
	}
	if len(outcome.Artifacts) != 3 {
		t.Errorf("Artifacts数 = %d, want 3", len(outcome.Artifacts))
	}
}

func TestPipelineRun_FeedUsesSiteChannel(t *testing.T) {
	var gotChannel rss.Channel
	feedGen := &mockFeedGen{
		generateFunc: func(channel rss.Channel, entries []model.SitemapEntry, analyses map[string]*model.ContentAnalysis, now time.Time) (string, error) {
			gotChannel = channel
			return `<rss version="2.0"></rss>`, nil
		},
	}
	pipe := NewPipeline(sourceOf(testEntries("https://example.com/posts/1")), &mockStateStore{}, nil, feedGen, &mockStore{}, discardLogger())

	_, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
		Feed: &config.FeedConfig{
			Title:       "Example Blog",
			Link:        "https://example.com",
			Description: "新着記事",
		},
	})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if gotChannel.Title != "Example Blog" || gotChannel.Link != "https://example.com" || gotChannel.Description != "新着記事" {
		t.Errorf("チャンネル情報がサイト設定と一致しない: %+v", gotChannel)
	}
}

func TestPipelineRun_ArtifactFailureDoesNotAbort(t *testing.T) {
	store := &mockStore{saveErr: errors.New("disk full")}
	pipe := NewPipeline(sourceOf(testEntries("https://example.com/posts/1")), &mockStateStore{}, nil, &mockFeedGen{}, store, discardLogger())

	outcome, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
		Feed:       &config.FeedConfig{Title: "Example Blog", Link: "https://example.com"},
	})
	if err != nil {
		t.Fatalf("アーティファクト保存の失敗で実行全体が失敗した: %v", err)
	}
	if len(outcome.Artifacts) != 0 {
		t.Errorf("保存失敗時のArtifacts = %v, want 空", outcome.Artifacts)
	}
}

func TestPipelineRun_FetchError(t *testing.T) {
	source := &mockSource{
		fetchFunc: func(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error) {
			return nil, model.NewFetchFailedError("接続できません")
		},
	}
	detectCalled := false
	state := &mockStateStore{
		detectFunc: func(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
			detectCalled = true
			return &model.ChangeSet{}, nil
		},
	}
	pipe := NewPipeline(source, state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	_, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
	})
	if err == nil {
		t.Fatal("フェッチ失敗時はエラーを返すべき")
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFetchFailed {
		t.Errorf("エラー種別が保持されていない: %v", err)
	}
	if detectCalled {
		t.Error("フェッチ失敗後に差分検出が呼ばれた")
	}
}

func TestPipelineRun_MarkFailureAborts(t *testing.T) {
	state := &mockStateStore{
		markFunc: func(ctx context.Context, siteName string, urls []string, success bool) error {
			return errors.New("db error")
		},
	}
	pipe := NewPipeline(sourceOf(testEntries("https://example.com/posts/1")), state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	_, err := pipe.Run(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
	})
	if err == nil {
		t.Fatal("結果記録の失敗時はエラーを返すべき")
	}
	if state.syncCalls != 0 {
		t.Error("結果記録の失敗後に完全同期が実行された")
	}
}

func TestPipelineBaseline_RegistersFilteredURLs(t *testing.T) {
	entries := testEntries(
		"https://example.com/posts/1",
		"https://example.com/drafts/2",
	)
	var baselineURLs []string
	state := &mockStateStore{
		baselineFunc: func(ctx context.Context, siteName string, urls []string) (int, error) {
			baselineURLs = urls
			return len(urls), nil
		},
	}
	pipe := NewPipeline(sourceOf(entries), state, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	inserted, err := pipe.Baseline(context.Background(), config.SiteConfig{
		Name:            "example-blog",
		SitemapURL:      "https://example.com/sitemap.xml",
		ExcludePatterns: []string{"/drafts/"},
	})
	if err != nil {
		t.Fatalf("Baseline() がエラーを返した: %v", err)
	}
	if inserted != 1 {
		t.Errorf("登録件数 = %d, want 1", inserted)
	}
	want := []string{"https://example.com/posts/1"}
	if !reflect.DeepEqual(baselineURLs, want) {
		t.Errorf("ベースライン登録URL = %v, want %v", baselineURLs, want)
	}
}

func TestPipelineBaseline_FetchError(t *testing.T) {
	source := &mockSource{
		fetchFunc: func(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error) {
			return nil, model.NewFetchFailedError("接続できません")
		},
	}
	pipe := NewPipeline(source, &mockStateStore{}, nil, &mockFeedGen{}, &mockStore{}, discardLogger())

	if _, err := pipe.Baseline(context.Background(), config.SiteConfig{
		Name:       "example-blog",
		SitemapURL: "https://example.com/sitemap.xml",
	}); err == nil {
		t.Fatal("フェッチ失敗時はエラーを返すべき")
	}
}
