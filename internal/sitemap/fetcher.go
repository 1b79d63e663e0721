package sitemap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/sitewatch/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Fetcher はサイトマップのHTTP取得と解析を行う。
// SSRF検証付きクライアントで取得し、<sitemapindex>は1段だけ辿る。
// レートリミッタは全サイト共有で、取得先への過剰なリクエストを抑える。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	limiter     *rate.Limiter
	logger      *slog.Logger
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// ratePerSecは1秒あたりの最大リクエスト数。
func NewFetcher(
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	userAgent string,
	timeout time.Duration,
	maxBodySize int64,
	ratePerSec int,
) *Fetcher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		logger:      logger,
		userAgent:   userAgent,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はサイトマップを取得してエントリ一覧を返す。
// <sitemapindex>の場合は子サイトマップを1段だけ取得して結合する。
// 子の一部が取得できなくても残りのエントリは返し、全滅の場合のみエラーにする。
func (f *Fetcher) Fetch(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, error) {
	entries, children, err := f.fetchOne(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		f.logger.Info("サイトマップを取得しました",
			slog.String("sitemap_url", sitemapURL),
			slog.Int("entries", len(entries)),
		)
		return entries, nil
	}

	f.logger.Info("サイトマップインデックスを検出しました",
		slog.String("sitemap_url", sitemapURL),
		slog.Int("children", len(children)),
	)

	var failed int
	for _, child := range children {
		childEntries, grandchildren, err := f.fetchOne(ctx, child)
		if err != nil {
			failed++
			f.logger.Warn("子サイトマップの取得に失敗しました",
				slog.String("sitemap_url", child),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(grandchildren) > 0 {
			// 入れ子のインデックスは辿らない
			f.logger.Warn("入れ子のサイトマップインデックスはスキップします",
				slog.String("sitemap_url", child),
			)
			continue
		}
		entries = append(entries, childEntries...)
	}

	if failed == len(children) && len(entries) == 0 {
		return nil, fmt.Errorf("サイトマップインデックス %s の子をすべて取得できませんでした", sitemapURL)
	}

	f.logger.Info("サイトマップを取得しました",
		slog.String("sitemap_url", sitemapURL),
		slog.Int("entries", len(entries)),
	)
	return entries, nil
}

// fetchOne は単一のサイトマップ文書を取得して解析する。
func (f *Fetcher) fetchOne(ctx context.Context, sitemapURL string) ([]model.SitemapEntry, []string, error) {
	if err := f.ssrfGuard.ValidateURL(sitemapURL); err != nil {
		return nil, nil, fmt.Errorf("サイトマップURLのSSRF検証に失敗しました: %w", err)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("レートリミッタの待機に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("サイトマップ %s の取得に失敗しました: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("サイトマップ %s がHTTPステータス %d を返しました", sitemapURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return Parse(body)
}
