package sitemap

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/config"
	"github.com/hitoshi/sitewatch/internal/model"
)

// FilterByPatterns はURLの部分文字列パターンでエントリを絞り込む。
// includeが非空の場合はいずれかに一致するURLだけを残し、
// excludeのいずれかに一致するURLは除外する。
func FilterByPatterns(entries []model.SitemapEntry, include, exclude []string) []model.SitemapEntry {
	if len(include) == 0 && len(exclude) == 0 {
		return entries
	}
	filtered := make([]model.SitemapEntry, 0, len(entries))
	for _, e := range entries {
		if matchesPatterns(e.URL, include, exclude) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func matchesPatterns(url string, include, exclude []string) bool {
	if len(include) > 0 {
		matched := false
		for _, p := range include {
			if strings.Contains(url, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range exclude {
		if strings.Contains(url, p) {
			return false
		}
	}
	return true
}

// FilterByRecency はlastmodがcutoffより古いエントリを除外する。
// lastmodのないエントリは除外しない（日付不明は新しい扱い）。
func FilterByRecency(entries []model.SitemapEntry, daysBack int, now time.Time) []model.SitemapEntry {
	if daysBack <= 0 {
		return entries
	}
	cutoff := now.AddDate(0, 0, -daysBack)
	filtered := make([]model.SitemapEntry, 0, len(entries))
	for _, e := range entries {
		if e.LastMod != nil && e.LastMod.Before(cutoff) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// LimitNewest はlastmod降順に並べ替えて先頭maxItems件に切り詰める。
// lastmodのないエントリは末尾に回る（元の相対順は保たれる）。
func LimitNewest(entries []model.SitemapEntry, maxItems int) []model.SitemapEntry {
	if maxItems <= 0 || len(entries) <= maxItems {
		return entries
	}
	sorted := make([]model.SitemapEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].LastMod, sorted[j].LastMod
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	return sorted[:maxItems]
}

// ApplySiteFilters はサイト定義のフィルタ設定を順に適用する:
// パターン → 日付範囲 → 件数上限。
func ApplySiteFilters(entries []model.SitemapEntry, site config.SiteConfig) []model.SitemapEntry {
	original := len(entries)
	entries = FilterByPatterns(entries, site.IncludePatterns, site.ExcludePatterns)
	entries = FilterByRecency(entries, site.DaysBack, time.Now().UTC())
	entries = LimitNewest(entries, site.MaxItems)

	if len(entries) != original {
		slog.Info("フィルタを適用しました",
			"site", site.Name,
			"before", original,
			"after", len(entries),
		)
	}
	return entries
}

// EntryURLs はエントリ一覧からURL文字列のリストを取り出す。
// 状態追跡層に渡す形への変換に使う。
func EntryURLs(entries []model.SitemapEntry) []string {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.URL)
	}
	return urls
}
