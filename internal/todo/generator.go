// Package todo は差分検出結果からのTODO項目生成とMarkdown出力を提供する。
package todo

import (
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// highPriorityPathParts を含むパスのURLは高優先度になる。
var highPriorityPathParts = []string{"/blog/", "/news/", "/docs/", "/api/"}

// recencyWindow 以内に更新されたURLも高優先度になる。
const recencyWindow = 24 * time.Hour

// Generate はChangeSetからTODO項目を生成する。
// 新規URLとリトライ対象URLが1件ずつTODOになる。既知・処理済みのURLは
// 対象外。entriesはURLをキーにした現行サイトマップの索引で、
// 更新日時による優先度判定と作成日時に使う。
func Generate(changes *model.ChangeSet, entries map[string]model.SitemapEntry, now time.Time) []model.TodoItem {
	if changes == nil {
		return nil
	}

	var items []model.TodoItem
	for _, url := range changes.NewURLs {
		items = append(items, buildItem(url, "新規検出", entries, now))
	}
	for _, url := range changes.PendingURLs {
		items = append(items, buildItem(url, "失敗後のリトライ対象", entries, now))
	}
	return items
}

func buildItem(url, reason string, entries map[string]model.SitemapEntry, now time.Time) model.TodoItem {
	var lastMod *time.Time
	if entry, ok := entries[url]; ok {
		lastMod = entry.LastMod
	}

	createdAt := now
	if lastMod != nil {
		createdAt = *lastMod
	}

	return model.TodoItem{
		URL:       url,
		Title:     "更新ページの確認: " + lastSegment(url),
		Priority:  priorityFor(url, lastMod, now),
		Reason:    reason,
		CreatedAt: createdAt.UTC(),
	}
}

// priorityFor はURLパスと更新の新しさで優先度を決める。
func priorityFor(url string, lastMod *time.Time, now time.Time) model.TodoPriority {
	for _, part := range highPriorityPathParts {
		if strings.Contains(url, part) {
			return model.TodoPriorityHigh
		}
	}
	if lastMod != nil && now.Sub(*lastMod) < recencyWindow {
		return model.TodoPriorityHigh
	}
	return model.TodoPriorityNormal
}

// lastSegment はURLの末尾パスセグメントを返す。
func lastSegment(url string) string {
	trimmed := strings.TrimSuffix(url, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx+1 < len(trimmed) {
		return trimmed[idx+1:]
	}
	return url
}

// EntryIndex はサイトマップエントリをURLキーの索引に変換する。
func EntryIndex(entries []model.SitemapEntry) map[string]model.SitemapEntry {
	index := make(map[string]model.SitemapEntry, len(entries))
	for _, entry := range entries {
		index[entry.URL] = entry
	}
	return index
}
