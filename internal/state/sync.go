package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// Sync はサイトマップの現在の完全なURL集合とストアを突き合わせ、
// 出現・消失の両方を検出して適用する（完全同期）。
//
// 手順:
//  1. 現役（deleted_at IS NULL）のURL集合を読む
//  2. 新規 = current − active、消失 = active − current、継続 = current ∩ active
//  3. 新規を未処理として一括挿入（first_seen = last_seen = now）
//  4. 消失に墓標を付与（stateは変更しない）
//  5. 継続のlast_seenを更新し、墓標をクリア（再出現の復活を含む）
//  6. サイト状態のsitemap_urlとlast_runを更新
//
// 3〜6は単一トランザクションで適用され、途中で失敗した場合は
// すべてロールバックされる。同一入力での再実行は新規0・消失0になる（冪等）。
func (s *Service) Sync(ctx context.Context, siteName, sitemapURL string, currentURLs []string) (*model.SyncResult, error) {
	if siteName == "" {
		return nil, model.ErrEmptySiteName
	}
	current, err := normalizeURLs(currentURLs)
	if err != nil {
		return nil, fmt.Errorf("サイト %s の同期入力が不正です: %w", siteName, err)
	}

	active, err := s.urls.ListActive(ctx, siteName)
	if err != nil {
		return nil, fmt.Errorf("サイト %s の現役URL取得に失敗しました: %w", siteName, err)
	}

	activeStates := make(map[string]model.ProcessingState, len(active))
	for _, u := range active {
		activeStates[u.URL] = u.State
	}

	currentSet := make(map[string]bool, len(current))
	var newURLs, updatedURLs []string
	for _, u := range current {
		currentSet[u] = true
		if _, ok := activeStates[u]; ok {
			updatedURLs = append(updatedURLs, u)
		} else {
			newURLs = append(newURLs, u)
		}
	}

	var deletedURLs []string
	for _, u := range active {
		if !currentSet[u.URL] {
			deletedURLs = append(deletedURLs, u.URL)
		}
	}

	now := time.Now().UTC()
	if err := s.urls.ApplySync(ctx, siteName, sitemapURL, newURLs, deletedURLs, updatedURLs, now); err != nil {
		return nil, fmt.Errorf("サイト %s の同期適用に失敗しました: %w", siteName, err)
	}

	result := &model.SyncResult{
		NewURLs:      len(newURLs),
		DeletedURLs:  len(deletedURLs),
		UpdatedURLs:  len(updatedURLs),
		TotalCurrent: len(current),
	}
	slog.Info("サイトマップURL同期が完了しました",
		"site", siteName,
		"new", result.NewURLs,
		"deleted", result.DeletedURLs,
		"updated", result.UpdatedURLs,
		"total_current", result.TotalCurrent,
	)
	return result, nil
}
