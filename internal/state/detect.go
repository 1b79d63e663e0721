package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// Detect は現在のURL集合を処理要否で分類する（差分検出）。
// 完全同期と異なり消失の追跡は行わない軽量な操作で、
// 「どのURLに作業が必要か」だけを答える。
//
// incrementalがfalseの場合、全URLを新規として返し、ストアには
// 一切アクセスしない（全量再処理モード）。
//
// incrementalがtrueの場合:
//   - 新規     = current − active（ストア未登録のURL）
//   - 保留     = currentのうち現役で失敗状態（state=2）のURL（リトライ対象）
//   - スキップ = currentのうち現役で処理済み状態（state=1）のURL
//
// 副作用として新規URLを未処理で挿入し、current全件のlast_seenを更新する。
// 墓標（deleted_at）はクリアしない。
//
// 既知かつ未処理（state=0）の現役URLは3分類のいずれにも含まれない。
// 一度検出したが未完了の作業を再通知しない挙動であり、状態が変わるか
// 消失・再出現するまで差分検出からは見えなくなる。該当URLがある場合は
// 警告ログで件数を報告する。
func (s *Service) Detect(ctx context.Context, siteName string, currentURLs []string, incremental bool) (*model.ChangeSet, error) {
	if siteName == "" {
		return nil, model.ErrEmptySiteName
	}
	current, err := normalizeURLs(currentURLs)
	if err != nil {
		return nil, fmt.Errorf("サイト %s の差分検出入力が不正です: %w", siteName, err)
	}

	if !incremental {
		return &model.ChangeSet{
			NewURLs:        current,
			TotalToProcess: len(current),
		}, nil
	}

	active, err := s.urls.ListActive(ctx, siteName)
	if err != nil {
		return nil, fmt.Errorf("サイト %s の現役URL取得に失敗しました: %w", siteName, err)
	}

	activeStates := make(map[string]model.ProcessingState, len(active))
	for _, u := range active {
		activeStates[u.URL] = u.State
	}

	cs := &model.ChangeSet{}
	unprocessedKnown := 0
	for _, u := range current {
		st, known := activeStates[u]
		switch {
		case !known:
			cs.NewURLs = append(cs.NewURLs, u)
		case st == model.StateFailed:
			cs.PendingURLs = append(cs.PendingURLs, u)
		case st == model.StateProcessed:
			cs.SkippedURLs = append(cs.SkippedURLs, u)
		default:
			// 既知の未処理URLはどの分類にも入らない
			unprocessedKnown++
		}
	}
	cs.TotalToProcess = len(cs.NewURLs) + len(cs.PendingURLs)

	if unprocessedKnown > 0 {
		slog.Warn("既知の未処理URLは差分検出の分類対象外です",
			"site", siteName,
			"count", unprocessedKnown,
		)
	}

	now := time.Now().UTC()
	if err := s.urls.ApplyDetect(ctx, siteName, cs.NewURLs, current, now); err != nil {
		return nil, fmt.Errorf("サイト %s の差分検出の記録に失敗しました: %w", siteName, err)
	}

	slog.Info("差分検出が完了しました",
		"site", siteName,
		"new", len(cs.NewURLs),
		"pending", len(cs.PendingURLs),
		"skipped", len(cs.SkippedURLs),
		"total_to_process", cs.TotalToProcess,
	)
	return cs, nil
}
