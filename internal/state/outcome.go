package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// MarkProcessed は外部処理の結果を記録する。
// successがtrueなら処理済み（state=1）、falseなら失敗（state=2）に
// 無条件で上書きする。last_seenとdeleted_atには触れない。
// 処理済みのURLを後から失敗に戻すこともできる（遷移の制限はない）。
func (s *Service) MarkProcessed(ctx context.Context, siteName string, urls []string, success bool) error {
	if siteName == "" {
		return model.ErrEmptySiteName
	}
	targets, err := normalizeURLs(urls)
	if err != nil {
		return fmt.Errorf("サイト %s の処理結果記録の入力が不正です: %w", siteName, err)
	}
	if len(targets) == 0 {
		return nil
	}

	st := model.StateProcessed
	if !success {
		st = model.StateFailed
	}
	if err := s.urls.MarkProcessed(ctx, siteName, targets, st); err != nil {
		return fmt.Errorf("サイト %s の処理結果記録に失敗しました: %w", siteName, err)
	}

	slog.Info("URLの処理結果を記録しました",
		"site", siteName,
		"count", len(targets),
		"state", st.String(),
	)
	return nil
}

// Cleanup は保持期間を過ぎた処理済み（state=1）のURL状態を物理削除する。
// 未処理・失敗のレコードは未解決の作業を失わないよう、年齢にかかわらず残す。
// 削除件数を返す。
func (s *Service) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, model.ErrNegativeRetention
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)
	deleted, err := s.urls.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("保持期間スイープに失敗しました: %w", err)
	}

	if deleted > 0 {
		slog.Info("古い処理済みURL状態を削除しました",
			"deleted", deleted,
			"days_to_keep", daysToKeep,
		)
	}
	return deleted, nil
}

// InitializeBaseline は既存サイトの採用時に、指定URL群を処理済みとして
// 直接登録する。履歴が新規として再通知されるのを防ぐための操作で、
// 挿入は既存行を上書きしない（冪等に再実行できる）。
func (s *Service) InitializeBaseline(ctx context.Context, siteName string, urls []string) (int, error) {
	if siteName == "" {
		return 0, model.ErrEmptySiteName
	}
	baseline, err := normalizeURLs(urls)
	if err != nil {
		return 0, fmt.Errorf("サイト %s のベースライン入力が不正です: %w", siteName, err)
	}
	if len(baseline) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	if err := s.urls.BulkInsertIgnore(ctx, siteName, baseline, model.StateProcessed, now); err != nil {
		return 0, fmt.Errorf("サイト %s のベースライン登録に失敗しました: %w", siteName, err)
	}

	slog.Info("ベースライン状態を初期化しました",
		"site", siteName,
		"count", len(baseline),
	)
	return len(baseline), nil
}
