// Package state はサイトマップURLの増分状態追跡を提供する。
// サイトごとにURLの出現・消失・処理結果を永続化し、実行をまたいだ
// 差分検出と冪等な完全同期を可能にする。
package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/sitewatch/internal/model"
	"github.com/hitoshi/sitewatch/internal/repository"
)

// Service は状態追跡の操作一式を提供する。
// ストアの読み書きはすべてリポジトリ経由で行い、呼び出しごとに
// ストアを読み直す（プロセス内キャッシュは持たない）。
//
// 同一サイトに対する同期・差分検出の並行実行はサポートしない。
// 呼び出し側（ワーカー）がサイト単位で直列化すること。
// 異なるサイト同士は完全に独立で、並行実行して安全である。
type Service struct {
	sites repository.SiteStateRepository
	urls  repository.URLStateRepository
}

// NewService はServiceを生成する。
func NewService(sites repository.SiteStateRepository, urls repository.URLStateRepository) *Service {
	return &Service{sites: sites, urls: urls}
}

// GetSite は指定サイトの同期状態を返す。未登録の場合はnilを返す。
func (s *Service) GetSite(ctx context.Context, siteName string) (*model.SiteState, error) {
	if siteName == "" {
		return nil, model.ErrEmptySiteName
	}
	return s.sites.Find(ctx, siteName)
}

// ListSites は登録済みの全サイトの同期状態を返す。
func (s *Service) ListSites(ctx context.Context) ([]*model.SiteState, error) {
	return s.sites.List(ctx)
}

// Stats は指定サイトのURL状態集計を返す。
// レコードが1件もないサイトはすべて0の集計を返す。
func (s *Service) Stats(ctx context.Context, siteName string) (*model.SiteStats, error) {
	if siteName == "" {
		return nil, model.ErrEmptySiteName
	}
	stats, err := s.urls.Stats(ctx, siteName)
	if err != nil {
		return nil, fmt.Errorf("サイト %s の統計取得に失敗しました: %w", siteName, err)
	}
	return stats, nil
}

// Reset は指定サイトの全URL状態とサイト状態を物理削除する。
// 全量再処理のベースラインを作り直すための操作で、冪等に実行できる。
func (s *Service) Reset(ctx context.Context, siteName string) error {
	if siteName == "" {
		return model.ErrEmptySiteName
	}
	if err := s.sites.DeleteWithURLs(ctx, siteName); err != nil {
		return fmt.Errorf("サイト %s のリセットに失敗しました: %w", siteName, err)
	}
	slog.Info("サイト状態をリセットしました", "site", siteName)
	return nil
}

// normalizeURLs は入力URL列を検証し、出現順を保ったまま重複を除去する。
// 空文字列のエントリはエラーにする。
func normalizeURLs(urls []string) ([]string, error) {
	seen := make(map[string]bool, len(urls))
	normalized := make([]string, 0, len(urls))
	for i, u := range urls {
		if u == "" {
			return nil, fmt.Errorf("%d番目のURLが空です", i)
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		normalized = append(normalized, u)
	}
	return normalized, nil
}
