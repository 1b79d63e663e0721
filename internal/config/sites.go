package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// SiteConfig は追跡対象サイト1件の定義を表す。
// SITES_CONFIGで指定されたJSONファイルから読み込まれる。
type SiteConfig struct {
	// Name は追跡名前空間。サイトマップURLと1:1である必要はなく、
	// 同じサイトマップを異なるフィルタで複数サイトとして追跡できる。
	Name       string `json:"name"`
	SitemapURL string `json:"sitemap_url"`

	// Schedule はcron式。省略時はDEFAULT_SCHEDULEが使われる。
	Schedule string `json:"schedule,omitempty"`

	// FullReprocess がtrueの場合、差分検出を行わず毎回全URLを処理対象にする。
	FullReprocess bool `json:"full_reprocess,omitempty"`

	// フィルタ設定
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	DaysBack        int      `json:"days_back,omitempty"`
	MaxItems        int      `json:"max_items,omitempty"`

	// Analyze がtrueの場合、新規URLの本文をLLMで分析しレポートを保存する。
	Analyze bool `json:"analyze,omitempty"`

	// Feed が設定されている場合、同期のたびにRSSフィードを生成・保存する。
	Feed *FeedConfig `json:"feed,omitempty"`

	// RSSObjectKey はストレージ上のフィード保存キー。省略時は feeds/<name>.xml。
	RSSObjectKey string `json:"rss_object_key,omitempty"`
}

// FeedConfig は生成するRSSフィードのチャンネル情報を表す。
type FeedConfig struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
}

// Incremental は差分検出を有効にするかどうかを返す。
func (s *SiteConfig) Incremental() bool {
	return !s.FullReprocess
}

// FeedKey はフィード保存キーを返す。
func (s *SiteConfig) FeedKey() string {
	if s.RSSObjectKey != "" {
		return s.RSSObjectKey
	}
	return "feeds/" + s.Name + ".xml"
}

// LoadSites はサイト定義JSONを読み込んで検証する。
// 形式: {"sites": [ {...}, ... ]}
func LoadSites(path string) ([]SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("サイト定義ファイルの読み込みに失敗しました: %w", err)
	}

	var file struct {
		Sites []SiteConfig `json:"sites"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("サイト定義ファイルの解析に失敗しました: %w", err)
	}

	if err := validateSites(file.Sites); err != nil {
		return nil, err
	}
	return file.Sites, nil
}

// validateSites はサイト定義の検証を行う。問題をすべて集めて1つのエラーで返す。
func validateSites(sites []SiteConfig) error {
	var problems []string
	seen := make(map[string]bool)

	for i, s := range sites {
		if s.Name == "" {
			problems = append(problems, fmt.Sprintf("sites[%d]: nameが空です", i))
			continue
		}
		if seen[s.Name] {
			problems = append(problems, fmt.Sprintf("sites[%d]: nameが重複しています: %s", i, s.Name))
		}
		seen[s.Name] = true

		u, err := url.Parse(s.SitemapURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("sites[%d] %s: sitemap_urlが不正です: %q", i, s.Name, s.SitemapURL))
		}
		if s.DaysBack < 0 {
			problems = append(problems, fmt.Sprintf("sites[%d] %s: days_backが負です", i, s.Name))
		}
		if s.MaxItems < 0 {
			problems = append(problems, fmt.Sprintf("sites[%d] %s: max_itemsが負です", i, s.Name))
		}
		if s.Feed != nil && (s.Feed.Title == "" || s.Feed.Link == "") {
			problems = append(problems, fmt.Sprintf("sites[%d] %s: feedにはtitleとlinkが必要です", i, s.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("サイト定義が不正です: %v", problems)
	}
	return nil
}
