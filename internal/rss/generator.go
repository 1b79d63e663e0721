// Package rss はサイトマップ変更からのRSS 2.0フィード生成と検証を提供する。
package rss

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/sitewatch/internal/model"
)

// feedTTLMinutes はフィードの再取得推奨間隔（分）。
const feedTTLMinutes = 60

// Channel はフィードのチャンネル情報。
type Channel struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Generator はサイトマップエントリからRSS 2.0フィードを生成する。
// 生成したXMLは必ずgofeedで読み戻して検証し、壊れたフィードを
// 保存・配信しないようにする。
type Generator struct {
	logger    *slog.Logger
	generator string
}

// NewGenerator はGeneratorの新しいインスタンスを生成する。
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{
		logger:    logger,
		generator: "sitewatch",
	}
}

// Generate はエントリ群からRSS 2.0のXML文字列を生成する。
// タイトルと説明は分析結果があればそれを使い、なければURLと更新日時から
// 組み立てる。GUIDはURLで安定させる。検証に失敗した場合はエラーを返す。
func (g *Generator) Generate(
	channel Channel,
	entries []model.SitemapEntry,
	analyses map[string]*model.ContentAnalysis,
	now time.Time,
) (string, error) {
	if channel.Title == "" || channel.Link == "" {
		return "", fmt.Errorf("チャンネルのタイトルとリンクは必須です")
	}
	if channel.Language == "" {
		channel.Language = "ja"
	}

	feed := &feeds.Feed{
		Title:       channel.Title,
		Link:        &feeds.Link{Href: channel.Link},
		Description: channel.Description,
		Created:     now,
	}

	for _, entry := range entries {
		item := &feeds.Item{
			Title:       titleForEntry(entry, analyses),
			Link:        &feeds.Link{Href: entry.URL},
			Description: descriptionForEntry(entry, analyses),
			Id:          entry.URL,
		}
		if entry.LastMod != nil {
			item.Created = *entry.LastMod
		}
		feed.Items = append(feed.Items, item)
	}

	rssFeed := (&feeds.Rss{Feed: feed}).RssFeed()
	rssFeed.Ttl = feedTTLMinutes
	rssFeed.Language = channel.Language
	rssFeed.Generator = g.generator

	xml, err := feeds.ToXML(rssFeed)
	if err != nil {
		return "", fmt.Errorf("RSSのXML生成に失敗しました: %w", err)
	}

	if err := validateFeed(xml, len(entries)); err != nil {
		return "", fmt.Errorf("生成したフィードの検証に失敗しました: %w", err)
	}

	g.logger.Debug("RSSフィードを生成しました",
		slog.String("channel", channel.Title),
		slog.Int("items", len(entries)),
	)
	return xml, nil
}

// validateFeed は生成したXMLをgofeedで読み戻して整合性を確認する。
func validateFeed(xml string, wantItems int) error {
	parsed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		return fmt.Errorf("フィードとして解析できません: %w", err)
	}
	if got := len(parsed.Items); got != wantItems {
		return fmt.Errorf("アイテム数が一致しません: 生成 %d件, 解析 %d件", wantItems, got)
	}
	return nil
}

// titleForEntry はエントリのタイトルを決める。
// 分析結果のタイトルを優先し、なければURLパスから組み立てる。
func titleForEntry(entry model.SitemapEntry, analyses map[string]*model.ContentAnalysis) string {
	if a, ok := analyses[entry.URL]; ok && a.Title != "" {
		return a.Title
	}
	return TitleFromURL(entry.URL)
}

// descriptionForEntry はエントリの説明を決める。
// 分析結果の要約を優先し、なければ更新日時の定型文にする。
func descriptionForEntry(entry model.SitemapEntry, analyses map[string]*model.ContentAnalysis) string {
	if a, ok := analyses[entry.URL]; ok && a.Summary != "" {
		return a.Summary
	}
	if entry.LastMod != nil {
		return fmt.Sprintf("ページ更新日時: %s", entry.LastMod.UTC().Format("2006-01-02 15:04:05"))
	}
	return "ページ更新日時: 不明"
}

// TitleFromURL はURLのパスから表示用タイトルを組み立てる。
// 拡張子を落とし、区切り文字を空白に変えて単語の先頭を大文字化する。
func TitleFromURL(rawURL string) string {
	path := rawURL
	if idx := strings.Index(path, "//"); idx >= 0 {
		path = path[idx+2:]
	}
	if idx := strings.Index(path, "/"); idx >= 0 {
		path = path[idx+1:]
	} else {
		path = ""
	}
	path = strings.TrimSuffix(path, "/")

	// 最後のセグメントの拡張子を落とす
	slash := strings.LastIndex(path, "/")
	last := path[slash+1:]
	if dot := strings.LastIndex(last, "."); dot > 0 {
		path = path[:slash+1] + last[:dot]
	}

	title := strings.NewReplacer("-", " ", "_", " ", "/", " - ").Replace(path)
	title = titleCase(title)
	if title == "" {
		return "Untitled"
	}
	return title
}

// titleCase は各単語の先頭文字を大文字化する。
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 {
			runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
			words[i] = string(runes)
		}
	}
	return strings.Join(words, " ")
}
