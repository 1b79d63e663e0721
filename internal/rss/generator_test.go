package rss

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/sitewatch/internal/model"
)

func newTestGenerator() *Generator {
	return NewGenerator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testChannel() Channel {
	return Channel{
		Title:       "Example Blog 更新情報",
		Link:        "https://blog.example.com",
		Description: "サイトマップから検出した更新",
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestGenerate_BasicFeed(t *testing.T) {
	lastMod := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	entries := []model.SitemapEntry{
		{URL: "https://blog.example.com/posts/first-post", LastMod: timePtr(lastMod)},
		{URL: "https://blog.example.com/posts/second-post"},
	}

	xml, err := newTestGenerator().Generate(testChannel(), entries, nil, time.Now())
	if err != nil {
		t.Fatalf("フィード生成に失敗しました: %v", err)
	}

	for _, want := range []string{"<ttl>60</ttl>", "<language>ja</language>", "Example Blog 更新情報"} {
		if !strings.Contains(xml, want) {
			t.Errorf("フィードに %s が含まれていません", want)
		}
	}

	parsed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		t.Fatalf("生成したフィードの読み戻しに失敗しました: %v", err)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("アイテム数が一致しません: %d", len(parsed.Items))
	}
	if parsed.Items[0].GUID != "https://blog.example.com/posts/first-post" {
		t.Errorf("GUIDがURLで安定していません: %s", parsed.Items[0].GUID)
	}
	if parsed.Items[0].PublishedParsed == nil || !parsed.Items[0].PublishedParsed.Equal(lastMod) {
		t.Errorf("pubDateがlastmodと一致しません: %v", parsed.Items[0].PublishedParsed)
	}
}

func TestGenerate_UsesAnalysisTitleAndSummary(t *testing.T) {
	url := "https://blog.example.com/posts/go-errors"
	entries := []model.SitemapEntry{{URL: url}}
	analyses := map[string]*model.ContentAnalysis{
		url: {URL: url, Title: "Goのエラー処理大全", Summary: "wrapとerrors.Isの使い分けを解説。"},
	}

	xml, err := newTestGenerator().Generate(testChannel(), entries, analyses, time.Now())
	if err != nil {
		t.Fatalf("フィード生成に失敗しました: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		t.Fatalf("読み戻しに失敗しました: %v", err)
	}
	if parsed.Items[0].Title != "Goのエラー処理大全" {
		t.Errorf("分析結果のタイトルが使われていません: %s", parsed.Items[0].Title)
	}
	if !strings.Contains(parsed.Items[0].Description, "wrapとerrors.Is") {
		t.Errorf("分析結果の要約が使われていません: %s", parsed.Items[0].Description)
	}
}

func TestGenerate_FallbackTitleAndDescription(t *testing.T) {
	lastMod := time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC)
	entries := []model.SitemapEntry{
		{URL: "https://blog.example.com/blog/my-first-post.html", LastMod: timePtr(lastMod)},
	}

	xml, err := newTestGenerator().Generate(testChannel(), entries, nil, time.Now())
	if err != nil {
		t.Fatalf("フィード生成に失敗しました: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		t.Fatalf("読み戻しに失敗しました: %v", err)
	}
	if parsed.Items[0].Title != "Blog - My First Post" {
		t.Errorf("URL由来のタイトルが一致しません: %s", parsed.Items[0].Title)
	}
	if !strings.Contains(parsed.Items[0].Description, "2026-08-19 15:30:00") {
		t.Errorf("更新日時の定型説明が一致しません: %s", parsed.Items[0].Description)
	}
}

func TestGenerate_EmptyEntries(t *testing.T) {
	xml, err := newTestGenerator().Generate(testChannel(), nil, nil, time.Now())
	if err != nil {
		t.Fatalf("空のフィード生成に失敗しました: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(xml)
	if err != nil {
		t.Fatalf("読み戻しに失敗しました: %v", err)
	}
	if len(parsed.Items) != 0 {
		t.Errorf("アイテム数が一致しません: %d", len(parsed.Items))
	}
}

func TestGenerate_RequiresTitleAndLink(t *testing.T) {
	gen := newTestGenerator()

	if _, err := gen.Generate(Channel{Link: "https://example.com"}, nil, nil, time.Now()); err == nil {
		t.Error("タイトルなしでエラーが返されるべきです")
	}
	if _, err := gen.Generate(Channel{Title: "t"}, nil, nil, time.Now()); err == nil {
		t.Error("リンクなしでエラーが返されるべきです")
	}
}

func TestTitleFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/blog/my-first-post.html": "Blog - My First Post",
		"https://example.com/about":                   "About",
		"https://example.com/docs/api_reference":      "Docs - Api Reference",
		"https://example.com/":                        "Untitled",
		"https://example.com/news/2026/summer-sale/":  "News - 2026 - Summer Sale",
	}
	for input, want := range tests {
		if got := TitleFromURL(input); got != want {
			t.Errorf("TitleFromURL(%q) = %q, 期待値 %q", input, got, want)
		}
	}
}
