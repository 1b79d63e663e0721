// Package sitemap はサイトマップXMLの取得・解析・フィルタリングを提供する。
package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// urlsetXML は<urlset>ドキュメントのXML表現。
type urlsetXML struct {
	XMLName xml.Name      `xml:"urlset"`
	URLs    []urlEntryXML `xml:"url"`
}

type urlEntryXML struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// sitemapIndexXML は<sitemapindex>ドキュメントのXML表現。
type sitemapIndexXML struct {
	XMLName  xml.Name        `xml:"sitemapindex"`
	Sitemaps []indexEntryXML `xml:"sitemap"`
}

type indexEntryXML struct {
	Loc string `xml:"loc"`
}

// lastModFormats は<lastmod>として受け付ける日時形式。
// W3C datetime（日付のみ、分まで、秒まで、小数秒）をカバーする。
var lastModFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02",
}

// Parse はサイトマップXMLを解析する。
// <urlset>の場合はエントリ一覧を、<sitemapindex>の場合は子サイトマップの
// URL一覧を返す。どちらでもないXMLはエラーになる。
func Parse(data []byte) (entries []model.SitemapEntry, children []string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("サイトマップXMLの解析に失敗しました: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "urlset":
			var doc urlsetXML
			if err := dec.DecodeElement(&doc, &start); err != nil {
				return nil, nil, fmt.Errorf("urlsetの解析に失敗しました: %w", err)
			}
			return convertEntries(doc.URLs), nil, nil

		case "sitemapindex":
			var doc sitemapIndexXML
			if err := dec.DecodeElement(&doc, &start); err != nil {
				return nil, nil, fmt.Errorf("sitemapindexの解析に失敗しました: %w", err)
			}
			for _, sm := range doc.Sitemaps {
				if loc := strings.TrimSpace(sm.Loc); loc != "" {
					children = append(children, loc)
				}
			}
			return nil, children, nil

		default:
			return nil, nil, fmt.Errorf("サイトマップではないXMLです: ルート要素 <%s>", start.Name.Local)
		}
	}
}

// convertEntries はXMLエントリをモデルに変換する。locが空の要素は捨てる。
func convertEntries(raw []urlEntryXML) []model.SitemapEntry {
	entries := make([]model.SitemapEntry, 0, len(raw))
	for _, r := range raw {
		loc := strings.TrimSpace(r.Loc)
		if loc == "" {
			continue
		}
		entries = append(entries, model.SitemapEntry{
			URL:        loc,
			LastMod:    parseLastMod(r.LastMod),
			ChangeFreq: strings.TrimSpace(r.ChangeFreq),
			Priority:   strings.TrimSpace(r.Priority),
		})
	}
	return entries
}

// parseLastMod は<lastmod>文字列を解析する。
// 解釈できない形式は日時なし（nil）として扱い、エントリ自体は捨てない。
func parseLastMod(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range lastModFormats {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
