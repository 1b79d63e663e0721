// Package content はページ本文の取得・抽出とLLMによる内容分析を提供する。
package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// maxExtractedChars は抽出テキストの最大文字数（rune数）。
// LLMプロンプトとレポート保存の両方に十分な長さに抑える。
const maxExtractedChars = 8000

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Sanitizer はテキストのサニタイズのインターフェース。
// security.TextSanitizerServiceを抽象化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// skipElements は本文抽出時に子孫ごと無視する要素。
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
}

// Page は抽出されたページ内容を表す。
type Page struct {
	URL   string
	Title string
	Text  string
}

// Extractor はページのHTTP取得と本文テキスト抽出を行う。
// サイトマップ取得と同じSSRF防止クライアントを使い、
// レートリミッタで取得先への負荷を抑える。
type Extractor struct {
	ssrfGuard   SSRFValidator
	sanitizer   Sanitizer
	limiter     *rate.Limiter
	logger      *slog.Logger
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

// NewExtractor はExtractorの新しいインスタンスを生成する。
func NewExtractor(
	ssrfGuard SSRFValidator,
	sanitizer Sanitizer,
	logger *slog.Logger,
	userAgent string,
	timeout time.Duration,
	maxBodySize int64,
	ratePerSec int,
) *Extractor {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Extractor{
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		logger:      logger,
		userAgent:   userAgent,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Extract はページを取得し、タイトルと可視テキストを抽出する。
// script/style/nav/footerなどの部分木は捨て、空白を畳み込み、
// 長さをmaxExtractedCharsに制限する。本文が取れない場合は
// meta descriptionを後備として使う。
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Page, error) {
	if err := e.ssrfGuard.ValidateURL(pageURL); err != nil {
		return nil, fmt.Errorf("ページURLのSSRF検証に失敗しました: %w", err)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レートリミッタの待機に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, */*")

	client := e.ssrfGuard.NewSafeClient(e.timeout, e.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ページ %s の取得に失敗しました: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ページ %s がHTTPステータス %d を返しました", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	page, err := e.ExtractFromHTML(pageURL, body)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("ページ本文を抽出しました",
		slog.String("url", pageURL),
		slog.Int("text_chars", len([]rune(page.Text))),
	)
	return page, nil
}

// ExtractFromHTML はHTMLバイト列からタイトルと本文テキストを抽出する。
func (e *Extractor) ExtractFromHTML(pageURL string, body []byte) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("ページ %s のHTML解析に失敗しました: %w", pageURL, err)
	}

	var title, metaDescription string
	var textParts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.Data] {
				return
			}
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "meta":
				if metaDescription == "" && attrValue(n, "name") == "description" {
					metaDescription = strings.TrimSpace(attrValue(n, "content"))
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				textParts = append(textParts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := collapseWhitespace(strings.Join(textParts, " "))
	if text == "" {
		// 本文が空のページはmeta descriptionを後備に使う
		text = collapseWhitespace(metaDescription)
	}
	text = truncateRunes(text, maxExtractedChars)

	if e.sanitizer != nil {
		title = e.sanitizer.Sanitize(title)
		text = e.sanitizer.Sanitize(text)
	}

	return &Page{URL: pageURL, Title: title, Text: text}, nil
}

// attrValue は要素の属性値を返す。属性がない場合は空文字列。
func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// collapseWhitespace は連続する空白類を1つのスペースに畳み込む。
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes は文字数（rune数）でテキストを切り詰める。
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
