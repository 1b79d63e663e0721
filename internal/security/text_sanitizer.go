package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は抽出テキストのサニタイズ機能のインターフェースを定義する。
// ページから抽出したタイトルや本文をLLMへの入力や保存レポートに渡す前に通し、
// 紛れ込んだマークアップや文字実体参照を取り除いたプレーンテキストに正規化する。
type TextSanitizerService interface {
	// Sanitize は入力からHTMLタグを全て除去し、文字実体参照を復元した
	// プレーンテキストを返す。空白は単一スペースに正規化される。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyで全タグを除去する。
// script/style要素はタグだけでなく内容ごと破棄される。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// Policyは並行利用可能なため、生成したインスタンスは全goroutineで共有できる。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力をプレーンテキストに正規化する。
// StrictPolicyの出力はHTMLエスケープ済みの形になるため、
// html.UnescapeStringで実体参照を元の文字に戻してから空白を整える。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
