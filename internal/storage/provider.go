// Package storage は成果物（フィード・TODO・分析レポート）の保存先を提供する。
// ローカルディレクトリとS3互換オブジェクトストレージ（Cloudflare R2など）を
// 同じインターフェースで扱う。
package storage

import (
	"context"
	"strings"
)

// Provider は成果物保存のインターフェース。
// Saveは保存先の場所（ファイルパスまたはURL）を返す。
type Provider interface {
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)
	Name() string
}

// inferContentType はキーの拡張子からContent-Typeを推定する。
// 明示指定がある場合は呼び出し側がそちらを使う。
func inferContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".xml"):
		return "application/rss+xml"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".md"):
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
