// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// コアの状態追跡層が返すセンチネルエラー。
// ストアにアクセスする前の同期的な検証で返される。
var (
	// ErrEmptySiteName はsite_nameが空の場合のエラー。
	ErrEmptySiteName = errors.New("site_nameが空です")
	// ErrInvalidState はProcessingStateが未定義の値の場合のエラー。
	ErrInvalidState = errors.New("不正な処理状態です")
	// ErrSiteNotFound はサイトが未登録の場合のエラー。
	ErrSiteNotFound = errors.New("サイトが見つかりません")
	// ErrNegativeRetention は保持日数が負の場合のエラー。
	ErrNegativeRetention = errors.New("保持日数が負です")
)

// APIError は統一エラーフォーマットを表す。
// 運用APIのレスポンスに載せる原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, site, fetch, system
	Action   string // 運用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSiteNotFound  = "SITE_NOT_FOUND"
	ErrCodeInvalidURL    = "INVALID_URL"
	ErrCodeSSRFBlocked   = "SSRF_BLOCKED"
	ErrCodeFetchFailed   = "FETCH_FAILED"
	ErrCodeParseFailed   = "PARSE_FAILED"
	ErrCodeSyncRunning   = "SYNC_RUNNING"
	ErrCodeFeedNotReady  = "FEED_NOT_READY"
	ErrCodeInvalidParams = "INVALID_PARAMS"
)

// NewSiteNotFoundError はサイト未登録エラーを生成する。
func NewSiteNotFoundError(siteName string) *APIError {
	return &APIError{
		Code:     ErrCodeSiteNotFound,
		Message:  fmt.Sprintf("指定されたサイトが見つかりません: %s", siteName),
		Category: "site",
		Action:   "サイト名がSITES_CONFIGに定義されているか確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを指定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "fetch",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はサイトマップ解析失敗エラーを生成する。
func NewParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("サイトマップの解析に失敗しました: %s", reason),
		Category: "fetch",
		Action:   "サイトマップが有効なXML（urlsetまたはsitemapindex）かどうか確認してください。",
	}
}

// NewSyncRunningError は同じサイトの同期が既に実行中の場合のエラーを生成する。
func NewSyncRunningError(siteName string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncRunning,
		Message:  fmt.Sprintf("サイト %s の同期は既に実行中です。", siteName),
		Category: "site",
		Action:   "実行中の同期が完了してから再度トリガーしてください。",
	}
}

// NewFeedNotReadyError は生成済みフィードがまだ存在しない場合のエラーを生成する。
func NewFeedNotReadyError(siteName string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotReady,
		Message:  fmt.Sprintf("サイト %s のRSSフィードはまだ生成されていません。", siteName),
		Category: "site",
		Action:   "同期を1回実行するとフィードが生成されます。",
	}
}

// NewInvalidParamsError はリクエストパラメータ不正エラーを生成する。
func NewInvalidParamsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParams,
		Message:  fmt.Sprintf("リクエストパラメータが不正です: %s", reason),
		Category: "validation",
		Action:   "APIドキュメントに従ってパラメータを指定してください。",
	}
}
