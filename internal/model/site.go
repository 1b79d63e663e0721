// Package model はドメインモデルを定義する。
package model

import "time"

// ProcessingState はURLの処理状態を表す。
// データベースにはINTEGERとして保存される（0=未処理、1=処理済み、2=失敗）。
type ProcessingState int

const (
	// StateUnprocessed は未処理状態。同期で発見された直後のURLが持つ。
	StateUnprocessed ProcessingState = 0
	// StateProcessed は処理成功状態。
	StateProcessed ProcessingState = 1
	// StateFailed は処理失敗状態。次回の差分検出でリトライ対象になる。
	StateFailed ProcessingState = 2
)

// String はProcessingStateの文字列表現を返す。
func (s ProcessingState) String() string {
	switch s {
	case StateUnprocessed:
		return "unprocessed"
	case StateProcessed:
		return "processed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Valid はProcessingStateが定義済みの値かどうかを返す。
func (s ProcessingState) Valid() bool {
	return s == StateUnprocessed || s == StateProcessed || s == StateFailed
}

// SiteState はサイト（追跡名前空間）の同期状態を表す。
// site_nameは呼び出し側が選ぶ論理名であり、サイトマップURLと1:1である必要はない。
type SiteState struct {
	SiteName   string
	SitemapURL string
	LastRun    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// URLState はサイトごとのURL追跡レコードを表す。
// DeletedAtがnil以外の場合、直近の同期でソースから消えたことを示す（墓標）。
// 墓標はStateを変更しない。URLが再出現するとDeletedAtはnilに戻る。
type URLState struct {
	SiteName  string
	URL       string
	State     ProcessingState
	FirstSeen time.Time
	LastSeen  time.Time
	DeletedAt *time.Time
}

// Active はURLが現役（墓標なし）かどうかを返す。
func (u *URLState) Active() bool {
	return u.DeletedAt == nil
}

// SyncResult は完全同期（リコンサイル）の結果件数を表す。
type SyncResult struct {
	NewURLs      int
	DeletedURLs  int
	UpdatedURLs  int
	TotalCurrent int
}

// ChangeSet は差分検出の分類結果を表す。
// 3つのリストは互いに素である。既知かつ未処理のURLはどのリストにも含まれない
// （検出済みだが未完了の作業は再通知しない）。
type ChangeSet struct {
	NewURLs        []string
	PendingURLs    []string
	SkippedURLs    []string
	TotalToProcess int
}

// SiteStats はサイトのURL状態の集計を表す。
// Pending/Processed/Failedは現役（墓標なし）レコードのみを数える。
type SiteStats struct {
	SiteName  string
	Total     int
	Active    int
	Pending   int
	Processed int
	Failed    int
	Deleted   int
}
