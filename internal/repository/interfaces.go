// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// SiteStateRepository はサイト同期状態の永続化インターフェース。
type SiteStateRepository interface {
	// Find は指定サイトの状態を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, siteName string) (*model.SiteState, error)

	// List は全サイトの状態をsite_name昇順で返す。
	List(ctx context.Context) ([]*model.SiteState, error)

	// Upsert はサイト状態を冪等にUPSERTする。
	// 既存行のcreated_atは保持し、sitemap_url・last_run・updated_atのみ更新する。
	Upsert(ctx context.Context, siteName, sitemapURL string, lastRun time.Time) error

	// DeleteWithURLs はサイト状態と配下の全URL状態を同一トランザクションで物理削除する。
	// 保持期間スイープ以外で唯一のハードデリート経路（サイトリセット用）。
	DeleteWithURLs(ctx context.Context, siteName string) error
}

// URLStateRepository はサイトごとのURL追跡レコードの永続化インターフェース。
// 複数行に影響する書き込みはすべてバッチ文で実行する。
type URLStateRepository interface {
	// ListActive は現役（deleted_at IS NULL）のURL状態をurl昇順で返す。
	ListActive(ctx context.Context, siteName string) ([]*model.URLState, error)

	// BulkInsertIgnore はURL群を指定状態で一括挿入する。
	// 既存行は無視され、first_seenは決して上書きされない。
	BulkInsertIgnore(ctx context.Context, siteName string, urls []string, state model.ProcessingState, seenAt time.Time) error

	// ApplySync は完全同期の書き込み一式を同一トランザクションで適用する。
	// 新規URLの挿入（未処理）、消失URLの墓標付与（stateは変更しない）、
	// 継続URLのlast_seen更新とdeleted_atクリア、サイト状態のlast_run更新を
	// すべて適用するか、すべてロールバックする。
	ApplySync(ctx context.Context, siteName, sitemapURL string, newURLs, deletedURLs, updatedURLs []string, now time.Time) error

	// ApplyDetect は差分検出の副作用を同一トランザクションで適用する。
	// 新規URLの挿入（未処理）と、現在のURL群のlast_seen更新を行う。
	// 完全同期と異なりdeleted_atはクリアしない（削除追跡は行わない）。
	ApplyDetect(ctx context.Context, siteName string, newURLs, currentURLs []string, now time.Time) error

	// MarkProcessed は指定URL群の処理状態を無条件に上書きする。
	// last_seenとdeleted_atには触れない。
	MarkProcessed(ctx context.Context, siteName string, urls []string, state model.ProcessingState) error

	// DeleteProcessedBefore は処理済み（state=1）かつlast_seenがcutoffより古い行を
	// 物理削除し、削除件数を返す。未処理・失敗の行は年齢にかかわらず削除しない。
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats は指定サイトのURL状態集計を1クエリで返す。
	Stats(ctx context.Context, siteName string) (*model.SiteStats, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
