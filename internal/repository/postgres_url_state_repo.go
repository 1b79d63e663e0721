package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// PostgresURLStateRepo はPostgreSQLを使用したURL状態リポジトリ。
type PostgresURLStateRepo struct {
	db *sql.DB
}

// NewPostgresURLStateRepo はPostgresURLStateRepoを生成する。
func NewPostgresURLStateRepo(db *sql.DB) *PostgresURLStateRepo {
	return &PostgresURLStateRepo{db: db}
}

// ListActive は現役（deleted_at IS NULL）のURL状態をurl昇順で返す。
func (r *PostgresURLStateRepo) ListActive(ctx context.Context, siteName string) ([]*model.URLState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT site_name, url, state, first_seen, last_seen, deleted_at
		 FROM url_states
		 WHERE site_name = $1 AND deleted_at IS NULL
		 ORDER BY url`,
		siteName,
	)
	if err != nil {
		return nil, fmt.Errorf("現役URL状態の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanURLStates(rows)
}

// BulkInsertIgnore はURL群を指定状態で一括挿入する。既存行は無視される。
func (r *PostgresURLStateRepo) BulkInsertIgnore(ctx context.Context, siteName string, urls []string, state model.ProcessingState, seenAt time.Time) error {
	return pgInsertIgnore(ctx, r.db, siteName, urls, state, seenAt)
}

// ApplySync は完全同期の書き込み一式を同一トランザクションで適用する。
func (r *PostgresURLStateRepo) ApplySync(ctx context.Context, siteName, sitemapURL string, newURLs, deletedURLs, updatedURLs []string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("同期トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := pgInsertIgnore(ctx, tx, siteName, newURLs, model.StateUnprocessed, now); err != nil {
		return err
	}
	if err := pgMarkDeleted(ctx, tx, siteName, deletedURLs, now); err != nil {
		return err
	}
	if err := pgRefreshLastSeen(ctx, tx, siteName, updatedURLs, now, true); err != nil {
		return err
	}

	// サイト状態のlast_runも同一トランザクションで更新する。created_atは保持する。
	_, err = tx.ExecContext(ctx,
		`INSERT INTO site_states (site_name, sitemap_url, last_run, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (site_name) DO UPDATE SET
		     sitemap_url = EXCLUDED.sitemap_url,
		     last_run = EXCLUDED.last_run,
		     updated_at = EXCLUDED.updated_at`,
		siteName, sitemapURL, now.UTC(), now.UTC(), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("サイト状態の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("同期トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ApplyDetect は差分検出の副作用を同一トランザクションで適用する。
// deleted_atはクリアしない。
func (r *PostgresURLStateRepo) ApplyDetect(ctx context.Context, siteName string, newURLs, currentURLs []string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("差分検出トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := pgInsertIgnore(ctx, tx, siteName, newURLs, model.StateUnprocessed, now); err != nil {
		return err
	}
	if err := pgRefreshLastSeen(ctx, tx, siteName, currentURLs, now, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("差分検出トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// MarkProcessed は指定URL群の処理状態を無条件に上書きする。
func (r *PostgresURLStateRepo) MarkProcessed(ctx context.Context, siteName string, urls []string, state model.ProcessingState) error {
	for _, batch := range chunkStrings(urls, updateBatchSize) {
		args := make([]any, 0, len(batch)+2)
		args = append(args, int(state), siteName)
		for _, u := range batch {
			args = append(args, u)
		}
		_, err := r.db.ExecContext(ctx,
			`UPDATE url_states SET state = $1
			 WHERE site_name = $2 AND url IN (`+pgPlaceholders(3, len(batch))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("処理状態の更新に失敗しました: %w", err)
		}
	}
	return nil
}

// DeleteProcessedBefore は処理済みかつlast_seenが古い行を物理削除し、件数を返す。
func (r *PostgresURLStateRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM url_states WHERE state = $1 AND last_seen < $2`,
		int(model.StateProcessed), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("古い処理済みURL状態の削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// Stats は指定サイトのURL状態集計を1クエリで返す。
func (r *PostgresURLStateRepo) Stats(ctx context.Context, siteName string) (*model.SiteStats, error) {
	stats := &model.SiteStats{SiteName: siteName}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN state = 0 AND deleted_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN state = 1 AND deleted_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN state = 2 AND deleted_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM url_states WHERE site_name = $1`,
		siteName,
	).Scan(&stats.Total, &stats.Active, &stats.Pending, &stats.Processed, &stats.Failed, &stats.Deleted)
	if err != nil {
		return nil, fmt.Errorf("サイト統計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// pgInsertIgnore はURL群をバッチ挿入する。既存行は無視しfirst_seenを保持する。
func pgInsertIgnore(ctx context.Context, ex execer, siteName string, urls []string, state model.ProcessingState, seenAt time.Time) error {
	for _, batch := range chunkStrings(urls, insertBatchSize) {
		args := make([]any, 0, len(batch)*5)
		for _, u := range batch {
			args = append(args, siteName, u, int(state), seenAt.UTC(), seenAt.UTC())
		}
		_, err := ex.ExecContext(ctx,
			`INSERT INTO url_states (site_name, url, state, first_seen, last_seen)
			 VALUES `+pgValueRows(len(batch), 5)+`
			 ON CONFLICT (site_name, url) DO NOTHING`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("URL状態の一括挿入に失敗しました: %w", err)
		}
	}
	return nil
}

// pgMarkDeleted はURL群に墓標を付与する。stateは変更しない。
func pgMarkDeleted(ctx context.Context, ex execer, siteName string, urls []string, deletedAt time.Time) error {
	for _, batch := range chunkStrings(urls, updateBatchSize) {
		args := make([]any, 0, len(batch)+2)
		args = append(args, deletedAt.UTC(), siteName)
		for _, u := range batch {
			args = append(args, u)
		}
		_, err := ex.ExecContext(ctx,
			`UPDATE url_states SET deleted_at = $1
			 WHERE site_name = $2 AND url IN (`+pgPlaceholders(3, len(batch))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("墓標付与に失敗しました: %w", err)
		}
	}
	return nil
}

// pgRefreshLastSeen はURL群のlast_seenを更新する。
// clearDeletedがtrueの場合は墓標もクリアする（再出現の扱い）。
func pgRefreshLastSeen(ctx context.Context, ex execer, siteName string, urls []string, seenAt time.Time, clearDeleted bool) error {
	set := `last_seen = $1`
	if clearDeleted {
		set = `last_seen = $1, deleted_at = NULL`
	}
	for _, batch := range chunkStrings(urls, updateBatchSize) {
		args := make([]any, 0, len(batch)+2)
		args = append(args, seenAt.UTC(), siteName)
		for _, u := range batch {
			args = append(args, u)
		}
		_, err := ex.ExecContext(ctx,
			`UPDATE url_states SET `+set+`
			 WHERE site_name = $2 AND url IN (`+pgPlaceholders(3, len(batch))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("last_seenの更新に失敗しました: %w", err)
		}
	}
	return nil
}

// pgValueRows は "($1,$2,...),($6,$7,...)" 形式のVALUES句を組み立てる。
func pgValueRows(rows, cols int) string {
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = "(" + pgPlaceholders(i*cols+1, cols) + ")"
	}
	return strings.Join(parts, ", ")
}

// pgPlaceholders は "$start, $start+1, ..." 形式のプレースホルダ列を組み立てる。
func pgPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// compile-time interface check
var _ URLStateRepository = (*PostgresURLStateRepo)(nil)
