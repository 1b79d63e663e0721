package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// PostgresSiteStateRepo はPostgreSQLを使用したサイト状態リポジトリ。
type PostgresSiteStateRepo struct {
	db *sql.DB
}

// NewPostgresSiteStateRepo はPostgresSiteStateRepoを生成する。
func NewPostgresSiteStateRepo(db *sql.DB) *PostgresSiteStateRepo {
	return &PostgresSiteStateRepo{db: db}
}

// Find は指定サイトの状態を取得する。見つからない場合はnilを返す。
func (r *PostgresSiteStateRepo) Find(ctx context.Context, siteName string) (*model.SiteState, error) {
	site := &model.SiteState{}
	var lastRun sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT site_name, sitemap_url, last_run, created_at, updated_at
		 FROM site_states WHERE site_name = $1`,
		siteName,
	).Scan(&site.SiteName, &site.SitemapURL, &lastRun, &site.CreatedAt, &site.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サイト状態の取得に失敗しました: %w", err)
	}

	if lastRun.Valid {
		site.LastRun = &lastRun.Time
	}
	return site, nil
}

// List は全サイトの状態をsite_name昇順で返す。
func (r *PostgresSiteStateRepo) List(ctx context.Context) ([]*model.SiteState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT site_name, sitemap_url, last_run, created_at, updated_at
		 FROM site_states ORDER BY site_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("サイト状態一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.SiteState
	for rows.Next() {
		site := &model.SiteState{}
		var lastRun sql.NullTime
		if err := rows.Scan(&site.SiteName, &site.SitemapURL, &lastRun, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, fmt.Errorf("サイト状態の読み取りに失敗しました: %w", err)
		}
		if lastRun.Valid {
			site.LastRun = &lastRun.Time
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイト状態の走査に失敗しました: %w", err)
	}
	return sites, nil
}

// Upsert はサイト状態を冪等にUPSERTする。既存行のcreated_atは保持する。
func (r *PostgresSiteStateRepo) Upsert(ctx context.Context, siteName, sitemapURL string, lastRun time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO site_states (site_name, sitemap_url, last_run, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (site_name) DO UPDATE SET
		     sitemap_url = EXCLUDED.sitemap_url,
		     last_run = EXCLUDED.last_run,
		     updated_at = EXCLUDED.updated_at`,
		siteName, sitemapURL, lastRun.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("サイト状態のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// DeleteWithURLs はサイト状態と配下の全URL状態を同一トランザクションで物理削除する。
func (r *PostgresSiteStateRepo) DeleteWithURLs(ctx context.Context, siteName string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("リセットトランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM url_states WHERE site_name = $1`, siteName); err != nil {
		return fmt.Errorf("URL状態の削除に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM site_states WHERE site_name = $1`, siteName); err != nil {
		return fmt.Errorf("サイト状態の削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("リセットトランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SiteStateRepository = (*PostgresSiteStateRepo)(nil)
