// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// エンジンごとのマイグレーションディレクトリ（migrations/sqlite, migrations/postgres）を使う。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	engine := DetectEngine(databaseURL)

	source, err := iofs.New(migrationsFS, "migrations/"+string(engine))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL, engine))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// migrateURL はgolang-migrateが解釈できる接続URLに変換する。
// PostgreSQLのURLはそのまま、SQLiteは "sqlite://<path>" 形式にする。
func migrateURL(databaseURL string, engine Engine) string {
	if engine == EnginePostgres {
		return databaseURL
	}
	return "sqlite://" + SQLitePath(databaseURL)
}
