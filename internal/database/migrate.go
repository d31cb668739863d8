// Package database はPostgreSQL接続と埋め込みマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動修復が必要な状態を表す。
var ErrDirtySchema = errors.New("schema is dirty")

// MigrationResult はマイグレーション前後のスキーマバージョン。
// 未適用のデータベースではFromは0になる。
type MigrationResult struct {
	From    uint
	To      uint
	Applied bool
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations embedded: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration after %d: %w", v, err)
		}
		v = next
	}
}

// RunMigrations は未適用のマイグレーションを最新まで適用する。
// すでに最新の場合はApplied=falseで返る。dirty状態のスキーマには手を付けずErrDirtySchemaを返す。
func RunMigrations(databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, dirty, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}
	result := MigrationResult{From: from, To: from}
	if dirty {
		return result, fmt.Errorf("version %d: %w", from, ErrDirtySchema)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("スキーマは最新です", slog.Uint64("version", uint64(from)))
			return result, nil
		}
		return result, fmt.Errorf("failed to run migrations from version %d: %w", from, err)
	}

	to, _, err := schemaVersion(m)
	if err != nil {
		return result, err
	}
	result.To = to
	result.Applied = true

	logger.Info("マイグレーションを適用しました",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("to_version", uint64(to)),
	)
	return result, nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, dirty, nil
}
