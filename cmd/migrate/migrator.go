package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

const createMigrationTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id SERIAL PRIMARY KEY,
		filename VARCHAR(255) NOT NULL UNIQUE,
		executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		checksum VARCHAR(64) NOT NULL
	)`

// migration is one SQL file on disk
type migration struct {
	Filename string
	Checksum string
	SQL      string
}

// Migrator applies SQL files in filename order, recording each in schema_migrations
// SQLファイルをファイル名順に適用
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMigrator creates a migrator
func NewMigrator(db *sql.DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// Pending lists the migrations not yet applied
func (m *Migrator) Pending(ctx context.Context, dir string) ([]migration, error) {
	if _, err := m.db.ExecContext(ctx, createMigrationTable); err != nil {
		return nil, fmt.Errorf("マイグレーション履歴テーブル作成に失敗しました: %w", err)
	}
	files, err := loadMigrations(dir)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return pending(files, applied)
}

// Up applies every pending migration, each in its own transaction
// 未適用のマイグレーションを実行
func (m *Migrator) Up(ctx context.Context, dir string) (int, error) {
	todo, err := m.Pending(ctx, dir)
	if err != nil {
		return 0, err
	}
	if len(todo) == 0 {
		m.logger.Info("適用するマイグレーションはありません", zap.String("dir", dir))
		return 0, nil
	}

	for i, mig := range todo {
		m.logger.Info("実行中", zap.String("filename", mig.Filename))
		if err := m.apply(ctx, mig); err != nil {
			return i, err
		}
		m.logger.Info("完了", zap.String("filename", mig.Filename), zap.String("checksum", mig.Checksum[:12]))
	}
	return len(todo), nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました %s: %w", mig.Filename, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("マイグレーション実行に失敗しました %s: %w", mig.Filename, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)",
		mig.Filename, mig.Checksum,
	); err != nil {
		return fmt.Errorf("マイグレーション履歴記録に失敗しました %s: %w", mig.Filename, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットに失敗しました %s: %w", mig.Filename, err)
	}
	return nil
}

// applied returns filename -> checksum of executed migrations
func (m *Migrator) applied(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("実行済みマイグレーション取得に失敗しました: %w", err)
	}
	defer rows.Close()

	done := make(map[string]string)
	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, err
		}
		done[filename] = checksum
	}
	return done, rows.Err()
}

// loadMigrations reads dir/*.sql sorted by filename
func loadMigrations(dir string) ([]migration, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("マイグレーションディレクトリが見つかりません: %s: %w", dir, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイル検索に失敗しました: %w", err)
	}
	sort.Strings(files)

	out := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("ファイル読み込みに失敗しました %s: %w", file, err)
		}
		out = append(out, migration{
			Filename: filepath.Base(file),
			Checksum: checksum(content),
			SQL:      string(content),
		})
	}
	return out, nil
}

// pending filters out applied files; an applied file whose content changed is an error
func pending(files []migration, applied map[string]string) ([]migration, error) {
	var todo []migration
	for _, mig := range files {
		sum, ok := applied[mig.Filename]
		if !ok {
			todo = append(todo, mig)
			continue
		}
		if sum != mig.Checksum {
			return nil, fmt.Errorf("適用済みマイグレーションが変更されています: %s", mig.Filename)
		}
	}
	return todo, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
