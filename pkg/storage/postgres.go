// Package storage provides the PostgreSQL and in-memory persistence layers
// behind the inventory ledger, the operational records service and the
// report snapshots.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
)

// PostgreSQL error codes handled by the storage layer
const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PoolConfig holds connection pool and retry settings
// 接続プールとリトライの設定
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MaxTxRetries bounds retries of serialization failures and deadlocks
	MaxTxRetries int
	RetryBackoff time.Duration
}

// DefaultPoolConfig returns the default pool settings
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		MaxTxRetries:    3,
		RetryBackoff:    20 * time.Millisecond,
	}
}

// PostgreSQLStorage implements the ledger, records and report stores using PostgreSQL
// PostgreSQLを使用したストレージの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
	pool   PoolConfig
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, pool PoolConfig, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	return NewPostgreSQLStorageFromDB(db, pool, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an already opened database handle
func NewPostgreSQLStorageFromDB(db *sql.DB, pool PoolConfig, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool.MaxTxRetries <= 0 {
		pool.MaxTxRetries = 1
	}

	// 接続プール設定
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return &PostgreSQLStorage{
		db:     db,
		logger: logger.Named("postgres"),
		pool:   pool,
	}
}

// Ping checks the database connection
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// Ledger returns the inventory ledger view
func (s *PostgreSQLStorage) Ledger() inventory.Store {
	return &pgLedger{pgConn: pgConn{q: s.db}, s: s}
}

// Records returns the operational records view
func (s *PostgreSQLStorage) Records() records.Store {
	return &pgRecords{pgConn: pgConn{q: s.db}, s: s}
}

// Source returns the report snapshot source
func (s *PostgreSQLStorage) Source() report.Source { return s }

type pgLedger struct {
	pgConn
	s *PostgreSQLStorage
}

func (l *pgLedger) WithinTx(ctx context.Context, fn func(tx inventory.LedgerTx) error) error {
	return l.s.withTx(ctx, "ledger", func(c *pgConn) error { return fn(c) })
}

type pgRecords struct {
	pgConn
	s *PostgreSQLStorage
}

func (r *pgRecords) WithinTx(ctx context.Context, fn func(tx records.Tx) error) error {
	return r.s.withTx(ctx, "records", func(c *pgConn) error { return fn(c) })
}

// withTx runs fn under READ COMMITTED with row locks and retries
// serialization failures and deadlocks up to MaxTxRetries attempts
// トランザクション実行（競合時はリトライ）
func (s *PostgreSQLStorage) withTx(ctx context.Context, resource string, fn func(c *pgConn) error) error {
	return s.retry(ctx, resource, func() error {
		return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
	})
}

// retry repeats run while it fails with a retryable error, backing off
// linearly; exhausting MaxTxRetries yields a ConflictError
func (s *PostgreSQLStorage) retry(ctx context.Context, resource string, run func() error) error {
	for attempt := 1; ; attempt++ {
		err := run()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt >= s.pool.MaxTxRetries {
			s.logger.Warn("トランザクションのリトライ上限に達しました",
				zap.String("resource", resource),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return farm.NewConflictError("transaction", resource, attempt)
		}

		s.logger.Debug("トランザクションを再試行します",
			zap.String("resource", resource),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pool.RetryBackoff * time.Duration(attempt)):
		}
	}
}

func (s *PostgreSQLStorage) runTx(ctx context.Context, opts *sql.TxOptions, fn func(c *pgConn) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("ロールバック失敗", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(&pgConn{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションコミットに失敗しました: %w", err)
	}
	return nil
}

// Snapshot runs fn inside a read-only REPEATABLE READ transaction
// スナップショット読み取り
func (s *PostgreSQLStorage) Snapshot(ctx context.Context, fn func(r report.Reader) error) error {
	return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(c *pgConn) error {
		return fn(c)
	})
}

// FarmOwner returns the owner of a farm
// 農場の所有者を取得
func (s *PostgreSQLStorage) FarmOwner(ctx context.Context, farmID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM farms WHERE id = $1`, farmID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", farm.NewNotFoundError("farm", farmID)
		}
		return "", fmt.Errorf("農場取得に失敗しました: %w", err)
	}
	return owner, nil
}

// ListFarmIDs lists every farm ID in creation order
// 全農場IDを取得
func (s *PostgreSQLStorage) ListFarmIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM farms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("農場一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("農場IDスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MembershipRole returns the membership role of userID on farmID
// 農場メンバーシップを取得
func (s *PostgreSQLStorage) MembershipRole(ctx context.Context, farmID, userID string) (policy.FarmRole, bool, error) {
	var role policy.FarmRole
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM farm_members WHERE farm_id = $1 AND user_id = $2`,
		farmID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.FarmRoleNone, false, nil
		}
		return policy.FarmRoleNone, false, fmt.Errorf("メンバーシップ取得に失敗しました: %w", err)
	}
	return role, true, nil
}

// CreateFarm registers a farm and its owner membership
// 農場を作成
func (s *PostgreSQLStorage) CreateFarm(ctx context.Context, f *farm.Farm) error {
	return s.runTx(ctx, nil, func(c *pgConn) error {
		if _, err := c.q.ExecContext(ctx,
			`INSERT INTO farms (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
			f.ID, f.Name, f.OwnerID, f.CreatedAt,
		); err != nil {
			if pgCode(err) == pqUniqueViolation {
				return farm.NewValidationError("id", "農場は既に存在します", f.ID)
			}
			return fmt.Errorf("農場作成に失敗しました: %w", err)
		}
		_, err := c.q.ExecContext(ctx,
			`INSERT INTO farm_members (farm_id, user_id, role, created_at) VALUES ($1, $2, $3, $4)`,
			f.ID, f.OwnerID, policy.FarmRoleOwner, f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("農場メンバー作成に失敗しました: %w", err)
		}
		return nil
	})
}

// AddMember grants userID a role on farmID, replacing any existing role
// 農場メンバーを追加
func (s *PostgreSQLStorage) AddMember(ctx context.Context, farmID, userID string, role policy.FarmRole) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO farm_members (farm_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (farm_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		farmID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("農場メンバー追加に失敗しました: %w", err)
	}
	return nil
}

func pgCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	code := pgCode(err)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}

var (
	_ inventory.Store    = (*pgLedger)(nil)
	_ inventory.LedgerTx = (*pgConn)(nil)
	_ records.Store      = (*pgRecords)(nil)
	_ records.Tx         = (*pgConn)(nil)
	_ records.Directory  = (*PostgreSQLStorage)(nil)
	_ report.Reader      = (*pgConn)(nil)
	_ report.Source      = (*PostgreSQLStorage)(nil)
)
