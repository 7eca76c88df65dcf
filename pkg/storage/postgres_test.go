package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

func newRetryStorage(retries int) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		logger: zap.NewNop(),
		pool:   PoolConfig{MaxTxRetries: retries, RetryBackoff: time.Millisecond},
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"シリアライズ失敗", &pq.Error{Code: pqSerializationFailure}, true},
		{"デッドロック", &pq.Error{Code: pqDeadlockDetected}, true},
		{"ラップされた競合", fmt.Errorf("commit: %w", &pq.Error{Code: pqSerializationFailure}), true},
		{"一意制約違反", &pq.Error{Code: "23505"}, false},
		{"一般エラー", errors.New("connection reset"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	conflict := &pq.Error{Code: pqSerializationFailure}

	t.Run("再試行後に成功", func(t *testing.T) {
		calls := 0
		err := newRetryStorage(3).retry(ctx, "inventory", func() error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("上限到達でConflictError", func(t *testing.T) {
		calls := 0
		err := newRetryStorage(3).retry(ctx, "inventory", func() error {
			calls++
			return &pq.Error{Code: pqDeadlockDetected}
		})
		var ce *farm.ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, 3, ce.Attempts)
		assert.Equal(t, "inventory", ce.Resource)
		assert.Equal(t, 3, calls)
		assert.True(t, farm.IsDomainError(err))
	})

	t.Run("再試行しないエラーは即座に返す", func(t *testing.T) {
		calls := 0
		boom := errors.New("syntax error")
		err := newRetryStorage(3).retry(ctx, "records", func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("待機中のキャンセル", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		s := newRetryStorage(5)
		s.pool.RetryBackoff = time.Hour
		err := s.retry(cctx, "records", func() error {
			calls++
			cancel()
			return conflict
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
