package farm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Is(t *testing.T) {
	err := NewNotFoundError("flock", "f-1")

	assert.True(t, errors.Is(err, ErrFlockNotFound))
	assert.False(t, errors.Is(err, ErrRecordNotFound))
	assert.True(t, errors.Is(fmt.Errorf("load: %w", err), ErrFlockNotFound))
	assert.Equal(t, "flock not found: f-1", err.Error())
	assert.Equal(t, "farm not found", ErrFarmNotFound.Error())
}

func TestWrapStorage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStorage bool
	}{
		{"nil", nil, false},
		{"未認証はそのまま", ErrUnauthenticated, false},
		{"NotFoundはそのまま", NewNotFoundError("lot", "l-1"), false},
		{"Forbiddenはそのまま", &ForbiddenError{Reason: "Workers can only edit their own records"}, false},
		{"Conflictはそのまま", NewConflictError("consume", "lot", 3), false},
		{"その他はStorageError", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapStorage("get_lot", "ロット取得に失敗しました", tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			var se *StorageError
			assert.Equal(t, tt.wantStorage, errors.As(got, &se))
			assert.True(t, errors.Is(got, tt.err))
		})
	}
}

func TestForbiddenError_Message(t *testing.T) {
	err := &ForbiddenError{Reason: "Cannot edit records older than 72 hours"}
	assert.Equal(t, "Forbidden: Cannot edit records older than 72 hours", err.Error())
	assert.True(t, IsDomainError(err))
	assert.False(t, IsDomainError(context.DeadlineExceeded))
}

func TestUserIDFromContext(t *testing.T) {
	assert.Equal(t, "system", UserIDFromContext(context.Background()))
	assert.Equal(t, "u-1", UserIDFromContext(WithUserID(context.Background(), "u-1")))
}
