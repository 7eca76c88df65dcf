package farm

import (
	"errors"
	"fmt"
)

// Common errors shared across the engine
// エンジン共通のエラー定義

var (
	// ErrUnauthenticated is returned when no actor is attached to a request
	// 認証されていない場合のエラー
	ErrUnauthenticated = errors.New("認証されていません")

	// ErrFlockNotFound is returned when a flock doesn't exist
	// 鶏群が存在しない場合のエラー
	ErrFlockNotFound = &NotFoundError{Entity: "flock"}

	// ErrRecordNotFound is returned when an operational record doesn't exist
	// 作業記録が存在しない場合のエラー
	ErrRecordNotFound = &NotFoundError{Entity: "record"}

	// ErrHealthTaskNotFound is returned when a health task doesn't exist
	ErrHealthTaskNotFound = &NotFoundError{Entity: "health_task"}

	// ErrFarmNotFound is returned when a farm doesn't exist
	ErrFarmNotFound = &NotFoundError{Entity: "farm"}
)

// NotFoundError represents a missing entity
// 存在しないエンティティを表現
type NotFoundError struct {
	Entity string `json:"entity"` // エンティティ名
	ID     string `json:"id"`     // ID
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Is matches any NotFoundError for the same entity so sentinels work with errors.Is
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Entity == e.Entity && (t.ID == "" || t.ID == e.ID)
}

// NewNotFoundError creates a not found error for an entity instance
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ForbiddenError represents a policy denial with a stable reason
// 安定した理由文字列を持つポリシー拒否を表現
type ForbiddenError struct {
	Reason string `json:"reason"`
}

func (e *ForbiddenError) Error() string {
	return "Forbidden: " + e.Reason
}

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s (value: %s)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ConflictError is returned when a concurrent-mutation retry budget is exhausted
// 同時更新のリトライ上限に達した場合のエラー
type ConflictError struct {
	Operation string `json:"operation"` // 操作名
	Resource  string `json:"resource"`  // リソース
	Attempts  int    `json:"attempts"`  // 試行回数
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict [%s:%s]: gave up after %d attempts", e.Operation, e.Resource, e.Attempts)
}

// NewConflictError creates a new conflict error
func NewConflictError(operation, resource string, attempts int) *ConflictError {
	return &ConflictError{Operation: operation, Resource: resource, Attempts: attempts}
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"-"`         // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// WrapStorage passes domain errors through untouched and wraps anything else as a StorageError
// ドメインエラーはそのまま返し、それ以外はストレージエラーとして包む
func WrapStorage(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return NewStorageError(operation, message, err)
}

// IsDomainError reports whether err belongs to the recoverable taxonomy rather than an internal failure
func IsDomainError(err error) bool {
	var (
		nf  *NotFoundError
		fb  *ForbiddenError
		ve  *ValidationError
		ce  *ConflictError
		dom interface{ DomainError() }
	)
	return errors.Is(err, ErrUnauthenticated) ||
		errors.As(err, &nf) ||
		errors.As(err, &fb) ||
		errors.As(err, &ve) ||
		errors.As(err, &ce) ||
		errors.As(err, &dom)
}
