package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrItemNotFound is returned when an item doesn't exist
	// 品目が存在しない場合のエラー
	ErrItemNotFound = &farm.NotFoundError{Entity: "inventory_item"}

	// ErrLotNotFound is returned when a lot doesn't exist
	// ロットが存在しない場合のエラー
	ErrLotNotFound = &farm.NotFoundError{Entity: "inventory_lot"}

	// ErrConsumptionNotFound is returned when a consumption record doesn't exist
	// 消費記録が存在しない場合のエラー
	ErrConsumptionNotFound = &farm.NotFoundError{Entity: "consumption_record"}

	// ErrInvalidQuantity is returned for zero or negative quantities
	// 数量が0以下の場合のエラー
	ErrInvalidQuantity error = &ledgerError{msg: "数量は正の値である必要があります"}
)

type ledgerError struct{ msg string }

func (e *ledgerError) Error() string { return e.msg }

func (e *ledgerError) DomainError() {}

// invalidQuantity wraps ErrInvalidQuantity with the offending field
func invalidQuantity(field string, value decimal.Decimal) error {
	return fmt.Errorf("%w [%s: %s]", ErrInvalidQuantity, field, value.String())
}

// InsufficientStockError is returned when an item or lot cannot cover a draw
// 在庫不足エラー
type InsufficientStockError struct {
	ItemID    string          `json:"item_id"`   // 品目ID
	LotID     string          `json:"lot_id"`    // ロットID
	Requested decimal.Decimal `json:"requested"` // 要求数量
	Available decimal.Decimal `json:"available"` // 利用可能数量
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("在庫が不足しています [item=%s]: 要求=%s 利用可能=%s", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) DomainError() {}

// NewInsufficientStockError creates a new insufficient stock error
func NewInsufficientStockError(itemID, lotID string, requested, available decimal.Decimal) *InsufficientStockError {
	return &InsufficientStockError{ItemID: itemID, LotID: lotID, Requested: requested, Available: available}
}

// BusinessRuleError represents a business rule violation
// ビジネスルール違反を表現
type BusinessRuleError struct {
	Rule    string `json:"rule"`    // ルール名
	Message string `json:"message"` // エラーメッセージ
	Context string `json:"context"` // コンテキスト情報
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("ビジネスルール違反 [%s]: %s (コンテキスト: %s)", e.Rule, e.Message, e.Context)
}

func (e *BusinessRuleError) DomainError() {}

// NewBusinessRuleError creates a new business rule error
// 新しいビジネスルールエラーを作成
func NewBusinessRuleError(rule, message, context string) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// IsInsufficientStock reports whether err is a stock shortfall
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}
