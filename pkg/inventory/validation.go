package inventory

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

var unitPattern = regexp.MustCompile(`^[\p{L}\p{N} ._/%-]+$`)

// maxQuantity guards against obviously mistyped quantities
var maxQuantity = decimal.NewFromInt(999999999)

// ValidateID エンティティIDの形式をバリデーション
func ValidateID(field, id string) error {
	if id == "" {
		return farm.NewValidationError(field, "IDが空です", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return farm.NewValidationError(field, "IDの形式が不正です", id)
	}
	return nil
}

// ValidateQuantity 数量をバリデーション（0以下は ErrInvalidQuantity）
func ValidateQuantity(field string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return invalidQuantity(field, quantity)
	}
	if quantity.GreaterThan(maxQuantity) {
		return farm.NewValidationError(field, "数量が有効範囲を超えています", quantity.String())
	}
	return nil
}

// ValidateItemKey 品目キーをバリデーション
func ValidateItemKey(key ItemKey) error {
	if strings.TrimSpace(key.Name) == "" {
		return farm.NewValidationError("name", "品目名が空です", key.Name)
	}
	if len(key.Name) > 500 {
		return farm.NewValidationError("name", "品目名が長すぎます", key.Name)
	}
	if strings.TrimSpace(key.Category) == "" {
		return farm.NewValidationError("category", "カテゴリが空です", key.Category)
	}
	if len(key.Category) > 255 {
		return farm.NewValidationError("category", "カテゴリが長すぎます", key.Category)
	}
	return ValidateUnit(key.Unit)
}

// ValidateUnit 単位をバリデーション（空は許可）
func ValidateUnit(unit string) error {
	if unit == "" {
		return nil
	}
	if len(unit) > 50 || !unitPattern.MatchString(unit) {
		return farm.NewValidationError("unit", "単位に無効な文字が含まれています", unit)
	}
	return nil
}

// ValidateLotInput ロット購入入力をバリデーション
func ValidateLotInput(in LotInput) error {
	if err := ValidateQuantity("initial_quantity", in.InitialQuantity); err != nil {
		return err
	}
	if in.TotalCost.IsNegative() {
		return farm.NewValidationError("total_cost", "購入総額は0以上である必要があります", in.TotalCost.String())
	}
	if in.ConversionFactor.IsNegative() {
		return farm.NewValidationError("conversion_factor", "単位換算係数は正の値である必要があります", in.ConversionFactor.String())
	}
	if in.PurchaseDate.IsZero() {
		return farm.NewValidationError("purchase_date", "購入日が空です", "")
	}
	return ValidateUnit(in.Unit)
}

// ValidateConsumptionInput 消費入力をバリデーション
func ValidateConsumptionInput(in ConsumptionInput) error {
	if err := ValidateQuantity("quantity", in.Quantity); err != nil {
		return err
	}
	if err := ValidateID("lot_id", in.LotID); err != nil {
		return err
	}
	if in.FlockID == "" {
		return farm.NewValidationError("flock_id", "鶏群IDが空です", in.FlockID)
	}
	if !in.Kind.Valid() {
		return farm.NewValidationError("kind", "消費種別が不正です", string(in.Kind))
	}
	if len(in.Note) > 2000 {
		return farm.NewValidationError("note", "備考が長すぎます", in.Note[:50])
	}
	return nil
}

// ValidateLot ロットの整合性をバリデーション（0 <= 残量 <= 購入数量）
func ValidateLot(lot *Lot) error {
	if lot.ItemID == "" {
		return farm.NewValidationError("item_id", "品目IDが空です", lot.ItemID)
	}
	if !lot.InitialQuantity.IsPositive() {
		return invalidQuantity("initial_quantity", lot.InitialQuantity)
	}
	if lot.RemainingQuantity.IsNegative() || lot.RemainingQuantity.GreaterThan(lot.InitialQuantity) {
		return farm.NewValidationError("remaining_quantity", "残量が範囲外です", lot.RemainingQuantity.String())
	}
	if !lot.UnitConversionFactor.IsPositive() {
		return farm.NewValidationError("unit_conversion_factor", "単位換算係数は正の値である必要があります", lot.UnitConversionFactor.String())
	}
	return nil
}

// ValidateDateRange 期間をバリデーション
func ValidateDateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return farm.NewValidationError("date_range", "期間が指定されていません", "")
	}
	if to.Before(from) {
		return farm.NewValidationError("date_range", "終了日が開始日より前です", to.Format(time.RFC3339))
	}
	return nil
}
