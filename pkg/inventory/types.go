// Package inventory provides the inventory lot costing ledger: lot purchases,
// consumption against a caller-selected lot, reversal and correction of
// consumption, and on-demand unit costs.
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus defines the status of an inventory item
// 在庫品目の状態を定義
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"   // 使用中
	ItemStatusInactive ItemStatus = "inactive" // 停止中
)

// Item represents a stocked input such as a feed or a medication
// 飼料・薬品などの在庫品目を表現
type Item struct {
	ID           string          `json:"id" db:"id"`                       // 品目ID
	FarmID       string          `json:"farm_id" db:"farm_id"`             // 農場ID
	Name         string          `json:"name" db:"name"`                   // 品目名
	Category     string          `json:"category" db:"category"`           // カテゴリ
	Unit         string          `json:"unit" db:"unit"`                   // 単位
	CurrentStock decimal.Decimal `json:"current_stock" db:"current_stock"` // 現在庫（ロット残量の合計）
	Status       ItemStatus      `json:"status" db:"status"`               // 状態
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`       // 作成日時
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`       // 更新日時
}

// ItemKey identifies an item within a farm for find-or-create on purchase
// 購入時の品目検索キー
type ItemKey struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required"`
	Unit     string `json:"unit"`
}

// Lot represents one discrete purchase batch of an item
// 品目の一回の購入バッチを表現
type Lot struct {
	ID                   string          `json:"id" db:"id"`                                         // ロットID
	ItemID               string          `json:"item_id" db:"item_id"`                               // 品目ID
	FarmID               string          `json:"farm_id" db:"farm_id"`                               // 農場ID
	PurchaseDate         time.Time       `json:"purchase_date" db:"purchase_date"`                   // 購入日
	InitialQuantity      decimal.Decimal `json:"initial_quantity" db:"initial_quantity"`             // 購入数量
	RemainingQuantity    decimal.Decimal `json:"remaining_quantity" db:"remaining_quantity"`         // 残量
	Unit                 string          `json:"unit" db:"unit"`                                     // 単位
	TotalCost            decimal.Decimal `json:"total_cost" db:"total_cost"`                         // 購入総額
	UnitConversionFactor decimal.Decimal `json:"unit_conversion_factor" db:"unit_conversion_factor"` // 単位換算係数
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`                         // 作成日時
}

// UnitCost returns totalCost / initialQuantity, ErrInvalidQuantity for an empty lot
// 単価を計算（購入数量0の場合はエラー）
func (l *Lot) UnitCost() (decimal.Decimal, error) {
	if !l.InitialQuantity.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	return l.TotalCost.Div(l.InitialQuantity), nil
}

// LotInput carries the purchase details of a new lot
// 新規ロットの購入情報
type LotInput struct {
	PurchaseDate     time.Time       `json:"purchase_date" validate:"required"`
	InitialQuantity  decimal.Decimal `json:"initial_quantity"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Unit             string          `json:"unit"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
}

// ConsumptionKind defines what an inventory consumption was used for
// 在庫消費の用途を定義
type ConsumptionKind string

const (
	ConsumptionKindFeed       ConsumptionKind = "FEED"       // 給餌
	ConsumptionKindMedication ConsumptionKind = "MEDICATION" // 投薬
)

// Valid reports whether the kind is known
func (k ConsumptionKind) Valid() bool {
	return k == ConsumptionKindFeed || k == ConsumptionKindMedication
}

// ConsumptionRecord represents feed or medication drawn from a lot for a flock
// 鶏群のためにロットから使用された飼料・薬品を表現
type ConsumptionRecord struct {
	ID           string          `json:"id" db:"id"`                         // 消費記録ID
	FarmID       string          `json:"farm_id" db:"farm_id"`               // 農場ID
	Kind         ConsumptionKind `json:"kind" db:"kind"`                     // 用途
	FlockID      string          `json:"flock_id" db:"flock_id"`             // 鶏群ID
	LotID        string          `json:"lot_id" db:"lot_id"`                 // ロットID
	ItemID       string          `json:"item_id" db:"item_id"`               // 品目ID
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`             // 数量
	Date         time.Time       `json:"date" db:"date"`                     // 使用日
	Note         string          `json:"note" db:"note"`                     // 備考
	HealthTaskID *string         `json:"health_task_id" db:"health_task_id"` // 健康タスクID
	RecordedBy   string          `json:"recorded_by" db:"recorded_by"`       // 記録者
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`         // 作成日時
}

// ConsumptionFilter narrows consumption listings; zero fields match everything
// 消費記録の検索条件（ゼロ値は全件一致）
type ConsumptionFilter struct {
	FarmID  string
	FlockID string
	ItemID  string
	LotID   string
	Kind    ConsumptionKind
	From    *time.Time
	To      *time.Time
}

// Matches reports whether the record satisfies the filter
func (f ConsumptionFilter) Matches(c *ConsumptionRecord) bool {
	if f.FarmID != "" && c.FarmID != f.FarmID {
		return false
	}
	if f.FlockID != "" && c.FlockID != f.FlockID {
		return false
	}
	if f.ItemID != "" && c.ItemID != f.ItemID {
		return false
	}
	if f.LotID != "" && c.LotID != f.LotID {
		return false
	}
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.From != nil && c.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && c.Date.After(*f.To) {
		return false
	}
	return true
}

// ConsumptionInput carries the details of a new consumption
// 新規消費の入力
type ConsumptionInput struct {
	LotID        string          `json:"lot_id"`
	FlockID      string          `json:"flock_id"`
	Kind         ConsumptionKind `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	Date         time.Time       `json:"date"`
	Note         string          `json:"note"`
	HealthTaskID *string         `json:"health_task_id"`
	RecordedBy   string          `json:"recorded_by"`
}

// ItemValuation is the on-hand value of one item
// 品目ごとの在庫評価額
type ItemValuation struct {
	ItemID        string          `json:"item_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	OnHand        decimal.Decimal `json:"on_hand"`
	Value         decimal.Decimal `json:"value"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	ActiveLots    int             `json:"active_lots"`
	ExhaustedLots int             `json:"exhausted_lots"`
}

// StockDrift describes an item whose stored stock disagrees with its lots
// 品目在庫とロット残量の不一致
type StockDrift struct {
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	LotRemaining decimal.Decimal `json:"lot_remaining"`
	Difference   decimal.Decimal `json:"difference"`
}

// ReconciliationReport summarizes a reconciliation run for a farm
// 在庫照合の結果
type ReconciliationReport struct {
	FarmID       string       `json:"farm_id"`
	CheckedItems int          `json:"checked_items"`
	Drifts       []StockDrift `json:"drifts"`
	LowStock     []Item       `json:"low_stock"`
	CheckedAt    time.Time    `json:"checked_at"`
}

// Movement is one entry of an item's stock movement history
// 在庫移動履歴の一件
type Movement struct {
	Date      time.Time       `json:"date"`
	Type      string          `json:"type"` // purchase | consumption
	Reference string          `json:"reference"`
	LotID     string          `json:"lot_id"`
	FlockID   string          `json:"flock_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"` // 入庫は正、出庫は負
	Balance   decimal.Decimal `json:"balance"`
}
