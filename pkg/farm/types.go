// Package farm provides the core farm domain types shared by the ledger,
// attribution and reporting packages
package farm

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FlockType defines the production type of a flock
// 鶏群の生産タイプを定義
type FlockType string

const (
	FlockTypeBroiler FlockType = "BROILER" // ブロイラー
	FlockTypeLayer   FlockType = "LAYER"   // 採卵鶏
	FlockTypeBreeder FlockType = "BREEDER" // 種鶏
)

// ProducesEggs reports whether flocks of this type take part in egg revenue apportionment
// 鶏卵収益の按分対象となるタイプかどうか
func (t FlockType) ProducesEggs() bool {
	return t == FlockTypeLayer || t == FlockTypeBreeder
}

// Valid reports whether the type is one of the known flock types
func (t FlockType) Valid() bool {
	switch t {
	case FlockTypeBroiler, FlockTypeLayer, FlockTypeBreeder:
		return true
	}
	return false
}

// FlockStatus defines the lifecycle status of a flock
// 鶏群のライフサイクル状態を定義
type FlockStatus string

const (
	FlockStatusActive   FlockStatus = "active"   // 飼育中
	FlockStatusArchived FlockStatus = "archived" // アーカイブ済み
)

// Farm is the tenant that owns flocks and inventory
// 農場（テナント）
type Farm struct {
	ID        string    `json:"id" db:"id"`             // 農場ID
	Name      string    `json:"name" db:"name"`         // 農場名
	OwnerID   string    `json:"owner_id" db:"owner_id"` // 所有者ユーザーID
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Flock represents a cohort of birds tracked as one unit
// 一つの単位として追跡される鶏群を表現
type Flock struct {
	ID              string          `json:"id" db:"id"`                             // 鶏群ID
	FarmID          string          `json:"farm_id" db:"farm_id"`                   // 農場ID
	Name            string          `json:"name" db:"name"`                         // 鶏群名
	Type            FlockType       `json:"type" db:"type"`                         // タイプ
	InitialQuantity int64           `json:"initial_quantity" db:"initial_quantity"` // 導入羽数
	CurrentQuantity int64           `json:"current_quantity" db:"current_quantity"` // 現在羽数
	CostPerBird     decimal.Decimal `json:"cost_per_bird" db:"cost_per_bird"`       // 一羽あたり導入費用
	StartDate       time.Time       `json:"start_date" db:"start_date"`             // 導入日
	FirstEggDate    *time.Time      `json:"first_egg_date" db:"first_egg_date"`     // 初産卵日
	Status          FlockStatus     `json:"status" db:"status"`                     // 状態
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`             // 作成日時
}

// AcquisitionCost returns costPerBird * initialQuantity
// 導入費用合計を返す
func (f *Flock) AcquisitionCost() decimal.Decimal {
	return f.CostPerBird.Mul(decimal.NewFromInt(f.InitialQuantity))
}

// RecordKind defines the kind of an operational record
// 作業記録の種類を定義
type RecordKind string

const (
	RecordKindMortality     RecordKind = "MORTALITY"      // 死亡
	RecordKindEggProduction RecordKind = "EGG_PRODUCTION" // 産卵
	RecordKindGrowth        RecordKind = "GROWTH"         // 成長測定
)

// Valid reports whether the kind is known
func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindMortality, RecordKindEggProduction, RecordKindGrowth:
		return true
	}
	return false
}

// OperationalRecord represents a dated mortality, egg-production or growth entry for a flock
// 鶏群ごとの死亡・産卵・成長の作業記録を表現
type OperationalRecord struct {
	ID          string          `json:"id" db:"id"`                   // 記録ID
	FarmID      string          `json:"farm_id" db:"farm_id"`         // 農場ID
	Kind        RecordKind      `json:"kind" db:"kind"`               // 種類
	FlockID     string          `json:"flock_id" db:"flock_id"`       // 鶏群ID
	Date        time.Time       `json:"date" db:"date"`               // 記録日
	Quantity    int64           `json:"quantity" db:"quantity"`       // 数量（死亡羽数・産卵数・測定羽数）
	Measurement decimal.Decimal `json:"measurement" db:"measurement"` // 測定値（平均体重kg）
	Note        string          `json:"note" db:"note"`               // 備考
	RecordedBy  string          `json:"recorded_by" db:"recorded_by"` // 記録者
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`   // 作成日時
}

// RecordFilter narrows operational record listings; zero fields match everything
// 作業記録の検索条件
type RecordFilter struct {
	FarmID  string
	FlockID string
	Kind    RecordKind
	From    *time.Time
	To      *time.Time
}

// Matches reports whether the record satisfies the filter
func (f RecordFilter) Matches(r *OperationalRecord) bool {
	if f.FarmID != "" && r.FarmID != f.FarmID {
		return false
	}
	if f.FlockID != "" && r.FlockID != f.FlockID {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.From != nil && r.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Date.After(*f.To) {
		return false
	}
	return true
}

// BirdResale represents a direct sale of birds from a flock
// 鶏群からの生体販売を表現
type BirdResale struct {
	ID         string          `json:"id" db:"id"`                   // 販売ID
	FarmID     string          `json:"farm_id" db:"farm_id"`         // 農場ID
	FlockID    string          `json:"flock_id" db:"flock_id"`       // 鶏群ID
	Date       time.Time       `json:"date" db:"date"`               // 販売日
	Quantity   int64           `json:"quantity" db:"quantity"`       // 販売羽数
	Revenue    decimal.Decimal `json:"revenue" db:"revenue"`         // 売上
	Buyer      string          `json:"buyer" db:"buyer"`             // 購入者
	RecordedBy string          `json:"recorded_by" db:"recorded_by"` // 記録者
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`   // 作成日時
}

// EggSale represents a farm-wide egg sale that is apportioned across flocks
// 鶏群間で按分される農場全体の鶏卵販売を表現
type EggSale struct {
	ID         string          `json:"id" db:"id"`                   // 販売ID
	FarmID     string          `json:"farm_id" db:"farm_id"`         // 農場ID
	Date       time.Time       `json:"date" db:"date"`               // 販売日
	Quantity   int64           `json:"quantity" db:"quantity"`       // 販売個数
	Revenue    decimal.Decimal `json:"revenue" db:"revenue"`         // 売上
	RecordedBy string          `json:"recorded_by" db:"recorded_by"` // 記録者
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`   // 作成日時
}

// HealthTaskStatus defines the status of a health task
type HealthTaskStatus string

const (
	HealthTaskPending   HealthTaskStatus = "PENDING"   // 未完了
	HealthTaskCompleted HealthTaskStatus = "COMPLETED" // 完了
)

// HealthTask represents a scheduled vaccination or medication task for a flock
// 鶏群のワクチン・投薬タスクを表現
type HealthTask struct {
	ID            string           `json:"id" db:"id"`                         // タスクID
	FlockID       string           `json:"flock_id" db:"flock_id"`             // 鶏群ID
	Title         string           `json:"title" db:"title"`                   // タイトル
	DueDate       time.Time        `json:"due_date" db:"due_date"`             // 予定日
	Status        HealthTaskStatus `json:"status" db:"status"`                 // 状態
	CompletedAt   *time.Time       `json:"completed_at" db:"completed_at"`     // 完了日時
	ConsumptionID *string          `json:"consumption_id" db:"consumption_id"` // 使用在庫の消費記録ID
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`         // 作成日時
}

// MedicationUsage is a completed health task joined with the inventory it consumed
// 完了済みタスクと消費在庫の組み合わせ
type MedicationUsage struct {
	TaskID       string          `json:"task_id"`
	Title        string          `json:"title"`
	CompletedAt  time.Time       `json:"completed_at"`
	LotID        string          `json:"lot_id"`
	QuantityUsed decimal.Decimal `json:"quantity_used"`
}

// TransactionType defines whether a persisted transaction is revenue or expense
// 取引が収益か費用かを定義
type TransactionType string

const (
	TransactionTypeRevenue TransactionType = "REVENUE" // 収益
	TransactionTypeExpense TransactionType = "EXPENSE" // 費用
)

// Transaction represents a persisted farm-level revenue or expense
// 農場レベルで永続化された収益・費用を表現
type Transaction struct {
	ID          string          `json:"id" db:"id"`                   // 取引ID
	FarmID      string          `json:"farm_id" db:"farm_id"`         // 農場ID
	Type        TransactionType `json:"type" db:"type"`               // 種類
	Category    string          `json:"category" db:"category"`       // カテゴリ
	Description string          `json:"description" db:"description"` // 説明
	Amount      decimal.Decimal `json:"amount" db:"amount"`           // 金額（常に正の値）
	Date        time.Time       `json:"date" db:"date"`               // 取引日
	Reference   *string         `json:"reference" db:"reference"`     // 参照（ロットIDなど）
	CreatedBy   string          `json:"created_by" db:"created_by"`   // 作成者
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`   // 作成日時
}

// SignedAmount returns the amount with expenses negative
// 費用を負とした符号付き金額を返す
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// NewID generates a new entity ID
// 新しいエンティティIDを生成
func NewID() string {
	return uuid.New().String()
}

// SameDay reports whether a and b fall on the same calendar day in loc
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
