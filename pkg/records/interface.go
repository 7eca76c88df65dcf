// Package records implements the operational record workflows of a farm:
// flocks, mortality, egg production and growth records, sales, manual
// transactions, health tasks and feed/medication consumption. Every edit and
// delete of a historical record is gated by the single policy evaluator.
package records

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
)

// Store defines the persistence layer for operational records
// 作業記録の永続化層インターフェースを定義
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetFlock(ctx context.Context, flockID string) (*farm.Flock, error)
	ListFlocks(ctx context.Context, farmID string) ([]farm.Flock, error)
	GetRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error)
	ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error)
	ListBirdResales(ctx context.Context, flockID string) ([]farm.BirdResale, error)
	ListEggSales(ctx context.Context, farmID string) ([]farm.EggSale, error)
	ListTransactions(ctx context.Context, farmID string, from, to time.Time) ([]farm.Transaction, error)
	GetHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error)
	ListHealthTasks(ctx context.Context, flockID string) ([]farm.HealthTask, error)
}

// Tx is the transactional view handed to WithinTx callbacks. It includes the
// ledger operations so a health task and its medication draw share one commit.
// トランザクション内の操作
type Tx interface {
	inventory.LedgerTx

	CreateFlock(ctx context.Context, flock *farm.Flock) error
	LockFlock(ctx context.Context, flockID string) (*farm.Flock, error)
	UpdateFlock(ctx context.Context, flock *farm.Flock) error

	CreateRecord(ctx context.Context, record *farm.OperationalRecord) error
	LockRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error)
	ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error)
	UpdateRecord(ctx context.Context, record *farm.OperationalRecord) error
	DeleteRecord(ctx context.Context, recordID string) error

	CreateBirdResale(ctx context.Context, sale *farm.BirdResale) error
	CreateEggSale(ctx context.Context, sale *farm.EggSale) error

	CreateHealthTask(ctx context.Context, task *farm.HealthTask) error
	LockHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error)
	UpdateHealthTask(ctx context.Context, task *farm.HealthTask) error
}

// Directory is the read-only farm ownership and membership collaborator
// 農場の所有者・メンバーシップの参照
type Directory interface {
	FarmOwner(ctx context.Context, farmID string) (string, error)
	MembershipRole(ctx context.Context, farmID, userID string) (policy.FarmRole, bool, error)
}

// Ledger is the part of the inventory ledger the service drives
type Ledger interface {
	PurchaseLot(ctx context.Context, farmID string, key inventory.ItemKey, in inventory.LotInput) (*inventory.Lot, error)
	RecordConsumption(ctx context.Context, in inventory.ConsumptionInput) (*inventory.ConsumptionRecord, error)
	ConsumeWithin(ctx context.Context, tx inventory.LedgerTx, in inventory.ConsumptionInput) (*inventory.ConsumptionRecord, func(context.Context), error)
	EditConsumption(ctx context.Context, recordID string, quantity decimal.Decimal) (*inventory.ConsumptionRecord, error)
	ReverseConsumption(ctx context.Context, recordID string) error
	GetConsumption(ctx context.Context, recordID string) (*inventory.ConsumptionRecord, error)
	GetLot(ctx context.Context, lotID string) (*inventory.Lot, error)
}

// PolicyObserver receives every policy decision, e.g. for metrics
type PolicyObserver interface {
	ObservePolicyDecision(role policy.FarmRole, authorized bool)
}

// ChangeNotifier is told after a mutation for a farm has committed
// 農場データの変更通知を受け取る
type ChangeNotifier interface {
	FarmChanged(ctx context.Context, farmID string)
}

// Session is the authenticated caller supplied by the session collaborator
// セッション協調者から渡される認証済みユーザー
type Session struct {
	UserID       string              `json:"user_id"`
	PlatformRole policy.PlatformRole `json:"platform_role"`
}

// FlockInput registers a new flock
type FlockInput struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Type            farm.FlockType  `json:"type" validate:"required,oneof=BROILER LAYER BREEDER"`
	InitialQuantity int64           `json:"initial_quantity" validate:"gt=0"`
	CostPerBird     decimal.Decimal `json:"cost_per_bird"`
	StartDate       time.Time       `json:"start_date" validate:"required"`
}

// RecordInput creates a mortality, egg-production or growth record
type RecordInput struct {
	FlockID     string          `json:"flock_id" validate:"required"`
	Kind        farm.RecordKind `json:"kind" validate:"required,oneof=MORTALITY EGG_PRODUCTION GROWTH"`
	Date        time.Time       `json:"date" validate:"required"`
	Quantity    int64           `json:"quantity" validate:"gte=0"`
	Measurement decimal.Decimal `json:"measurement"`
	Note        string          `json:"note" validate:"max=2000"`
}

// RecordUpdate changes an existing record; nil fields are left untouched
type RecordUpdate struct {
	Date        *time.Time       `json:"date"`
	Quantity    *int64           `json:"quantity" validate:"omitempty,gte=0"`
	Measurement *decimal.Decimal `json:"measurement"`
	Note        *string          `json:"note" validate:"omitempty,max=2000"`
}

// ResaleInput records a direct sale of birds
type ResaleInput struct {
	FlockID  string          `json:"flock_id" validate:"required"`
	Date     time.Time       `json:"date" validate:"required"`
	Quantity int64           `json:"quantity" validate:"gt=0"`
	Revenue  decimal.Decimal `json:"revenue"`
	Buyer    string          `json:"buyer" validate:"max=200"`
}

// EggSaleInput records a farm-wide egg sale
type EggSaleInput struct {
	Date     time.Time       `json:"date" validate:"required"`
	Quantity int64           `json:"quantity" validate:"gt=0"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// TransactionInput records a manual revenue or expense
type TransactionInput struct {
	Type        farm.TransactionType `json:"type" validate:"required,oneof=REVENUE EXPENSE"`
	Category    string               `json:"category" validate:"required,max=100"`
	Description string               `json:"description" validate:"max=500"`
	Amount      decimal.Decimal      `json:"amount"`
	Date        time.Time            `json:"date" validate:"required"`
}

// HealthTaskInput schedules a health task
type HealthTaskInput struct {
	FlockID string    `json:"flock_id" validate:"required"`
	Title   string    `json:"title" validate:"required,max=200"`
	DueDate time.Time `json:"due_date" validate:"required"`
}

// UsageInput is the inventory drawn when a health task is completed
type UsageInput struct {
	LotID    string          `json:"lot_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}
