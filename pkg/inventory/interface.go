package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// Store defines the persistence layer the ledger runs against
// 在庫台帳の永続化層インターフェースを定義
type Store interface {
	// WithinTx runs fn in one atomic unit of work; any error rolls back everything fn wrote
	// 一つのトランザクション内でfnを実行
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// 照会 - Reads
	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListItems(ctx context.Context, farmID string) ([]Item, error)
	GetLot(ctx context.Context, lotID string) (*Lot, error)
	ListLots(ctx context.Context, itemID string) ([]Lot, error)
	GetConsumption(ctx context.Context, recordID string) (*ConsumptionRecord, error)
	ListConsumption(ctx context.Context, filter ConsumptionFilter) ([]ConsumptionRecord, error)
}

// LedgerTx is the transactional view handed to WithinTx callbacks.
// Lock* methods take row locks held until the transaction ends; callers lock
// consumption, then lot, then item.
// トランザクション内の操作（ロック順: 消費記録 → ロット → 品目）
type LedgerTx interface {
	// FindOrCreateItem returns the locked item for (farm, name, category), inserting candidate when absent
	FindOrCreateItem(ctx context.Context, candidate *Item) (*Item, error)
	LockItem(ctx context.Context, itemID string) (*Item, error)
	UpdateItemStock(ctx context.Context, itemID string, stock decimal.Decimal, updatedAt time.Time) error

	CreateLot(ctx context.Context, lot *Lot) error
	LockLot(ctx context.Context, lotID string) (*Lot, error)
	UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error

	CreateConsumption(ctx context.Context, record *ConsumptionRecord) error
	LockConsumption(ctx context.Context, recordID string) (*ConsumptionRecord, error)
	UpdateConsumptionQuantity(ctx context.Context, recordID string, quantity decimal.Decimal) error
	DeleteConsumption(ctx context.Context, recordID string) error

	// CreateTransaction records the linked procurement expense
	CreateTransaction(ctx context.Context, tx *farm.Transaction) error
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
	PublishLowStockAlert(ctx context.Context, event LowStockAlertEvent) error
}

// Observer receives the outcome of every ledger operation, e.g. for metrics
type Observer interface {
	ObserveLedgerOp(op string, duration time.Duration, err error)
}

// Events for inventory operations
// 在庫操作のイベント定義

// StockChangedEvent represents an item stock change
// 在庫数量変更イベントを表現
type StockChangedEvent struct {
	ItemID      string          `json:"item_id"`
	FarmID      string          `json:"farm_id"`
	LotID       string          `json:"lot_id"`
	OldQuantity decimal.Decimal `json:"old_quantity"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
	ChangeType  string          `json:"change_type"`
	Reference   string          `json:"reference"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"user_id"`
}

// LowStockAlertEvent represents a low stock alert
// 低在庫アラートイベントを表現
type LowStockAlertEvent struct {
	ItemID     string          `json:"item_id"`
	FarmID     string          `json:"farm_id"`
	Name       string          `json:"name"`
	CurrentQty decimal.Decimal `json:"current_qty"`
	Threshold  decimal.Decimal `json:"threshold"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Change types carried by StockChangedEvent
const (
	ChangePurchase    = "purchase"
	ChangeConsumption = "consumption"
	ChangeReversal    = "reversal"
	ChangeEdit        = "edit"
)
