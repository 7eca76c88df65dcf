package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// Tracker handles stock reconciliation and movement history
// 在庫照合と移動履歴を処理
type Tracker struct {
	store     Store
	publisher EventPublisher
	logger    *zap.Logger
	threshold decimal.Decimal
	now       func() time.Time
}

// NewTracker creates a new tracker
// 新しい追跡マネージャーを作成
func NewTracker(store Store, publisher EventPublisher, logger *zap.Logger, config *Config) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("tracking"),
		threshold: config.LowStockThreshold,
		now:       time.Now,
	}
}

// Reconcile compares each item's stored stock with the sum of its lots' remaining quantities
// 品目在庫とロット残量の合計を照合
func (t *Tracker) Reconcile(ctx context.Context, farmID string) (*ReconciliationReport, error) {
	items, err := t.store.ListItems(ctx, farmID)
	if err != nil {
		return nil, farm.WrapStorage("list_items", "品目一覧の取得に失敗しました", err)
	}

	report := &ReconciliationReport{
		FarmID:    farmID,
		Drifts:    []StockDrift{},
		LowStock:  []Item{},
		CheckedAt: t.now(),
	}

	for _, item := range items {
		lots, err := t.store.ListLots(ctx, item.ID)
		if err != nil {
			return nil, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
		}

		remaining := decimal.Zero
		for _, lot := range lots {
			remaining = remaining.Add(lot.RemainingQuantity)
		}

		if !remaining.Equal(item.CurrentStock) {
			report.Drifts = append(report.Drifts, StockDrift{
				ItemID:       item.ID,
				Name:         item.Name,
				CurrentStock: item.CurrentStock,
				LotRemaining: remaining,
				Difference:   item.CurrentStock.Sub(remaining),
			})
			t.logger.Warn("在庫不一致を検出しました",
				zap.String("item_id", item.ID),
				zap.String("current_stock", item.CurrentStock.String()),
				zap.String("lot_remaining", remaining.String()),
			)
		}

		if item.Status == ItemStatusActive && t.threshold.IsPositive() && !item.CurrentStock.GreaterThan(t.threshold) {
			report.LowStock = append(report.LowStock, item)
			t.raiseLowStock(ctx, item)
		}
		report.CheckedItems++
	}

	t.logger.Info("在庫照合完了",
		zap.String("farm_id", farmID),
		zap.Int("checked_items", report.CheckedItems),
		zap.Int("drifts", len(report.Drifts)),
		zap.Int("low_stock", len(report.LowStock)),
	)

	return report, nil
}

// MovementHistory lists an item's purchases and consumption with a running balance.
// limit > 0 keeps only the most recent entries.
// 品目の入出庫履歴を残高付きで取得
func (t *Tracker) MovementHistory(ctx context.Context, itemID string, limit int) ([]Movement, error) {
	lots, err := t.store.ListLots(ctx, itemID)
	if err != nil {
		return nil, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
	}
	records, err := t.store.ListConsumption(ctx, ConsumptionFilter{ItemID: itemID})
	if err != nil {
		return nil, farm.WrapStorage("list_consumption", "消費記録一覧の取得に失敗しました", err)
	}

	movements := make([]Movement, 0, len(lots)+len(records))
	for _, lot := range lots {
		movements = append(movements, Movement{
			Date:      lot.PurchaseDate,
			Type:      ChangePurchase,
			Reference: lot.ID,
			LotID:     lot.ID,
			Quantity:  lot.InitialQuantity,
		})
	}
	for _, rec := range records {
		movements = append(movements, Movement{
			Date:      rec.Date,
			Type:      ChangeConsumption,
			Reference: rec.ID,
			LotID:     rec.LotID,
			FlockID:   rec.FlockID,
			Quantity:  rec.Quantity.Neg(),
		})
	}

	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].Date.Before(movements[j].Date)
	})

	balance := decimal.Zero
	for i := range movements {
		balance = balance.Add(movements[i].Quantity)
		movements[i].Balance = balance
	}

	if limit > 0 && len(movements) > limit {
		movements = movements[len(movements)-limit:]
	}
	return movements, nil
}

func (t *Tracker) raiseLowStock(ctx context.Context, item Item) {
	if t.publisher == nil {
		return
	}
	event := LowStockAlertEvent{
		ItemID:     item.ID,
		FarmID:     item.FarmID,
		Name:       item.Name,
		CurrentQty: item.CurrentStock,
		Threshold:  t.threshold,
		Timestamp:  t.now(),
	}
	if err := t.publisher.PublishLowStockAlert(ctx, event); err != nil {
		t.logger.Error("低在庫アラートイベント発行に失敗しました", zap.String("item_id", item.ID), zap.Error(err))
	}
}
