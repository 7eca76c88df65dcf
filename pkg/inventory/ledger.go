package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// Ledger implements the inventory lot costing ledger
// 在庫ロット原価台帳の実装
type Ledger struct {
	store     Store          // ストレージ層
	publisher EventPublisher // イベント発行者
	observer  Observer       // メトリクス
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
	now       func() time.Time
}

// Config holds configuration for the inventory ledger
// 在庫台帳の設定を保持
type Config struct {
	LowStockThreshold decimal.Decimal `yaml:"low_stock_threshold"` // 低在庫閾値（0で無効）
	DefaultUnit       string          `yaml:"default_unit"`        // デフォルト単位
}

// DefaultConfig returns the ledger defaults
func DefaultConfig() *Config {
	return &Config{
		LowStockThreshold: decimal.NewFromInt(10),
		DefaultUnit:       "kg",
	}
}

// NewLedger creates a new inventory ledger
// 新しい在庫台帳を作成
func NewLedger(store Store, publisher EventPublisher, logger *zap.Logger, config *Config) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("inventory"),
		config:    config,
		now:       time.Now,
	}
}

// WithObserver attaches an operation observer
func (l *Ledger) WithObserver(o Observer) *Ledger {
	l.observer = o
	return l
}

// WithClock overrides the ledger clock
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// PurchaseLot records a lot purchase, finding or creating its item
// ロットを購入し、品目在庫と調達費用を記録
func (l *Ledger) PurchaseLot(ctx context.Context, farmID string, key ItemKey, in LotInput) (lot *Lot, err error) {
	defer l.observe("purchase_lot", l.now())(&err)

	// 書き込み前に数量を検証（孤立ロットを作らない）
	if err := ValidateLotInput(in); err != nil {
		return nil, err
	}
	if err := ValidateItemKey(key); err != nil {
		return nil, err
	}
	if farmID == "" {
		return nil, farm.NewValidationError("farm_id", "農場IDが空です", farmID)
	}

	unit := in.Unit
	if unit == "" {
		unit = key.Unit
	}
	if unit == "" {
		unit = l.config.DefaultUnit
	}
	factor := in.ConversionFactor
	if factor.IsZero() {
		factor = decimal.NewFromInt(1)
	}
	userID := farm.UserIDFromContext(ctx)

	var (
		item     *Item
		oldStock decimal.Decimal
	)
	err = l.store.WithinTx(ctx, func(tx LedgerTx) error {
		now := l.now()
		found, err := tx.FindOrCreateItem(ctx, &Item{
			ID:           farm.NewID(),
			FarmID:       farmID,
			Name:         key.Name,
			Category:     key.Category,
			Unit:         unit,
			CurrentStock: decimal.Zero,
			Status:       ItemStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}

		lot = &Lot{
			ID:                   farm.NewID(),
			ItemID:               found.ID,
			FarmID:               farmID,
			PurchaseDate:         in.PurchaseDate,
			InitialQuantity:      in.InitialQuantity,
			RemainingQuantity:    in.InitialQuantity,
			Unit:                 unit,
			TotalCost:            in.TotalCost,
			UnitConversionFactor: factor,
			CreatedAt:            now,
		}
		if err := tx.CreateLot(ctx, lot); err != nil {
			return err
		}

		oldStock = found.CurrentStock
		found.CurrentStock = found.CurrentStock.Add(in.InitialQuantity)
		found.UpdatedAt = now
		if err := tx.UpdateItemStock(ctx, found.ID, found.CurrentStock, now); err != nil {
			return err
		}

		// 調達費用を同一トランザクションで記録
		if in.TotalCost.IsPositive() {
			ref := lot.ID
			if err := tx.CreateTransaction(ctx, &farm.Transaction{
				ID:          farm.NewID(),
				FarmID:      farmID,
				Type:        farm.TransactionTypeExpense,
				Category:    key.Category,
				Description: fmt.Sprintf("Purchase: %s (%s %s)", key.Name, in.InitialQuantity.String(), unit),
				Amount:      in.TotalCost,
				Date:        in.PurchaseDate,
				Reference:   &ref,
				CreatedBy:   userID,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		item = found
		return nil
	})
	if err != nil {
		l.logger.Error("ロット購入に失敗しました",
			zap.String("farm_id", farmID),
			zap.String("item", key.Name),
			zap.Error(err),
		)
		return nil, farm.WrapStorage("purchase_lot", "ロット購入に失敗しました", err)
	}

	l.publishStockChanged(ctx, item, lot.ID, oldStock, ChangePurchase, lot.ID)

	l.logger.Info("ロット購入完了",
		zap.String("farm_id", farmID),
		zap.String("item_id", item.ID),
		zap.String("lot_id", lot.ID),
		zap.String("quantity", in.InitialQuantity.String()),
		zap.String("total_cost", in.TotalCost.String()),
	)

	return lot, nil
}

// RecordConsumption draws quantity from the selected lot for a flock
// 指定ロットから鶏群の消費を記録し在庫を減算
func (l *Ledger) RecordConsumption(ctx context.Context, in ConsumptionInput) (record *ConsumptionRecord, err error) {
	defer l.observe("record_consumption", l.now())(&err)

	if err := ValidateConsumptionInput(in); err != nil {
		return nil, err
	}
	if in.RecordedBy == "" {
		in.RecordedBy = farm.UserIDFromContext(ctx)
	}

	var (
		item     *Item
		oldStock decimal.Decimal
	)
	err = l.store.WithinTx(ctx, func(tx LedgerTx) error {
		var err error
		record, item, oldStock, err = l.draw(ctx, tx, in)
		return err
	})
	if err != nil {
		l.logger.Warn("在庫消費の記録に失敗しました",
			zap.String("lot_id", in.LotID),
			zap.String("flock_id", in.FlockID),
			zap.String("quantity", in.Quantity.String()),
			zap.Error(err),
		)
		return nil, farm.WrapStorage("record_consumption", "在庫消費の記録に失敗しました", err)
	}

	l.publishStockChanged(ctx, item, record.LotID, oldStock, ChangeConsumption, record.ID)
	l.checkLowStock(ctx, item)

	l.logger.Info("在庫消費完了",
		zap.String("record_id", record.ID),
		zap.String("item_id", item.ID),
		zap.String("lot_id", record.LotID),
		zap.String("flock_id", record.FlockID),
		zap.String("quantity", record.Quantity.String()),
	)

	return record, nil
}

// ConsumeWithin draws stock for a flock inside a transaction owned by the
// caller. The returned notify func publishes stock events and runs only after
// that transaction has committed.
// 呼び出し元のトランザクション内で在庫を消費
func (l *Ledger) ConsumeWithin(ctx context.Context, tx LedgerTx, in ConsumptionInput) (*ConsumptionRecord, func(context.Context), error) {
	if err := ValidateConsumptionInput(in); err != nil {
		return nil, nil, err
	}
	if in.RecordedBy == "" {
		in.RecordedBy = farm.UserIDFromContext(ctx)
	}
	record, item, oldStock, err := l.draw(ctx, tx, in)
	if err != nil {
		return nil, nil, err
	}
	notify := func(ctx context.Context) {
		l.publishStockChanged(ctx, item, record.LotID, oldStock, ChangeConsumption, record.ID)
		l.checkLowStock(ctx, item)
	}
	return record, notify, nil
}

// draw locks lot then item and books the consumption against both
func (l *Ledger) draw(ctx context.Context, tx LedgerTx, in ConsumptionInput) (*ConsumptionRecord, *Item, decimal.Decimal, error) {
	now := l.now()
	lot, err := tx.LockLot(ctx, in.LotID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	locked, err := tx.LockItem(ctx, lot.ItemID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	if locked.Status != ItemStatusActive {
		return nil, nil, decimal.Zero, NewBusinessRuleError("inactive_item", "停止中の品目は消費できません", locked.ID)
	}

	if locked.CurrentStock.LessThan(in.Quantity) {
		return nil, nil, decimal.Zero, NewInsufficientStockError(locked.ID, lot.ID, in.Quantity, locked.CurrentStock)
	}
	if lot.RemainingQuantity.LessThan(in.Quantity) {
		return nil, nil, decimal.Zero, NewInsufficientStockError(locked.ID, lot.ID, in.Quantity, lot.RemainingQuantity)
	}

	if err := tx.UpdateLotRemaining(ctx, lot.ID, lot.RemainingQuantity.Sub(in.Quantity)); err != nil {
		return nil, nil, decimal.Zero, err
	}
	oldStock := locked.CurrentStock
	locked.CurrentStock = locked.CurrentStock.Sub(in.Quantity)
	locked.UpdatedAt = now
	if err := tx.UpdateItemStock(ctx, locked.ID, locked.CurrentStock, now); err != nil {
		return nil, nil, decimal.Zero, err
	}

	date := in.Date
	if date.IsZero() {
		date = now
	}
	record := &ConsumptionRecord{
		ID:           farm.NewID(),
		FarmID:       lot.FarmID,
		Kind:         in.Kind,
		FlockID:      in.FlockID,
		LotID:        lot.ID,
		ItemID:       locked.ID,
		Quantity:     in.Quantity,
		Date:         date,
		Note:         in.Note,
		HealthTaskID: in.HealthTaskID,
		RecordedBy:   in.RecordedBy,
		CreatedAt:    now,
	}
	if err := tx.CreateConsumption(ctx, record); err != nil {
		return nil, nil, decimal.Zero, err
	}

	return record, locked, oldStock, nil
}

// ReverseConsumption deletes a consumption record and restores its quantity.
// A second call for the same record fails with ErrConsumptionNotFound.
// 消費記録を削除し、ロット残量と品目在庫を復元
func (l *Ledger) ReverseConsumption(ctx context.Context, recordID string) (err error) {
	defer l.observe("reverse_consumption", l.now())(&err)

	if recordID == "" {
		return farm.NewValidationError("record_id", "消費記録IDが空です", recordID)
	}

	var (
		item     *Item
		record   *ConsumptionRecord
		oldStock decimal.Decimal
	)
	err = l.store.WithinTx(ctx, func(tx LedgerTx) error {
		now := l.now()
		rec, err := tx.LockConsumption(ctx, recordID)
		if err != nil {
			return err
		}
		lot, err := tx.LockLot(ctx, rec.LotID)
		if err != nil {
			return err
		}
		locked, err := tx.LockItem(ctx, lot.ItemID)
		if err != nil {
			return err
		}

		restored := lot.RemainingQuantity.Add(rec.Quantity)
		if restored.GreaterThan(lot.InitialQuantity) {
			return NewBusinessRuleError("lot_overflow", "ロット残量が購入数量を超えます", lot.ID)
		}
		if err := tx.DeleteConsumption(ctx, rec.ID); err != nil {
			return err
		}
		if err := tx.UpdateLotRemaining(ctx, lot.ID, restored); err != nil {
			return err
		}
		oldStock = locked.CurrentStock
		locked.CurrentStock = locked.CurrentStock.Add(rec.Quantity)
		locked.UpdatedAt = now
		if err := tx.UpdateItemStock(ctx, locked.ID, locked.CurrentStock, now); err != nil {
			return err
		}

		item, record = locked, rec
		return nil
	})
	if err != nil {
		l.logger.Warn("消費記録の取り消しに失敗しました", zap.String("record_id", recordID), zap.Error(err))
		return farm.WrapStorage("reverse_consumption", "消費記録の取り消しに失敗しました", err)
	}

	l.publishStockChanged(ctx, item, record.LotID, oldStock, ChangeReversal, record.ID)

	l.logger.Info("消費記録取り消し完了",
		zap.String("record_id", recordID),
		zap.String("item_id", item.ID),
		zap.String("restored", record.Quantity.String()),
	)

	return nil
}

// EditConsumption changes a record's quantity and applies (old - new) to lot and item
// 消費数量を修正し、差分をロットと品目在庫に反映
func (l *Ledger) EditConsumption(ctx context.Context, recordID string, newQuantity decimal.Decimal) (record *ConsumptionRecord, err error) {
	defer l.observe("edit_consumption", l.now())(&err)

	if err := ValidateQuantity("quantity", newQuantity); err != nil {
		return nil, err
	}

	var (
		item     *Item
		oldStock decimal.Decimal
	)
	err = l.store.WithinTx(ctx, func(tx LedgerTx) error {
		now := l.now()
		rec, err := tx.LockConsumption(ctx, recordID)
		if err != nil {
			return err
		}
		lot, err := tx.LockLot(ctx, rec.LotID)
		if err != nil {
			return err
		}
		locked, err := tx.LockItem(ctx, lot.ItemID)
		if err != nil {
			return err
		}

		// delta > 0 は在庫の返却、delta < 0 は追加の消費
		delta := rec.Quantity.Sub(newQuantity)
		newStock := locked.CurrentStock.Add(delta)
		newRemaining := lot.RemainingQuantity.Add(delta)
		if newStock.IsNegative() {
			return NewInsufficientStockError(locked.ID, lot.ID, delta.Neg(), locked.CurrentStock)
		}
		if newRemaining.IsNegative() {
			return NewInsufficientStockError(locked.ID, lot.ID, delta.Neg(), lot.RemainingQuantity)
		}
		if newRemaining.GreaterThan(lot.InitialQuantity) {
			return NewBusinessRuleError("lot_overflow", "ロット残量が購入数量を超えます", lot.ID)
		}

		if err := tx.UpdateConsumptionQuantity(ctx, rec.ID, newQuantity); err != nil {
			return err
		}
		if err := tx.UpdateLotRemaining(ctx, lot.ID, newRemaining); err != nil {
			return err
		}
		oldStock = locked.CurrentStock
		locked.CurrentStock = newStock
		locked.UpdatedAt = now
		if err := tx.UpdateItemStock(ctx, locked.ID, newStock, now); err != nil {
			return err
		}

		rec.Quantity = newQuantity
		item, record = locked, rec
		return nil
	})
	if err != nil {
		l.logger.Warn("消費記録の修正に失敗しました",
			zap.String("record_id", recordID),
			zap.String("new_quantity", newQuantity.String()),
			zap.Error(err),
		)
		return nil, farm.WrapStorage("edit_consumption", "消費記録の修正に失敗しました", err)
	}

	l.publishStockChanged(ctx, item, record.LotID, oldStock, ChangeEdit, record.ID)
	l.checkLowStock(ctx, item)

	l.logger.Info("消費記録修正完了",
		zap.String("record_id", recordID),
		zap.String("item_id", item.ID),
		zap.String("old_stock", oldStock.String()),
		zap.String("new_stock", item.CurrentStock.String()),
	)

	return record, nil
}

// UnitCost returns totalCost / initialQuantity for the lot, computed on every call
// ロット単価を都度計算して返す
func (l *Ledger) UnitCost(ctx context.Context, lotID string) (decimal.Decimal, error) {
	lot, err := l.store.GetLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, farm.WrapStorage("get_lot", "ロット取得に失敗しました", err)
	}
	return lot.UnitCost()
}

// GetItem gets an item by ID
func (l *Ledger) GetItem(ctx context.Context, itemID string) (*Item, error) {
	item, err := l.store.GetItem(ctx, itemID)
	return item, farm.WrapStorage("get_item", "品目取得に失敗しました", err)
}

// ListItems lists a farm's items
func (l *Ledger) ListItems(ctx context.Context, farmID string) ([]Item, error) {
	items, err := l.store.ListItems(ctx, farmID)
	return items, farm.WrapStorage("list_items", "品目一覧の取得に失敗しました", err)
}

// GetLot gets a lot by ID
func (l *Ledger) GetLot(ctx context.Context, lotID string) (*Lot, error) {
	lot, err := l.store.GetLot(ctx, lotID)
	return lot, farm.WrapStorage("get_lot", "ロット取得に失敗しました", err)
}

// ListLots lists an item's lots
func (l *Ledger) ListLots(ctx context.Context, itemID string) ([]Lot, error) {
	lots, err := l.store.ListLots(ctx, itemID)
	return lots, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
}

// GetConsumption gets a consumption record by ID
func (l *Ledger) GetConsumption(ctx context.Context, recordID string) (*ConsumptionRecord, error) {
	rec, err := l.store.GetConsumption(ctx, recordID)
	return rec, farm.WrapStorage("get_consumption", "消費記録取得に失敗しました", err)
}

// ListConsumption lists consumption records matching filter
func (l *Ledger) ListConsumption(ctx context.Context, filter ConsumptionFilter) ([]ConsumptionRecord, error) {
	recs, err := l.store.ListConsumption(ctx, filter)
	return recs, farm.WrapStorage("list_consumption", "消費記録一覧の取得に失敗しました", err)
}

// ヘルパーメソッド

// observe reports the operation outcome to the observer once the caller returns
func (l *Ledger) observe(op string, start time.Time) func(*error) {
	return func(errp *error) {
		if l.observer == nil {
			return
		}
		var err error
		if errp != nil {
			err = *errp
		}
		l.observer.ObserveLedgerOp(op, l.now().Sub(start), err)
	}
}

// publishStockChanged publishes after commit; failures are only logged
// コミット後にイベントを発行（失敗はログのみ）
func (l *Ledger) publishStockChanged(ctx context.Context, item *Item, lotID string, oldStock decimal.Decimal, changeType, reference string) {
	if l.publisher == nil || item == nil {
		return
	}
	event := StockChangedEvent{
		ItemID:      item.ID,
		FarmID:      item.FarmID,
		LotID:       lotID,
		OldQuantity: oldStock,
		NewQuantity: item.CurrentStock,
		ChangeType:  changeType,
		Reference:   reference,
		Timestamp:   l.now(),
		UserID:      farm.UserIDFromContext(ctx),
	}
	if err := l.publisher.PublishStockChanged(ctx, event); err != nil {
		l.logger.Error("イベント発行に失敗しました", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// checkLowStock raises a low stock alert when the item falls to the threshold
// 低在庫アラートを発行
func (l *Ledger) checkLowStock(ctx context.Context, item *Item) {
	threshold := l.config.LowStockThreshold
	if l.publisher == nil || !threshold.IsPositive() || item.CurrentStock.GreaterThan(threshold) {
		return
	}
	event := LowStockAlertEvent{
		ItemID:     item.ID,
		FarmID:     item.FarmID,
		Name:       item.Name,
		CurrentQty: item.CurrentStock,
		Threshold:  threshold,
		Timestamp:  l.now(),
	}
	if err := l.publisher.PublishLowStockAlert(ctx, event); err != nil {
		l.logger.Error("低在庫アラートイベント発行に失敗しました", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// IsNotFound reports whether err is any ledger not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrLotNotFound) || errors.Is(err, ErrConsumptionNotFound)
}
