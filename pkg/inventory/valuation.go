package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// Valuer values on-hand inventory from lot remaining quantities and lot unit costs
// ロット残量とロット単価から在庫評価額を計算
type Valuer struct {
	store  Store
	logger *zap.Logger
}

// NewValuer creates a new inventory valuer
// 新しい在庫評価を作成
func NewValuer(store Store, logger *zap.Logger) *Valuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Valuer{
		store:  store,
		logger: logger.Named("valuation"),
	}
}

// ValueItem values one item: sum of remaining * unitCost over its lots
// 品目の在庫評価額を計算
func (v *Valuer) ValueItem(ctx context.Context, itemID string) (*ItemValuation, error) {
	item, err := v.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, farm.WrapStorage("get_item", "品目取得に失敗しました", err)
	}
	lots, err := v.store.ListLots(ctx, itemID)
	if err != nil {
		return nil, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
	}
	return valueLots(item, lots), nil
}

// ValueFarm values every item of a farm, highest value first, plus the farm total
// 農場全体の在庫評価額を計算（評価額の降順）
func (v *Valuer) ValueFarm(ctx context.Context, farmID string) ([]ItemValuation, decimal.Decimal, error) {
	items, err := v.store.ListItems(ctx, farmID)
	if err != nil {
		return nil, decimal.Zero, farm.WrapStorage("list_items", "品目一覧の取得に失敗しました", err)
	}

	result := make([]ItemValuation, 0, len(items))
	total := decimal.Zero
	for i := range items {
		lots, err := v.store.ListLots(ctx, items[i].ID)
		if err != nil {
			return nil, decimal.Zero, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
		}
		val := valueLots(&items[i], lots)
		total = total.Add(val.Value)
		result = append(result, *val)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Value.GreaterThan(result[j].Value)
	})

	v.logger.Debug("在庫評価完了",
		zap.String("farm_id", farmID),
		zap.Int("items", len(result)),
		zap.String("total", total.String()),
	)

	return result, total, nil
}

// WeightedAverageCost returns total purchase cost / total purchased quantity over all lots
// 全ロットの加重平均単価
func (v *Valuer) WeightedAverageCost(ctx context.Context, itemID string) (decimal.Decimal, error) {
	lots, err := v.store.ListLots(ctx, itemID)
	if err != nil {
		return decimal.Zero, farm.WrapStorage("list_lots", "ロット一覧の取得に失敗しました", err)
	}

	cost, qty := decimal.Zero, decimal.Zero
	for _, lot := range lots {
		cost = cost.Add(lot.TotalCost)
		qty = qty.Add(lot.InitialQuantity)
	}
	if !qty.IsPositive() {
		return decimal.Zero, nil
	}
	return cost.Div(qty), nil
}

func valueLots(item *Item, lots []Lot) *ItemValuation {
	val := &ItemValuation{
		ItemID:      item.ID,
		Name:        item.Name,
		Category:    item.Category,
		OnHand:      decimal.Zero,
		Value:       decimal.Zero,
		AverageCost: decimal.Zero,
	}
	for i := range lots {
		lot := &lots[i]
		if !lot.RemainingQuantity.IsPositive() {
			val.ExhaustedLots++
			continue
		}
		val.ActiveLots++
		unitCost, err := lot.UnitCost()
		if err != nil {
			continue
		}
		val.OnHand = val.OnHand.Add(lot.RemainingQuantity)
		val.Value = val.Value.Add(lot.RemainingQuantity.Mul(unitCost))
	}
	if val.OnHand.IsPositive() {
		val.AverageCost = val.Value.Div(val.OnHand)
	}
	return val
}
