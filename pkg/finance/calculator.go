package finance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

// Calculator builds per-flock ledgers
// 鶏群別損益の計算機
type Calculator struct {
	source Source
	costs  CostSource
	logger *zap.Logger
	now    func() time.Time
}

// NewCalculator creates a new attribution calculator
// 新しい損益計算機を作成
func NewCalculator(source Source, costs CostSource, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		source: source,
		costs:  costs,
		logger: logger.Named("finance"),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for undated egg revenue
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// BuildFlockLedger derives the flock's financial events and totals
// 鶏群の損益イベントと合計を導出
func (c *Calculator) BuildFlockLedger(ctx context.Context, flockID string) (*FlockLedger, error) {
	flock, err := c.source.GetFlock(ctx, flockID)
	if err != nil {
		return nil, farm.WrapStorage("get_flock", "鶏群取得に失敗しました", err)
	}

	var events []FinancialEvent

	// 1. 導入費用
	if flock.CostPerBird.IsPositive() {
		events = append(events, FinancialEvent{
			Date:        flock.StartDate,
			Description: fmt.Sprintf("Acquisition of %d birds", flock.InitialQuantity),
			Amount:      flock.AcquisitionCost().Neg(),
			Category:    CategoryFlockProcurement,
			Reference:   flock.ID,
		})
	}

	// 2. 生体販売
	resales, err := c.source.ListBirdResales(ctx, flockID)
	if err != nil {
		return nil, farm.WrapStorage("list_bird_resales", "生体販売の取得に失敗しました", err)
	}
	for _, sale := range resales {
		events = append(events, FinancialEvent{
			Date:        sale.Date,
			Description: fmt.Sprintf("Sale of %d birds", sale.Quantity),
			Amount:      sale.Revenue,
			Category:    CategoryBirdSales,
			Reference:   sale.ID,
		})
	}

	// 3. 鶏卵収益の按分
	eggEvent, err := c.eggRevenue(ctx, flock)
	if err != nil {
		return nil, err
	}
	if eggEvent != nil {
		events = append(events, *eggEvent)
	}

	unitCost := c.unitCostFunc(ctx)

	// 4. 飼料費
	feed, err := c.source.ListConsumption(ctx, inventory.ConsumptionFilter{
		FlockID: flockID,
		Kind:    inventory.ConsumptionKindFeed,
	})
	if err != nil {
		return nil, farm.WrapStorage("list_consumption", "消費記録一覧の取得に失敗しました", err)
	}
	for _, rec := range feed {
		cost, err := unitCost(rec.LotID)
		if err != nil {
			return nil, err
		}
		events = append(events, FinancialEvent{
			Date:        rec.Date,
			Description: fmt.Sprintf("Feed consumption (%s)", rec.Quantity.String()),
			Amount:      rec.Quantity.Mul(cost).Neg(),
			Category:    CategoryFeed,
			Reference:   rec.ID,
		})
	}

	// 5. 投薬費
	usages, err := c.source.ListMedicationUsage(ctx, flockID)
	if err != nil {
		return nil, farm.WrapStorage("list_medication_usage", "投薬記録の取得に失敗しました", err)
	}
	for _, usage := range usages {
		cost, err := unitCost(usage.LotID)
		if err != nil {
			return nil, err
		}
		events = append(events, FinancialEvent{
			Date:        usage.CompletedAt,
			Description: usage.Title,
			Amount:      usage.QuantityUsed.Mul(cost).Neg(),
			Category:    CategoryMedication,
			Reference:   usage.TaskID,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})

	ledger := Summarize(events)
	ledger.FlockID = flock.ID
	ledger.FarmID = flock.FarmID
	ledger.GeneratedAt = c.now()

	c.logger.Debug("鶏群損益計算完了",
		zap.String("flock_id", flockID),
		zap.Int("events", len(events)),
		zap.String("net_profit", ledger.Totals.NetProfit.String()),
	)

	return ledger, nil
}

// eggRevenue prorates whole-history farm egg revenue by the flock's share of eggs
// 鶏卵収益を産卵数の割合で按分
func (c *Calculator) eggRevenue(ctx context.Context, flock *farm.Flock) (*FinancialEvent, error) {
	if !flock.Type.ProducesEggs() {
		return nil, nil
	}

	produced, err := c.source.SumEggProduction(ctx, flock.ID)
	if err != nil {
		return nil, farm.WrapStorage("sum_egg_production", "産卵数の集計に失敗しました", err)
	}
	if produced <= 0 {
		return nil, nil
	}

	sold, revenue, err := c.source.EggSalesTotals(ctx, flock.FarmID)
	if err != nil {
		return nil, farm.WrapStorage("egg_sales_totals", "鶏卵販売の集計に失敗しました", err)
	}
	if sold <= 0 {
		return nil, nil
	}

	date := c.now()
	if flock.FirstEggDate != nil {
		date = *flock.FirstEggDate
	}

	// 精度を保つため乗算を先に行う
	amount := decimal.NewFromInt(produced).Mul(revenue).Div(decimal.NewFromInt(sold))

	return &FinancialEvent{
		Date:        date,
		Description: fmt.Sprintf("Egg revenue share (%d of %d eggs sold)", produced, sold),
		Amount:      amount,
		Category:    CategoryEggSales,
		Reference:   flock.ID,
	}, nil
}

// unitCostFunc memoizes lot unit costs for the duration of one build
func (c *Calculator) unitCostFunc(ctx context.Context) func(lotID string) (decimal.Decimal, error) {
	seen := make(map[string]decimal.Decimal)
	return func(lotID string) (decimal.Decimal, error) {
		if cost, ok := seen[lotID]; ok {
			return cost, nil
		}
		cost, err := c.costs.UnitCost(ctx, lotID)
		if err != nil {
			return decimal.Zero, farm.WrapStorage("unit_cost", "ロット単価の取得に失敗しました", err)
		}
		seen[lotID] = cost
		return cost, nil
	}
}

// Summarize folds events into totals and per-category breakdowns.
// Positive amounts are revenue, negative amounts are expenses; zero amounts
// land on the side their category belongs to.
// イベントを合計とカテゴリ別内訳に集計
func Summarize(events []FinancialEvent) *FlockLedger {
	ledger := &FlockLedger{
		Events:           events,
		RevenueBreakdown: make(map[string]decimal.Decimal),
		ExpenseBreakdown: make(map[string]decimal.Decimal),
		Totals: Totals{
			TotalRevenue:  decimal.Zero,
			TotalExpenses: decimal.Zero,
			NetProfit:     decimal.Zero,
		},
	}
	if ledger.Events == nil {
		ledger.Events = []FinancialEvent{}
	}

	for _, ev := range events {
		revenue := ev.Amount.IsPositive() || (ev.Amount.IsZero() && isRevenueCategory(ev.Category))
		if revenue {
			ledger.Totals.TotalRevenue = ledger.Totals.TotalRevenue.Add(ev.Amount)
			ledger.RevenueBreakdown[ev.Category] = ledger.RevenueBreakdown[ev.Category].Add(ev.Amount)
		} else {
			ledger.Totals.TotalExpenses = ledger.Totals.TotalExpenses.Add(ev.Amount)
			ledger.ExpenseBreakdown[ev.Category] = ledger.ExpenseBreakdown[ev.Category].Add(ev.Amount)
		}
	}
	ledger.Totals.NetProfit = ledger.Totals.TotalRevenue.Add(ledger.Totals.TotalExpenses)
	return ledger
}
