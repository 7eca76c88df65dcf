package report

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/finance"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

const (
	monthLabelLayout = "Jan 2006"
	dayLabelLayout   = "2006-01-02"
)

var hundred = decimal.NewFromInt(100)

// Aggregator builds reports from a snapshot source
// レポート集計器
type Aggregator struct {
	source      Source
	cache       Cache
	observer    Observer
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

// NewAggregator creates a new report aggregator; concurrency bounds parallel reads per report
// 新しいレポート集計器を作成
func NewAggregator(source Source, logger *zap.Logger, concurrency int) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Aggregator{
		source:      source,
		logger:      logger.Named("report"),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithCache enables caching of windowed reports
func (a *Aggregator) WithCache(c Cache) *Aggregator {
	a.cache = c
	return a
}

// FarmChanged expires every cached report of the farm
// 農場の変更時にキャッシュ済みレポートを失効
func (a *Aggregator) FarmChanged(ctx context.Context, farmID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Bump(ctx, farmID); err != nil {
		a.logger.Warn("レポートキャッシュの失効に失敗しました", zap.String("farm_id", farmID), zap.Error(err))
	}
}

// WithObserver attaches a report duration observer
func (a *Aggregator) WithObserver(o Observer) *Aggregator {
	a.observer = o
	return a
}

// WithClock overrides the aggregator clock
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// FinancialReport sums persisted transactions in [from, to] with monthly buckets
// 期間内の取引を集計し月次で区切る
func (a *Aggregator) FinancialReport(ctx context.Context, farmID string, from, to time.Time) (*FinancialReport, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	key := a.cacheKey(ctx, "financial", farmID, "", from, to)

	return run(ctx, a, "financial", key, func(ctx context.Context, r Reader) (*FinancialReport, error) {
		txns, err := r.ListTransactions(ctx, farmID, from, to)
		if err != nil {
			return nil, err
		}

		rep := &FinancialReport{
			FarmID: farmID,
			From:   from,
			To:     to,
			Summary: FinancialSummary{
				TotalRevenue:  decimal.Zero,
				TotalExpenses: decimal.Zero,
				NetProfit:     decimal.Zero,
			},
			RevenueBreakdown: make(map[string]decimal.Decimal),
			ExpenseBreakdown: make(map[string]decimal.Decimal),
			Transactions:     txns,
		}
		if rep.Transactions == nil {
			rep.Transactions = []farm.Transaction{}
		}

		buckets := monthBuckets(from, to)
		index := make(map[string]int, len(buckets))
		for i := range buckets {
			index[buckets[i].Label] = i
		}

		for i := range txns {
			t := &txns[i]
			signed := t.SignedAmount()
			label := t.Date.In(from.Location()).Format(monthLabelLayout)
			bucket, ok := index[label]

			if t.Type == farm.TransactionTypeRevenue {
				rep.Summary.TotalRevenue = rep.Summary.TotalRevenue.Add(signed)
				rep.RevenueBreakdown[t.Category] = rep.RevenueBreakdown[t.Category].Add(signed)
				if ok {
					buckets[bucket].Revenue = buckets[bucket].Revenue.Add(t.Amount)
				}
			} else {
				rep.Summary.TotalExpenses = rep.Summary.TotalExpenses.Add(signed)
				rep.ExpenseBreakdown[t.Category] = rep.ExpenseBreakdown[t.Category].Add(signed)
				if ok {
					buckets[bucket].Expenses = buckets[bucket].Expenses.Add(t.Amount)
				}
			}
		}
		rep.Summary.NetProfit = rep.Summary.TotalRevenue.Add(rep.Summary.TotalExpenses)
		rep.Summary.TransactionCount = len(txns)
		rep.ChartData = buckets
		return rep, nil
	})
}

// FlockPerformanceReport computes FCR, mortality rate and profit for every flock of a farm
// 全鶏群の飼料要求率・死亡率・利益を計算
func (a *Aggregator) FlockPerformanceReport(ctx context.Context, farmID string) (*FlockPerformanceReport, error) {
	return run(ctx, a, "flock_performance", "", func(ctx context.Context, r Reader) (*FlockPerformanceReport, error) {
		flocks, err := r.ListFlocks(ctx, farmID)
		if err != nil {
			return nil, err
		}

		rows := make([]FlockPerformance, len(flocks))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for i := range flocks {
			i := i
			g.Go(func() error {
				row, err := flockPerformance(gctx, r, &flocks[i])
				if err != nil {
					return err
				}
				rows[i] = *row
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		rep := &FlockPerformanceReport{
			FarmID:     farmID,
			FlockCount: len(rows),
			Flocks:     rows,
			Averages: PerformanceAverages{
				FCR:           decimal.Zero,
				MortalityRate: decimal.Zero,
				TotalProfit:   decimal.Zero,
			},
		}
		if len(rows) == 0 {
			return rep, nil
		}

		n := decimal.NewFromInt(int64(len(rows)))
		for _, row := range rows {
			rep.Averages.FCR = rep.Averages.FCR.Add(row.FCR)
			rep.Averages.MortalityRate = rep.Averages.MortalityRate.Add(row.MortalityRate)
			rep.Averages.TotalProfit = rep.Averages.TotalProfit.Add(row.TotalProfit)
		}
		rep.Averages.FCR = rep.Averages.FCR.Div(n).Round(4)
		rep.Averages.MortalityRate = rep.Averages.MortalityRate.Div(n).Round(2)
		rep.Averages.TotalProfit = rep.Averages.TotalProfit.Div(n).Round(2)
		return rep, nil
	})
}

// ProductionReport groups egg-production records by day within [from, to]; flockID is optional
// 産卵記録を日別に集計
func (a *Aggregator) ProductionReport(ctx context.Context, farmID, flockID string, from, to time.Time) (*ProductionReport, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	key := a.cacheKey(ctx, "production", farmID, flockID, from, to)

	return run(ctx, a, "production", key, func(ctx context.Context, r Reader) (*ProductionReport, error) {
		recs, err := r.ListRecords(ctx, farm.RecordFilter{
			FarmID:  farmID,
			FlockID: flockID,
			Kind:    farm.RecordKindEggProduction,
			From:    &from,
			To:      &to,
		})
		if err != nil {
			return nil, err
		}

		loc := from.Location()
		byDay := make(map[string]*DailyTotal)
		for _, rec := range recs {
			day := startOfDay(rec.Date, loc)
			label := day.Format(dayLabelLayout)
			d, ok := byDay[label]
			if !ok {
				d = &DailyTotal{Date: day, Label: label}
				byDay[label] = d
			}
			d.Total += rec.Quantity
		}

		rep := &ProductionReport{
			FarmID:  farmID,
			FlockID: flockID,
			From:    from,
			To:      to,
			Summary: ProductionSummary{AveragePerDay: decimal.Zero},
		}
		rep.ChartData = make([]DailyTotal, 0, len(byDay))
		for _, d := range byDay {
			rep.ChartData = append(rep.ChartData, *d)
			rep.Summary.TotalEggs += d.Total
		}
		sort.Slice(rep.ChartData, func(i, j int) bool {
			return rep.ChartData[i].Date.Before(rep.ChartData[j].Date)
		})

		rep.Summary.DaysRecorded = len(rep.ChartData)
		for i := range rep.ChartData {
			if rep.Summary.PeakDay == nil || rep.ChartData[i].Total > rep.Summary.PeakDay.Total {
				peak := rep.ChartData[i]
				rep.Summary.PeakDay = &peak
			}
		}
		if rep.Summary.DaysRecorded > 0 {
			rep.Summary.AveragePerDay = decimal.NewFromInt(rep.Summary.TotalEggs).
				Div(decimal.NewFromInt(int64(rep.Summary.DaysRecorded))).Round(2)
		}
		return rep, nil
	})
}

// GrowthReport groups growth measurements by day within [from, to]; flockID is optional.
// Daily averages are weighted by the number of birds weighed.
// 成長記録を日別に集計
func (a *Aggregator) GrowthReport(ctx context.Context, farmID, flockID string, from, to time.Time) (*GrowthReport, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	key := a.cacheKey(ctx, "growth", farmID, flockID, from, to)

	return run(ctx, a, "growth", key, func(ctx context.Context, r Reader) (*GrowthReport, error) {
		recs, err := r.ListRecords(ctx, farm.RecordFilter{
			FarmID:  farmID,
			FlockID: flockID,
			Kind:    farm.RecordKindGrowth,
			From:    &from,
			To:      &to,
		})
		if err != nil {
			return nil, err
		}

		type acc struct {
			day     time.Time
			weight  decimal.Decimal
			samples int64
		}
		loc := from.Location()
		byDay := make(map[string]*acc)
		for _, rec := range recs {
			day := startOfDay(rec.Date, loc)
			label := day.Format(dayLabelLayout)
			d, ok := byDay[label]
			if !ok {
				d = &acc{day: day, weight: decimal.Zero}
				byDay[label] = d
			}
			samples := rec.Quantity
			if samples <= 0 {
				samples = 1
			}
			d.weight = d.weight.Add(rec.Measurement.Mul(decimal.NewFromInt(samples)))
			d.samples += samples
		}

		rep := &GrowthReport{
			FarmID:  farmID,
			FlockID: flockID,
			From:    from,
			To:      to,
			Summary: GrowthSummary{
				Measurements:        len(recs),
				LatestAverageWeight: decimal.Zero,
				WeightGain:          decimal.Zero,
			},
			ChartData: make([]DailyWeight, 0, len(byDay)),
		}
		for label, d := range byDay {
			rep.ChartData = append(rep.ChartData, DailyWeight{
				Date:          d.day,
				Label:         label,
				AverageWeight: d.weight.Div(decimal.NewFromInt(d.samples)).Round(3),
				Samples:       d.samples,
			})
		}
		sort.Slice(rep.ChartData, func(i, j int) bool {
			return rep.ChartData[i].Date.Before(rep.ChartData[j].Date)
		})

		if n := len(rep.ChartData); n > 0 {
			rep.Summary.LatestAverageWeight = rep.ChartData[n-1].AverageWeight
			rep.Summary.WeightGain = rep.ChartData[n-1].AverageWeight.Sub(rep.ChartData[0].AverageWeight)
		}
		return rep, nil
	})
}

// InventoryUsageReport groups consumption in [from, to] by item category, costed at lot unit cost
// 期間内の在庫消費をカテゴリ別に集計
func (a *Aggregator) InventoryUsageReport(ctx context.Context, farmID string, from, to time.Time) (*InventoryUsageReport, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	key := a.cacheKey(ctx, "inventory_usage", farmID, "", from, to)

	return run(ctx, a, "inventory_usage", key, func(ctx context.Context, r Reader) (*InventoryUsageReport, error) {
		var (
			items []inventory.Item
			recs  []inventory.ConsumptionRecord
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			items, err = r.ListItems(gctx, farmID)
			return err
		})
		g.Go(func() error {
			var err error
			recs, err = r.ListConsumption(gctx, inventory.ConsumptionFilter{FarmID: farmID, From: &from, To: &to})
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		itemByID := make(map[string]inventory.Item, len(items))
		for _, it := range items {
			itemByID[it.ID] = it
		}

		costs := make(map[string]decimal.Decimal)
		unitCost := func(lotID string) (decimal.Decimal, error) {
			if c, ok := costs[lotID]; ok {
				return c, nil
			}
			c, err := r.UnitCost(ctx, lotID)
			if err != nil {
				return decimal.Zero, err
			}
			costs[lotID] = c
			return c, nil
		}

		rep := &InventoryUsageReport{
			FarmID: farmID,
			From:   from,
			To:     to,
			Summary: UsageSummary{
				TotalQuantity: decimal.Zero,
				TotalCost:     decimal.Zero,
				Records:       len(recs),
			},
		}
		byItem := make(map[string]*ItemUsage)
		byCategory := make(map[string]*CategoryUsage)
		for _, rec := range recs {
			cost, err := unitCost(rec.LotID)
			if err != nil {
				return nil, err
			}
			amount := rec.Quantity.Mul(cost)

			it := itemByID[rec.ItemID]
			category := it.Category
			if category == "" {
				category = "Uncategorized"
			}

			iu, ok := byItem[rec.ItemID]
			if !ok {
				iu = &ItemUsage{ItemID: rec.ItemID, Name: it.Name, Category: category, Unit: it.Unit, Quantity: decimal.Zero, Cost: decimal.Zero}
				byItem[rec.ItemID] = iu
			}
			iu.Quantity = iu.Quantity.Add(rec.Quantity)
			iu.Cost = iu.Cost.Add(amount)
			iu.Records++

			cu, ok := byCategory[category]
			if !ok {
				cu = &CategoryUsage{Category: category, Quantity: decimal.Zero, Cost: decimal.Zero, Share: decimal.Zero}
				byCategory[category] = cu
			}
			cu.Quantity = cu.Quantity.Add(rec.Quantity)
			cu.Cost = cu.Cost.Add(amount)

			rep.Summary.TotalQuantity = rep.Summary.TotalQuantity.Add(rec.Quantity)
			rep.Summary.TotalCost = rep.Summary.TotalCost.Add(amount)
		}

		rep.Categories = make([]CategoryUsage, 0, len(byCategory))
		for _, cu := range byCategory {
			if rep.Summary.TotalCost.IsPositive() {
				cu.Share = cu.Cost.Mul(hundred).Div(rep.Summary.TotalCost).Round(2)
			}
			rep.Categories = append(rep.Categories, *cu)
		}
		sort.Slice(rep.Categories, func(i, j int) bool {
			if !rep.Categories[i].Cost.Equal(rep.Categories[j].Cost) {
				return rep.Categories[i].Cost.GreaterThan(rep.Categories[j].Cost)
			}
			return rep.Categories[i].Category < rep.Categories[j].Category
		})

		rep.Items = make([]ItemUsage, 0, len(byItem))
		for _, iu := range byItem {
			rep.Items = append(rep.Items, *iu)
		}
		sort.Slice(rep.Items, func(i, j int) bool {
			if !rep.Items[i].Cost.Equal(rep.Items[j].Cost) {
				return rep.Items[i].Cost.GreaterThan(rep.Items[j].Cost)
			}
			return rep.Items[i].Name < rep.Items[j].Name
		})
		return rep, nil
	})
}

// FlockFinancialReport builds the flock ledger at one snapshot and buckets its events by month
// 鶏群別損益と月次チャートを作成
func (a *Aggregator) FlockFinancialReport(ctx context.Context, flockID string) (*FlockFinancialReport, error) {
	return run(ctx, a, "flock_financial", "", func(ctx context.Context, r Reader) (*FlockFinancialReport, error) {
		ledger, err := finance.NewCalculator(r, r, a.logger).WithClock(a.now).BuildFlockLedger(ctx, flockID)
		if err != nil {
			return nil, err
		}

		rep := &FlockFinancialReport{Ledger: ledger, ChartData: []ChartPoint{}}
		if len(ledger.Events) == 0 {
			return rep, nil
		}

		first, last := ledger.Events[0].Date, ledger.Events[len(ledger.Events)-1].Date
		rep.ChartData = monthBuckets(first, last.In(first.Location()))
		index := make(map[string]int, len(rep.ChartData))
		for i := range rep.ChartData {
			index[rep.ChartData[i].Label] = i
		}
		for _, ev := range ledger.Events {
			i, ok := index[ev.Date.In(first.Location()).Format(monthLabelLayout)]
			if !ok {
				continue
			}
			if ev.Amount.IsNegative() {
				rep.ChartData[i].Expenses = rep.ChartData[i].Expenses.Add(ev.Amount.Neg())
			} else {
				rep.ChartData[i].Revenue = rep.ChartData[i].Revenue.Add(ev.Amount)
			}
		}
		return rep, nil
	})
}

// run executes build inside one snapshot, consulting the cache when key is set
func run[T any](ctx context.Context, a *Aggregator, name, key string, build func(ctx context.Context, r Reader) (*T, error)) (out *T, err error) {
	start := time.Now()
	defer func() {
		if a.observer != nil {
			a.observer.ObserveReport(name, time.Since(start), err)
		}
	}()

	if key != "" && a.cache != nil {
		var cached T
		hit, cerr := a.cache.Get(ctx, key, &cached)
		if cerr != nil {
			a.logger.Warn("レポートキャッシュの取得に失敗しました", zap.String("key", key), zap.Error(cerr))
		} else if hit {
			return &cached, nil
		}
	}

	err = a.source.Snapshot(ctx, func(r Reader) error {
		var berr error
		out, berr = build(ctx, lockedReader(r))
		return berr
	})
	if err != nil {
		if !farm.IsDomainError(err) {
			a.logger.Error("レポート生成に失敗しました", zap.String("report", name), zap.Error(err))
		}
		return nil, farm.WrapStorage("report_"+name, "レポート生成に失敗しました", err)
	}

	if key != "" && a.cache != nil {
		if cerr := a.cache.Set(ctx, key, out); cerr != nil {
			a.logger.Warn("レポートキャッシュの保存に失敗しました", zap.String("key", key), zap.Error(cerr))
		}
	}

	a.logger.Debug("レポート生成完了", zap.String("report", name), zap.Duration("duration", time.Since(start)))
	return out, nil
}

func flockPerformance(ctx context.Context, r Reader, flock *farm.Flock) (*FlockPerformance, error) {
	feed, err := r.ListConsumption(ctx, inventory.ConsumptionFilter{FlockID: flock.ID, Kind: inventory.ConsumptionKindFeed})
	if err != nil {
		return nil, err
	}
	mortality, err := r.ListRecords(ctx, farm.RecordFilter{FlockID: flock.ID, Kind: farm.RecordKindMortality})
	if err != nil {
		return nil, err
	}
	resales, err := r.ListBirdResales(ctx, flock.ID)
	if err != nil {
		return nil, err
	}

	row := &FlockPerformance{
		FlockID:           flock.ID,
		Name:              flock.Name,
		Type:              flock.Type,
		Status:            flock.Status,
		InitialQuantity:   flock.InitialQuantity,
		CurrentQuantity:   flock.CurrentQuantity,
		TotalFeedConsumed: decimal.Zero,
		FCR:               decimal.Zero,
		MortalityRate:     decimal.Zero,
		BirdSaleRevenue:   decimal.Zero,
		AcquisitionCost:   flock.AcquisitionCost(),
	}
	for _, c := range feed {
		row.TotalFeedConsumed = row.TotalFeedConsumed.Add(c.Quantity)
	}
	for _, m := range mortality {
		row.TotalMortality += m.Quantity
	}
	for _, s := range resales {
		row.BirdSaleRevenue = row.BirdSaleRevenue.Add(s.Revenue)
	}

	if survivors := flock.InitialQuantity - row.TotalMortality; survivors > 0 {
		row.FCR = row.TotalFeedConsumed.Div(decimal.NewFromInt(survivors)).Round(4)
	}
	if flock.InitialQuantity > 0 {
		row.MortalityRate = decimal.NewFromInt(row.TotalMortality).Mul(hundred).
			Div(decimal.NewFromInt(flock.InitialQuantity)).Round(2)
	}
	row.TotalProfit = row.BirdSaleRevenue.Sub(row.AcquisitionCost)
	return row, nil
}

// monthBuckets returns zeroed monthly points covering [from, to] in from's location
func monthBuckets(from, to time.Time) []ChartPoint {
	loc := from.Location()
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, loc)
	end := to.In(loc)

	var out []ChartPoint
	for !cur.After(end) {
		out = append(out, ChartPoint{
			Label:    cur.Format(monthLabelLayout),
			Month:    cur,
			Revenue:  decimal.Zero,
			Expenses: decimal.Zero,
		})
		cur = cur.AddDate(0, 1, 0)
	}
	if out == nil {
		out = []ChartPoint{}
	}
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func validateWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return farm.NewValidationError("date_range", "期間が指定されていません", "")
	}
	if to.Before(from) {
		return farm.NewValidationError("date_range", "終了日が開始日より前です", to.Format(time.RFC3339))
	}
	if to.Sub(from) > 20*366*24*time.Hour {
		return farm.NewValidationError("date_range", "期間が長すぎます", fmt.Sprintf("%s - %s", from.Format(dayLabelLayout), to.Format(dayLabelLayout)))
	}
	return nil
}

// cacheKey returns "" (no caching) when the farm generation is unavailable
func (a *Aggregator) cacheKey(ctx context.Context, name, farmID, flockID string, from, to time.Time) string {
	if a.cache == nil {
		return ""
	}
	gen, err := a.cache.Generation(ctx, farmID)
	if err != nil {
		a.logger.Warn("レポートキャッシュの世代取得に失敗しました", zap.String("farm_id", farmID), zap.Error(err))
		return ""
	}
	return cacheKey(name, farmID, flockID, gen, from, to)
}

func cacheKey(name, farmID, flockID string, gen int64, from, to time.Time) string {
	return fmt.Sprintf("report:%s:%s:%s:g%d:%d:%d", name, farmID, flockID, gen, from.Unix(), to.Unix())
}

// serialReader funnels concurrent report reads through one mutex so a
// snapshot bound to a single connection is never used concurrently
type serialReader struct {
	mu sync.Mutex
	r  Reader
}

func lockedReader(r Reader) Reader {
	if sr, ok := r.(*serialReader); ok {
		return sr
	}
	return &serialReader{r: r}
}

func (s *serialReader) GetFlock(ctx context.Context, flockID string) (*farm.Flock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.GetFlock(ctx, flockID)
}

func (s *serialReader) ListBirdResales(ctx context.Context, flockID string) ([]farm.BirdResale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListBirdResales(ctx, flockID)
}

func (s *serialReader) SumEggProduction(ctx context.Context, flockID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.SumEggProduction(ctx, flockID)
}

func (s *serialReader) EggSalesTotals(ctx context.Context, farmID string) (int64, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.EggSalesTotals(ctx, farmID)
}

func (s *serialReader) ListConsumption(ctx context.Context, filter inventory.ConsumptionFilter) ([]inventory.ConsumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListConsumption(ctx, filter)
}

func (s *serialReader) ListMedicationUsage(ctx context.Context, flockID string) ([]farm.MedicationUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListMedicationUsage(ctx, flockID)
}

func (s *serialReader) UnitCost(ctx context.Context, lotID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.UnitCost(ctx, lotID)
}

func (s *serialReader) ListFlocks(ctx context.Context, farmID string) ([]farm.Flock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListFlocks(ctx, farmID)
}

func (s *serialReader) ListTransactions(ctx context.Context, farmID string, from, to time.Time) ([]farm.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListTransactions(ctx, farmID, from, to)
}

func (s *serialReader) ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListRecords(ctx, filter)
}

func (s *serialReader) ListItems(ctx context.Context, farmID string) ([]inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ListItems(ctx, farmID)
}
