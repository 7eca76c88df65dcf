// Package report folds persisted transactions, operational records and
// derived flock ledgers into presentation-ready summaries. Reports never
// mutate state and return zeroed structures for empty input.
package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/finance"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

// Reader is the read-only view a report runs against
// レポート用の読み取りビュー
type Reader interface {
	finance.Source
	finance.CostSource

	ListFlocks(ctx context.Context, farmID string) ([]farm.Flock, error)
	ListTransactions(ctx context.Context, farmID string, from, to time.Time) ([]farm.Transaction, error)
	ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error)
	ListItems(ctx context.Context, farmID string) ([]inventory.Item, error)
}

// Source opens a consistent snapshot; fn sees no partially-committed ledger state
// 一貫したスナップショットを提供
type Source interface {
	Snapshot(ctx context.Context, fn func(r Reader) error) error
}

// Cache stores finished reports; a miss returns false without error
// レポートキャッシュ
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Generation returns the farm's mutation counter; Bump advances it so
	// entries keyed on an older generation are never read again
	Generation(ctx context.Context, farmID string) (int64, error)
	Bump(ctx context.Context, farmID string) error
}

// Observer receives report durations, e.g. for metrics
type Observer interface {
	ObserveReport(name string, duration time.Duration, err error)
}

// ChartPoint is one monthly bucket; Expenses is a magnitude
// 月次チャートの一点
type ChartPoint struct {
	Label    string          `json:"label"` // "Jan 2006"
	Month    time.Time       `json:"month"`
	Revenue  decimal.Decimal `json:"revenue"`
	Expenses decimal.Decimal `json:"expenses"`
}

// FinancialSummary totals a financial report; TotalExpenses is negative
type FinancialSummary struct {
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	TransactionCount int             `json:"transaction_count"`
}

// FinancialReport is the farm-level financial report for a window
// 農場財務レポート
type FinancialReport struct {
	FarmID           string                     `json:"farm_id"`
	From             time.Time                  `json:"from"`
	To               time.Time                  `json:"to"`
	Summary          FinancialSummary           `json:"summary"`
	RevenueBreakdown map[string]decimal.Decimal `json:"revenue_breakdown"`
	ExpenseBreakdown map[string]decimal.Decimal `json:"expense_breakdown"`
	ChartData        []ChartPoint               `json:"chart_data"`
	Transactions     []farm.Transaction         `json:"transactions"`
}

// FlockPerformance holds one flock's feed conversion and mortality metrics
// 鶏群別の成績
type FlockPerformance struct {
	FlockID           string           `json:"flock_id"`
	Name              string           `json:"name"`
	Type              farm.FlockType   `json:"type"`
	Status            farm.FlockStatus `json:"status"`
	InitialQuantity   int64            `json:"initial_quantity"`
	CurrentQuantity   int64            `json:"current_quantity"`
	TotalFeedConsumed decimal.Decimal  `json:"total_feed_consumed"`
	TotalMortality    int64            `json:"total_mortality"`
	FCR               decimal.Decimal  `json:"fcr"`
	MortalityRate     decimal.Decimal  `json:"mortality_rate"`
	BirdSaleRevenue   decimal.Decimal  `json:"bird_sale_revenue"`
	AcquisitionCost   decimal.Decimal  `json:"acquisition_cost"`
	TotalProfit       decimal.Decimal  `json:"total_profit"`
}

// PerformanceAverages are farm-level means over all flocks
type PerformanceAverages struct {
	FCR           decimal.Decimal `json:"fcr"`
	MortalityRate decimal.Decimal `json:"mortality_rate"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
}

// FlockPerformanceReport is the per-flock performance report of a farm
// 鶏群成績レポート
type FlockPerformanceReport struct {
	FarmID     string              `json:"farm_id"`
	FlockCount int                 `json:"flock_count"`
	Averages   PerformanceAverages `json:"averages"`
	Flocks     []FlockPerformance  `json:"flocks"`
}

// DailyTotal is one day of egg production
type DailyTotal struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"` // "2006-01-02"
	Total int64     `json:"total"`
}

// ProductionSummary totals a production report
type ProductionSummary struct {
	TotalEggs     int64           `json:"total_eggs"`
	DaysRecorded  int             `json:"days_recorded"`
	AveragePerDay decimal.Decimal `json:"average_per_day"`
	PeakDay       *DailyTotal     `json:"peak_day"`
}

// ProductionReport groups egg-production records by day within a window
// 産卵レポート
type ProductionReport struct {
	FarmID    string            `json:"farm_id"`
	FlockID   string            `json:"flock_id,omitempty"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Summary   ProductionSummary `json:"summary"`
	ChartData []DailyTotal      `json:"chart_data"`
}

// DailyWeight is one day of growth measurements
type DailyWeight struct {
	Date          time.Time       `json:"date"`
	Label         string          `json:"label"`
	AverageWeight decimal.Decimal `json:"average_weight"`
	Samples       int64           `json:"samples"`
}

// GrowthSummary totals a growth report
type GrowthSummary struct {
	Measurements        int             `json:"measurements"`
	LatestAverageWeight decimal.Decimal `json:"latest_average_weight"`
	WeightGain          decimal.Decimal `json:"weight_gain"`
}

// GrowthReport groups growth records by day within a window
// 成長レポート
type GrowthReport struct {
	FarmID    string        `json:"farm_id"`
	FlockID   string        `json:"flock_id,omitempty"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Summary   GrowthSummary `json:"summary"`
	ChartData []DailyWeight `json:"chart_data"`
}

// CategoryUsage is consumption of one item category, for pie charts
type CategoryUsage struct {
	Category string          `json:"category"`
	Quantity decimal.Decimal `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	Share    decimal.Decimal `json:"share"` // コスト構成比（%）
}

// ItemUsage is consumption of one item
type ItemUsage struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	Records  int             `json:"records"`
}

// UsageSummary totals an inventory usage report
type UsageSummary struct {
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Records       int             `json:"records"`
}

// InventoryUsageReport groups consumption in a window by item category
// 在庫使用レポート
type InventoryUsageReport struct {
	FarmID     string          `json:"farm_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Summary    UsageSummary    `json:"summary"`
	Categories []CategoryUsage `json:"categories"`
	Items      []ItemUsage     `json:"items"`
}

// FlockFinancialReport wraps a flock ledger with monthly chart data
// 鶏群別損益レポート
type FlockFinancialReport struct {
	Ledger    *finance.FlockLedger `json:"ledger"`
	ChartData []ChartPoint         `json:"chart_data"`
}
