// Package finance reconstructs a per-flock profit-and-loss view from direct
// events (acquisition, bird sales) and apportioned events (egg revenue,
// feed and medication cost).
//
// Egg revenue is prorated with whole-history denominators: all eggs the flock
// ever produced over all eggs the farm ever sold. A flock ledger is therefore
// not window-consistent with a farm financial report for the same period.
package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

// Event categories
// 損益イベントのカテゴリ
const (
	CategoryFlockProcurement = "Flock Procurement"
	CategoryBirdSales        = "Bird Sales"
	CategoryEggSales         = "Egg Sales"
	CategoryFeed             = "Feed"
	CategoryMedication       = "Medication"
)

// FinancialEvent is one derived revenue (positive) or expense (negative) entry
// 導出された損益イベント（収益は正、費用は負）
type FinancialEvent struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Reference   string          `json:"reference,omitempty"`
}

// Totals holds the ledger totals; TotalExpenses is negative and NetProfit is a plain sum
// 合計（費用は負値、純利益は単純合計）
type Totals struct {
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	NetProfit     decimal.Decimal `json:"net_profit"`
}

// FlockLedger is the per-flock profit-and-loss view
// 鶏群別損益
type FlockLedger struct {
	FlockID          string                     `json:"flock_id"`
	FarmID           string                     `json:"farm_id"`
	Events           []FinancialEvent           `json:"events"`
	Totals           Totals                     `json:"totals"`
	RevenueBreakdown map[string]decimal.Decimal `json:"revenue_breakdown"`
	ExpenseBreakdown map[string]decimal.Decimal `json:"expense_breakdown"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// Source supplies the raw rows the calculator derives events from
// 損益計算の入力データ
type Source interface {
	GetFlock(ctx context.Context, flockID string) (*farm.Flock, error)
	ListBirdResales(ctx context.Context, flockID string) ([]farm.BirdResale, error)
	// SumEggProduction returns every egg the flock ever produced
	SumEggProduction(ctx context.Context, flockID string) (int64, error)
	// EggSalesTotals returns every egg the farm ever sold and the revenue for them
	EggSalesTotals(ctx context.Context, farmID string) (int64, decimal.Decimal, error)
	ListConsumption(ctx context.Context, filter inventory.ConsumptionFilter) ([]inventory.ConsumptionRecord, error)
	ListMedicationUsage(ctx context.Context, flockID string) ([]farm.MedicationUsage, error)
}

// CostSource returns lot unit costs; *inventory.Ledger satisfies it
// ロット単価の取得元
type CostSource interface {
	UnitCost(ctx context.Context, lotID string) (decimal.Decimal, error)
}

func isRevenueCategory(category string) bool {
	return category == CategoryBirdSales || category == CategoryEggSales
}
