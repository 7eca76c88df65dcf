package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

func TestTracker_Reconcile(t *testing.T) {
	ledger, mem := newTestLedger(t, nil)
	ctx := context.Background()

	lot := purchase(t, ledger, "8", "40")
	_, err := consume(ledger, lot.ID, "3")
	require.NoError(t, err)

	publisher := new(MockPublisher)
	publisher.On("PublishLowStockAlert", mock.Anything, mock.MatchedBy(func(e inventory.LowStockAlertEvent) bool {
		return e.ItemID == lot.ItemID && e.CurrentQty.Equal(dec("5"))
	})).Return(nil).Once()

	tracker := inventory.NewTracker(mem.Ledger(), publisher, zap.NewNop(), &inventory.Config{LowStockThreshold: dec("10")})
	report, err := tracker.Reconcile(ctx, testFarm)
	require.NoError(t, err)

	assert.Equal(t, 1, report.CheckedItems)
	assert.Empty(t, report.Drifts)
	require.Len(t, report.LowStock, 1)
	publisher.AssertExpectations(t)
}

func TestTracker_MovementHistory(t *testing.T) {
	ledger, mem := newTestLedger(t, nil)
	ctx := context.Background()

	lot := purchase(t, ledger, "100", "500")
	_, err := consume(ledger, lot.ID, "20")
	require.NoError(t, err)
	_, err = ledger.RecordConsumption(ctx, inventory.ConsumptionInput{
		LotID:    lot.ID,
		FlockID:  "flock-2",
		Kind:     inventory.ConsumptionKindFeed,
		Quantity: dec("5"),
		Date:     time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	tracker := inventory.NewTracker(mem.Ledger(), nil, zap.NewNop(), nil)
	moves, err := tracker.MovementHistory(ctx, lot.ItemID, 0)
	require.NoError(t, err)
	require.Len(t, moves, 3)
	assert.Equal(t, inventory.ChangePurchase, moves[0].Type)
	assert.True(t, moves[1].Quantity.Equal(dec("-20")))
	assert.True(t, moves[2].Balance.Equal(dec("75")))

	recent, err := tracker.MovementHistory(ctx, lot.ItemID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "flock-2", recent[0].FlockID)
}

func TestValuer_ValueFarm(t *testing.T) {
	ledger, mem := newTestLedger(t, nil)
	ctx := context.Background()

	first := purchase(t, ledger, "100", "500")
	purchase(t, ledger, "100", "700")
	_, err := consume(ledger, first.ID, "100")
	require.NoError(t, err)

	_, err = ledger.PurchaseLot(ctx, testFarm, inventory.ItemKey{Name: "Vaccine", Category: "Medication", Unit: "dose"}, inventory.LotInput{
		PurchaseDate:    time.Now(),
		InitialQuantity: dec("10"),
		TotalCost:       dec("30"),
	})
	require.NoError(t, err)

	valuer := inventory.NewValuer(mem.Ledger(), zap.NewNop())
	vals, total, err := valuer.ValueFarm(ctx, testFarm)
	require.NoError(t, err)
	require.Len(t, vals, 2)

	// 飼料: 残り100 × 7 = 700、薬品: 10 × 3 = 30
	assert.Equal(t, "Layer Mash", vals[0].Name)
	assert.True(t, vals[0].Value.Equal(dec("700")))
	assert.Equal(t, 1, vals[0].ActiveLots)
	assert.Equal(t, 1, vals[0].ExhaustedLots)
	assert.True(t, total.Equal(dec("730")))

	avg, err := valuer.WeightedAverageCost(ctx, first.ItemID)
	require.NoError(t, err)
	assert.True(t, avg.Equal(decimal.NewFromInt(6)))
}
