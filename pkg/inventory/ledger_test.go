package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/storage"
)

// MockPublisher はテスト用のEventPublisherモック
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) PublishLowStockAlert(ctx context.Context, event inventory.LowStockAlertEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

const testFarm = "farm-1"

var feedKey = inventory.ItemKey{Name: "Layer Mash", Category: "Feed", Unit: "kg"}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestLedger(t testing.TB, publisher inventory.EventPublisher) (*inventory.Ledger, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage(zap.NewNop())
	config := &inventory.Config{LowStockThreshold: decimal.Zero, DefaultUnit: "kg"}
	return inventory.NewLedger(mem.Ledger(), publisher, zap.NewNop(), config), mem
}

func purchase(t testing.TB, l *inventory.Ledger, qty, cost string) *inventory.Lot {
	t.Helper()
	lot, err := l.PurchaseLot(context.Background(), testFarm, feedKey, inventory.LotInput{
		PurchaseDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InitialQuantity: dec(qty),
		TotalCost:       dec(cost),
	})
	require.NoError(t, err)
	return lot
}

func consume(l *inventory.Ledger, lotID, qty string) (*inventory.ConsumptionRecord, error) {
	return l.RecordConsumption(context.Background(), inventory.ConsumptionInput{
		LotID:    lotID,
		FlockID:  "flock-1",
		Kind:     inventory.ConsumptionKindFeed,
		Quantity: dec(qty),
		Date:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	})
}

// TestLedger_PurchaseLot はロット購入のテスト
func TestLedger_PurchaseLot(t *testing.T) {
	ledger, mem := newTestLedger(t, nil)
	ctx := context.Background()

	lot := purchase(t, ledger, "100", "500")

	assert.True(t, lot.RemainingQuantity.Equal(dec("100")))
	assert.True(t, lot.UnitConversionFactor.Equal(decimal.NewFromInt(1)))

	cost, err := ledger.UnitCost(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, cost.Equal(dec("5")), "unit cost = %s", cost)

	item, err := ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(dec("100")))

	// 同じ品目キーの二回目の購入は既存品目に加算
	second := purchase(t, ledger, "50", "300")
	assert.Equal(t, lot.ItemID, second.ItemID)
	item, err = ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(dec("150")))

	// 調達費用の取引が記録される
	txns, err := mem.Records().ListTransactions(ctx, testFarm, time.Time{}, time.Now().AddDate(10, 0, 0))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, farm.TransactionTypeExpense, txns[0].Type)
	assert.Equal(t, "Feed", txns[0].Category)
	require.NotNil(t, txns[0].Reference)
}

// TestLedger_PurchaseLot_InvalidQuantity は不正数量で孤立ロットが作られないことのテスト
func TestLedger_PurchaseLot_InvalidQuantity(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ctx := context.Background()

	for _, qty := range []string{"0", "-5"} {
		_, err := ledger.PurchaseLot(ctx, testFarm, feedKey, inventory.LotInput{
			PurchaseDate:    time.Now(),
			InitialQuantity: dec(qty),
			TotalCost:       dec("10"),
		})
		assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	}

	items, err := ledger.ListItems(ctx, testFarm)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// TestLedger_ZeroCostLot は費用0のロットで取引が作られないことのテスト
func TestLedger_ZeroCostLot(t *testing.T) {
	ledger, mem := newTestLedger(t, nil)
	ctx := context.Background()

	lot := purchase(t, ledger, "10", "0")
	cost, err := ledger.UnitCost(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, cost.IsZero())

	txns, err := mem.Records().ListTransactions(ctx, testFarm, time.Time{}, time.Now().AddDate(10, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, txns)
}

// TestLedger_ConsumeAndReverse は消費と取り消しの往復テスト
func TestLedger_ConsumeAndReverse(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ctx := context.Background()
	lot := purchase(t, ledger, "100", "500")

	rec, err := consume(ledger, lot.ID, "20")
	require.NoError(t, err)
	assert.Equal(t, lot.ItemID, rec.ItemID)
	assert.Equal(t, testFarm, rec.FarmID)

	got, err := ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("80")))
	item, err := ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(dec("80")))

	require.NoError(t, ledger.ReverseConsumption(ctx, rec.ID))

	got, err = ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("100")))
	item, err = ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(dec("100")))

	// 二回目の取り消しは NotFound
	err = ledger.ReverseConsumption(ctx, rec.ID)
	assert.ErrorIs(t, err, inventory.ErrConsumptionNotFound)
	assert.True(t, inventory.IsNotFound(err))
}

// TestLedger_InsufficientStock は在庫不足エラーのテスト
func TestLedger_InsufficientStock(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ctx := context.Background()
	lot := purchase(t, ledger, "10", "50")

	_, err := consume(ledger, lot.ID, "10.5")
	require.Error(t, err)
	assert.True(t, inventory.IsInsufficientStock(err))

	var ise *inventory.InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.True(t, ise.Available.Equal(dec("10")))

	// 状態は変化しない
	got, err := ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("10")))

	consumed, err := ledger.ListConsumption(ctx, inventory.ConsumptionFilter{LotID: lot.ID})
	require.NoError(t, err)
	assert.Empty(t, consumed)
}

// TestLedger_InvalidConsumption は不正な消費入力のテスト
func TestLedger_InvalidConsumption(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	lot := purchase(t, ledger, "10", "50")

	_, err := consume(ledger, lot.ID, "0")
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = consume(ledger, "not-a-uuid", "1")
	var ve *farm.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = consume(ledger, farm.NewID(), "1")
	assert.ErrorIs(t, err, inventory.ErrLotNotFound)
}

// TestLedger_EditConsumption は消費数量修正のテスト
func TestLedger_EditConsumption(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ctx := context.Background()
	lot := purchase(t, ledger, "100", "500")

	rec, err := consume(ledger, lot.ID, "20")
	require.NoError(t, err)

	tests := []struct {
		name      string
		quantity  string
		remaining string
		wantErr   bool
	}{
		{"減量", "5", "95", false},
		{"増量", "30", "70", false},
		{"在庫超過", "101", "70", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edited, err := ledger.EditConsumption(ctx, rec.ID, dec(tt.quantity))
			if tt.wantErr {
				assert.True(t, inventory.IsInsufficientStock(err))
			} else {
				require.NoError(t, err)
				assert.True(t, edited.Quantity.Equal(dec(tt.quantity)))
			}

			got, err := ledger.GetLot(ctx, lot.ID)
			require.NoError(t, err)
			assert.True(t, got.RemainingQuantity.Equal(dec(tt.remaining)), "remaining = %s", got.RemainingQuantity)

			item, err := ledger.GetItem(ctx, lot.ItemID)
			require.NoError(t, err)
			assert.True(t, item.CurrentStock.Equal(got.RemainingQuantity))
		})
	}
}

// TestLedger_ConcurrentConsumption は同時消費で在庫がマイナスにならないことのテスト
func TestLedger_ConcurrentConsumption(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	ctx := context.Background()
	lot := purchase(t, ledger, "10", "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := consume(ledger, lot.ID, "1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	item, err := ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.IsZero())
}

// TestLedger_Events はイベント発行のテスト
func TestLedger_Events(t *testing.T) {
	publisher := new(MockPublisher)
	mem := storage.NewMemoryStorage(zap.NewNop())
	ledger := inventory.NewLedger(mem.Ledger(), publisher, zap.NewNop(), &inventory.Config{
		LowStockThreshold: dec("5"),
		DefaultUnit:       "kg",
	})
	ctx := farm.WithUserID(context.Background(), "user-1")

	publisher.On("PublishStockChanged", mock.Anything, mock.MatchedBy(func(e inventory.StockChangedEvent) bool {
		return e.ChangeType == inventory.ChangePurchase && e.UserID == "user-1"
	})).Return(nil).Once()
	publisher.On("PublishStockChanged", mock.Anything, mock.MatchedBy(func(e inventory.StockChangedEvent) bool {
		return e.ChangeType == inventory.ChangeConsumption && e.NewQuantity.Equal(dec("4"))
	})).Return(errors.New("broker down")).Once()
	publisher.On("PublishLowStockAlert", mock.Anything, mock.AnythingOfType("inventory.LowStockAlertEvent")).Return(nil).Once()

	lot, err := ledger.PurchaseLot(ctx, testFarm, feedKey, inventory.LotInput{
		PurchaseDate:    time.Now(),
		InitialQuantity: dec("10"),
		TotalCost:       dec("20"),
	})
	require.NoError(t, err)

	// 発行失敗は操作を失敗させない
	_, err = ledger.RecordConsumption(ctx, inventory.ConsumptionInput{
		LotID:    lot.ID,
		FlockID:  "flock-1",
		Kind:     inventory.ConsumptionKindFeed,
		Quantity: dec("6"),
	})
	require.NoError(t, err)

	publisher.AssertExpectations(t)
}

// TestLedger_Observer は操作オブザーバーのテスト
func TestLedger_Observer(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	obs := &recordingObserver{}
	ledger.WithObserver(obs)

	purchase(t, ledger, "10", "10")
	_, _ = consume(ledger, farm.NewID(), "1")

	require.Len(t, obs.ops, 2)
	assert.Equal(t, "purchase_lot", obs.ops[0])
	assert.NoError(t, obs.errs[0])
	assert.Equal(t, "record_consumption", obs.ops[1])
	assert.Error(t, obs.errs[1])
}

type recordingObserver struct {
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveLedgerOp(op string, _ time.Duration, err error) {
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

// ベンチマークテスト
func BenchmarkLedger_RecordConsumption(b *testing.B) {
	ledger, _ := newTestLedger(b, nil)
	lot := purchase(b, ledger, "999999", "999999")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = consume(ledger, lot.ID, "0.001")
	}
}

// TestLedger_ConsumeWithin は呼び出し元トランザクション内での消費のテスト
func TestLedger_ConsumeWithin(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishStockChanged", mock.Anything, mock.Anything).Return(nil)
	ledger, mem := newTestLedger(t, pub)
	lot := purchase(t, ledger, "100", "50")
	published := len(pub.Calls)
	ctx := context.Background()
	in := inventory.ConsumptionInput{
		LotID: lot.ID, FlockID: "flock-1", Kind: inventory.ConsumptionKindMedication, Quantity: dec("30"),
	}

	// 後続処理の失敗で消費ごとロールバック
	var notify func(context.Context)
	err := mem.Ledger().WithinTx(ctx, func(tx inventory.LedgerTx) error {
		_, fn, err := ledger.ConsumeWithin(ctx, tx, in)
		require.NoError(t, err)
		notify = fn
		return errors.New("task update failed")
	})
	require.Error(t, err)
	got, err := ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("100")))
	assert.Len(t, pub.Calls, published)

	var rec *inventory.ConsumptionRecord
	require.NoError(t, mem.Ledger().WithinTx(ctx, func(tx inventory.LedgerTx) error {
		var err error
		rec, notify, err = ledger.ConsumeWithin(ctx, tx, in)
		return err
	}))
	notify(ctx)

	got, err = ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("70")))
	stored, err := ledger.GetConsumption(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ConsumptionKindMedication, stored.Kind)
	assert.Len(t, pub.Calls, published+1)

	_, _, err = ledger.ConsumeWithin(ctx, nil, inventory.ConsumptionInput{LotID: lot.ID, FlockID: "flock-1", Kind: inventory.ConsumptionKindFeed, Quantity: dec("0")})
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}
