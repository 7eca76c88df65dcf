package records_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
	"github.com/nemonet1337/zaiFarmLedger/pkg/storage"
)

// MockDirectory はテスト用のDirectoryモック
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) FarmOwner(ctx context.Context, farmID string) (string, error) {
	args := m.Called(ctx, farmID)
	return args.String(0), args.Error(1)
}

func (m *MockDirectory) MembershipRole(ctx context.Context, farmID, userID string) (policy.FarmRole, bool, error) {
	args := m.Called(ctx, farmID, userID)
	return args.Get(0).(policy.FarmRole), args.Bool(1), args.Error(2)
}

// MockNotifier はテスト用のChangeNotifierモック
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) FarmChanged(ctx context.Context, farmID string) {
	m.Called(ctx, farmID)
}

const (
	farmA = "farm-a"
	farmB = "farm-b"
)

var (
	owner    = records.Session{UserID: "owner-1", PlatformRole: policy.PlatformRoleUser}
	manager  = records.Session{UserID: "manager-1", PlatformRole: policy.PlatformRoleUser}
	worker   = records.Session{UserID: "worker-1", PlatformRole: policy.PlatformRoleUser}
	worker2  = records.Session{UserID: "worker-2", PlatformRole: policy.PlatformRoleUser}
	stranger = records.Session{UserID: "stranger", PlatformRole: policy.PlatformRoleUser}
	admin    = records.Session{UserID: "admin-1", PlatformRole: policy.PlatformRoleAdmin}
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixture struct {
	svc    *records.Service
	mem    *storage.MemoryStorage
	ledger *inventory.Ledger
	now    time.Time
	store  *flakyStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := new(MockDirectory)
	for _, farmID := range []string{farmA, farmB} {
		dir.On("FarmOwner", mock.Anything, farmID).Return(owner.UserID, nil)
		dir.On("MembershipRole", mock.Anything, farmID, manager.UserID).Return(policy.FarmRoleManager, true, nil)
		dir.On("MembershipRole", mock.Anything, farmID, worker.UserID).Return(policy.FarmRoleWorker, true, nil)
		dir.On("MembershipRole", mock.Anything, farmID, worker2.UserID).Return(policy.FarmRoleWorker, true, nil)
		dir.On("MembershipRole", mock.Anything, farmID, mock.Anything).Return(policy.FarmRoleNone, false, nil)
	}

	f := &fixture{
		mem: storage.NewMemoryStorage(zap.NewNop()),
		now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store = &flakyStore{Store: f.mem.Records()}
	f.ledger = inventory.NewLedger(f.mem.Ledger(), nil, zap.NewNop(), nil).WithClock(clock)
	f.svc = records.NewService(f.store, dir, f.ledger, zap.NewNop(), time.UTC).WithClock(clock)
	return f
}

// flakyStore fails transactions on demand
type flakyStore struct {
	records.Store
	failNext bool
	// cancelInTx は次のトランザクション本体の実行後に呼ばれる
	cancelInTx context.CancelFunc
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(tx records.Tx) error) error {
	if s.failNext {
		s.failNext = false
		return errors.New("connection reset")
	}
	if cancel := s.cancelInTx; cancel != nil {
		s.cancelInTx = nil
		return s.Store.WithinTx(ctx, func(tx records.Tx) error {
			err := fn(tx)
			cancel()
			return err
		})
	}
	return s.Store.WithinTx(ctx, fn)
}

func (f *fixture) flock(t *testing.T, farmID string, qty int64) *farm.Flock {
	t.Helper()
	fl, err := f.svc.RegisterFlock(context.Background(), owner, farmID, records.FlockInput{
		Name:            "Flock " + farmID,
		Type:            farm.FlockTypeLayer,
		InitialQuantity: qty,
		CostPerBird:     dec("2"),
		StartDate:       f.now.AddDate(0, 0, -30),
	})
	require.NoError(t, err)
	return fl
}

func (f *fixture) lot(t *testing.T, farmID, qty, cost string) *inventory.Lot {
	t.Helper()
	lot, err := f.ledger.PurchaseLot(context.Background(), farmID, inventory.ItemKey{Name: "Vaccine", Category: "Medication"}, inventory.LotInput{
		PurchaseDate:    f.now.AddDate(0, 0, -1),
		InitialQuantity: dec(qty),
		TotalCost:       dec(cost),
	})
	require.NoError(t, err)
	return lot
}

func forbiddenReason(t *testing.T, err error) string {
	t.Helper()
	var fe *farm.ForbiddenError
	require.True(t, errors.As(err, &fe), "expected ForbiddenError, got %v", err)
	return fe.Reason
}

func TestRegisterFlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fl := f.flock(t, farmA, 500)
	assert.Equal(t, int64(500), fl.CurrentQuantity)
	assert.Equal(t, farm.FlockStatusActive, fl.Status)

	// 導入費用が取引として記録される
	txns, err := f.svc.ListTransactions(ctx, owner, farmA, f.now.AddDate(-1, 0, 0), f.now)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, farm.TransactionTypeExpense, txns[0].Type)
	assert.True(t, txns[0].Amount.Equal(dec("1000")))

	_, err = f.svc.RegisterFlock(ctx, worker, farmA, records.FlockInput{
		Name: "x", Type: farm.FlockTypeBroiler, InitialQuantity: 1, StartDate: f.now,
	})
	assert.Equal(t, records.ReasonManagersOnly, forbiddenReason(t, err))

	_, err = f.svc.RegisterFlock(ctx, records.Session{}, farmA, records.FlockInput{
		Name: "x", Type: farm.FlockTypeBroiler, InitialQuantity: 1, StartDate: f.now,
	})
	assert.ErrorIs(t, err, farm.ErrUnauthenticated)

	_, err = f.svc.ListFlocks(ctx, stranger, farmA)
	assert.Equal(t, policy.ReasonNoRole, forbiddenReason(t, err))

	flocks, err := f.svc.ListFlocks(ctx, admin, farmA)
	require.NoError(t, err)
	assert.Len(t, flocks, 1)
}

func TestMortalityRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)

	rec, err := f.svc.CreateRecord(ctx, worker, records.RecordInput{
		FlockID: fl.ID, Kind: farm.RecordKindMortality, Date: f.now, Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, worker.UserID, rec.RecordedBy)

	got, err := f.svc.GetFlock(ctx, worker, fl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(95), got.CurrentQuantity)

	_, err = f.svc.CreateRecord(ctx, worker, records.RecordInput{
		FlockID: fl.ID, Kind: farm.RecordKindMortality, Date: f.now, Quantity: 96,
	})
	var ve *farm.ValidationError
	assert.True(t, errors.As(err, &ve))

	qty := int64(8)
	_, err = f.svc.UpdateRecord(ctx, worker, rec.ID, records.RecordUpdate{Quantity: &qty})
	require.NoError(t, err)
	got, _ = f.svc.GetFlock(ctx, worker, fl.ID)
	assert.Equal(t, int64(92), got.CurrentQuantity)

	require.NoError(t, f.svc.DeleteRecord(ctx, worker, rec.ID))
	got, _ = f.svc.GetFlock(ctx, worker, fl.ID)
	assert.Equal(t, int64(100), got.CurrentQuantity)

	err = f.svc.DeleteRecord(ctx, worker, rec.ID)
	assert.ErrorIs(t, err, farm.ErrRecordNotFound)
}

func TestEggRecordSetsFirstEggDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)

	var ids []string
	for _, d := range []time.Time{f.now, f.now.AddDate(0, 0, -3)} {
		rec, err := f.svc.CreateRecord(ctx, worker, records.RecordInput{
			FlockID: fl.ID, Kind: farm.RecordKindEggProduction, Date: d, Quantity: 40,
		})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	firstEgg := func() *time.Time {
		t.Helper()
		got, err := f.svc.GetFlock(ctx, worker, fl.ID)
		require.NoError(t, err)
		return got.FirstEggDate
	}
	require.NotNil(t, firstEgg())
	assert.True(t, firstEgg().Equal(f.now.AddDate(0, 0, -3)))

	// 最古の記録を後ろにずらすと再計算される
	moved := f.now.AddDate(0, 0, -1)
	_, err := f.svc.UpdateRecord(ctx, worker, ids[1], records.RecordUpdate{Date: &moved})
	require.NoError(t, err)
	assert.True(t, firstEgg().Equal(moved))

	require.NoError(t, f.svc.DeleteRecord(ctx, worker, ids[1]))
	assert.True(t, firstEgg().Equal(f.now))

	// 産卵数0の記録は初産卵日にならない
	zero := int64(0)
	_, err = f.svc.UpdateRecord(ctx, worker, ids[0], records.RecordUpdate{Quantity: &zero})
	require.NoError(t, err)
	assert.Nil(t, firstEgg())
}

func TestEditPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)

	rec, err := f.svc.CreateRecord(ctx, worker, records.RecordInput{
		FlockID: fl.ID, Kind: farm.RecordKindEggProduction, Date: f.now, Quantity: 40,
	})
	require.NoError(t, err)
	note := "corrected"
	upd := records.RecordUpdate{Note: &note}

	// 他人の記録
	_, err = f.svc.UpdateRecord(ctx, worker2, rec.ID, upd)
	assert.Equal(t, policy.ReasonWorkerNotOwner, forbiddenReason(t, err))

	// 19時以降
	f.now = time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC)
	_, err = f.svc.UpdateRecord(ctx, worker, rec.ID, upd)
	assert.Equal(t, policy.ReasonWorkerCutoff, forbiddenReason(t, err))

	// マネージャーは当日中なら可
	_, err = f.svc.UpdateRecord(ctx, manager, rec.ID, upd)
	require.NoError(t, err)

	// 翌日
	f.now = time.Date(2024, 5, 11, 8, 0, 0, 0, time.UTC)
	_, err = f.svc.UpdateRecord(ctx, manager, rec.ID, upd)
	assert.Equal(t, policy.ReasonManagerWindow, forbiddenReason(t, err))
	_, err = f.svc.UpdateRecord(ctx, owner, rec.ID, upd)
	require.NoError(t, err)

	// 3日を超えるとオーナーも不可、管理者は常に可
	f.now = time.Date(2024, 5, 13, 9, 0, 1, 0, time.UTC)
	err = f.svc.DeleteRecord(ctx, owner, rec.ID)
	assert.Equal(t, policy.ReasonOwnerWindow, forbiddenReason(t, err))
	require.NoError(t, f.svc.DeleteRecord(ctx, admin, rec.ID))
}

func TestAuthorize_ObservesDecisions(t *testing.T) {
	f := newFixture(t)
	obs := &countingObserver{}
	f.svc.WithObserver(obs)

	d, err := f.svc.Authorize(context.Background(), worker, farmA, f.now, worker2.UserID)
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, policy.ReasonWorkerNotOwner, d.Reason)
	assert.Equal(t, 1, obs.denied)

	_, err = f.svc.Authorize(context.Background(), records.Session{}, farmA, f.now, "")
	assert.ErrorIs(t, err, farm.ErrUnauthenticated)
}

type countingObserver struct{ allowed, denied int }

func (o *countingObserver) ObservePolicyDecision(_ policy.FarmRole, authorized bool) {
	if authorized {
		o.allowed++
	} else {
		o.denied++
	}
}

func TestSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)

	sale, err := f.svc.RecordResale(ctx, worker, records.ResaleInput{
		FlockID: fl.ID, Date: f.now, Quantity: 40, Revenue: dec("800"), Buyer: "market",
	})
	require.NoError(t, err)
	assert.Equal(t, farmA, sale.FarmID)

	got, _ := f.svc.GetFlock(ctx, worker, fl.ID)
	assert.Equal(t, int64(60), got.CurrentQuantity)

	_, err = f.svc.RecordResale(ctx, worker, records.ResaleInput{FlockID: fl.ID, Date: f.now, Quantity: 61, Revenue: dec("1")})
	var ve *farm.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = f.svc.RecordEggSale(ctx, worker, farmA, records.EggSaleInput{Date: f.now, Quantity: 300, Revenue: dec("900")})
	require.NoError(t, err)

	txns, err := f.svc.ListTransactions(ctx, worker, farmA, f.now.AddDate(0, 0, -1), f.now)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	categories := []string{txns[0].Category, txns[1].Category}
	assert.ElementsMatch(t, []string{"Bird Sales", "Egg Sales"}, categories)

	_, err = f.svc.RecordTransaction(ctx, worker, farmA, records.TransactionInput{
		Type: farm.TransactionTypeExpense, Category: "Utilities", Amount: dec("50"), Date: f.now,
	})
	assert.Equal(t, records.ReasonManagersOnly, forbiddenReason(t, err))

	txn, err := f.svc.RecordTransaction(ctx, manager, farmA, records.TransactionInput{
		Type: farm.TransactionTypeExpense, Category: "Utilities", Amount: dec("50"), Date: f.now,
	})
	require.NoError(t, err)
	assert.True(t, txn.SignedAmount().Equal(dec("-50")))
}

func TestChangeNotifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := new(MockNotifier)
	n.On("FarmChanged", mock.Anything, farmA).Return()
	f.svc.WithChangeNotifier(n)

	fl := f.flock(t, farmA, 100)
	lot := f.lot(t, farmA, "20", "100")
	n.AssertNumberOfCalls(t, "FarmChanged", 1)

	_, err := f.svc.CreateRecord(ctx, worker, records.RecordInput{
		FlockID: fl.ID, Kind: farm.RecordKindMortality, Date: f.now, Quantity: 2,
	})
	require.NoError(t, err)
	_, err = f.svc.RecordConsumption(ctx, worker, inventory.ConsumptionInput{
		LotID: lot.ID, FlockID: fl.ID, Kind: inventory.ConsumptionKindFeed, Quantity: dec("5"), Date: f.now,
	})
	require.NoError(t, err)
	n.AssertNumberOfCalls(t, "FarmChanged", 3)

	// 拒否・失敗した操作は通知しない
	_, err = f.svc.RecordTransaction(ctx, worker, farmA, records.TransactionInput{
		Type: farm.TransactionTypeExpense, Category: "Utilities", Amount: dec("50"), Date: f.now,
	})
	require.Error(t, err)
	_, err = f.svc.RecordConsumption(ctx, worker, inventory.ConsumptionInput{
		LotID: lot.ID, FlockID: fl.ID, Kind: inventory.ConsumptionKindFeed, Quantity: dec("500"), Date: f.now,
	})
	require.Error(t, err)
	n.AssertNumberOfCalls(t, "FarmChanged", 3)
	n.AssertNotCalled(t, "FarmChanged", mock.Anything, farmB)
}

func TestConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)
	lot := f.lot(t, farmA, "10", "50")
	foreign := f.lot(t, farmB, "10", "50")

	rec, err := f.svc.RecordConsumption(ctx, worker, inventory.ConsumptionInput{
		LotID: lot.ID, FlockID: fl.ID, Kind: inventory.ConsumptionKindFeed, Quantity: dec("4"),
	})
	require.NoError(t, err)
	assert.Equal(t, worker.UserID, rec.RecordedBy)

	_, err = f.svc.RecordConsumption(ctx, worker, inventory.ConsumptionInput{
		LotID: foreign.ID, FlockID: fl.ID, Kind: inventory.ConsumptionKindFeed, Quantity: dec("1"),
	})
	var ve *farm.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = f.svc.EditConsumption(ctx, worker2, rec.ID, dec("2"))
	assert.Equal(t, policy.ReasonWorkerNotOwner, forbiddenReason(t, err))

	edited, err := f.svc.EditConsumption(ctx, worker, rec.ID, dec("2"))
	require.NoError(t, err)
	assert.True(t, edited.Quantity.Equal(dec("2")))

	require.NoError(t, f.svc.DeleteConsumption(ctx, worker, rec.ID))
	got, err := f.ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec("10")))
}

func TestCompleteHealthTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fl := f.flock(t, farmA, 100)
	lot := f.lot(t, farmA, "20", "100")

	task, err := f.svc.ScheduleHealthTask(ctx, worker, records.HealthTaskInput{
		FlockID: fl.ID, Title: "Newcastle vaccine", DueDate: f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, farm.HealthTaskPending, task.Status)

	done, err := f.svc.CompleteHealthTask(ctx, worker, task.ID, &records.UsageInput{LotID: lot.ID, Quantity: dec("3")})
	require.NoError(t, err)
	assert.Equal(t, farm.HealthTaskCompleted, done.Status)
	require.NotNil(t, done.ConsumptionID)

	var usage []farm.MedicationUsage
	require.NoError(t, f.mem.Source().Snapshot(ctx, func(r report.Reader) error {
		var err error
		usage, err = r.ListMedicationUsage(ctx, fl.ID)
		return err
	}))
	require.Len(t, usage, 1)
	assert.True(t, usage[0].QuantityUsed.Equal(dec("3")))
	assert.Equal(t, lot.ID, usage[0].LotID)

	_, err = f.svc.CompleteHealthTask(ctx, worker, task.ID, nil)
	var ve *farm.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func (f *fixture) assertUntouched(t *testing.T, lot *inventory.Lot, flockID, qty string) {
	t.Helper()
	ctx := context.Background()

	got, err := f.ledger.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(dec(qty)), "lot remaining %s", got.RemainingQuantity)

	item, err := f.ledger.GetItem(ctx, lot.ItemID)
	require.NoError(t, err)
	assert.True(t, item.CurrentStock.Equal(dec(qty)), "item stock %s", item.CurrentStock)

	used, err := f.ledger.ListConsumption(ctx, inventory.ConsumptionFilter{FlockID: flockID})
	require.NoError(t, err)
	assert.Empty(t, used)

	tasks, err := f.svc.ListHealthTasks(ctx, worker, flockID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, farm.HealthTaskPending, tasks[0].Status)
	assert.Nil(t, tasks[0].ConsumptionID)
}

func TestCompleteHealthTask_AtomicWithDraw(t *testing.T) {
	t.Run("トランザクション失敗", func(t *testing.T) {
		f := newFixture(t)
		fl := f.flock(t, farmA, 100)
		lot := f.lot(t, farmA, "20", "100")
		task, err := f.svc.ScheduleHealthTask(context.Background(), worker, records.HealthTaskInput{
			FlockID: fl.ID, Title: "Deworming", DueDate: f.now,
		})
		require.NoError(t, err)

		f.store.failNext = true
		_, err = f.svc.CompleteHealthTask(context.Background(), worker, task.ID, &records.UsageInput{LotID: lot.ID, Quantity: dec("5")})
		var se *farm.StorageError
		require.True(t, errors.As(err, &se))
		f.assertUntouched(t, lot, fl.ID, "20")
	})

	t.Run("トランザクション中のキャンセル", func(t *testing.T) {
		f := newFixture(t)
		fl := f.flock(t, farmA, 100)
		lot := f.lot(t, farmA, "20", "100")
		task, err := f.svc.ScheduleHealthTask(context.Background(), worker, records.HealthTaskInput{
			FlockID: fl.ID, Title: "Deworming", DueDate: f.now,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.store.cancelInTx = cancel
		_, err = f.svc.CompleteHealthTask(ctx, worker, task.ID, &records.UsageInput{LotID: lot.ID, Quantity: dec("5")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		f.assertUntouched(t, lot, fl.ID, "20")
	})

	t.Run("在庫不足", func(t *testing.T) {
		f := newFixture(t)
		fl := f.flock(t, farmA, 100)
		lot := f.lot(t, farmA, "20", "100")
		task, err := f.svc.ScheduleHealthTask(context.Background(), worker, records.HealthTaskInput{
			FlockID: fl.ID, Title: "Deworming", DueDate: f.now,
		})
		require.NoError(t, err)

		_, err = f.svc.CompleteHealthTask(context.Background(), worker, task.ID, &records.UsageInput{LotID: lot.ID, Quantity: dec("25")})
		assert.True(t, inventory.IsInsufficientStock(err))
		f.assertUntouched(t, lot, fl.ID, "20")
	})
}

func TestPurchaseLot_ManagersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := inventory.ItemKey{Name: "Grower Pellets", Category: "Feed"}
	in := inventory.LotInput{PurchaseDate: f.now, InitialQuantity: dec("50"), TotalCost: dec("100")}

	_, err := f.svc.PurchaseLot(ctx, worker, farmA, key, in)
	assert.Equal(t, records.ReasonManagersOnly, forbiddenReason(t, err))

	lot, err := f.svc.PurchaseLot(ctx, manager, farmA, key, in)
	require.NoError(t, err)
	assert.Equal(t, farmA, lot.FarmID)

	assert.NoError(t, f.svc.RequireMember(ctx, worker, farmA))
	assert.Error(t, f.svc.RequireManager(ctx, worker, farmA))
	assert.Error(t, f.svc.RequireMember(ctx, stranger, farmA))
}
