package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
)

// MemoryStorage is an in-process store with the same views as PostgreSQLStorage.
// Transactions run on a copy of the state that replaces the committed state on
// success, so snapshots are plain pointer reads.
// インメモリストレージ（テスト・デモ用）
type MemoryStorage struct {
	writeMu sync.Mutex
	state   atomic.Pointer[memState]
	logger  *zap.Logger
}

type memState struct {
	farms       map[string]farm.Farm
	members     map[string]map[string]policy.FarmRole
	flocks      map[string]farm.Flock
	records     map[string]farm.OperationalRecord
	resales     map[string]farm.BirdResale
	eggSales    map[string]farm.EggSale
	txns        map[string]farm.Transaction
	tasks       map[string]farm.HealthTask
	items       map[string]inventory.Item
	lots        map[string]inventory.Lot
	consumption map[string]inventory.ConsumptionRecord
}

func newMemState() *memState {
	return &memState{
		farms:       make(map[string]farm.Farm),
		members:     make(map[string]map[string]policy.FarmRole),
		flocks:      make(map[string]farm.Flock),
		records:     make(map[string]farm.OperationalRecord),
		resales:     make(map[string]farm.BirdResale),
		eggSales:    make(map[string]farm.EggSale),
		txns:        make(map[string]farm.Transaction),
		tasks:       make(map[string]farm.HealthTask),
		items:       make(map[string]inventory.Item),
		lots:        make(map[string]inventory.Lot),
		consumption: make(map[string]inventory.ConsumptionRecord),
	}
}

func (s *memState) clone() *memState {
	members := make(map[string]map[string]policy.FarmRole, len(s.members))
	for farmID, m := range s.members {
		members[farmID] = maps.Clone(m)
	}
	return &memState{
		farms:       maps.Clone(s.farms),
		members:     members,
		flocks:      maps.Clone(s.flocks),
		records:     maps.Clone(s.records),
		resales:     maps.Clone(s.resales),
		eggSales:    maps.Clone(s.eggSales),
		txns:        maps.Clone(s.txns),
		tasks:       maps.Clone(s.tasks),
		items:       maps.Clone(s.items),
		lots:        maps.Clone(s.lots),
		consumption: maps.Clone(s.consumption),
	}
}

// NewMemoryStorage creates an empty in-memory store
// 新しいインメモリストレージを作成
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryStorage{logger: logger.Named("memory")}
	m.state.Store(newMemState())
	return m
}

// Ledger returns the inventory ledger view
func (m *MemoryStorage) Ledger() inventory.Store { return &memLedger{memView: m.view()} }

// Records returns the operational records view
func (m *MemoryStorage) Records() records.Store { return &memRecords{memView: m.view()} }

// Source returns the report snapshot source
func (m *MemoryStorage) Source() report.Source { return m }

// Ping always succeeds
func (m *MemoryStorage) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (m *MemoryStorage) Close() error { return nil }

// CreateFarm registers a farm and its owner membership
// 農場を作成
func (m *MemoryStorage) CreateFarm(ctx context.Context, f *farm.Farm) error {
	return m.withinTx(ctx, func(v *memView) error {
		if _, ok := v.tx.farms[f.ID]; ok {
			return farm.NewValidationError("id", "農場は既に存在します", f.ID)
		}
		v.tx.farms[f.ID] = *f
		v.tx.members[f.ID] = map[string]policy.FarmRole{f.OwnerID: policy.FarmRoleOwner}
		return nil
	})
}

// AddMember grants userID a role on farmID, replacing any existing role
// 農場メンバーを追加
func (m *MemoryStorage) AddMember(ctx context.Context, farmID, userID string, role policy.FarmRole) error {
	return m.withinTx(ctx, func(v *memView) error {
		if _, ok := v.tx.farms[farmID]; !ok {
			return farm.NewNotFoundError("farm", farmID)
		}
		if v.tx.members[farmID] == nil {
			v.tx.members[farmID] = make(map[string]policy.FarmRole)
		}
		v.tx.members[farmID][userID] = role
		return nil
	})
}

// FarmOwner returns the owner of a farm
func (m *MemoryStorage) FarmOwner(ctx context.Context, farmID string) (string, error) {
	f, ok := m.state.Load().farms[farmID]
	if !ok {
		return "", farm.NewNotFoundError("farm", farmID)
	}
	return f.OwnerID, nil
}

// ListFarmIDs lists every farm ID in creation order
func (m *MemoryStorage) ListFarmIDs(ctx context.Context) ([]string, error) {
	farms := m.state.Load().farms
	list := make([]farm.Farm, 0, len(farms))
	for _, f := range farms {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool {
		return byDateThenID(list[i].CreatedAt, list[j].CreatedAt, list[i].ID, list[j].ID)
	})
	ids := make([]string, len(list))
	for i, f := range list {
		ids[i] = f.ID
	}
	return ids, nil
}

// MembershipRole returns userID's membership role on farmID
func (m *MemoryStorage) MembershipRole(ctx context.Context, farmID, userID string) (policy.FarmRole, bool, error) {
	role, ok := m.state.Load().members[farmID][userID]
	return role, ok, nil
}

// Snapshot runs fn against the committed state at call time
// スナップショット読み取り
func (m *MemoryStorage) Snapshot(ctx context.Context, fn func(r report.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memView{m: m, tx: m.state.Load()})
}

func (m *MemoryStorage) view() *memView { return &memView{m: m} }

// withinTx serializes writers; the working copy is discarded on error or cancellation
func (m *MemoryStorage) withinTx(ctx context.Context, fn func(v *memView) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.state.Load().clone()
	if err := fn(&memView{m: m, tx: next}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state.Store(next)
	return nil
}

type memLedger struct{ *memView }

func (l *memLedger) WithinTx(ctx context.Context, fn func(tx inventory.LedgerTx) error) error {
	return l.m.withinTx(ctx, func(v *memView) error { return fn(v) })
}

type memRecords struct{ *memView }

func (r *memRecords) WithinTx(ctx context.Context, fn func(tx records.Tx) error) error {
	return r.m.withinTx(ctx, func(v *memView) error { return fn(v) })
}

// memView reads the committed state, or the working copy inside a transaction
type memView struct {
	m  *MemoryStorage
	tx *memState
}

func (v *memView) s() *memState {
	if v.tx != nil {
		return v.tx
	}
	return v.m.state.Load()
}

// ---- 在庫 - Inventory reads ----

func (v *memView) GetItem(ctx context.Context, itemID string) (*inventory.Item, error) {
	item, ok := v.s().items[itemID]
	if !ok {
		return nil, farm.NewNotFoundError("inventory_item", itemID)
	}
	return &item, nil
}

func (v *memView) ListItems(ctx context.Context, farmID string) ([]inventory.Item, error) {
	out := []inventory.Item{}
	for _, item := range v.s().items {
		if item.FarmID == farmID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *memView) GetLot(ctx context.Context, lotID string) (*inventory.Lot, error) {
	lot, ok := v.s().lots[lotID]
	if !ok {
		return nil, farm.NewNotFoundError("inventory_lot", lotID)
	}
	return &lot, nil
}

func (v *memView) ListLots(ctx context.Context, itemID string) ([]inventory.Lot, error) {
	out := []inventory.Lot{}
	for _, lot := range v.s().lots {
		if lot.ItemID == itemID {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].PurchaseDate, out[j].PurchaseDate, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) GetConsumption(ctx context.Context, recordID string) (*inventory.ConsumptionRecord, error) {
	rec, ok := v.s().consumption[recordID]
	if !ok {
		return nil, farm.NewNotFoundError("consumption_record", recordID)
	}
	return &rec, nil
}

func (v *memView) ListConsumption(ctx context.Context, filter inventory.ConsumptionFilter) ([]inventory.ConsumptionRecord, error) {
	out := []inventory.ConsumptionRecord{}
	for _, rec := range v.s().consumption {
		if filter.Matches(&rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[j].Date, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) UnitCost(ctx context.Context, lotID string) (decimal.Decimal, error) {
	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.UnitCost()
}

// ---- 在庫 - Inventory writes ----

func (v *memView) FindOrCreateItem(ctx context.Context, candidate *inventory.Item) (*inventory.Item, error) {
	s := v.s()
	for _, item := range s.items {
		if item.FarmID == candidate.FarmID && item.Name == candidate.Name && item.Category == candidate.Category {
			return &item, nil
		}
	}
	s.items[candidate.ID] = *candidate
	created := *candidate
	return &created, nil
}

func (v *memView) LockItem(ctx context.Context, itemID string) (*inventory.Item, error) {
	return v.GetItem(ctx, itemID)
}

func (v *memView) UpdateItemStock(ctx context.Context, itemID string, stock decimal.Decimal, updatedAt time.Time) error {
	s := v.s()
	item, ok := s.items[itemID]
	if !ok {
		return farm.NewNotFoundError("inventory_item", itemID)
	}
	if stock.IsNegative() {
		return farm.NewStorageError("update_item_stock", "在庫がマイナスになります", nil)
	}
	item.CurrentStock = stock
	item.UpdatedAt = updatedAt
	s.items[itemID] = item
	return nil
}

func (v *memView) CreateLot(ctx context.Context, lot *inventory.Lot) error {
	if err := inventory.ValidateLot(lot); err != nil {
		return err
	}
	v.s().lots[lot.ID] = *lot
	return nil
}

func (v *memView) LockLot(ctx context.Context, lotID string) (*inventory.Lot, error) {
	return v.GetLot(ctx, lotID)
}

func (v *memView) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	s := v.s()
	lot, ok := s.lots[lotID]
	if !ok {
		return farm.NewNotFoundError("inventory_lot", lotID)
	}
	if remaining.IsNegative() || remaining.GreaterThan(lot.InitialQuantity) {
		return farm.NewStorageError("update_lot_remaining", "ロット残量が範囲外です", nil)
	}
	lot.RemainingQuantity = remaining
	s.lots[lotID] = lot
	return nil
}

func (v *memView) CreateConsumption(ctx context.Context, rec *inventory.ConsumptionRecord) error {
	v.s().consumption[rec.ID] = *rec
	return nil
}

func (v *memView) LockConsumption(ctx context.Context, recordID string) (*inventory.ConsumptionRecord, error) {
	return v.GetConsumption(ctx, recordID)
}

func (v *memView) UpdateConsumptionQuantity(ctx context.Context, recordID string, quantity decimal.Decimal) error {
	s := v.s()
	rec, ok := s.consumption[recordID]
	if !ok {
		return farm.NewNotFoundError("consumption_record", recordID)
	}
	rec.Quantity = quantity
	s.consumption[recordID] = rec
	return nil
}

func (v *memView) DeleteConsumption(ctx context.Context, recordID string) error {
	s := v.s()
	if _, ok := s.consumption[recordID]; !ok {
		return farm.NewNotFoundError("consumption_record", recordID)
	}
	delete(s.consumption, recordID)
	return nil
}

func (v *memView) CreateTransaction(ctx context.Context, txn *farm.Transaction) error {
	v.s().txns[txn.ID] = *txn
	return nil
}

// ---- 作業記録 - Records reads ----

func (v *memView) GetFlock(ctx context.Context, flockID string) (*farm.Flock, error) {
	flock, ok := v.s().flocks[flockID]
	if !ok {
		return nil, farm.NewNotFoundError("flock", flockID)
	}
	return &flock, nil
}

func (v *memView) ListFlocks(ctx context.Context, farmID string) ([]farm.Flock, error) {
	out := []farm.Flock{}
	for _, flock := range v.s().flocks {
		if flock.FarmID == farmID {
			out = append(out, flock)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].StartDate, out[j].StartDate, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) GetRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error) {
	rec, ok := v.s().records[recordID]
	if !ok {
		return nil, farm.NewNotFoundError("record", recordID)
	}
	return &rec, nil
}

func (v *memView) ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error) {
	out := []farm.OperationalRecord{}
	for _, rec := range v.s().records {
		if filter.Matches(&rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[j].Date, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) ListBirdResales(ctx context.Context, flockID string) ([]farm.BirdResale, error) {
	out := []farm.BirdResale{}
	for _, sale := range v.s().resales {
		if sale.FlockID == flockID {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[j].Date, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) ListEggSales(ctx context.Context, farmID string) ([]farm.EggSale, error) {
	out := []farm.EggSale{}
	for _, sale := range v.s().eggSales {
		if sale.FarmID == farmID {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[j].Date, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) ListTransactions(ctx context.Context, farmID string, from, to time.Time) ([]farm.Transaction, error) {
	out := []farm.Transaction{}
	for _, txn := range v.s().txns {
		if txn.FarmID == farmID && !txn.Date.Before(from) && !txn.Date.After(to) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].Date, out[j].Date, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (v *memView) GetHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error) {
	task, ok := v.s().tasks[taskID]
	if !ok {
		return nil, farm.NewNotFoundError("health_task", taskID)
	}
	return &task, nil
}

func (v *memView) ListHealthTasks(ctx context.Context, flockID string) ([]farm.HealthTask, error) {
	out := []farm.HealthTask{}
	for _, task := range v.s().tasks {
		if task.FlockID == flockID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].DueDate, out[j].DueDate, out[i].ID, out[j].ID)
	})
	return out, nil
}

// ---- 損益集計 - Attribution reads ----

func (v *memView) SumEggProduction(ctx context.Context, flockID string) (int64, error) {
	var total int64
	for _, rec := range v.s().records {
		if rec.FlockID == flockID && rec.Kind == farm.RecordKindEggProduction {
			total += rec.Quantity
		}
	}
	return total, nil
}

func (v *memView) EggSalesTotals(ctx context.Context, farmID string) (int64, decimal.Decimal, error) {
	var eggs int64
	revenue := decimal.Zero
	for _, sale := range v.s().eggSales {
		if sale.FarmID == farmID {
			eggs += sale.Quantity
			revenue = revenue.Add(sale.Revenue)
		}
	}
	return eggs, revenue, nil
}

func (v *memView) ListMedicationUsage(ctx context.Context, flockID string) ([]farm.MedicationUsage, error) {
	s := v.s()
	out := []farm.MedicationUsage{}
	for _, task := range s.tasks {
		if task.FlockID != flockID || task.Status != farm.HealthTaskCompleted || task.ConsumptionID == nil || task.CompletedAt == nil {
			continue
		}
		rec, ok := s.consumption[*task.ConsumptionID]
		if !ok {
			continue
		}
		out = append(out, farm.MedicationUsage{
			TaskID:       task.ID,
			Title:        task.Title,
			CompletedAt:  *task.CompletedAt,
			LotID:        rec.LotID,
			QuantityUsed: rec.Quantity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return byDateThenID(out[i].CompletedAt, out[j].CompletedAt, out[i].TaskID, out[j].TaskID)
	})
	return out, nil
}

// ---- 作業記録 - Records writes ----

func (v *memView) CreateFlock(ctx context.Context, flock *farm.Flock) error {
	v.s().flocks[flock.ID] = *flock
	return nil
}

func (v *memView) LockFlock(ctx context.Context, flockID string) (*farm.Flock, error) {
	return v.GetFlock(ctx, flockID)
}

func (v *memView) UpdateFlock(ctx context.Context, flock *farm.Flock) error {
	s := v.s()
	if _, ok := s.flocks[flock.ID]; !ok {
		return farm.NewNotFoundError("flock", flock.ID)
	}
	if flock.CurrentQuantity < 0 {
		return farm.NewStorageError("update_flock", "羽数がマイナスになります", nil)
	}
	s.flocks[flock.ID] = *flock
	return nil
}

func (v *memView) CreateRecord(ctx context.Context, rec *farm.OperationalRecord) error {
	v.s().records[rec.ID] = *rec
	return nil
}

func (v *memView) LockRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error) {
	return v.GetRecord(ctx, recordID)
}

func (v *memView) UpdateRecord(ctx context.Context, rec *farm.OperationalRecord) error {
	s := v.s()
	if _, ok := s.records[rec.ID]; !ok {
		return farm.NewNotFoundError("record", rec.ID)
	}
	s.records[rec.ID] = *rec
	return nil
}

func (v *memView) DeleteRecord(ctx context.Context, recordID string) error {
	s := v.s()
	if _, ok := s.records[recordID]; !ok {
		return farm.NewNotFoundError("record", recordID)
	}
	delete(s.records, recordID)
	return nil
}

func (v *memView) CreateBirdResale(ctx context.Context, sale *farm.BirdResale) error {
	v.s().resales[sale.ID] = *sale
	return nil
}

func (v *memView) CreateEggSale(ctx context.Context, sale *farm.EggSale) error {
	v.s().eggSales[sale.ID] = *sale
	return nil
}

func (v *memView) CreateHealthTask(ctx context.Context, task *farm.HealthTask) error {
	v.s().tasks[task.ID] = *task
	return nil
}

func (v *memView) LockHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error) {
	return v.GetHealthTask(ctx, taskID)
}

func (v *memView) UpdateHealthTask(ctx context.Context, task *farm.HealthTask) error {
	s := v.s()
	if _, ok := s.tasks[task.ID]; !ok {
		return farm.NewNotFoundError("health_task", task.ID)
	}
	s.tasks[task.ID] = *task
	return nil
}

func byDateThenID(a, b time.Time, aID, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

var (
	_ inventory.Store    = (*memLedger)(nil)
	_ inventory.LedgerTx = (*memView)(nil)
	_ records.Store      = (*memRecords)(nil)
	_ records.Tx         = (*memView)(nil)
	_ records.Directory  = (*MemoryStorage)(nil)
	_ report.Reader      = (*memView)(nil)
	_ report.Source      = (*MemoryStorage)(nil)
)
