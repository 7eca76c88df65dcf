package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
)

// ReasonManagersOnly is the denial reason for farm management actions
const ReasonManagersOnly = "Only owners and managers can perform this action."

// Service implements the operational record workflows
// 作業記録ワークフローの実装
type Service struct {
	store    Store
	dir      Directory
	ledger   Ledger
	observer PolicyObserver
	notifier ChangeNotifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewService creates a new records service. loc is the farm-local time zone
// used for calendar-day policy checks.
// 新しい作業記録サービスを作成
func NewService(store Store, dir Directory, ledger Ledger, logger *zap.Logger, loc *time.Location) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:  store,
		dir:    dir,
		ledger: ledger,
		logger: logger.Named("records"),
		loc:    loc,
		now:    time.Now,
	}
}

// WithObserver attaches a policy decision observer
func (s *Service) WithObserver(o PolicyObserver) *Service {
	s.observer = o
	return s
}

// WithChangeNotifier attaches a listener told about every committed farm mutation
func (s *Service) WithChangeNotifier(n ChangeNotifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the service clock
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) changed(ctx context.Context, farmID string) {
	if s.notifier != nil {
		s.notifier.FarmChanged(ctx, farmID)
	}
}

// ---- 鶏群 - Flocks ----

// RegisterFlock registers a new flock and its acquisition expense
// 鶏群を登録し、導入費用を記録
func (s *Service) RegisterFlock(ctx context.Context, sess Session, farmID string, in FlockInput) (*farm.Flock, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, farm.NewValidationError("name", "鶏群名が空です", in.Name)
	}
	if !in.Type.Valid() {
		return nil, farm.NewValidationError("type", "鶏群タイプが不正です", string(in.Type))
	}
	if in.InitialQuantity <= 0 {
		return nil, farm.NewValidationError("initial_quantity", "導入羽数は正の値である必要があります", fmt.Sprintf("%d", in.InitialQuantity))
	}
	if in.CostPerBird.IsNegative() {
		return nil, farm.NewValidationError("cost_per_bird", "導入単価は0以上である必要があります", in.CostPerBird.String())
	}
	if in.StartDate.IsZero() {
		return nil, farm.NewValidationError("start_date", "導入日が空です", "")
	}
	if _, err := s.requireManager(ctx, sess, farmID); err != nil {
		return nil, err
	}

	now := s.clock()
	flock := &farm.Flock{
		ID:              farm.NewID(),
		FarmID:          farmID,
		Name:            in.Name,
		Type:            in.Type,
		InitialQuantity: in.InitialQuantity,
		CurrentQuantity: in.InitialQuantity,
		CostPerBird:     in.CostPerBird,
		StartDate:       in.StartDate,
		Status:          farm.FlockStatusActive,
		CreatedAt:       now,
	}

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.CreateFlock(ctx, flock); err != nil {
			return err
		}
		cost := flock.AcquisitionCost()
		if !cost.IsPositive() {
			return nil
		}
		ref := flock.ID
		return tx.CreateTransaction(ctx, &farm.Transaction{
			ID:          farm.NewID(),
			FarmID:      farmID,
			Type:        farm.TransactionTypeExpense,
			Category:    "Flock Procurement",
			Description: fmt.Sprintf("Acquisition: %s (%d birds)", flock.Name, flock.InitialQuantity),
			Amount:      cost,
			Date:        flock.StartDate,
			Reference:   &ref,
			CreatedBy:   sess.UserID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, s.fail("register_flock", "鶏群登録に失敗しました", err)
	}
	s.changed(ctx, farmID)

	s.logger.Info("鶏群登録完了",
		zap.String("flock_id", flock.ID),
		zap.String("farm_id", farmID),
		zap.Int64("initial_quantity", flock.InitialQuantity),
	)
	return flock, nil
}

// ArchiveFlock archives a flock; flocks are never deleted
// 鶏群をアーカイブ
func (s *Service) ArchiveFlock(ctx context.Context, sess Session, flockID string) (*farm.Flock, error) {
	flock, err := s.store.GetFlock(ctx, flockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireManager(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockFlock(ctx, flockID)
		if err != nil {
			return err
		}
		locked.Status = farm.FlockStatusArchived
		flock = locked
		return tx.UpdateFlock(ctx, locked)
	})
	if err != nil {
		return nil, s.fail("archive_flock", "鶏群のアーカイブに失敗しました", err)
	}
	s.changed(ctx, flock.FarmID)

	s.logger.Info("鶏群アーカイブ完了", zap.String("flock_id", flockID))
	return flock, nil
}

// GetFlock returns a flock visible to the caller
func (s *Service) GetFlock(ctx context.Context, sess Session, flockID string) (*farm.Flock, error) {
	flock, err := s.store.GetFlock(ctx, flockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}
	return flock, nil
}

// ListFlocks lists a farm's flocks
func (s *Service) ListFlocks(ctx context.Context, sess Session, farmID string) ([]farm.Flock, error) {
	if _, err := s.requireMember(ctx, sess, farmID); err != nil {
		return nil, err
	}
	flocks, err := s.store.ListFlocks(ctx, farmID)
	if err != nil {
		return nil, s.fail("list_flocks", "鶏群一覧の取得に失敗しました", err)
	}
	return flocks, nil
}

// ---- 作業記録 - Operational records ----

// CreateRecord creates a mortality, egg-production or growth record.
// Mortality decrements the flock's current quantity in the same transaction.
// 作業記録を作成
func (s *Service) CreateRecord(ctx context.Context, sess Session, in RecordInput) (*farm.OperationalRecord, error) {
	if err := validateRecordInput(in); err != nil {
		return nil, err
	}
	flock, err := s.store.GetFlock(ctx, in.FlockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}

	now := s.clock()
	record := &farm.OperationalRecord{
		ID:          farm.NewID(),
		FarmID:      flock.FarmID,
		Kind:        in.Kind,
		FlockID:     in.FlockID,
		Date:        in.Date,
		Quantity:    in.Quantity,
		Measurement: in.Measurement,
		Note:        in.Note,
		RecordedBy:  sess.UserID,
		CreatedAt:   now,
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockFlock(ctx, in.FlockID)
		if err != nil {
			return err
		}
		if locked.Status == farm.FlockStatusArchived {
			return farm.NewValidationError("flock_id", "アーカイブ済みの鶏群には記録できません", locked.ID)
		}

		switch in.Kind {
		case farm.RecordKindMortality:
			if in.Quantity > locked.CurrentQuantity {
				return farm.NewValidationError("quantity", "死亡羽数が現在羽数を超えています", fmt.Sprintf("%d", in.Quantity))
			}
			locked.CurrentQuantity -= in.Quantity
			if err := tx.UpdateFlock(ctx, locked); err != nil {
				return err
			}
		case farm.RecordKindEggProduction:
			if in.Quantity > 0 && (locked.FirstEggDate == nil || in.Date.Before(*locked.FirstEggDate)) {
				d := in.Date
				locked.FirstEggDate = &d
				if err := tx.UpdateFlock(ctx, locked); err != nil {
					return err
				}
			}
		}
		return tx.CreateRecord(ctx, record)
	})
	if err != nil {
		return nil, s.fail("create_record", "作業記録の作成に失敗しました", err)
	}
	s.changed(ctx, record.FarmID)

	s.logger.Info("作業記録作成完了",
		zap.String("record_id", record.ID),
		zap.String("kind", string(record.Kind)),
		zap.String("flock_id", record.FlockID),
		zap.Int64("quantity", record.Quantity),
	)
	return record, nil
}

// UpdateRecord edits a historical record after the policy allows it
// ポリシー判定後に作業記録を修正
func (s *Service) UpdateRecord(ctx context.Context, sess Session, recordID string, upd RecordUpdate) (*farm.OperationalRecord, error) {
	current, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, s.fail("get_record", "作業記録取得に失敗しました", err)
	}
	if err := s.authorize(ctx, sess, current.FarmID, current.CreatedAt, current.RecordedBy); err != nil {
		return nil, err
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		return nil, farm.NewValidationError("quantity", "数量は0以上である必要があります", fmt.Sprintf("%d", *upd.Quantity))
	}

	var updated *farm.OperationalRecord
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.LockRecord(ctx, recordID)
		if err != nil {
			return err
		}

		if rec.Kind == farm.RecordKindMortality && upd.Quantity != nil && *upd.Quantity != rec.Quantity {
			flock, err := tx.LockFlock(ctx, rec.FlockID)
			if err != nil {
				return err
			}
			delta := *upd.Quantity - rec.Quantity
			if delta > flock.CurrentQuantity {
				return farm.NewValidationError("quantity", "死亡羽数が現在羽数を超えています", fmt.Sprintf("%d", *upd.Quantity))
			}
			flock.CurrentQuantity = clampQuantity(flock.CurrentQuantity-delta, flock.InitialQuantity)
			if err := tx.UpdateFlock(ctx, flock); err != nil {
				return err
			}
		}

		if upd.Date != nil {
			rec.Date = *upd.Date
		}
		if upd.Quantity != nil {
			rec.Quantity = *upd.Quantity
		}
		if upd.Measurement != nil {
			rec.Measurement = *upd.Measurement
		}
		if upd.Note != nil {
			rec.Note = *upd.Note
		}
		if rec.Kind == farm.RecordKindGrowth && !rec.Measurement.IsPositive() {
			return farm.NewValidationError("measurement", "測定値は正の値である必要があります", rec.Measurement.String())
		}
		updated = rec
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		if rec.Kind == farm.RecordKindEggProduction {
			return refreshFirstEggDate(ctx, tx, rec.FlockID)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("update_record", "作業記録の修正に失敗しました", err)
	}
	s.changed(ctx, current.FarmID)

	s.logger.Info("作業記録修正完了", zap.String("record_id", recordID), zap.String("user_id", sess.UserID))
	return updated, nil
}

// DeleteRecord deletes a historical record after the policy allows it.
// Deleting mortality restores the flock's current quantity.
// ポリシー判定後に作業記録を削除
func (s *Service) DeleteRecord(ctx context.Context, sess Session, recordID string) error {
	current, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return s.fail("get_record", "作業記録取得に失敗しました", err)
	}
	if err := s.authorize(ctx, sess, current.FarmID, current.CreatedAt, current.RecordedBy); err != nil {
		return err
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		rec, err := tx.LockRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.Kind == farm.RecordKindMortality && rec.Quantity > 0 {
			flock, err := tx.LockFlock(ctx, rec.FlockID)
			if err != nil {
				return err
			}
			flock.CurrentQuantity = clampQuantity(flock.CurrentQuantity+rec.Quantity, flock.InitialQuantity)
			if err := tx.UpdateFlock(ctx, flock); err != nil {
				return err
			}
		}
		if err := tx.DeleteRecord(ctx, recordID); err != nil {
			return err
		}
		if rec.Kind == farm.RecordKindEggProduction {
			return refreshFirstEggDate(ctx, tx, rec.FlockID)
		}
		return nil
	})
	if err != nil {
		return s.fail("delete_record", "作業記録の削除に失敗しました", err)
	}
	s.changed(ctx, current.FarmID)

	s.logger.Info("作業記録削除完了", zap.String("record_id", recordID), zap.String("user_id", sess.UserID))
	return nil
}

// refreshFirstEggDate recomputes the flock's first egg date from its remaining
// egg-production records with a positive count
// 残っている産卵記録から初産卵日を再計算
func refreshFirstEggDate(ctx context.Context, tx Tx, flockID string) error {
	flock, err := tx.LockFlock(ctx, flockID)
	if err != nil {
		return err
	}
	eggs, err := tx.ListRecords(ctx, farm.RecordFilter{FlockID: flockID, Kind: farm.RecordKindEggProduction})
	if err != nil {
		return err
	}
	var first *time.Time
	for i := range eggs {
		if eggs[i].Quantity > 0 && (first == nil || eggs[i].Date.Before(*first)) {
			d := eggs[i].Date
			first = &d
		}
	}
	if first == nil && flock.FirstEggDate == nil {
		return nil
	}
	if first != nil && flock.FirstEggDate != nil && first.Equal(*flock.FirstEggDate) {
		return nil
	}
	flock.FirstEggDate = first
	return tx.UpdateFlock(ctx, flock)
}

// ListRecords lists a farm's records matching filter
func (s *Service) ListRecords(ctx context.Context, sess Session, farmID string, filter farm.RecordFilter) ([]farm.OperationalRecord, error) {
	if _, err := s.requireMember(ctx, sess, farmID); err != nil {
		return nil, err
	}
	filter.FarmID = farmID
	recs, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, s.fail("list_records", "作業記録一覧の取得に失敗しました", err)
	}
	return recs, nil
}

// ---- 販売・取引 - Sales and transactions ----

// RecordResale records a bird sale, decrements the flock and books the revenue
// 生体販売を記録
func (s *Service) RecordResale(ctx context.Context, sess Session, in ResaleInput) (*farm.BirdResale, error) {
	if in.Quantity <= 0 {
		return nil, farm.NewValidationError("quantity", "販売羽数は正の値である必要があります", fmt.Sprintf("%d", in.Quantity))
	}
	if in.Revenue.IsNegative() {
		return nil, farm.NewValidationError("revenue", "売上は0以上である必要があります", in.Revenue.String())
	}
	flock, err := s.store.GetFlock(ctx, in.FlockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}

	now := s.clock()
	sale := &farm.BirdResale{
		ID:         farm.NewID(),
		FarmID:     flock.FarmID,
		FlockID:    flock.ID,
		Date:       in.Date,
		Quantity:   in.Quantity,
		Revenue:    in.Revenue,
		Buyer:      in.Buyer,
		RecordedBy: sess.UserID,
		CreatedAt:  now,
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockFlock(ctx, in.FlockID)
		if err != nil {
			return err
		}
		if in.Quantity > locked.CurrentQuantity {
			return farm.NewValidationError("quantity", "販売羽数が現在羽数を超えています", fmt.Sprintf("%d", in.Quantity))
		}
		locked.CurrentQuantity -= in.Quantity
		if err := tx.UpdateFlock(ctx, locked); err != nil {
			return err
		}
		if err := tx.CreateBirdResale(ctx, sale); err != nil {
			return err
		}
		return s.bookRevenue(ctx, tx, sale.FarmID, "Bird Sales", fmt.Sprintf("Bird sale: %d birds", sale.Quantity), sale.Revenue, sale.Date, sale.ID, sess.UserID, now)
	})
	if err != nil {
		return nil, s.fail("record_resale", "生体販売の記録に失敗しました", err)
	}
	s.changed(ctx, sale.FarmID)

	s.logger.Info("生体販売記録完了",
		zap.String("sale_id", sale.ID),
		zap.String("flock_id", sale.FlockID),
		zap.Int64("quantity", sale.Quantity),
		zap.String("revenue", sale.Revenue.String()),
	)
	return sale, nil
}

// RecordEggSale records a farm-wide egg sale and books the revenue
// 鶏卵販売を記録
func (s *Service) RecordEggSale(ctx context.Context, sess Session, farmID string, in EggSaleInput) (*farm.EggSale, error) {
	if in.Quantity <= 0 {
		return nil, farm.NewValidationError("quantity", "販売個数は正の値である必要があります", fmt.Sprintf("%d", in.Quantity))
	}
	if in.Revenue.IsNegative() {
		return nil, farm.NewValidationError("revenue", "売上は0以上である必要があります", in.Revenue.String())
	}
	if _, err := s.requireMember(ctx, sess, farmID); err != nil {
		return nil, err
	}

	now := s.clock()
	sale := &farm.EggSale{
		ID:         farm.NewID(),
		FarmID:     farmID,
		Date:       in.Date,
		Quantity:   in.Quantity,
		Revenue:    in.Revenue,
		RecordedBy: sess.UserID,
		CreatedAt:  now,
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.CreateEggSale(ctx, sale); err != nil {
			return err
		}
		return s.bookRevenue(ctx, tx, farmID, "Egg Sales", fmt.Sprintf("Egg sale: %d eggs", sale.Quantity), sale.Revenue, sale.Date, sale.ID, sess.UserID, now)
	})
	if err != nil {
		return nil, s.fail("record_egg_sale", "鶏卵販売の記録に失敗しました", err)
	}
	s.changed(ctx, farmID)

	s.logger.Info("鶏卵販売記録完了", zap.String("sale_id", sale.ID), zap.Int64("quantity", sale.Quantity))
	return sale, nil
}

// RecordTransaction records a manual revenue or expense
// 手動の収益・費用を記録
func (s *Service) RecordTransaction(ctx context.Context, sess Session, farmID string, in TransactionInput) (*farm.Transaction, error) {
	if in.Type != farm.TransactionTypeRevenue && in.Type != farm.TransactionTypeExpense {
		return nil, farm.NewValidationError("type", "取引種別が不正です", string(in.Type))
	}
	if !in.Amount.IsPositive() {
		return nil, farm.NewValidationError("amount", "金額は正の値である必要があります", in.Amount.String())
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, farm.NewValidationError("category", "カテゴリが空です", in.Category)
	}
	if _, err := s.requireManager(ctx, sess, farmID); err != nil {
		return nil, err
	}

	txn := &farm.Transaction{
		ID:          farm.NewID(),
		FarmID:      farmID,
		Type:        in.Type,
		Category:    in.Category,
		Description: in.Description,
		Amount:      in.Amount,
		Date:        in.Date,
		CreatedBy:   sess.UserID,
		CreatedAt:   s.clock(),
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, s.fail("record_transaction", "取引の記録に失敗しました", err)
	}
	s.changed(ctx, farmID)
	return txn, nil
}

// ListTransactions lists persisted transactions in [from, to]
func (s *Service) ListTransactions(ctx context.Context, sess Session, farmID string, from, to time.Time) ([]farm.Transaction, error) {
	if _, err := s.requireMember(ctx, sess, farmID); err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, farmID, from, to)
	if err != nil {
		return nil, s.fail("list_transactions", "取引一覧の取得に失敗しました", err)
	}
	return txns, nil
}

// ---- 在庫消費 - Consumption ----

// RecordConsumption records feed or medication use for a flock through the ledger
// 飼料・薬品の消費を記録
func (s *Service) RecordConsumption(ctx context.Context, sess Session, in inventory.ConsumptionInput) (*inventory.ConsumptionRecord, error) {
	flock, err := s.checkConsumptionTarget(ctx, sess, in.FlockID, in.LotID)
	if err != nil {
		return nil, err
	}
	in.FlockID = flock.ID
	in.RecordedBy = sess.UserID
	rec, err := s.ledger.RecordConsumption(farm.WithUserID(ctx, sess.UserID), in)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, flock.FarmID)
	return rec, nil
}

// EditConsumption changes a consumption quantity after the policy allows it
// ポリシー判定後に消費数量を修正
func (s *Service) EditConsumption(ctx context.Context, sess Session, recordID string, quantity decimal.Decimal) (*inventory.ConsumptionRecord, error) {
	rec, err := s.ledger.GetConsumption(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, sess, rec.FarmID, rec.CreatedAt, rec.RecordedBy); err != nil {
		return nil, err
	}
	edited, err := s.ledger.EditConsumption(farm.WithUserID(ctx, sess.UserID), recordID, quantity)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, rec.FarmID)
	return edited, nil
}

// DeleteConsumption reverses a consumption after the policy allows it
// ポリシー判定後に消費記録を取り消し
func (s *Service) DeleteConsumption(ctx context.Context, sess Session, recordID string) error {
	rec, err := s.ledger.GetConsumption(ctx, recordID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, rec.FarmID, rec.CreatedAt, rec.RecordedBy); err != nil {
		return err
	}
	if err := s.ledger.ReverseConsumption(farm.WithUserID(ctx, sess.UserID), recordID); err != nil {
		return err
	}
	s.changed(ctx, rec.FarmID)
	return nil
}

// PurchaseLot records an inventory purchase for the farm; owners and managers only
// 在庫ロットの購入を記録
func (s *Service) PurchaseLot(ctx context.Context, sess Session, farmID string, key inventory.ItemKey, in inventory.LotInput) (*inventory.Lot, error) {
	if _, err := s.requireManager(ctx, sess, farmID); err != nil {
		return nil, err
	}
	lot, err := s.ledger.PurchaseLot(farm.WithUserID(ctx, sess.UserID), farmID, key, in)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, farmID)
	return lot, nil
}

// ---- 健康タスク - Health tasks ----

// ScheduleHealthTask schedules a vaccination or medication task
// 健康タスクを登録
func (s *Service) ScheduleHealthTask(ctx context.Context, sess Session, in HealthTaskInput) (*farm.HealthTask, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, farm.NewValidationError("title", "タイトルが空です", in.Title)
	}
	flock, err := s.store.GetFlock(ctx, in.FlockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}

	task := &farm.HealthTask{
		ID:        farm.NewID(),
		FlockID:   flock.ID,
		Title:     in.Title,
		DueDate:   in.DueDate,
		Status:    farm.HealthTaskPending,
		CreatedAt: s.clock(),
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.CreateHealthTask(ctx, task)
	})
	if err != nil {
		return nil, s.fail("schedule_health_task", "健康タスクの登録に失敗しました", err)
	}
	return task, nil
}

// CompleteHealthTask completes a task, drawing the medication used from the
// given lot. The draw and the status change commit together or not at all.
// 健康タスクを完了し、使用した薬品を同一トランザクションで在庫から消費
func (s *Service) CompleteHealthTask(ctx context.Context, sess Session, taskID string, usage *UsageInput) (*farm.HealthTask, error) {
	task, err := s.store.GetHealthTask(ctx, taskID)
	if err != nil {
		return nil, s.fail("get_health_task", "健康タスク取得に失敗しました", err)
	}
	if task.Status == farm.HealthTaskCompleted {
		return nil, farm.NewValidationError("status", "健康タスクは既に完了しています", task.ID)
	}

	var flock *farm.Flock
	if usage != nil {
		if flock, err = s.checkConsumptionTarget(ctx, sess, task.FlockID, usage.LotID); err != nil {
			return nil, err
		}
	} else {
		if flock, err = s.store.GetFlock(ctx, task.FlockID); err != nil {
			return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
		}
		if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
			return nil, err
		}
	}

	var (
		completed *farm.HealthTask
		notify    func(context.Context)
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockHealthTask(ctx, taskID)
		if err != nil {
			return err
		}
		if locked.Status == farm.HealthTaskCompleted {
			return farm.NewValidationError("status", "健康タスクは既に完了しています", locked.ID)
		}
		at := s.clock()
		if usage != nil {
			rec, published, err := s.ledger.ConsumeWithin(farm.WithUserID(ctx, sess.UserID), tx, inventory.ConsumptionInput{
				LotID:        usage.LotID,
				FlockID:      locked.FlockID,
				Kind:         inventory.ConsumptionKindMedication,
				Quantity:     usage.Quantity,
				Date:         at,
				Note:         locked.Title,
				HealthTaskID: &locked.ID,
				RecordedBy:   sess.UserID,
			})
			if err != nil {
				return err
			}
			locked.ConsumptionID = &rec.ID
			notify = published
		}
		locked.Status = farm.HealthTaskCompleted
		locked.CompletedAt = &at
		completed = locked
		return tx.UpdateHealthTask(ctx, locked)
	})
	if err != nil {
		return nil, s.fail("complete_health_task", "健康タスクの完了に失敗しました", err)
	}
	if notify != nil {
		notify(ctx)
	}
	s.changed(ctx, flock.FarmID)

	s.logger.Info("健康タスク完了",
		zap.String("task_id", taskID),
		zap.Bool("inventory_used", notify != nil),
	)
	return completed, nil
}

// ListHealthTasks lists a flock's health tasks
func (s *Service) ListHealthTasks(ctx context.Context, sess Session, flockID string) ([]farm.HealthTask, error) {
	flock, err := s.store.GetFlock(ctx, flockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListHealthTasks(ctx, flockID)
	if err != nil {
		return nil, s.fail("list_health_tasks", "健康タスク一覧の取得に失敗しました", err)
	}
	return tasks, nil
}

// ---- 認可 - Authorization ----

// Authorize resolves the caller's farm role and evaluates the edit policy for a record
// 記録の編集可否を判定
func (s *Service) Authorize(ctx context.Context, sess Session, farmID string, createdAt time.Time, recordedBy string) (policy.Decision, error) {
	actor, err := s.actor(ctx, sess, farmID)
	if err != nil {
		return policy.Decision{}, err
	}
	d := policy.Evaluate(policy.Record{CreatedAt: createdAt, RecordedByID: recordedBy}, actor, s.clock())
	if s.observer != nil {
		s.observer.ObservePolicyDecision(actor.FarmRole, d.Authorized)
	}
	if !d.Authorized {
		s.logger.Info("ポリシーにより拒否されました",
			zap.String("user_id", actor.ID),
			zap.String("farm_id", farmID),
			zap.String("role", string(actor.FarmRole)),
			zap.String("reason", d.Reason),
		)
	}
	return d, nil
}

func (s *Service) authorize(ctx context.Context, sess Session, farmID string, createdAt time.Time, recordedBy string) error {
	d, err := s.Authorize(ctx, sess, farmID, createdAt, recordedBy)
	if err != nil {
		return err
	}
	return d.Err()
}

// actor resolves the caller's effective role on the farm once per check
func (s *Service) actor(ctx context.Context, sess Session, farmID string) (policy.Actor, error) {
	if sess.UserID == "" {
		return policy.Actor{}, farm.ErrUnauthenticated
	}
	owner, err := s.dir.FarmOwner(ctx, farmID)
	if err != nil {
		return policy.Actor{}, s.fail("farm_owner", "農場情報の取得に失敗しました", err)
	}
	role, ok, err := s.dir.MembershipRole(ctx, farmID, sess.UserID)
	if err != nil {
		return policy.Actor{}, s.fail("membership_role", "メンバーシップの取得に失敗しました", err)
	}
	return policy.Actor{
		ID:           sess.UserID,
		PlatformRole: sess.PlatformRole,
		FarmRole:     policy.ResolveFarmRole(sess.UserID, owner, role, ok),
	}, nil
}

// RequireMember fails unless the caller has a role on the farm
func (s *Service) RequireMember(ctx context.Context, sess Session, farmID string) error {
	_, err := s.requireMember(ctx, sess, farmID)
	return err
}

// RequireManager fails unless the caller owns or manages the farm
func (s *Service) RequireManager(ctx context.Context, sess Session, farmID string) error {
	_, err := s.requireManager(ctx, sess, farmID)
	return err
}

func (s *Service) requireMember(ctx context.Context, sess Session, farmID string) (policy.Actor, error) {
	actor, err := s.actor(ctx, sess, farmID)
	if err != nil {
		return actor, err
	}
	if actor.PlatformRole != policy.PlatformRoleAdmin && actor.FarmRole == policy.FarmRoleNone {
		return actor, &farm.ForbiddenError{Reason: policy.ReasonNoRole}
	}
	return actor, nil
}

func (s *Service) requireManager(ctx context.Context, sess Session, farmID string) (policy.Actor, error) {
	actor, err := s.requireMember(ctx, sess, farmID)
	if err != nil {
		return actor, err
	}
	if actor.PlatformRole == policy.PlatformRoleAdmin {
		return actor, nil
	}
	if actor.FarmRole != policy.FarmRoleOwner && actor.FarmRole != policy.FarmRoleManager {
		return actor, &farm.ForbiddenError{Reason: ReasonManagersOnly}
	}
	return actor, nil
}

// ---- ヘルパー ----

// checkConsumptionTarget checks membership, flock state and that the lot belongs to the flock's farm
func (s *Service) checkConsumptionTarget(ctx context.Context, sess Session, flockID, lotID string) (*farm.Flock, error) {
	flock, err := s.store.GetFlock(ctx, flockID)
	if err != nil {
		return nil, s.fail("get_flock", "鶏群取得に失敗しました", err)
	}
	if _, err := s.requireMember(ctx, sess, flock.FarmID); err != nil {
		return nil, err
	}
	if flock.Status == farm.FlockStatusArchived {
		return nil, farm.NewValidationError("flock_id", "アーカイブ済みの鶏群には記録できません", flock.ID)
	}
	lot, err := s.ledger.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.FarmID != flock.FarmID {
		return nil, farm.NewValidationError("lot_id", "ロットは別の農場に属しています", lotID)
	}
	return flock, nil
}

func (s *Service) bookRevenue(ctx context.Context, tx Tx, farmID, category, description string, amount decimal.Decimal, date time.Time, ref, userID string, now time.Time) error {
	if !amount.IsPositive() {
		return nil
	}
	return tx.CreateTransaction(ctx, &farm.Transaction{
		ID:          farm.NewID(),
		FarmID:      farmID,
		Type:        farm.TransactionTypeRevenue,
		Category:    category,
		Description: description,
		Amount:      amount,
		Date:        date,
		Reference:   &ref,
		CreatedBy:   userID,
		CreatedAt:   now,
	})
}

// fail logs unexpected failures and wraps them; domain errors pass through unchanged
func (s *Service) fail(op, msg string, err error) error {
	if !farm.IsDomainError(err) {
		s.logger.Error(msg, zap.String("operation", op), zap.Error(err))
	}
	return farm.WrapStorage(op, msg, err)
}

func clampQuantity(q, max int64) int64 {
	if q < 0 {
		return 0
	}
	if q > max {
		return max
	}
	return q
}

func validateRecordInput(in RecordInput) error {
	if !in.Kind.Valid() {
		return farm.NewValidationError("kind", "記録種別が不正です", string(in.Kind))
	}
	if in.FlockID == "" {
		return farm.NewValidationError("flock_id", "鶏群IDが空です", in.FlockID)
	}
	if in.Date.IsZero() {
		return farm.NewValidationError("date", "記録日が空です", "")
	}
	if in.Quantity < 0 {
		return farm.NewValidationError("quantity", "数量は0以上である必要があります", fmt.Sprintf("%d", in.Quantity))
	}
	if in.Kind == farm.RecordKindMortality && in.Quantity == 0 {
		return farm.NewValidationError("quantity", "死亡羽数は正の値である必要があります", "0")
	}
	if in.Kind == farm.RecordKindGrowth && !in.Measurement.IsPositive() {
		return farm.NewValidationError("measurement", "測定値は正の値である必要があります", in.Measurement.String())
	}
	return nil
}
