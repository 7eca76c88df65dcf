package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

const flockColumns = `id, farm_id, name, type, initial_quantity, current_quantity, cost_per_bird, start_date, first_egg_date, status, created_at`

func scanFlock(row rowScanner) (*farm.Flock, error) {
	var f farm.Flock
	err := row.Scan(
		&f.ID,
		&f.FarmID,
		&f.Name,
		&f.Type,
		&f.InitialQuantity,
		&f.CurrentQuantity,
		&f.CostPerBird,
		&f.StartDate,
		&f.FirstEggDate,
		&f.Status,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

const recordColumns = `id, farm_id, kind, flock_id, date, quantity, measurement, note, recorded_by, created_at`

func scanRecord(row rowScanner) (*farm.OperationalRecord, error) {
	var r farm.OperationalRecord
	err := row.Scan(
		&r.ID,
		&r.FarmID,
		&r.Kind,
		&r.FlockID,
		&r.Date,
		&r.Quantity,
		&r.Measurement,
		&r.Note,
		&r.RecordedBy,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const resaleColumns = `id, farm_id, flock_id, date, quantity, revenue, buyer, recorded_by, created_at`

func scanResale(row rowScanner) (*farm.BirdResale, error) {
	var s farm.BirdResale
	err := row.Scan(&s.ID, &s.FarmID, &s.FlockID, &s.Date, &s.Quantity, &s.Revenue, &s.Buyer, &s.RecordedBy, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const eggSaleColumns = `id, farm_id, date, quantity, revenue, recorded_by, created_at`

func scanEggSale(row rowScanner) (*farm.EggSale, error) {
	var s farm.EggSale
	err := row.Scan(&s.ID, &s.FarmID, &s.Date, &s.Quantity, &s.Revenue, &s.RecordedBy, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const transactionColumns = `id, farm_id, type, category, description, amount, date, reference, created_by, created_at`

func scanTransaction(row rowScanner) (*farm.Transaction, error) {
	var t farm.Transaction
	err := row.Scan(
		&t.ID,
		&t.FarmID,
		&t.Type,
		&t.Category,
		&t.Description,
		&t.Amount,
		&t.Date,
		&t.Reference,
		&t.CreatedBy,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const healthTaskColumns = `id, flock_id, title, due_date, status, completed_at, consumption_id, created_at`

func scanHealthTask(row rowScanner) (*farm.HealthTask, error) {
	var t farm.HealthTask
	err := row.Scan(&t.ID, &t.FlockID, &t.Title, &t.DueDate, &t.Status, &t.CompletedAt, &t.ConsumptionID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- 作業記録 - Records reads ----

// GetFlock retrieves a flock by ID
// IDで鶏群を取得
func (c *pgConn) GetFlock(ctx context.Context, flockID string) (*farm.Flock, error) {
	return getOne(ctx, c.q, scanFlock, "flock", flockID,
		`SELECT `+flockColumns+` FROM flocks WHERE id = $1`, flockID)
}

func (c *pgConn) ListFlocks(ctx context.Context, farmID string) ([]farm.Flock, error) {
	flocks, err := queryList(ctx, c.q, scanFlock,
		`SELECT `+flockColumns+` FROM flocks WHERE farm_id = $1 ORDER BY start_date, id`, farmID)
	if err != nil {
		return nil, fmt.Errorf("鶏群一覧取得に失敗しました: %w", err)
	}
	return flocks, nil
}

func (c *pgConn) GetRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error) {
	return getOne(ctx, c.q, scanRecord, "record", recordID,
		`SELECT `+recordColumns+` FROM operational_records WHERE id = $1`, recordID)
}

// ListRecords lists operational records matching filter
// 条件に一致する作業記録を取得
func (c *pgConn) ListRecords(ctx context.Context, filter farm.RecordFilter) ([]farm.OperationalRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.FarmID != "" {
		add("farm_id = $%d", filter.FarmID)
	}
	if filter.FlockID != "" {
		add("flock_id = $%d", filter.FlockID)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.From != nil {
		add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("date <= $%d", *filter.To)
	}

	query := `SELECT ` + recordColumns + ` FROM operational_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, id`

	recs, err := queryList(ctx, c.q, scanRecord, query, args...)
	if err != nil {
		return nil, fmt.Errorf("作業記録一覧取得に失敗しました: %w", err)
	}
	return recs, nil
}

func (c *pgConn) ListBirdResales(ctx context.Context, flockID string) ([]farm.BirdResale, error) {
	sales, err := queryList(ctx, c.q, scanResale,
		`SELECT `+resaleColumns+` FROM bird_resales WHERE flock_id = $1 ORDER BY date, id`, flockID)
	if err != nil {
		return nil, fmt.Errorf("生体販売一覧取得に失敗しました: %w", err)
	}
	return sales, nil
}

func (c *pgConn) ListEggSales(ctx context.Context, farmID string) ([]farm.EggSale, error) {
	sales, err := queryList(ctx, c.q, scanEggSale,
		`SELECT `+eggSaleColumns+` FROM egg_sales WHERE farm_id = $1 ORDER BY date, id`, farmID)
	if err != nil {
		return nil, fmt.Errorf("鶏卵販売一覧取得に失敗しました: %w", err)
	}
	return sales, nil
}

// ListTransactions lists farm transactions dated within [from, to]
func (c *pgConn) ListTransactions(ctx context.Context, farmID string, from, to time.Time) ([]farm.Transaction, error) {
	txns, err := queryList(ctx, c.q, scanTransaction, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE farm_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, id`, farmID, from, to)
	if err != nil {
		return nil, fmt.Errorf("取引一覧取得に失敗しました: %w", err)
	}
	return txns, nil
}

func (c *pgConn) GetHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error) {
	return getOne(ctx, c.q, scanHealthTask, "health_task", taskID,
		`SELECT `+healthTaskColumns+` FROM health_tasks WHERE id = $1`, taskID)
}

func (c *pgConn) ListHealthTasks(ctx context.Context, flockID string) ([]farm.HealthTask, error) {
	tasks, err := queryList(ctx, c.q, scanHealthTask,
		`SELECT `+healthTaskColumns+` FROM health_tasks WHERE flock_id = $1 ORDER BY due_date, id`, flockID)
	if err != nil {
		return nil, fmt.Errorf("健康タスク一覧取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// ---- 損益集計 - Attribution reads ----

// SumEggProduction returns every egg the flock ever produced
// 鶏群の累計産卵数
func (c *pgConn) SumEggProduction(ctx context.Context, flockID string) (int64, error) {
	var total int64
	err := c.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM operational_records
		WHERE flock_id = $1 AND kind = $2`,
		flockID, farm.RecordKindEggProduction,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("産卵数集計に失敗しました: %w", err)
	}
	return total, nil
}

// EggSalesTotals returns every egg the farm ever sold and the revenue for them
// 農場の累計鶏卵販売数と売上
func (c *pgConn) EggSalesTotals(ctx context.Context, farmID string) (int64, decimal.Decimal, error) {
	var (
		eggs    int64
		revenue decimal.Decimal
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0), COALESCE(SUM(revenue), 0) FROM egg_sales
		WHERE farm_id = $1`, farmID,
	).Scan(&eggs, &revenue)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("鶏卵販売集計に失敗しました: %w", err)
	}
	return eggs, revenue, nil
}

// ListMedicationUsage joins completed health tasks with the consumption they drew
// 完了済み健康タスクと消費記録を結合して取得
func (c *pgConn) ListMedicationUsage(ctx context.Context, flockID string) ([]farm.MedicationUsage, error) {
	usage, err := queryList(ctx, c.q, func(row rowScanner) (*farm.MedicationUsage, error) {
		var u farm.MedicationUsage
		if err := row.Scan(&u.TaskID, &u.Title, &u.CompletedAt, &u.LotID, &u.QuantityUsed); err != nil {
			return nil, err
		}
		return &u, nil
	}, `
		SELECT t.id, t.title, t.completed_at, c.lot_id, c.quantity
		FROM health_tasks t
		JOIN consumption_records c ON c.id = t.consumption_id
		WHERE t.flock_id = $1 AND t.status = $2 AND t.completed_at IS NOT NULL
		ORDER BY t.completed_at, t.id`,
		flockID, farm.HealthTaskCompleted)
	if err != nil {
		return nil, fmt.Errorf("投薬使用一覧取得に失敗しました: %w", err)
	}
	return usage, nil
}

// ---- 作業記録 - Records writes ----

// CreateFlock inserts a new flock
// 新しい鶏群を作成
func (c *pgConn) CreateFlock(ctx context.Context, f *farm.Flock) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO flocks (`+flockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID,
		f.FarmID,
		f.Name,
		f.Type,
		f.InitialQuantity,
		f.CurrentQuantity,
		f.CostPerBird,
		f.StartDate,
		f.FirstEggDate,
		f.Status,
		f.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pqUniqueViolation {
			return farm.NewValidationError("id", "鶏群は既に存在します", f.ID)
		}
		return fmt.Errorf("鶏群作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) LockFlock(ctx context.Context, flockID string) (*farm.Flock, error) {
	return getOne(ctx, c.q, scanFlock, "flock", flockID,
		`SELECT `+flockColumns+` FROM flocks WHERE id = $1 FOR UPDATE`, flockID)
}

func (c *pgConn) UpdateFlock(ctx context.Context, f *farm.Flock) error {
	result, err := c.q.ExecContext(ctx, `
		UPDATE flocks
		SET name = $2, current_quantity = $3, first_egg_date = $4, status = $5
		WHERE id = $1`,
		f.ID, f.Name, f.CurrentQuantity, f.FirstEggDate, f.Status)
	if err != nil {
		if pgCode(err) == pqCheckViolation {
			return farm.NewStorageError("update_flock", "羽数がマイナスになります", err)
		}
		return fmt.Errorf("鶏群更新に失敗しました: %w", err)
	}
	return expectOne(result, "flock", f.ID)
}

func (c *pgConn) CreateRecord(ctx context.Context, r *farm.OperationalRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO operational_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.FarmID, r.Kind, r.FlockID, r.Date, r.Quantity, r.Measurement, r.Note, r.RecordedBy, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("作業記録作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) LockRecord(ctx context.Context, recordID string) (*farm.OperationalRecord, error) {
	return getOne(ctx, c.q, scanRecord, "record", recordID,
		`SELECT `+recordColumns+` FROM operational_records WHERE id = $1 FOR UPDATE`, recordID)
}

func (c *pgConn) UpdateRecord(ctx context.Context, r *farm.OperationalRecord) error {
	result, err := c.q.ExecContext(ctx, `
		UPDATE operational_records
		SET date = $2, quantity = $3, measurement = $4, note = $5
		WHERE id = $1`,
		r.ID, r.Date, r.Quantity, r.Measurement, r.Note)
	if err != nil {
		return fmt.Errorf("作業記録更新に失敗しました: %w", err)
	}
	return expectOne(result, "record", r.ID)
}

func (c *pgConn) DeleteRecord(ctx context.Context, recordID string) error {
	result, err := c.q.ExecContext(ctx, `DELETE FROM operational_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("作業記録削除に失敗しました: %w", err)
	}
	return expectOne(result, "record", recordID)
}

func (c *pgConn) CreateBirdResale(ctx context.Context, s *farm.BirdResale) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO bird_resales (`+resaleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.FarmID, s.FlockID, s.Date, s.Quantity, s.Revenue, s.Buyer, s.RecordedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("生体販売作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) CreateEggSale(ctx context.Context, s *farm.EggSale) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO egg_sales (`+eggSaleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.FarmID, s.Date, s.Quantity, s.Revenue, s.RecordedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("鶏卵販売作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) CreateHealthTask(ctx context.Context, t *farm.HealthTask) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO health_tasks (`+healthTaskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.FlockID, t.Title, t.DueDate, t.Status, t.CompletedAt, t.ConsumptionID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("健康タスク作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) LockHealthTask(ctx context.Context, taskID string) (*farm.HealthTask, error) {
	return getOne(ctx, c.q, scanHealthTask, "health_task", taskID,
		`SELECT `+healthTaskColumns+` FROM health_tasks WHERE id = $1 FOR UPDATE`, taskID)
}

func (c *pgConn) UpdateHealthTask(ctx context.Context, t *farm.HealthTask) error {
	result, err := c.q.ExecContext(ctx, `
		UPDATE health_tasks
		SET title = $2, due_date = $3, status = $4, completed_at = $5, consumption_id = $6
		WHERE id = $1`,
		t.ID, t.Title, t.DueDate, t.Status, t.CompletedAt, t.ConsumptionID)
	if err != nil {
		return fmt.Errorf("健康タスク更新に失敗しました: %w", err)
	}
	return expectOne(result, "health_task", t.ID)
}
