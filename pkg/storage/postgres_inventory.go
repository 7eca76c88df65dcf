package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgConn runs reads and writes against a connection pool or a transaction
type pgConn struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

const itemColumns = `id, farm_id, name, category, unit, current_stock, status, created_at, updated_at`

func scanItem(row rowScanner) (*inventory.Item, error) {
	var item inventory.Item
	err := row.Scan(
		&item.ID,
		&item.FarmID,
		&item.Name,
		&item.Category,
		&item.Unit,
		&item.CurrentStock,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

const lotColumns = `id, item_id, farm_id, purchase_date, initial_quantity, remaining_quantity, unit, total_cost, unit_conversion_factor, created_at`

func scanLot(row rowScanner) (*inventory.Lot, error) {
	var lot inventory.Lot
	err := row.Scan(
		&lot.ID,
		&lot.ItemID,
		&lot.FarmID,
		&lot.PurchaseDate,
		&lot.InitialQuantity,
		&lot.RemainingQuantity,
		&lot.Unit,
		&lot.TotalCost,
		&lot.UnitConversionFactor,
		&lot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

const consumptionColumns = `id, farm_id, kind, flock_id, lot_id, item_id, quantity, date, note, health_task_id, recorded_by, created_at`

func scanConsumption(row rowScanner) (*inventory.ConsumptionRecord, error) {
	var rec inventory.ConsumptionRecord
	err := row.Scan(
		&rec.ID,
		&rec.FarmID,
		&rec.Kind,
		&rec.FlockID,
		&rec.LotID,
		&rec.ItemID,
		&rec.Quantity,
		&rec.Date,
		&rec.Note,
		&rec.HealthTaskID,
		&rec.RecordedBy,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// queryList drains rows fully before returning so snapshot readers never interleave result sets
func queryList[T any](ctx context.Context, q querier, scan func(rowScanner) (*T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func getOne[T any](ctx context.Context, q querier, scan func(rowScanner) (*T, error), entity, id, query string, args ...any) (*T, error) {
	v, err := scan(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, farm.NewNotFoundError(entity, id)
		}
		return nil, fmt.Errorf("%s取得に失敗しました: %w", entity, err)
	}
	return v, nil
}

// expectOne maps a zero-row update or delete to not found
func expectOne(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return farm.NewNotFoundError(entity, id)
	}
	return nil
}

// ---- 在庫 - Inventory reads ----

// GetItem retrieves an inventory item by ID
// IDで在庫品目を取得
func (c *pgConn) GetItem(ctx context.Context, itemID string) (*inventory.Item, error) {
	return getOne(ctx, c.q, scanItem, "inventory_item", itemID,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, itemID)
}

// ListItems lists the items of a farm
func (c *pgConn) ListItems(ctx context.Context, farmID string) ([]inventory.Item, error) {
	items, err := queryList(ctx, c.q, scanItem,
		`SELECT `+itemColumns+` FROM inventory_items WHERE farm_id = $1 ORDER BY name, id`, farmID)
	if err != nil {
		return nil, fmt.Errorf("品目一覧取得に失敗しました: %w", err)
	}
	return items, nil
}

func (c *pgConn) GetLot(ctx context.Context, lotID string) (*inventory.Lot, error) {
	return getOne(ctx, c.q, scanLot, "inventory_lot", lotID,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1`, lotID)
}

func (c *pgConn) ListLots(ctx context.Context, itemID string) ([]inventory.Lot, error) {
	lots, err := queryList(ctx, c.q, scanLot,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE item_id = $1 ORDER BY purchase_date, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("ロット一覧取得に失敗しました: %w", err)
	}
	return lots, nil
}

func (c *pgConn) GetConsumption(ctx context.Context, recordID string) (*inventory.ConsumptionRecord, error) {
	return getOne(ctx, c.q, scanConsumption, "consumption_record", recordID,
		`SELECT `+consumptionColumns+` FROM consumption_records WHERE id = $1`, recordID)
}

// ListConsumption lists consumption records matching filter
// 条件に一致する消費記録を取得
func (c *pgConn) ListConsumption(ctx context.Context, filter inventory.ConsumptionFilter) ([]inventory.ConsumptionRecord, error) {
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
	if filter.ItemID != "" {
		add("item_id = $%d", filter.ItemID)
	}
	if filter.LotID != "" {
		add("lot_id = $%d", filter.LotID)
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

	query := `SELECT ` + consumptionColumns + ` FROM consumption_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, id`

	recs, err := queryList(ctx, c.q, scanConsumption, query, args...)
	if err != nil {
		return nil, fmt.Errorf("消費記録一覧取得に失敗しました: %w", err)
	}
	return recs, nil
}

// UnitCost returns the unit cost of a lot
func (c *pgConn) UnitCost(ctx context.Context, lotID string) (decimal.Decimal, error) {
	lot, err := c.GetLot(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.UnitCost()
}

// ---- 在庫 - Inventory writes ----

// FindOrCreateItem inserts candidate unless (farm, name, category) exists, then locks the row
// 品目を検索または作成し、行ロックを取得
func (c *pgConn) FindOrCreateItem(ctx context.Context, candidate *inventory.Item) (*inventory.Item, error) {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (farm_id, name, category) DO NOTHING`,
		candidate.ID,
		candidate.FarmID,
		candidate.Name,
		candidate.Category,
		candidate.Unit,
		candidate.CurrentStock,
		candidate.Status,
		candidate.CreatedAt,
		candidate.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("品目作成に失敗しました: %w", err)
	}

	return getOne(ctx, c.q, scanItem, "inventory_item", candidate.Name, `
		SELECT `+itemColumns+` FROM inventory_items
		WHERE farm_id = $1 AND name = $2 AND category = $3
		FOR UPDATE`,
		candidate.FarmID, candidate.Name, candidate.Category)
}

func (c *pgConn) LockItem(ctx context.Context, itemID string) (*inventory.Item, error) {
	return getOne(ctx, c.q, scanItem, "inventory_item", itemID,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, itemID)
}

func (c *pgConn) UpdateItemStock(ctx context.Context, itemID string, stock decimal.Decimal, updatedAt time.Time) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE inventory_items SET current_stock = $2, updated_at = $3 WHERE id = $1`,
		itemID, stock, updatedAt)
	if err != nil {
		if pgCode(err) == pqCheckViolation {
			return farm.NewStorageError("update_item_stock", "在庫がマイナスになります", err)
		}
		return fmt.Errorf("在庫数量更新に失敗しました: %w", err)
	}
	return expectOne(result, "inventory_item", itemID)
}

// CreateLot inserts a new lot
// 新しいロットを作成
func (c *pgConn) CreateLot(ctx context.Context, lot *inventory.Lot) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO inventory_lots (`+lotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		lot.ID,
		lot.ItemID,
		lot.FarmID,
		lot.PurchaseDate,
		lot.InitialQuantity,
		lot.RemainingQuantity,
		lot.Unit,
		lot.TotalCost,
		lot.UnitConversionFactor,
		lot.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pqUniqueViolation {
			return farm.NewValidationError("id", "ロットは既に存在します", lot.ID)
		}
		return fmt.Errorf("ロット作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) LockLot(ctx context.Context, lotID string) (*inventory.Lot, error) {
	return getOne(ctx, c.q, scanLot, "inventory_lot", lotID,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1 FOR UPDATE`, lotID)
}

func (c *pgConn) UpdateLotRemaining(ctx context.Context, lotID string, remaining decimal.Decimal) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE inventory_lots SET remaining_quantity = $2 WHERE id = $1`, lotID, remaining)
	if err != nil {
		if pgCode(err) == pqCheckViolation {
			return farm.NewStorageError("update_lot_remaining", "ロット残量が範囲外です", err)
		}
		return fmt.Errorf("ロット残量更新に失敗しました: %w", err)
	}
	return expectOne(result, "inventory_lot", lotID)
}

func (c *pgConn) CreateConsumption(ctx context.Context, rec *inventory.ConsumptionRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO consumption_records (`+consumptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID,
		rec.FarmID,
		rec.Kind,
		rec.FlockID,
		rec.LotID,
		rec.ItemID,
		rec.Quantity,
		rec.Date,
		rec.Note,
		rec.HealthTaskID,
		rec.RecordedBy,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("消費記録作成に失敗しました: %w", err)
	}
	return nil
}

func (c *pgConn) LockConsumption(ctx context.Context, recordID string) (*inventory.ConsumptionRecord, error) {
	return getOne(ctx, c.q, scanConsumption, "consumption_record", recordID,
		`SELECT `+consumptionColumns+` FROM consumption_records WHERE id = $1 FOR UPDATE`, recordID)
}

func (c *pgConn) UpdateConsumptionQuantity(ctx context.Context, recordID string, quantity decimal.Decimal) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE consumption_records SET quantity = $2 WHERE id = $1`, recordID, quantity)
	if err != nil {
		return fmt.Errorf("消費記録更新に失敗しました: %w", err)
	}
	return expectOne(result, "consumption_record", recordID)
}

func (c *pgConn) DeleteConsumption(ctx context.Context, recordID string) error {
	result, err := c.q.ExecContext(ctx, `DELETE FROM consumption_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("消費記録削除に失敗しました: %w", err)
	}
	return expectOne(result, "consumption_record", recordID)
}

// CreateTransaction inserts a farm transaction
// 取引を作成
func (c *pgConn) CreateTransaction(ctx context.Context, txn *farm.Transaction) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID,
		txn.FarmID,
		txn.Type,
		txn.Category,
		txn.Description,
		txn.Amount,
		txn.Date,
		txn.Reference,
		txn.CreatedBy,
		txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("取引作成に失敗しました: %w", err)
	}
	return nil
}
