package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/policy"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
)

// Session headers supplied by the upstream authentication layer
const (
	headerUserID       = "X-User-ID"
	headerPlatformRole = "X-Platform-Role"
)

// defaultReportMonths is the report window used when from/to are omitted
const defaultReportMonths = 6

// FarmAdmin creates farms and memberships
type FarmAdmin interface {
	CreateFarm(ctx context.Context, f *farm.Farm) error
	AddMember(ctx context.Context, farmID, userID string, role policy.FarmRole) error
}

// Deps are the collaborators wired into the handlers
type Deps struct {
	Records *records.Service
	Ledger  *inventory.Ledger
	Tracker *inventory.Tracker
	Valuer  *inventory.Valuer
	Reports *report.Aggregator
	Farms   FarmAdmin
	Ping    func(ctx context.Context) error
}

// Handlers holds HTTP handlers for the farm ledger API
// 農場台帳API用のHTTPハンドラーを保持
type Handlers struct {
	Deps
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Deps:     deps,
		validate: validator.New(),
		logger:   logger.Named("api"),
		now:      time.Now,
	}
}

// APIResponse represents the error and health response format
// エラー・ヘルスチェック用のレスポンス形式
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateFarmRequest represents request to create a farm owned by the caller
// 農場作成リクエスト
type CreateFarmRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// AddMemberRequest represents request to grant a farm role
// メンバー追加リクエスト
type AddMemberRequest struct {
	UserID string          `json:"user_id" validate:"required"`
	Role   policy.FarmRole `json:"role" validate:"required,oneof=MANAGER WORKER"`
}

// PurchaseLotRequest represents request to record an inventory purchase
// 在庫購入リクエスト
type PurchaseLotRequest struct {
	Item inventory.ItemKey  `json:"item"`
	Lot  inventory.LotInput `json:"lot"`
}

// ConsumptionRequest represents request to record feed or medication use
// 在庫消費リクエスト
type ConsumptionRequest struct {
	LotID    string                    `json:"lot_id" validate:"required"`
	FlockID  string                    `json:"flock_id" validate:"required"`
	Kind     inventory.ConsumptionKind `json:"kind" validate:"required,oneof=FEED MEDICATION"`
	Quantity decimal.Decimal           `json:"quantity"`
	Date     time.Time                 `json:"date"`
	Note     string                    `json:"note" validate:"max=2000"`
}

// EditConsumptionRequest represents request to correct a consumption quantity
type EditConsumptionRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// CompleteTaskRequest represents request to complete a health task
type CompleteTaskRequest struct {
	Usage *records.UsageInput `json:"usage" validate:"omitempty"`
}

// AuthorizeRequest asks whether the caller may edit a record
// 編集可否の判定リクエスト
type AuthorizeRequest struct {
	CreatedAt  time.Time `json:"created_at" validate:"required"`
	RecordedBy string    `json:"recorded_by"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.logger.Warn("ヘルスチェックに失敗しました", zap.Error(err))
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	h.sendJSON(w, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": h.now(),
			"service":   "zaiFarmLedger",
		},
	})
}

// ---- 農場 - Farms ----

// CreateFarm handles create farm requests
// 農場作成リクエストを処理
func (h *Handlers) CreateFarm(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess.UserID == "" {
		h.handleError(w, farm.ErrUnauthenticated)
		return
	}
	var req CreateFarmRequest
	if !h.decode(w, r, &req) {
		return
	}

	f := &farm.Farm{ID: farm.NewID(), Name: req.Name, OwnerID: sess.UserID, CreatedAt: h.now()}
	if err := h.Farms.CreateFarm(r.Context(), f); err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, f)
}

// AddMember handles add member requests
// メンバー追加リクエストを処理
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	farmID := mux.Vars(r)["farmId"]
	var req AddMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Records.RequireManager(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return
	}
	if err := h.Farms.AddMember(r.Context(), farmID, req.UserID, req.Role); err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, map[string]string{"farm_id": farmID, "user_id": req.UserID, "role": string(req.Role)})
}

// Authorize handles edit policy checks
// 編集可否判定リクエストを処理
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Records.Authorize(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], req.CreatedAt, req.RecordedBy)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, d)
}

// ---- 鶏群 - Flocks ----

// RegisterFlock handles flock registration requests
// 鶏群登録リクエストを処理
func (h *Handlers) RegisterFlock(w http.ResponseWriter, r *http.Request) {
	var req records.FlockInput
	if !h.decode(w, r, &req) {
		return
	}
	flock, err := h.Records.RegisterFlock(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, flock)
}

// ListFlocks handles flock list requests
func (h *Handlers) ListFlocks(w http.ResponseWriter, r *http.Request) {
	flocks, err := h.Records.ListFlocks(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, flocks)
}

// GetFlock handles get flock requests
func (h *Handlers) GetFlock(w http.ResponseWriter, r *http.Request) {
	flock, err := h.Records.GetFlock(r.Context(), sessionFrom(r), mux.Vars(r)["flockId"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, flock)
}

// ArchiveFlock handles flock archive requests
func (h *Handlers) ArchiveFlock(w http.ResponseWriter, r *http.Request) {
	flock, err := h.Records.ArchiveFlock(r.Context(), sessionFrom(r), mux.Vars(r)["flockId"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, flock)
}

// ---- 作業記録 - Records ----

// CreateRecord handles operational record creation
// 作業記録作成リクエストを処理
func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req records.RecordInput
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Records.CreateRecord(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles operational record edits
// 作業記録修正リクエストを処理
func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req records.RecordUpdate
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Records.UpdateRecord(r.Context(), sessionFrom(r), mux.Vars(r)["recordId"], req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles operational record deletion
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Records.DeleteRecord(r.Context(), sessionFrom(r), mux.Vars(r)["recordId"]); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRecords handles record list requests; flock_id, kind, from and to filter
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := farm.RecordFilter{
		FlockID: q.Get("flock_id"),
		Kind:    farm.RecordKind(q.Get("kind")),
	}
	var err error
	if filter.From, err = optionalTime(q.Get("from"), false); err != nil {
		h.sendError(w, http.StatusBadRequest, "fromの形式が不正です")
		return
	}
	if filter.To, err = optionalTime(q.Get("to"), true); err != nil {
		h.sendError(w, http.StatusBadRequest, "toの形式が不正です")
		return
	}
	recs, err := h.Records.ListRecords(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], filter)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, recs)
}

// ---- 販売・取引 - Sales and transactions ----

// RecordResale handles bird sale requests
func (h *Handlers) RecordResale(w http.ResponseWriter, r *http.Request) {
	var req records.ResaleInput
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.Records.RecordResale(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, sale)
}

// RecordEggSale handles egg sale requests
func (h *Handlers) RecordEggSale(w http.ResponseWriter, r *http.Request) {
	var req records.EggSaleInput
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.Records.RecordEggSale(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, sale)
}

// RecordTransaction handles manual revenue/expense requests
func (h *Handlers) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req records.TransactionInput
	if !h.decode(w, r, &req) {
		return
	}
	txn, err := h.Records.RecordTransaction(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, txn)
}

// ListTransactions handles transaction list requests
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	txns, err := h.Records.ListTransactions(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], from, to)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, txns)
}

// ---- 在庫 - Inventory ----

// PurchaseLot handles inventory purchase requests
// 在庫購入リクエストを処理
func (h *Handlers) PurchaseLot(w http.ResponseWriter, r *http.Request) {
	var req PurchaseLotRequest
	if !h.decode(w, r, &req) {
		return
	}
	lot, err := h.Records.PurchaseLot(r.Context(), sessionFrom(r), mux.Vars(r)["farmId"], req.Item, req.Lot)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, lot)
}

// ListItems handles item list requests
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	farmID := mux.Vars(r)["farmId"]
	if err := h.Records.RequireMember(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return
	}
	items, err := h.Ledger.ListItems(r.Context(), farmID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, items)
}

// ListItemLots handles lot list requests for an item
func (h *Handlers) ListItemLots(w http.ResponseWriter, r *http.Request) {
	item, ok := h.memberItem(w, r)
	if !ok {
		return
	}
	lots, err := h.Ledger.ListLots(r.Context(), item.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, lots)
}

// ItemHistory handles stock movement history requests
// 在庫移動履歴リクエストを処理
func (h *Handlers) ItemHistory(w http.ResponseWriter, r *http.Request) {
	item, ok := h.memberItem(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.sendError(w, http.StatusBadRequest, "limitの形式が不正です")
			return
		}
		limit = n
	}
	moves, err := h.Tracker.MovementHistory(r.Context(), item.ID, limit)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, moves)
}

// Valuation handles on-hand inventory valuation requests
// 在庫評価リクエストを処理
func (h *Handlers) Valuation(w http.ResponseWriter, r *http.Request) {
	farmID := mux.Vars(r)["farmId"]
	if err := h.Records.RequireMember(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return
	}
	items, total, err := h.Valuer.ValueFarm(r.Context(), farmID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total_value": total})
}

// Reconcile handles on-demand stock reconciliation
// 在庫照合リクエストを処理
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	farmID := mux.Vars(r)["farmId"]
	if err := h.Records.RequireManager(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return
	}
	rep, err := h.Tracker.Reconcile(r.Context(), farmID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rep)
}

// RecordConsumption handles feed/medication consumption requests
// 在庫消費リクエストを処理
func (h *Handlers) RecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req ConsumptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Records.RecordConsumption(r.Context(), sessionFrom(r), inventory.ConsumptionInput{
		LotID:    req.LotID,
		FlockID:  req.FlockID,
		Kind:     req.Kind,
		Quantity: req.Quantity,
		Date:     req.Date,
		Note:     req.Note,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, rec)
}

// EditConsumption handles consumption quantity corrections
func (h *Handlers) EditConsumption(w http.ResponseWriter, r *http.Request) {
	var req EditConsumptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Records.EditConsumption(r.Context(), sessionFrom(r), mux.Vars(r)["consumptionId"], req.Quantity)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rec)
}

// DeleteConsumption handles consumption reversal
func (h *Handlers) DeleteConsumption(w http.ResponseWriter, r *http.Request) {
	if err := h.Records.DeleteConsumption(r.Context(), sessionFrom(r), mux.Vars(r)["consumptionId"]); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- 健康タスク - Health tasks ----

// ScheduleHealthTask handles health task scheduling
func (h *Handlers) ScheduleHealthTask(w http.ResponseWriter, r *http.Request) {
	var req records.HealthTaskInput
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.Records.ScheduleHealthTask(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, task)
}

// CompleteHealthTask handles health task completion
// 健康タスク完了リクエストを処理
func (h *Handlers) CompleteHealthTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	task, err := h.Records.CompleteHealthTask(r.Context(), sessionFrom(r), mux.Vars(r)["taskId"], req.Usage)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, task)
}

// ListHealthTasks handles health task list requests
func (h *Handlers) ListHealthTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Records.ListHealthTasks(r.Context(), sessionFrom(r), mux.Vars(r)["flockId"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tasks)
}

// ---- レポート - Reports ----

// FinancialReport handles farm financial report requests
// 財務レポートリクエストを処理
func (h *Handlers) FinancialReport(w http.ResponseWriter, r *http.Request) {
	farmID, from, to, ok := h.reportScope(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.FinancialReport(r.Context(), farmID, from, to)
	h.sendReport(w, rep, err)
}

// FlockPerformanceReport handles flock performance report requests
func (h *Handlers) FlockPerformanceReport(w http.ResponseWriter, r *http.Request) {
	farmID := mux.Vars(r)["farmId"]
	if err := h.Records.RequireMember(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return
	}
	rep, err := h.Reports.FlockPerformanceReport(r.Context(), farmID)
	h.sendReport(w, rep, err)
}

// ProductionReport handles egg production report requests
func (h *Handlers) ProductionReport(w http.ResponseWriter, r *http.Request) {
	farmID, from, to, ok := h.reportScope(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.ProductionReport(r.Context(), farmID, r.URL.Query().Get("flock_id"), from, to)
	h.sendReport(w, rep, err)
}

// GrowthReport handles growth report requests
func (h *Handlers) GrowthReport(w http.ResponseWriter, r *http.Request) {
	farmID, from, to, ok := h.reportScope(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.GrowthReport(r.Context(), farmID, r.URL.Query().Get("flock_id"), from, to)
	h.sendReport(w, rep, err)
}

// InventoryUsageReport handles inventory usage report requests
func (h *Handlers) InventoryUsageReport(w http.ResponseWriter, r *http.Request) {
	farmID, from, to, ok := h.reportScope(w, r)
	if !ok {
		return
	}
	rep, err := h.Reports.InventoryUsageReport(r.Context(), farmID, from, to)
	h.sendReport(w, rep, err)
}

// FlockFinancialReport handles per-flock P&L requests
// 鶏群別損益リクエストを処理
func (h *Handlers) FlockFinancialReport(w http.ResponseWriter, r *http.Request) {
	flockID := mux.Vars(r)["flockId"]
	// 鶏群の農場に対するメンバーシップを確認
	if _, err := h.Records.GetFlock(r.Context(), sessionFrom(r), flockID); err != nil {
		h.handleError(w, err)
		return
	}
	rep, err := h.Reports.FlockFinancialReport(r.Context(), flockID)
	h.sendReport(w, rep, err)
}

// ヘルパーメソッド

// sessionFrom reads the caller from the session headers; an empty UserID is unauthenticated
func sessionFrom(r *http.Request) records.Session {
	role := policy.PlatformRoleUser
	if policy.PlatformRole(r.Header.Get(headerPlatformRole)) == policy.PlatformRoleAdmin {
		role = policy.PlatformRoleAdmin
	}
	return records.Session{UserID: r.Header.Get(headerUserID), PlatformRole: role}
}

// decode parses and validates the JSON body, answering 400 on failure
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.sendError(w, http.StatusBadRequest, "入力値が不正です: "+verrs[0].Field())
			return false
		}
		h.sendError(w, http.StatusBadRequest, "入力値が不正です")
		return false
	}
	return true
}

func (h *Handlers) memberItem(w http.ResponseWriter, r *http.Request) (*inventory.Item, bool) {
	item, err := h.Ledger.GetItem(r.Context(), mux.Vars(r)["itemId"])
	if err != nil {
		h.handleError(w, err)
		return nil, false
	}
	if err := h.Records.RequireMember(r.Context(), sessionFrom(r), item.FarmID); err != nil {
		h.handleError(w, err)
		return nil, false
	}
	return item, true
}

func (h *Handlers) reportScope(w http.ResponseWriter, r *http.Request) (string, time.Time, time.Time, bool) {
	farmID := mux.Vars(r)["farmId"]
	from, to, ok := h.window(w, r)
	if !ok {
		return "", time.Time{}, time.Time{}, false
	}
	if err := h.Records.RequireMember(r.Context(), sessionFrom(r), farmID); err != nil {
		h.handleError(w, err)
		return "", time.Time{}, time.Time{}, false
	}
	return farmID, from, to, true
}

// window reads from/to; omitted bounds default to the last six months
func (h *Handlers) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	to := h.now()
	if p, err := optionalTime(q.Get("to"), true); err != nil {
		h.sendError(w, http.StatusBadRequest, "toの形式が不正です")
		return time.Time{}, time.Time{}, false
	} else if p != nil {
		to = *p
	}
	y, m, _ := to.Date()
	from := time.Date(y, m-defaultReportMonths+1, 1, 0, 0, 0, 0, to.Location())
	if p, err := optionalTime(q.Get("from"), false); err != nil {
		h.sendError(w, http.StatusBadRequest, "fromの形式が不正です")
		return time.Time{}, time.Time{}, false
	} else if p != nil {
		from = *p
	}
	return from, to, true
}

// optionalTime parses RFC 3339 or a plain date; empty yields nil.
// A plain date used as an upper bound covers the whole day, down to the
// microsecond precision Postgres stores.
// 日付のみの上限はその日の終わりまでを含む
func optionalTime(v string, upper bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &t, nil
}

// handleError maps the domain error taxonomy onto HTTP statuses
// ドメインエラーをHTTPステータスに変換
func (h *Handlers) handleError(w http.ResponseWriter, err error) {
	var (
		forbidden *farm.ForbiddenError
		notFound  *farm.NotFoundError
		invalid   *farm.ValidationError
		conflict  *farm.ConflictError
		rule      *inventory.BusinessRuleError
	)
	switch {
	case errors.Is(err, farm.ErrUnauthenticated):
		h.sendError(w, http.StatusUnauthorized, "認証が必要です")
	case errors.As(err, &forbidden):
		h.sendError(w, http.StatusForbidden, "Forbidden: "+forbidden.Reason)
	case errors.As(err, &notFound):
		h.sendError(w, http.StatusNotFound, err.Error())
	case inventory.IsInsufficientStock(err), errors.Is(err, inventory.ErrInvalidQuantity), errors.As(err, &rule):
		h.sendError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &invalid):
		h.sendError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		h.sendError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("内部エラーが発生しました", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "内部エラーが発生しました")
	}
}

func (h *Handlers) sendReport(w http.ResponseWriter, rep interface{}, err error) {
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, rep)
}

// sendJSON writes v as the response body
// JSONレスポンスを送信
func (h *Handlers) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, APIResponse{Success: false, Error: message})
}
