package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/internal/config"
	"github.com/nemonet1337/zaiFarmLedger/internal/metrics"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/notify"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
	"github.com/nemonet1337/zaiFarmLedger/pkg/storage"
)

const (
	ownerID   = "owner-1"
	workerID  = "worker-1"
	strangeID = "stranger"
)

type apiFixture struct {
	router    *mux.Router
	collector *metrics.Collector
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := zap.NewNop()
	mem := storage.NewMemoryStorage(logger)
	pub := notify.NewLogPublisher(logger)
	collector := metrics.New()

	ledger := inventory.NewLedger(mem.Ledger(), pub, logger, nil).WithObserver(collector)
	reports := report.NewAggregator(mem.Source(), logger, 2).WithObserver(collector)
	deps := Deps{
		Records: records.NewService(mem.Records(), mem, ledger, logger, time.UTC).WithObserver(collector).WithChangeNotifier(reports),
		Ledger:  ledger,
		Tracker: inventory.NewTracker(mem.Ledger(), pub, logger, nil),
		Valuer:  inventory.NewValuer(mem.Ledger(), logger),
		Reports: reports,
		Farms:   mem,
		Ping:    mem.Ping,
	}
	router := setupRouter(NewHandlers(deps, logger), collector, config.APIConfig{EnableCORS: true, EnableMetrics: true})
	return &apiFixture{router: router, collector: collector}
}

func (f *apiFixture) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// setupFarm creates a farm with a worker and one layer flock
func (f *apiFixture) setupFarm(t *testing.T) (farmID, flockID string) {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/v1/farms", ownerID, map[string]string{"name": "North Farm"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = f.do(t, http.MethodPost, "/api/v1/farms/"+created.ID+"/members", ownerID, map[string]string{"user_id": workerID, "role": "WORKER"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/farms/"+created.ID+"/flocks", ownerID, map[string]interface{}{
		"name":             "Layers A",
		"type":             "LAYER",
		"initial_quantity": 100,
		"cost_per_bird":    "2.50",
		"start_date":       time.Now().UTC().AddDate(0, 0, -10).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var flock struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &flock)
	return created.ID, flock.ID
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp APIResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
}

func TestFlockAccess(t *testing.T) {
	f := newAPIFixture(t)
	farmID, flockID := f.setupFarm(t)

	tests := []struct {
		name   string
		userID string
		path   string
		status int
		errMsg string
	}{
		{"owner", ownerID, "/api/v1/flocks/" + flockID, http.StatusOK, ""},
		{"worker", workerID, "/api/v1/farms/" + farmID + "/flocks", http.StatusOK, ""},
		{"未認証", "", "/api/v1/flocks/" + flockID, http.StatusUnauthorized, "認証が必要です"},
		{"非メンバー", strangeID, "/api/v1/flocks/" + flockID, http.StatusForbidden, "Forbidden: "},
		{"存在しない鶏群", ownerID, "/api/v1/flocks/missing", http.StatusNotFound, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, tt.userID, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.errMsg != "" {
				var resp APIResponse
				decodeBody(t, rec, &resp)
				assert.False(t, resp.Success)
				assert.Contains(t, resp.Error, tt.errMsg)
			}
		})
	}
}

func TestRegisterFlock_Validation(t *testing.T) {
	f := newAPIFixture(t)
	farmID, _ := f.setupFarm(t)

	// ワーカーは鶏群を登録できない
	rec := f.do(t, http.MethodPost, "/api/v1/farms/"+farmID+"/flocks", workerID, map[string]interface{}{
		"name": "B", "type": "LAYER", "initial_quantity": 10, "cost_per_bird": "1", "start_date": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), records.ReasonManagersOnly)

	rec = f.do(t, http.MethodPost, "/api/v1/farms/"+farmID+"/flocks", ownerID, map[string]interface{}{
		"name": "B", "type": "DUCK", "initial_quantity": 10, "start_date": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/farms/"+farmID+"/flocks", strings.NewReader("{"))
	req.Header.Set(headerUserID, ownerID)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordsAndReports(t *testing.T) {
	f := newAPIFixture(t)
	farmID, flockID := f.setupFarm(t)
	today := time.Now().UTC().Format(time.RFC3339)

	rec := f.do(t, http.MethodPost, "/api/v1/records", workerID, map[string]interface{}{
		"flock_id": flockID, "kind": "MORTALITY", "date": today, "quantity": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/resales", ownerID, map[string]interface{}{
		"flock_id": flockID, "date": today, "quantity": 10, "revenue": "80", "buyer": "Market",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/flocks/"+flockID, ownerID, nil)
	var flock struct {
		CurrentQuantity int64 `json:"current_quantity"`
	}
	decodeBody(t, rec, &flock)
	assert.Equal(t, int64(87), flock.CurrentQuantity)

	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/records?kind=MORTALITY", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []map[string]interface{}
	decodeBody(t, rec, &recs)
	assert.Len(t, recs, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/records?from=not-a-date", ownerID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 導入費用-250と売上80
	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/reports/financial", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fin struct {
		Summary struct {
			TotalRevenue  string `json:"total_revenue"`
			TotalExpenses string `json:"total_expenses"`
			NetProfit     string `json:"net_profit"`
		} `json:"summary"`
	}
	decodeBody(t, rec, &fin)
	assert.Equal(t, "80", fin.Summary.TotalRevenue)
	assert.Equal(t, "-250", fin.Summary.TotalExpenses)
	assert.Equal(t, "-170", fin.Summary.NetProfit)

	rec = f.do(t, http.MethodGet, "/api/v1/flocks/"+flockID+"/financials", workerID, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/reports/financial", strangeID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInventoryFlow(t *testing.T) {
	f := newAPIFixture(t)
	farmID, flockID := f.setupFarm(t)
	today := time.Now().UTC().Format(time.RFC3339)

	lotBody := map[string]interface{}{
		"item": map[string]string{"name": "Layer Mash", "category": "Feed", "unit": "kg"},
		"lot":  map[string]interface{}{"purchase_date": today, "initial_quantity": "100", "total_cost": "50"},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/farms/"+farmID+"/inventory/lots", workerID, lotBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/farms/"+farmID+"/inventory/lots", ownerID, lotBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var lot struct {
		ID     string `json:"id"`
		ItemID string `json:"item_id"`
	}
	decodeBody(t, rec, &lot)

	rec = f.do(t, http.MethodPost, "/api/v1/consumption", workerID, map[string]interface{}{
		"lot_id": lot.ID, "flock_id": flockID, "kind": "FEED", "quantity": "30", "date": today,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// 在庫不足は422
	rec = f.do(t, http.MethodPost, "/api/v1/consumption", workerID, map[string]interface{}{
		"lot_id": lot.ID, "flock_id": flockID, "kind": "FEED", "quantity": "500", "date": today,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/inventory/valuation", workerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var val struct {
		TotalValue string `json:"total_value"`
	}
	decodeBody(t, rec, &val)
	assert.Equal(t, "35", val.TotalValue)

	rec = f.do(t, http.MethodGet, "/api/v1/inventory/items/"+lot.ItemID+"/history?limit=10", workerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var moves []map[string]interface{}
	decodeBody(t, rec, &moves)
	assert.Len(t, moves, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/inventory/items/"+lot.ItemID+"/lots", strangeID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/farms/"+farmID+"/inventory/reconcile", ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var recon struct {
		Drifts []interface{} `json:"drifts"`
	}
	decodeBody(t, rec, &recon)
	assert.Empty(t, recon.Drifts)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodGet, "/health", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/farms", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), headerUserID)
}

func TestOptionalTime(t *testing.T) {
	got, err := optionalTime("2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	// 日付のみの上限は終日を含む
	got, err = optionalTime("2024-03-31", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999000, time.UTC), *got)

	got, err = optionalTime("2024-03-31T12:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC), *got)

	got, err = optionalTime("", true)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = optionalTime("03/01/2024", false)
	assert.Error(t, err)
}

func TestReportWindow_DateOnlyIncludesLastDay(t *testing.T) {
	f := newAPIFixture(t)
	farmID, flockID := f.setupFarm(t)
	day := time.Now().UTC().AddDate(0, 0, -1)
	at := time.Date(day.Year(), day.Month(), day.Day(), 15, 0, 0, 0, time.UTC)

	rec := f.do(t, http.MethodPost, "/api/v1/resales", ownerID, map[string]interface{}{
		"flock_id": flockID, "date": at.Format(time.RFC3339), "quantity": 10, "revenue": "80", "buyer": "Market",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	revenue := func(query string) string {
		t.Helper()
		rec := f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/reports/financial?"+query, ownerID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var fin struct {
			Summary struct {
				TotalRevenue string `json:"total_revenue"`
			} `json:"summary"`
		}
		decodeBody(t, rec, &fin)
		return fin.Summary.TotalRevenue
	}

	date := at.Format("2006-01-02")
	assert.Equal(t, "80", revenue("from="+date+"&to="+date))
	assert.Equal(t, "80", revenue("from="+day.AddDate(0, 0, -3).Format("2006-01-02")+"&to="+date))
	// 時刻指定の上限はそのまま使う
	assert.Equal(t, "0", revenue("from="+date+"&to="+date+"T00:00:00Z"))

	rec = f.do(t, http.MethodGet, "/api/v1/farms/"+farmID+"/records?to="+date, ownerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
