package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/internal/config"
	"github.com/nemonet1337/zaiFarmLedger/internal/metrics"
)

// setupRouter sets up HTTP routes
// HTTPルートを設定
func setupRouter(handlers *Handlers, collector *metrics.Collector, apiCfg config.APIConfig) *mux.Router {
	router := mux.NewRouter()

	// ヘルスチェック
	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	if apiCfg.EnableMetrics && collector != nil {
		router.Handle("/metrics", collector.Handler()).Methods("GET")
	}

	// API v1ルート
	api := router.PathPrefix("/api/v1").Subrouter()

	// 農場・メンバー
	api.HandleFunc("/farms", handlers.CreateFarm).Methods("POST")
	api.HandleFunc("/farms/{farmId}/members", handlers.AddMember).Methods("POST")
	api.HandleFunc("/farms/{farmId}/authorize", handlers.Authorize).Methods("POST")

	// 鶏群
	api.HandleFunc("/farms/{farmId}/flocks", handlers.RegisterFlock).Methods("POST")
	api.HandleFunc("/farms/{farmId}/flocks", handlers.ListFlocks).Methods("GET")
	api.HandleFunc("/flocks/{flockId}", handlers.GetFlock).Methods("GET")
	api.HandleFunc("/flocks/{flockId}/archive", handlers.ArchiveFlock).Methods("POST")

	// 作業記録
	api.HandleFunc("/records", handlers.CreateRecord).Methods("POST")
	api.HandleFunc("/records/{recordId}", handlers.UpdateRecord).Methods("PUT")
	api.HandleFunc("/records/{recordId}", handlers.DeleteRecord).Methods("DELETE")
	api.HandleFunc("/farms/{farmId}/records", handlers.ListRecords).Methods("GET")

	// 販売・取引
	api.HandleFunc("/resales", handlers.RecordResale).Methods("POST")
	api.HandleFunc("/farms/{farmId}/egg-sales", handlers.RecordEggSale).Methods("POST")
	api.HandleFunc("/farms/{farmId}/transactions", handlers.RecordTransaction).Methods("POST")
	api.HandleFunc("/farms/{farmId}/transactions", handlers.ListTransactions).Methods("GET")

	// 在庫
	api.HandleFunc("/farms/{farmId}/inventory/lots", handlers.PurchaseLot).Methods("POST")
	api.HandleFunc("/farms/{farmId}/inventory/items", handlers.ListItems).Methods("GET")
	api.HandleFunc("/farms/{farmId}/inventory/valuation", handlers.Valuation).Methods("GET")
	api.HandleFunc("/farms/{farmId}/inventory/reconcile", handlers.Reconcile).Methods("POST")
	api.HandleFunc("/inventory/items/{itemId}/lots", handlers.ListItemLots).Methods("GET")
	api.HandleFunc("/inventory/items/{itemId}/history", handlers.ItemHistory).Methods("GET")

	// 在庫消費
	api.HandleFunc("/consumption", handlers.RecordConsumption).Methods("POST")
	api.HandleFunc("/consumption/{consumptionId}", handlers.EditConsumption).Methods("PUT")
	api.HandleFunc("/consumption/{consumptionId}", handlers.DeleteConsumption).Methods("DELETE")

	// 健康タスク
	api.HandleFunc("/health-tasks", handlers.ScheduleHealthTask).Methods("POST")
	api.HandleFunc("/health-tasks/{taskId}/complete", handlers.CompleteHealthTask).Methods("POST")
	api.HandleFunc("/flocks/{flockId}/health-tasks", handlers.ListHealthTasks).Methods("GET")

	// レポート
	api.HandleFunc("/farms/{farmId}/reports/financial", handlers.FinancialReport).Methods("GET")
	api.HandleFunc("/farms/{farmId}/reports/flock-performance", handlers.FlockPerformanceReport).Methods("GET")
	api.HandleFunc("/farms/{farmId}/reports/production", handlers.ProductionReport).Methods("GET")
	api.HandleFunc("/farms/{farmId}/reports/growth", handlers.GrowthReport).Methods("GET")
	api.HandleFunc("/farms/{farmId}/reports/inventory-usage", handlers.InventoryUsageReport).Methods("GET")
	api.HandleFunc("/flocks/{flockId}/financials", handlers.FlockFinancialReport).Methods("GET")

	// CORS設定
	if apiCfg.EnableCORS {
		// プリフライト用（ミドルウェアはマッチしたルートでのみ動く）
		router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
		router.Use(corsMiddleware)
	}

	// ログ機能
	router.Use(loggingMiddleware(handlers.logger, collector))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerUserID+", "+headerPlatformRole)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests and counts them by route template
// HTTPリクエストをログ出力するミドルウェア
func loggingMiddleware(logger *zap.Logger, collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			// リクエスト処理
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if cr := mux.CurrentRoute(r); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			if collector != nil {
				collector.ObserveHTTP(r.Method, route, rec.status)
			}

			// ログ出力
			logger.Info("HTTPリクエスト",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
