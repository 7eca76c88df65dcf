package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/internal/config"
	"github.com/nemonet1337/zaiFarmLedger/internal/logging"
	"github.com/nemonet1337/zaiFarmLedger/internal/metrics"
	"github.com/nemonet1337/zaiFarmLedger/internal/scheduler"
	"github.com/nemonet1337/zaiFarmLedger/pkg/cache"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
	"github.com/nemonet1337/zaiFarmLedger/pkg/notify"
	"github.com/nemonet1337/zaiFarmLedger/pkg/records"
	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
	"github.com/nemonet1337/zaiFarmLedger/pkg/storage"
)

// backend is what the API needs from a storage implementation
type backend interface {
	records.Directory
	FarmAdmin
	scheduler.FarmLister
	Ledger() inventory.Store
	Records() records.Store
	Source() report.Source
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// 設定読み込み
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}

	// ログ設定
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("サーバーが異常終了しました", zap.Error(err))
	}
	logger.Info("サーバーが正常に停止しました")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	loc, err := cfg.Policy.Location()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	collector := metrics.New()

	// Redis（レポートキャッシュ・分散ロック）
	var rdb *redis.Client
	if cfg.Reports.CacheEnabled || cfg.Scheduler.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err = cache.NewClient(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		cancel()
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	// イベント通知
	var publisher inventory.EventPublisher = notify.NewLogPublisher(logger)
	if cfg.Notifications.WebhookURL != "" {
		publisher = notify.NewWebhookPublisher(notify.Config{
			URL:        cfg.Notifications.WebhookURL,
			Secret:     cfg.Notifications.Secret,
			Timeout:    cfg.Notifications.Timeout,
			RetryCount: cfg.Notifications.RetryCount,
		}, logger)
	}

	// 在庫台帳初期化
	invCfg := &inventory.Config{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		DefaultUnit:       cfg.Inventory.DefaultUnit,
	}
	ledger := inventory.NewLedger(store.Ledger(), publisher, logger, invCfg).WithObserver(collector)
	tracker := inventory.NewTracker(store.Ledger(), publisher, logger, invCfg)
	valuer := inventory.NewValuer(store.Ledger(), logger)

	reports := report.NewAggregator(store.Source(), logger, cfg.Reports.Concurrency).WithObserver(collector)
	if cfg.Reports.CacheEnabled {
		reports = reports.WithCache(cache.NewRedisCache(rdb, cfg.Reports.CacheTTL, logger))
	}

	service := records.NewService(store.Records(), store, ledger, logger, loc).
		WithObserver(collector).
		WithChangeNotifier(reports)

	// 定期在庫照合
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(cfg.Scheduler, store, tracker, scheduler.NewRedisLocker(rdb), logger, loc).
			WithObserver(collector)
		if err := sched.Start(); err != nil {
			return err
		}
	}

	handlers := NewHandlers(Deps{
		Records: service,
		Ledger:  ledger,
		Tracker: tracker,
		Valuer:  valuer,
		Reports: reports,
		Farms:   store,
		Ping:    store.Ping,
	}, logger)
	router := setupRouter(handlers, collector, cfg.API)

	// HTTPサーバー設定
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("農場台帳APIサーバーを開始します", zap.Int("port", cfg.API.Port), zap.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// シャットダウンシグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("サーバー開始に失敗しました: %w", err)
	}

	logger.Info("サーバーをシャットダウンしています...")

	// グレースフルシャットダウン
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop(ctx)
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーシャットダウンに失敗しました: %w", err)
	}
	return nil
}

// openStore selects the storage backend from the database driver
// データベースドライバーに応じてストレージを選択
func openStore(cfg *config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("インメモリストレージを使用します。再起動でデータは失われます")
		return storage.NewMemoryStorage(logger), nil
	default:
		pool := storage.DefaultPoolConfig()
		pool.MaxOpenConns = cfg.Database.MaxOpenConns
		pool.MaxIdleConns = cfg.Database.MaxIdleConns
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		pool.MaxTxRetries = cfg.Database.MaxTxRetries

		s, err := storage.NewPostgreSQLStorage(cfg.DSN(), pool, logger)
		if err != nil {
			return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
		}
		return s, nil
	}
}
