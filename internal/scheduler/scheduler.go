// Package scheduler runs the periodic stock reconciliation. Runs are guarded
// by a Redis lock so that only one API instance reconciles at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/internal/config"
	"github.com/nemonet1337/zaiFarmLedger/pkg/inventory"
)

const reconcileLockKey = "zaifarm:lock:reconcile"

// ErrLockHeld is returned by a Locker when another instance holds the lock
var ErrLockHeld = errors.New("ロックは他のインスタンスが保持しています")

// FarmLister lists the farms to reconcile
type FarmLister interface {
	ListFarmIDs(ctx context.Context) ([]string, error)
}

// Reconciler reconciles one farm's stock
type Reconciler interface {
	Reconcile(ctx context.Context, farmID string) (*inventory.ReconciliationReport, error)
}

// Locker obtains a cross-instance lock; release frees it
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Observer receives every reconciliation result
type Observer interface {
	ObserveReconciliation(farmID string, rep *inventory.ReconciliationReport, err error)
}

// RedisLocker adapts redislock to Locker
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker creates a Locker over a Redis client
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Obtain tries once; ErrLockHeld when another instance holds key
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("ロック取得に失敗しました: %w", err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// Scheduler manages the reconciliation job
// 在庫照合ジョブを管理
type Scheduler struct {
	cron       *cron.Cron
	farms      FarmLister
	reconciler Reconciler
	locker     Locker
	observer   Observer
	cfg        config.SchedulerConfig
	logger     *zap.Logger
}

// New creates a scheduler. locker may be nil for a single instance.
// 新しいスケジューラーを作成
func New(cfg config.SchedulerConfig, farms FarmLister, reconciler Reconciler, locker Locker, logger *zap.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger: logger.Sugar()}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		farms:      farms,
		reconciler: reconciler,
		locker:     locker,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithObserver attaches a reconciliation observer
func (s *Scheduler) WithObserver(o Observer) *Scheduler {
	s.observer = o
	return s
}

// Start registers the reconciliation job and starts the cron loop
// スケジューラーを開始
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, s.runScheduled); err != nil {
		return fmt.Errorf("在庫照合ジョブの登録に失敗しました: %w", err)
	}
	s.cron.Start()
	s.logger.Info("スケジューラーを開始しました", zap.String("reconcile_spec", s.cfg.ReconcileSpec))
	return nil
}

// Stop stops the cron loop and waits for a running job until ctx is done
// スケジューラーを停止
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("スケジューラーを停止しました")
	case <-ctx.Done():
		s.logger.Warn("実行中のジョブを待たずにスケジューラーを停止しました")
	}
}

func (s *Scheduler) runScheduled() {
	timeout := s.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("在庫照合ジョブに失敗しました", zap.Error(err))
	}
}

// RunOnce reconciles every farm under the cross-instance lock. A held lock is
// not an error; the run is skipped.
// 全農場の在庫照合を一回実行
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		ttl := s.cfg.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		release, err := s.locker.Obtain(ctx, reconcileLockKey, ttl)
		if errors.Is(err, ErrLockHeld) {
			s.logger.Info("他のインスタンスが在庫照合中のためスキップします")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			// ctxがタイムアウトしていても解放する
			if err := release(context.Background()); err != nil {
				s.logger.Warn("ロック解放に失敗しました", zap.Error(err))
			}
		}()
	}

	farmIDs, err := s.farms.ListFarmIDs(ctx)
	if err != nil {
		return fmt.Errorf("農場一覧の取得に失敗しました: %w", err)
	}

	start := time.Now()
	var errs []error
	drifted := 0
	for _, farmID := range farmIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := s.reconciler.Reconcile(ctx, farmID)
		if s.observer != nil {
			s.observer.ObserveReconciliation(farmID, rep, err)
		}
		if err != nil {
			s.logger.Error("在庫照合に失敗しました", zap.String("farm_id", farmID), zap.Error(err))
			errs = append(errs, fmt.Errorf("farm %s: %w", farmID, err))
			continue
		}
		if len(rep.Drifts) > 0 {
			drifted++
		}
	}

	s.logger.Info("在庫照合ジョブ完了",
		zap.Int("farms", len(farmIDs)),
		zap.Int("farms_with_drift", drifted),
		zap.Int("failed", len(errs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return errors.Join(errs...)
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
