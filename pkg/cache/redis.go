// Package cache provides a Redis-backed report cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/pkg/report"
)

// Config holds Redis connection settings
// Redis接続設定
type Config struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// NewClient opens a Redis client and checks it with PING
// Redisクライアントを作成し疎通確認
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis接続に失敗しました (%s): %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisCache stores finished reports as JSON with a fixed TTL
// レポートをJSONとしてTTL付きで保存
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache creates a cache; ttl <= 0 keeps entries for five minutes
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "zaifarm:",
		logger: logger.Named("cache"),
	}
}

// Get loads key into dst; a miss returns false without error
func (c *RedisCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("キャッシュ取得に失敗しました: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// 壊れたエントリはミス扱いにして削除
		c.logger.Warn("キャッシュエントリの復元に失敗しました", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return false, nil
	}
	return true, nil
}

// Set stores value under key
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("キャッシュ値のシリアライズに失敗しました: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗しました: %w", err)
	}
	return nil
}

// Generation returns the farm's report generation; an unset counter is 0
// 農場のレポート世代を取得
func (c *RedisCache) Generation(ctx context.Context, farmID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(farmID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("キャッシュ世代の取得に失敗しました: %w", err)
	}
	return gen, nil
}

// Bump advances the farm's report generation
// 農場のレポート世代を進める
func (c *RedisCache) Bump(ctx context.Context, farmID string) error {
	if err := c.client.Incr(ctx, c.genKey(farmID)).Err(); err != nil {
		return fmt.Errorf("キャッシュ世代の更新に失敗しました: %w", err)
	}
	return nil
}

func (c *RedisCache) genKey(farmID string) string {
	return c.prefix + "gen:" + farmID
}

var _ report.Cache = (*RedisCache)(nil)
