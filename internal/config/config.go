package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	API           APIConfig           `yaml:"api"`
	Inventory     InventoryConfig     `yaml:"inventory"`
	Policy        PolicyConfig        `yaml:"policy"`
	Reports       ReportsConfig       `yaml:"reports"`
	Redis         RedisConfig         `yaml:"redis"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, memory
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MaxTxRetries    int           `yaml:"max_tx_retries"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableCORS      bool          `yaml:"enable_cors"`
	EnableMetrics   bool          `yaml:"enable_metrics"`
}

// InventoryConfig holds inventory-specific configuration
// 在庫固有の設定を保持
type InventoryConfig struct {
	LowStockThreshold decimal.Decimal `yaml:"low_stock_threshold"`
	DefaultUnit       string          `yaml:"default_unit"`
}

// PolicyConfig holds the edit policy settings
// 編集ポリシー設定
type PolicyConfig struct {
	Timezone string `yaml:"timezone"` // 暦日判定に使うタイムゾーン
}

// ReportsConfig holds report aggregation settings
// レポート設定
type ReportsConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SchedulerConfig holds the background job settings
// バックグラウンドジョブ設定
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ReconcileSpec string        `yaml:"reconcile_spec"` // cron式
	LockTTL       time.Duration `yaml:"lock_ttl"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

// NotificationsConfig holds event delivery settings
// イベント通知設定
type NotificationsConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, ファイルパス
}

// Default returns the built-in defaults
// デフォルト設定を返す
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "farm",
			Password:        "password",
			DBName:          "farm_ledger",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			MaxTxRetries:    3,
		},
		API: APIConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			EnableCORS:      true,
			EnableMetrics:   true,
		},
		Inventory: InventoryConfig{
			LowStockThreshold: decimal.NewFromInt(10),
			DefaultUnit:       "kg",
		},
		Policy: PolicyConfig{
			Timezone: "UTC",
		},
		Reports: ReportsConfig{
			Concurrency: 4,
			CacheTTL:    5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Scheduler: SchedulerConfig{
			ReconcileSpec: "0 2 * * *",
			LockTTL:       10 * time.Minute,
			JobTimeout:    5 * time.Minute,
		},
		Notifications: NotificationsConfig{
			Timeout:    5 * time.Second,
			RetryCount: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// CONFIG_FILE) if any, then .env, then environment variables
// デフォルト → YAMLファイル → .env → 環境変数の順に設定を読み込み
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗しました: %w", err)
	}
	cfg.applyEnv()

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗しました (%s): %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	d := &c.Database
	d.Driver = getEnv("DB_DRIVER", d.Driver)
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnvAsInt("DB_PORT", d.Port)
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.DBName = getEnv("DB_NAME", d.DBName)
	d.SSLMode = getEnv("DB_SSLMODE", d.SSLMode)
	d.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.MaxTxRetries = getEnvAsInt("DB_MAX_TX_RETRIES", d.MaxTxRetries)

	a := &c.API
	a.Port = getEnvAsInt("API_PORT", a.Port)
	a.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", a.ReadTimeout)
	a.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", a.WriteTimeout)
	a.IdleTimeout = getEnvAsDuration("API_IDLE_TIMEOUT", a.IdleTimeout)
	a.ShutdownTimeout = getEnvAsDuration("API_SHUTDOWN_TIMEOUT", a.ShutdownTimeout)
	a.EnableCORS = getEnvAsBool("API_ENABLE_CORS", a.EnableCORS)
	a.EnableMetrics = getEnvAsBool("API_ENABLE_METRICS", a.EnableMetrics)

	c.Inventory.LowStockThreshold = getEnvAsDecimal("INVENTORY_LOW_STOCK_THRESHOLD", c.Inventory.LowStockThreshold)
	c.Inventory.DefaultUnit = getEnv("INVENTORY_DEFAULT_UNIT", c.Inventory.DefaultUnit)

	c.Policy.Timezone = getEnv("POLICY_TIMEZONE", c.Policy.Timezone)

	c.Reports.Concurrency = getEnvAsInt("REPORTS_CONCURRENCY", c.Reports.Concurrency)
	c.Reports.CacheEnabled = getEnvAsBool("REPORTS_CACHE_ENABLED", c.Reports.CacheEnabled)
	c.Reports.CacheTTL = getEnvAsDuration("REPORTS_CACHE_TTL", c.Reports.CacheTTL)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize)

	s := &c.Scheduler
	s.Enabled = getEnvAsBool("SCHEDULER_ENABLED", s.Enabled)
	s.ReconcileSpec = getEnv("SCHEDULER_RECONCILE_SPEC", s.ReconcileSpec)
	s.LockTTL = getEnvAsDuration("SCHEDULER_LOCK_TTL", s.LockTTL)
	s.JobTimeout = getEnvAsDuration("SCHEDULER_JOB_TIMEOUT", s.JobTimeout)

	n := &c.Notifications
	n.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", n.WebhookURL)
	n.Secret = getEnv("NOTIFY_WEBHOOK_SECRET", n.Secret)
	n.Timeout = getEnvAsDuration("NOTIFY_TIMEOUT", n.Timeout)
	n.RetryCount = getEnvAsInt("NOTIFY_RETRY_COUNT", n.RetryCount)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("LOG_OUTPUT", c.Logging.Output)
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// データベース設定チェック
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("データベースホストが指定されていません")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("データベースユーザーが指定されていません")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("データベース名が指定されていません")
		}
	default:
		return fmt.Errorf("無効なデータベースドライバー: %s", c.Database.Driver)
	}
	if c.Database.MaxTxRetries < 0 {
		return fmt.Errorf("トランザクションリトライ回数は0以上である必要があります")
	}

	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}

	// 在庫設定チェック
	if c.Inventory.LowStockThreshold.IsNegative() {
		return fmt.Errorf("低在庫閾値は0以上である必要があります")
	}

	if _, err := c.Policy.Location(); err != nil {
		return err
	}

	if c.Reports.Concurrency < 1 {
		return fmt.Errorf("レポート並列数は1以上である必要があります: %d", c.Reports.Concurrency)
	}
	if c.Reports.CacheEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("レポートキャッシュにはRedisアドレスが必要です")
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.ReconcileSpec); err != nil {
			return fmt.Errorf("無効なcron式: %s: %w", c.Scheduler.ReconcileSpec, err)
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("スケジューラーにはRedisアドレスが必要です")
		}
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	return nil
}

// Location resolves the policy time zone
// ポリシー判定用のタイムゾーンを解決
func (p PolicyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("無効なタイムゾーン: %s: %w", p.Timezone, err)
	}
	return loc, nil
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ヘルパー関数

// getEnv gets environment variable with default value
// デフォルト値付きで環境変数を取得
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
// デフォルト値付きで環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDecimal gets environment variable as decimal with default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default value
// デフォルト値付きで環境変数をbooleanとして取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration with default value
// デフォルト値付きで環境変数をdurationとして取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
