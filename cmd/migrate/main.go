package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiFarmLedger/internal/config"
	"github.com/nemonet1337/zaiFarmLedger/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "マイグレーションディレクトリ")
	statusOnly := flag.Bool("status", false, "未適用のマイグレーションを表示して終了")
	configPath := flag.String("config", "", "設定ファイル (YAML)")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("設定読み込みに失敗しました:", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("ログ初期化に失敗しました:", err)
	}
	defer logger.Sync()
	logger = logger.Named("migrate")

	if cfg.Database.Driver == "memory" {
		logger.Info("インメモリストレージのためマイグレーションは不要です")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("データベースに接続中",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("データベースpingに失敗しました", zap.Error(err))
	}

	m := NewMigrator(db, logger)
	if *statusOnly {
		pending, err := m.Pending(ctx, *dir)
		if err != nil {
			logger.Fatal("マイグレーション状態の取得に失敗しました", zap.Error(err))
		}
		for _, mig := range pending {
			logger.Info("未適用", zap.String("filename", mig.Filename))
		}
		logger.Info("未適用のマイグレーション", zap.Int("count", len(pending)))
		return
	}

	applied, err := m.Up(ctx, *dir)
	if err != nil {
		logger.Fatal("マイグレーション実行に失敗しました", zap.Error(err))
	}
	logger.Info("すべてのマイグレーションが完了しました", zap.Int("applied", applied))
}
