package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trade-executor/internal/app"
	"trade-executor/internal/config"
	"trade-executor/internal/log"
	"trade-executor/internal/store"
)

func main() {
	var (
		configPath    string
		decisionsPath string
		live          bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&decisionsPath, "decisions", "", "决策批次 JSON 文件路径")
	flag.BoolVar(&live, "live", false, "启用实盘下单，默认仅模拟")
	flag.Parse()

	if decisionsPath == "" {
		fmt.Fprintln(os.Stderr, "必须通过 -decisions 指定决策批次文件")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	executorApp := app.New(cfg, logger, sqliteStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := executorApp.Run(ctx, decisionsPath, live || cfg.Execution.Live); err != nil {
		logger.Error("批次执行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
