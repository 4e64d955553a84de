package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"trade-executor/internal/config"
	"trade-executor/internal/decision"
	"trade-executor/internal/exchange"
	"trade-executor/internal/execution"
	"trade-executor/internal/store"
)

// App 聚合核心依赖并驱动一次批次执行的生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 读取决策批次文件、分发执行、持久化报告并输出。live 为真时
// 提交真实订单，否则仅做模拟预演。
func (a *App) Run(ctx context.Context, decisionsPath string, live bool) error {
	a.logger.Info("执行引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("live", live),
		zap.Bool("testnet", a.cfg.Exchange.UseTestnet),
	)

	data, err := os.ReadFile(decisionsPath)
	if err != nil {
		return fmt.Errorf("读取决策批次文件失败: %w", err)
	}

	batch, err := decision.ParseBatch(data)
	if err != nil {
		return err
	}

	client := exchange.NewClient(a.cfg.Exchange, a.logger)
	cache := exchange.NewRulesCache(client, a.logger)
	normalizer := execution.NewNormalizer(cache, client, a.logger)
	dispatcher := execution.NewDispatcher(client, normalizer,
		execution.Options{Workers: a.cfg.Execution.Workers}, a.logger)

	history, err := store.NewHistory(a.store, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		if err := startHealthServer(ctx, client, history, a.cfg.Server.Port, a.logger); err != nil {
			return err
		}
	}

	report, err := dispatcher.Dispatch(ctx, batch, live)
	if err != nil {
		return err
	}

	if err := history.SaveReport(ctx, report); err != nil {
		a.logger.Warn("持久化执行报告失败", zap.Error(err))
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化执行报告失败: %w", err)
	}
	fmt.Println(string(output))

	if a.cfg.Server.Enabled {
		a.logger.Info("批次执行完成，健康检查服务保持运行")
		<-ctx.Done()
	}

	return nil
}
