package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-executor/internal/decision"
	"trade-executor/internal/exchange"
)

const (
	reasonNoAction   = "No action required or invalid quantity"
	reasonSimulation = "Simulation mode - no actual orders placed"
)

// Options 控制批量执行行为。
type Options struct {
	// Workers 为逐交易对处理的并发上限，小于等于1时串行执行。
	Workers int
}

// Dispatcher 将决策批次分发为具体订单。每个交易对独立处理，
// 单个交易对的失败只体现在其结果条目中，不会中断批次其余部分。
type Dispatcher struct {
	client     ExchangeClient
	normalizer *Normalizer
	workers    int
	logger     *zap.Logger
}

// NewDispatcher 创建执行调度器。
func NewDispatcher(client ExchangeClient, normalizer *Normalizer, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		client:     client,
		normalizer: normalizer,
		workers:    workers,
		logger:     logger,
	}
}

// Dispatch 执行一个决策批次并聚合执行报告。live 为假时不发出任何
// 交易所调用，仅报告将要执行的内容。返回错误仅表示批次级失败，
// 逐交易对的失败都收敛在报告内。
func (d *Dispatcher) Dispatch(ctx context.Context, batch decision.Batch, live bool) (*Report, error) {
	if batch == nil {
		return nil, errors.New("execution: 决策批次不能为空")
	}

	mode := ModeSimulation
	if live {
		mode = ModeLive
	}

	report := &Report{
		Mode:        mode,
		Results:     make(map[string]Result, len(batch)),
		GeneratedAt: time.Now().UTC(),
	}

	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	group.SetLimit(d.workers)

	for ticker, dec := range batch {
		ticker, dec := ticker, dec
		group.Go(func() error {
			result := d.executeDecision(ctx, ticker, dec, live)
			mu.Lock()
			report.Results[ticker] = result
			mu.Unlock()
			return nil
		})
	}

	// 逐交易对的失败不会从这里冒出。
	_ = group.Wait()

	for _, r := range report.Results {
		if r.Executed {
			report.TotalOrders++
		}
		if r.Error != "" {
			report.TotalErrors++
		}
	}

	d.logger.Info("批次执行完成",
		zap.String("mode", string(mode)),
		zap.Int("tickers", len(report.Results)),
		zap.Int("total_orders", report.TotalOrders),
		zap.Int("total_errors", report.TotalErrors),
	)

	return report, nil
}

// orderRoute 描述动作到订单类型的路由，真实与模拟模式下一致。
type orderRoute struct {
	side   exchange.Side
	margin bool
}

func routeFor(action decision.Action) (orderRoute, bool) {
	switch action {
	case decision.ActionBuy:
		return orderRoute{side: exchange.SideBuy}, true
	case decision.ActionSell:
		return orderRoute{side: exchange.SideSell}, true
	case decision.ActionShort:
		return orderRoute{side: exchange.SideSell, margin: true}, true
	case decision.ActionCover:
		return orderRoute{side: exchange.SideBuy, margin: true}, true
	default:
		return orderRoute{}, false
	}
}

func (d *Dispatcher) executeDecision(ctx context.Context, ticker string, dec decision.Decision, live bool) Result {
	d.logger.Info("收到交易决策",
		zap.String("ticker", ticker),
		zap.String("action", string(dec.Action)),
		zap.Float64("quantity", dec.Quantity),
		zap.Float64("confidence", dec.Confidence),
	)

	if dec.Action == decision.ActionHold || dec.Quantity <= 0 {
		return Result{
			Ticker: ticker,
			Action: decision.ActionHold,
			Reason: reasonNoAction,
		}
	}

	route, ok := routeFor(dec.Action)
	if !ok {
		return Result{
			Ticker: ticker,
			Action: dec.Action,
			Reason: fmt.Sprintf("Unknown action: %s", dec.Action),
		}
	}

	if !live {
		d.logger.Info("模拟模式，跳过实际下单",
			zap.String("ticker", ticker),
			zap.String("action", string(dec.Action)),
			zap.Float64("quantity", dec.Quantity),
		)
		return Result{
			Ticker:   ticker,
			Action:   dec.Action,
			Quantity: strconv.FormatFloat(dec.Quantity, 'f', -1, 64),
			Reason:   reasonSimulation,
		}
	}

	formatted, err := d.normalizer.FormatQuantity(ctx, ticker, dec.Quantity)
	if err != nil {
		d.logger.Error("数量归一化失败",
			zap.String("ticker", ticker),
			zap.String("action", string(dec.Action)),
			zap.Error(err),
		)
		return Result{Ticker: ticker, Action: dec.Action, Error: err.Error()}
	}

	if parsed, parseErr := strconv.ParseFloat(formatted, 64); parseErr != nil || parsed <= 0 {
		return Result{
			Ticker: ticker,
			Action: dec.Action,
			Error:  fmt.Sprintf("invalid quantity after normalization: %s", formatted),
		}
	}

	var ack exchange.OrderAck
	if route.margin {
		ack, err = d.client.SubmitMarginOrder(ctx, ticker, route.side, formatted, false)
	} else {
		ack, err = d.client.SubmitMarketOrder(ctx, ticker, route.side, formatted)
	}
	if err != nil {
		d.logger.Error("下单失败",
			zap.String("ticker", ticker),
			zap.String("action", string(dec.Action)),
			zap.String("quantity", formatted),
			zap.Error(err),
		)
		return Result{Ticker: ticker, Action: dec.Action, Quantity: formatted, Error: err.Error()}
	}

	d.logger.Info("订单执行成功",
		zap.String("ticker", ticker),
		zap.String("action", string(dec.Action)),
		zap.String("quantity", formatted),
		zap.Int64("order_id", ack.OrderID),
		zap.String("status", ack.Status),
	)

	return Result{
		Ticker:        ticker,
		Action:        dec.Action,
		Executed:      true,
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Quantity:      formatted,
		Status:        ack.Status,
		Fills:         ack.Fills,
	}
}
