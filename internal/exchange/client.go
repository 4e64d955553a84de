package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-executor/internal/config"
)

// Client 负责与币安现货及杠杆接口交互，并实现限速与重试机制。
type Client struct {
	cfg     config.ExchangeConfig
	logger  *zap.Logger
	api     *binance.Client
	limiter *rate.Limiter
}

// NewClient 构造币安客户端。UseTestnet 开启时走测试网，
// 默认开启以避免误操作实盘。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	binance.UseTestnet = cfg.UseTestnet

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		api:     binance.NewClient(cfg.APIKey, cfg.APISecret),
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
	}
}

// GetSymbolRules 拉取交易对元数据并解析交易规则。
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error) {
	var info *binance.ExchangeInfo

	err := c.callWithRetry(ctx, "exchange_info", func() error {
		result, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		info = result
		return nil
	})
	if err != nil {
		if isUnknownSymbol(err) {
			return SymbolRules{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return SymbolRules{}, err
	}

	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			rules := ParseSymbolRules(symbol, s.Filters)
			c.logger.Debug("已解析交易规则",
				zap.String("symbol", symbol),
				zap.Float64("step_size", rules.StepSize),
				zap.Float64("min_qty", rules.MinQty),
				zap.Float64("min_notional", rules.MinNotional),
			)
			return rules, nil
		}
	}

	return SymbolRules{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// GetCurrentPrice 获取交易对最新成交价。
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*binance.SymbolPrice

	err := c.callWithRetry(ctx, "ticker_price", func() error {
		result, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		prices = result
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		d, err := decimal.NewFromString(p.Price)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: 解析价格 %q 失败", ErrPriceUnavailable, symbol, p.Price)
		}
		return d.InexactFloat64(), nil
	}

	return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
}

// SubmitMarketOrder 提交现货市价单。下单请求只发送一次，
// 重试策略属于上游协作方。
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side Side, quantity string) (OrderAck, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return OrderAck{}, err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return OrderAck{}, err
	}

	ack := convertOrderResponse(res)
	c.logger.Info("现货市价单已提交",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("quantity", quantity),
		zap.Int64("order_id", ack.OrderID),
		zap.String("status", ack.Status),
	)
	return ack, nil
}

// SubmitMarginOrder 提交杠杆市价单，isolated=false 指全仓模式。
func (c *Client) SubmitMarginOrder(ctx context.Context, symbol string, side Side, quantity string, isolated bool) (OrderAck, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return OrderAck{}, err
	}

	res, err := c.api.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		IsIsolated(isolated).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return OrderAck{}, err
	}

	ack := convertOrderResponse(res)
	c.logger.Info("杠杆市价单已提交",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("quantity", quantity),
		zap.Bool("isolated", isolated),
		zap.Int64("order_id", ack.OrderID),
		zap.String("status", ack.Status),
	)
	return ack, nil
}

// GetAccountInfo 获取账户余额概要，供外围健康检查使用。
func (c *Client) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	var account *binance.Account

	err := c.callWithRetry(ctx, "account_info", func() error {
		result, err := c.api.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		account = result
		return nil
	})
	if err != nil {
		return AccountInfo{}, err
	}

	info := AccountInfo{CanTrade: account.CanTrade}
	for _, b := range account.Balances {
		info.Balances = append(info.Balances, Balance{
			Asset:  b.Asset,
			Free:   b.Free,
			Locked: b.Locked,
		})
	}
	return info, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertOrderResponse(res *binance.CreateOrderResponse) OrderAck {
	ack := OrderAck{
		Symbol:        res.Symbol,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Status:        string(res.Status),
		TransactTime:  time.UnixMilli(res.TransactTime).UTC(),
	}
	for _, fill := range res.Fills {
		ack.Fills = append(ack.Fills, OrderFill{
			Price:           fill.Price,
			Quantity:        fill.Quantity,
			Commission:      fill.Commission,
			CommissionAsset: fill.CommissionAsset,
		})
	}
	return ack
}

func newClientOrderID() string {
	return uuid.NewString()
}
