package execution

import (
	"context"
	"time"

	"trade-executor/internal/decision"
	"trade-executor/internal/exchange"
)

// ExchangeClient 聚合执行引擎消费的交易所能力。引擎只通过这个
// 窄接口与交易所交互，鉴权、签名、限速与网络传输都在实现内部。
type ExchangeClient interface {
	GetSymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	SubmitMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity string) (exchange.OrderAck, error)
	SubmitMarginOrder(ctx context.Context, symbol string, side exchange.Side, quantity string, isolated bool) (exchange.OrderAck, error)
	GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error)
}

var _ ExchangeClient = (*exchange.Client)(nil)

// Mode 表示批次执行模式。
type Mode string

const (
	ModeLive       Mode = "live"
	ModeSimulation Mode = "simulation"
)

// Result 为单个交易对的执行结果。Executed 为假时 Reason 与 Error
// 恰好设置其一：Reason 表示非异常跳过，Error 表示执行失败。
type Result struct {
	Ticker        string               `json:"ticker"`
	Action        decision.Action      `json:"action"`
	Executed      bool                 `json:"executed"`
	OrderID       int64                `json:"order_id,omitempty"`
	ClientOrderID string               `json:"client_order_id,omitempty"`
	Quantity      string               `json:"quantity,omitempty"`
	Status        string               `json:"status,omitempty"`
	Fills         []exchange.OrderFill `json:"fills,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Report 为一次决策批次的执行报告，每个输入交易对恰好出现一次。
type Report struct {
	Mode        Mode              `json:"mode"`
	Results     map[string]Result `json:"results"`
	TotalOrders int               `json:"total_orders"`
	TotalErrors int               `json:"total_errors"`
	GeneratedAt time.Time         `json:"generated_at"`
}
