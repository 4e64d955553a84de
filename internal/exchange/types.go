package exchange

import "time"

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SymbolRules 为单个交易对的交易规则，从交易所元数据解析而来，
// 获取后在进程生命周期内视为不可变。
type SymbolRules struct {
	Symbol string
	// StepSize 为最小数量步进，0 表示无步进约束。
	StepSize float64
	// MinQty 为最小下单数量。
	MinQty float64
	// MinNotional 为最小名义价值（数量×价格），0 表示无约束。
	MinNotional float64
}

// OrderFill 为单笔成交明细。
type OrderFill struct {
	Price           string `json:"price"`
	Quantity        string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commission_asset"`
}

// OrderAck 为交易所对下单请求的确认。
type OrderAck struct {
	Symbol        string      `json:"symbol"`
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        string      `json:"status"`
	Fills         []OrderFill `json:"fills,omitempty"`
	TransactTime  time.Time   `json:"transact_time"`
}

// Balance 为单一资产余额。
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo 为账户概要，供外围健康检查使用。
type AccountInfo struct {
	CanTrade bool      `json:"can_trade"`
	Balances []Balance `json:"balances"`
}
