package execution

import "errors"

var (
	// ErrBelowMinNotional 表示修正后订单价值仍低于交易所最小名义价值，
	// 订单不会被提交。
	ErrBelowMinNotional = errors.New("order value below minimum notional")
	// ErrInvalidOrderSize 表示名义价值修正循环在迭代上限内未收敛。
	ErrInvalidOrderSize = errors.New("quantity correction did not converge")
)
