package exchange

import (
	"errors"
	"net"

	"github.com/adshao/go-binance/v2/common"
)

var (
	// ErrSymbolNotFound 表示交易对不在交易所元数据中。
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrPriceUnavailable 表示当前价格暂不可得，上层应降级而非失败。
	ErrPriceUnavailable = errors.New("price unavailable")
)

// 币安错误码，见 binance API 文档。
const (
	codeDisconnected  = -1001
	codeTooManyReqs   = -1003
	codeTimestamp     = -1021
	codeInvalidSymbol = -1121
)

// IsRetryable 判断错误是否可重试。仅用于元数据与价格等只读调用，
// 下单请求不做自动重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeDisconnected, codeTooManyReqs, codeTimestamp:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUnknownSymbol(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol
}
