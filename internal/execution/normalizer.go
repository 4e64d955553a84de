package execution

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trade-executor/internal/exchange"
)

const (
	// fallbackPrecision 为缺少交易规则时的默认小数位数。
	fallbackPrecision = 8
	// notionalSafety 为名义价值校验的安全系数，抵御浮点舍入漂移。
	notionalSafety = 1.001
	// maxCorrectionSteps 为名义价值修正循环的迭代上限。
	maxCorrectionSteps = 10000
)

// PriceSource 抽象当前价格的来源。
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Normalizer 将原始下单数量转换为满足交易规则的精度正确的数量串。
// 规则或价格不可得时降级为固定8位小数格式化，而不是阻塞下单。
type Normalizer struct {
	rules  exchange.RulesSource
	prices PriceSource
	logger *zap.Logger
}

// NewNormalizer 创建数量归一化器。rules 通常为包了缓存的交易所客户端。
func NewNormalizer(rules exchange.RulesSource, prices PriceSource, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		rules:  rules,
		prices: prices,
		logger: logger,
	}
}

// FormatQuantity 获取交易规则与现价后归一化数量。元数据获取失败
// 只降级不报错；归一化本身的失败（名义价值无法满足）会返回错误。
func (n *Normalizer) FormatQuantity(ctx context.Context, ticker string, rawQty float64) (string, error) {
	rules, err := n.rules.GetSymbolRules(ctx, ticker)
	if err != nil {
		n.logger.Warn("获取交易规则失败，使用默认精度格式化",
			zap.String("ticker", ticker),
			zap.Error(err),
		)
		return strconv.FormatFloat(rawQty, 'f', fallbackPrecision, 64), nil
	}

	price, err := n.prices.GetCurrentPrice(ctx, ticker)
	if err != nil {
		n.logger.Warn("获取现价失败，跳过名义价值校验",
			zap.String("ticker", ticker),
			zap.Error(err),
		)
		price = 0
	}

	formatted, err := normalizeQuantity(rawQty, rules, price, n.logger)
	if err != nil {
		return "", err
	}

	n.logger.Debug("数量归一化完成",
		zap.String("ticker", ticker),
		zap.Float64("raw", rawQty),
		zap.String("formatted", formatted),
		zap.Float64("price", price),
	)
	return formatted, nil
}

// normalizeQuantity 实现归一化算法：以名义价值推导最小数量、
// 抬升到有效最小值、按步进取整（四舍五入，远离零）、有界的名义
// 价值修正循环、按步进推导精度格式化，最后复核名义价值。
// price 为 0 时跳过所有名义价值相关检查。
func normalizeQuantity(rawQty float64, rules exchange.SymbolRules, price float64, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	quantity := rawQty

	minQtyForNotional := 0.0
	if rules.MinNotional > 0 && price > 0 {
		minQtyForNotional = rules.MinNotional / price
	}

	effectiveMinQty := math.Max(rules.MinQty, minQtyForNotional)
	if quantity < effectiveMinQty {
		logger.Warn("数量低于有效最小值，抬升到最小可交易数量",
			zap.String("symbol", rules.Symbol),
			zap.Float64("quantity", quantity),
			zap.Float64("effective_min", effectiveMinQty),
			zap.Float64("min_qty", rules.MinQty),
			zap.Float64("min_qty_for_notional", minQtyForNotional),
		)
		quantity = effectiveMinQty
	}

	if rules.StepSize > 0 {
		quantity = math.Round(quantity/rules.StepSize) * rules.StepSize
	}

	if rules.MinNotional > 0 && price > 0 {
		step := rules.StepSize
		if step <= 0 {
			step = 0.1
		}
		steps := 0
		for quantity*price < rules.MinNotional*notionalSafety {
			steps++
			if steps > maxCorrectionSteps {
				return "", fmt.Errorf("%w: symbol=%s quantity=%f price=%f min_notional=%f",
					ErrInvalidOrderSize, rules.Symbol, quantity, price, rules.MinNotional)
			}
			quantity += step
		}
	}

	formatted := formatToStep(quantity, rules.StepSize)

	if rules.MinNotional > 0 && price > 0 {
		value, err := strconv.ParseFloat(formatted, 64)
		if err != nil {
			return "", fmt.Errorf("解析格式化数量 %q 失败: %w", formatted, err)
		}
		if value*price < rules.MinNotional {
			return "", fmt.Errorf("%w: 订单价值 %.8f 低于最小名义价值 %.8f (symbol=%s)",
				ErrBelowMinNotional, value*price, rules.MinNotional, rules.Symbol)
		}
	}

	return formatted, nil
}

// stepPrecision 从步进推导小数精度。步进为 0 表示无步进约束，
// 默认使用8位小数。
func stepPrecision(step float64) int {
	if step <= 0 {
		return fallbackPrecision
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return len(s) - idx - 1
}

// formatToStep 按步进精度格式化数量。精度为 0 时输出整数，
// 否则去除末尾多余的零与小数点。
func formatToStep(quantity float64, step float64) string {
	precision := stepPrecision(step)
	if precision <= 0 {
		return strconv.FormatFloat(quantity, 'f', 0, 64)
	}
	formatted := strconv.FormatFloat(quantity, 'f', precision, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted
}
