package exchange

import (
	"github.com/shopspring/decimal"
)

// filterKind 标记交易所过滤器类型。交易所返回的是松散类型的
// {filterType, ...} 记录列表，这里一次性解析为带标签的变体，
// 避免每次下单都重新扫描通用列表。
type filterKind int

const (
	filterOther filterKind = iota
	filterLotSize
	filterNotional
)

type symbolFilter struct {
	kind        filterKind
	stepSize    float64
	minQty      float64
	minNotional float64
}

// parseFilterRecord 解析单条过滤器记录。NOTIONAL 与 MIN_NOTIONAL
// 都映射到名义价值过滤器，字段名一致。
func parseFilterRecord(raw map[string]interface{}) symbolFilter {
	switch raw["filterType"] {
	case "LOT_SIZE":
		return symbolFilter{
			kind:     filterLotSize,
			stepSize: filterValue(raw, "stepSize"),
			minQty:   filterValue(raw, "minQty"),
		}
	case "NOTIONAL", "MIN_NOTIONAL":
		return symbolFilter{
			kind:        filterNotional,
			minNotional: filterValue(raw, "minNotional"),
		}
	default:
		return symbolFilter{kind: filterOther}
	}
}

// ParseSymbolRules 将交易对的过滤器列表折叠为 SymbolRules。
// 同类过滤器出现多次时以最后观察到的为准。
func ParseSymbolRules(symbol string, filters []map[string]interface{}) SymbolRules {
	rules := SymbolRules{Symbol: symbol}
	for _, raw := range filters {
		f := parseFilterRecord(raw)
		switch f.kind {
		case filterLotSize:
			rules.StepSize = f.stepSize
			rules.MinQty = f.minQty
		case filterNotional:
			rules.MinNotional = f.minNotional
		}
	}
	return rules
}

// filterValue 读取过滤器数值字段。交易所以字符串传输数值，
// 经由 decimal 解析避免精度损失后再转为 float64。
func filterValue(raw map[string]interface{}, key string) float64 {
	switch v := raw[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	case float64:
		return v
	default:
		return 0
	}
}
