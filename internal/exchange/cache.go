package exchange

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RulesSource 抽象交易规则的来源。
type RulesSource interface {
	GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
}

// RulesCache 在进程生命周期内缓存交易规则。同一交易对的并发首次
// 访问经 singleflight 合并，元数据请求只发出一次。缓存一经写入
// 不再失效，交易所规则变更需要重启进程才能生效。
type RulesCache struct {
	source RulesSource
	logger *zap.Logger

	mu     sync.RWMutex
	rules  map[string]SymbolRules
	flight singleflight.Group
}

// NewRulesCache 创建规则缓存。
func NewRulesCache(source RulesSource, logger *zap.Logger) *RulesCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesCache{
		source: source,
		logger: logger,
		rules:  make(map[string]SymbolRules),
	}
}

// GetSymbolRules 返回缓存的交易规则，未命中时向来源拉取。
// 拉取失败不缓存，下一次访问会重新尝试。
func (c *RulesCache) GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error) {
	c.mu.RLock()
	rules, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}

	v, err, _ := c.flight.Do(symbol, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.rules[symbol]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := c.source.GetSymbolRules(ctx, symbol)
		if err != nil {
			return SymbolRules{}, err
		}

		c.mu.Lock()
		c.rules[symbol] = fetched
		c.mu.Unlock()

		c.logger.Debug("交易规则已缓存", zap.String("symbol", symbol))
		return fetched, nil
	})
	if err != nil {
		return SymbolRules{}, err
	}

	return v.(SymbolRules), nil
}
