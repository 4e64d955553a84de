package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action 表示决策动作。
type Action string

const (
	ActionHold  Action = "hold"
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionShort Action = "short"
	ActionCover Action = "cover"
)

// Known 判断动作是否在已知集合内。未知动作不会使批次失败，
// 调度器会将其记录为跳过原因。
func (a Action) Known() bool {
	switch a {
	case ActionHold, ActionBuy, ActionSell, ActionShort, ActionCover:
		return true
	}
	return false
}

// Decision 表示针对单个交易对的交易指令。
type Decision struct {
	Ticker     string  `json:"ticker,omitempty"`
	Action     Action  `json:"action"`
	Quantity   float64 `json:"quantity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Validate 校验决策字段合法性。动作取值不在此校验，
// 未知动作属于执行期的逐项结果而非批次级错误。
func (d Decision) Validate() error {
	if strings.TrimSpace(string(d.Action)) == "" {
		return errors.New("action 不能为空")
	}
	if d.Quantity < 0 {
		return fmt.Errorf("quantity 不能为负，当前为 %f", d.Quantity)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", d.Confidence)
	}
	return nil
}

// Batch 为一次决策批次，按交易对索引。
type Batch map[string]Decision

// ParseBatch 解析并校验决策批次文档。文档格式与上游代理输出一致：
// {"BTCUSDT": {"action": "buy", "quantity": 0.1, "confidence": 0.8}, ...}
// 任何结构性问题都是批次级失败，解析不产生部分结果。
func ParseBatch(data []byte) (Batch, error) {
	if len(data) == 0 {
		return nil, errors.New("决策批次内容为空")
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("解析决策批次失败: %w", err)
	}
	if len(batch) == 0 {
		return nil, errors.New("决策批次不包含任何交易对")
	}

	for ticker, d := range batch {
		if strings.TrimSpace(ticker) == "" {
			return nil, errors.New("决策批次包含空交易对")
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("交易对 %s 决策非法: %w", ticker, err)
		}
		if d.Ticker == "" {
			d.Ticker = ticker
			batch[ticker] = d
		}
	}

	return batch, nil
}
