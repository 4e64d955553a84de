package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"trade-executor/internal/decision"
	"trade-executor/internal/exchange"
)

type mockExchangeClient struct {
	mu    sync.Mutex
	calls []string

	rules  map[string]exchange.SymbolRules
	prices map[string]float64

	failSubmit map[string]error
	nextOrder  int64
}

func newMockExchangeClient() *mockExchangeClient {
	return &mockExchangeClient{
		rules:      make(map[string]exchange.SymbolRules),
		prices:     make(map[string]float64),
		failSubmit: make(map[string]error),
	}
}

func (m *mockExchangeClient) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockExchangeClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockExchangeClient) GetSymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	m.record("GetSymbolRules " + symbol)
	rules, ok := m.rules[symbol]
	if !ok {
		return exchange.SymbolRules{}, fmt.Errorf("%w: %s", exchange.ErrSymbolNotFound, symbol)
	}
	return rules, nil
}

func (m *mockExchangeClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.record("GetCurrentPrice " + symbol)
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", exchange.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

func (m *mockExchangeClient) submit(symbol string, side exchange.Side, quantity string) (exchange.OrderAck, error) {
	if err := m.failSubmit[symbol]; err != nil {
		return exchange.OrderAck{}, err
	}
	m.mu.Lock()
	m.nextOrder++
	id := m.nextOrder
	m.mu.Unlock()
	return exchange.OrderAck{
		Symbol:        symbol,
		OrderID:       id,
		ClientOrderID: fmt.Sprintf("client-%d", id),
		Status:        "FILLED",
	}, nil
}

func (m *mockExchangeClient) SubmitMarketOrder(ctx context.Context, symbol string, side exchange.Side, quantity string) (exchange.OrderAck, error) {
	m.record(fmt.Sprintf("SubmitMarketOrder %s %s %s", symbol, side, quantity))
	return m.submit(symbol, side, quantity)
}

func (m *mockExchangeClient) SubmitMarginOrder(ctx context.Context, symbol string, side exchange.Side, quantity string, isolated bool) (exchange.OrderAck, error) {
	m.record(fmt.Sprintf("SubmitMarginOrder %s %s %s isolated=%t", symbol, side, quantity, isolated))
	return m.submit(symbol, side, quantity)
}

func (m *mockExchangeClient) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	m.record("GetAccountInfo")
	return exchange.AccountInfo{CanTrade: true}, nil
}

func newTestDispatcher(client *mockExchangeClient, workers int) *Dispatcher {
	normalizer := NewNormalizer(client, client, nil)
	return NewDispatcher(client, normalizer, Options{Workers: workers}, nil)
}

func btcRules() exchange.SymbolRules {
	return exchange.SymbolRules{Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001, MinNotional: 5}
}

func TestDispatch_HoldAndInvalidQuantitySkipped(t *testing.T) {
	client := newMockExchangeClient()
	d := newTestDispatcher(client, 1)

	batch := decision.Batch{
		"BTCUSDT": {Action: decision.ActionHold, Quantity: 0},
		"ETHUSDT": {Action: decision.ActionBuy, Quantity: 0},
	}

	report, err := d.Dispatch(context.Background(), batch, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	for _, ticker := range []string{"BTCUSDT", "ETHUSDT"} {
		result, ok := report.Results[ticker]
		if !ok {
			t.Fatalf("missing result for %s", ticker)
		}
		if result.Executed {
			t.Errorf("%s: expected executed=false", ticker)
		}
		if result.Reason != reasonNoAction {
			t.Errorf("%s: unexpected reason %q", ticker, result.Reason)
		}
		if result.Error != "" {
			t.Errorf("%s: unexpected error %q", ticker, result.Error)
		}
	}

	if client.callCount() != 0 {
		t.Errorf("expected zero exchange calls, got %v", client.calls)
	}
	if report.TotalOrders != 0 || report.TotalErrors != 0 {
		t.Errorf("unexpected counters: orders=%d errors=%d", report.TotalOrders, report.TotalErrors)
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	client := newMockExchangeClient()
	d := newTestDispatcher(client, 1)

	report, err := d.Dispatch(context.Background(), decision.Batch{
		"BTCUSDT": {Action: "rebalance", Quantity: 1},
	}, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	result := report.Results["BTCUSDT"]
	if result.Executed {
		t.Errorf("expected executed=false")
	}
	if result.Reason != "Unknown action: rebalance" {
		t.Errorf("unexpected reason %q", result.Reason)
	}
	if client.callCount() != 0 {
		t.Errorf("expected zero exchange calls, got %v", client.calls)
	}
}

func TestDispatch_SimulationMakesNoExchangeCalls(t *testing.T) {
	client := newMockExchangeClient()
	client.rules["BTCUSDT"] = btcRules()
	client.prices["BTCUSDT"] = 50000
	d := newTestDispatcher(client, 1)

	batch := decision.Batch{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 1.5, Confidence: 0.8},
		"ETHUSDT": {Action: decision.ActionShort, Quantity: 2},
	}

	report, err := d.Dispatch(context.Background(), batch, false)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if report.Mode != ModeSimulation {
		t.Errorf("expected simulation mode, got %s", report.Mode)
	}

	result := report.Results["BTCUSDT"]
	if result.Executed {
		t.Errorf("expected executed=false in simulation")
	}
	if result.Reason != reasonSimulation {
		t.Errorf("unexpected reason %q", result.Reason)
	}
	if result.Quantity != "1.5" {
		t.Errorf("expected raw quantity 1.5, got %q", result.Quantity)
	}

	if client.callCount() != 0 {
		t.Errorf("expected zero exchange calls across the batch, got %v", client.calls)
	}
	if report.TotalOrders != 0 || report.TotalErrors != 0 {
		t.Errorf("unexpected counters: orders=%d errors=%d", report.TotalOrders, report.TotalErrors)
	}
}

func TestDispatch_RoutesActionsToOrderTypes(t *testing.T) {
	client := newMockExchangeClient()
	for _, symbol := range []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT"} {
		client.rules[symbol] = exchange.SymbolRules{Symbol: symbol, StepSize: 0.1, MinQty: 0.1, MinNotional: 5}
		client.prices[symbol] = 100
	}
	d := newTestDispatcher(client, 1)

	batch := decision.Batch{
		"AUSDT": {Action: decision.ActionBuy, Quantity: 1},
		"BUSDT": {Action: decision.ActionSell, Quantity: 1},
		"CUSDT": {Action: decision.ActionShort, Quantity: 1},
		"DUSDT": {Action: decision.ActionCover, Quantity: 1},
	}

	report, err := d.Dispatch(context.Background(), batch, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if report.TotalOrders != 4 {
		t.Fatalf("expected 4 executed orders, got %d", report.TotalOrders)
	}

	expected := map[string]string{
		"AUSDT": "SubmitMarketOrder AUSDT BUY 1",
		"BUSDT": "SubmitMarketOrder BUSDT SELL 1",
		"CUSDT": "SubmitMarginOrder CUSDT SELL 1 isolated=false",
		"DUSDT": "SubmitMarginOrder DUSDT BUY 1 isolated=false",
	}
	for symbol, want := range expected {
		found := false
		for _, call := range client.calls {
			if call == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s: missing expected call %q in %v", symbol, want, client.calls)
		}
	}
}

func TestDispatch_RoutingParityBetweenModes(t *testing.T) {
	actions := []decision.Action{
		decision.ActionBuy, decision.ActionSell,
		decision.ActionShort, decision.ActionCover,
	}
	for _, action := range actions {
		route, ok := routeFor(action)
		if !ok {
			t.Fatalf("routeFor(%s) not ok", action)
		}
		// 路由仅由动作决定，与 live 标志无关。
		again, _ := routeFor(action)
		if route != again {
			t.Errorf("routeFor(%s) not deterministic", action)
		}
	}

	if _, ok := routeFor(decision.ActionHold); ok {
		t.Errorf("hold must not route to an order")
	}
	if _, ok := routeFor("unknown"); ok {
		t.Errorf("unknown action must not route to an order")
	}
}

func TestDispatch_BatchIsolation(t *testing.T) {
	client := newMockExchangeClient()
	for _, symbol := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		client.rules[symbol] = exchange.SymbolRules{Symbol: symbol, StepSize: 0.1, MinQty: 0.1, MinNotional: 5}
		client.prices[symbol] = 100
	}
	client.failSubmit["BUSDT"] = errors.New("Account has insufficient balance for requested action.")

	d := newTestDispatcher(client, 1)

	batch := decision.Batch{
		"AUSDT": {Action: decision.ActionBuy, Quantity: 1},
		"BUSDT": {Action: decision.ActionBuy, Quantity: 1},
		"CUSDT": {Action: decision.ActionSell, Quantity: 1},
	}

	report, err := d.Dispatch(context.Background(), batch, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}

	failed := report.Results["BUSDT"]
	if failed.Executed {
		t.Errorf("BUSDT: expected executed=false")
	}
	if !strings.Contains(failed.Error, "insufficient balance") {
		t.Errorf("BUSDT: expected venue message passed through, got %q", failed.Error)
	}

	for _, symbol := range []string{"AUSDT", "CUSDT"} {
		result := report.Results[symbol]
		if !result.Executed {
			t.Errorf("%s: expected executed=true despite sibling failure", symbol)
		}
		if result.Error != "" {
			t.Errorf("%s: unexpected error %q", symbol, result.Error)
		}
	}

	if report.TotalOrders != 2 {
		t.Errorf("expected TotalOrders=2, got %d", report.TotalOrders)
	}
	if report.TotalErrors != 1 {
		t.Errorf("expected TotalErrors=1, got %d", report.TotalErrors)
	}
}

func TestDispatch_NormalizationFailureRecordedNotRaised(t *testing.T) {
	client := newMockExchangeClient()
	// 极小步进配合高名义价值门槛，修正循环无法收敛。
	client.rules["BADUSDT"] = exchange.SymbolRules{
		Symbol: "BADUSDT", StepSize: 0.00000001, MinQty: 0, MinNotional: 100,
	}
	client.prices["BADUSDT"] = 1

	d := newTestDispatcher(client, 1)

	report, err := d.Dispatch(context.Background(), decision.Batch{
		"BADUSDT": {Action: decision.ActionBuy, Quantity: 0.1},
	}, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	result := report.Results["BADUSDT"]
	if result.Executed {
		t.Errorf("expected executed=false")
	}
	if result.Error == "" {
		t.Errorf("expected normalization failure recorded as error")
	}
	for _, call := range client.calls {
		if strings.HasPrefix(call, "Submit") {
			t.Errorf("order must not be submitted after normalization failure, got %v", client.calls)
		}
	}
}

func TestDispatch_ExecutedResultCarriesOrderFields(t *testing.T) {
	client := newMockExchangeClient()
	client.rules["BTCUSDT"] = btcRules()
	client.prices["BTCUSDT"] = 50000

	d := newTestDispatcher(client, 1)

	report, err := d.Dispatch(context.Background(), decision.Batch{
		"BTCUSDT": {Action: decision.ActionBuy, Quantity: 0.5, Confidence: 0.9},
	}, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	result := report.Results["BTCUSDT"]
	if !result.Executed {
		t.Fatalf("expected executed=true, got %+v", result)
	}
	if result.OrderID == 0 || result.ClientOrderID == "" {
		t.Errorf("expected order identifiers, got %+v", result)
	}
	if result.Quantity != "0.5" {
		t.Errorf("expected normalized quantity 0.5, got %q", result.Quantity)
	}
	if result.Status != "FILLED" {
		t.Errorf("expected status FILLED, got %q", result.Status)
	}
	if result.Reason != "" || result.Error != "" {
		t.Errorf("executed result must not carry reason or error: %+v", result)
	}
}

func TestDispatch_NilBatchIsBatchLevelFailure(t *testing.T) {
	d := newTestDispatcher(newMockExchangeClient(), 1)

	if _, err := d.Dispatch(context.Background(), nil, false); err == nil {
		t.Fatalf("expected batch-level error for nil batch")
	}
}

func TestDispatch_ParallelWorkersCoverEveryTicker(t *testing.T) {
	client := newMockExchangeClient()
	batch := decision.Batch{}
	for i := 0; i < 50; i++ {
		symbol := fmt.Sprintf("SYM%02dUSDT", i)
		client.rules[symbol] = exchange.SymbolRules{Symbol: symbol, StepSize: 0.1, MinQty: 0.1, MinNotional: 5}
		client.prices[symbol] = 100
		batch[symbol] = decision.Decision{Action: decision.ActionBuy, Quantity: 1}
	}

	d := newTestDispatcher(client, 8)

	report, err := d.Dispatch(context.Background(), batch, true)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(report.Results) != len(batch) {
		t.Fatalf("expected %d results, got %d", len(batch), len(report.Results))
	}
	if report.TotalOrders != len(batch) {
		t.Errorf("expected %d executed orders, got %d", len(batch), report.TotalOrders)
	}
}
