package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"signalist/internal/broker"
)

// fakeAdapter lets each test wire just the calls it cares about.
type fakeAdapter struct {
	authFn   func(ctx context.Context) error
	quoteFn  func(ctx context.Context, symbol string) (broker.MarketData, error)
	placeFn  func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error)
	statusFn func(ctx context.Context, id string) (broker.OrderResponse, error)

	authCalls   int
	placeCalls  int
	cancelCalls int
}

func (f *fakeAdapter) Authenticate(ctx context.Context) error {
	f.authCalls++
	if f.authFn != nil {
		return f.authFn(ctx)
	}
	return nil
}

func (f *fakeAdapter) GetMarketData(ctx context.Context, symbol string) (broker.MarketData, error) {
	if f.quoteFn != nil {
		return f.quoteFn(ctx, symbol)
	}
	return broker.MarketData{Symbol: symbol, Bid: 99.99, Ask: 100.01, Last: 100, Timestamp: time.Now()}, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	f.placeCalls++
	if f.placeFn != nil {
		return f.placeFn(ctx, req)
	}
	return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusFilled, FilledPrice: 100}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelCalls++
	return nil
}

func (f *fakeAdapter) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderResponse, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, orderID)
	}
	return broker.OrderResponse{OrderID: orderID, Status: broker.StatusFilled, FilledPrice: 100}, nil
}

func (f *fakeAdapter) GetBalance(context.Context) (broker.AccountBalance, error) {
	return broker.AccountBalance{}, nil
}

func (f *fakeAdapter) GetOpenPositions(context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeAdapter) ClosePosition(context.Context, string) error                 { return nil }
func (f *fakeAdapter) HealthCheck(context.Context) broker.Health {
	return broker.Health{Status: "ok", Connected: true}
}

func testConfig() Config {
	return Config{
		MaxRetries:       3,
		MaxSpreadPercent: 0.15,
		ConfirmTimeout:   time.Second,
	}
}

func marketBuy() broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   "EURUSD",
		Side:     broker.SideBuy,
		Type:     broker.OrderTypeMarket,
		Quantity: 1,
	}
}

func TestExecuteRetryBound(t *testing.T) {
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			return broker.OrderResponse{}, errors.New("broker down")
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if res.Success {
		t.Fatal("expected failure against a permanently failing adapter")
	}
	if res.Retries != 3 {
		t.Fatalf("retries = %d, want 3", res.Retries)
	}
	if adapter.placeCalls != 3 {
		t.Fatalf("place calls = %d, want 3", adapter.placeCalls)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "broker down") {
		t.Fatalf("expected last error to surface, got %v", res.Err)
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	adapter := &fakeAdapter{}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Retries != 1 {
		t.Fatalf("retries = %d, want 1", res.Retries)
	}
	if res.Response == nil || res.Response.Status != broker.StatusFilled {
		t.Fatalf("unexpected response %+v", res.Response)
	}
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	adapter := &fakeAdapter{}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, broker.OrderRequest{Symbol: "EURUSD"})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(res.Err, broker.ErrValidation) {
		t.Fatalf("err = %v, want validation error", res.Err)
	}
	if adapter.placeCalls != 0 {
		t.Fatalf("place calls = %d, want 0", adapter.placeCalls)
	}
}

func TestExecuteSpreadGuard(t *testing.T) {
	adapter := &fakeAdapter{
		quoteFn: func(ctx context.Context, symbol string) (broker.MarketData, error) {
			// 1% spread, far over the 0.15% limit.
			return broker.MarketData{Symbol: symbol, Bid: 99.5, Ask: 100.5, Last: 100}, nil
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if res.Success {
		t.Fatal("expected rejection on wide spread")
	}
	if adapter.placeCalls != 0 {
		t.Fatalf("place calls = %d, want 0", adapter.placeCalls)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "spread") {
		t.Fatalf("err = %v, want spread error", res.Err)
	}
}

func TestExecuteMarketToLimitConversion(t *testing.T) {
	var placed broker.OrderRequest
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			placed = req
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusFilled, FilledPrice: req.Price}, nil
		},
	}
	cfg := testConfig()
	cfg.OptimizeOrderType = true
	cfg.TickSize = 0.001
	exec := New(cfg)

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if placed.Type != broker.OrderTypeLimit {
		t.Fatalf("order type = %s, want LIMIT", placed.Type)
	}
	// Ask 100.01 improved by one tick.
	if placed.Price != 100.01-0.001 {
		t.Fatalf("limit price = %v, want %v", placed.Price, 100.01-0.001)
	}
}

func TestExecuteReauthenticatesOnce(t *testing.T) {
	first := true
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			if first {
				first = false
				return broker.OrderResponse{}, broker.ErrNotAuthenticated
			}
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusFilled, FilledPrice: 100}, nil
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if !res.Success {
		t.Fatalf("expected success after re-auth, got %v", res.Err)
	}
	if adapter.authCalls != 1 {
		t.Fatalf("auth calls = %d, want 1", adapter.authCalls)
	}
	if res.Retries != 1 {
		t.Fatalf("retries = %d, want 1", res.Retries)
	}
}

func TestExecutePollsUntilFilled(t *testing.T) {
	polls := 0
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusNew}, nil
		},
		statusFn: func(ctx context.Context, id string) (broker.OrderResponse, error) {
			polls++
			if polls < 3 {
				return broker.OrderResponse{OrderID: id, Status: broker.StatusNew}, nil
			}
			return broker.OrderResponse{OrderID: id, Status: broker.StatusFilled, FilledPrice: 100.02}, nil
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
}

func TestExecuteConfirmTimeoutCancels(t *testing.T) {
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusNew}, nil
		},
		statusFn: func(ctx context.Context, id string) (broker.OrderResponse, error) {
			return broker.OrderResponse{OrderID: id, Status: broker.StatusNew}, nil
		},
	}
	cfg := testConfig()
	cfg.ConfirmTimeout = -time.Millisecond
	exec := New(cfg)

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if res.Success {
		t.Fatal("expected failure on confirmation timeout")
	}
	if adapter.cancelCalls == 0 {
		t.Fatal("expected unconfirmed order to be cancelled")
	}
	if !errors.Is(res.Err, broker.ErrOrderTimeout) {
		t.Fatalf("err = %v, want order timeout", res.Err)
	}
}

func TestExecuteRejectedOrderFails(t *testing.T) {
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusRejected}, nil
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if res.Success {
		t.Fatal("expected failure on rejected order")
	}
	if !errors.Is(res.Err, broker.ErrOrderRejected) {
		t.Fatalf("err = %v, want order rejected", res.Err)
	}
	if res.Retries != 3 {
		t.Fatalf("retries = %d, want 3", res.Retries)
	}
}

func TestExecuteSlippageMeasured(t *testing.T) {
	adapter := &fakeAdapter{
		placeFn: func(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
			return broker.OrderResponse{OrderID: "o-1", Status: broker.StatusFilled, FilledPrice: 100.02}, nil
		},
	}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(context.Background(), adapter, marketBuy())
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}
	// Reference is the ask (100.01); fill at 100.02.
	want := 0.01 / 100.01
	if diff := res.Slippage - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("slippage = %v, want %v", res.Slippage, want)
	}
}

func TestExecuteContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := &fakeAdapter{}
	exec := New(testConfig())

	res := exec.ExecuteOrderSafely(ctx, adapter, marketBuy())
	if res.Success {
		t.Fatal("expected failure with cancelled context")
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
}
