package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateOrder(t *testing.T) {
	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{
			name: "valid market",
			req:  OrderRequest{Symbol: "BTCUSD", Side: SideBuy, Type: OrderTypeMarket, Quantity: 0.5},
		},
		{
			name: "valid limit",
			req:  OrderRequest{Symbol: "BTCUSD", Side: SideSell, Type: OrderTypeLimit, Quantity: 1, Price: 50000},
		},
		{
			name:    "missing symbol",
			req:     OrderRequest{Side: SideBuy, Type: OrderTypeMarket, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "bad side",
			req:     OrderRequest{Symbol: "BTCUSD", Side: "HOLD", Type: OrderTypeMarket, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			req:     OrderRequest{Symbol: "BTCUSD", Side: SideBuy, Type: OrderTypeMarket},
			wantErr: true,
		},
		{
			name:    "limit without price",
			req:     OrderRequest{Symbol: "BTCUSD", Side: SideBuy, Type: OrderTypeLimit, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "stop without price",
			req:     OrderRequest{Symbol: "BTCUSD", Side: SideSell, Type: OrderTypeStop, Quantity: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.req)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err=%v, expected ErrValidation", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSpreadPercent(t *testing.T) {
	md := MarketData{Bid: 99.9, Ask: 100.1}
	got := md.SpreadPercent()
	want := 0.2
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("SpreadPercent=%v, expected %v", got, want)
	}
}

func TestSyntheticSourceDeterminism(t *testing.T) {
	cfg := SyntheticConfig{StartPrice: 100, Step: 0.5, SpreadPercent: 0.02}
	a := NewSyntheticSource(42, cfg)
	b := NewSyntheticSource(42, cfg)

	for i := 0; i < 50; i++ {
		qa := a.Next("BTCUSD")
		qb := b.Next("BTCUSD")
		if qa.Last != qb.Last || qa.Bid != qb.Bid || qa.Ask != qb.Ask {
			t.Fatalf("tick %d diverged: %v vs %v", i, qa, qb)
		}
	}
}

func TestSyntheticSourcePeekDoesNotAdvance(t *testing.T) {
	s := NewSyntheticSource(7, SyntheticConfig{StartPrice: 100})
	first := s.Next("ETHUSD")
	if got := s.Peek("ETHUSD"); got.Last != first.Last {
		t.Fatalf("Peek moved the walk: %v vs %v", got.Last, first.Last)
	}
}

func TestPacerSpacing(t *testing.T) {
	p := NewPacer(6000, 20*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait error: %v", err)
		}
	}
	// First call is immediate, the next two must each wait ~20ms.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("three paced calls finished in %v, expected >=40ms spacing", elapsed)
	}
}

func TestPacerRespectsContext(t *testing.T) {
	p := NewPacer(1, time.Hour)
	ctx := context.Background()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(cctx); err == nil {
		t.Fatal("expected context error on saturated pacer")
	}
}

// countingAdapter records which contract methods were reached.
type countingAdapter struct {
	calls map[string]int
}

func (c *countingAdapter) bump(name string) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
}

func (c *countingAdapter) Authenticate(ctx context.Context) error { c.bump("auth"); return nil }
func (c *countingAdapter) GetBalance(ctx context.Context) (AccountBalance, error) {
	c.bump("balance")
	return AccountBalance{Balance: 1000}, nil
}
func (c *countingAdapter) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	c.bump("quote")
	return MarketData{Symbol: symbol, Bid: 99, Ask: 101, Last: 100}, nil
}
func (c *countingAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	c.bump("place")
	return OrderResponse{OrderID: "o-1", Status: StatusFilled}, nil
}
func (c *countingAdapter) CancelOrder(ctx context.Context, orderID string) error {
	c.bump("cancel")
	return nil
}
func (c *countingAdapter) GetOrderStatus(ctx context.Context, orderID string) (OrderResponse, error) {
	c.bump("status")
	return OrderResponse{OrderID: orderID, Status: StatusFilled}, nil
}
func (c *countingAdapter) GetOpenPositions(ctx context.Context) ([]Position, error) {
	c.bump("positions")
	return nil, nil
}
func (c *countingAdapter) ClosePosition(ctx context.Context, positionID string) error {
	c.bump("close")
	return nil
}
func (c *countingAdapter) HealthCheck(ctx context.Context) Health {
	c.bump("health")
	return Health{Status: "ok", Connected: true}
}

func TestPacedDelegates(t *testing.T) {
	inner := &countingAdapter{}
	paced := WithPacing(inner, NewPacer(6000, 0))
	ctx := context.Background()

	if err := paced.Authenticate(ctx); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if bal, err := paced.GetBalance(ctx); err != nil || bal.Balance != 1000 {
		t.Fatalf("balance = %+v, %v", bal, err)
	}
	if _, err := paced.GetMarketData(ctx, "EURUSD"); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if h := paced.HealthCheck(ctx); !h.Connected {
		t.Fatalf("health = %+v", h)
	}
	for _, name := range []string{"auth", "balance", "quote", "health"} {
		if inner.calls[name] != 1 {
			t.Fatalf("inner %s calls = %d, want 1", name, inner.calls[name])
		}
	}
	if paced.Unwrap() != Adapter(inner) {
		t.Fatal("Unwrap did not return the decorated adapter")
	}
}

func TestPacedBlocksOnSaturation(t *testing.T) {
	inner := &countingAdapter{}
	paced := WithPacing(inner, NewPacer(1, time.Hour))

	if err := paced.Authenticate(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Pacer is saturated; the wrapped call waits instead of failing and the
	// inner adapter is never reached.
	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := paced.GetBalance(cctx); err == nil {
		t.Fatal("expected context error on saturated pacer")
	}
	if inner.calls["balance"] != 0 {
		t.Fatalf("inner balance calls = %d, want 0", inner.calls["balance"])
	}
	h := paced.HealthCheck(cctx)
	if h.Connected || inner.calls["health"] != 0 {
		t.Fatalf("health = %+v, inner health calls = %d", h, inner.calls["health"])
	}
}
