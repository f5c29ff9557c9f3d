package broker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer throttles outbound calls for one adapter instance. It enforces a
// rolling per-minute budget plus a minimum spacing between requests, and makes
// the caller wait instead of failing when either limit is hit.
type Pacer struct {
	minute  *rate.Limiter
	spacing *rate.Limiter
}

// NewPacer builds a pacer allowing perMinute requests per rolling minute and
// at most one request per minSpacing.
func NewPacer(perMinute int, minSpacing time.Duration) *Pacer {
	if perMinute <= 0 {
		perMinute = 60
	}
	if minSpacing <= 0 {
		minSpacing = 10 * time.Millisecond
	}
	return &Pacer{
		minute:  rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		spacing: rate.NewLimiter(rate.Every(minSpacing), 1),
	}
}

// Wait blocks until the next request is allowed or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.spacing.Wait(ctx); err != nil {
		return err
	}
	return p.minute.Wait(ctx)
}

// Paced decorates an adapter so every outbound call first waits on a shared
// pacer. One Paced instance wraps one adapter instance, so all sessions
// reusing a cached adapter share its budget.
type Paced struct {
	inner Adapter
	pacer *Pacer
}

// WithPacing wraps adapter behind pacer. A nil pacer gets defaults.
func WithPacing(adapter Adapter, pacer *Pacer) *Paced {
	if pacer == nil {
		pacer = NewPacer(0, 0)
	}
	return &Paced{inner: adapter, pacer: pacer}
}

// Unwrap exposes the decorated adapter so optional capabilities stay
// reachable.
func (p *Paced) Unwrap() Adapter { return p.inner }

func (p *Paced) Authenticate(ctx context.Context) error {
	if err := p.pacer.Wait(ctx); err != nil {
		return err
	}
	return p.inner.Authenticate(ctx)
}

func (p *Paced) GetBalance(ctx context.Context) (AccountBalance, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return AccountBalance{}, err
	}
	return p.inner.GetBalance(ctx)
}

func (p *Paced) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return MarketData{}, err
	}
	return p.inner.GetMarketData(ctx, symbol)
}

func (p *Paced) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return OrderResponse{}, err
	}
	return p.inner.PlaceOrder(ctx, req)
}

func (p *Paced) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.pacer.Wait(ctx); err != nil {
		return err
	}
	return p.inner.CancelOrder(ctx, orderID)
}

func (p *Paced) GetOrderStatus(ctx context.Context, orderID string) (OrderResponse, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return OrderResponse{}, err
	}
	return p.inner.GetOrderStatus(ctx, orderID)
}

func (p *Paced) GetOpenPositions(ctx context.Context) ([]Position, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.GetOpenPositions(ctx)
}

func (p *Paced) ClosePosition(ctx context.Context, positionID string) error {
	if err := p.pacer.Wait(ctx); err != nil {
		return err
	}
	return p.inner.ClosePosition(ctx, positionID)
}

func (p *Paced) HealthCheck(ctx context.Context) Health {
	if err := p.pacer.Wait(ctx); err != nil {
		return Health{Status: "pacer: " + err.Error(), Connected: false}
	}
	return p.inner.HealthCheck(ctx)
}
