package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"signalist/internal/broker"
)

// Config tunes the execution helper. Zero durations make every wait
// immediate, which keeps tests fast.
type Config struct {
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	LatencyThreshold   time.Duration `yaml:"latency_threshold"`
	MaxSpreadPercent   float64       `yaml:"max_spread_percent"`
	MaxSlippagePercent float64       `yaml:"max_slippage_percent"`
	OptimizeOrderType  bool          `yaml:"optimize_order_type"`
	TickSize           float64       `yaml:"tick_size"`
}

// DefaultConfig returns sensible production settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         500 * time.Millisecond,
		ConfirmTimeout:     10 * time.Second,
		PollInterval:       250 * time.Millisecond,
		LatencyThreshold:   2 * time.Second,
		MaxSpreadPercent:   0.15,
		MaxSlippagePercent: 0.1,
		OptimizeOrderType:  true,
		TickSize:           0.01,
	}
}

// Result summarizes one ExecuteOrderSafely run.
type Result struct {
	Success  bool
	Response *broker.OrderResponse
	Err      error
	Retries  int
	Latency  time.Duration
	Slippage float64 // fraction of requested price
}

// Executor places orders with spread pre-checks, latency guards, fill
// confirmation polling, and bounded retries.
type Executor struct {
	cfg Config
}

func New(cfg Config) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Executor{cfg: cfg}
}

// ExecuteOrderSafely runs the full placement sequence: spread check, optional
// market-to-limit conversion, placement with latency measurement, and status
// polling until a terminal state. Each failed attempt backs off retryDelay
// multiplied by the attempt number; after maxRetries attempts the last error
// is returned with Success false.
func (e *Executor) ExecuteOrderSafely(ctx context.Context, adapter broker.Adapter, req broker.OrderRequest) Result {
	if err := broker.ValidateOrder(req); err != nil {
		return Result{Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Err: err, Retries: attempt - 1}
		}

		res, err := e.attempt(ctx, adapter, req)
		if err == nil {
			res.Retries = attempt
			return res
		}
		lastErr = err
		log.Printf("execution: attempt %d/%d for %s %s failed: %v",
			attempt, e.cfg.MaxRetries, req.Side, req.Symbol, err)

		if errors.Is(err, broker.ErrValidation) || errors.Is(err, context.Canceled) {
			return Result{Err: err, Retries: attempt}
		}
		if attempt < e.cfg.MaxRetries {
			if err := sleep(ctx, e.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return Result{Err: err, Retries: attempt}
			}
		}
	}
	return Result{Err: lastErr, Retries: e.cfg.MaxRetries}
}

// attempt performs one placement cycle. The returned Result carries latency
// and slippage even on the success path.
func (e *Executor) attempt(ctx context.Context, adapter broker.Adapter, req broker.OrderRequest) (Result, error) {
	tick, err := adapter.GetMarketData(ctx, req.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("fetch quote: %w", err)
	}

	if e.cfg.MaxSpreadPercent > 0 {
		if spread := tick.SpreadPercent(); spread > e.cfg.MaxSpreadPercent {
			return Result{}, fmt.Errorf("spread %.4f%% exceeds limit %.4f%%", spread, e.cfg.MaxSpreadPercent)
		}
	}

	req = e.optimizeOrder(req, tick)
	reference := referencePrice(req, tick)

	start := time.Now()
	resp, err := adapter.PlaceOrder(ctx, req)
	if errors.Is(err, broker.ErrNotAuthenticated) {
		// One transparent re-auth, then retry the placement within the
		// same attempt.
		if authErr := adapter.Authenticate(ctx); authErr != nil {
			return Result{}, fmt.Errorf("re-authenticate: %w", authErr)
		}
		resp, err = adapter.PlaceOrder(ctx, req)
	}
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency}, fmt.Errorf("place order: %w", err)
	}

	if e.cfg.LatencyThreshold > 0 && latency > e.cfg.LatencyThreshold {
		if cancelErr := adapter.CancelOrder(ctx, resp.OrderID); cancelErr != nil {
			log.Printf("execution: cancel after slow placement failed for %s: %v", resp.OrderID, cancelErr)
		}
		return Result{Latency: latency}, fmt.Errorf("placement latency %v exceeds %v", latency, e.cfg.LatencyThreshold)
	}

	final, err := e.confirmFill(ctx, adapter, resp)
	if err != nil {
		return Result{Latency: latency}, err
	}

	slippage := 0.0
	if reference > 0 && final.FilledPrice > 0 {
		slippage = math.Abs(final.FilledPrice-reference) / reference
		if e.cfg.MaxSlippagePercent > 0 && slippage*100 > e.cfg.MaxSlippagePercent {
			log.Printf("execution: slippage %.4f%% on %s exceeds %.4f%% (filled %.5f, requested %.5f)",
				slippage*100, final.OrderID, e.cfg.MaxSlippagePercent, final.FilledPrice, reference)
		}
	}

	return Result{
		Success:  true,
		Response: &final,
		Latency:  latency,
		Slippage: slippage,
	}, nil
}

// optimizeOrder converts a MARKET order into a LIMIT one tick inside the
// touch price when spreads make market fills expensive.
func (e *Executor) optimizeOrder(req broker.OrderRequest, tick broker.MarketData) broker.OrderRequest {
	if !e.cfg.OptimizeOrderType || req.Type != broker.OrderTypeMarket || e.cfg.TickSize <= 0 {
		return req
	}
	req.Type = broker.OrderTypeLimit
	if req.Side == broker.SideBuy {
		req.Price = tick.Ask - e.cfg.TickSize
	} else {
		req.Price = tick.Bid + e.cfg.TickSize
	}
	return req
}

// confirmFill polls order status until it reaches a terminal state or the
// confirmation window closes.
func (e *Executor) confirmFill(ctx context.Context, adapter broker.Adapter, resp broker.OrderResponse) (broker.OrderResponse, error) {
	if filled(resp.Status) {
		return resp, nil
	}
	if resp.Status.Terminal() {
		return resp, fmt.Errorf("order %s ended %s: %w", resp.OrderID, resp.Status, broker.ErrOrderRejected)
	}

	deadline := time.Now().Add(e.cfg.ConfirmTimeout)
	for {
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return resp, err
		}
		status, err := adapter.GetOrderStatus(ctx, resp.OrderID)
		if err != nil {
			return resp, fmt.Errorf("poll order %s: %w", resp.OrderID, err)
		}
		if filled(status.Status) {
			return status, nil
		}
		if status.Status.Terminal() {
			return status, fmt.Errorf("order %s ended %s: %w", status.OrderID, status.Status, broker.ErrOrderRejected)
		}
		if time.Now().After(deadline) {
			if cancelErr := adapter.CancelOrder(ctx, resp.OrderID); cancelErr != nil {
				log.Printf("execution: cancel after confirm timeout failed for %s: %v", resp.OrderID, cancelErr)
			}
			return status, fmt.Errorf("order %s not filled within %v: %w", resp.OrderID, e.cfg.ConfirmTimeout, broker.ErrOrderTimeout)
		}
	}
}

func filled(s broker.OrderStatus) bool {
	return s == broker.StatusFilled || s == broker.StatusPartiallyFilled
}

// referencePrice picks the price slippage is measured against.
func referencePrice(req broker.OrderRequest, tick broker.MarketData) float64 {
	if req.Price > 0 {
		return req.Price
	}
	if req.Side == broker.SideBuy {
		return tick.Ask
	}
	return tick.Bid
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
