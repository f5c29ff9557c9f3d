package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalist/internal/broker"
)

// Adapter implements the broker contract on top of a Ledger and a synthetic
// quote source, so the execution path is identical in paper and live modes.
type Adapter struct {
	mu     sync.Mutex
	ledger *Ledger
	source *broker.SyntheticSource
	class  broker.InstrumentClass
	orders map[string]broker.OrderResponse
}

// NewAdapter wires a paper adapter. class selects the PnL model applied to
// every position the adapter opens.
func NewAdapter(ledger *Ledger, source *broker.SyntheticSource, class broker.InstrumentClass) *Adapter {
	if class == "" {
		class = broker.ClassLinear
	}
	return &Adapter{
		ledger: ledger,
		source: source,
		class:  class,
		orders: make(map[string]broker.OrderResponse),
	}
}

// Ledger exposes the backing ledger for snapshotting and stop management.
func (a *Adapter) Ledger() *Ledger { return a.ledger }

func (a *Adapter) Authenticate(ctx context.Context) error { return nil }

func (a *Adapter) GetBalance(ctx context.Context) (broker.AccountBalance, error) {
	// Mark every open symbol to the latest quote before reporting so equity
	// reflects current prices.
	for _, pos := range a.ledger.OpenPositions() {
		a.ledger.MarkPrice(pos.Symbol, a.source.Peek(pos.Symbol).Last)
	}
	return a.ledger.Balance(), nil
}

func (a *Adapter) GetMarketData(ctx context.Context, symbol string) (broker.MarketData, error) {
	tick := a.source.Next(symbol)
	a.ledger.MarkPrice(symbol, tick.Last)
	return tick, nil
}

// PlaceOrder fills synchronously: MARKET at the touch price, LIMIT and STOP
// at their requested price. Fills open a ledger position immediately.
func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	if err := broker.ValidateOrder(req); err != nil {
		return broker.OrderResponse{}, err
	}

	fill := req.Price
	if req.Type == broker.OrderTypeMarket {
		tick := a.source.Peek(req.Symbol)
		if req.Side == broker.SideBuy {
			fill = tick.Ask
		} else {
			fill = tick.Bid
		}
	}

	_, err := a.ledger.Open(req.Symbol, req.Side, a.class, req.Quantity, fill, req.StopLoss, req.TakeProfit, time.Now())
	if err != nil {
		return broker.OrderResponse{}, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
	}

	resp := broker.OrderResponse{
		OrderID:     uuid.NewString(),
		Status:      broker.StatusFilled,
		FilledPrice: fill,
	}
	a.mu.Lock()
	a.orders[resp.OrderID] = resp
	a.mu.Unlock()
	return resp, nil
}

// CancelOrder is a no-op for already-filled paper orders; unknown ids fail.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.orders[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	return nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	resp, ok := a.orders[orderID]
	if !ok {
		return broker.OrderResponse{}, fmt.Errorf("unknown order %s", orderID)
	}
	return resp, nil
}

func (a *Adapter) GetOpenPositions(ctx context.Context) ([]broker.Position, error) {
	return a.ledger.OpenPositions(), nil
}

// CloseWithStatus exits at the current touch price on the opposite side and
// records why the position closed. The returned TradeResult is the ledger's
// own record, so it is the single source of truth for PnL and exit price.
func (a *Adapter) CloseWithStatus(ctx context.Context, positionID string, status broker.TradeStatus) (broker.TradeResult, error) {
	pos, ok := a.ledger.Position(positionID)
	if !ok {
		return broker.TradeResult{}, fmt.Errorf("%w: %s", broker.ErrPositionNotFound, positionID)
	}
	tick := a.source.Peek(pos.Symbol)
	exit := tick.Bid
	if pos.Side == broker.SideSell {
		exit = tick.Ask
	}
	return a.ledger.Close(positionID, exit, status, time.Now())
}

// ClosePosition exits at the current touch price on the opposite side.
func (a *Adapter) ClosePosition(ctx context.Context, positionID string) error {
	_, err := a.CloseWithStatus(ctx, positionID, broker.TradeClosed)
	return err
}

// SetStopLoss rewrites the protective stop on an open position, used by
// dynamic stop management.
func (a *Adapter) SetStopLoss(positionID string, stopLoss float64) error {
	return a.ledger.SetStopLoss(positionID, stopLoss)
}

func (a *Adapter) HealthCheck(ctx context.Context) broker.Health {
	return broker.Health{Status: "paper", Connected: true}
}
