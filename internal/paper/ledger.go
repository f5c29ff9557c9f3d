package paper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalist/internal/broker"
)

var (
	// ErrInsufficientMargin means the free margin cannot cover the order.
	ErrInsufficientMargin = errors.New("insufficient free margin")
)

// DefaultMarginFraction is the margin locked per unit of notional on linear
// instruments when no explicit fraction is configured.
const DefaultMarginFraction = 0.1

// Ledger is a virtual account: balance, locked margin, and open positions.
// Balance only changes on close; equity is always balance plus the sum of
// unrealized PnL and is recomputed on demand, never cached.
type Ledger struct {
	mu             sync.RWMutex
	balance        float64
	currency       string
	marginFraction float64
	newID          func() string
	positions      map[string]*paperPosition
	trades         []broker.TradeResult
}

type paperPosition struct {
	broker.Position
	Class  broker.InstrumentClass
	Margin float64
}

// NewLedger creates a ledger funded with startingBalance.
func NewLedger(startingBalance float64, currency string, marginFraction float64) *Ledger {
	if marginFraction <= 0 {
		marginFraction = DefaultMarginFraction
	}
	if currency == "" {
		currency = "USD"
	}
	return &Ledger{
		balance:        startingBalance,
		currency:       currency,
		marginFraction: marginFraction,
		newID:          uuid.NewString,
		positions:      make(map[string]*paperPosition),
	}
}

// SetIDSource replaces the position id generator. Deterministic replays need
// sequence-numbered ids so identical runs produce identical trade lists.
func (l *Ledger) SetIDSource(fn func() string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn != nil {
		l.newID = fn
	}
}

// pnl computes realized or unrealized profit for a position at price.
func pnl(class broker.InstrumentClass, side broker.Side, entry, price, quantity float64) float64 {
	switch class {
	case broker.ClassStake:
		if entry == 0 {
			return 0
		}
		if side == broker.SideBuy {
			return quantity * (price/entry - 1)
		}
		return quantity * (1 - price/entry)
	default:
		if side == broker.SideBuy {
			return (price - entry) * quantity
		}
		return (entry - price) * quantity
	}
}

// costBasis is the notional the percentage return is measured against.
func costBasis(class broker.InstrumentClass, entry, quantity float64) float64 {
	if class == broker.ClassStake {
		return quantity
	}
	return entry * quantity
}

// requiredMargin returns the margin locked when opening a position.
func (l *Ledger) requiredMargin(class broker.InstrumentClass, entry, quantity float64) float64 {
	if class == broker.ClassStake {
		return quantity
	}
	return entry * quantity * l.marginFraction
}

// Open locks margin for a new position. Balance is untouched; only equity and
// free margin move.
func (l *Ledger) Open(symbol string, side broker.Side, class broker.InstrumentClass, quantity, entry, stopLoss, takeProfit float64, at time.Time) (broker.Position, error) {
	if quantity <= 0 || entry <= 0 {
		return broker.Position{}, fmt.Errorf("%w: quantity %.8f entry %.8f", broker.ErrValidation, quantity, entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	margin := l.requiredMargin(class, entry, quantity)
	if margin > l.freeMarginLocked() {
		return broker.Position{}, fmt.Errorf("%w: need %.2f, free %.2f", ErrInsufficientMargin, margin, l.freeMarginLocked())
	}

	pos := &paperPosition{
		Position: broker.Position{
			ID:           l.newID(),
			Symbol:       symbol,
			Side:         side,
			Quantity:     quantity,
			EntryPrice:   entry,
			CurrentPrice: entry,
			Status:       broker.PositionOpen,
			StopLoss:     stopLoss,
			TakeProfit:   takeProfit,
			OpenedAt:     at,
		},
		Class:  class,
		Margin: margin,
	}
	l.positions[pos.ID] = pos
	return pos.Position, nil
}

// MarkPrice updates unrealized PnL for every open position on symbol.
// Balance is never mutated here.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, pos := range l.positions {
		if pos.Symbol != symbol {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnl = pnl(pos.Class, pos.Side, pos.EntryPrice, price, pos.Quantity)
		if basis := costBasis(pos.Class, pos.EntryPrice, pos.Quantity); basis > 0 {
			pos.UnrealizedPnlPercent = pos.UnrealizedPnl / basis * 100
		}
	}
}

// Close realizes a position at exit: balance absorbs the PnL, the locked
// margin is released, and an immutable TradeResult is recorded.
func (l *Ledger) Close(positionID string, exit float64, status broker.TradeStatus, at time.Time) (broker.TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return broker.TradeResult{}, fmt.Errorf("%w: %s", broker.ErrPositionNotFound, positionID)
	}

	realized := pnl(pos.Class, pos.Side, pos.EntryPrice, exit, pos.Quantity)
	l.balance += realized
	delete(l.positions, positionID)

	result := broker.TradeResult{
		TradeID:    pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Quantity:   pos.Quantity,
		ProfitLoss: realized,
		Status:     status,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		Duration:   at.Sub(pos.OpenedAt),
	}
	if basis := costBasis(pos.Class, pos.EntryPrice, pos.Quantity); basis > 0 {
		result.ProfitLossPercent = realized / basis * 100
	}
	l.trades = append(l.trades, result)
	return result, nil
}

// freeMarginLocked computes max(0, equity - margin). Caller holds the lock.
func (l *Ledger) freeMarginLocked() float64 {
	equity := l.balance
	margin := 0.0
	for _, pos := range l.positions {
		equity += pos.UnrealizedPnl
		margin += pos.Margin
	}
	free := equity - margin
	if free < 0 {
		free = 0
	}
	return free
}

// Balance recomputes the account snapshot from current positions. Nothing
// here is cached between calls.
func (l *Ledger) Balance() broker.AccountBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	equity := l.balance
	margin := 0.0
	for _, pos := range l.positions {
		equity += pos.UnrealizedPnl
		margin += pos.Margin
	}
	free := equity - margin
	if free < 0 {
		free = 0
	}
	level := 0.0
	if margin > 0 {
		level = equity / margin * 100
	}
	return broker.AccountBalance{
		Balance:     l.balance,
		Equity:      equity,
		Margin:      margin,
		FreeMargin:  free,
		MarginLevel: level,
		Currency:    l.currency,
	}
}

// OpenPositions returns copies of all open positions.
func (l *Ledger) OpenPositions() []broker.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]broker.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.Position)
	}
	return out
}

// Position returns one open position by id.
func (l *Ledger) Position(positionID string) (broker.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return broker.Position{}, false
	}
	return pos.Position, true
}

// SetStopLoss rewrites the stop on an open position, used by dynamic stop
// management.
func (l *Ledger) SetStopLoss(positionID string, stopLoss float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrPositionNotFound, positionID)
	}
	pos.StopLoss = stopLoss
	return nil
}

// Trades returns the closed-trade history in close order.
func (l *Ledger) Trades() []broker.TradeResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]broker.TradeResult, len(l.trades))
	copy(out, l.trades)
	return out
}

// Snapshot captures the ledger for persistence.
type Snapshot struct {
	Balance        float64            `json:"balance"`
	Currency       string             `json:"currency"`
	MarginFraction float64            `json:"margin_fraction"`
	Positions      []PositionSnapshot `json:"positions"`
}

// PositionSnapshot is one open position inside a Snapshot.
type PositionSnapshot struct {
	Position broker.Position        `json:"position"`
	Class    broker.InstrumentClass `json:"class"`
	Margin   float64                `json:"margin"`
}

// Snapshot returns a restorable copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Balance:        l.balance,
		Currency:       l.currency,
		MarginFraction: l.marginFraction,
	}
	for _, pos := range l.positions {
		snap.Positions = append(snap.Positions, PositionSnapshot{
			Position: pos.Position,
			Class:    pos.Class,
			Margin:   pos.Margin,
		})
	}
	return snap
}

// Restore rebuilds a ledger from a snapshot.
func Restore(snap Snapshot) *Ledger {
	l := NewLedger(snap.Balance, snap.Currency, snap.MarginFraction)
	for _, ps := range snap.Positions {
		pos := ps
		l.positions[ps.Position.ID] = &paperPosition{
			Position: pos.Position,
			Class:    pos.Class,
			Margin:   pos.Margin,
		}
	}
	return l
}
