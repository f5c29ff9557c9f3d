package strategy

import (
	"errors"
	"time"

	"signalist/internal/broker"
)

// ErrDataUnavailable means the price history is shorter than a filter or
// generator lookback. Callers must warm up before analyzing.
var ErrDataUnavailable = errors.New("insufficient historical data")

// Candle is one bar of aggregated price history, ascending by Time.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Signal is a candidate trade emitted by a strategy. Produced fresh per tick,
// never mutated, immediately consumed by the risk manager or discarded.
type Signal struct {
	Symbol     string      `json:"symbol"`
	Side       broker.Side `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	StopLoss   float64     `json:"stop_loss,omitempty"`
	TakeProfit float64     `json:"take_profit,omitempty"`
	Quantity   float64     `json:"quantity,omitempty"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason"`
	Time       time.Time   `json:"time"`
}

// Strategy analyzes the latest tick against history and proposes a signal,
// or nil when there is nothing to do.
type Strategy interface {
	Name() string
	Analyze(tick broker.MarketData, history []Candle) (*Signal, error)
}

// LossTracker is implemented by strategies that size off their own
// consecutive-loss counter (martingale-style). The counter is private strategy
// state; the orchestrator only reports outcomes.
type LossTracker interface {
	TradeClosed(win bool)
}

// closes extracts close prices from candles.
func closes(history []Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close
	}
	return out
}
