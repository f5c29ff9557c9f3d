package strategy

import (
	"fmt"
	"math"

	"signalist/internal/broker"
)

// Breakout trades closes beyond the recent high/low channel, with an
// ATR-derived stop and an optional martingale-style size multiplier driven by
// its private consecutive-loss counter.
type Breakout struct {
	symbol    string
	lookback  int
	atrPeriod int
	stopATR   float64
	baseQty   float64
	scaling   float64 // per-loss size multiplier, 0 disables

	consecLosses int
}

// NewBreakout creates a channel-breakout generator.
func NewBreakout(symbol string, lookback int, baseQty, scaling float64) *Breakout {
	if lookback <= 0 {
		lookback = 20
	}
	return &Breakout{
		symbol:    symbol,
		lookback:  lookback,
		atrPeriod: 14,
		stopATR:   2.0,
		baseQty:   baseQty,
		scaling:   scaling,
	}
}

func (s *Breakout) Name() string {
	return fmt.Sprintf("breakout_%d", s.lookback)
}

// TradeClosed advances the martingale counter. Wins reset it.
func (s *Breakout) TradeClosed(win bool) {
	if win {
		s.consecLosses = 0
		return
	}
	s.consecLosses++
}

func (s *Breakout) quantity() float64 {
	if s.baseQty <= 0 || s.scaling <= 1 || s.consecLosses == 0 {
		return s.baseQty
	}
	// Cap doubling depth so one bad streak cannot blow through sizing limits.
	depth := s.consecLosses
	if depth > 4 {
		depth = 4
	}
	return s.baseQty * math.Pow(s.scaling, float64(depth))
}

func (s *Breakout) Analyze(tick broker.MarketData, history []Candle) (*Signal, error) {
	need := s.lookback + s.atrPeriod + 1
	if len(history) < need {
		return nil, fmt.Errorf("%w: need %d candles, have %d", ErrDataUnavailable, need, len(history))
	}

	high := highestHigh(history, s.lookback, 1)
	low := lowestLow(history, s.lookback, 1)
	rangeATR := atr(history, s.atrPeriod)
	last := history[len(history)-1]

	var side broker.Side
	var stop float64
	switch {
	case last.Close > high:
		side = broker.SideBuy
		stop = tick.Last - s.stopATR*rangeATR
	case last.Close < low:
		side = broker.SideSell
		stop = tick.Last + s.stopATR*rangeATR
	default:
		return nil, nil
	}

	return &Signal{
		Symbol:     s.symbol,
		Side:       side,
		EntryPrice: tick.Last,
		StopLoss:   stop,
		Quantity:   s.quantity(),
		Confidence: 0.55,
		Reason:     fmt.Sprintf("channel breakout %d: close=%.4f high=%.4f low=%.4f", s.lookback, last.Close, high, low),
		Time:       tick.Timestamp,
	}, nil
}
