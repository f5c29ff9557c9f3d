package strategy

import (
	"fmt"

	"signalist/internal/broker"
)

// MACross emits BUY on a golden cross (fast MA crossing above slow MA) and
// SELL on a death cross.
type MACross struct {
	symbol     string
	fastPeriod int
	slowPeriod int

	prevFast float64
	prevSlow float64
	warmed   bool
}

// NewMACross creates a moving-average crossover generator.
func NewMACross(symbol string, fastPeriod, slowPeriod int) *MACross {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &MACross{symbol: symbol, fastPeriod: fastPeriod, slowPeriod: slowPeriod}
}

func (s *MACross) Name() string {
	return fmt.Sprintf("ma_cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *MACross) Analyze(tick broker.MarketData, history []Candle) (*Signal, error) {
	if len(history) < s.slowPeriod {
		return nil, fmt.Errorf("%w: need %d candles, have %d", ErrDataUnavailable, s.slowPeriod, len(history))
	}

	prices := closes(history)
	fast := sma(prices, s.fastPeriod)
	slow := sma(prices, s.slowPeriod)

	defer func() {
		s.prevFast, s.prevSlow = fast, slow
		s.warmed = true
	}()

	if !s.warmed {
		return nil, nil
	}

	var side broker.Side
	switch {
	case s.prevFast <= s.prevSlow && fast > slow:
		side = broker.SideBuy
	case s.prevFast >= s.prevSlow && fast < slow:
		side = broker.SideSell
	default:
		return nil, nil
	}

	return &Signal{
		Symbol:     s.symbol,
		Side:       side,
		EntryPrice: tick.Last,
		Confidence: 0.5,
		Reason:     fmt.Sprintf("MA%d/%d cross: fast=%.4f slow=%.4f", s.fastPeriod, s.slowPeriod, fast, slow),
		Time:       tick.Timestamp,
	}, nil
}
