package strategy

import (
	"fmt"

	"signalist/internal/broker"
)

// RSIReversal buys when RSI leaves the oversold zone and sells when it leaves
// the overbought zone.
type RSIReversal struct {
	symbol     string
	period     int
	oversold   float64
	overbought float64

	prevRSI float64
	warmed  bool
}

// NewRSIReversal creates an RSI mean-reversion generator.
func NewRSIReversal(symbol string, period int, oversold, overbought float64) *RSIReversal {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &RSIReversal{symbol: symbol, period: period, oversold: oversold, overbought: overbought}
}

func (s *RSIReversal) Name() string {
	return fmt.Sprintf("rsi_reversal_%d", s.period)
}

func (s *RSIReversal) Analyze(tick broker.MarketData, history []Candle) (*Signal, error) {
	if len(history) < s.period+1 {
		return nil, fmt.Errorf("%w: need %d candles, have %d", ErrDataUnavailable, s.period+1, len(history))
	}

	value := rsi(closes(history), s.period)
	defer func() {
		s.prevRSI = value
		s.warmed = true
	}()

	if !s.warmed {
		return nil, nil
	}

	var side broker.Side
	switch {
	case s.prevRSI <= s.oversold && value > s.oversold:
		side = broker.SideBuy
	case s.prevRSI >= s.overbought && value < s.overbought:
		side = broker.SideSell
	default:
		return nil, nil
	}

	return &Signal{
		Symbol:     s.symbol,
		Side:       side,
		EntryPrice: tick.Last,
		Confidence: 0.5,
		Reason:     fmt.Sprintf("RSI%d reversal: %.1f -> %.1f", s.period, s.prevRSI, value),
		Time:       tick.Timestamp,
	}, nil
}
