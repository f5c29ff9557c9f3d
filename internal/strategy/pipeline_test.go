package strategy

import (
	"errors"
	"testing"
	"time"

	"signalist/internal/broker"
)

// fixedStrategy always proposes the same signal.
type fixedStrategy struct {
	side       broker.Side
	confidence float64
}

func (f *fixedStrategy) Name() string { return "fixed" }

func (f *fixedStrategy) Analyze(tick broker.MarketData, history []Candle) (*Signal, error) {
	return &Signal{
		Symbol:     tick.Symbol,
		Side:       f.side,
		EntryPrice: tick.Last,
		Confidence: f.confidence,
		Time:       tick.Timestamp,
	}, nil
}

func testTick(price float64, at time.Time) broker.MarketData {
	return broker.MarketData{
		Symbol:    "BTCUSD",
		Bid:       price - 0.5,
		Ask:       price + 0.5,
		Last:      price,
		Volume:    100,
		Timestamp: at,
	}
}

func trendingCandles(n int, start, step float64) []Candle {
	out := make([]Candle, n)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	price := start
	for i := range out {
		out[i] = Candle{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + step,
			Volume: 100,
		}
		price += step
	}
	return out
}

func TestPipelineTrendVeto(t *testing.T) {
	filters := Filters{Trend: &TrendFilter{FastPeriod: 5, SlowPeriod: 20}}
	history := trendingCandles(40, 100, 1) // rising: fast MA above slow MA

	buy := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	sig, err := buy.Analyze(testTick(140, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("BUY in an uptrend should pass the trend filter")
	}

	sell := NewPipeline(&fixedStrategy{side: broker.SideSell, confidence: 0.5}, filters)
	sig, err = sell.Analyze(testTick(140, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("SELL in an uptrend should be vetoed by the trend filter")
	}
}

func TestPipelineMomentumVeto(t *testing.T) {
	filters := Filters{Momentum: &MomentumFilter{Period: 5, Overbought: 70, Oversold: 30}}
	history := trendingCandles(20, 100, 1) // relentless gains: RSI == 100

	buy := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	sig, err := buy.Analyze(testTick(120, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("BUY with RSI in the overbought zone should be vetoed")
	}

	sell := NewPipeline(&fixedStrategy{side: broker.SideSell, confidence: 0.5}, filters)
	sig, err = sell.Analyze(testTick(120, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("SELL with RSI overbought should pass the momentum filter")
	}
}

func TestPipelineVolumeVeto(t *testing.T) {
	filters := Filters{Volume: &VolumeFilter{Lookback: 10, MinRatio: 0.5}}
	history := trendingCandles(20, 100, 0.1)
	history[len(history)-1].Volume = 10 // 10% of the 100 average

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	sig, err := p.Analyze(testTick(102, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("thin volume should veto the signal")
	}
}

func TestPipelineSessionWindow(t *testing.T) {
	filters := Filters{Session: &SessionFilter{OpenHour: 8, CloseHour: 17}}
	history := trendingCandles(5, 100, 0.1)

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)

	inside := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sig, err := p.Analyze(testTick(100, inside), history)
	if err != nil || sig == nil {
		t.Fatalf("signal inside the session window should pass (sig=%v err=%v)", sig, err)
	}

	outside := time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)
	sig, err = p.Analyze(testTick(100, outside), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("signal outside the session window should be vetoed")
	}
}

func TestPipelineEventBlackout(t *testing.T) {
	event := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	filters := Filters{Session: &SessionFilter{Events: []time.Time{event}}}
	history := trendingCandles(5, 100, 0.1)
	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)

	during := event.Add(20 * time.Minute)
	sig, err := p.Analyze(testTick(100, during), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("signal within 30 minutes of a high-impact event should be vetoed")
	}

	after := event.Add(45 * time.Minute)
	sig, err = p.Analyze(testTick(100, after), history)
	if err != nil || sig == nil {
		t.Fatalf("signal outside the event window should pass (sig=%v err=%v)", sig, err)
	}
}

func TestPipelineRangeVeto(t *testing.T) {
	filters := Filters{Range: &RangeFilter{Lookback: 10, MinPercent: 1.0}}
	history := flatCandles(20, 1000) // 2-point range on a 1000 price: 0.2%

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	sig, err := p.Analyze(testTick(1000, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("compressed range should veto the signal")
	}
}

func TestPipelineStructureBonusAndClamp(t *testing.T) {
	filters := Filters{Structure: &StructureFilter{BreakLookback: 10}}
	history := trendingCandles(20, 100, 0.1)
	history[len(history)-1].Close = 200 // decisive break of the prior highs

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.9}, filters)
	sig, err := p.Analyze(testTick(200, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("agreeing structural break should not veto")
	}
	if sig.Confidence != maxConfidence {
		t.Fatalf("Confidence=%v, expected clamp at %v", sig.Confidence, maxConfidence)
	}

	// Opposite side is contradicted by the bullish break.
	sell := NewPipeline(&fixedStrategy{side: broker.SideSell, confidence: 0.5}, filters)
	sig, err = sell.Analyze(testTick(200, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatal("contradicting structural bias should veto")
	}
}

func TestPipelineVolatilityPenalty(t *testing.T) {
	filters := Filters{Volatility: &VolatilityFilter{
		Lookback:     10,
		MinPercent:   0,
		MaxPercent:   0, // no upper veto
		PenaltyAbove: 0.01,
	}}
	history := trendingCandles(20, 100, 2) // choppy enough to exceed the penalty threshold

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	sig, err := p.Analyze(testTick(140, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("high volatility above the penalty threshold should pass with reduced confidence")
	}
	if !almostEqual(sig.Confidence, 0.4) {
		t.Fatalf("Confidence=%v, expected 0.4 after penalty", sig.Confidence)
	}
}

func TestPipelineShortHistory(t *testing.T) {
	filters := Filters{Trend: &TrendFilter{FastPeriod: 5, SlowPeriod: 50}}
	history := trendingCandles(10, 100, 1)

	p := NewPipeline(&fixedStrategy{side: broker.SideBuy, confidence: 0.5}, filters)
	_, err := p.Analyze(testTick(110, history[len(history)-1].Time), history)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("err=%v, expected ErrDataUnavailable", err)
	}
}

func TestMACrossEmitsOnCross(t *testing.T) {
	s := NewMACross("BTCUSD", 3, 6)

	// Falling history so the fast MA starts below the slow MA.
	history := trendingCandles(10, 120, -1)
	if _, err := s.Analyze(testTick(110, history[len(history)-1].Time), history); err != nil {
		t.Fatalf("warm-up error: %v", err)
	}

	// Sharp reversal pulls the fast MA above the slow MA.
	history = append(history, trendingCandles(5, 110, 5)...)
	sig, err := s.Analyze(testTick(135, history[len(history)-1].Time), history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.Side != broker.SideBuy {
		t.Fatalf("expected BUY on golden cross, got %+v", sig)
	}
}

func TestBreakoutMartingaleResetsOnWin(t *testing.T) {
	s := NewBreakout("BTCUSD", 20, 1.0, 2.0)

	if got := s.quantity(); !almostEqual(got, 1.0) {
		t.Fatalf("base quantity=%v, expected 1.0", got)
	}
	s.TradeClosed(false)
	s.TradeClosed(false)
	if got := s.quantity(); !almostEqual(got, 4.0) {
		t.Fatalf("quantity after 2 losses=%v, expected 4.0", got)
	}
	s.TradeClosed(true)
	if got := s.quantity(); !almostEqual(got, 1.0) {
		t.Fatalf("quantity after win=%v, expected reset to 1.0", got)
	}
}

func TestRegistry(t *testing.T) {
	s, err := New("ma_cross", "BTCUSD", Params{"fast": 5, "slow": 20})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.Name() != "ma_cross_5_20" {
		t.Fatalf("Name=%s", s.Name())
	}

	if _, err := New("nope", "BTCUSD", nil); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
