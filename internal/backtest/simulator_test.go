package backtest

import (
	"math"
	"testing"
	"time"

	"signalist/internal/broker"
	"signalist/internal/risk"
	"signalist/internal/strategy"
)

// scripted fires a predetermined signal on selected candles, indexed by call
// order.
type scripted struct {
	signals map[int]*strategy.Signal
	calls   int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Analyze(tick broker.MarketData, history []strategy.Candle) (*strategy.Signal, error) {
	sig := s.signals[s.calls]
	s.calls++
	return sig, nil
}

func candleSeries(closes ...float64) []strategy.Candle {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	out := make([]strategy.Candle, len(closes))
	for i, c := range closes {
		out[i] = strategy.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func testCfg() Config {
	return Config{
		Symbol:          "EURUSD",
		StartingBalance: 10000,
		RiskPercent:     1,
		Class:           broker.ClassLinear,
		MarginFraction:  0.1,
	}
}

func buySignal(entry, stop, tp, qty float64) *strategy.Signal {
	return &strategy.Signal{
		Symbol:     "EURUSD",
		Side:       broker.SideBuy,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: tp,
		Quantity:   qty,
		Confidence: 0.6,
	}
}

func TestRunStopLossExit(t *testing.T) {
	candles := candleSeries(100, 100, 100, 90, 90)
	strat := &scripted{signals: map[int]*strategy.Signal{1: buySignal(100, 95, 0, 1)}}

	res, err := Run(testCfg(), strat, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != broker.TradeStopped {
		t.Fatalf("status = %s, want STOPPED", trade.Status)
	}
	if trade.ExitPrice != 95 {
		t.Fatalf("exit = %v, want 95 (the stop)", trade.ExitPrice)
	}
	if !almost(trade.ProfitLoss, -5) {
		t.Fatalf("pnl = %v, want -5", trade.ProfitLoss)
	}
	if !almost(res.FinalBalance, 9995) {
		t.Fatalf("final balance = %v, want 9995", res.FinalBalance)
	}
}

func TestRunTakeProfitExit(t *testing.T) {
	candles := candleSeries(100, 100, 102, 106, 106)
	strat := &scripted{signals: map[int]*strategy.Signal{1: buySignal(100, 0, 105, 2)}}

	res, err := Run(testCfg(), strat, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != broker.TradeTakeProfit {
		t.Fatalf("status = %s, want TAKE_PROFIT", trade.Status)
	}
	if !almost(trade.ProfitLoss, 10) {
		t.Fatalf("pnl = %v, want 10", trade.ProfitLoss)
	}
}

func TestRunForceCloseAtEnd(t *testing.T) {
	candles := candleSeries(100, 100, 101, 102)
	strat := &scripted{signals: map[int]*strategy.Signal{1: buySignal(100, 0, 0, 1)}}

	res, err := Run(testCfg(), strat, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != broker.TradeClosed {
		t.Fatalf("status = %s, want CLOSED", trade.Status)
	}
	if trade.ExitPrice != 102 {
		t.Fatalf("exit = %v, want last close 102", trade.ExitPrice)
	}
	if !almost(trade.ProfitLoss, 2) {
		t.Fatalf("pnl = %v, want 2", trade.ProfitLoss)
	}
}

func TestRunDeterministic(t *testing.T) {
	candles := candleSeries(100, 100, 103, 101, 104, 99, 98, 102, 105, 100)
	signals := func() map[int]*strategy.Signal {
		return map[int]*strategy.Signal{
			1: buySignal(100, 97, 0, 2),
			5: {Symbol: "EURUSD", Side: broker.SideSell, EntryPrice: 99, StopLoss: 104, Quantity: 1, Confidence: 0.6},
		}
	}

	first, err := Run(testCfg(), &scripted{signals: signals()}, candles)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(testCfg(), &scripted{signals: signals()}, candles)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(first.Trades), len(second.Trades))
	}
	for i := range first.Trades {
		if first.Trades[i].TradeID != second.Trades[i].TradeID {
			t.Fatalf("trade %d id differs: %q vs %q", i, first.Trades[i].TradeID, second.Trades[i].TradeID)
		}
		if first.Trades[i] != second.Trades[i] {
			t.Fatalf("trade %d differs: %+v vs %+v", i, first.Trades[i], second.Trades[i])
		}
	}
	if first.FinalBalance != second.FinalBalance {
		t.Fatalf("final balances differ: %v vs %v", first.FinalBalance, second.FinalBalance)
	}
	if first.Metrics.NetProfit != second.Metrics.NetProfit {
		t.Fatalf("net profit differs: %v vs %v", first.Metrics.NetProfit, second.Metrics.NetProfit)
	}
	for i := range first.EquityCurve {
		if first.EquityCurve[i].Equity != second.EquityCurve[i].Equity {
			t.Fatalf("equity curve differs at %d", i)
		}
	}
}

func TestRunDrawdownNeverNegative(t *testing.T) {
	candles := candleSeries(100, 100, 105, 95, 100, 110, 90, 100)
	strat := &scripted{signals: map[int]*strategy.Signal{1: buySignal(100, 0, 0, 5)}}

	res, err := Run(testCfg(), strat, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, p := range res.DrawdownCurve {
		if p.Drawdown < 0 {
			t.Fatalf("drawdown[%d] = %v, negative", i, p.Drawdown)
		}
	}
	// Peak equity 10050 at close 110, trough 9950 at close 90.
	if !almost(res.Metrics.MaxDrawdown, 100) {
		t.Fatalf("max drawdown = %v, want 100", res.Metrics.MaxDrawdown)
	}
}

func TestRunConcurrentLimitRejections(t *testing.T) {
	candles := candleSeries(100, 100, 100, 100, 100, 100)
	signals := make(map[int]*strategy.Signal)
	for i := 1; i < 6; i++ {
		signals[i] = buySignal(100, 0, 0, 1)
	}
	cfg := testCfg()
	cfg.Limits.MaxConcurrentPositions = 1

	res, err := Run(cfg, &scripted{signals: signals}, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rejections[risk.LimitConcurrent] == 0 {
		t.Fatal("expected concurrent-limit rejections to be counted")
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1 (force close of the single position)", len(res.Trades))
	}
}

func TestRunOppositeSignalClosesPosition(t *testing.T) {
	candles := candleSeries(100, 100, 104, 104)
	signals := map[int]*strategy.Signal{
		1: buySignal(100, 0, 0, 1),
		2: {Symbol: "EURUSD", Side: broker.SideSell, EntryPrice: 104, Quantity: 1, Confidence: 0.6},
	}

	res, err := Run(testCfg(), &scripted{signals: signals}, candles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	trade := res.Trades[0]
	if trade.Status != broker.TradeClosed {
		t.Fatalf("status = %s, want CLOSED", trade.Status)
	}
	if !almost(trade.ProfitLoss, 4) {
		t.Fatalf("pnl = %v, want 4", trade.ProfitLoss)
	}
}

func TestRunValidation(t *testing.T) {
	if _, err := Run(testCfg(), nil, candleSeries(100)); err == nil {
		t.Fatal("expected error for nil strategy")
	}
	if _, err := Run(testCfg(), &scripted{}, nil); err == nil {
		t.Fatal("expected error for empty candles")
	}
	cfg := testCfg()
	cfg.StartingBalance = 0
	if _, err := Run(cfg, &scripted{}, candleSeries(100)); err == nil {
		t.Fatal("expected error for zero balance")
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
