package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"signalist/internal/broker"
	"signalist/internal/paper"
	"signalist/internal/risk"
	"signalist/internal/strategy"
)

// Config parametrizes one simulation run.
type Config struct {
	Symbol          string
	StartingBalance float64
	RiskPercent     float64
	Limits          risk.Limits
	Class           broker.InstrumentClass
	MarginFraction  float64
	ATRPeriod       int
	Currency        string
}

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
	Equity  float64   `json:"equity"`
}

// DrawdownPoint is one sample on the drawdown curve. Drawdown is measured
// from the running peak equity and can only widen or recover, never go
// negative.
type DrawdownPoint struct {
	Time            time.Time `json:"time"`
	Drawdown        float64   `json:"drawdown"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}

// Result is the full output of one run.
type Result struct {
	Symbol          string                 `json:"symbol"`
	Strategy        string                 `json:"strategy"`
	StartingBalance float64                `json:"starting_balance"`
	FinalBalance    float64                `json:"final_balance"`
	Trades          []broker.TradeResult   `json:"trades"`
	Metrics         Metrics                `json:"metrics"`
	EquityCurve     []EquityPoint          `json:"equity_curve"`
	DrawdownCurve   []DrawdownPoint        `json:"drawdown_curve"`
	Rejections      map[risk.LimitCode]int `json:"rejections"`
}

// Run replays candles left to right through the signal, risk, and ledger
// path. Every invocation builds fresh local state, so concurrent runs never
// share anything.
func Run(cfg Config, strat strategy.Strategy, candles []strategy.Candle) (*Result, error) {
	if strat == nil {
		return nil, errors.New("backtest: nil strategy")
	}
	if len(candles) == 0 {
		return nil, errors.New("backtest: no candles")
	}
	if cfg.StartingBalance <= 0 {
		return nil, fmt.Errorf("backtest: starting balance %.2f", cfg.StartingBalance)
	}
	if cfg.Symbol == "" {
		return nil, errors.New("backtest: missing symbol")
	}
	if cfg.RiskPercent <= 0 {
		cfg.RiskPercent = cfg.Limits.MaxRiskPerTrade
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.Class == "" {
		cfg.Class = broker.ClassLinear
	}

	ordered := make([]strategy.Candle, len(candles))
	copy(ordered, candles)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	ledger := paper.NewLedger(cfg.StartingBalance, cfg.Currency, cfg.MarginFraction)
	idSeq := 0
	ledger.SetIDSource(func() string {
		idSeq++
		return fmt.Sprintf("pos-%06d", idSeq)
	})
	manager := risk.NewManager(cfg.Limits, cfg.StartingBalance)

	clock := ordered[0].Time
	manager.SetClock(func() time.Time { return clock })

	tracker, _ := strat.(strategy.LossTracker)

	var (
		trades     []broker.TradeResult
		rMultiples []float64
		riskPerPos = make(map[string]float64)
		peakEquity = cfg.StartingBalance
		maxDD      float64
		maxDDPct   float64
	)

	res := &Result{
		Symbol:          cfg.Symbol,
		Strategy:        strat.Name(),
		StartingBalance: cfg.StartingBalance,
		Rejections:      make(map[risk.LimitCode]int),
	}

	closeOut := func(pos broker.Position, exit float64, status broker.TradeStatus, at time.Time) error {
		trade, err := ledger.Close(pos.ID, exit, status, at)
		if err != nil {
			return err
		}
		trade.StrategyName = strat.Name()
		trades = append(trades, trade)
		manager.RecordTrade(trade)
		manager.Untrack(pos.ID)
		if riskAmt := riskPerPos[pos.ID]; riskAmt > 0 {
			rMultiples = append(rMultiples, trade.ProfitLoss/riskAmt)
		}
		delete(riskPerPos, pos.ID)
		if tracker != nil {
			tracker.TradeClosed(trade.ProfitLoss > 0)
		}
		return nil
	}

	for i := range ordered {
		candle := ordered[i]
		clock = candle.Time
		history := ordered[:i+1]

		ledger.MarkPrice(cfg.Symbol, candle.Close)
		atr := strategy.ATR(history, cfg.ATRPeriod)

		tick := broker.MarketData{
			Symbol:    cfg.Symbol,
			Bid:       candle.Close,
			Ask:       candle.Close,
			Last:      candle.Close,
			Volume:    candle.Volume,
			Timestamp: candle.Time,
		}

		sig, err := strat.Analyze(tick, history)
		if err != nil && !errors.Is(err, strategy.ErrDataUnavailable) {
			return nil, fmt.Errorf("backtest: analyze at %s: %w", candle.Time, err)
		}

		// Exit checks run before entries: stop-loss first, then take-profit,
		// then a strategy signal against the position.
		for _, pos := range sortedPositions(ledger.OpenPositions()) {
			if exit, status, hit := exitHit(pos, candle); hit {
				if err := closeOut(pos, exit, status, candle.Time); err != nil {
					return nil, err
				}
				continue
			}
			if sig != nil && sig.Side == pos.Side.Opposite() {
				if err := closeOut(pos, candle.Close, broker.TradeClosed, candle.Time); err != nil {
					return nil, err
				}
				// The opposite signal is consumed by the exit.
				sig = nil
				continue
			}
			if upd := manager.UpdatePositionRisk(pos.ID, candle.Close, atr); upd != nil {
				if err := ledger.SetStopLoss(pos.ID, upd.StopLoss); err != nil {
					return nil, err
				}
			}
		}

		bal := ledger.Balance()
		manager.ObserveEquity(bal.Equity)
		if bal.Equity > peakEquity {
			peakEquity = bal.Equity
		}
		dd := peakEquity - bal.Equity
		ddPct := 0.0
		if peakEquity > 0 {
			ddPct = dd / peakEquity * 100
		}
		if dd > maxDD {
			maxDD = dd
		}
		if ddPct > maxDDPct {
			maxDDPct = ddPct
		}
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Time: candle.Time, Balance: bal.Balance, Equity: bal.Equity})
		res.DrawdownCurve = append(res.DrawdownCurve, DrawdownPoint{Time: candle.Time, Drawdown: dd, DrawdownPercent: ddPct})

		if sig == nil {
			continue
		}

		open := ledger.OpenPositions()
		decision := manager.CanTrade(sig, bal.Equity, len(open))
		if !decision.Allowed {
			res.Rejections[decision.Limit]++
			continue
		}

		quantity := sig.Quantity
		if quantity <= 0 {
			quantity = manager.PositionSize(bal.Balance, cfg.RiskPercent, sig.EntryPrice, sig.StopLoss)
		}
		if quantity <= 0 {
			continue
		}

		entry := candle.Close
		pos, err := ledger.Open(cfg.Symbol, sig.Side, cfg.Class, quantity, entry, sig.StopLoss, sig.TakeProfit, candle.Time)
		if err != nil {
			if errors.Is(err, paper.ErrInsufficientMargin) {
				continue
			}
			return nil, fmt.Errorf("backtest: open at %s: %w", candle.Time, err)
		}
		manager.Track(pos.ID, entry, sig.Side, sig.StopLoss, sig.TakeProfit, atr)
		riskPerPos[pos.ID] = riskAmount(cfg.Class, sig.Side, entry, sig.StopLoss, quantity)
	}

	// Force-close whatever survives at the last price.
	last := ordered[len(ordered)-1]
	for _, pos := range sortedPositions(ledger.OpenPositions()) {
		if err := closeOut(pos, last.Close, broker.TradeClosed, last.Time); err != nil {
			return nil, err
		}
	}

	final := ledger.Balance()
	res.FinalBalance = final.Balance
	res.Trades = trades
	res.Metrics = computeMetrics(trades, rMultiples, cfg.StartingBalance, maxDD, maxDDPct)
	return res, nil
}

// exitHit checks the intrabar stop and target, stop first.
func exitHit(pos broker.Position, candle strategy.Candle) (float64, broker.TradeStatus, bool) {
	if pos.Side == broker.SideBuy {
		if pos.StopLoss > 0 && candle.Low <= pos.StopLoss {
			return pos.StopLoss, broker.TradeStopped, true
		}
		if pos.TakeProfit > 0 && candle.High >= pos.TakeProfit {
			return pos.TakeProfit, broker.TradeTakeProfit, true
		}
		return 0, "", false
	}
	if pos.StopLoss > 0 && candle.High >= pos.StopLoss {
		return pos.StopLoss, broker.TradeStopped, true
	}
	if pos.TakeProfit > 0 && candle.Low <= pos.TakeProfit {
		return pos.TakeProfit, broker.TradeTakeProfit, true
	}
	return 0, "", false
}

// sortedPositions orders by open time then id so replay order is stable.
func sortedPositions(positions []broker.Position) []broker.Position {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].ID < positions[j].ID
		}
		return positions[i].OpenedAt.Before(positions[j].OpenedAt)
	})
	return positions
}

// riskAmount is the loss realized if the stop is hit.
func riskAmount(class broker.InstrumentClass, side broker.Side, entry, stop, quantity float64) float64 {
	if stop <= 0 || entry <= 0 {
		return 0
	}
	if class == broker.ClassStake {
		return quantity * math.Abs(stop/entry-1)
	}
	return math.Abs(entry-stop) * quantity
}
