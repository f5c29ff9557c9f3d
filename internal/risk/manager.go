package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"signalist/internal/broker"
	"signalist/internal/strategy"
)

// Manager owns position sizing, trade gates, dynamic stop management, and
// trade bookkeeping for one account. It tracks stops in a side table keyed by
// position id and never duplicates ownership of the financial state.
type Manager struct {
	mu     sync.RWMutex
	limits Limits

	dailyPnl          float64
	dailyTrades       int
	day               string
	dayStartBalance   float64
	peakBalance       float64
	maxDrawdown       float64
	consecutiveLosses int

	tracked map[string]*trackedPosition

	now func() time.Time
}

type trackedPosition struct {
	entry          float64
	side           broker.Side
	stopLoss       float64
	takeProfit     float64
	atr            float64
	breakevenMoved bool
}

// NewManager creates a risk manager; startingBalance seeds the daily-loss and
// peak-balance bookkeeping.
func NewManager(limits Limits, startingBalance float64) *Manager {
	m := &Manager{
		limits:  limits,
		tracked: make(map[string]*trackedPosition),
		now:     time.Now,
	}
	m.day = m.now().UTC().Format("2006-01-02")
	m.dayStartBalance = startingBalance
	m.peakBalance = startingBalance
	return m
}

// SetClock overrides the time source used for daily rollover. Backtests set
// this to candle time so daily limits follow historical days.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.day = now().UTC().Format("2006-01-02")
}

// rolloverLocked resets daily counters on a calendar-day change.
// Caller must hold the write lock.
func (m *Manager) rolloverLocked(equity float64) {
	today := m.now().UTC().Format("2006-01-02")
	if today == m.day {
		return
	}
	m.day = today
	m.dailyPnl = 0
	m.dailyTrades = 0
	m.dayStartBalance = equity
}

// CanTrade evaluates a candidate signal against the configured limits. A
// breached daily-loss or drawdown limit blocks new entries only; existing
// positions keep running with their own stops.
func (m *Manager) CanTrade(sig *strategy.Signal, balance float64, openPositions int) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(balance)

	if m.limits.MaxConcurrentPositions > 0 && openPositions >= m.limits.MaxConcurrentPositions {
		return blocked(LimitConcurrent,
			fmt.Sprintf("max concurrent positions reached: %d/%d", openPositions, m.limits.MaxConcurrentPositions))
	}

	if m.limits.MaxDailyTrades > 0 && m.dailyTrades >= m.limits.MaxDailyTrades {
		return blocked(LimitDailyTrades,
			fmt.Sprintf("daily trade limit reached: %d/%d", m.dailyTrades, m.limits.MaxDailyTrades))
	}

	if m.limits.MaxDailyLossPercent > 0 && m.dayStartBalance > 0 {
		lossCap := m.dayStartBalance * m.limits.MaxDailyLossPercent / 100
		if m.dailyPnl <= -lossCap {
			return blocked(LimitDailyLoss,
				fmt.Sprintf("daily loss limit breached: %.2f <= -%.2f", m.dailyPnl, lossCap))
		}
	}

	if m.limits.DailyProfitTargetPct > 0 && m.dayStartBalance > 0 {
		target := m.dayStartBalance * m.limits.DailyProfitTargetPct / 100
		if m.dailyPnl >= target {
			return blocked(LimitDailyProfit,
				fmt.Sprintf("daily profit target hit: %.2f >= %.2f", m.dailyPnl, target))
		}
	}

	if m.limits.MaxDrawdownPercent > 0 && m.peakBalance > 0 {
		drawdownPct := (m.peakBalance - balance) / m.peakBalance * 100
		if drawdownPct >= m.limits.MaxDrawdownPercent {
			return blocked(LimitDrawdown,
				fmt.Sprintf("drawdown limit breached: %.2f%% >= %.2f%%", drawdownPct, m.limits.MaxDrawdownPercent))
		}
	}

	return Decision{Allowed: true}
}

// PositionSize computes the maximum quantity for a trade risking riskPercent
// of balance. Without a usable stop the notional defaults to 1% of balance.
func (m *Manager) PositionSize(balance, riskPercent, entryPrice, stopLoss float64) float64 {
	if entryPrice <= 0 || balance <= 0 {
		return 0
	}

	var size float64
	if stopLoss <= 0 || stopLoss == entryPrice {
		size = balance * 0.01 / entryPrice
	} else {
		riskAmount := balance * riskPercent / 100
		size = riskAmount / math.Abs(entryPrice-stopLoss)
	}

	m.mu.RLock()
	maxSize := m.limits.MaxPositionSize
	m.mu.RUnlock()
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return size
}

// Track adds a position to the dynamic-stop side table.
func (m *Manager) Track(positionID string, entry float64, side broker.Side, stopLoss, takeProfit, atr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[positionID] = &trackedPosition{
		entry:      entry,
		side:       side,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
		atr:        atr,
	}
}

// Untrack removes a position from the side table.
func (m *Manager) Untrack(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, positionID)
}

// UpdatePositionRisk applies breakeven and trailing-stop logic for a tracked
// position at the given price. Breakeven fires at most once; a trailing stop
// only ever tightens in the position's favor. Returns nil when the stop is
// unchanged.
func (m *Manager) UpdatePositionRisk(positionID string, currentPrice, atr float64) *StopUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.tracked[positionID]
	if !ok {
		return nil
	}
	if atr > 0 {
		pos.atr = atr
	}

	// Breakeven: move the stop to entry once unrealized reward:risk crosses
	// the trigger.
	if m.limits.UseBreakeven && !pos.breakevenMoved && pos.stopLoss > 0 && m.limits.BreakevenTriggerRR > 0 {
		risk := math.Abs(pos.entry - pos.stopLoss)
		if risk > 0 {
			var reward float64
			if pos.side == broker.SideBuy {
				reward = currentPrice - pos.entry
			} else {
				reward = pos.entry - currentPrice
			}
			if reward/risk >= m.limits.BreakevenTriggerRR {
				pos.breakevenMoved = true
				pos.stopLoss = pos.entry
				return &StopUpdate{StopLoss: pos.entry, Reason: "breakeven"}
			}
		}
	}

	// Trailing: follow price at a fixed ATR distance, tightening only.
	if m.limits.UseTrailingStop && pos.atr > 0 && m.limits.TrailingStopATRMultiplier > 0 {
		offset := pos.atr * m.limits.TrailingStopATRMultiplier
		if pos.side == broker.SideBuy {
			candidate := currentPrice - offset
			if candidate > pos.stopLoss && candidate > pos.entry {
				pos.stopLoss = candidate
				return &StopUpdate{StopLoss: candidate, Reason: "trailing"}
			}
		} else {
			candidate := currentPrice + offset
			if (pos.stopLoss == 0 || candidate < pos.stopLoss) && candidate < pos.entry {
				pos.stopLoss = candidate
				return &StopUpdate{StopLoss: candidate, Reason: "trailing"}
			}
		}
	}

	return nil
}

// TrackedStop returns the current stop for a tracked position.
func (m *Manager) TrackedStop(positionID string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.tracked[positionID]
	if !ok {
		return 0, false
	}
	return pos.stopLoss, true
}

// RecordTrade folds a closed trade into the daily and cumulative counters.
func (m *Manager) RecordTrade(trade broker.TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(m.peakBalance)

	m.dailyPnl += trade.ProfitLoss
	m.dailyTrades++
	if trade.ProfitLoss < 0 {
		m.consecutiveLosses++
	} else if trade.ProfitLoss > 0 {
		m.consecutiveLosses = 0
	}
}

// ObserveEquity updates peak balance and drawdown bookkeeping. Peak balance
// only ever increases; max drawdown only ever widens.
func (m *Manager) ObserveEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity > m.peakBalance {
		m.peakBalance = equity
	}
	drawdown := m.peakBalance - equity
	if drawdown > m.maxDrawdown {
		m.maxDrawdown = drawdown
	}
}

// GetRiskMetrics returns a snapshot of the mutable counters.
func (m *Manager) GetRiskMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		DailyPnl:          m.dailyPnl,
		DailyTrades:       m.dailyTrades,
		MaxDrawdown:       m.maxDrawdown,
		PeakBalance:       m.peakBalance,
		ConsecutiveLosses: m.consecutiveLosses,
	}
}

// Limits returns a copy of the configured limits.
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}
