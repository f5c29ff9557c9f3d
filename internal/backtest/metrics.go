package backtest

import (
	"fmt"
	"math"

	"signalist/internal/broker"
)

// Metrics is the derived performance report for one simulation run.
type Metrics struct {
	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`

	WinRate      float64 `json:"win_rate"` // percent
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"` // negative or zero
	NetProfit    float64 `json:"net_profit"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"` // positive magnitude
	Expectancy   float64 `json:"expectancy"`

	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	Calmar         float64 `json:"calmar"`
	RecoveryFactor float64 `json:"recovery_factor"`

	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	MonthlyPnl    map[string]float64 `json:"monthly_pnl"`
	WeeklyPnl     map[string]float64 `json:"weekly_pnl"`
	HourlyPnl     map[int]float64    `json:"hourly_pnl"`
	WeekdayPnl    map[string]float64 `json:"weekday_pnl"`
	RiskRewardHst map[string]int     `json:"risk_reward_histogram"`
}

// computeMetrics folds the closed-trade list into a Metrics report.
// rMultiples carries the realized R multiple per trade, aligned with trades.
func computeMetrics(trades []broker.TradeResult, rMultiples []float64, startingBalance, maxDrawdown, maxDrawdownPct float64) Metrics {
	m := Metrics{
		TotalTrades:        len(trades),
		MaxDrawdown:        maxDrawdown,
		MaxDrawdownPercent: maxDrawdownPct,
		MonthlyPnl:         make(map[string]float64),
		WeeklyPnl:          make(map[string]float64),
		HourlyPnl:          make(map[int]float64),
		WeekdayPnl:         make(map[string]float64),
		RiskRewardHst:      make(map[string]int),
	}

	var (
		returns   []float64
		winStreak int
		losStreak int
	)

	for _, trade := range trades {
		m.NetProfit += trade.ProfitLoss
		returns = append(returns, trade.ProfitLossPercent/100)

		if trade.ProfitLoss > 0 {
			m.Wins++
			m.GrossProfit += trade.ProfitLoss
			winStreak++
			losStreak = 0
			if winStreak > m.MaxConsecutiveWins {
				m.MaxConsecutiveWins = winStreak
			}
		} else if trade.ProfitLoss < 0 {
			m.Losses++
			m.GrossLoss += trade.ProfitLoss
			losStreak++
			winStreak = 0
			if losStreak > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = losStreak
			}
		} else {
			winStreak = 0
			losStreak = 0
		}

		closed := trade.ClosedAt.UTC()
		m.MonthlyPnl[closed.Format("2006-01")] += trade.ProfitLoss
		year, week := closed.ISOWeek()
		m.WeeklyPnl[fmt.Sprintf("%d-W%02d", year, week)] += trade.ProfitLoss
		m.HourlyPnl[closed.Hour()] += trade.ProfitLoss
		m.WeekdayPnl[closed.Weekday().String()] += trade.ProfitLoss
	}

	for _, r := range rMultiples {
		m.RiskRewardHst[rBucket(r)]++
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades) * 100
	}
	if m.Wins > 0 {
		m.AvgWin = m.GrossProfit / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = -m.GrossLoss / float64(m.Losses)
	}

	switch {
	case m.GrossLoss < 0:
		m.ProfitFactor = m.GrossProfit / -m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	if m.TotalTrades > 0 {
		winRate := float64(m.Wins) / float64(m.TotalTrades)
		lossRate := float64(m.Losses) / float64(m.TotalTrades)
		m.Expectancy = winRate*m.AvgWin - lossRate*m.AvgLoss
	}

	m.Sharpe = sharpe(returns)
	m.Sortino = sortino(returns)
	if m.MaxDrawdownPercent > 0 && startingBalance > 0 {
		netReturnPct := m.NetProfit / startingBalance * 100
		m.Calmar = netReturnPct / m.MaxDrawdownPercent
	}
	if maxDrawdown > 0 {
		m.RecoveryFactor = m.NetProfit / maxDrawdown
	}

	return m
}

// rBucket maps a realized R multiple onto a histogram bucket label.
func rBucket(r float64) string {
	switch {
	case r < -2:
		return "<-2R"
	case r < -1:
		return "-2R..-1R"
	case r < 0:
		return "-1R..0R"
	case r < 1:
		return "0R..1R"
	case r < 2:
		return "1R..2R"
	case r < 3:
		return "2R..3R"
	default:
		return ">=3R"
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mu := mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mu
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(len(returns)))
	if sd == 0 {
		return 0
	}
	return mu / sd
}

func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mu := mean(returns)
	downside := 0.0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return mu / dd
}
