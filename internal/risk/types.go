package risk

// Limits defines the risk configuration for one account.
type Limits struct {
	MaxRiskPerTrade        float64 `yaml:"max_risk_per_trade"`       // % of balance risked per trade
	MaxDailyLossPercent    float64 `yaml:"max_daily_loss_percent"`   // % of day-start balance
	MaxDrawdownPercent     float64 `yaml:"max_drawdown_percent"`     // % below peak balance
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"` //
	MaxPositionSize        float64 `yaml:"max_position_size"`        // cap on computed quantity
	MaxDailyTrades         int     `yaml:"max_daily_trades"`
	DailyProfitTargetPct   float64 `yaml:"daily_profit_target_pct"` // stop entering after hitting it, 0 disables

	// Dynamic stop management
	UseBreakeven              bool    `yaml:"use_breakeven"`
	BreakevenTriggerRR        float64 `yaml:"breakeven_trigger_rr"`
	UseTrailingStop           bool    `yaml:"use_trailing_stop"`
	TrailingStopATRMultiplier float64 `yaml:"trailing_stop_atr_multiplier"`
	ATRStopMultiplier         float64 `yaml:"atr_stop_multiplier"`
}

// DefaultLimits returns a conservative starting configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxRiskPerTrade:           1.0,
		MaxDailyLossPercent:       5.0,
		MaxDrawdownPercent:        20.0,
		MaxConcurrentPositions:    3,
		MaxPositionSize:           0,
		MaxDailyTrades:            20,
		UseBreakeven:              true,
		BreakevenTriggerRR:        1.0,
		UseTrailingStop:           true,
		TrailingStopATRMultiplier: 1.5,
		ATRStopMultiplier:         2.0,
	}
}

// LimitCode identifies which limit blocked a trade.
type LimitCode string

const (
	LimitNone        LimitCode = ""
	LimitConcurrent  LimitCode = "MAX_CONCURRENT_POSITIONS"
	LimitDailyLoss   LimitCode = "DAILY_LOSS"
	LimitDailyTrades LimitCode = "DAILY_TRADES"
	LimitDrawdown    LimitCode = "MAX_DRAWDOWN"
	LimitDailyProfit LimitCode = "DAILY_PROFIT_TARGET"
)

// Decision is the tagged result of a risk check. Blocked trades are expected,
// frequent outcomes and are reported as results, never as errors.
type Decision struct {
	Allowed bool      `json:"allowed"`
	Limit   LimitCode `json:"limit,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func blocked(code LimitCode, reason string) Decision {
	return Decision{Allowed: false, Limit: code, Reason: reason}
}

// Metrics is a snapshot of the mutable risk counters.
type Metrics struct {
	DailyPnl          float64 `json:"daily_pnl"`
	DailyTrades       int     `json:"daily_trades"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	PeakBalance       float64 `json:"peak_balance"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// StopUpdate reports a stop-loss adjustment from dynamic stop management.
type StopUpdate struct {
	StopLoss float64 `json:"stop_loss"`
	Reason   string  `json:"reason"` // breakeven or trailing
}
