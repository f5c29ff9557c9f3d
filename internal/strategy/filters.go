package strategy

import (
	"time"

	"signalist/internal/broker"
)

// TrendFilter requires the fast/slow MA relationship to match the signal side.
type TrendFilter struct {
	FastPeriod int `yaml:"fast"`
	SlowPeriod int `yaml:"slow"`
}

func (f *TrendFilter) lookback() int { return f.SlowPeriod }

func (f *TrendFilter) allows(side broker.Side, history []Candle) bool {
	prices := closes(history)
	fast := sma(prices, f.FastPeriod)
	slow := sma(prices, f.SlowPeriod)
	if side == broker.SideBuy {
		return fast >= slow
	}
	return fast <= slow
}

// MomentumFilter vetoes buying into overbought and selling into oversold.
type MomentumFilter struct {
	Period     int     `yaml:"period"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

func (f *MomentumFilter) lookback() int { return f.Period + 1 }

func (f *MomentumFilter) allows(side broker.Side, history []Candle) bool {
	value := rsi(closes(history), f.Period)
	if side == broker.SideBuy {
		return value < f.Overbought
	}
	return value > f.Oversold
}

// VolumeFilter requires current volume to be at least MinRatio of the recent
// average.
type VolumeFilter struct {
	Lookback int     `yaml:"lookback"`
	MinRatio float64 `yaml:"min_ratio"`
}

func (f *VolumeFilter) lookback() int { return f.Lookback + 1 }

func (f *VolumeFilter) allows(history []Candle) bool {
	avg := averageVolume(history, f.Lookback)
	if avg <= 0 {
		return true
	}
	current := history[len(history)-1].Volume
	return current >= avg*f.MinRatio
}

// DeviationFilter vetoes entries too far from the volume-weighted reference.
type DeviationFilter struct {
	Lookback   int     `yaml:"lookback"`
	MaxPercent float64 `yaml:"max_percent"`
}

func (f *DeviationFilter) lookback() int { return f.Lookback }

func (f *DeviationFilter) allows(price float64, history []Candle) bool {
	ref := vwap(history, f.Lookback)
	if ref <= 0 {
		return true
	}
	dev := (price - ref) / ref * 100
	if dev < 0 {
		dev = -dev
	}
	return dev <= f.MaxPercent
}

// StructureBias summarizes gap/sweep/break detection on the latest candle.
type StructureBias struct {
	Direction broker.Side // zero value means no bias detected
	Breaks    int         // confirmed structural breaks agreeing with Direction
}

// StructureFilter detects opening gaps, liquidity sweeps, and structural
// breaks. A detected bias that contradicts the signal side vetoes it; an
// agreeing bias raises confidence.
type StructureFilter struct {
	GapPercent    float64 `yaml:"gap_percent"`
	SweepLookback int     `yaml:"sweep_lookback"`
	BreakLookback int     `yaml:"break_lookback"`
}

func (f *StructureFilter) lookback() int {
	lb := f.SweepLookback
	if f.BreakLookback > lb {
		lb = f.BreakLookback
	}
	return lb + 2
}

func (f *StructureFilter) bias(history []Candle) StructureBias {
	last := history[len(history)-1]
	prev := history[len(history)-2]
	var out StructureBias

	// Opening gap beyond the threshold sets the initial bias.
	if prev.Close > 0 && f.GapPercent > 0 {
		gap := (last.Open - prev.Close) / prev.Close * 100
		if gap >= f.GapPercent {
			out.Direction = broker.SideBuy
		} else if gap <= -f.GapPercent {
			out.Direction = broker.SideSell
		}
	}

	// Liquidity sweep: wick through the prior extreme with a close back
	// inside means stops were taken and price rejected the level.
	if f.SweepLookback > 0 {
		priorLow := lowestLow(history, f.SweepLookback, 1)
		priorHigh := highestHigh(history, f.SweepLookback, 1)
		if priorLow > 0 && last.Low < priorLow && last.Close > priorLow {
			out.Direction = broker.SideBuy
		}
		if priorHigh > 0 && last.High > priorHigh && last.Close < priorHigh {
			out.Direction = broker.SideSell
		}
	}

	// Break of structure: a close beyond the prior swing extreme.
	if f.BreakLookback > 0 {
		priorHigh := highestHigh(history, f.BreakLookback, 1)
		priorLow := lowestLow(history, f.BreakLookback, 1)
		if priorHigh > 0 && last.Close > priorHigh {
			if out.Direction == "" || out.Direction == broker.SideBuy {
				out.Direction = broker.SideBuy
				out.Breaks++
			}
		}
		if priorLow > 0 && last.Close < priorLow {
			if out.Direction == "" || out.Direction == broker.SideSell {
				out.Direction = broker.SideSell
				out.Breaks++
			}
		}
	}

	return out
}

// VolatilityFilter requires realized volatility inside [MinPercent,
// MaxPercent]. Above PenaltyAbove the signal still passes but loses
// confidence.
type VolatilityFilter struct {
	Lookback     int     `yaml:"lookback"`
	MinPercent   float64 `yaml:"min_percent"`
	MaxPercent   float64 `yaml:"max_percent"`
	PenaltyAbove float64 `yaml:"penalty_above"`
}

func (f *VolatilityFilter) lookback() int { return f.Lookback + 1 }

func (f *VolatilityFilter) value(history []Candle) float64 {
	return realizedVolPercent(closes(history), f.Lookback)
}

func (f *VolatilityFilter) allows(vol float64) bool {
	if vol < f.MinPercent {
		return false
	}
	return f.MaxPercent <= 0 || vol <= f.MaxPercent
}

// SessionFilter vetoes trading outside the session window, during the daily
// rollover blackout, and within EventWindow of a high-impact event.
type SessionFilter struct {
	OpenHour  int `yaml:"open_hour"`  // inclusive, UTC
	CloseHour int `yaml:"close_hour"` // exclusive, UTC

	RolloverStartMin int `yaml:"rollover_start_min"` // minutes from midnight UTC
	RolloverEndMin   int `yaml:"rollover_end_min"`

	Events      []time.Time   `yaml:"-"`
	EventWindow time.Duration `yaml:"-"`
}

func (f *SessionFilter) allows(at time.Time) bool {
	at = at.UTC()

	if f.CloseHour > f.OpenHour {
		h := at.Hour()
		if h < f.OpenHour || h >= f.CloseHour {
			return false
		}
	}

	if f.RolloverEndMin > f.RolloverStartMin {
		minute := at.Hour()*60 + at.Minute()
		if minute >= f.RolloverStartMin && minute < f.RolloverEndMin {
			return false
		}
	}

	window := f.EventWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	for _, ev := range f.Events {
		diff := at.Sub(ev)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return false
		}
	}
	return true
}

// RangeFilter vetoes signals from a compressed, low-quality range.
type RangeFilter struct {
	Lookback   int     `yaml:"lookback"`
	MinPercent float64 `yaml:"min_percent"`
}

func (f *RangeFilter) lookback() int { return f.Lookback }

func (f *RangeFilter) allows(price float64, history []Candle) bool {
	high := highestHigh(history, f.Lookback, 0)
	low := lowestLow(history, f.Lookback, 0)
	if price <= 0 || high <= 0 {
		return true
	}
	return (high-low)/price*100 >= f.MinPercent
}
