package strategy

import (
	"fmt"

	"signalist/internal/broker"
)

// Confidence bounds and adjustments applied by the pipeline.
const (
	minConfidence = 0.10
	maxConfidence = 0.95

	structureBiasBonus  = 0.10
	structureBreakBonus = 0.05
	highVolPenalty      = 0.10
)

// Filters is the optional confirmation stack. A nil entry disables that
// filter.
type Filters struct {
	Trend      *TrendFilter      `yaml:"trend,omitempty"`
	Momentum   *MomentumFilter   `yaml:"momentum,omitempty"`
	Volume     *VolumeFilter     `yaml:"volume,omitempty"`
	Deviation  *DeviationFilter  `yaml:"deviation,omitempty"`
	Structure  *StructureFilter  `yaml:"structure,omitempty"`
	Volatility *VolatilityFilter `yaml:"volatility,omitempty"`
	Session    *SessionFilter    `yaml:"session,omitempty"`
	Range      *RangeFilter      `yaml:"range,omitempty"`
}

// Lookback returns the longest history any enabled filter needs.
func (f Filters) Lookback() int {
	max := 0
	grow := func(n int) {
		if n > max {
			max = n
		}
	}
	if f.Trend != nil {
		grow(f.Trend.lookback())
	}
	if f.Momentum != nil {
		grow(f.Momentum.lookback())
	}
	if f.Volume != nil {
		grow(f.Volume.lookback())
	}
	if f.Deviation != nil {
		grow(f.Deviation.lookback())
	}
	if f.Structure != nil {
		grow(f.Structure.lookback())
	}
	if f.Volatility != nil {
		grow(f.Volatility.lookback())
	}
	if f.Range != nil {
		grow(f.Range.lookback())
	}
	return max
}

// Pipeline gates a base generator behind the enabled filters and annotates
// the surviving signal's confidence. Stateless across calls apart from the
// base strategy's own private counters.
type Pipeline struct {
	base    Strategy
	filters Filters
}

// NewPipeline wraps base with a confirmation stack.
func NewPipeline(base Strategy, filters Filters) *Pipeline {
	return &Pipeline{base: base, filters: filters}
}

func (p *Pipeline) Name() string { return p.base.Name() }

// Base exposes the wrapped generator (for loss-tracking feedback).
func (p *Pipeline) Base() Strategy { return p.base }

// Analyze runs the base generator, then requires every enabled filter to
// agree. Vetoed signals return (nil, nil).
func (p *Pipeline) Analyze(tick broker.MarketData, history []Candle) (*Signal, error) {
	sig, err := p.base.Analyze(tick, history)
	if err != nil || sig == nil {
		return nil, err
	}

	if lb := p.filters.Lookback(); len(history) < lb {
		return nil, fmt.Errorf("%w: filters need %d candles, have %d", ErrDataUnavailable, lb, len(history))
	}

	f := p.filters
	if f.Session != nil && !f.Session.allows(sig.Time) {
		return nil, nil
	}
	if f.Trend != nil && !f.Trend.allows(sig.Side, history) {
		return nil, nil
	}
	if f.Momentum != nil && !f.Momentum.allows(sig.Side, history) {
		return nil, nil
	}
	if f.Volume != nil && !f.Volume.allows(history) {
		return nil, nil
	}
	if f.Deviation != nil && !f.Deviation.allows(sig.EntryPrice, history) {
		return nil, nil
	}
	if f.Range != nil && !f.Range.allows(sig.EntryPrice, history) {
		return nil, nil
	}

	confidence := sig.Confidence

	if f.Structure != nil {
		bias := f.Structure.bias(history)
		if bias.Direction != "" {
			if bias.Direction != sig.Side {
				return nil, nil
			}
			confidence += structureBiasBonus
			confidence += structureBreakBonus * float64(bias.Breaks)
		}
	}

	if f.Volatility != nil {
		vol := f.Volatility.value(history)
		if !f.Volatility.allows(vol) {
			return nil, nil
		}
		if f.Volatility.PenaltyAbove > 0 && vol > f.Volatility.PenaltyAbove {
			confidence -= highVolPenalty
		}
	}

	if confidence < minConfidence {
		confidence = minConfidence
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	out := *sig
	out.Confidence = confidence
	return &out, nil
}
