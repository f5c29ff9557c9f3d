package strategy

import "fmt"

// Params carries per-strategy numeric parameters from config presets.
type Params map[string]float64

func (p Params) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Factory builds a strategy variant for a symbol.
type Factory func(symbol string, params Params) Strategy

var registry = map[string]Factory{
	"ma_cross": func(symbol string, p Params) Strategy {
		return NewMACross(symbol, int(p.get("fast", 10)), int(p.get("slow", 30)))
	},
	"rsi_reversal": func(symbol string, p Params) Strategy {
		return NewRSIReversal(symbol, int(p.get("period", 14)), p.get("oversold", 30), p.get("overbought", 70))
	},
	"breakout": func(symbol string, p Params) Strategy {
		return NewBreakout(symbol, int(p.get("lookback", 20)), p.get("qty", 0), p.get("scaling", 0))
	},
}

// New builds a registered strategy by name.
func New(name, symbol string, params Params) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(symbol, params), nil
}

// Names lists the registered strategy names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
