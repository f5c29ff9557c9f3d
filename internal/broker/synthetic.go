package broker

import (
	"math/rand"
	"sync"
	"time"
)

// SyntheticSource generates deterministic random-walk quotes for paper
// sessions and tests. The same seed always produces the same tick sequence.
type SyntheticSource struct {
	mu        sync.Mutex
	rng       *rand.Rand
	prices    map[string]float64
	start     float64
	step      float64
	spreadPct float64
	volume    float64
	now       func() time.Time
}

// SyntheticConfig tunes the generated walk.
type SyntheticConfig struct {
	StartPrice    float64 // first quote for every symbol
	Step          float64 // max absolute move per tick
	SpreadPercent float64 // bid/ask spread around the last price
	Volume        float64 // reported per-tick volume
}

// NewSyntheticSource creates a seeded quote source.
func NewSyntheticSource(seed int64, cfg SyntheticConfig) *SyntheticSource {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100.0
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.5
	}
	if cfg.SpreadPercent <= 0 {
		cfg.SpreadPercent = 0.02
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 1000
	}
	return &SyntheticSource{
		rng:       rand.New(rand.NewSource(seed)),
		prices:    make(map[string]float64),
		start:     cfg.StartPrice,
		step:      cfg.Step,
		spreadPct: cfg.SpreadPercent,
		volume:    cfg.Volume,
		now:       time.Now,
	}
}

// Next advances the walk for symbol and returns the new quote.
func (s *SyntheticSource) Next(symbol string) MarketData {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = s.start
	}
	price += (s.rng.Float64()*2 - 1) * s.step
	if price < s.step {
		price = s.step // never walk through zero
	}
	s.prices[symbol] = price

	half := price * s.spreadPct / 100 / 2
	return MarketData{
		Symbol:    symbol,
		Bid:       price - half,
		Ask:       price + half,
		Last:      price,
		Volume:    s.volume * (0.5 + s.rng.Float64()),
		Timestamp: s.now(),
	}
}

// Peek returns the current quote without advancing the walk.
func (s *SyntheticSource) Peek(symbol string) MarketData {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = s.start
	}
	half := price * s.spreadPct / 100 / 2
	return MarketData{
		Symbol:    symbol,
		Bid:       price - half,
		Ask:       price + half,
		Last:      price,
		Volume:    s.volume,
		Timestamp: s.now(),
	}
}
