package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalist/internal/broker"
	"signalist/internal/events"
	"signalist/internal/execution"
	"signalist/internal/paper"
	"signalist/internal/risk"
	"signalist/internal/strategy"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoLiveBroker    = errors.New("no live broker configured")
)

// AdapterFactory builds a live adapter for one (user, broker) pair.
type AdapterFactory func(userID, brokerName string) (broker.Adapter, error)

// Config tunes the orchestrator and the defaults applied to new sessions.
type Config struct {
	Execution      execution.Config
	TickInterval   time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	DefaultBalance float64
	Currency       string
	MarginFraction float64
	ATRPeriod      int
	DefaultRiskPct float64
	Synthetic      broker.SyntheticConfig
	DefaultSeed    int64

	// Outbound pacing, shared by every session on one live adapter.
	PacerPerMinute  int
	PacerMinSpacing time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Execution:      execution.DefaultConfig(),
		TickInterval:   5 * time.Second,
		Retention:      time.Hour,
		SweepInterval:  5 * time.Minute,
		DefaultBalance: 10000,
		Currency:       "USD",
		MarginFraction: paper.DefaultMarginFraction,
		ATRPeriod:      14,
		DefaultRiskPct: 1.0,
		DefaultSeed:    1,

		PacerPerMinute:  600,
		PacerMinSpacing: 50 * time.Millisecond,
	}
}

// StartRequest describes a session to launch.
type StartRequest struct {
	UserID          string                 `json:"user_id"`
	Strategy        string                 `json:"strategy"`
	Broker          string                 `json:"broker"`
	Symbol          string                 `json:"symbol"`
	Params          strategy.Params        `json:"params"`
	Filters         strategy.Filters       `json:"filters"`
	Limits          *risk.Limits           `json:"limits"`
	PaperMode       bool                   `json:"paper_mode"`
	StartingBalance float64                `json:"starting_balance"`
	RiskPercent     float64                `json:"risk_percent"`
	TickInterval    time.Duration          `json:"tick_interval"`
	Class           broker.InstrumentClass `json:"class"`
	Seed            int64                  `json:"seed"`
}

// Orchestrator owns the session registry, the adapter cache, and the
// lifecycle of every tick loop.
type Orchestrator struct {
	cfg         Config
	registry    *Registry
	adapters    *AdapterCache
	bus         *events.Bus
	store       Store
	liveFactory AdapterFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an orchestrator. store and liveFactory may be nil; paper sessions
// work without either.
func New(cfg Config, bus *events.Bus, store Store, liveFactory AdapterFactory) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg,
		registry:    NewRegistry(),
		adapters:    NewAdapterCache(),
		bus:         bus,
		store:       store,
		liveFactory: liveFactory,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start creates a session and launches its tick loop. The loop lives on the
// orchestrator's own context so the caller's request context can expire
// without killing the session.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.UserID == "" || req.Symbol == "" || req.Strategy == "" {
		return nil, errors.New("user, symbol, and strategy are required")
	}

	base, err := strategy.New(req.Strategy, req.Symbol, req.Params)
	if err != nil {
		return nil, fmt.Errorf("build strategy: %w", err)
	}
	pipeline := strategy.NewPipeline(base, req.Filters)
	tracker, _ := base.(strategy.LossTracker)

	limits := risk.DefaultLimits()
	if req.Limits != nil {
		limits = *req.Limits
	}
	riskPct := req.RiskPercent
	if riskPct <= 0 {
		riskPct = o.cfg.DefaultRiskPct
	}
	tickInterval := req.TickInterval
	if tickInterval <= 0 {
		tickInterval = o.cfg.TickInterval
	}

	var (
		adapter broker.Adapter
		ledger  *paper.Ledger
	)
	if req.PaperMode {
		balance := req.StartingBalance
		if balance <= 0 {
			balance = o.cfg.DefaultBalance
		}
		seed := req.Seed
		if seed == 0 {
			seed = o.cfg.DefaultSeed
		}
		// An explicit starting balance means a fresh book; otherwise the
		// last persisted snapshot for this user carries over.
		if o.store != nil && req.StartingBalance <= 0 {
			snap, ok, err := o.store.LoadSnapshot(req.UserID, paperBrokerName)
			if err != nil {
				log.Printf("bot: snapshot load for %s: %v", req.UserID, err)
			} else if ok {
				ledger = paper.Restore(snap)
			}
		}
		if ledger == nil {
			ledger = paper.NewLedger(balance, o.cfg.Currency, o.cfg.MarginFraction)
		}
		source := broker.NewSyntheticSource(seed, o.cfg.Synthetic)
		adapter = paper.NewAdapter(ledger, source, req.Class)
	} else {
		if o.liveFactory == nil {
			return nil, ErrNoLiveBroker
		}
		adapter, err = o.adapters.GetOrCreate(req.UserID, req.Broker, func() (broker.Adapter, error) {
			inner, err := o.liveFactory(req.UserID, req.Broker)
			if err != nil {
				return nil, err
			}
			return broker.WithPacing(inner, broker.NewPacer(o.cfg.PacerPerMinute, o.cfg.PacerMinSpacing)), nil
		})
		if err != nil {
			return nil, fmt.Errorf("build adapter: %w", err)
		}
		if err := adapter.Authenticate(ctx); err != nil {
			o.adapters.Drop(req.UserID, req.Broker)
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	bal, err := adapter.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial balance: %w", err)
	}

	brokerName := req.Broker
	if req.PaperMode {
		brokerName = paperBrokerName
	}

	s := &Session{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		BrokerName:   brokerName,
		Symbol:       req.Symbol,
		StrategyName: pipeline.Name(),
		PaperMode:    req.PaperMode,
		CreatedAt:    time.Now(),
		state:        StateCreated,
		adapter:      adapter,
		strat:        pipeline,
		tracker:      tracker,
		manager:      risk.NewManager(limits, bal.Balance),
		executor:     execution.New(o.cfg.Execution),
		bus:          o.bus,
		store:        o.store,
		ledger:       ledger,
		riskPercent:  riskPct,
		atrPeriod:    o.cfg.ATRPeriod,
		tickInterval: tickInterval,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}

	// Positions carried over from a restored snapshot re-enter dynamic stop
	// management. ATR refreshes on the first tick.
	if ledger != nil {
		for _, pos := range ledger.OpenPositions() {
			s.manager.Track(pos.ID, pos.EntryPrice, pos.Side, pos.StopLoss, pos.TakeProfit, 0)
		}
	}

	o.registry.Add(s)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		s.run(o.ctx)
	}()
	return s, nil
}

// Stop requests a cooperative stop. The session finishes its in-flight tick
// before going down; use the session's Done channel to wait.
func (o *Orchestrator) Stop(userID, sessionID string) error {
	s, ok := o.registry.Get(userID, sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.RequestStop()
	return nil
}

// Get returns one session.
func (o *Orchestrator) Get(userID, sessionID string) (*Session, bool) {
	return o.registry.Get(userID, sessionID)
}

// Sessions returns all sessions for one user.
func (o *Orchestrator) Sessions(userID string) []*Session {
	return o.registry.ByUser(userID)
}

// RunGC sweeps stopped sessions past the retention window until ctx ends.
func (o *Orchestrator) RunGC(ctx context.Context) {
	interval := o.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if removed := o.registry.Sweep(time.Now().Add(-o.cfg.Retention)); removed > 0 {
				log.Printf("bot: swept %d stopped sessions", removed)
			}
		}
	}
}

// Shutdown stops every session and waits for the loops to drain.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.registry.All() {
		s.RequestStop()
	}
	o.cancel()
	o.wg.Wait()
}
