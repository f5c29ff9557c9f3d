package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signalist/internal/broker"
	"signalist/internal/events"
	"signalist/internal/execution"
	"signalist/internal/paper"
	"signalist/internal/risk"
	"signalist/internal/strategy"
	"signalist/pkg/db"
)

// State is the session lifecycle phase.
type State string

const (
	StateCreated  State = "CREATED"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// Store persists closed trades and paper-ledger snapshots. Nil stores are
// skipped.
type Store interface {
	SaveTrade(userID, sessionID string, trade broker.TradeResult) error
	SaveSession(rec db.SessionRecord) error
	SaveSnapshot(userID, brokerName string, snap paper.Snapshot) error
	LoadSnapshot(userID, brokerName string) (paper.Snapshot, bool, error)
}

// paperBrokerName keys paper-ledger snapshots in the store.
const paperBrokerName = "paper"

// stopSetter is implemented by adapters that can rewrite a position's stop.
type stopSetter interface {
	SetStopLoss(positionID string, stopLoss float64) error
}

// statusCloser is implemented by adapters whose close path records the close
// reason and returns the authoritative trade record.
type statusCloser interface {
	CloseWithStatus(ctx context.Context, positionID string, status broker.TradeStatus) (broker.TradeResult, error)
}

// unwrapAdapter digs through pacing wrappers so optional capabilities on the
// underlying adapter stay visible.
func unwrapAdapter(a broker.Adapter) broker.Adapter {
	type unwrapper interface{ Unwrap() broker.Adapter }
	for {
		u, ok := a.(unwrapper)
		if !ok {
			return a
		}
		a = u.Unwrap()
	}
}

const defaultMaxHistory = 500

// Session is one running (user, bot) loop. All writes to its ledger and
// position set happen from the single loop goroutine.
type Session struct {
	ID           string
	UserID       string
	BrokerName   string
	Symbol       string
	StrategyName string
	PaperMode    bool
	CreatedAt    time.Time

	mu         sync.RWMutex
	state      State
	stoppedAt  time.Time
	degraded   bool
	lastEquity float64

	adapter  broker.Adapter
	strat    strategy.Strategy
	tracker  strategy.LossTracker
	manager  *risk.Manager
	executor *execution.Executor
	bus      *events.Bus
	store    Store
	ledger   *paper.Ledger // non-nil in paper mode

	riskPercent  float64
	atrPeriod    int
	tickInterval time.Duration
	history      []strategy.Candle

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Info summarizes a session for API responses.
type Info struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Broker    string    `json:"broker,omitempty"`
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Paper     bool      `json:"paper"`
	State     State     `json:"state"`
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"created_at"`
}

// Info returns a point-in-time summary.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.ID,
		UserID:    s.UserID,
		Broker:    s.BrokerName,
		Symbol:    s.Symbol,
		Strategy:  s.StrategyName,
		Paper:     s.PaperMode,
		State:     s.state,
		Degraded:  s.degraded,
		CreatedAt: s.CreatedAt,
	}
}

// Balance reports the account snapshot through the session's adapter.
func (s *Session) Balance(ctx context.Context) (broker.AccountBalance, error) {
	return s.adapter.GetBalance(ctx)
}

// Positions lists the session's open positions.
func (s *Session) Positions(ctx context.Context) ([]broker.Position, error) {
	return s.adapter.GetOpenPositions(ctx)
}

// RiskMetrics exposes the session's risk counters.
func (s *Session) RiskMetrics() risk.Metrics {
	return s.manager.GetRiskMetrics()
}

// Trades returns the closed trades of a paper session; nil for live sessions
// where history lives with the broker or the store.
func (s *Session) Trades() []broker.TradeResult {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Trades()
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Degraded reports whether the last tick failed to reach the broker.
func (s *Session) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state == StateStopped {
		s.stoppedAt = time.Now()
	}
}

func (s *Session) stoppedSince() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateStopped, s.stoppedAt
}

// saveRecord upserts the session row so state transitions survive restarts.
func (s *Session) saveRecord() {
	if s.store == nil {
		return
	}
	rec := db.SessionRecord{
		ID:        s.ID,
		UserID:    s.UserID,
		Strategy:  s.StrategyName,
		Symbol:    s.Symbol,
		Broker:    s.BrokerName,
		Paper:     s.PaperMode,
		State:     string(s.State()),
		CreatedAt: s.CreatedAt,
	}
	if stopped, at := s.stoppedSince(); stopped {
		rec.StoppedAt = &at
	}
	if err := s.store.SaveSession(rec); err != nil {
		log.Printf("bot: session %s save record: %v", s.ID, err)
	}
}

// RequestStop flips the session to STOPPING. The loop observes the flag at
// the top of its next tick; an in-flight order confirmation is allowed to
// finish.
func (s *Session) RequestStop() {
	s.stopOnce.Do(func() {
		s.setState(StateStopping)
		close(s.stopCh)
	})
}

// Done is closed once the loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.finish()

	s.setState(StateRunning)
	s.saveRecord()
	s.logEvent("session started")

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		// Stop is observed only here, never mid-tick.
		if s.State() != StateRunning {
			return
		}
		s.tick(ctx)
	}
}

func (s *Session) finish() {
	if s.PaperMode && s.store != nil && s.ledger != nil {
		if err := s.store.SaveSnapshot(s.UserID, s.BrokerName, s.ledger.Snapshot()); err != nil {
			log.Printf("bot: session %s snapshot on stop: %v", s.ID, err)
		}
	}
	s.setState(StateStopped)
	s.saveRecord()
	s.logEvent("session stopped")
}

func (s *Session) logEvent(msg string) {
	log.Printf("bot: session %s (%s/%s): %s", s.ID, s.UserID, s.Symbol, msg)
	s.bus.Publish(events.TypeLog, s.ID, events.LogPayload{Level: "info", Message: msg})
}

func (s *Session) setDegraded(degraded bool) {
	s.mu.Lock()
	changed := s.degraded != degraded
	s.degraded = degraded
	s.mu.Unlock()
	if changed && degraded {
		log.Printf("bot: session %s (%s/%s): broker unreachable, pausing new entries", s.ID, s.UserID, s.Symbol)
		s.bus.Publish(events.TypeLog, s.ID, events.LogPayload{Level: "error", Message: "broker unreachable, pausing new entries"})
	} else if changed {
		s.logEvent("broker connection recovered")
	}
}

// tick runs one full cycle: quote, exits, dynamic stops, signal, risk gate,
// execution.
func (s *Session) tick(ctx context.Context) {
	if health := s.adapter.HealthCheck(ctx); !health.Connected {
		s.setDegraded(true)
		return
	}

	tickData, err := s.adapter.GetMarketData(ctx, s.Symbol)
	if err != nil {
		s.setDegraded(true)
		return
	}
	s.setDegraded(false)

	s.appendCandle(tickData)
	atr := strategy.ATR(s.history, s.atrPeriod)
	price := tickData.Last

	bal, err := s.adapter.GetBalance(ctx)
	if err != nil {
		log.Printf("bot: session %s balance fetch: %v", s.ID, err)
		return
	}
	s.publishBalance(bal)

	positions, err := s.adapter.GetOpenPositions(ctx)
	if err != nil {
		log.Printf("bot: session %s positions fetch: %v", s.ID, err)
		return
	}

	sig, err := s.strat.Analyze(tickData, s.history)
	if err != nil && !errors.Is(err, strategy.ErrDataUnavailable) {
		log.Printf("bot: session %s analyze: %v", s.ID, err)
		return
	}

	open := 0
	for _, pos := range positions {
		if status, hit := stopHit(pos, price); hit {
			s.closePosition(ctx, pos, status)
			continue
		}
		if sig != nil && sig.Symbol == pos.Symbol && sig.Side == pos.Side.Opposite() {
			s.closePosition(ctx, pos, broker.TradeClosed)
			sig = nil
			continue
		}
		open++
		if upd := s.manager.UpdatePositionRisk(pos.ID, price, atr); upd != nil {
			if setter, ok := unwrapAdapter(s.adapter).(stopSetter); ok {
				if err := setter.SetStopLoss(pos.ID, upd.StopLoss); err != nil {
					log.Printf("bot: session %s move stop on %s: %v", s.ID, pos.ID, err)
				}
			}
			s.logEvent(fmt.Sprintf("stop moved to %.5f (%s)", upd.StopLoss, upd.Reason))
		}
	}

	if sig == nil {
		return
	}
	s.bus.Publish(events.TypeSignal, s.ID, sig)

	decision := s.manager.CanTrade(sig, bal.Equity, open)
	if !decision.Allowed {
		s.bus.Publish(events.TypeLog, s.ID, events.LogPayload{Level: "warn", Message: "entry blocked: " + decision.Reason})
		return
	}

	quantity := sig.Quantity
	if quantity <= 0 {
		quantity = s.manager.PositionSize(bal.Balance, s.riskPercent, sig.EntryPrice, sig.StopLoss)
	}
	if quantity <= 0 {
		return
	}

	req := broker.OrderRequest{
		Symbol:     s.Symbol,
		Side:       sig.Side,
		Type:       broker.OrderTypeMarket,
		Quantity:   quantity,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		ClientID:   s.ID,
	}
	res := s.executor.ExecuteOrderSafely(ctx, s.adapter, req)
	if !res.Success {
		s.bus.Publish(events.TypeLog, s.ID, events.LogPayload{Level: "error", Message: fmt.Sprintf("order failed after %d attempts: %v", res.Retries, res.Err)})
		return
	}
	s.bus.Publish(events.TypeOrderPlaced, s.ID, res.Response)

	// Track whatever position the fill produced.
	after, err := s.adapter.GetOpenPositions(ctx)
	if err != nil {
		return
	}
	for _, pos := range after {
		if _, tracked := s.manager.TrackedStop(pos.ID); tracked {
			continue
		}
		s.manager.Track(pos.ID, pos.EntryPrice, pos.Side, pos.StopLoss, pos.TakeProfit, atr)
		s.bus.Publish(events.TypePositionOpened, s.ID, pos)
	}
}

// closePosition exits at market, records the trade, and persists. When the
// adapter can report its own close, that record is authoritative; otherwise
// the trade is reconstructed from the position's last mark.
func (s *Session) closePosition(ctx context.Context, pos broker.Position, status broker.TradeStatus) {
	var trade broker.TradeResult
	if closer, ok := unwrapAdapter(s.adapter).(statusCloser); ok {
		result, err := closer.CloseWithStatus(ctx, pos.ID, status)
		if err != nil {
			log.Printf("bot: session %s close %s: %v", s.ID, pos.ID, err)
			return
		}
		trade = result
	} else {
		if err := s.adapter.ClosePosition(ctx, pos.ID); err != nil {
			log.Printf("bot: session %s close %s: %v", s.ID, pos.ID, err)
			return
		}
		now := time.Now()
		trade = broker.TradeResult{
			TradeID:           pos.ID,
			Symbol:            pos.Symbol,
			Side:              pos.Side,
			EntryPrice:        pos.EntryPrice,
			ExitPrice:         pos.CurrentPrice,
			Quantity:          pos.Quantity,
			ProfitLoss:        pos.UnrealizedPnl,
			ProfitLossPercent: pos.UnrealizedPnlPercent,
			Status:            status,
			OpenedAt:          pos.OpenedAt,
			ClosedAt:          now,
			Duration:          now.Sub(pos.OpenedAt),
		}
	}
	trade.StrategyName = s.StrategyName

	s.manager.RecordTrade(trade)
	s.manager.Untrack(pos.ID)
	if s.tracker != nil {
		s.tracker.TradeClosed(trade.ProfitLoss > 0)
	}
	s.bus.Publish(events.TypePositionClosed, s.ID, trade)

	if s.store != nil {
		if err := s.store.SaveTrade(s.UserID, s.ID, trade); err != nil {
			log.Printf("bot: session %s persist trade: %v", s.ID, err)
		}
		if s.PaperMode && s.ledger != nil {
			if err := s.store.SaveSnapshot(s.UserID, s.BrokerName, s.ledger.Snapshot()); err != nil {
				log.Printf("bot: session %s persist snapshot: %v", s.ID, err)
			}
		}
	}
}

func (s *Session) publishBalance(bal broker.AccountBalance) {
	s.mu.Lock()
	changed := bal.Equity != s.lastEquity
	s.lastEquity = bal.Equity
	s.mu.Unlock()
	if changed {
		s.manager.ObserveEquity(bal.Equity)
		s.bus.Publish(events.TypeBalanceUpdate, s.ID, bal)
	}
}

// appendCandle folds a quote into the rolling candle history. One tick makes
// one candle; ATR degrades to mean close-to-close movement, which is enough
// for stop distances.
func (s *Session) appendCandle(tick broker.MarketData) {
	s.history = append(s.history, strategy.Candle{
		Time:   tick.Timestamp,
		Open:   tick.Last,
		High:   tick.Last,
		Low:    tick.Last,
		Close:  tick.Last,
		Volume: tick.Volume,
	})
	if len(s.history) > defaultMaxHistory {
		s.history = s.history[len(s.history)-defaultMaxHistory:]
	}
}

// stopHit checks a position's protective levels against the current price.
// Stop-loss wins over take-profit when both are crossed.
func stopHit(pos broker.Position, price float64) (broker.TradeStatus, bool) {
	if pos.Side == broker.SideBuy {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return broker.TradeStopped, true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return broker.TradeTakeProfit, true
		}
		return "", false
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return broker.TradeStopped, true
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return broker.TradeTakeProfit, true
	}
	return "", false
}
