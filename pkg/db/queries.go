package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalist/internal/broker"
	"signalist/internal/paper"
)

// SaveTrade appends one closed trade to the history.
func (s *Store) SaveTrade(userID, sessionID string, trade broker.TradeResult) error {
	_, err := s.DB.Exec(`
		INSERT INTO trades (user_id, session_id, trade_id, strategy, symbol, side,
			entry_price, exit_price, quantity, profit_loss, profit_loss_percent,
			status, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, sessionID, trade.TradeID, trade.StrategyName, trade.Symbol, string(trade.Side),
		trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.ProfitLoss, trade.ProfitLossPercent,
		string(trade.Status), trade.OpenedAt.UTC(), trade.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// TradeHistory returns the most recent closed trades for a user, newest
// first.
func (s *Store) TradeHistory(userID string, limit int) ([]broker.TradeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(`
		SELECT trade_id, strategy, symbol, side, entry_price, exit_price, quantity,
			profit_loss, profit_loss_percent, status, opened_at, closed_at
		FROM trades WHERE user_id = ? ORDER BY closed_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []broker.TradeResult
	for rows.Next() {
		var (
			t            broker.TradeResult
			side, status string
		)
		if err := rows.Scan(&t.TradeID, &t.StrategyName, &t.Symbol, &side,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.ProfitLoss, &t.ProfitLossPercent,
			&status, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = broker.Side(side)
		t.Status = broker.TradeStatus(status)
		t.Duration = t.ClosedAt.Sub(t.OpenedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSnapshot upserts the paper-ledger snapshot for (user, broker). The
// upsert is idempotent: replaying the same snapshot leaves one row.
func (s *Store) SaveSnapshot(userID, brokerName string, snap paper.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.DB.Exec(`
		INSERT INTO ledger_snapshots (user_id, broker, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, broker) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, brokerName, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads back the snapshot for (user, broker). The second return
// is false when none was saved.
func (s *Store) LoadSnapshot(userID, brokerName string) (paper.Snapshot, bool, error) {
	var data string
	err := s.DB.QueryRow(`SELECT data FROM ledger_snapshots WHERE user_id = ? AND broker = ?`,
		userID, brokerName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return paper.Snapshot{}, false, nil
	}
	if err != nil {
		return paper.Snapshot{}, false, fmt.Errorf("query snapshot: %w", err)
	}
	var snap paper.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return paper.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// SessionRecord is a persisted session row.
type SessionRecord struct {
	ID        string
	UserID    string
	Strategy  string
	Symbol    string
	Broker    string
	Paper     bool
	State     string
	CreatedAt time.Time
	StoppedAt *time.Time
}

// SaveSession upserts a session row; state transitions overwrite in place.
func (s *Store) SaveSession(rec SessionRecord) error {
	var stoppedAt any
	if rec.StoppedAt != nil {
		stoppedAt = rec.StoppedAt.UTC()
	}
	_, err := s.DB.Exec(`
		INSERT INTO sessions (id, user_id, strategy, symbol, broker, paper, state, created_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, stopped_at = excluded.stopped_at`,
		rec.ID, rec.UserID, rec.Strategy, rec.Symbol, rec.Broker, rec.Paper, rec.State, rec.CreatedAt.UTC(), stoppedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SessionsForUser lists persisted sessions, newest first.
func (s *Store) SessionsForUser(userID string) ([]SessionRecord, error) {
	rows, err := s.DB.Query(`
		SELECT id, user_id, strategy, symbol, broker, paper, state, created_at, stopped_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec       SessionRecord
			stoppedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Strategy, &rec.Symbol, &rec.Broker,
			&rec.Paper, &rec.State, &rec.CreatedAt, &stoppedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if stoppedAt.Valid {
			at := stoppedAt.Time
			rec.StoppedAt = &at
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
