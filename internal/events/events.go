package events

import "time"

// Type enumerates event topics emitted by the trading core.
type Type string

const (
	TypeSignal         Type = "signal"
	TypeOrderPlaced    Type = "order_placed"
	TypePositionOpened Type = "position_opened"
	TypePositionClosed Type = "position_closed"
	TypeBalanceUpdate  Type = "balance_update"
	TypeLog            Type = "log"
)

// All lists every event type, in the order consumers usually display them.
func All() []Type {
	return []Type{
		TypeSignal,
		TypeOrderPlaced,
		TypePositionOpened,
		TypePositionClosed,
		TypeBalanceUpdate,
		TypeLog,
	}
}

// Event is the envelope delivered to subscribers. Payload must be
// JSON-serializable so sinks can forward it as-is.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Payload any       `json:"payload"`
}

// LogPayload carries human-readable log events (blocked trades, degraded
// sessions, terminal connection failures).
type LogPayload struct {
	Level   string `json:"level"` // info, warn, error
	Message string `json:"message"`
}
