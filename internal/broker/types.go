package broker

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus normalizes broker status into a small set.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status will not change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// PositionStatus tracks position lifecycle.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosed  PositionStatus = "CLOSED"
	PositionPending PositionStatus = "PENDING"
)

// InstrumentClass distinguishes linear (unit-count) instruments from
// stake-based derivative contracts where quantity is a currency stake.
type InstrumentClass string

const (
	ClassLinear InstrumentClass = "LINEAR"
	ClassStake  InstrumentClass = "STAKE"
)

// MarketData is a single quote snapshot.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// SpreadPercent returns the bid/ask spread as a percentage of the mid price.
func (m MarketData) SpreadPercent() float64 {
	mid := (m.Bid + m.Ask) / 2
	if mid <= 0 {
		return 0
	}
	return (m.Ask - m.Bid) / mid * 100
}

// OrderRequest captures an order intent to be sent to a broker.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"` // required for LIMIT/STOP
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
}

// OrderResponse returns the broker ack.
type OrderResponse struct {
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	FilledPrice float64     `json:"filled_price,omitempty"`
}

// Position is a broker- or ledger-owned open trade.
type Position struct {
	ID                   string         `json:"id"`
	Symbol               string         `json:"symbol"`
	Side                 Side           `json:"side"`
	Quantity             float64        `json:"quantity"`
	EntryPrice           float64        `json:"entry_price"`
	CurrentPrice         float64        `json:"current_price"`
	UnrealizedPnl        float64        `json:"unrealized_pnl"`
	UnrealizedPnlPercent float64        `json:"unrealized_pnl_percent"`
	Status               PositionStatus `json:"status"`
	StopLoss             float64        `json:"stop_loss,omitempty"`
	TakeProfit           float64        `json:"take_profit,omitempty"`
	OpenedAt             time.Time      `json:"opened_at"`
	ClosedAt             *time.Time     `json:"closed_at,omitempty"`
}

// AccountBalance mirrors what a live terminal reports for an account.
// Equity and margin are always derived from the current position set.
type AccountBalance struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Currency    string  `json:"currency"`
}

// TradeStatus labels why a trade closed.
type TradeStatus string

const (
	TradeOpen       TradeStatus = "OPEN"
	TradeClosed     TradeStatus = "CLOSED"
	TradeStopped    TradeStatus = "STOPPED"
	TradeTakeProfit TradeStatus = "TAKE_PROFIT"
)

// TradeResult is created once at close time and is immutable thereafter.
type TradeResult struct {
	TradeID           string        `json:"trade_id"`
	StrategyName      string        `json:"strategy_name"`
	Symbol            string        `json:"symbol"`
	Side              Side          `json:"side"`
	EntryPrice        float64       `json:"entry_price"`
	ExitPrice         float64       `json:"exit_price"`
	Quantity          float64       `json:"quantity"`
	ProfitLoss        float64       `json:"profit_loss"`
	ProfitLossPercent float64       `json:"profit_loss_percent"`
	Status            TradeStatus   `json:"status"`
	OpenedAt          time.Time     `json:"opened_at"`
	ClosedAt          time.Time     `json:"closed_at"`
	Duration          time.Duration `json:"duration"`
}

// Health reports adapter connectivity.
type Health struct {
	Status    string        `json:"status"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
}
