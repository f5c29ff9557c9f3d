package broker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed order request. Indicates a caller bug,
	// surfaced immediately rather than retried.
	ErrValidation = errors.New("invalid order request")

	// ErrNotAuthenticated means the adapter's token is missing or expired.
	// Callers may attempt one transparent re-authentication.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrOrderRejected means the broker declined the order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderTimeout means an order was not confirmed filled within the
	// configured confirmation window.
	ErrOrderTimeout = errors.New("order confirmation timed out")

	// ErrPositionNotFound is returned when closing or querying an unknown position.
	ErrPositionNotFound = errors.New("position not found")
)

// Adapter is the uniform broker contract consumed by both the live and the
// simulated execution paths.
type Adapter interface {
	Authenticate(ctx context.Context) error
	GetBalance(ctx context.Context) (AccountBalance, error)
	GetMarketData(ctx context.Context, symbol string) (MarketData, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderResponse, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	ClosePosition(ctx context.Context, positionID string) error
	HealthCheck(ctx context.Context) Health
}

// ValidateOrder rejects malformed requests before any network call.
func ValidateOrder(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrValidation)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: side %q", ErrValidation, req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %.8f", ErrValidation, req.Quantity)
	}
	switch req.Type {
	case OrderTypeMarket:
	case OrderTypeLimit, OrderTypeStop:
		if req.Price <= 0 {
			return fmt.Errorf("%w: %s order requires a price", ErrValidation, req.Type)
		}
	default:
		return fmt.Errorf("%w: order type %q", ErrValidation, req.Type)
	}
	return nil
}
