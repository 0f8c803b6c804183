package order

import (
	"context"
	"errors"

	"shop-backend/internal/domain"
)

// ErrConflict is returned by Create when another order already holds the
// payment id or the intent token. ConflictError reports which one.
var ErrConflict = errors.New("order conflict")

// ConflictError carries the key that collided so callers can fetch the winner.
type ConflictError struct {
	PaymentID   string
	IntentToken string
}

func (e *ConflictError) Error() string {
	if e.IntentToken != "" {
		return "order conflict on intent_token=" + e.IntentToken
	}
	return "order conflict on payment_id=" + e.PaymentID
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type Repository interface {
	Create(ctx context.Context, o domain.Order) (*domain.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	GetByIntentToken(ctx context.Context, token string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
}
