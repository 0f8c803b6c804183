package intent

import (
	"context"
	"errors"
	"iter"
	"time"

	"shop-backend/internal/domain"
)

// ErrDuplicateToken is returned by Put when an intent with the same token is already stored.
var ErrDuplicateToken = errors.New("duplicate intent token")

// Repository persists purchase intents and the payment-to-intent links learned from providers.
type Repository interface {
	Put(ctx context.Context, in domain.PurchaseIntent) error
	GetByToken(ctx context.Context, token string) (*domain.PurchaseIntent, error)
	// FindByBuyer yields at most limit intents of the buyer, most recent first.
	FindByBuyer(ctx context.Context, buyerID string, limit int) iter.Seq2[domain.PurchaseIntent, error]
	// MarkConsumed moves a pending intent to consumed. It reports false, without
	// error, when the intent was already consumed.
	MarkConsumed(ctx context.Context, token string) (bool, error)
	LinkPayment(ctx context.Context, provider, paymentID, token string) error
	TokenForPayment(ctx context.Context, paymentID string) (string, error)
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
