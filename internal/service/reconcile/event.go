// Package reconcile turns confirmation events from payment providers into
// orders, at most once per payment and at most once per purchase intent.
//
// Confirmations arrive on two channels, the provider webhook and the buyer's
// redirect back to the shop. Either may come first, twice, or not at all.
// Matcher resolves an Event to the intent it pays for; Materializer applies
// the order, stock and cart effects. Uniqueness is enforced by the order
// store, so concurrent processes racing on the same payment are safe.
package reconcile

import "shop-backend/internal/payment"

type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceRedirect Source = "redirect"
)

// Event is the provider-neutral shape of a payment confirmation.
type Event struct {
	Source            Source
	Provider          string
	PaymentID         string
	PreferenceRef     string
	ExternalReference string
	// SessionBuyerID is set only when the event arrived with an authenticated session.
	SessionBuyerID string
	Status         payment.PaymentStatus
	Amount         int64
	StatusDetail   string
}
