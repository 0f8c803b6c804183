package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"

	"shop-backend/internal/domain"
)

// ErrIntentUnresolved is returned when no strategy finds the intent a payment belongs to.
var ErrIntentUnresolved = errors.New("purchase intent unresolved")

const defaultScanLimit = 20

type intentFinder interface {
	GetByToken(ctx context.Context, token string) (*domain.PurchaseIntent, error)
	FindByBuyer(ctx context.Context, buyerID string, limit int) iter.Seq2[domain.PurchaseIntent, error]
	TokenForPayment(ctx context.Context, paymentID string) (string, error)
}

type orderFinder interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	GetByIntentToken(ctx context.Context, token string) (*domain.Order, error)
}

type Config struct {
	// ScanLimit bounds how many of a buyer's recent intents are scanned by external reference.
	ScanLimit int
	// CartFallback enables rebuilding line items from the session buyer's cart.
	CartFallback bool
}

// Resolution is the matcher's answer. Exactly one of Existing or Intent is set.
type Resolution struct {
	Existing *domain.Order
	Intent   *domain.PurchaseIntent
	// Reconstructed marks an Intent rebuilt from the cart; it has no stored token.
	Reconstructed bool
	Strategy      string
}

type Matcher struct {
	intents  intentFinder
	orders   orderFinder
	fallback *CartFallback
	cfg      Config
	logger   *log.Logger
}

// NewMatcher wires the lookup strategies. fallback may be nil, which disables cart reconstruction.
func NewMatcher(intents intentFinder, orders orderFinder, fallback *CartFallback, cfg Config, logger *log.Logger) *Matcher {
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Matcher{intents: intents, orders: orders, fallback: fallback, cfg: cfg, logger: logger}
}

// Resolve runs the strategies in priority order and returns the first hit.
func (m *Matcher) Resolve(ctx context.Context, ev Event) (Resolution, error) {
	if ev.PaymentID == "" {
		return Resolution{}, errors.New("payment id required")
	}

	existing, err := m.orders.GetByPaymentID(ctx, ev.PaymentID)
	switch {
	case err == nil:
		return Resolution{Existing: existing, Strategy: "duplicate"}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Resolution{}, fmt.Errorf("duplicate guard: %w", err)
	}

	if ev.PreferenceRef != "" {
		res, ok, err := m.byToken(ctx, ev, ev.PreferenceRef, "preference")
		if err != nil || ok {
			return res, err
		}
	}

	token, err := m.intents.TokenForPayment(ctx, ev.PaymentID)
	switch {
	case err == nil:
		res, ok, err := m.byToken(ctx, ev, token, "payment_link")
		if err != nil || ok {
			return res, err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return Resolution{}, fmt.Errorf("payment link: %w", err)
	}

	refBuyer, _, hasRef := DecodeExternalReference(ev.ExternalReference)
	if hasRef {
		in, err := m.scanBuyer(ctx, refBuyer, ev.ExternalReference, ev.Amount)
		if err != nil {
			return Resolution{}, err
		}
		if in != nil {
			m.logger.Printf("reconcile: payment_id=%s matched by external_reference token=%s", ev.PaymentID, in.Token)
			return Resolution{Intent: in, Strategy: "external_reference"}, nil
		}
	}

	if m.cfg.CartFallback && m.fallback != nil && ev.SessionBuyerID != "" {
		in, err := m.cartFallback(ctx, ev, refBuyer, hasRef)
		if err != nil {
			return Resolution{}, err
		}
		if in != nil {
			m.logger.Printf("reconcile: payment_id=%s reconstructed from cart buyer=%s items=%d", ev.PaymentID, ev.SessionBuyerID, len(in.LineItems))
			return Resolution{Intent: in, Reconstructed: true, Strategy: "cart_fallback"}, nil
		}
	}

	m.logger.Printf("reconcile: unresolved payment_id=%s source=%s provider=%s", ev.PaymentID, ev.Source, ev.Provider)
	return Resolution{}, ErrIntentUnresolved
}

// byToken resolves a direct token hit. A consumed intent is inert: it resolves
// to the order already made from it, or is skipped when that order is gone.
func (m *Matcher) byToken(ctx context.Context, ev Event, token, strategy string) (Resolution, bool, error) {
	in, err := m.intents.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Resolution{}, false, nil
		}
		return Resolution{}, false, fmt.Errorf("%s lookup: %w", strategy, err)
	}
	if in.Pending() {
		return Resolution{Intent: in, Strategy: strategy}, true, nil
	}
	o, err := m.orders.GetByIntentToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.Printf("reconcile: consumed intent token=%s has no order, skipping", token)
			return Resolution{}, false, nil
		}
		return Resolution{}, false, fmt.Errorf("%s order lookup: %w", strategy, err)
	}
	if o.PaymentID != ev.PaymentID {
		m.logger.Printf("reconcile: warning payment_id=%s targets consumed intent token=%s already paid by payment_id=%s", ev.PaymentID, token, o.PaymentID)
	}
	return Resolution{Existing: o, Strategy: strategy}, true, nil
}

// cartFallback rebuilds an intent from the session buyer's cart. The session
// buyer must be the one the payment was made for, and a known paid amount must
// equal the rebuilt total; otherwise the payment is left for support.
func (m *Matcher) cartFallback(ctx context.Context, ev Event, refBuyer string, hasRef bool) (*domain.PurchaseIntent, error) {
	if hasRef && refBuyer != ev.SessionBuyerID {
		m.logger.Printf("reconcile: cart fallback refused payment_id=%s session_buyer=%s reference_buyer=%s", ev.PaymentID, ev.SessionBuyerID, refBuyer)
		return nil, nil
	}
	in, err := m.fallback.ReconstructFromCart(ctx, ev.SessionBuyerID, ev.Provider)
	if err != nil || in == nil {
		return nil, err
	}
	if ev.Amount > 0 && in.Total != ev.Amount {
		m.logger.Printf("reconcile: cart fallback refused payment_id=%s paid=%d cart_total=%d", ev.PaymentID, ev.Amount, in.Total)
		return nil, nil
	}
	return in, nil
}

// scanBuyer walks the buyer's most recent intents. A pending intent stored
// under the same external reference wins, then one whose total equals amount,
// then the most recent pending one.
func (m *Matcher) scanBuyer(ctx context.Context, buyerID, ref string, amount int64) (*domain.PurchaseIntent, error) {
	var first, byAmount *domain.PurchaseIntent
	for in, err := range m.intents.FindByBuyer(ctx, buyerID, m.cfg.ScanLimit) {
		if err != nil {
			return nil, fmt.Errorf("scan buyer intents: %w", err)
		}
		if !in.Pending() {
			continue
		}
		if ref != "" && in.ExternalReference == ref {
			return &in, nil
		}
		if byAmount == nil && amount > 0 && in.Total == amount {
			byAmount = &in
		}
		if first == nil {
			first = &in
		}
	}
	if byAmount != nil {
		return byAmount, nil
	}
	return first, nil
}
