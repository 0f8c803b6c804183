package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"shop-backend/internal/domain"
	orderrepo "shop-backend/internal/repository/order"
)

// afterCommitTimeout bounds the stock, cart and intent updates that follow a
// committed order insert.
const afterCommitTimeout = 15 * time.Second

type orderStore interface {
	Create(ctx context.Context, o domain.Order) (*domain.Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	GetByIntentToken(ctx context.Context, token string) (*domain.Order, error)
}

type stockDecrementer interface {
	DecrementStock(ctx context.Context, id string, quantity int) error
}

type cartClearer interface {
	Clear(ctx context.Context, buyerID string) error
}

type intentConsumer interface {
	MarkConsumed(ctx context.Context, token string) (bool, error)
}

// Payment is the confirmed payment being applied.
type Payment struct {
	ID     string
	Amount int64
	Method string
}

// Outcome reports the order for a payment. Duplicate is set when the order
// already existed and no side effects were applied.
type Outcome struct {
	Order     *domain.Order
	Duplicate bool
}

type Materializer struct {
	orders   orderStore
	products stockDecrementer
	carts    cartClearer
	intents  intentConsumer
	logger   *log.Logger
}

func NewMaterializer(orders orderStore, products stockDecrementer, carts cartClearer, intents intentConsumer, logger *log.Logger) *Materializer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Materializer{orders: orders, products: products, carts: carts, intents: intents, logger: logger}
}

// Apply creates the order for a resolution. The order insert is the commit
// point: stock, cart and intent effects run only for the caller whose insert won.
func (m *Materializer) Apply(ctx context.Context, res Resolution, p Payment) (Outcome, error) {
	if res.Existing != nil {
		return Outcome{Order: res.Existing, Duplicate: true}, nil
	}
	if res.Intent == nil {
		return Outcome{}, errors.New("resolution carries no intent")
	}
	if p.ID == "" {
		return Outcome{}, errors.New("payment id required")
	}

	existing, err := m.orders.GetByPaymentID(ctx, p.ID)
	if err == nil {
		return Outcome{Order: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, fmt.Errorf("duplicate guard: %w", err)
	}

	in := res.Intent
	items := append([]domain.LineItem(nil), in.LineItems...)
	total := domain.SumLineItems(items)
	if p.Amount > 0 && p.Amount != total {
		m.logger.Printf("reconcile: warning amount mismatch payment_id=%s paid=%d order_total=%d", p.ID, p.Amount, total)
	}

	o := domain.Order{
		BuyerID:       in.BuyerID,
		Items:         items,
		Total:         total,
		Status:        domain.OrderCompleted,
		PaymentMethod: p.Method,
		PaymentID:     p.ID,
	}
	if !res.Reconstructed && in.Token != "" {
		token := in.Token
		o.IntentToken = &token
	}

	created, err := m.orders.Create(ctx, o)
	if err != nil {
		var conflict *orderrepo.ConflictError
		if errors.As(err, &conflict) {
			winner, lookupErr := m.winner(ctx, conflict)
			if lookupErr != nil {
				return Outcome{}, fmt.Errorf("order conflict lookup: %w", lookupErr)
			}
			m.logger.Printf("reconcile: concurrent confirmation payment_id=%s resolved to order_id=%s", p.ID, winner.ID)
			return Outcome{Order: winner, Duplicate: true}, nil
		}
		return Outcome{}, fmt.Errorf("create order: %w", err)
	}

	m.afterCommit(ctx, created.ID, o)

	m.logger.Printf("reconcile: materialized payment_id=%s order_id=%s total=%d strategy=%s", p.ID, created.ID, created.Total, res.Strategy)
	return Outcome{Order: created}, nil
}

func (m *Materializer) winner(ctx context.Context, c *orderrepo.ConflictError) (*domain.Order, error) {
	if c.IntentToken != "" {
		return m.orders.GetByIntentToken(ctx, c.IntentToken)
	}
	return m.orders.GetByPaymentID(ctx, c.PaymentID)
}

// afterCommit applies the side effects of a new order. They run detached from
// the caller's context: once the order exists, later confirmations stop at the
// duplicate guard, so a dropped connection here would lose them for good.
func (m *Materializer) afterCommit(parent context.Context, orderID string, o domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), afterCommitTimeout)
	defer cancel()

	for _, it := range o.Items {
		if err := m.products.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.logger.Printf("reconcile: order_id=%s product_id=%s missing, stock not decremented", orderID, it.ProductID)
				continue
			}
			m.logger.Printf("reconcile: order_id=%s product_id=%s decrement stock error=%v", orderID, it.ProductID, err)
		}
	}

	if err := m.carts.Clear(ctx, o.BuyerID); err != nil {
		m.logger.Printf("reconcile: order_id=%s clear cart buyer=%s error=%v", orderID, o.BuyerID, err)
	}

	if o.IntentToken != nil {
		won, err := m.intents.MarkConsumed(ctx, *o.IntentToken)
		switch {
		case err != nil:
			m.logger.Printf("reconcile: order_id=%s mark consumed token=%s error=%v", orderID, *o.IntentToken, err)
		case !won:
			m.logger.Printf("reconcile: order_id=%s intent token=%s was already consumed", orderID, *o.IntentToken)
		}
	}
}
