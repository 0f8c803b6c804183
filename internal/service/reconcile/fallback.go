package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"shop-backend/internal/domain"
)

type cartReader interface {
	GetByBuyer(ctx context.Context, buyerID string) (*domain.Cart, error)
}

type productReader interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

// CartFallback rebuilds an intent from the buyer's current cart when no stored
// intent can be found. Prices and quantities are today's, not those seen at
// checkout, so orders made this way are best effort.
type CartFallback struct {
	carts    cartReader
	products productReader
	logger   *log.Logger
}

func NewCartFallback(carts cartReader, products productReader, logger *log.Logger) *CartFallback {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CartFallback{carts: carts, products: products, logger: logger}
}

// ReconstructFromCart returns nil without error when the buyer has no cart or
// the cart holds nothing that can still be priced.
func (f *CartFallback) ReconstructFromCart(ctx context.Context, buyerID, provider string) (*domain.PurchaseIntent, error) {
	cart, err := f.carts.GetByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("cart fallback: %w", err)
	}
	items := make([]domain.LineItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		if ci.Quantity <= 0 {
			continue
		}
		p := ci.Product
		if p == nil {
			p, err = f.products.GetByID(ctx, ci.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					f.logger.Printf("reconcile: cart fallback skipping missing product_id=%s buyer=%s", ci.ProductID, buyerID)
					continue
				}
				return nil, fmt.Errorf("cart fallback product %s: %w", ci.ProductID, err)
			}
		}
		items = append(items, domain.LineItem{
			ProductID: p.ID,
			UnitPrice: p.Price,
			Quantity:  ci.Quantity,
			Name:      p.Name,
		})
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &domain.PurchaseIntent{
		BuyerID:   buyerID,
		Provider:  provider,
		LineItems: items,
		Total:     domain.SumLineItems(items),
		Status:    domain.IntentPending,
	}, nil
}
