package cart

import (
	"context"

	"shop-backend/internal/domain"
)

type Repository interface {
	// GetByBuyer returns the buyer's cart with items joined to the catalog.
	GetByBuyer(ctx context.Context, buyerID string) (*domain.Cart, error)
	Ensure(ctx context.Context, buyerID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, productID string) error
	// Clear empties the buyer's cart. A buyer without a cart is not an error.
	Clear(ctx context.Context, buyerID string) error
}
