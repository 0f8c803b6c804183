package product

import (
	"context"

	"shop-backend/internal/domain"
)

type Repository interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock subtracts quantity from the product's stock. It returns
	// domain.ErrNotFound when the product no longer exists.
	DecrementStock(ctx context.Context, id string, quantity int) error
	UpsertBySKU(ctx context.Context, p domain.Product) (*domain.Product, error)
}
