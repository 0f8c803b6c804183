package seed

import (
	"context"
	"fmt"

	"shop-backend/internal/domain"
)

type ProductWriter interface {
	UpsertBySKU(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// Products is the demo catalog, priced in CLP.
var Products = []domain.Product{
	{
		SKU:         "SKU-DEMO-TSHIRT",
		Name:        "Polera Demo",
		Description: "Polera de algodon para pruebas",
		Price:       9990,
		Stock:       25,
		IsActive:    true,
	},
	{
		SKU:         "SKU-DEMO-MUG",
		Name:        "Taza Demo",
		Description: "Taza de ceramica con logo",
		Price:       12990,
		Stock:       10,
		IsActive:    true,
	},
	{
		SKU:         "SKU-DEMO-POSTER",
		Name:        "Poster Demo",
		Description: "Poster A3 en papel mate",
		Price:       4990,
		Stock:       3,
		IsActive:    true,
	},
}

// Apply upserts the demo catalog for manual testing. It is idempotent by SKU.
func Apply(ctx context.Context, repo ProductWriter) error {
	for _, p := range Products {
		if _, err := repo.UpsertBySKU(ctx, p); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.SKU, err)
		}
	}
	return nil
}
