package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shop-backend/internal/domain"
	cartrepo "shop-backend/internal/repository/cart"
)

// ErrProductNotFound is returned when adding a product that is not in the catalog.
var ErrProductNotFound = errors.New("product not found")

type Service struct {
	repo        cartrepo.Repository
	productRepo productRepo
}

type productRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

func New(repo cartrepo.Repository, productRepo productRepo) *Service {
	return &Service{repo: repo, productRepo: productRepo}
}

type AddInput struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Get returns the buyer's cart, creating an empty one on first use.
func (s *Service) Get(ctx context.Context, buyerID string) (*domain.Cart, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, fmt.Errorf("%w: buyer required", domain.ErrInvalidInput)
	}
	return s.repo.Ensure(ctx, buyerID)
}

// Count returns the number of distinct products in the buyer's cart.
func (s *Service) Count(ctx context.Context, buyerID string) (int, error) {
	cart, err := s.repo.GetByBuyer(ctx, buyerID)
	if err != nil {
		return 0, err
	}
	return len(cart.Items), nil
}

func (s *Service) Add(ctx context.Context, buyerID string, in AddInput) (*domain.Cart, error) {
	productID := strings.TrimSpace(in.Product)
	if productID == "" {
		return nil, fmt.Errorf("%w: product required", domain.ErrInvalidInput)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if !product.IsActive {
		return nil, ErrProductNotFound
	}

	cart, err := s.repo.Ensure(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	want := in.Quantity
	for _, it := range cart.Items {
		if it.ProductID == product.ID {
			want += it.Quantity
		}
	}
	if product.Stock < want {
		return nil, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, product.Name)
	}

	if err := s.repo.AddItem(ctx, cart.ID, product.ID, in.Quantity); err != nil {
		return nil, err
	}
	return s.repo.GetByBuyer(ctx, buyerID)
}

// Remove drops a product from the cart. A buyer without a cart gets ErrNotFound.
func (s *Service) Remove(ctx context.Context, buyerID, productID string) (*domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product required", domain.ErrInvalidInput)
	}
	cart, err := s.repo.GetByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemoveItem(ctx, cart.ID, productID); err != nil {
		return nil, err
	}
	return s.repo.GetByBuyer(ctx, buyerID)
}
