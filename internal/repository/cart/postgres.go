package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"shop-backend/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) GetByBuyer(ctx context.Context, buyerID string) (*domain.Cart, error) {
	const q = `
SELECT id::text, buyer_id::text, created_at, updated_at
FROM carts
WHERE buyer_id = $1
`
	var cart domain.Cart
	err := r.pool.QueryRow(ctx, q, buyerID).Scan(&cart.ID, &cart.BuyerID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *postgresRepo) Ensure(ctx context.Context, buyerID string) (*domain.Cart, error) {
	const q = `
INSERT INTO carts (buyer_id)
VALUES ($1)
ON CONFLICT (buyer_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
RETURNING id::text, buyer_id::text, created_at, updated_at
`
	var cart domain.Cart
	if err := r.pool.QueryRow(ctx, q, buyerID).Scan(&cart.ID, &cart.BuyerID, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *postgresRepo) AddItem(ctx context.Context, cartID, productID string, quantity int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO cart_items (cart_id, product_id, quantity)
VALUES ($1, $2, $3)
ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
`, cartID, productID, quantity); err != nil {
		return err
	}
	if err := touchCart(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) RemoveItem(ctx context.Context, cartID, productID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID); err != nil {
		return err
	}
	if err := touchCart(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) Clear(ctx context.Context, buyerID string) error {
	_, err := r.pool.Exec(ctx, `
WITH cleared AS (
	DELETE FROM cart_items
	WHERE cart_id IN (SELECT id FROM carts WHERE buyer_id = $1)
)
UPDATE carts SET updated_at = now() WHERE buyer_id = $1
`, buyerID)
	return err
}

func (r *postgresRepo) loadItems(ctx context.Context, cart *domain.Cart) error {
	const q = `
SELECT ci.product_id::text, ci.quantity,
       p.id::text, p.name, COALESCE(p.description, ''), COALESCE(p.sku, ''), p.price, p.stock,
       COALESCE(p.image_url, ''), p.is_active, p.created_at
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
WHERE ci.cart_id = $1
ORDER BY ci.created_at ASC
`
	rows, err := r.pool.Query(ctx, q, cart.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		var p domain.Product
		if err := rows.Scan(
			&item.ProductID,
			&item.Quantity,
			&p.ID,
			&p.Name,
			&p.Description,
			&p.SKU,
			&p.Price,
			&p.Stock,
			&p.ImageURL,
			&p.IsActive,
			&p.CreatedAt,
		); err != nil {
			return err
		}
		item.Product = &p
		cart.Items = append(cart.Items, item)
	}
	return rows.Err()
}

func touchCart(ctx context.Context, tx pgx.Tx, cartID string) error {
	_, err := tx.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	return err
}
