package order

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"shop-backend/internal/domain"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

const orderColumns = `id::text, buyer_id, items, total, status, payment_method, COALESCE(payment_id, ''), intent_token, created_at`

// Create inserts the order. The partial unique indexes on payment_id and
// intent_token are the only guard against double materialization.
func (r *postgresRepo) Create(ctx context.Context, o domain.Order) (*domain.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO orders (buyer_id, items, total, status, payment_method, payment_id, intent_token)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
RETURNING ` + orderColumns
	created, err := scanOrder(r.pool.QueryRow(ctx, q, o.BuyerID, items, o.Total, string(o.Status), o.PaymentMethod, o.PaymentID, o.IntentToken))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			conflict := &ConflictError{PaymentID: o.PaymentID}
			if pgErr.ConstraintName == "orders_intent_token_key" && o.IntentToken != nil {
				conflict = &ConflictError{IntentToken: *o.IntentToken}
			}
			r.logger.Printf("order repo: create payment_id=%s conflict constraint=%s", o.PaymentID, pgErr.ConstraintName)
			return nil, conflict
		}
		r.logger.Printf("order repo: create payment_id=%s error=%v", o.PaymentID, err)
		return nil, err
	}
	r.logger.Printf("order repo: created id=%s payment_id=%s total=%d", created.ID, created.PaymentID, created.Total)
	return created, nil
}

func (r *postgresRepo) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID)
}

func (r *postgresRepo) GetByIntentToken(ctx context.Context, token string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE intent_token = $1`, token)
}

func (r *postgresRepo) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		r.logger.Printf("order repo: list buyer_id=%s error=%v", buyerID, err)
		return nil, err
	}
	defer rows.Close()

	var result []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *postgresRepo) getOne(ctx context.Context, q string, arg string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var items []byte
	var status string
	if err := row.Scan(&o.ID, &o.BuyerID, &items, &o.Total, &status, &o.PaymentMethod, &o.PaymentID, &o.IntentToken, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, err
		}
	}
	return &o, nil
}
