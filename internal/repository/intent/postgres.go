package intent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"shop-backend/internal/domain"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgres returns a Repository backed by the purchase_intents and payment_links tables.
func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

const intentColumns = `token, buyer_id, provider, COALESCE(external_reference, ''), line_items, total, status, created_at, consumed_at`

func (r *postgresRepo) Put(ctx context.Context, in domain.PurchaseIntent) error {
	items, err := json.Marshal(in.LineItems)
	if err != nil {
		return err
	}
	status := in.Status
	if status == "" {
		status = domain.IntentPending
	}
	const q = `
INSERT INTO purchase_intents (token, buyer_id, provider, external_reference, line_items, total, status)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
`
	_, err = r.pool.Exec(ctx, q, in.Token, in.BuyerID, in.Provider, in.ExternalReference, items, in.Total, string(status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Printf("intent repo: put token=%s duplicate", in.Token)
			return ErrDuplicateToken
		}
		r.logger.Printf("intent repo: put token=%s error=%v", in.Token, err)
		return err
	}
	r.logger.Printf("intent repo: put token=%s buyer_id=%s total=%d", in.Token, in.BuyerID, in.Total)
	return nil
}

func (r *postgresRepo) GetByToken(ctx context.Context, token string) (*domain.PurchaseIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM purchase_intents WHERE token = $1`
	p, err := scanIntent(r.pool.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Printf("intent repo: get token=%s error=%v", token, err)
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) FindByBuyer(ctx context.Context, buyerID string, limit int) iter.Seq2[domain.PurchaseIntent, error] {
	return func(yield func(domain.PurchaseIntent, error) bool) {
		if limit <= 0 {
			return
		}
		q := `SELECT ` + intentColumns + ` FROM purchase_intents WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2`
		rows, err := r.pool.Query(ctx, q, buyerID, limit)
		if err != nil {
			r.logger.Printf("intent repo: find buyer_id=%s error=%v", buyerID, err)
			yield(domain.PurchaseIntent{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanIntent(rows)
			if err != nil {
				yield(domain.PurchaseIntent{}, err)
				return
			}
			if !yield(*p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.PurchaseIntent{}, err)
		}
	}
}

func (r *postgresRepo) MarkConsumed(ctx context.Context, token string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE purchase_intents
SET status = 'consumed', consumed_at = now()
WHERE token = $1 AND status = 'pending'
`, token)
	if err != nil {
		r.logger.Printf("intent repo: consume token=%s error=%v", token, err)
		return false, err
	}
	if cmd.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_intents WHERE token = $1)`, token).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *postgresRepo) LinkPayment(ctx context.Context, provider, paymentID, token string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO payment_links (payment_id, intent_token, provider)
VALUES ($1, $2, $3)
ON CONFLICT (payment_id) DO NOTHING
`, paymentID, token, provider)
	if err != nil {
		r.logger.Printf("intent repo: link payment_id=%s token=%s error=%v", paymentID, token, err)
	}
	return err
}

func (r *postgresRepo) TokenForPayment(ctx context.Context, paymentID string) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx, `SELECT intent_token FROM payment_links WHERE payment_id = $1`, paymentID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return token, nil
}

func (r *postgresRepo) DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM purchase_intents WHERE status = 'pending' AND created_at < $1`, cutoff)
	if err != nil {
		r.logger.Printf("intent repo: sweep cutoff=%s error=%v", cutoff.Format(time.RFC3339), err)
		return 0, err
	}
	r.logger.Printf("intent repo: sweep cutoff=%s deleted=%d", cutoff.Format(time.RFC3339), cmd.RowsAffected())
	return cmd.RowsAffected(), nil
}

func scanIntent(row pgx.Row) (*domain.PurchaseIntent, error) {
	var p domain.PurchaseIntent
	var items []byte
	var status string
	if err := row.Scan(&p.Token, &p.BuyerID, &p.Provider, &p.ExternalReference, &items, &p.Total, &status, &p.CreatedAt, &p.ConsumedAt); err != nil {
		return nil, err
	}
	p.Status = domain.IntentStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.LineItems); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
