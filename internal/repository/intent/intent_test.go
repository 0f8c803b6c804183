package intent

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"shop-backend/internal/domain"
	"shop-backend/internal/migrate"
)

func TestPostgres_PutAndGet(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	in := domain.PurchaseIntent{
		Token:     "T1",
		BuyerID:   "U1",
		Provider:  "webpay",
		LineItems: []domain.LineItem{{ProductID: "P1", UnitPrice: 1000, Quantity: 2, Name: "Mug"}},
		Total:     2000,
	}
	if err := repo.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(ctx, in); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected duplicate token, got %v", err)
	}

	got, err := repo.GetByToken(ctx, "T1")
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if got.Status != domain.IntentPending || len(got.LineItems) != 1 || got.LineItems[0].UnitPrice != 1000 {
		t.Fatalf("unexpected intent %+v", got)
	}
	if _, err := repo.GetByToken(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgres_MarkConsumedIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	if err := repo.Put(ctx, domain.PurchaseIntent{Token: "T1", BuyerID: "U1", Provider: "webpay", Total: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	won, err := repo.MarkConsumed(ctx, "T1")
	if err != nil || !won {
		t.Fatalf("first consume: won=%v err=%v", won, err)
	}
	won, err = repo.MarkConsumed(ctx, "T1")
	if err != nil || won {
		t.Fatalf("second consume: won=%v err=%v", won, err)
	}
	if _, err := repo.MarkConsumed(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgres_FindByBuyerMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	for _, tok := range []string{"A", "B", "C"} {
		if err := repo.Put(ctx, domain.PurchaseIntent{Token: tok, BuyerID: "U1", Provider: "mercadopago", Total: 1}); err != nil {
			t.Fatalf("Put %s: %v", tok, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var tokens []string
	for p, err := range repo.FindByBuyer(ctx, "U1", 2) {
		if err != nil {
			t.Fatalf("FindByBuyer: %v", err)
		}
		tokens = append(tokens, p.Token)
	}
	if len(tokens) != 2 || tokens[0] != "C" || tokens[1] != "B" {
		t.Fatalf("unexpected order %v", tokens)
	}
}

func TestPostgres_PaymentLinksFirstWins(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	if err := repo.LinkPayment(ctx, "mercadopago", "PAY1", "T1"); err != nil {
		t.Fatalf("LinkPayment: %v", err)
	}
	if err := repo.LinkPayment(ctx, "mercadopago", "PAY1", "T2"); err != nil {
		t.Fatalf("LinkPayment again: %v", err)
	}
	tok, err := repo.TokenForPayment(ctx, "PAY1")
	if err != nil || tok != "T1" {
		t.Fatalf("expected T1, got %q err=%v", tok, err)
	}
	if _, err := repo.TokenForPayment(ctx, "PAY2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgres_DeletePendingBefore(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	for _, tok := range []string{"old", "used"} {
		if err := repo.Put(ctx, domain.PurchaseIntent{Token: tok, BuyerID: "U1", Provider: "webpay", Total: 1}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := repo.MarkConsumed(ctx, "used"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	n, err := repo.DeletePendingBefore(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 deleted, got %d err=%v", n, err)
	}
	if _, err := repo.GetByToken(ctx, "used"); err != nil {
		t.Fatalf("consumed intent must survive sweep: %v", err)
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	if err := migrate.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE orders, payment_links, purchase_intents, cart_items, carts, products, users RESTART IDENTITY CASCADE`); err != nil {
		pool.Close()
		t.Fatalf("truncate tables: %v", err)
	}
	return pool
}
