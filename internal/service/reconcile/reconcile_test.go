package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shop-backend/internal/domain"
	"shop-backend/internal/payment"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mugItem() domain.LineItem {
	return domain.LineItem{ProductID: "P1", UnitPrice: 1000, Quantity: 2, Name: "Mug"}
}

func buyerCart(buyer string, items ...domain.CartItem) domain.Cart {
	return domain.Cart{ID: "cart-" + buyer, BuyerID: buyer, Items: items}
}

func TestWebhookThenRedirectCreatesOneOrder(t *testing.T) {
	f := newFixture(Config{CartFallback: true},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Name: "Mug", Price: 1000, Stock: 10}),
		newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P1", Quantity: 2})),
	)
	ctx := context.Background()

	first, err := f.engine.Reconcile(ctx, Event{
		Source: SourceWebhook, Provider: "mercadopago", PaymentID: "PAY1", PreferenceRef: "T1",
		Status: payment.PaymentApproved, Amount: 2000,
	})
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	assert.Equal(t, int64(2000), first.Order.Total)
	assert.Equal(t, domain.OrderCompleted, first.Order.Status)
	assert.Equal(t, 8, f.products.stock("P1"))
	assert.Equal(t, 1, f.carts.cleared["U1"])
	in, _ := f.intents.GetByToken(ctx, "T1")
	assert.Equal(t, domain.IntentConsumed, in.Status)

	second, err := f.engine.Reconcile(ctx, Event{
		Source: SourceRedirect, Provider: "mercadopago", PaymentID: "PAY1", SessionBuyerID: "U1",
		Status: payment.PaymentApproved, Amount: 2000,
	})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 8, f.products.stock("P1"))
	assert.Equal(t, 1, f.products.decrements["P1"])
	assert.Equal(t, 1, f.carts.cleared["U1"])
	assert.Equal(t, 1, f.orders.count())
}

func TestRedirectWithNoIntentAndEmptyCartIsUnresolved(t *testing.T) {
	f := newFixture(Config{CartFallback: true}, newMemIntents(), newMemProducts(), newMemCarts(buyerCart("U1")))

	_, err := f.engine.Reconcile(context.Background(), Event{
		Source: SourceRedirect, Provider: "mercadopago", PaymentID: "PAY9", SessionBuyerID: "U1",
		Status: payment.PaymentApproved, Amount: 500,
	})
	require.True(t, errors.Is(err, ErrIntentUnresolved), "got %v", err)
	assert.Equal(t, 0, f.orders.count())
}

func TestPriceIsFrozenAtIntentCreation(t *testing.T) {
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Name: "Mug", Price: 1500, Stock: 10}),
		newMemCarts(),
	)

	out, err := f.engine.Reconcile(context.Background(), Event{Provider: "webpay", PaymentID: "T1", PreferenceRef: "T1"})
	require.NoError(t, err)
	require.Len(t, out.Order.Items, 1)
	assert.Equal(t, int64(1000), out.Order.Items[0].UnitPrice)
	assert.Equal(t, int64(2000), out.Order.Total)
}

func TestPreferenceRefWinsOverExternalReference(t *testing.T) {
	older := pendingIntent("T-old", "U1", t0, mugItem())
	newer := pendingIntent("T-new", "U1", t0.Add(time.Minute), domain.LineItem{ProductID: "P2", UnitPrice: 300, Quantity: 1})
	f := newFixture(Config{}, newMemIntents(older, newer), newMemProducts(), newMemCarts())

	res, err := f.matcher.Resolve(context.Background(), Event{
		PaymentID:         "PAY1",
		PreferenceRef:     "T-old",
		ExternalReference: newer.ExternalReference,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Intent)
	assert.Equal(t, "T-old", res.Intent.Token)
	assert.Equal(t, "preference", res.Strategy)
}

func TestMatcherUsesPaymentLink(t *testing.T) {
	intents := newMemIntents(pendingIntent("T1", "U1", t0, mugItem()))
	intents.links["PAY1"] = "T1"
	f := newFixture(Config{}, intents, newMemProducts(), newMemCarts())

	res, err := f.matcher.Resolve(context.Background(), Event{PaymentID: "PAY1"})
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Intent.Token)
	assert.Equal(t, "payment_link", res.Strategy)
}

func TestExternalReferenceScanPrefersMatchingAmount(t *testing.T) {
	a := pendingIntent("TA", "U-1", t0, mugItem())
	b := pendingIntent("TB", "U-1", t0.Add(time.Minute), domain.LineItem{ProductID: "P2", UnitPrice: 300, Quantity: 1})
	f := newFixture(Config{}, newMemIntents(a, b), newMemProducts(), newMemCarts())
	ctx := context.Background()

	res, err := f.matcher.Resolve(ctx, Event{PaymentID: "PAY1", ExternalReference: EncodeExternalReference("U-1", t0.Add(time.Hour)), Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, "TA", res.Intent.Token)

	res, err = f.matcher.Resolve(ctx, Event{PaymentID: "PAY2", ExternalReference: EncodeExternalReference("U-1", t0.Add(time.Hour))})
	require.NoError(t, err)
	assert.Equal(t, "TB", res.Intent.Token, "most recent pending intent without amount hint")
}

func TestExternalReferenceScanPrefersStoredReference(t *testing.T) {
	a := pendingIntent("TA", "U1", t0, mugItem())
	b := pendingIntent("TB", "U1", t0.Add(time.Minute), mugItem())
	c := pendingIntent("TC", "U1", t0.Add(2*time.Minute), mugItem())
	f := newFixture(Config{}, newMemIntents(a, b, c), newMemProducts(), newMemCarts())

	res, err := f.matcher.Resolve(context.Background(), Event{PaymentID: "PAY1", ExternalReference: b.ExternalReference, Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, "TB", res.Intent.Token)
}

func TestExternalReferenceScanIsBounded(t *testing.T) {
	old := pendingIntent("T-old", "U1", t0, mugItem())
	intents := newMemIntents(old)
	for i := 0; i < 3; i++ {
		in := pendingIntent("T-c"+string(rune('a'+i)), "U1", t0.Add(time.Duration(i+1)*time.Minute), mugItem())
		in.Status = domain.IntentConsumed
		intents.byToken[in.Token] = in
	}
	f := newFixture(Config{ScanLimit: 3}, intents, newMemProducts(), newMemCarts())

	_, err := f.matcher.Resolve(context.Background(), Event{PaymentID: "PAY1", ExternalReference: EncodeExternalReference("U1", t0)})
	assert.True(t, errors.Is(err, ErrIntentUnresolved), "got %v", err)
}

func TestConsumedIntentResolvesToItsOrder(t *testing.T) {
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Stock: 5}),
		newMemCarts(),
	)
	ctx := context.Background()
	first, err := f.engine.Reconcile(ctx, Event{PaymentID: "PAY1", PreferenceRef: "T1", Provider: "mercadopago"})
	require.NoError(t, err)

	second, err := f.engine.Reconcile(ctx, Event{PaymentID: "PAY2", PreferenceRef: "T1", Provider: "mercadopago"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 3, f.products.stock("P1"))
}

func TestCartFallbackUsesCurrentPrices(t *testing.T) {
	f := newFixture(Config{CartFallback: true},
		newMemIntents(),
		newMemProducts(domain.Product{ID: "P1", Name: "Mug", Price: 1200, Stock: 4}),
		newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P1", Quantity: 1})),
	)

	out, err := f.engine.Reconcile(context.Background(), Event{
		Source: SourceRedirect, Provider: "mercadopago", PaymentID: "PAY1", SessionBuyerID: "U1", Amount: 1200,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), out.Order.Total)
	assert.Nil(t, out.Order.IntentToken)
	assert.Equal(t, 3, f.products.stock("P1"))
	assert.Equal(t, 1, f.carts.cleared["U1"])
}

func TestCartFallbackRefusesOtherBuyersPayment(t *testing.T) {
	f := newFixture(Config{CartFallback: true},
		newMemIntents(),
		newMemProducts(domain.Product{ID: "P9", Name: "TV", Price: 900000, Stock: 2}),
		newMemCarts(buyerCart("U2", domain.CartItem{ProductID: "P9", Quantity: 1})),
	)

	_, err := f.engine.Reconcile(context.Background(), Event{
		Source: SourceRedirect, Provider: "mercadopago", PaymentID: "PAY1", SessionBuyerID: "U2",
		ExternalReference: EncodeExternalReference("U1", t0), Amount: 900000,
	})
	assert.True(t, errors.Is(err, ErrIntentUnresolved), "got %v", err)
	assert.Equal(t, 0, f.orders.count())
	assert.Equal(t, 2, f.products.stock("P9"))
	assert.Equal(t, 0, f.carts.cleared["U2"])
}

func TestCartFallbackRefusesAmountMismatch(t *testing.T) {
	f := newFixture(Config{CartFallback: true},
		newMemIntents(),
		newMemProducts(domain.Product{ID: "P9", Name: "TV", Price: 900000, Stock: 2}),
		newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P9", Quantity: 1})),
	)

	_, err := f.engine.Reconcile(context.Background(), Event{
		Source: SourceRedirect, Provider: "mercadopago", PaymentID: "PAY1", SessionBuyerID: "U1",
		ExternalReference: EncodeExternalReference("U1", t0), Amount: 1000,
	})
	assert.True(t, errors.Is(err, ErrIntentUnresolved), "got %v", err)
	assert.Equal(t, 0, f.orders.count())
}

func TestSideEffectsSurviveCallerCancellation(t *testing.T) {
	intents := newMemIntents(pendingIntent("T1", "U1", t0, mugItem()))
	products := newMemProducts(domain.Product{ID: "P1", Name: "Mug", Price: 1000, Stock: 10})
	carts := newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P1", Quantity: 2}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orders := &cancelAfterCreate{memOrders: &memOrders{}, cancel: cancel}
	m := NewMaterializer(orders, products, carts, intents, nil)

	in, err := intents.GetByToken(context.Background(), "T1")
	require.NoError(t, err)
	out, err := m.Apply(ctx, Resolution{Intent: in, Strategy: "preference"}, Payment{ID: "PAY1", Amount: 2000, Method: "webpay"})
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Error(t, ctx.Err())

	assert.Equal(t, 8, products.stock("P1"))
	assert.Equal(t, 1, carts.cleared["U1"])
	consumed, _ := intents.GetByToken(context.Background(), "T1")
	assert.Equal(t, domain.IntentConsumed, consumed.Status)
}

func TestCartFallbackDisabled(t *testing.T) {
	f := newFixture(Config{CartFallback: false},
		newMemIntents(),
		newMemProducts(domain.Product{ID: "P1", Price: 1200, Stock: 4}),
		newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P1", Quantity: 1})),
	)
	_, err := f.engine.Reconcile(context.Background(), Event{PaymentID: "PAY1", SessionBuyerID: "U1"})
	assert.True(t, errors.Is(err, ErrIntentUnresolved))
}

func TestCartFallbackNeedsSession(t *testing.T) {
	f := newFixture(Config{CartFallback: true},
		newMemIntents(),
		newMemProducts(domain.Product{ID: "P1", Price: 1200, Stock: 4}),
		newMemCarts(buyerCart("U1", domain.CartItem{ProductID: "P1", Quantity: 1})),
	)
	_, err := f.engine.Reconcile(context.Background(), Event{Source: SourceWebhook, PaymentID: "PAY1"})
	assert.True(t, errors.Is(err, ErrIntentUnresolved))
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Stock: 10}),
		newMemCarts(),
	)
	in, _ := f.intents.GetByToken(context.Background(), "T1")
	m := NewMaterializer(f.orders, f.products, f.carts, f.intents, nil)
	res := Resolution{Intent: in}

	a, err := m.Apply(context.Background(), res, Payment{ID: "PAY1", Amount: 2000, Method: "mercadopago"})
	require.NoError(t, err)
	b, err := m.Apply(context.Background(), res, Payment{ID: "PAY1", Amount: 2000, Method: "mercadopago"})
	require.NoError(t, err)

	assert.False(t, a.Duplicate)
	assert.True(t, b.Duplicate)
	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.Equal(t, 1, f.products.decrements["P1"])
}

func TestConcurrentConfirmationsStockDecrementedOnce(t *testing.T) {
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Stock: 10}),
		newMemCarts(),
	)
	ev := Event{PaymentID: "PAY1", PreferenceRef: "T1", Provider: "mercadopago", Amount: 2000}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	errs := make([]error, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.engine.Reconcile(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if !outcomes[i].Duplicate {
			fresh++
		}
		assert.Equal(t, outcomes[0].Order.ID, outcomes[i].Order.ID)
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.orders.count())
	assert.Equal(t, 8, f.products.stock("P1"))
}

func TestIntentTokenConflictReturnsWinner(t *testing.T) {
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, mugItem())),
		newMemProducts(domain.Product{ID: "P1", Stock: 10}),
		newMemCarts(),
	)
	in, _ := f.intents.GetByToken(context.Background(), "T1")
	m := NewMaterializer(f.orders, f.products, f.carts, f.intents, nil)

	first, err := m.Apply(context.Background(), Resolution{Intent: in}, Payment{ID: "PAY1", Method: "webpay"})
	require.NoError(t, err)
	// A second payment id on the same intent collides on intent_token.
	second, err := m.Apply(context.Background(), Resolution{Intent: in}, Payment{ID: "PAY2", Method: "webpay"})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 8, f.products.stock("P1"))
}

func TestMissingProductIsSkipped(t *testing.T) {
	items := []domain.LineItem{mugItem(), {ProductID: "gone", UnitPrice: 10, Quantity: 1}}
	f := newFixture(Config{},
		newMemIntents(pendingIntent("T1", "U1", t0, items...)),
		newMemProducts(domain.Product{ID: "P1", Stock: 10}),
		newMemCarts(),
	)
	out, err := f.engine.Reconcile(context.Background(), Event{PaymentID: "PAY1", PreferenceRef: "T1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2010), out.Order.Total)
	assert.Equal(t, 8, f.products.stock("P1"))
}

func TestExternalReferenceRoundTrip(t *testing.T) {
	ref := EncodeExternalReference("a1-b2-c3", t0)
	buyer, at, ok := DecodeExternalReference(ref)
	require.True(t, ok)
	assert.Equal(t, "a1-b2-c3", buyer)
	assert.True(t, at.Equal(t0))

	for _, bad := range []string{"", "BUYER-", "BUYER-U1", "BUYER-U1-", "BUYER--123", "BUYER-U1-12a", "ORDER-U1-123"} {
		_, _, ok := DecodeExternalReference(bad)
		assert.False(t, ok, bad)
	}
}
