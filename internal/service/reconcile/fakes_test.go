package reconcile

import (
	"context"
	"iter"
	"sort"
	"strconv"
	"sync"
	"time"

	"shop-backend/internal/domain"
	orderrepo "shop-backend/internal/repository/order"
)

type memIntents struct {
	mu      sync.Mutex
	byToken map[string]domain.PurchaseIntent
	links   map[string]string
}

func newMemIntents(in ...domain.PurchaseIntent) *memIntents {
	m := &memIntents{byToken: map[string]domain.PurchaseIntent{}, links: map[string]string{}}
	for _, i := range in {
		m.byToken[i.Token] = i
	}
	return m
}

func (m *memIntents) GetByToken(_ context.Context, token string) (*domain.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byToken[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &in, nil
}

func (m *memIntents) FindByBuyer(_ context.Context, buyerID string, limit int) iter.Seq2[domain.PurchaseIntent, error] {
	m.mu.Lock()
	var list []domain.PurchaseIntent
	for _, in := range m.byToken {
		if in.BuyerID == buyerID {
			list = append(list, in)
		}
	}
	m.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return func(yield func(domain.PurchaseIntent, error) bool) {
		for _, in := range list {
			if !yield(in, nil) {
				return
			}
		}
	}
}

func (m *memIntents) TokenForPayment(_ context.Context, paymentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.links[paymentID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return t, nil
}

func (m *memIntents) MarkConsumed(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byToken[token]
	if !ok {
		return false, domain.ErrNotFound
	}
	if in.Status == domain.IntentConsumed {
		return false, nil
	}
	now := time.Now()
	in.Status = domain.IntentConsumed
	in.ConsumedAt = &now
	m.byToken[token] = in
	return true, nil
}

type memOrders struct {
	mu      sync.Mutex
	orders  []domain.Order
	creates int
}

func (m *memOrders) Create(_ context.Context, o domain.Order) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	for _, existing := range m.orders {
		if existing.PaymentID == o.PaymentID {
			return nil, &orderrepo.ConflictError{PaymentID: o.PaymentID}
		}
		if o.IntentToken != nil && existing.IntentToken != nil && *existing.IntentToken == *o.IntentToken {
			return nil, &orderrepo.ConflictError{IntentToken: *o.IntentToken}
		}
	}
	o.ID = "order-" + strconv.Itoa(len(m.orders)+1)
	o.CreatedAt = time.Now()
	m.orders = append(m.orders, o)
	return &o, nil
}

func (m *memOrders) GetByPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentID == paymentID {
			return &o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) GetByIntentToken(_ context.Context, token string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IntentToken != nil && *o.IntentToken == token {
			return &o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// cancelAfterCreate cancels the caller's context once the insert has committed,
// as when the client hangs up mid-request.
type cancelAfterCreate struct {
	*memOrders
	cancel context.CancelFunc
}

func (c *cancelAfterCreate) Create(ctx context.Context, o domain.Order) (*domain.Order, error) {
	created, err := c.memOrders.Create(ctx, o)
	c.cancel()
	return created, err
}

type memProducts struct {
	mu         sync.Mutex
	products   map[string]domain.Product
	decrements map[string]int
}

func newMemProducts(ps ...domain.Product) *memProducts {
	m := &memProducts{products: map[string]domain.Product{}, decrements: map[string]int{}}
	for _, p := range ps {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProducts) GetByID(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memProducts) DecrementStock(ctx context.Context, id string, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Stock -= quantity
	m.products[id] = p
	m.decrements[id]++
	return nil
}

func (m *memProducts) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

type memCarts struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	cleared map[string]int
}

func newMemCarts(cs ...domain.Cart) *memCarts {
	m := &memCarts{carts: map[string]domain.Cart{}, cleared: map[string]int{}}
	for _, c := range cs {
		m.carts[c.BuyerID] = c
	}
	return m
}

func (m *memCarts) GetByBuyer(_ context.Context, buyerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[buyerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memCarts) Clear(ctx context.Context, buyerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared[buyerID]++
	if c, ok := m.carts[buyerID]; ok {
		c.Items = nil
		m.carts[buyerID] = c
	}
	return nil
}

type fixture struct {
	intents  *memIntents
	orders   *memOrders
	products *memProducts
	carts    *memCarts
	engine   *Engine
	matcher  *Matcher
}

func newFixture(cfg Config, intents *memIntents, products *memProducts, carts *memCarts) *fixture {
	orders := &memOrders{}
	fallback := NewCartFallback(carts, products, nil)
	matcher := NewMatcher(intents, orders, fallback, cfg, nil)
	materializer := NewMaterializer(orders, products, carts, intents, nil)
	return &fixture{
		intents:  intents,
		orders:   orders,
		products: products,
		carts:    carts,
		matcher:  matcher,
		engine:   NewEngine(matcher, materializer),
	}
}

func pendingIntent(token, buyer string, at time.Time, items ...domain.LineItem) domain.PurchaseIntent {
	return domain.PurchaseIntent{
		Token:             token,
		BuyerID:           buyer,
		Provider:          "mercadopago",
		ExternalReference: EncodeExternalReference(buyer, at),
		LineItems:         items,
		Total:             domain.SumLineItems(items),
		Status:            domain.IntentPending,
		CreatedAt:         at,
	}
}
