// Package checkout drives a purchase from cart to provider redirect, and back
// again through the webhook and redirect confirmation channels.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shop-backend/internal/domain"
	"shop-backend/internal/payment"
	"shop-backend/internal/service/reconcile"
)

type cartStore interface {
	GetByBuyer(ctx context.Context, buyerID string) (*domain.Cart, error)
}

type intentStore interface {
	Put(ctx context.Context, in domain.PurchaseIntent) error
	LinkPayment(ctx context.Context, provider, paymentID, token string) error
}

type orderStore interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error)
}

type Config struct {
	// ReturnURL is where providers send the buyer back after paying.
	ReturnURL string
}

type Service struct {
	providers map[string]payment.Provider
	carts     cartStore
	intents   intentStore
	orders    orderStore
	engine    reconciler
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
}

func New(providers []payment.Provider, carts cartStore, intents intentStore, orders orderStore, engine reconciler, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	byName := make(map[string]payment.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{
		providers: byName,
		carts:     carts,
		intents:   intents,
		orders:    orders,
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

type InitiateResult struct {
	Provider          string `json:"provider"`
	Token             string `json:"token"`
	RedirectURL       string `json:"redirectUrl"`
	BuyOrder          string `json:"buyOrder"`
	ExternalReference string `json:"externalReference,omitempty"`
	Total             int64  `json:"total"`
}

// Initiate freezes the buyer's cart into a purchase intent and opens a
// transaction with the provider.
func (s *Service) Initiate(ctx context.Context, provider, buyerID string) (*InitiateResult, error) {
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(buyerID) == "" {
		return nil, fmt.Errorf("%w: buyer required", domain.ErrInvalidInput)
	}

	cart, err := s.carts.GetByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrEmptyCart
		}
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	items := make([]domain.LineItem, 0, len(cart.Items))
	reqItems := make([]payment.Item, 0, len(cart.Items))
	for _, ci := range cart.Items {
		if ci.Product == nil || !ci.Product.IsActive {
			return nil, fmt.Errorf("%w: product %s is no longer available", domain.ErrInsufficientStock, ci.ProductID)
		}
		if ci.Product.Stock < ci.Quantity {
			return nil, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, ci.Product.Name)
		}
		items = append(items, domain.LineItem{
			ProductID: ci.ProductID,
			UnitPrice: ci.Product.Price,
			Quantity:  ci.Quantity,
			Name:      ci.Product.Name,
		})
		reqItems = append(reqItems, payment.Item{
			ID:        ci.ProductID,
			Title:     ci.Product.Name,
			Quantity:  ci.Quantity,
			UnitPrice: ci.Product.Price,
		})
	}
	total := domain.SumLineItems(items)

	now := s.now().UTC()
	buyOrder := "ORDER-" + strconv.FormatInt(now.UnixMilli(), 10)
	extRef := reconcile.EncodeExternalReference(buyerID, now)

	created, err := p.CreateTransaction(ctx, payment.CreateRequest{
		BuyOrder:          buyOrder,
		BuyerID:           buyerID,
		Amount:            total,
		ReturnURL:         s.cfg.ReturnURL,
		ExternalReference: extRef,
		Items:             reqItems,
	})
	if err != nil {
		return nil, err
	}

	intent := domain.PurchaseIntent{
		Token:             created.Token,
		BuyerID:           buyerID,
		Provider:          p.Name(),
		ExternalReference: extRef,
		LineItems:         items,
		Total:             total,
		Status:            domain.IntentPending,
		CreatedAt:         now,
	}
	if err := s.intents.Put(ctx, intent); err != nil {
		s.logger.Printf("checkout: store intent token=%s buyer=%s error=%v", created.Token, buyerID, err)
		return nil, fmt.Errorf("store purchase intent: %w", err)
	}
	s.logger.Printf("checkout: initiated provider=%s token=%s buyer=%s total=%d", p.Name(), created.Token, buyerID, total)

	return &InitiateResult{
		Provider:          p.Name(),
		Token:             created.Token,
		RedirectURL:       created.RedirectURL,
		BuyOrder:          buyOrder,
		ExternalReference: extRef,
		Total:             total,
	}, nil
}

func (s *Service) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, fmt.Errorf("%w: buyer required", domain.ErrInvalidInput)
	}
	return s.orders.ListByBuyer(ctx, buyerID)
}

func (s *Service) provider(name string) (payment.Provider, error) {
	p, ok := s.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payment.ErrUnknownProvider, name)
	}
	return p, nil
}

// Confirmation is what the buyer sees after returning from the provider.
type Confirmation struct {
	Success         bool           `json:"success"`
	SupportRequired bool           `json:"supportRequired,omitempty"`
	Payment         PaymentSummary `json:"payment"`
	Order           *domain.Order  `json:"order,omitempty"`
	Message         string         `json:"message,omitempty"`
	Duplicate       bool           `json:"-"`
}

type PaymentSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// ConfirmRedirect handles the buyer's return from the provider. params are the
// query or form values the provider appended to the return url.
func (s *Service) ConfirmRedirect(ctx context.Context, provider, buyerID string, params url.Values) (*Confirmation, error) {
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	switch p.Name() {
	case payment.ProviderWebpay:
		committer, ok := p.(payment.Committer)
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot commit", payment.ErrUnknownProvider, p.Name())
		}
		return s.confirmWebpay(ctx, committer, buyerID, params)
	case payment.ProviderMercadoPago:
		fetcher, ok := p.(payment.PaymentFetcher)
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot fetch payments", payment.ErrUnknownProvider, p.Name())
		}
		return s.confirmMercadoPago(ctx, fetcher, buyerID, params)
	default:
		return nil, fmt.Errorf("%w: %s", payment.ErrUnknownProvider, p.Name())
	}
}

func (s *Service) confirmWebpay(ctx context.Context, committer payment.Committer, buyerID string, params url.Values) (*Confirmation, error) {
	token := strings.TrimSpace(params.Get("token_ws"))
	// TBK_TOKEN means the buyer aborted or the payment form timed out, even
	// when token_ws is sent along with it.
	if tbk := params.Get("TBK_TOKEN"); tbk != "" {
		s.logger.Printf("checkout: webpay aborted tbk_token=%s token_ws=%s buy_order=%s", tbk, token, params.Get("TBK_ORDEN_COMPRA"))
		return nil, payment.Reject(payment.ErrPaymentNotApproved, "aborted")
	}
	if token == "" {
		return nil, fmt.Errorf("%w: token_ws required", domain.ErrInvalidInput)
	}

	// A repeated redirect must not commit again.
	if c, ok := s.existing(ctx, token, buyerID); ok {
		return c, nil
	}

	commit, err := committer.ConfirmTransaction(ctx, token)
	if err != nil {
		if c, ok := s.existing(ctx, token, buyerID); ok {
			s.logger.Printf("checkout: webpay commit token=%s failed but order exists, error=%v", token, err)
			return c, nil
		}
		commit, err = s.recoverCommit(ctx, committer, token, err)
		if err != nil {
			return nil, err
		}
	}
	if commit.Status != payment.CommitAuthorized {
		s.logger.Printf("checkout: webpay token=%s not authorized response_code=%s", token, commit.ResponseCode)
		return nil, payment.Reject(payment.ErrPaymentNotApproved, commit.ResponseCode)
	}

	ev := webpayEvent(token, commit, buyerID)
	out, err := s.engine.Reconcile(ctx, ev)
	return s.confirmation(ev, out, err)
}

// recoverCommit handles a commit the provider refused. Webpay refuses a second
// commit of the same token, so an earlier commit whose order was never made
// shows up here; its outcome is read back with the status call.
func (s *Service) recoverCommit(ctx context.Context, committer payment.Committer, token string, commitErr error) (payment.Commit, error) {
	if !errors.Is(commitErr, payment.ErrProviderRejected) {
		return payment.Commit{}, commitErr
	}
	checker, ok := committer.(payment.StatusChecker)
	if !ok {
		return payment.Commit{}, commitErr
	}
	commit, err := checker.TransactionStatus(ctx, token)
	if err != nil {
		s.logger.Printf("checkout: webpay token=%s commit refused and status failed error=%v", token, err)
		return payment.Commit{}, commitErr
	}
	s.logger.Printf("checkout: webpay token=%s commit refused, status=%s response_code=%s", token, commit.Status, commit.ResponseCode)
	return commit, nil
}

func (s *Service) confirmMercadoPago(ctx context.Context, fetcher payment.PaymentFetcher, buyerID string, params url.Values) (*Confirmation, error) {
	paymentID := queryID(params, "payment_id")
	if paymentID == "" {
		paymentID = queryID(params, "collection_id")
	}
	if paymentID == "" {
		if params.Get("status") == "null" || params.Get("collection_status") == "null" {
			return nil, payment.Reject(payment.ErrPaymentNotApproved, "aborted")
		}
		return nil, fmt.Errorf("%w: payment_id required", domain.ErrInvalidInput)
	}

	// The query status is set by the buyer's browser; only the provider's answer counts.
	info, err := fetcher.FetchPaymentInfo(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if info.Status != payment.PaymentApproved {
		s.logger.Printf("checkout: mercadopago payment_id=%s status=%s detail=%s", info.ID, info.Status, info.StatusDetail)
		return nil, payment.Reject(payment.ErrPaymentNotApproved, info.StatusDetail)
	}

	if pref := queryID(params, "preference_id"); pref != "" {
		if info.PreferenceRef == "" {
			info.PreferenceRef = pref
		}
		s.link(ctx, payment.ProviderMercadoPago, info.ID, pref)
	}
	if info.ExternalReference == "" {
		info.ExternalReference = queryID(params, "external_reference")
	}

	ev := mercadoPagoEvent(reconcile.SourceRedirect, info, buyerID)
	out, err := s.engine.Reconcile(ctx, ev)
	return s.confirmation(ev, out, err)
}

// confirmation runs once the provider has confirmed the payment. From here on
// the buyer is never told the payment failed: any reconcile error becomes a
// support-required success.
func (s *Service) confirmation(ev reconcile.Event, out reconcile.Outcome, err error) (*Confirmation, error) {
	summary := PaymentSummary{ID: ev.PaymentID, Status: string(payment.PaymentApproved), Amount: ev.Amount}
	if err != nil {
		if errors.Is(err, reconcile.ErrIntentUnresolved) {
			s.logger.Printf("checkout: support required provider=%s payment_id=%s buyer=%s", ev.Provider, ev.PaymentID, ev.SessionBuyerID)
		} else {
			s.logger.Printf("checkout: support required provider=%s payment_id=%s buyer=%s reconcile error=%v", ev.Provider, ev.PaymentID, ev.SessionBuyerID, err)
		}
		return &Confirmation{
			Success:         true,
			SupportRequired: true,
			Payment:         summary,
			Message:         "Payment approved, but the order could not be created automatically. Contact support with payment id " + ev.PaymentID + ".",
		}, nil
	}
	return &Confirmation{Success: true, Payment: summary, Order: ownOrder(out.Order, ev.SessionBuyerID), Duplicate: out.Duplicate}, nil
}

func (s *Service) existing(ctx context.Context, paymentID, buyerID string) (*Confirmation, bool) {
	o, err := s.orders.GetByPaymentID(ctx, paymentID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Printf("checkout: duplicate guard payment_id=%s error=%v", paymentID, err)
		}
		return nil, false
	}
	return &Confirmation{
		Success:   true,
		Payment:   PaymentSummary{ID: paymentID, Status: string(payment.PaymentApproved), Amount: o.Total},
		Order:     ownOrder(o, buyerID),
		Duplicate: true,
	}, true
}

// ownOrder hides orders that belong to someone other than the caller.
func ownOrder(o *domain.Order, buyerID string) *domain.Order {
	if o == nil || o.BuyerID != buyerID {
		return nil
	}
	return o
}

func (s *Service) link(ctx context.Context, provider, paymentID, token string) {
	if paymentID == "" || token == "" {
		return
	}
	if err := s.intents.LinkPayment(ctx, provider, paymentID, token); err != nil {
		s.logger.Printf("checkout: link payment_id=%s token=%s error=%v", paymentID, token, err)
	}
}

// queryID reads a provider id parameter. MercadoPago sends the literal "null" for absent ids.
func queryID(params url.Values, key string) string {
	v := strings.TrimSpace(params.Get(key))
	if v == "null" {
		return ""
	}
	return v
}
