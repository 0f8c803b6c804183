package checkout

import (
	"context"
	"errors"
	"strings"

	"shop-backend/internal/payment"
	"shop-backend/internal/service/reconcile"
)

const (
	TopicPayment       = "payment"
	TopicMerchantOrder = "merchant_order"
)

// Notification is a provider push, reduced to what the provider told us to look up.
type Notification struct {
	Topic      string
	ResourceID string
}

// HandleWebhook processes a provider notification. It never fails: the
// provider only learns that the notification was received.
func (s *Service) HandleWebhook(ctx context.Context, provider string, n Notification) {
	p, err := s.provider(provider)
	if err != nil {
		s.logger.Printf("checkout: webhook for unknown provider=%q ignored", provider)
		return
	}
	fetcher, ok := p.(payment.PaymentFetcher)
	if !ok {
		s.logger.Printf("checkout: webhook provider=%s topic=%q id=%q acknowledged, provider confirms by redirect", p.Name(), n.Topic, n.ResourceID)
		return
	}
	id := strings.TrimSpace(n.ResourceID)
	if id == "" {
		s.logger.Printf("checkout: webhook provider=%s topic=%q without resource id", p.Name(), n.Topic)
		return
	}

	switch strings.ToLower(strings.TrimSpace(n.Topic)) {
	case TopicPayment, "payment.created", "payment.updated":
		info, err := fetcher.FetchPaymentInfo(ctx, id)
		if err != nil {
			s.logger.Printf("checkout: webhook fetch payment_id=%s error=%v", id, err)
			return
		}
		s.webhookPayment(ctx, p, info)
	case TopicMerchantOrder, "topic_merchant_order_wh":
		mof, ok := p.(payment.MerchantOrderFetcher)
		if !ok {
			s.logger.Printf("checkout: webhook provider=%s has no merchant orders", p.Name())
			return
		}
		mo, err := mof.FetchMerchantOrder(ctx, id)
		if err != nil {
			s.logger.Printf("checkout: webhook fetch merchant_order=%s error=%v", id, err)
			return
		}
		for _, info := range mo.Payments {
			s.link(ctx, p.Name(), info.ID, mo.PreferenceRef)
		}
		for _, info := range mo.Payments {
			if info.Status == payment.PaymentApproved {
				s.webhookPayment(ctx, p, info)
			}
		}
	default:
		s.logger.Printf("checkout: webhook provider=%s topic=%q id=%s ignored", p.Name(), n.Topic, id)
	}
}

func (s *Service) webhookPayment(ctx context.Context, p payment.Provider, info payment.PaymentInfo) {
	if info.Status != payment.PaymentApproved {
		s.logger.Printf("checkout: webhook payment_id=%s status=%s detail=%s, nothing to do", info.ID, info.Status, info.StatusDetail)
		return
	}
	if info.PreferenceRef == "" && info.MerchantOrderRef != "" {
		if mof, ok := p.(payment.MerchantOrderFetcher); ok {
			mo, err := mof.FetchMerchantOrder(ctx, info.MerchantOrderRef)
			if err != nil {
				s.logger.Printf("checkout: webhook merchant_order=%s lookup for payment_id=%s error=%v", info.MerchantOrderRef, info.ID, err)
			} else {
				info.PreferenceRef = mo.PreferenceRef
				if info.ExternalReference == "" {
					info.ExternalReference = mo.ExternalReference
				}
			}
		}
	}
	s.link(ctx, p.Name(), info.ID, info.PreferenceRef)

	out, err := s.engine.Reconcile(ctx, mercadoPagoEvent(reconcile.SourceWebhook, info, ""))
	switch {
	case errors.Is(err, reconcile.ErrIntentUnresolved):
		s.logger.Printf("checkout: webhook payment_id=%s unresolved, awaiting redirect", info.ID)
	case err != nil:
		s.logger.Printf("checkout: webhook payment_id=%s reconcile error=%v", info.ID, err)
	case out.Duplicate:
		s.logger.Printf("checkout: webhook payment_id=%s already reconciled order_id=%s", info.ID, out.Order.ID)
	default:
		s.logger.Printf("checkout: webhook payment_id=%s created order_id=%s", info.ID, out.Order.ID)
	}
}
