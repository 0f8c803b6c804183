package checkout

import (
	"shop-backend/internal/payment"
	"shop-backend/internal/service/reconcile"
)

// Webpay reuses the transaction token as payment id and as intent reference.
func webpayEvent(token string, c payment.Commit, buyerID string) reconcile.Event {
	return reconcile.Event{
		Source:         reconcile.SourceRedirect,
		Provider:       payment.ProviderWebpay,
		PaymentID:      token,
		PreferenceRef:  token,
		SessionBuyerID: buyerID,
		Status:         payment.PaymentApproved,
		Amount:         c.Amount,
		StatusDetail:   c.ResponseCode,
	}
}

func mercadoPagoEvent(src reconcile.Source, info payment.PaymentInfo, buyerID string) reconcile.Event {
	return reconcile.Event{
		Source:            src,
		Provider:          payment.ProviderMercadoPago,
		PaymentID:         info.ID,
		PreferenceRef:     info.PreferenceRef,
		ExternalReference: info.ExternalReference,
		SessionBuyerID:    buyerID,
		Status:            info.Status,
		Amount:            info.Amount,
		StatusDetail:      info.StatusDetail,
	}
}
