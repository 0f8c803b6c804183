package domain

import "time"

type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentConsumed IntentStatus = "consumed"
)

// LineItem is a purchased product with its price frozen at checkout time.
type LineItem struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name"`
}

// PurchaseIntent records what a buyer is about to pay for, keyed by the
// token the payment provider issued for the transaction.
type PurchaseIntent struct {
	Token             string       `json:"token"`
	BuyerID           string       `json:"buyerId"`
	Provider          string       `json:"provider"`
	ExternalReference string       `json:"externalReference,omitempty"`
	LineItems         []LineItem   `json:"lineItems"`
	Total             int64        `json:"total"`
	Status            IntentStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
	ConsumedAt        *time.Time   `json:"consumedAt,omitempty"`
}

// Pending reports whether an order may still be materialized from the intent.
func (p PurchaseIntent) Pending() bool {
	return p.Status == IntentPending
}

// SumLineItems returns the sum of unit price times quantity.
func SumLineItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}
