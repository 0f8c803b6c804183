package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

const (
	PaymentMethodWebpay      = "webpay"
	PaymentMethodMercadoPago = "mercadopago"
)

// Order is the permanent record of a confirmed payment.
type Order struct {
	ID            string      `json:"id"`
	BuyerID       string      `json:"buyerId"`
	Items         []LineItem  `json:"items"`
	Total         int64       `json:"total"`
	Status        OrderStatus `json:"status"`
	PaymentMethod string      `json:"paymentMethod"`
	PaymentID     string      `json:"paymentId,omitempty"`
	IntentToken   *string     `json:"-"`
	CreatedAt     time.Time   `json:"createdAt"`
}
