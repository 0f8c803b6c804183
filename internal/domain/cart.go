package domain

import "time"

// Cart is the single shopping cart owned by a buyer.
type Cart struct {
	ID        string     `json:"id"`
	BuyerID   string     `json:"buyerId"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CartItem references a product by id; Product is populated on reads that join the catalog.
type CartItem struct {
	ProductID string   `json:"productId"`
	Quantity  int      `json:"quantity"`
	Product   *Product `json:"product,omitempty"`
}

// TotalItems sums quantities across all lines.
func (c Cart) TotalItems() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}
