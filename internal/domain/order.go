package domain

import "time"

type OrderItem struct {
	ProductID string  `json:"product_id"`
	USSize    string  `json:"us_size"`
	Color     string  `json:"color"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

// Order is the record created once an approved payment has been committed.
type Order struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transaction_id"`
	UserID        string        `json:"user_id"`
	Payer         Payer         `json:"payer"`
	Status        PaymentStatus `json:"status"`
	StatusDetail  string        `json:"status_detail,omitempty"`
	Items         []OrderItem   `json:"items"`
	Delivered     bool          `json:"delivered"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OrderItems converts normalized cart lines into order items.
func OrderItems(lines []CartLine) []OrderItem {
	items := make([]OrderItem, len(lines))
	for i, l := range lines {
		items[i] = OrderItem{
			ProductID: l.ProductID,
			USSize:    string(l.USSize),
			Color:     l.Color,
			Quantity:  l.Quantity,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
		}
	}
	return items
}
