package store

import "time"

// Return is a returned-product row, optionally joined with the parent
// order total and, for admin channels, the store and driver names.
type Return struct {
	ID              int64     `json:"id"`
	StoreID         int64     `json:"store_id"`
	OrderID         int64     `json:"order_id"`
	ProductName     string    `json:"product_name"`
	ProductImageURL string    `json:"product_image_url"`
	ReturnReason    string    `json:"return_reason"`
	AdminAccepted   int       `json:"admin_accepted"`
	StoreReceived   int       `json:"store_received"`
	OrderTotal      float64   `json:"order_total"`
	StoreName       string    `json:"store_name,omitempty"`
	DriverName      string    `json:"driver_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Order is an order summary with its line items attached.
type Order struct {
	ID           int64       `json:"id"`
	StoreID      int64       `json:"store_id"`
	UserID       string      `json:"user_id"`
	Status       string      `json:"status"`
	TotalAmount  float64     `json:"total_amount"`
	CustomerName string      `json:"customer_name"`
	UserName     string      `json:"userName"`
	Currency     string      `json:"currency"`
	Items        []OrderItem `json:"items"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderItem is a single line item of an order.
type OrderItem struct {
	ID              int64   `json:"id"`
	OrderID         int64   `json:"order_id"`
	ProductName     string  `json:"product_name"`
	ProductImageURL string  `json:"product_image_url"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
}

// DeliveryRequest is a delivery assignment for a driver.
type DeliveryRequest struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	DriverUID string    `json:"driver_uid"`
	Status    string    `json:"status"`
	Address   string    `json:"address"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
