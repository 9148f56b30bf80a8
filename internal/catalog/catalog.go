// Package catalog reads products from and appends orders to the storefront
// spreadsheet.
package catalog

import (
	"context"
	"time"
)

// Product is one row of the Products sheet.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Stock       int    `json:"stock"`
}

// OrderItem is a product and quantity within an order.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Order is one row of the Orders sheet.
type Order struct {
	ID            string      `json:"id"`
	CustomerName  string      `json:"customerName"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []OrderItem `json:"items"`
	Note          string      `json:"note,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// ProductLister returns the current product list.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]Product, error)
}

// OrderAppender records a new order.
type OrderAppender interface {
	AppendOrder(ctx context.Context, order Order) error
}
