package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusProcessing     OrderStatus = "processing"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	StatusDelivered:      nil,
	StatusCancelled:      nil,
}

// ParseOrderStatus rejects anything outside the five known statuses.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
	}
	return status, nil
}

func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentCard
}

type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Status          OrderStatus     `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	DeliveryAddress string          `db:"delivery_address" json:"delivery_address"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Items           []OrderItem     `db:"-" json:"items,omitempty"`
}

// OrderItem keeps the unit price the drug had when the order was placed.
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	DrugID          int64           `db:"drug_id" json:"drug_id"`
	Quantity        int64           `db:"quantity" json:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase" json:"price_at_purchase"`
	DrugName        string          `db:"drug_name" json:"drug_name"`
	ImageURL        *string         `db:"image_url" json:"image_url"`
}

// OrderSummary is a list row: the order plus aggregate and customer columns.
type OrderSummary struct {
	Order
	ItemCount     int64   `db:"item_count" json:"item_count"`
	CustomerName  *string `db:"customer_name" json:"customer_name,omitempty"`
	CustomerEmail *string `db:"customer_email" json:"customer_email,omitempty"`
}

type OrderLine struct {
	DrugID   int64 `db:"drug_id" json:"drug_id" validate:"required,gte=1"`
	Quantity int64 `db:"quantity" json:"quantity" validate:"required,gte=1"`
}

type Prescription struct {
	ID         int64     `db:"id" json:"id"`
	OrderID    int64     `db:"order_id" json:"order_id"`
	ImageURL   string    `db:"image_url" json:"image_url"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploaded_at"`
}
