package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	DrugID    int64     `db:"drug_id" json:"drug_id"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine is a cart item joined with its drug. Subtotal is computed from the
// drug's current price and is never stored.
type CartLine struct {
	ID                   int64           `db:"id" json:"id"`
	DrugID               int64           `db:"drug_id" json:"drug_id"`
	Name                 string          `db:"name" json:"name"`
	Description          *string         `db:"description" json:"description"`
	Price                decimal.Decimal `db:"price" json:"price"`
	ImageURL             *string         `db:"image_url" json:"image_url"`
	RequiresPrescription bool            `db:"requires_prescription" json:"requires_prescription"`
	StockQuantity        int64           `db:"stock_quantity" json:"stock_quantity"`
	Quantity             int64           `db:"quantity" json:"quantity"`
	Subtotal             decimal.Decimal `db:"-" json:"subtotal"`
}

type Cart struct {
	Items []CartLine      `json:"cart"`
	Total decimal.Decimal `json:"total"`
}
