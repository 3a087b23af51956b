package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Drug is a catalog entry. StockQuantity is never negative; the database
// enforces it with a CHECK constraint.
type Drug struct {
	ID                   int64           `db:"id" json:"id"`
	Name                 string          `db:"name" json:"name"`
	Description          *string         `db:"description" json:"description"`
	Price                decimal.Decimal `db:"price" json:"price"`
	StockQuantity        int64           `db:"stock_quantity" json:"stock_quantity"`
	ImageURL             *string         `db:"image_url" json:"image_url"`
	RequiresPrescription bool            `db:"requires_prescription" json:"requires_prescription"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

type DrugInput struct {
	Name                 string          `json:"name" validate:"required,max=200"`
	Description          string          `json:"description" validate:"max=2000"`
	Price                decimal.Decimal `json:"price"`
	StockQuantity        int64           `json:"stock_quantity" validate:"gte=0"`
	ImageURL             string          `json:"image_url" validate:"omitempty,url"`
	RequiresPrescription bool            `json:"requires_prescription"`
}

// DrugUpdate lists the columns an admin may change. Nil fields are left
// untouched.
type DrugUpdate struct {
	Name                 *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description          *string          `json:"description" validate:"omitempty,max=2000"`
	Price                *decimal.Decimal `json:"price"`
	StockQuantity        *int64           `json:"stock_quantity" validate:"omitempty,gte=0"`
	ImageURL             *string          `json:"image_url" validate:"omitempty,url"`
	RequiresPrescription *bool            `json:"requires_prescription"`
}

func (u DrugUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Price == nil &&
		u.StockQuantity == nil && u.ImageURL == nil && u.RequiresPrescription == nil
}
