// Package cart keeps per-user shopping carts. Carts never reserve stock;
// quantities are checked against the live stock level on every write and
// the order transaction has the final word.
package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

type Service struct {
	db      *sqlx.DB
	retries int
	now     func() time.Time
}

func NewService(db *sqlx.DB, retries int) *Service {
	return &Service{db: db, retries: retries, now: func() time.Time { return time.Now().UTC() }}
}

// Add puts qty units of a drug in the cart, adding to any quantity already
// there.
func (s *Service) Add(ctx context.Context, userID, drugID, qty int64) (domain.CartItem, error) {
	if qty < 1 {
		return domain.CartItem{}, fmt.Errorf("%w: quantity must be at least 1", domain.ErrValidation)
	}
	var item domain.CartItem
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		var stock int64
		err := tx.GetContext(ctx, &stock, `SELECT stock_quantity FROM drugs WHERE id = ?`, drugID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: drug not found", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load drug: %w", err)
		}

		var existing int64
		err = tx.GetContext(ctx, &existing, `SELECT quantity FROM cart_items WHERE user_id = ? AND drug_id = ?`, userID, drugID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load cart item: %w", err)
		}
		if stock < existing+qty {
			return fmt.Errorf("%w: only %d available", domain.ErrInsufficientStock, stock)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO cart_items (user_id, drug_id, quantity, created_at) VALUES (?, ?, ?, ?)
            ON CONFLICT(user_id, drug_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity`,
			userID, drugID, qty, s.now()); err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}
		return tx.GetContext(ctx, &item, `SELECT id, user_id, drug_id, quantity, created_at FROM cart_items WHERE user_id = ? AND drug_id = ?`, userID, drugID)
	})
	if err != nil {
		return domain.CartItem{}, err
	}
	return item, nil
}

// Get returns the cart with each line's subtotal and the cart total at
// current prices.
func (s *Service) Get(ctx context.Context, userID int64) (domain.Cart, error) {
	lines := []domain.CartLine{}
	err := s.db.SelectContext(ctx, &lines, `SELECT ci.id, ci.quantity, d.id AS drug_id, d.name, d.description, d.price,
            d.image_url, d.requires_prescription, d.stock_quantity
        FROM cart_items ci
        JOIN drugs d ON d.id = ci.drug_id
        WHERE ci.user_id = ?
        ORDER BY ci.id`, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}

	total := decimal.Zero
	for i := range lines {
		lines[i].Subtotal = lines[i].Price.Mul(decimal.NewFromInt(lines[i].Quantity))
		total = total.Add(lines[i].Subtotal)
	}
	return domain.Cart{Items: lines, Total: total.Round(2)}, nil
}

// UpdateQuantity replaces the quantity of one of the user's cart items.
func (s *Service) UpdateQuantity(ctx context.Context, userID, itemID, qty int64) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", domain.ErrValidation)
	}
	return database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		var stock int64
		err := tx.GetContext(ctx, &stock, `SELECT d.stock_quantity FROM cart_items ci
            JOIN drugs d ON d.id = ci.drug_id
            WHERE ci.id = ? AND ci.user_id = ?`, itemID, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: cart item not found", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load cart item: %w", err)
		}
		if qty > stock {
			return fmt.Errorf("%w: only %d available", domain.ErrInsufficientStock, stock)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cart_items SET quantity = ? WHERE id = ? AND user_id = ?`, qty, itemID, userID); err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		return nil
	})
}

func (s *Service) Remove(ctx context.Context, userID, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND user_id = ?`, itemID, userID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cart item not found", domain.ErrNotFound)
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
