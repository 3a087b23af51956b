package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmacy/m/domain"
)

// Get returns an order with its items. Callers enforce ownership.
func (s *Service) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	var order domain.Order
	err := s.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.Items, err = loadItems(ctx, s.db, orderID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// GetForUser is Get restricted to the order's owner. Orders of other users
// are reported as missing.
func (s *Service) GetForUser(ctx context.Context, userID, orderID int64) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: order not found", domain.ErrNotFound)
	}
	return order, nil
}

// ListByUser returns the user's orders, newest first, with item counts.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]domain.OrderSummary, error) {
	list := []domain.OrderSummary{}
	err := s.db.SelectContext(ctx, &list, `SELECT o.id, o.user_id, o.status, o.total_amount, o.delivery_address, o.payment_method,
            o.idempotency_key, o.created_at, o.updated_at,
            (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id) AS item_count
        FROM orders o
        WHERE o.user_id = ?
        ORDER BY o.created_at DESC, o.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return list, nil
}

// List returns every order for the admin console, optionally filtered by
// status.
func (s *Service) List(ctx context.Context, status string) ([]domain.OrderSummary, error) {
	query := `SELECT o.id, o.user_id, o.status, o.total_amount, o.delivery_address, o.payment_method,
            o.idempotency_key, o.created_at, o.updated_at,
            (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id) AS item_count,
            u.name AS customer_name, u.email AS customer_email
        FROM orders o
        LEFT JOIN users u ON u.id = o.user_id`
	var args []any
	if status != "" {
		parsed, err := domain.ParseOrderStatus(status)
		if err != nil {
			return nil, err
		}
		query += ` WHERE o.status = ?`
		args = append(args, parsed)
	}
	query += ` ORDER BY o.created_at DESC, o.id DESC`

	list := []domain.OrderSummary{}
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}
