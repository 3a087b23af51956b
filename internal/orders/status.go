package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
	"pharmacy/m/internal/events"
)

// UpdateStatus moves an order along the status machine. Cancelling an order
// returns its items to stock in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status string) (domain.Order, error) {
	next, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, orderID, next, nil)
}

// Cancel lets a customer withdraw their own order while it is still pending.
func (s *Service) Cancel(ctx context.Context, userID, orderID int64) (domain.Order, error) {
	guard := func(order domain.Order) error {
		if order.UserID != userID {
			return fmt.Errorf("%w: order not found", domain.ErrNotFound)
		}
		if order.Status != domain.StatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled, order is %s", domain.ErrInvalidTransition, order.Status)
		}
		return nil
	}
	return s.transition(ctx, orderID, domain.StatusCancelled, guard)
}

func (s *Service) transition(ctx context.Context, orderID int64, next domain.OrderStatus, guard func(domain.Order) error) (domain.Order, error) {
	var (
		order    domain.Order
		previous domain.OrderStatus
	)
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order not found", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: cannot move order from %s to %s", domain.ErrInvalidTransition, order.Status, next)
		}

		now := s.now()
		res, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			next, now, orderID, order.Status)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: order status changed concurrently", domain.ErrConflict)
		}
		if next == domain.StatusCancelled {
			if err := restock(ctx, tx, orderID, now); err != nil {
				return err
			}
		}

		previous = order.Status
		order.Status = next
		order.UpdatedAt = now
		order.Items, err = loadItems(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)))
	s.publish(ctx, events.NewOrderEvent(events.OrderStatusChanged, order, previous))
	return order, nil
}

func restock(ctx context.Context, tx *sqlx.Tx, orderID int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE drugs SET
            stock_quantity = stock_quantity + (SELECT COALESCE(SUM(oi.quantity), 0) FROM order_items oi WHERE oi.order_id = ? AND oi.drug_id = drugs.id),
            updated_at = ?
        WHERE id IN (SELECT drug_id FROM order_items WHERE order_id = ?)`, orderID, now, orderID)
	if err != nil {
		return fmt.Errorf("restock order items: %w", err)
	}
	return nil
}
