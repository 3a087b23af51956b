// Package orders turns item lists and carts into orders. Stock is checked
// and consumed inside a single IMMEDIATE transaction, and every decrement is
// conditional on enough stock remaining, so concurrent orders can never
// oversell a drug.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
	"pharmacy/m/internal/events"
)

const orderColumns = `id, user_id, status, total_amount, delivery_address, payment_method, idempotency_key, created_at, updated_at`

type CreateInput struct {
	UserID          int64
	Items           []domain.OrderLine
	DeliveryAddress string
	PaymentMethod   domain.PaymentMethod
	IdempotencyKey  string
}

// Result is a created order. Replayed is set when the idempotency key matched
// an earlier order and nothing new was written.
type Result struct {
	Order    domain.Order
	Replayed bool
}

type Service struct {
	db        *sqlx.DB
	publisher events.Publisher
	logger    *zap.Logger
	retries   int
	now       func() time.Time
}

func NewService(db *sqlx.DB, publisher events.Publisher, logger *zap.Logger, retries int) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		db:        db,
		publisher: publisher,
		logger:    logger,
		retries:   retries,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func normalize(in CreateInput) (CreateInput, error) {
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if len(in.DeliveryAddress) < 5 {
		return in, fmt.Errorf("%w: delivery_address must be at least 5 characters", domain.ErrValidation)
	}
	if !in.PaymentMethod.Valid() {
		return in, fmt.Errorf("%w: payment_method must be cash or card", domain.ErrValidation)
	}
	if len(in.IdempotencyKey) > 255 {
		return in, fmt.Errorf("%w: idempotency key is too long", domain.ErrValidation)
	}
	return in, nil
}

func checkItems(items []domain.OrderLine) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}
	for _, item := range items {
		if item.DrugID < 1 || item.Quantity < 1 {
			return fmt.Errorf("%w: each item needs a drug_id and a quantity of at least 1", domain.ErrValidation)
		}
	}
	return nil
}

// Create places an order for the given items. Either every item is priced,
// recorded and taken from stock, or nothing changes.
func (s *Service) Create(ctx context.Context, in CreateInput) (Result, error) {
	if err := checkItems(in.Items); err != nil {
		return Result{}, err
	}
	in, err := normalize(in)
	if err != nil {
		return Result{}, err
	}
	return s.place(ctx, in, false)
}

// Checkout places an order for everything in the user's cart and empties the
// cart in the same transaction.
func (s *Service) Checkout(ctx context.Context, userID int64, address string, method domain.PaymentMethod, key string) (Result, error) {
	in, err := normalize(CreateInput{UserID: userID, DeliveryAddress: address, PaymentMethod: method, IdempotencyKey: key})
	if err != nil {
		return Result{}, err
	}
	return s.place(ctx, in, true)
}

func (s *Service) place(ctx context.Context, in CreateInput, fromCart bool) (Result, error) {
	var res Result
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		res = Result{}
		if in.IdempotencyKey != "" {
			existing, err := s.findByKey(ctx, tx, in.UserID, in.IdempotencyKey)
			if err == nil {
				res = Result{Order: existing, Replayed: true}
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		items := in.Items
		if fromCart {
			var err error
			if items, err = cartLines(ctx, tx, in.UserID); err != nil {
				return err
			}
		}

		order, err := s.insert(ctx, tx, in, items)
		if err != nil {
			return err
		}
		if fromCart {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, in.UserID); err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
		}
		res.Order = order
		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) && in.IdempotencyKey != "" {
			// Another request with the same key committed first.
			existing, ferr := s.findByKey(ctx, s.db, in.UserID, in.IdempotencyKey)
			if ferr == nil {
				return Result{Order: existing, Replayed: true}, nil
			}
		}
		return Result{}, err
	}

	if res.Replayed {
		s.logger.Info("order replayed", zap.Int64("order_id", res.Order.ID), zap.Int64("user_id", in.UserID))
		return res, nil
	}
	s.logger.Info("order created",
		zap.Int64("order_id", res.Order.ID),
		zap.Int64("user_id", in.UserID),
		zap.String("total", res.Order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(res.Order.Items)))
	s.publish(ctx, events.NewOrderEvent(events.OrderCreated, res.Order, ""))
	return res, nil
}

func cartLines(ctx context.Context, tx *sqlx.Tx, userID int64) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := tx.SelectContext(ctx, &lines, `SELECT drug_id, quantity FROM cart_items WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}
	return lines, nil
}

type drugSnapshot struct {
	ID       int64           `db:"id"`
	Name     string          `db:"name"`
	Price    decimal.Decimal `db:"price"`
	Stock    int64           `db:"stock_quantity"`
	ImageURL *string         `db:"image_url"`
}

func (s *Service) insert(ctx context.Context, tx *sqlx.Tx, in CreateInput, items []domain.OrderLine) (domain.Order, error) {
	snapshots := make([]drugSnapshot, len(items))
	total := decimal.Zero
	for i, item := range items {
		err := tx.GetContext(ctx, &snapshots[i], `SELECT id, name, price, stock_quantity, image_url FROM drugs WHERE id = ?`, item.DrugID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: drug with ID %d not found", domain.ErrNotFound, item.DrugID)
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("load drug %d: %w", item.DrugID, err)
		}
		if snapshots[i].Stock < item.Quantity {
			return domain.Order{}, fmt.Errorf("%w: insufficient stock for drug ID %d", domain.ErrInsufficientStock, item.DrugID)
		}
		total = total.Add(snapshots[i].Price.Mul(decimal.NewFromInt(item.Quantity)))
	}

	now := s.now()
	order := domain.Order{
		UserID:          in.UserID,
		Status:          domain.StatusPending,
		TotalAmount:     total.Round(2),
		DeliveryAddress: in.DeliveryAddress,
		PaymentMethod:   in.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.IdempotencyKey != "" {
		order.IdempotencyKey = &in.IdempotencyKey
	}
	err := tx.QueryRowxContext(ctx, `INSERT INTO orders (user_id, status, total_amount, delivery_address, payment_method, idempotency_key, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		order.UserID, order.Status, order.TotalAmount, order.DeliveryAddress, order.PaymentMethod, order.IdempotencyKey, now, now).Scan(&order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, item := range items {
		snap := snapshots[i]
		line := domain.OrderItem{
			OrderID:         order.ID,
			DrugID:          item.DrugID,
			Quantity:        item.Quantity,
			PriceAtPurchase: snap.Price,
			DrugName:        snap.Name,
			ImageURL:        snap.ImageURL,
		}
		err := tx.QueryRowxContext(ctx, `INSERT INTO order_items (order_id, drug_id, quantity, price_at_purchase) VALUES (?, ?, ?, ?) RETURNING id`,
			line.OrderID, line.DrugID, line.Quantity, line.PriceAtPurchase).Scan(&line.ID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE drugs SET stock_quantity = stock_quantity - ?, updated_at = ?
            WHERE id = ? AND stock_quantity >= ?`, item.Quantity, now, item.DrugID, item.Quantity)
		if err != nil {
			if database.IsCheckViolation(err) {
				return domain.Order{}, fmt.Errorf("%w: insufficient stock for drug ID %d", domain.ErrInsufficientStock, item.DrugID)
			}
			return domain.Order{}, fmt.Errorf("decrement stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// The same drug listed twice can exhaust stock that each line
			// passed individually.
			return domain.Order{}, fmt.Errorf("%w: insufficient stock for drug ID %d", domain.ErrInsufficientStock, item.DrugID)
		}
		order.Items = append(order.Items, line)
	}
	return order, nil
}

func (s *Service) findByKey(ctx context.Context, q sqlx.QueryerContext, userID int64, key string) (domain.Order, error) {
	var order domain.Order
	err := sqlx.GetContext(ctx, q, &order, `SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND idempotency_key = ?`, userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("%w: order not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order by key: %w", err)
	}
	if order.Items, err = loadItems(ctx, q, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func loadItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]domain.OrderItem, error) {
	items := []domain.OrderItem{}
	err := sqlx.SelectContext(ctx, q, &items, `SELECT oi.id, oi.order_id, oi.drug_id, oi.quantity, oi.price_at_purchase,
            d.name AS drug_name, d.image_url
        FROM order_items oi
        JOIN drugs d ON d.id = oi.drug_id
        WHERE oi.order_id = ?
        ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return items, nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	// The order is already committed; a delivery failure is only logged.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("publish order event failed",
			zap.String("type", ev.Type),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err))
	}
}
