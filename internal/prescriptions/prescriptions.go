// Package prescriptions attaches an uploaded prescription to an order. An
// order carries at most one prescription.
package prescriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
	"pharmacy/m/internal/uploads"
)

type Service struct {
	db     *sqlx.DB
	store  *uploads.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *sqlx.DB, store *uploads.Store, logger *zap.Logger) *Service {
	return &Service{db: db, store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Upload stores the file and records it against one of the user's orders.
func (s *Service) Upload(ctx context.Context, userID, orderID int64, filename string, size int64, r io.Reader) (domain.Prescription, error) {
	var owner int64
	err := s.db.GetContext(ctx, &owner, `SELECT user_id FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return domain.Prescription{}, fmt.Errorf("%w: order not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Prescription{}, fmt.Errorf("load order: %w", err)
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM prescriptions WHERE order_id = ?)`, orderID); err != nil {
		return domain.Prescription{}, fmt.Errorf("check prescription: %w", err)
	}
	if exists {
		return domain.Prescription{}, errAlreadyUploaded
	}

	url, err := s.store.Save(uploads.Prescription, filename, size, r)
	if err != nil {
		return domain.Prescription{}, err
	}

	p := domain.Prescription{OrderID: orderID, ImageURL: url, UploadedAt: s.now()}
	err = s.db.QueryRowxContext(ctx, `INSERT INTO prescriptions (order_id, image_url, uploaded_at) VALUES (?, ?, ?) RETURNING id`,
		p.OrderID, p.ImageURL, p.UploadedAt).Scan(&p.ID)
	if err != nil {
		s.discard(url)
		if database.IsUniqueViolation(err) {
			return domain.Prescription{}, errAlreadyUploaded
		}
		return domain.Prescription{}, fmt.Errorf("insert prescription: %w", err)
	}

	s.logger.Info("prescription uploaded", zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
	return p, nil
}

var errAlreadyUploaded = fmt.Errorf("%w: prescription already uploaded for this order", domain.ErrConflict)

func (s *Service) discard(url string) {
	if err := s.store.Remove(url); err != nil {
		s.logger.Warn("remove orphaned upload", zap.String("url", url), zap.Error(err))
	}
}

// GetByOrder returns the prescription of any order.
func (s *Service) GetByOrder(ctx context.Context, orderID int64) (domain.Prescription, error) {
	var p domain.Prescription
	err := s.db.GetContext(ctx, &p, `SELECT id, order_id, image_url, uploaded_at FROM prescriptions WHERE order_id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Prescription{}, fmt.Errorf("%w: prescription not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Prescription{}, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// GetForUser is GetByOrder limited to the user's own orders.
func (s *Service) GetForUser(ctx context.Context, userID, orderID int64) (domain.Prescription, error) {
	var p domain.Prescription
	err := s.db.GetContext(ctx, &p, `SELECT p.id, p.order_id, p.image_url, p.uploaded_at
        FROM prescriptions p
        JOIN orders o ON o.id = p.order_id
        WHERE p.order_id = ? AND o.user_id = ?`, orderID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Prescription{}, fmt.Errorf("%w: prescription not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Prescription{}, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}
