// Package catalog serves the drug catalog and its admin maintenance.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

const drugColumns = `id, name, description, price, stock_quantity, image_url, requires_prescription, created_at, updated_at`

type Service struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewService(db *sqlx.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// List returns drugs ordered by name. A non-empty search matches name or
// description case-insensitively.
func (s *Service) List(ctx context.Context, search string) ([]domain.Drug, error) {
	drugs := []domain.Drug{}
	search = strings.TrimSpace(search)
	var err error
	if search == "" {
		err = s.db.SelectContext(ctx, &drugs, `SELECT `+drugColumns+` FROM drugs ORDER BY name`)
	} else {
		like := "%" + escapeLike(search) + "%"
		err = s.db.SelectContext(ctx, &drugs, `SELECT `+drugColumns+` FROM drugs
            WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
            ORDER BY name`, like, like)
	}
	if err != nil {
		return nil, fmt.Errorf("list drugs: %w", err)
	}
	return drugs, nil
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Drug, error) {
	var drug domain.Drug
	err := s.db.GetContext(ctx, &drug, `SELECT `+drugColumns+` FROM drugs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Drug{}, fmt.Errorf("%w: drug not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Drug{}, fmt.Errorf("get drug: %w", err)
	}
	return drug, nil
}

func (s *Service) Create(ctx context.Context, in domain.DrugInput) (domain.Drug, error) {
	if in.Price.IsNegative() {
		return domain.Drug{}, fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	}
	now := s.now()
	drug := domain.Drug{
		Name:                 strings.TrimSpace(in.Name),
		Description:          nullIfEmpty(in.Description),
		Price:                in.Price.Round(2),
		StockQuantity:        in.StockQuantity,
		ImageURL:             nullIfEmpty(in.ImageURL),
		RequiresPrescription: in.RequiresPrescription,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if drug.Name == "" {
		return domain.Drug{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	err := s.db.QueryRowxContext(ctx, `INSERT INTO drugs (name, description, price, stock_quantity, image_url, requires_prescription, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		drug.Name, drug.Description, drug.Price, drug.StockQuantity, drug.ImageURL, drug.RequiresPrescription, now, now).Scan(&drug.ID)
	if err != nil {
		return domain.Drug{}, classify(err, "create drug")
	}
	return drug, nil
}

// Update writes only the fields present in u. Column names come from this
// function, never from the request.
func (s *Service) Update(ctx context.Context, id int64, u domain.DrugUpdate) (domain.Drug, error) {
	if u.Empty() {
		return domain.Drug{}, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	var (
		sets []string
		args []any
	)
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return domain.Drug{}, fmt.Errorf("%w: name must not be empty", domain.ErrValidation)
		}
		sets, args = append(sets, "name = ?"), append(args, name)
	}
	if u.Description != nil {
		sets, args = append(sets, "description = ?"), append(args, nullIfEmpty(*u.Description))
	}
	if u.Price != nil {
		if u.Price.IsNegative() {
			return domain.Drug{}, fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
		}
		sets, args = append(sets, "price = ?"), append(args, u.Price.Round(2))
	}
	if u.StockQuantity != nil {
		if *u.StockQuantity < 0 {
			return domain.Drug{}, fmt.Errorf("%w: stock_quantity must not be negative", domain.ErrValidation)
		}
		sets, args = append(sets, "stock_quantity = ?"), append(args, *u.StockQuantity)
	}
	if u.ImageURL != nil {
		sets, args = append(sets, "image_url = ?"), append(args, nullIfEmpty(*u.ImageURL))
	}
	if u.RequiresPrescription != nil {
		sets, args = append(sets, "requires_prescription = ?"), append(args, *u.RequiresPrescription)
	}
	sets, args = append(sets, "updated_at = ?"), append(args, s.now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE drugs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return domain.Drug{}, classify(err, "update drug")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Drug{}, fmt.Errorf("%w: drug not found", domain.ErrNotFound)
	}
	return s.Get(ctx, id)
}

// Delete removes a drug that no order references.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return database.WithTx(ctx, s.db, 0, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM drugs WHERE id = ?)`, id); err != nil {
			return fmt.Errorf("check drug: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: drug not found", domain.ErrNotFound)
		}
		var ordered bool
		if err := tx.GetContext(ctx, &ordered, `SELECT EXISTS(SELECT 1 FROM order_items WHERE drug_id = ?)`, id); err != nil {
			return fmt.Errorf("check order items: %w", err)
		}
		if ordered {
			return fmt.Errorf("%w: cannot delete drug that is in orders", domain.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM drugs WHERE id = ?`, id); err != nil {
			return classify(err, "delete drug")
		}
		return nil
	})
}

// LowStock lists drugs at or below threshold, emptiest first.
func (s *Service) LowStock(ctx context.Context, threshold int64) ([]domain.Drug, error) {
	drugs := []domain.Drug{}
	err := s.db.SelectContext(ctx, &drugs, `SELECT `+drugColumns+` FROM drugs WHERE stock_quantity <= ? ORDER BY stock_quantity, name`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock drugs: %w", err)
	}
	return drugs, nil
}

func classify(err error, op string) error {
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: a drug with this name already exists", domain.ErrConflict)
	case database.IsCheckViolation(err):
		return fmt.Errorf("%w: price and stock must not be negative", domain.ErrValidation)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: drug is still referenced", domain.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
