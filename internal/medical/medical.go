// Package medical keeps patients' medical records: doctors, reports,
// prescriptions, appointments, allergies, chronic conditions, vital signs
// and the per-user history summary.
package medical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
	"pharmacy/m/internal/uploads"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Service struct {
	db      *sqlx.DB
	store   *uploads.Store
	logger  *zap.Logger
	retries int
	now     func() time.Time
}

func NewService(db *sqlx.DB, store *uploads.Store, logger *zap.Logger, retries int) *Service {
	return &Service{
		db:      db,
		store:   store,
		logger:  logger,
		retries: retries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Page is a limit/offset window. A zero Limit means the default of 20.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() (Page, error) {
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	if p.Limit < 1 || p.Limit > maxLimit {
		return p, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxLimit)
	}
	if p.Offset < 0 {
		return p, fmt.Errorf("%w: offset must not be negative", domain.ErrValidation)
	}
	return p, nil
}

func oneOf(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s", domain.ErrValidation, field, strings.Join(allowed, ", "))
}

// optionalDate parses an optional date field into a nullable column value.
func optionalDate(s string) (*string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func classify(err error, op, what string) error {
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, what)
	case database.IsCheckViolation(err):
		return fmt.Errorf("%w: invalid %s", domain.ErrValidation, what)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced record not found", domain.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// exists reports whether query returns a row.
func exists(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, q, &ok, `SELECT EXISTS(`+query+`)`, args...)
	return ok, err
}
