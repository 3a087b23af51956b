package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Phone    string `json:"phone" validate:"max=20"`
	Address  string `json:"address" validate:"max=500"`
}

type Session struct {
	Token string        `json:"token"`
	User  *domain.User  `json:"user,omitempty"`
	Admin *domain.Admin `json:"admin,omitempty"`
}

// Service registers and authenticates customers and administrators.
type Service struct {
	db     *sqlx.DB
	tokens *Tokens
	log    *zap.Logger
	now    func() time.Time
}

func NewService(db *sqlx.DB, tokens *Tokens, logger *zap.Logger) *Service {
	return &Service{db: db, tokens: tokens, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	if err := domain.Validate(in); err != nil {
		return Session{}, err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Phone:     nullIfEmpty(in.Phone),
		Address:   nullIfEmpty(in.Address),
		CreatedAt: s.now(),
	}
	err = s.db.QueryRowxContext(ctx, `INSERT INTO users (email, password_hash, name, phone, address, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		user.Email, string(hashed), user.Name, user.Phone, user.Address, user.CreatedAt).Scan(&user.ID)
	if database.IsUniqueViolation(err) {
		return Session{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	if err != nil {
		return Session{}, fmt.Errorf("insert user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID, user.Email, domain.RoleUser)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("user registered", zap.Int64("user_id", user.ID))
	return Session{Token: token, User: &user}, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT id, email, password_hash, name, phone, address, created_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	token, err := s.tokens.Issue(user.ID, user.Email, domain.RoleUser)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: &user}, nil
}

func (s *Service) AdminLogin(ctx context.Context, email, password string) (Session, error) {
	var admin domain.Admin
	err := s.db.GetContext(ctx, &admin, `SELECT id, email, password_hash, name, role, created_at FROM admins WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load admin: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return Session{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	token, err := s.tokens.Issue(admin.ID, admin.Email, domain.RoleAdmin)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.log.Info("admin signed in", zap.Int64("admin_id", admin.ID))
	return Session{Token: token, Admin: &admin}, nil
}

// EnsureAdmin creates the administrator account if the email is not yet
// taken. It reports whether a row was inserted.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 6 {
		return false, fmt.Errorf("%w: admin email and a password of at least 6 characters are required", domain.ErrValidation)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO admins (email, password_hash, name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		email, string(hashed), name, domain.RoleAdmin, s.now())
	if err != nil {
		return false, fmt.Errorf("insert admin: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
