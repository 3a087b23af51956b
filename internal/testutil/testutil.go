// Package testutil builds migrated SQLite databases and fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pharmacy/m/internal/database"
	"pharmacy/m/internal/migrations"
)

var seq atomic.Int64

// NewDB returns a migrated database in a temporary directory. The pool has
// several connections so tests can exercise concurrent transactions.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(ctx, database.Options{
		Path:         filepath.Join(t.TempDir(), "pharmacy.db"),
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(ctx, db))
	return db
}

func CreateUser(t *testing.T, db *sqlx.DB) int64 {
	t.Helper()
	n := seq.Add(1)
	var id int64
	err := db.QueryRowx(`INSERT INTO users (email, password_hash, name, created_at) VALUES (?, 'x', ?, ?) RETURNING id`,
		fmt.Sprintf("user%d@example.com", n), fmt.Sprintf("User %d", n), time.Now().UTC()).Scan(&id)
	require.NoError(t, err)
	return id
}

func CreateDrug(t *testing.T, db *sqlx.DB, price string, stock int64) int64 {
	t.Helper()
	n := seq.Add(1)
	now := time.Now().UTC()
	var id int64
	err := db.QueryRowx(`INSERT INTO drugs (name, description, price, stock_quantity, created_at, updated_at) VALUES (?, 'test drug', ?, ?, ?, ?) RETURNING id`,
		fmt.Sprintf("Drug %d", n), decimal.RequireFromString(price), stock, now, now).Scan(&id)
	require.NoError(t, err)
	return id
}

func CreateDoctor(t *testing.T, db *sqlx.DB, fee string) int64 {
	t.Helper()
	n := seq.Add(1)
	now := time.Now().UTC()
	var id int64
	err := db.QueryRowx(`INSERT INTO doctors (name, email, specialization, license_number, hospital_clinic, consultation_fee, created_at, updated_at)
        VALUES (?, ?, 'General Practice', ?, 'City Clinic', ?, ?, ?) RETURNING id`,
		fmt.Sprintf("Dr. Test %d", n), fmt.Sprintf("doctor%d@example.com", n), fmt.Sprintf("LIC-%d", n),
		decimal.RequireFromString(fee), now, now).Scan(&id)
	require.NoError(t, err)
	return id
}

func Stock(t *testing.T, db *sqlx.DB, drugID int64) int64 {
	t.Helper()
	var stock int64
	require.NoError(t, db.Get(&stock, `SELECT stock_quantity FROM drugs WHERE id = ?`, drugID))
	return stock
}

func Count(t *testing.T, db *sqlx.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}
