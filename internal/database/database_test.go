package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect(context.Background(), Options{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 2,
		BusyTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE items (
        id INTEGER PRIMARY KEY,
        name TEXT NOT NULL UNIQUE,
        qty INTEGER NOT NULL CHECK (qty >= 0)
    )`)
	require.NoError(t, err)
	return db
}

func TestConnectAppliesPragmas(t *testing.T) {
	db := openTestDB(t)

	var fk int
	require.NoError(t, db.Get(&fk, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.Get(&mode, `PRAGMA journal_mode`))
	assert.Equal(t, "wal", mode)
}

func TestWithTxCommits(t *testing.T) {
	db := openTestDB(t)

	err := WithTx(context.Background(), db, 0, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name, qty) VALUES ('a', 1)`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM items`))
	assert.Equal(t, 1, count)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, 3, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name, qty) VALUES ('a', 1)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM items`))
	assert.Zero(t, count)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)

	assert.Panics(t, func() {
		_ = WithTx(context.Background(), db, 0, func(tx *sqlx.Tx) error {
			_, _ = tx.Exec(`INSERT INTO items (name, qty) VALUES ('a', 1)`)
			panic("boom")
		})
	})

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM items`))
	assert.Zero(t, count)
}

func TestConstraintClassification(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO items (name, qty) VALUES ('a', 1)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO items (name, qty) VALUES ('a', 2)`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsCheckViolation(err))
	assert.False(t, IsBusy(err))

	_, err = db.Exec(`UPDATE items SET qty = qty - 5 WHERE name = 'a'`)
	require.Error(t, err)
	assert.True(t, IsCheckViolation(err))
	assert.False(t, IsUniqueViolation(err))

	assert.False(t, IsBusy(errors.New("plain")))
}
