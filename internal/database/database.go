package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Options controls how the SQLite file is opened.
type Options struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DSN builds the modernc.org/sqlite connection string. Every connection gets
// foreign keys, WAL and a busy timeout; transactions begin IMMEDIATE so
// writers serialize on the database lock at BEGIN rather than at first write.
func DSN(opts Options) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return "file:" + opts.Path + "?" + q.Encode()
}

// Connect opens a SQLite database pool using the provided options.
func Connect(ctx context.Context, opts Options) (*sqlx.DB, error) {
	if opts.MaxOpenConns < 1 {
		opts.MaxOpenConns = 1
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	db, err := sqlx.Open("sqlite", DSN(opts))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}
