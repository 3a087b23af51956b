// Package seed loads the starter drug catalog and the first administrator.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Columns of the catalog CSV, after the header row:
// name, description, price, stock_quantity, image_url, requires_prescription.
const drugFields = 6

// LoadDrugsFile opens csvPath and hands it to LoadDrugs.
func LoadDrugsFile(ctx context.Context, db *sqlx.DB, csvPath string, logger *zap.Logger) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open drug catalog %s: %w", csvPath, err)
	}
	defer file.Close()
	return LoadDrugs(ctx, db, file, logger)
}

// LoadDrugs ingests the CSV into the drugs table in one transaction. Names
// already present are left alone, so loading the same file twice is a no-op.
// Malformed rows are logged and skipped. It returns the number of new drugs.
func LoadDrugs(ctx context.Context, db *sqlx.DB, r io.Reader, logger *zap.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("read drug catalog header: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin drug seed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO drugs
            (name, description, price, stock_quantity, image_url, requires_prescription, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare drug insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	rows, line := 0, 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			logger.Warn("unreadable drug row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if len(record) < drugFields {
			logger.Warn("short drug row", zap.Int("line", line), zap.Int("fields", len(record)))
			continue
		}
		name := strings.TrimSpace(record[0])
		price, perr := decimal.NewFromString(strings.TrimSpace(record[2]))
		stock, serr := strconv.ParseInt(strings.TrimSpace(record[3]), 10, 64)
		if name == "" || perr != nil || serr != nil || price.IsNegative() || stock < 0 {
			logger.Warn("invalid drug row", zap.Int("line", line), zap.String("name", name))
			continue
		}
		requires, _ := strconv.ParseBool(strings.TrimSpace(record[5]))

		res, err := stmt.ExecContext(ctx, name, nullIfEmpty(record[1]), price.Round(2), stock,
			nullIfEmpty(record[4]), requires, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert drug %q: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit drug seed: %w", err)
	}
	logger.Info("seeded drug catalog", zap.Int("rows", rows))
	return rows, nil
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
