// Package report builds the admin dashboard figures and the spreadsheet
// exports and imports of the catalog and the order book.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

// LowStockThreshold is the stock level at or below which a drug is flagged.
const LowStockThreshold = 10

const timeLayout = "2006-01-02 15:04:05"

type Service struct {
	db      *sqlx.DB
	logger  *zap.Logger
	retries int
	now     func() time.Time
}

func NewService(db *sqlx.DB, logger *zap.Logger, retries int) *Service {
	return &Service{db: db, logger: logger, retries: retries, now: func() time.Time { return time.Now().UTC() }}
}

type LowStockDrug struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	StockQuantity int64  `db:"stock_quantity" json:"stock_quantity"`
}

type Stats struct {
	Users          int64                        `json:"users"`
	Drugs          int64                        `json:"drugs"`
	Orders         int64                        `json:"orders"`
	OrdersByStatus map[domain.OrderStatus]int64 `json:"orders_by_status"`
	Revenue        decimal.Decimal              `json:"revenue"`
	LowStock       []LowStockDrug               `json:"low_stock"`
}

// Stats summarizes the store. Revenue counts every order that was not
// cancelled.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{OrdersByStatus: map[domain.OrderStatus]int64{}, LowStock: []LowStockDrug{}}
	if err := s.db.GetContext(ctx, &st.Users, `SELECT COUNT(*) FROM users`); err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.Drugs, `SELECT COUNT(*) FROM drugs`); err != nil {
		return Stats{}, fmt.Errorf("count drugs: %w", err)
	}

	var rows []struct {
		Status  domain.OrderStatus `db:"status"`
		Count   int64              `db:"n"`
		Revenue decimal.Decimal    `db:"revenue"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n, COALESCE(SUM(total_amount), 0) AS revenue
        FROM orders GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("count orders: %w", err)
	}
	for _, r := range rows {
		st.Orders += r.Count
		st.OrdersByStatus[r.Status] = r.Count
		if r.Status != domain.StatusCancelled {
			st.Revenue = st.Revenue.Add(r.Revenue)
		}
	}
	st.Revenue = st.Revenue.Round(2)

	err = s.db.SelectContext(ctx, &st.LowStock, `SELECT id, name, stock_quantity FROM drugs
        WHERE stock_quantity <= ? ORDER BY stock_quantity, name`, LowStockThreshold)
	if err != nil {
		return Stats{}, fmt.Errorf("low stock drugs: %w", err)
	}
	return st, nil
}

// ExportDrugs writes the catalog as an xlsx workbook.
func (s *Service) ExportDrugs(ctx context.Context, w io.Writer) error {
	var drugs []domain.Drug
	err := s.db.SelectContext(ctx, &drugs, `SELECT id, name, description, price, stock_quantity, image_url,
            requires_prescription, created_at, updated_at
        FROM drugs ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load drugs: %w", err)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Drugs")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	header(sheet, drugHeaders...)
	for _, d := range drugs {
		row := sheet.AddRow()
		row.AddCell().SetInt64(d.ID)
		row.AddCell().SetString(d.Name)
		row.AddCell().SetString(deref(d.Description))
		row.AddCell().SetString(d.Price.StringFixed(2))
		row.AddCell().SetInt64(d.StockQuantity)
		row.AddCell().SetString(deref(d.ImageURL))
		row.AddCell().SetBool(d.RequiresPrescription)
		row.AddCell().SetString(d.CreatedAt.Format(timeLayout))
		row.AddCell().SetString(d.UpdatedAt.Format(timeLayout))
	}
	return file.Write(w)
}

var drugHeaders = []string{"ID", "Name", "Description", "Price", "Stock", "ImageURL", "RequiresPrescription", "CreatedAt", "UpdatedAt"}

// ExportOrders writes the order book, one row per order line, as an xlsx
// workbook with an Orders and an Items sheet.
func (s *Service) ExportOrders(ctx context.Context, w io.Writer) error {
	var orders []domain.OrderSummary
	err := s.db.SelectContext(ctx, &orders, `SELECT o.id, o.user_id, o.status, o.total_amount, o.delivery_address,
            o.payment_method, o.idempotency_key, o.created_at, o.updated_at,
            (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id) AS item_count,
            u.name AS customer_name, u.email AS customer_email
        FROM orders o
        LEFT JOIN users u ON u.id = o.user_id
        ORDER BY o.id`)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	var items []domain.OrderItem
	err = s.db.SelectContext(ctx, &items, `SELECT oi.id, oi.order_id, oi.drug_id, oi.quantity, oi.price_at_purchase,
            d.name AS drug_name, d.image_url
        FROM order_items oi
        JOIN drugs d ON d.id = oi.drug_id
        ORDER BY oi.order_id, oi.id`)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	header(sheet, "ID", "Customer", "Email", "Status", "Total", "Items", "Payment", "DeliveryAddress", "CreatedAt", "UpdatedAt")
	for _, o := range orders {
		row := sheet.AddRow()
		row.AddCell().SetInt64(o.ID)
		row.AddCell().SetString(deref(o.CustomerName))
		row.AddCell().SetString(deref(o.CustomerEmail))
		row.AddCell().SetString(string(o.Status))
		row.AddCell().SetString(o.TotalAmount.StringFixed(2))
		row.AddCell().SetInt64(o.ItemCount)
		row.AddCell().SetString(string(o.PaymentMethod))
		row.AddCell().SetString(o.DeliveryAddress)
		row.AddCell().SetString(o.CreatedAt.Format(timeLayout))
		row.AddCell().SetString(o.UpdatedAt.Format(timeLayout))
	}

	lines, err := file.AddSheet("Items")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	header(lines, "OrderID", "DrugID", "Drug", "Quantity", "UnitPrice", "Subtotal")
	for _, it := range items {
		row := lines.AddRow()
		row.AddCell().SetInt64(it.OrderID)
		row.AddCell().SetInt64(it.DrugID)
		row.AddCell().SetString(it.DrugName)
		row.AddCell().SetInt64(it.Quantity)
		row.AddCell().SetString(it.PriceAtPurchase.StringFixed(2))
		row.AddCell().SetString(it.PriceAtPurchase.Mul(decimal.NewFromInt(it.Quantity)).StringFixed(2))
	}
	return file.Write(w)
}

type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ImportDrugs reads a workbook laid out like ExportDrugs and upserts each
// row by drug name. Rows without a name or with an unreadable price or
// stock are skipped.
func (s *Service) ImportDrugs(ctx context.Context, r io.ReaderAt, size int64) (ImportResult, error) {
	book, err := xlsx.OpenReaderAt(r, size)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: not a readable xlsx workbook", domain.ErrInvalidFile)
	}
	if len(book.Sheets) == 0 || book.Sheets[0].MaxRow < 2 {
		return ImportResult{}, fmt.Errorf("%w: workbook is empty or missing its header row", domain.ErrInvalidFile)
	}
	sheet := book.Sheets[0]

	var res ImportResult
	err = database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		res = ImportResult{}
		now := s.now()
		for _, row := range sheet.Rows[1:] {
			if row == nil {
				continue
			}
			get := func(i int) string {
				if i < len(row.Cells) {
					return strings.TrimSpace(row.Cells[i].String())
				}
				return ""
			}
			name := get(1)
			price, perr := decimal.NewFromString(get(3))
			stock, serr := strconv.ParseInt(get(4), 10, 64)
			if name == "" || perr != nil || serr != nil || price.IsNegative() || stock < 0 {
				res.Skipped++
				continue
			}
			requires, _ := strconv.ParseBool(get(6))

			var existed bool
			if err := tx.GetContext(ctx, &existed, `SELECT EXISTS(SELECT 1 FROM drugs WHERE name = ?)`, name); err != nil {
				return fmt.Errorf("check drug: %w", err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO drugs (name, description, price, stock_quantity, image_url, requires_prescription, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT(name) DO UPDATE SET
                    description = excluded.description,
                    price = excluded.price,
                    stock_quantity = excluded.stock_quantity,
                    image_url = excluded.image_url,
                    requires_prescription = excluded.requires_prescription,
                    updated_at = excluded.updated_at`,
				name, nullIfEmpty(get(2)), price.Round(2), stock, nullIfEmpty(get(5)), requires, now, now)
			if err != nil {
				return fmt.Errorf("upsert drug %q: %w", name, err)
			}
			if existed {
				res.Updated++
			} else {
				res.Created++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("drug catalog imported",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func header(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetValue(n)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(val string) *string {
	if val == "" {
		return nil
	}
	return &val
}
