package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/m/domain"
	"pharmacy/m/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestCreateListAndSearch(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.DrugInput{Name: "Paracetamol 500mg", Description: "Pain relief", Price: decimal.RequireFromString("4.99"), StockQuantity: 10})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.DrugInput{Name: "Amoxicillin", Description: "Antibiotic", Price: decimal.RequireFromString("12.50"), StockQuantity: 3, RequiresPrescription: true})
	require.NoError(t, err)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Amoxicillin", all[0].Name)
	assert.True(t, all[0].RequiresPrescription)
	assert.True(t, all[0].Price.Equal(decimal.RequireFromString("12.5")))

	found, err := svc.List(ctx, "  pain ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Paracetamol 500mg", found[0].Name)

	none, err := svc.List(ctx, "100%")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.Create(ctx, domain.DrugInput{Name: "Amoxicillin", Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Create(ctx, domain.DrugInput{Name: "Bad", Price: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateAllowListAndTimestamps(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()

	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	drug, err := svc.Create(ctx, domain.DrugInput{Name: "Ibuprofen", Price: decimal.RequireFromString("3.00"), StockQuantity: 5})
	require.NoError(t, err)

	_, err = svc.Update(ctx, drug.ID, domain.DrugUpdate{})
	require.ErrorIs(t, err, domain.ErrValidation)

	later := created.Add(time.Hour)
	svc.now = func() time.Time { return later }
	updated, err := svc.Update(ctx, drug.ID, domain.DrugUpdate{Price: ptr(decimal.RequireFromString("3.50")), StockQuantity: ptr(int64(8))})
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen", updated.Name)
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("3.5")))
	assert.Equal(t, int64(8), updated.StockQuantity)
	assert.True(t, updated.UpdatedAt.Equal(later))
	assert.True(t, updated.CreatedAt.Equal(created))

	_, err = svc.Update(ctx, drug.ID, domain.DrugUpdate{StockQuantity: ptr(int64(-1))})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Update(ctx, 9999, domain.DrugUpdate{Name: ptr("Ghost")})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRefusesOrderedDrug(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)
	ctx := context.Background()

	free := testutil.CreateDrug(t, db, "1.00", 1)
	ordered := testutil.CreateDrug(t, db, "2.00", 1)
	user := testutil.CreateUser(t, db)

	now := time.Now().UTC()
	var orderID int64
	require.NoError(t, db.QueryRowx(`INSERT INTO orders (user_id, status, total_amount, delivery_address, payment_method, created_at, updated_at)
        VALUES (?, 'pending', 2, '12 Main Street', 'cash', ?, ?) RETURNING id`, user, now, now).Scan(&orderID))
	_, err := db.Exec(`INSERT INTO order_items (order_id, drug_id, quantity, price_at_purchase) VALUES (?, ?, 1, 2)`, orderID, ordered)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, ordered), domain.ErrConflict)
	require.NoError(t, svc.Delete(ctx, free))
	require.ErrorIs(t, svc.Delete(ctx, free), domain.ErrNotFound)

	_, err = svc.Get(ctx, free)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLowStock(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db)

	testutil.CreateDrug(t, db, "1.00", 50)
	low := testutil.CreateDrug(t, db, "1.00", 2)

	drugs, err := svc.LowStock(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, drugs, 1)
	assert.Equal(t, low, drugs[0].ID)
}
