package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/m/domain"
	"pharmacy/m/internal/testutil"
)

func TestAddIsAdditive(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, 3)
	ctx := context.Background()
	user := testutil.CreateUser(t, db)
	drug := testutil.CreateDrug(t, db, "2.00", 5)

	first, err := svc.Add(ctx, user, drug, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Quantity)

	second, err := svc.Add(ctx, user, drug, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(5), second.Quantity)

	_, err = svc.Add(ctx, user, drug, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	c, err := svc.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, int64(5), c.Items[0].Quantity)
	assert.Equal(t, int64(5), testutil.Stock(t, db, drug), "carts never reserve stock")
}

func TestAddUnknownDrug(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, 3)
	user := testutil.CreateUser(t, db)

	_, err := svc.Add(context.Background(), user, 404, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetComputesSubtotalsAndTotal(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, 3)
	ctx := context.Background()
	user := testutil.CreateUser(t, db)
	a := testutil.CreateDrug(t, db, "2.50", 10)
	b := testutil.CreateDrug(t, db, "0.99", 10)

	_, err := svc.Add(ctx, user, a, 2)
	require.NoError(t, err)
	_, err = svc.Add(ctx, user, b, 3)
	require.NoError(t, err)

	c, err := svc.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	assert.True(t, c.Items[0].Subtotal.Equal(decimal.RequireFromString("5")))
	assert.True(t, c.Items[1].Subtotal.Equal(decimal.RequireFromString("2.97")))
	assert.True(t, c.Total.Equal(decimal.RequireFromString("7.97")), c.Total.String())

	other := testutil.CreateUser(t, db)
	empty, err := svc.Get(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.True(t, empty.Total.IsZero())
}

func TestUpdateQuantityBeyondStockKeepsStoredQuantity(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, 3)
	ctx := context.Background()
	user := testutil.CreateUser(t, db)
	drug := testutil.CreateDrug(t, db, "1.00", 4)

	item, err := svc.Add(ctx, user, drug, 2)
	require.NoError(t, err)

	err = svc.UpdateQuantity(ctx, user, item.ID, 5)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	c, err := svc.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Items[0].Quantity)

	require.NoError(t, svc.UpdateQuantity(ctx, user, item.ID, 4))
	c, err = svc.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.Items[0].Quantity)

	intruder := testutil.CreateUser(t, db)
	require.ErrorIs(t, svc.UpdateQuantity(ctx, intruder, item.ID, 1), domain.ErrNotFound)
	require.ErrorIs(t, svc.UpdateQuantity(ctx, user, item.ID, 0), domain.ErrValidation)
}

func TestRemoveAndClear(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(db, 3)
	ctx := context.Background()
	user := testutil.CreateUser(t, db)
	a := testutil.CreateDrug(t, db, "1.00", 4)
	b := testutil.CreateDrug(t, db, "1.00", 4)

	item, err := svc.Add(ctx, user, a, 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, user, b, 1)
	require.NoError(t, err)

	intruder := testutil.CreateUser(t, db)
	require.ErrorIs(t, svc.Remove(ctx, intruder, item.ID), domain.ErrNotFound)
	require.NoError(t, svc.Remove(ctx, user, item.ID))
	require.ErrorIs(t, svc.Remove(ctx, user, item.ID), domain.ErrNotFound)

	require.NoError(t, svc.Clear(ctx, user))
	c, err := svc.Get(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}
