package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/events"
	"pharmacy/m/internal/testutil"
)

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func newService(t *testing.T) (*Service, *capture) {
	t.Helper()
	db := testutil.NewDB(t)
	pub := &capture{}
	return NewService(db, pub, zap.NewNop(), 3), pub
}

func order(user int64, lines ...domain.OrderLine) CreateInput {
	return CreateInput{
		UserID:          user,
		Items:           lines,
		DeliveryAddress: "221B Baker Street",
		PaymentMethod:   domain.PaymentCash,
	}
}

func TestCreateOrderSnapshotsPricesAndDecrementsStock(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	a := testutil.CreateDrug(t, svc.db, "4.99", 10)
	b := testutil.CreateDrug(t, svc.db, "12.50", 3)

	res, err := svc.Create(ctx, order(user,
		domain.OrderLine{DrugID: a, Quantity: 2},
		domain.OrderLine{DrugID: b, Quantity: 1},
	))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.StatusPending, res.Order.Status)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("22.48")), res.Order.TotalAmount.String())
	require.Len(t, res.Order.Items, 2)
	assert.True(t, res.Order.Items[0].PriceAtPurchase.Equal(decimal.RequireFromString("4.99")))

	assert.Equal(t, int64(8), testutil.Stock(t, svc.db, a))
	assert.Equal(t, int64(2), testutil.Stock(t, svc.db, b))
	assert.Equal(t, []string{events.OrderCreated}, pub.types())

	got, err := svc.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.NotEmpty(t, got.Items[0].DrugName)
	assert.True(t, got.TotalAmount.Equal(res.Order.TotalAmount))
}

func TestPriceAtPurchaseSurvivesPriceChange(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "10.00", 5)

	res, err := svc.Create(ctx, order(user, domain.OrderLine{DrugID: drug, Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.db.Exec(`UPDATE drugs SET price = 99.99 WHERE id = ?`, drug)
	require.NoError(t, err)

	got, err := svc.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.True(t, got.Items[0].PriceAtPurchase.Equal(decimal.RequireFromString("10")))
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("10")))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	plenty := testutil.CreateDrug(t, svc.db, "1.00", 10)
	scarce := testutil.CreateDrug(t, svc.db, "1.00", 1)

	_, err := svc.Create(ctx, order(user,
		domain.OrderLine{DrugID: plenty, Quantity: 3},
		domain.OrderLine{DrugID: scarce, Quantity: 2},
	))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, int64(10), testutil.Stock(t, svc.db, plenty))
	assert.Equal(t, int64(1), testutil.Stock(t, svc.db, scarce))
	assert.Zero(t, testutil.Count(t, svc.db, "orders"))
	assert.Zero(t, testutil.Count(t, svc.db, "order_items"))
	assert.Empty(t, pub.types())

	_, err = svc.Create(ctx, order(user, domain.OrderLine{DrugID: 404, Quantity: 1}))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDuplicateLinesCannotOversell(t *testing.T) {
	svc, _ := newService(t)
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "1.00", 4)

	_, err := svc.Create(context.Background(), order(user,
		domain.OrderLine{DrugID: drug, Quantity: 3},
		domain.OrderLine{DrugID: drug, Quantity: 3},
	))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(4), testutil.Stock(t, svc.db, drug))
	assert.Zero(t, testutil.Count(t, svc.db, "orders"))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	drug := testutil.CreateDrug(t, svc.db, "5.00", 5)
	users := []int64{testutil.CreateUser(t, svc.db), testutil.CreateUser(t, svc.db)}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(users))
	)
	start := make(chan struct{})
	for i, user := range users {
		i, user := i, user
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Create(ctx, order(user, domain.OrderLine{DrugID: drug, Quantity: 3}))
		}()
	}
	close(start)
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, int64(2), testutil.Stock(t, svc.db, drug))
	assert.Equal(t, int64(1), testutil.Count(t, svc.db, "orders"))
}

func TestIdempotencyKeyReplaysOrder(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "2.00", 10)

	in := order(user, domain.OrderLine{DrugID: drug, Quantity: 2})
	in.IdempotencyKey = "checkout-123"

	first, err := svc.Create(ctx, in)
	require.NoError(t, err)
	second, err := svc.Create(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	require.Len(t, second.Order.Items, 1)
	assert.Equal(t, int64(8), testutil.Stock(t, svc.db, drug))
	assert.Equal(t, int64(1), testutil.Count(t, svc.db, "orders"))
	assert.Equal(t, []string{events.OrderCreated}, pub.types())

	other := testutil.CreateUser(t, svc.db)
	in.UserID = other
	third, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.False(t, third.Replayed, "keys are scoped per user")
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "2.00", 10)

	_, err := svc.Create(ctx, order(user))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Create(ctx, order(user, domain.OrderLine{DrugID: drug, Quantity: 0}))
	require.ErrorIs(t, err, domain.ErrValidation)

	in := order(user, domain.OrderLine{DrugID: drug, Quantity: 1})
	in.DeliveryAddress = "  x  "
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrValidation)

	in = order(user, domain.OrderLine{DrugID: drug, Quantity: 1})
	in.PaymentMethod = "bitcoin"
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckoutConsumesCart(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "3.00", 5)

	_, err := svc.Checkout(ctx, user, "12 High Street", domain.PaymentCard, "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.db.Exec(`INSERT INTO cart_items (user_id, drug_id, quantity, created_at) VALUES (?, ?, 2, ?)`, user, drug, time.Now().UTC())
	require.NoError(t, err)

	res, err := svc.Checkout(ctx, user, "12 High Street", domain.PaymentCard, "")
	require.NoError(t, err)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("6")))
	assert.Equal(t, domain.PaymentCard, res.Order.PaymentMethod)
	assert.Equal(t, int64(3), testutil.Stock(t, svc.db, drug))
	assert.Zero(t, testutil.Count(t, svc.db, "cart_items"))
}

func TestCheckoutFailureKeepsCart(t *testing.T) {
	svc, _ := newService(t)
	user := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "3.00", 5)

	_, err := svc.db.Exec(`INSERT INTO cart_items (user_id, drug_id, quantity, created_at) VALUES (?, ?, 2, ?)`, user, drug, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.db.Exec(`UPDATE drugs SET stock_quantity = 1 WHERE id = ?`, drug)
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), user, "12 High Street", domain.PaymentCash, "")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(1), testutil.Count(t, svc.db, "cart_items"))
	assert.Equal(t, int64(1), testutil.Stock(t, svc.db, drug))
}

func TestCheckoutCopiesEveryCartLine(t *testing.T) {
	svc, _ := newService(t)
	user := testutil.CreateUser(t, svc.db)
	a := testutil.CreateDrug(t, svc.db, "2.00", 5)
	b := testutil.CreateDrug(t, svc.db, "0.50", 9)
	now := time.Now().UTC()
	for _, line := range []domain.OrderLine{{DrugID: a, Quantity: 2}, {DrugID: b, Quantity: 4}} {
		_, err := svc.db.Exec(`INSERT INTO cart_items (user_id, drug_id, quantity, created_at) VALUES (?, ?, ?, ?)`,
			user, line.DrugID, line.Quantity, now)
		require.NoError(t, err)
	}

	res, err := svc.Checkout(context.Background(), user, "221B Baker Street", domain.PaymentCash, "")
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 2)
	assert.Equal(t, a, res.Order.Items[0].DrugID)
	assert.Equal(t, int64(2), res.Order.Items[0].Quantity)
	assert.Equal(t, b, res.Order.Items[1].DrugID)
	assert.Equal(t, int64(4), res.Order.Items[1].Quantity)
	assert.True(t, res.Order.TotalAmount.Equal(decimal.RequireFromString("6")))
	assert.Equal(t, int64(3), testutil.Stock(t, svc.db, a))
	assert.Equal(t, int64(5), testutil.Stock(t, svc.db, b))
}

func TestListByUserNewestFirstWithCounts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := testutil.CreateUser(t, svc.db)
	a := testutil.CreateDrug(t, svc.db, "1.00", 10)
	b := testutil.CreateDrug(t, svc.db, "1.00", 10)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	first, err := svc.Create(ctx, order(user, domain.OrderLine{DrugID: a, Quantity: 1}))
	require.NoError(t, err)
	svc.now = func() time.Time { return base.Add(time.Minute) }
	second, err := svc.Create(ctx, order(user, domain.OrderLine{DrugID: a, Quantity: 1}, domain.OrderLine{DrugID: b, Quantity: 1}))
	require.NoError(t, err)

	list, err := svc.ListByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Order.ID, list[0].ID)
	assert.Equal(t, int64(2), list[0].ItemCount)
	assert.Equal(t, first.Order.ID, list[1].ID)
	assert.Equal(t, int64(1), list[1].ItemCount)

	all, err := svc.List(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[0].CustomerEmail)

	_, err = svc.List(ctx, "shipped")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetForUserHidesOtherUsersOrders(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, svc.db)
	other := testutil.CreateUser(t, svc.db)
	drug := testutil.CreateDrug(t, svc.db, "1.00", 10)

	res, err := svc.Create(ctx, order(owner, domain.OrderLine{DrugID: drug, Quantity: 1}))
	require.NoError(t, err)

	_, err = svc.GetForUser(ctx, owner, res.Order.ID)
	require.NoError(t, err)
	_, err = svc.GetForUser(ctx, other, res.Order.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
