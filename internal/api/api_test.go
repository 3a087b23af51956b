package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/auth"
	"pharmacy/m/internal/cart"
	"pharmacy/m/internal/catalog"
	"pharmacy/m/internal/events"
	"pharmacy/m/internal/medical"
	"pharmacy/m/internal/orders"
	"pharmacy/m/internal/prescriptions"
	"pharmacy/m/internal/report"
	"pharmacy/m/internal/testutil"
	"pharmacy/m/internal/uploads"
)

type testEnv struct {
	db      *sqlx.DB
	tokens  *auth.Tokens
	handler http.Handler
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	tokens := auth.NewTokens("api-test-secret", time.Hour)
	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	store := uploads.NewStore(opts.UploadDir, opts.MaxUploadBytes)
	h := New(Services{
		Auth:          auth.NewService(db, tokens, logger),
		Catalog:       catalog.NewService(db),
		Cart:          cart.NewService(db, 3),
		Orders:        orders.NewService(db, events.Nop{}, logger, 3),
		Prescriptions: prescriptions.NewService(db, store, logger),
		Medical:       medical.NewService(db, store, logger, 3),
		Report:        report.NewService(db, logger, 3),
	}, opts, logger)
	return &testEnv{db: db, tokens: tokens, handler: h.Router()}
}

func (e *testEnv) userToken(t *testing.T) (int64, string) {
	t.Helper()
	id := testutil.CreateUser(t, e.db)
	token, err := e.tokens.Issue(id, fmt.Sprintf("user%d@example.com", id), domain.RoleUser)
	require.NoError(t, err)
	return id, token
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.tokens.Issue(1, "admin@example.com", domain.RoleAdmin)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "jane@example.com", "password": "secret1", "name": "Jane Doe",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "JANE@example.com", "password": "secret1", "name": "Jane Again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	rec = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, "jane@example.com", me["email"])
	assert.Equal(t, domain.RoleUser, me["role"])
}

func TestAuthGuards(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)

	rec := env.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cart", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/orders", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/orders", env.adminToken(t), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDrugSearch(t *testing.T) {
	env := newEnv(t, Options{})
	testutil.CreateDrug(t, env.db, "1.00", 3)

	rec := env.do(t, http.MethodGet, "/api/drugs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/drugs?search=%20", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/drugs/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/drugs/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationErrorsListFields(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)

	rec := env.do(t, http.MethodPost, "/api/cart/add", user, map[string]int{"drug_id": 0, "quantity": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, domain.ErrValidation.Error(), body["error"])
	assert.Equal(t, map[string]interface{}{"drug_id": "required", "quantity": "required"}, body["fields"])

	rec = env.do(t, http.MethodPost, "/api/cart/add", user, map[string]interface{}{"drug_id": 1, "quantity": 1, "price": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestCartAndCheckout(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)
	drug := testutil.CreateDrug(t, env.db, "2.50", 4)

	rec := env.do(t, http.MethodPost, "/api/cart/add", user, map[string]int64{"drug_id": drug, "quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/cart/add", user, map[string]int64{"drug_id": drug, "quantity": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "only 4 available")

	rec = env.do(t, http.MethodGet, "/api/cart", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cartBody := decode(t, rec)
	assert.Equal(t, "7.5", cartBody["total"])
	assert.Len(t, cartBody["cart"], 1)

	checkout := map[string]string{"delivery_address": "10 Downing Street", "payment_method": "card"}
	rec = env.do(t, http.MethodPost, "/api/orders/checkout", user, checkout, idempotencyHeader, "chk-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode(t, rec)["order"].(map[string]interface{})
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, int64(1), testutil.Stock(t, env.db, drug))
	assert.Equal(t, int64(0), testutil.Count(t, env.db, "cart_items"))

	rec = env.do(t, http.MethodPost, "/api/orders/checkout", user, checkout, idempotencyHeader, "chk-1")
	require.Equal(t, http.StatusOK, rec.Code, "replayed key returns the first order")
	assert.Equal(t, order["id"], decode(t, rec)["order"].(map[string]interface{})["id"])
	assert.Equal(t, int64(1), testutil.Count(t, env.db, "orders"))
}

func TestCreateOrderAndOwnership(t *testing.T) {
	env := newEnv(t, Options{})
	_, alice := env.userToken(t)
	_, bob := env.userToken(t)
	drug := testutil.CreateDrug(t, env.db, "5.00", 2)

	body := map[string]interface{}{
		"items":            []map[string]int64{{"drug_id": drug, "quantity": 3}},
		"delivery_address": "42 Wallaby Way",
		"payment_method":   "cash",
	}
	rec := env.do(t, http.MethodPost, "/api/orders", alice, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(2), testutil.Stock(t, env.db, drug))

	body["items"] = []map[string]int64{{"drug_id": drug, "quantity": 2}}
	rec = env.do(t, http.MethodPost, "/api/orders", alice, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decode(t, rec)["order"].(map[string]interface{})["id"].(float64))

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestAdminOrderStatus(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)
	admin := env.adminToken(t)
	drug := testutil.CreateDrug(t, env.db, "1.00", 5)

	rec := env.do(t, http.MethodPost, "/api/orders", user, map[string]interface{}{
		"items":            []map[string]int64{{"drug_id": drug, "quantity": 1}},
		"delivery_address": "42 Wallaby Way",
		"payment_method":   "cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := fmt.Sprintf("/api/admin/orders/%d/status", int64(decode(t, rec)["order"].(map[string]interface{})["id"].(float64)))

	rec = env.do(t, http.MethodPut, path, admin, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, path, admin, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pending cannot jump to delivered")

	rec = env.do(t, http.MethodPut, path, admin, map[string]string{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "processing", decode(t, rec)["order"].(map[string]interface{})["status"])

	rec = env.do(t, http.MethodPut, "/api/admin/orders/9999/status", admin, map[string]string{"status": "processing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, field, filename string, content []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func TestPrescriptionUpload(t *testing.T) {
	env := newEnv(t, Options{})
	userID, user := env.userToken(t)
	drug := testutil.CreateDrug(t, env.db, "1.00", 5)
	res, err := orders.NewService(env.db, events.Nop{}, zap.NewNop(), 3).Create(context.Background(), orders.CreateInput{
		UserID: userID, DeliveryAddress: "42 Wallaby Way", PaymentMethod: domain.PaymentCash,
		Items: []domain.OrderLine{{DrugID: drug, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := fmt.Sprint(res.Order.ID)

	upload := func(filename string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, "prescription", filename, content, map[string]string{"order_id": orderID})
		req := httptest.NewRequest(http.MethodPost, "/api/prescriptions/upload", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Authorization", "Bearer "+user)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("scan.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload("scan.png", pngBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	url := decode(t, rec)["prescription"].(map[string]interface{})["image_url"].(string)

	rec = upload("again.png", pngBytes)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/prescriptions/"+orderID, user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, url, decode(t, rec)["prescription"].(map[string]interface{})["image_url"])

	rec = env.do(t, http.MethodGet, url, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/uploads/prescriptions/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no directory listings")
}

func TestAppointmentsOverHTTP(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)
	doctor := testutil.CreateDoctor(t, env.db, "40.00")

	body := map[string]interface{}{
		"doctor_id":        doctor,
		"appointment_type": "consultation",
		"purpose":          "Annual checkup",
		"appointment_date": "2031-03-04T09:30:00Z",
	}
	rec := env.do(t, http.MethodPost, "/api/medical/appointments", user, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body["appointment_date"] = "2031-03-04T11:30:00+02:00"
	rec = env.do(t, http.MethodPost, "/api/medical/appointments", user, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/medical/appointments?start_date=2031-03-01&end_date=2031-03-31", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/medical/appointments?start_date=March", user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminMedicalRequiresAdmin(t *testing.T) {
	env := newEnv(t, Options{})
	_, user := env.userToken(t)

	rec := env.do(t, http.MethodGet, "/api/admin/medical/reports", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/medical/doctors", env.adminToken(t), map[string]interface{}{
		"name": "Dr. House", "email": "house@example.com", "specialization": "Diagnostics",
		"license_number": "LIC-HOUSE", "hospital_clinic": "Princeton-Plainsboro", "consultation_fee": "120.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/medical/doctors", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestExportDrugs(t *testing.T) {
	env := newEnv(t, Options{})
	testutil.CreateDrug(t, env.db, "3.30", 9)

	rec := env.do(t, http.MethodGet, "/api/admin/drugs/export", env.adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	book, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, book.Sheets, 1)
	assert.Len(t, book.Sheets[0].Rows, 2)
}

func TestStats(t *testing.T) {
	env := newEnv(t, Options{})
	testutil.CreateDrug(t, env.db, "3.30", 2)

	rec := env.do(t, http.MethodGet, "/api/admin/stats", env.adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["drugs"])
	assert.Len(t, body["low_stock"], 1)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, Options{RateLimit: 2, RateWindow: time.Hour})
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "", nil).Code)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decode(t, rec)["error"])
}

func TestIPLimiterForgetsIdleClients(t *testing.T) {
	l := newIPLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "buckets are per client")

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("10.0.0.3"))
	l.mu.Lock()
	_, kept := l.visitors["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, kept)
}
