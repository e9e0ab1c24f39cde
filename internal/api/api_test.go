package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/service"
)

func newTestRouter(t *testing.T, bal domain.PlayerBalance) *mux.Router {
	t.Helper()
	reg, err := catalog.Demo()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := notify.NewFeed(32, language.English)
	s, err := service.NewSession(service.Options{
		Bridge:   bridge.New(bridge.Options{Logger: logger}),
		Notifier: feed,
		Catalog:  reg,
		Logger:   logger,
		Rand:     rand.New(rand.NewSource(7)),
		Now:      func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		Balance:  bal,
	})
	require.NoError(t, err)
	require.NoError(t, s.SwitchMarket("market_247"))
	return NewRouter(NewHandler(s, feed))
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{})
	rec := do(t, r, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{Cash: 5000, Bank: 25000, Points: 350})

	rec := do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "water"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "cola", "quantity": 3}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decode[service.Snapshot](t, rec)
	assert.Equal(t, int64(4), snap.TotalItems)
	assert.True(t, snap.DemoMode)
	total := snap.TotalPrice
	require.Positive(t, total)

	headers := map[string]string{bridge.IdempotencyHeader: "buy-1"}
	rec = do(t, r, "POST", "/api/v1/purchases", map[string]any{"paymentMethod": "cash"}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[domain.PurchaseResult](t, rec)
	assert.True(t, res.Success)
	assert.True(t, res.Demo)
	assert.Equal(t, total, res.TotalPrice)

	// Replay with the same key and body returns the stored result.
	rec = do(t, r, "POST", "/api/v1/purchases", map[string]any{"paymentMethod": "cash"}, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, res, decode[domain.PurchaseResult](t, rec))

	rec = do(t, r, "POST", "/api/v1/purchases", map[string]any{"paymentMethod": "bank"}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, r, "GET", "/api/v1/session", nil, nil)
	snap = decode[service.Snapshot](t, rec)
	assert.Equal(t, 5000-total, snap.Balance.Cash)
	assert.Empty(t, snap.Cart)

	rec = do(t, r, "GET", "/api/v1/sales", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	days := decode[[]domain.DailySales](t, rec)
	require.Len(t, days, 1)
	assert.Equal(t, int64(4), days[0].Total)

	rec = do(t, r, "GET", "/api/v1/notifications", nil, nil)
	notes := decode[[]notify.Notification](t, rec)
	require.NotEmpty(t, notes)
	assert.Equal(t, notify.KindSuccess, notes[0].Kind)
}

func TestPurchaseErrorsMapToStatus(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{Cash: 1})

	rec := do(t, r, "POST", "/api/v1/purchases", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cart is empty")

	do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "phone"}, nil)
	rec = do(t, r, "POST", "/api/v1/purchases", map[string]any{"paymentMethod": "cash"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Insufficient funds")

	rec = do(t, r, "POST", "/api/v1/purchases", map[string]any{"paymentMethod": "crypto"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest("POST", "/api/v1/purchases", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartEndpoints(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{})

	rec := do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "burger", "quantity": 2}, nil)
	rec = do(t, r, "PUT", "/api/v1/cart/items/burger", map[string]any{"quantity": 5}, nil)
	assert.Equal(t, int64(5), decode[service.Snapshot](t, rec).TotalItems)

	rec = do(t, r, "PUT", "/api/v1/cart/items/burger", map[string]any{"quantity": int64(1) << 62}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "burger", "quantity": int64(1) << 62}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, r, "GET", "/api/v1/session", nil, nil)
	assert.Equal(t, int64(5), decode[service.Snapshot](t, rec).TotalItems)

	rec = do(t, r, "PUT", "/api/v1/cart/items/burger", map[string]any{"quantity": 0}, nil)
	assert.Empty(t, decode[service.Snapshot](t, rec).Cart)

	do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "pizza"}, nil)
	rec = do(t, r, "DELETE", "/api/v1/cart/items/pizza", nil, nil)
	assert.Empty(t, decode[service.Snapshot](t, rec).Cart)

	do(t, r, "POST", "/api/v1/cart/items", map[string]any{"itemId": "pizza"}, nil)
	rec = do(t, r, "DELETE", "/api/v1/cart", nil, nil)
	assert.Empty(t, decode[service.Snapshot](t, rec).Cart)
}

func TestCatalogEndpoints(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{})

	rec := do(t, r, "GET", "/api/v1/items", nil, nil)
	items := decode[[]service.ItemView](t, rec)
	require.NotEmpty(t, items)
	for _, it := range items {
		assert.Equal(t, "food", it.Category)
	}

	rec = do(t, r, "PUT", "/api/v1/category", map[string]any{"categoryId": "tools"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tools", decode[service.Snapshot](t, rec).SelectedCategory)

	rec = do(t, r, "PUT", "/api/v1/category", map[string]any{"categoryId": "ammo"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, "GET", "/api/v1/items?q=coffee", nil, nil)
	items = decode[[]service.ItemView](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "coffee", items[0].ID)

	rec = do(t, r, "PUT", "/api/v1/payment-method", map[string]any{"paymentMethod": "bank"}, nil)
	assert.Equal(t, domain.PaymentBank, decode[service.Snapshot](t, rec).PaymentMethod)

	rec = do(t, r, "GET", "/api/v1/markets", nil, nil)
	markets := decode[[]catalog.Summary](t, rec)
	assert.Len(t, markets, 3)

	rec = do(t, r, "POST", "/api/v1/markets/pharmacy/activate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pharmacy", decode[service.Snapshot](t, rec).MarketID)

	rec = do(t, r, "POST", "/api/v1/markets/casino/activate", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithdrawAndTransferEndpoints(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{Bank: 100, Points: 700})

	rec := do(t, r, "POST", "/api/v1/points/withdrawals", map[string]any{"amount": 100}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, r, "POST", "/api/v1/points/withdrawals", map[string]any{"amount": 600}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[service.WithdrawResult](t, rec)
	assert.Equal(t, int64(100), res.Balance.Points)
	assert.Equal(t, int64(700), res.Balance.Bank)

	rec = do(t, r, "POST", "/api/v1/market/transfer", map[string]any{"newOwnerId": "", "newOwnerName": ""}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, r, "POST", "/api/v1/market/transfer", map[string]any{"newOwnerId": "12", "newOwnerName": "Selin"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, "GET", "/api/v1/session", nil, nil)
	assert.Equal(t, domain.MarketOwnership{OwnerID: "12", OwnerName: "Selin"}, decode[service.Snapshot](t, rec).Owner)

	rec = do(t, r, "POST", "/api/v1/market/close", nil, nil)
	assert.False(t, decode[service.Snapshot](t, rec).Open)
}

func TestHostMessages(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{Cash: 10})

	rec := do(t, r, "POST", "/api/v1/host/messages", map[string]any{
		"action": "updateBalance",
		"data":   map[string]any{"cash": 1234},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, "GET", "/api/v1/session", nil, nil)
	assert.Equal(t, int64(1234), decode[service.Snapshot](t, rec).Balance.Cash)

	rec = do(t, r, "POST", "/api/v1/host/messages", map[string]any{"action": "explode"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "POST", "/api/v1/host/messages", map[string]any{
		"action": "updateBalance",
		"data":   map[string]any{"bank": -5},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSalesDaysValidation(t *testing.T) {
	r := newTestRouter(t, domain.PlayerBalance{})
	rec := do(t, r, "GET", "/api/v1/sales?days=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/api/v1/sales?days=30", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
