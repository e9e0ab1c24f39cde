package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/cart"
	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/economy"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/notify"
	"github.com/punchamoorthee/marketops/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

// Feed is the notification source drained by the presentation layer.
type Feed interface {
	Drain() []notify.Notification
}

type Handler struct {
	session *service.Session
	feed    Feed
}

func NewHandler(s *service.Session, feed Feed) *Handler {
	return &Handler{session: s, feed: feed}
}

// statusFor maps domain errors to an HTTP status and a client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, economy.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, economy.ErrInvalidWithdrawAmount):
		return http.StatusUnprocessableEntity, "Invalid withdraw amount"
	case errors.Is(err, economy.ErrInvalidPaymentMethod):
		return http.StatusUnprocessableEntity, "Payment method must be cash or bank"
	case errors.Is(err, economy.ErrInvalidBalanceSnapshot):
		return http.StatusUnprocessableEntity, "Balance fields must not be negative"
	case errors.Is(err, domain.ErrInvalidCatalog):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, cart.ErrQuantityLimit):
		return http.StatusUnprocessableEntity, "Quantity exceeds the per-item limit"
	case errors.Is(err, cart.ErrTotalOverflow):
		return http.StatusUnprocessableEntity, "Cart total is too large"
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "Cart is empty"
	case errors.Is(err, service.ErrInvalidOwner):
		return http.StatusUnprocessableEntity, "New owner id and name are required"
	case errors.Is(err, service.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, "Key reuse with mismatched payload"
	case errors.Is(err, service.ErrUnknownItem), errors.Is(err, service.ErrUnknownCategory),
		errors.Is(err, catalog.ErrMarketNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrPurchaseInProgress), errors.Is(err, service.ErrWithdrawInProgress),
		errors.Is(err, service.ErrTransferInProgress), errors.Is(err, service.ErrIdempotencyConflict):
		return http.StatusConflict, "Request in progress"
	case errors.Is(err, service.ErrHostRejected):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, bridge.ErrHostUnavailable), errors.Is(err, bridge.ErrBadResponse):
		return http.StatusServiceUnavailable, "Host unavailable"
	case errors.Is(err, models.ErrUnknownAction), errors.Is(err, models.ErrMalformedFrame):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error, method, endpoint string) {
	code, msg := statusFor(err)
	h.respondError(w, code, msg, method, endpoint)
}
