package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/sales"
	"github.com/punchamoorthee/marketops/internal/service"
)

const maxBody = 1 << 20

type addItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity *int64 `json:"quantity"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type purchaseRequest struct {
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

type categoryRequest struct {
	CategoryID string `json:"categoryId"`
}

type paymentMethodRequest struct {
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

// readBody reads a bounded request body. An empty body decodes as {}.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	return body, nil
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "GET", "/session")
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.session.FilteredItems(r.URL.Query().Get("q")), "GET", "/items")
}

func (h *Handler) SelectCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", "/category")
		return
	}
	if err := h.session.SelectCategory(req.CategoryID); err != nil {
		h.respondErr(w, err, "PUT", "/category")
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "PUT", "/category")
}

func (h *Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req paymentMethodRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", "/payment-method")
		return
	}
	if err := h.session.SetPaymentMethod(req.PaymentMethod); err != nil {
		h.respondErr(w, err, "PUT", "/payment-method")
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "PUT", "/payment-method")
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/cart/items")
		return
	}
	qty := int64(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if err := h.session.AddToCart(req.ItemID, qty); err != nil {
		h.respondErr(w, err, "POST", "/cart/items")
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "POST", "/cart/items")
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", "/cart/items/{itemId}")
		return
	}
	if err := h.session.UpdateCartQuantity(mux.Vars(r)["itemId"], req.Quantity); err != nil {
		h.respondErr(w, err, "PUT", "/cart/items/{itemId}")
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "PUT", "/cart/items/{itemId}")
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	h.session.RemoveFromCart(mux.Vars(r)["itemId"])
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "DELETE", "/cart/items/{itemId}")
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.session.ClearCart()
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "DELETE", "/cart")
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/purchases"))
	defer timer.ObserveDuration()

	body, err := readBody(r)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Stream read error", "POST", "/purchases")
		return
	}
	var req purchaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/purchases")
		return
	}

	res, err := h.session.Purchase(r.Context(), service.PurchaseCommand{
		Method:      req.PaymentMethod,
		Key:         r.Header.Get(bridge.IdempotencyHeader),
		RequestHash: service.HashRequest(body),
	})
	if err != nil {
		h.respondErr(w, err, "POST", "/purchases")
		return
	}
	h.respondJSON(w, http.StatusCreated, res, "POST", "/purchases")
}

func (h *Handler) WithdrawPoints(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/points/withdrawals"))
	defer timer.ObserveDuration()

	var req models.WithdrawBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/points/withdrawals")
		return
	}
	res, err := h.session.WithdrawPoints(r.Context(), r.Header.Get(bridge.IdempotencyHeader), req.Amount)
	if err != nil {
		h.respondErr(w, err, "POST", "/points/withdrawals")
		return
	}
	h.respondJSON(w, http.StatusCreated, res, "POST", "/points/withdrawals")
}

func (h *Handler) TransferMarket(w http.ResponseWriter, r *http.Request) {
	var req models.TransferBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/market/transfer")
		return
	}
	res, err := h.session.TransferMarket(r.Context(), r.Header.Get(bridge.IdempotencyHeader), req.NewOwnerID, req.NewOwnerName)
	if err != nil {
		h.respondErr(w, err, "POST", "/market/transfer")
		return
	}
	h.respondJSON(w, http.StatusOK, res, "POST", "/market/transfer")
}

func (h *Handler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	h.session.Close(r.Context())
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "POST", "/market/close")
}

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.session.AvailableMarkets(), "GET", "/markets")
}

func (h *Handler) ActivateMarket(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SwitchMarket(mux.Vars(r)["marketId"]); err != nil {
		h.respondErr(w, err, "POST", "/markets/{marketId}/activate")
		return
	}
	h.respondJSON(w, http.StatusOK, h.session.Snapshot(), "POST", "/markets/{marketId}/activate")
}

func (h *Handler) SalesHistory(w http.ResponseWriter, r *http.Request) {
	days := sales.DefaultDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "days must be a positive integer", "GET", "/sales")
			return
		}
		days = n
	}
	h.respondJSON(w, http.StatusOK, h.session.SalesHistory(days), "GET", "/sales")
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.feed.Drain(), "GET", "/notifications")
}

// HostMessage accepts an inbound {action, data} frame from the host.
func (h *Handler) HostMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Stream read error", "POST", "/host/messages")
		return
	}
	msg, err := models.DecodeInbound(body)
	if err != nil {
		h.respondErr(w, err, "POST", "/host/messages")
		return
	}
	if err := h.session.HandleInbound(msg); err != nil {
		h.respondErr(w, err, "POST", "/host/messages")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"success": true}, "POST", "/host/messages")
}
