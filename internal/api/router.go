package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the engine endpoints.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/session", h.GetSession).Methods("GET")
	apiV1.HandleFunc("/items", h.ListItems).Methods("GET")
	apiV1.HandleFunc("/category", h.SelectCategory).Methods("PUT")
	apiV1.HandleFunc("/payment-method", h.SetPaymentMethod).Methods("PUT")

	apiV1.HandleFunc("/cart", h.ClearCart).Methods("DELETE")
	apiV1.HandleFunc("/cart/items", h.AddCartItem).Methods("POST")
	apiV1.HandleFunc("/cart/items/{itemId}", h.UpdateCartItem).Methods("PUT")
	apiV1.HandleFunc("/cart/items/{itemId}", h.RemoveCartItem).Methods("DELETE")

	apiV1.HandleFunc("/purchases", h.CreatePurchase).Methods("POST")
	apiV1.HandleFunc("/points/withdrawals", h.WithdrawPoints).Methods("POST")

	apiV1.HandleFunc("/markets", h.ListMarkets).Methods("GET")
	apiV1.HandleFunc("/markets/{marketId}/activate", h.ActivateMarket).Methods("POST")
	apiV1.HandleFunc("/market/transfer", h.TransferMarket).Methods("POST")
	apiV1.HandleFunc("/market/close", h.CloseMarket).Methods("POST")

	apiV1.HandleFunc("/sales", h.SalesHistory).Methods("GET")
	apiV1.HandleFunc("/notifications", h.Notifications).Methods("GET")
	apiV1.HandleFunc("/host/messages", h.HostMessage).Methods("POST")
	return r
}
