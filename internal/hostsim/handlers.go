package hostsim

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/catalog"
	"github.com/punchamoorthee/marketops/internal/models"
	"github.com/punchamoorthee/marketops/internal/service"
	"github.com/punchamoorthee/marketops/internal/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// NewRouter mounts the bridge actions at the root, as the engine posts to <host>/<action>.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/"+models.ActionPurchase, h.Purchase).Methods("POST")
	r.HandleFunc("/"+models.ActionWithdrawPoints, h.WithdrawPoints).Methods("POST")
	r.HandleFunc("/"+models.ActionTransferMarket, h.TransferMarket).Methods("POST")
	r.HandleFunc("/"+models.ActionCloseMarket, h.CloseMarket).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/wallets/{playerId}", h.GetWallet).Methods("GET")
	admin.HandleFunc("/wallets/{playerId}", h.PutWallet).Methods("PUT")
	admin.HandleFunc("/players/{playerId}/markets/{marketId}/open", h.OpenMarket).Methods("POST")
	admin.HandleFunc("/players/{playerId}/close", h.ForceClose).Methods("POST")
	return r
}

// request is the validated envelope common to every bridge action.
type request struct {
	playerID string
	key      string
	hash     string
	body     []byte
}

func readRequest(w http.ResponseWriter, r *http.Request) (*request, bool) {
	// 1. Validate Headers
	key := r.Header.Get(bridge.IdempotencyHeader)
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Missing Idempotency-Key header")
		return nil, false
	}
	playerID := r.Header.Get(bridge.PlayerHeader)
	if playerID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing X-Player-Id header")
		return nil, false
	}

	// 2. Read and Hash Body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	return &request{playerID: playerID, key: key, hash: service.HashRequest(body), body: body}, true
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequest(w, r)
	if !ok {
		return
	}
	var body models.PurchaseBody
	if err := json.Unmarshal(req.body, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	out, err := h.svc.Purchase(r.Context(), req.playerID, req.key, req.hash, body)
	respondOutcome(w, out, err)
}

func (h *Handler) WithdrawPoints(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequest(w, r)
	if !ok {
		return
	}
	var body models.WithdrawBody
	if err := json.Unmarshal(req.body, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	out, err := h.svc.WithdrawPoints(r.Context(), req.playerID, req.key, req.hash, body)
	respondOutcome(w, out, err)
}

func (h *Handler) TransferMarket(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequest(w, r)
	if !ok {
		return
	}
	var body models.TransferBody
	if err := json.Unmarshal(req.body, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	out, err := h.svc.TransferMarket(r.Context(), req.playerID, req.key, req.hash, body)
	respondOutcome(w, out, err)
}

func (h *Handler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequest(w, r)
	if !ok {
		return
	}
	respondOutcome(w, h.svc.CloseMarket(req.playerID), nil)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.Wallet(r.Context(), mux.Vars(r)["playerId"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) PutWallet(w http.ResponseWriter, r *http.Request) {
	var wallet models.Wallet
	if err := json.NewDecoder(r.Body).Decode(&wallet); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wallet.PlayerID = mux.Vars(r)["playerId"]
	out, err := h.svc.AdjustWallet(r.Context(), wallet)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) OpenMarket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, err := h.svc.OpenMarket(r.Context(), vars["playerId"], vars["marketId"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

func (h *Handler) ForceClose(w http.ResponseWriter, r *http.Request) {
	h.svc.ForceClose(r.Context(), mux.Vars(r)["playerId"])
	respondWithJSON(w, http.StatusOK, models.HostResponse{Success: true})
}

// ReplayedHeader marks an answer served from a completed idempotency key.
const ReplayedHeader = "Idempotent-Replayed"

// respondOutcome answers in the {success, message} shape the bridge expects.
func respondOutcome(w http.ResponseWriter, out Outcome, err error) {
	if err != nil {
		respondFailure(w, err)
		return
	}
	if out.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	respondWithJSON(w, http.StatusOK, out.Response)
}

func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrIdempotencyConflict), errors.Is(err, store.ErrConcurrentUpdate):
		respondWithError(w, http.StatusConflict, "Request processing in progress")
	case errors.Is(err, store.ErrIdempotencyMismatch):
		respondRejection(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
	case errors.Is(err, store.ErrInsufficientFunds):
		respondRejection(w, http.StatusUnprocessableEntity, "Insufficient balance!")
	case errors.Is(err, store.ErrInvalidRequest):
		respondRejection(w, http.StatusUnprocessableEntity, "Invalid amount!")
	case errors.Is(err, ErrNegativeBalance):
		respondRejection(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrWalletNotFound):
		respondRejection(w, http.StatusNotFound, "Wallet not found")
	case errors.Is(err, catalog.ErrMarketNotFound):
		respondRejection(w, http.StatusNotFound, "Market not found")
	default:
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondRejection(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.HostResponse{Success: false, Message: message})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
