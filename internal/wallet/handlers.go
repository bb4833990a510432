package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/auth"
	"github.com/pennybid/bid-engine/internal/gateway"
)

// Gateway acknowledgement codes. The gateway only inspects the body code,
// so the callback always answers HTTP 200.
const (
	CodeOK    = 0
	CodeRetry = 13
)

// Transaction listing bounds.
const (
	defaultTxLimit = 50
	maxTxLimit     = 200
)

// TopUpRequest is the JSON body for POST /wallet/topup.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Handlers exposes the wallet over HTTP.
type Handlers struct {
	svc    *Service
	signer *gateway.Signer
}

// NewHandlers creates wallet handlers. Callback bodies are checked against
// signer.
func NewHandlers(svc *Service, signer *gateway.Signer) *Handlers {
	if signer == nil {
		signer = gateway.NewSigner("")
	}
	return &Handlers{svc: svc, signer: signer}
}

// TopUp handles POST /api/v1/wallet/topup
func (h *Handlers) TopUp(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := auth.SubjectFrom(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	intent, err := h.svc.InitiateTopUp(r.Context(), bidderID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, intent)
}

// Callback handles POST /api/v1/wallet/callback from the payment gateway.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	n, err := h.signer.ReadNotification(r)
	if err != nil {
		slog.Warn("payment callback rejected", "err", err)
		writeJSON(w, map[string]int{"code": CodeRetry})
		return
	}

	res, err := h.svc.CreditPayment(r.Context(), n)
	if err != nil {
		writeJSON(w, map[string]int{"code": CodeRetry})
		return
	}

	code := CodeOK
	if res.Outcome == OutcomeUnknownAccount || res.Outcome == OutcomeInvalid {
		code = CodeRetry
	}
	writeJSON(w, map[string]int{"code": code})
}

// Balance handles GET /api/v1/wallet/balance
func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := auth.SubjectFrom(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	view, err := h.svc.Balance(r.Context(), bidderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, view)
}

// Transactions handles GET /api/v1/wallet/transactions?limit=N
func (h *Handlers) Transactions(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := auth.SubjectFrom(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := defaultTxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTxLimit)
	}

	entries, err := h.svc.Transactions(r.Context(), bidderID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"transactions": entries})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBelowMinimum), errors.Is(err, ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnknownAccount):
		writeError(w, "wallet not found", http.StatusNotFound)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
