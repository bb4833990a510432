package bidding

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/auth"
	"github.com/pennybid/bid-engine/internal/eligibility"
)

// --- Request/Response types ---

// BidRequest is the JSON body for POST /bid. The bidder comes from the
// verified credential, never from the body.
type BidRequest struct {
	AuctionID string `json:"auction_id"`
}

// BidResponse is the JSON body returned for an accepted bid.
type BidResponse struct {
	Success    bool            `json:"success"`
	NewPrice   decimal.Decimal `json:"newPrice"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

// --- HTTP Handlers ---

// HandleBid handles POST /api/v1/bid. Must be mounted behind auth.Middleware.
func (e *Engine) HandleBid(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := auth.SubjectFrom(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AuctionID == "" {
		writeError(w, "auction_id is required", http.StatusBadRequest)
		return
	}

	res, err := e.PlaceBid(r.Context(), req.AuctionID, bidderID)
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, "failed to place bid, try again", http.StatusInternalServerError)
		return
	}

	switch res.Outcome {
	case OutcomeAccepted:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(BidResponse{
			Success:    true,
			NewPrice:   res.NewPrice,
			NewBalance: res.NewBalance,
		})
	case OutcomeAuctionNotFound:
		writeError(w, "auction not found", http.StatusNotFound)
	case OutcomeBidderNotFound:
		writeError(w, "bidder not found", http.StatusNotFound)
	default:
		msg, status := rejection(res.Reason)
		writeError(w, msg, status)
	}
}

func rejection(reason eligibility.Reason) (string, int) {
	switch reason {
	case eligibility.ReasonQuotaExceeded:
		return "auction is closed to new participants", http.StatusForbidden
	case eligibility.ReasonInsufficientBalance:
		return "insufficient balance", http.StatusBadRequest
	case eligibility.ReasonAuctionClosed:
		return "auction has ended", http.StatusBadRequest
	}
	return "bid rejected", http.StatusBadRequest
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
