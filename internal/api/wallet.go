package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/identity"
)

type balanceResponse struct {
	BalancePaise int64   `json:"balance_paise"`
	Balance      float64 `json:"balance"`
}

// GetBalance returns the caller's wallet balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		slog.Error("failed to query balance", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to query balance")
		return
	}
	JSON(w, http.StatusOK, balanceResponse{BalancePaise: balance, Balance: domain.Rupees(balance)})
}

type addMoneyRequest struct {
	AmountPaise int64  `json:"amount_paise"`
	ReferenceID string `json:"reference_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// AddMoney credits the caller's wallet. Payment-gateway capture happens
// upstream; this endpoint records the settled amount.
func (h *Handler) AddMoney(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req addMoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AmountPaise <= 0 {
		Error(w, http.StatusBadRequest, "amount_paise must be a positive integer")
		return
	}

	desc := req.Description
	if desc == "" {
		desc = "Add money"
	}
	balance, err := h.ledger.Credit(r.Context(), userID, req.AmountPaise, domain.TransactionDeposit, req.ReferenceID, desc)
	if err != nil {
		slog.Error("failed to credit wallet", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to credit wallet")
		return
	}

	slog.Info("wallet credited", "user_id", userID, "amount_paise", req.AmountPaise)
	JSON(w, http.StatusOK, balanceResponse{BalancePaise: balance, Balance: domain.Rupees(balance)})
}

// ListTransactions returns the caller's wallet movements, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	txns, err := h.ledger.Transactions(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list wallet transactions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txns == nil {
		txns = []*domain.WalletTransaction{}
	}
	JSON(w, http.StatusOK, txns)
}
