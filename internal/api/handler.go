// Package api provides the REST surface around the live session core:
// consultation requests and history, chat history replay, wallet top-ups,
// astrologer rates, and administrative termination.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/instaastro/liveconsult/internal/session"
	"github.com/instaastro/liveconsult/internal/store"
	"github.com/instaastro/liveconsult/internal/wallet"
)

// Handler provides common handler utilities.
type Handler struct {
	repo       store.Repository
	ledger     wallet.Ledger
	hub        *session.Hub
	adminToken string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, ledger wallet.Ledger, hub *session.Hub, adminToken string) *Handler {
	return &Handler{
		repo:       repo,
		ledger:     ledger,
		hub:        hub,
		adminToken: adminToken,
	}
}

// RegisterRoutes registers all REST routes. The identity middleware has
// already authenticated the caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.CreateConsultation)
		r.Get("/", h.ListConsultations)
		r.Get("/{consultationID}", h.GetConsultation)
		r.Get("/{consultationID}/messages", h.ListMessages)
	})
	r.Route("/wallet", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Post("/add-money", h.AddMoney)
		r.Get("/transactions", h.ListTransactions)
	})
	r.Put("/astrologers/{astrologerID}/rate", h.SetRate)
	r.Post("/admin/consultations/{consultationID}/terminate", h.Terminate)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
