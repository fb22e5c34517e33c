package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/identity"
	"github.com/instaastro/liveconsult/internal/store"
)

type createConsultationRequest struct {
	AstrologerID string `json:"astrologer_id"`
}

// CreateConsultation opens a new consultation request. The caller becomes
// the seeker; the rate is copied from the astrologer's published rate and is
// immutable for the session's lifetime.
func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	seekerID := identity.UserIDFromContext(r.Context())

	var req createConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AstrologerID == "" {
		Error(w, http.StatusBadRequest, "astrologer_id is required")
		return
	}
	if req.AstrologerID == seekerID {
		Error(w, http.StatusBadRequest, "cannot request a consultation with yourself")
		return
	}

	rate, err := h.repo.GetAstrologerRate(r.Context(), req.AstrologerID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "astrologer has not published a rate")
		return
	}
	if err != nil {
		slog.Error("failed to look up astrologer rate", "error", err, "astrologer_id", req.AstrologerID)
		Error(w, http.StatusInternalServerError, "failed to create consultation")
		return
	}

	cons := &domain.Consultation{
		ID:              uuid.NewString(),
		SeekerID:        seekerID,
		AstrologerID:    req.AstrologerID,
		RatePaisePerMin: rate,
		Status:          domain.StatusRequested,
		CreatedAt:       time.Now(),
	}
	if err := h.repo.CreateConsultation(r.Context(), cons); err != nil {
		slog.Error("failed to create consultation", "error", err, "seeker_id", seekerID)
		Error(w, http.StatusInternalServerError, "failed to create consultation")
		return
	}

	slog.Info("consultation requested", "session_id", cons.ID, "seeker_id", seekerID, "astrologer_id", req.AstrologerID)
	JSON(w, http.StatusCreated, cons)
}

// ListConsultations returns the caller's consultation history.
func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	consultations, err := h.repo.ListConsultationsByUser(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list consultations", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list consultations")
		return
	}
	if consultations == nil {
		consultations = []*domain.Consultation{}
	}
	JSON(w, http.StatusOK, consultations)
}

// GetConsultation returns one consultation; participants only.
func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	cons, ok := h.loadParticipantConsultation(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, cons)
}

// ListMessages returns the consultation's chat history ordered by message
// id. This is the idempotent replay query that complements the live
// channel's snapshot; the websocket only carries events from the moment of
// connection.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	cons, ok := h.loadParticipantConsultation(w, r)
	if !ok {
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), cons.ID)
	if err != nil {
		slog.Error("failed to list messages", "error", err, "session_id", cons.ID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

type setRateRequest struct {
	RatePaisePerMin int64 `json:"rate_paise_per_min"`
}

// SetRate publishes the astrologer's per-minute rate. Astrologers may only
// set their own rate; sessions in progress keep the rate copied at creation.
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	astrologerID := chi.URLParam(r, "astrologerID")
	if astrologerID != userID {
		Error(w, http.StatusForbidden, "cannot set another astrologer's rate")
		return
	}

	var req setRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RatePaisePerMin <= 0 {
		Error(w, http.StatusBadRequest, "rate_paise_per_min must be a positive integer")
		return
	}

	if err := h.repo.SetAstrologerRate(r.Context(), astrologerID, req.RatePaisePerMin); err != nil {
		slog.Error("failed to set astrologer rate", "error", err, "astrologer_id", astrologerID)
		Error(w, http.StatusInternalServerError, "failed to set rate")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"astrologer_id":      astrologerID,
		"rate_paise_per_min": req.RatePaisePerMin,
	})
}

type terminateRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Terminate ends a session administratively. Guarded by the admin token,
// not by participant identity.
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	if h.adminToken == "" || r.Header.Get("X-Admin-Token") != h.adminToken {
		Error(w, http.StatusForbidden, "admin token required")
		return
	}

	consultationID := chi.URLParam(r, "consultationID")
	var req terminateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err := h.hub.Terminate(r.Context(), consultationID, domain.EndReasonAdminTerminated)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "consultation not found")
		return
	}
	if err != nil {
		slog.Error("failed to terminate consultation", "error", err, "session_id", consultationID)
		Error(w, http.StatusInternalServerError, "failed to terminate consultation")
		return
	}

	slog.Info("consultation terminated by admin", "session_id", consultationID, "reason", req.Reason)
	JSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusEnded)})
}

// loadParticipantConsultation fetches the consultation from the URL and
// verifies the caller is a party to it.
func (h *Handler) loadParticipantConsultation(w http.ResponseWriter, r *http.Request) (*domain.Consultation, bool) {
	userID := identity.UserIDFromContext(r.Context())
	consultationID := chi.URLParam(r, "consultationID")

	cons, err := h.repo.GetConsultation(r.Context(), consultationID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "consultation not found")
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load consultation", "error", err, "session_id", consultationID)
		Error(w, http.StatusInternalServerError, "failed to load consultation")
		return nil, false
	}
	if !cons.Participant(userID) {
		Error(w, http.StatusForbidden, "not a participant of this consultation")
		return nil, false
	}
	return cons, true
}
