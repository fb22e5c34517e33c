// Package domain contains core domain types for the live consultation service.
package domain

import (
	"time"
)

// Status is the lifecycle state of a consultation session.
type Status string

const (
	// StatusRequested means the seeker has requested the consultation and
	// the astrologer has not joined yet.
	StatusRequested Status = "REQUESTED"
	// StatusActive means both parties may exchange messages and billing
	// may run.
	StatusActive Status = "ACTIVE"
	// StatusPaused means a participant dropped unexpectedly and the grace
	// period is running. No billing, no messages.
	StatusPaused Status = "PAUSED"
	// StatusEnded is terminal.
	StatusEnded Status = "ENDED"
)

// EndReason records why a session reached the terminal state.
type EndReason string

const (
	EndReasonUserEnded           EndReason = "user_ended"
	EndReasonInsufficientBalance EndReason = "insufficient_balance"
	EndReasonTimeout             EndReason = "timeout"
	EndReasonAdminTerminated     EndReason = "admin_terminated"
	EndReasonInternalError       EndReason = "internal_error"
)

// Description returns the human-readable explanation surfaced to both
// participants when the session ends.
func (r EndReason) Description() string {
	switch r {
	case EndReasonUserEnded:
		return "The consultation was ended by a participant."
	case EndReasonInsufficientBalance:
		return "The consultation ended because the wallet balance ran out."
	case EndReasonTimeout:
		return "The consultation ended because a participant did not reconnect in time."
	case EndReasonAdminTerminated:
		return "The consultation was terminated by an administrator."
	case EndReasonInternalError:
		return "The consultation ended due to an internal error."
	default:
		return "The consultation has ended."
	}
}

// Consultation is one consultation session between a seeker and an
// astrologer. Monetary amounts are integer paise. RatePaisePerMin is copied
// from the astrologer's profile at creation time and never changes for the
// lifetime of the session.
type Consultation struct {
	ID              string     `json:"id"`
	SeekerID        string     `json:"seeker_id"`
	AstrologerID    string     `json:"astrologer_id"`
	RatePaisePerMin int64      `json:"rate_paise_per_min"`
	Status          Status     `json:"status"`
	TimerActive     bool       `json:"timer_active"`
	SpentPaise      int64      `json:"spent_paise"`
	BalanceSnapshot int64      `json:"balance_snapshot_paise"`
	LastMessageID   int64      `json:"last_message_id"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       EndReason  `json:"end_reason,omitempty"`
}

// Participant reports whether userID is the seeker or astrologer of record.
func (c *Consultation) Participant(userID string) bool {
	return userID == c.SeekerID || userID == c.AstrologerID
}

// Counterpart returns the other participant's id, or "" if userID is not a
// participant.
func (c *Consultation) Counterpart(userID string) string {
	switch userID {
	case c.SeekerID:
		return c.AstrologerID
	case c.AstrologerID:
		return c.SeekerID
	}
	return ""
}

// Ended reports whether the session has reached the terminal state.
func (c *Consultation) Ended() bool {
	return c.Status == StatusEnded
}
