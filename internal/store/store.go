// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/instaastro/liveconsult/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting consultations, chat
// messages, and astrologer rates. The live session owner is the single
// writer for a consultation's mutable fields while the session is running;
// the store is the durable record behind it.
type Repository interface {
	// CreateConsultation inserts a new consultation in REQUESTED state.
	CreateConsultation(ctx context.Context, c *domain.Consultation) error

	// GetConsultation retrieves a consultation by id.
	// Returns ErrNotFound if it does not exist.
	GetConsultation(ctx context.Context, id string) (*domain.Consultation, error)

	// ListConsultationsByUser returns all consultations where the user is
	// seeker or astrologer, newest first.
	ListConsultationsByUser(ctx context.Context, userID string) ([]*domain.Consultation, error)

	// UpdateConsultationState persists status, timer flag, billing totals,
	// and lifecycle timestamps after a state transition.
	UpdateConsultationState(ctx context.Context, c *domain.Consultation) error

	// UpdateBillingProgress persists the running spent total, balance
	// snapshot, and last assigned message id without touching status.
	UpdateBillingProgress(ctx context.Context, id string, spentPaise, balancePaise, lastMessageID int64) error

	// InsertMessage persists a chat message. The caller assigns Message.ID.
	InsertMessage(ctx context.Context, m *domain.Message) error

	// ListMessages returns the consultation's messages ordered by id.
	ListMessages(ctx context.Context, consultationID string) ([]*domain.Message, error)

	// GetAstrologerRate returns the astrologer's current per-minute rate in
	// paise. Returns ErrNotFound if no rate has been published.
	GetAstrologerRate(ctx context.Context, astrologerID string) (int64, error)

	// SetAstrologerRate publishes the astrologer's per-minute rate in paise.
	// Sessions already in progress keep the rate they copied at creation.
	SetAstrologerRate(ctx context.Context, astrologerID string, ratePaisePerMin int64) error

	// CloseOrphanedSessions force-ends ACTIVE and PAUSED sessions left
	// behind by a previous process. Their owners and grace timers did not
	// survive; failing safe into ENDED beats resuming billing blind.
	CloseOrphanedSessions(ctx context.Context) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// DB exposes the underlying handle so collaborators (the wallet ledger)
	// can share the connection pool.
	DB() *sql.DB

	// Close closes the database connection.
	Close() error
}
