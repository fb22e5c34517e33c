// Package session implements the live consultation session protocol: the
// per-session owner goroutine, the billing clock, the connection fan-out,
// and the websocket transport.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/events"
	"github.com/instaastro/liveconsult/internal/store"
	"github.com/instaastro/liveconsult/internal/wallet"
)

// Hub maps consultation ids to running session owners. Owners are started
// lazily on the first connection and forgotten once their session ends.
type Hub struct {
	repo   store.Repository
	ledger wallet.Ledger
	pub    events.Publisher
	grace  time.Duration
	tick   time.Duration

	mu     sync.Mutex
	owners map[string]*Owner
}

// NewHub creates a hub.
func NewHub(repo store.Repository, ledger wallet.Ledger, pub events.Publisher, grace, tick time.Duration) *Hub {
	return &Hub{
		repo:   repo,
		ledger: ledger,
		pub:    pub,
		grace:  grace,
		tick:   tick,
		owners: make(map[string]*Owner),
	}
}

// Owner returns the running owner for the consultation, starting one from
// the stored record if needed. Returns store.ErrNotFound for unknown ids and
// ErrSessionEnded for archived sessions.
func (h *Hub) Owner(ctx context.Context, consultationID string) (*Owner, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if o, ok := h.owners[consultationID]; ok {
		return o, nil
	}

	cons, err := h.repo.GetConsultation(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if cons.Ended() {
		return nil, ErrSessionEnded
	}

	o := newOwner(cons, h.repo, h.ledger, h.pub, h.grace, h.tick, h.remove)
	h.owners[consultationID] = o
	go o.run()
	slog.Info("session owner started", "session_id", consultationID, "status", cons.Status)
	return o, nil
}

func (h *Hub) remove(consultationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.owners, consultationID)
}

// Terminate ends a session administratively. Sessions without a running
// owner are closed directly in the store. The lock is held across the store
// update so a concurrent connect cannot start an owner from the pre-update
// record and overwrite the termination on its next persist.
func (h *Hub) Terminate(ctx context.Context, consultationID string, reason domain.EndReason) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if o, ok := h.owners[consultationID]; ok {
		o.End(reason)
		return nil
	}

	cons, err := h.repo.GetConsultation(ctx, consultationID)
	if err != nil {
		return err
	}
	if cons.Ended() {
		return nil
	}
	cons.Status = domain.StatusEnded
	cons.TimerActive = false
	now := time.Now()
	cons.EndedAt = &now
	cons.EndReason = reason
	if err := h.repo.UpdateConsultationState(ctx, cons); err != nil {
		return fmt.Errorf("terminate stored session: %w", err)
	}
	return nil
}

// Shutdown ends every running session and waits for the owners to stop or
// the context to expire.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	owners := make([]*Owner, 0, len(h.owners))
	for _, o := range h.owners {
		owners = append(owners, o)
	}
	h.mu.Unlock()

	for _, o := range owners {
		o.End(domain.EndReasonAdminTerminated)
	}
	for _, o := range owners {
		select {
		case <-o.done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline reached before all sessions stopped")
			return
		}
	}
}
