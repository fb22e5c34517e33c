package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/events"
	"github.com/instaastro/liveconsult/internal/store"
)

func newTestHub(t *testing.T, repo *fakeRepo, ledger *fakeLedger) *Hub {
	t.Helper()
	h := NewHub(repo, ledger, events.NopPublisher{}, time.Minute, time.Hour)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return h
}

func TestHubOwnerUnknownConsultation(t *testing.T) {
	h := newTestHub(t, newFakeRepo(), &fakeLedger{})
	if _, err := h.Owner(context.Background(), "nope"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHubOwnerRejectsEndedConsultation(t *testing.T) {
	repo := newFakeRepo()
	cons := testConsultation(1200)
	cons.Status = domain.StatusEnded
	cons.EndReason = domain.EndReasonUserEnded
	if err := repo.CreateConsultation(context.Background(), cons); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := newTestHub(t, repo, &fakeLedger{})
	if _, err := h.Owner(context.Background(), cons.ID); err != ErrSessionEnded {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestHubOwnerSingleOwnerPerSession(t *testing.T) {
	repo := newFakeRepo()
	cons := testConsultation(1200)
	if err := repo.CreateConsultation(context.Background(), cons); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newTestHub(t, repo, &fakeLedger{balance: 10000})

	const callers = 16
	owners := make([]*Owner, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			o, err := h.Owner(context.Background(), cons.ID)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			owners[i] = o
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if owners[i] != owners[0] {
			t.Fatalf("caller %d got a different owner", i)
		}
	}
}

func TestHubForgetsEndedOwner(t *testing.T) {
	repo := newFakeRepo()
	cons := testConsultation(1200)
	if err := repo.CreateConsultation(context.Background(), cons); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newTestHub(t, repo, &fakeLedger{balance: 10000})

	o, err := h.Owner(context.Background(), cons.ID)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	o.End(domain.EndReasonUserEnded)
	select {
	case <-o.done:
	case <-time.After(2 * time.Second):
		t.Fatal("owner did not stop")
	}

	// A new request now sees the archived record, not a stale owner.
	if _, err := h.Owner(context.Background(), cons.ID); err != ErrSessionEnded {
		t.Fatalf("expected ErrSessionEnded after archive, got %v", err)
	}
}

func TestHubTerminateRunningOwner(t *testing.T) {
	repo := newFakeRepo()
	cons := testConsultation(1200)
	if err := repo.CreateConsultation(context.Background(), cons); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newTestHub(t, repo, &fakeLedger{balance: 10000})

	o, err := h.Owner(context.Background(), cons.ID)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if err := h.Terminate(context.Background(), cons.ID, domain.EndReasonAdminTerminated); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	select {
	case <-o.done:
	case <-time.After(2 * time.Second):
		t.Fatal("owner did not stop after terminate")
	}
	if got := repo.stored(t, cons.ID); got.Status != domain.StatusEnded || got.EndReason != domain.EndReasonAdminTerminated {
		t.Fatalf("expected admin-terminated ENDED, got %s / %s", got.Status, got.EndReason)
	}
}

func TestHubTerminateConcurrentWithConnect(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHub(t, repo, &fakeLedger{balance: 10000})

	// Whichever side wins the race, the session must finish ENDED: either
	// the connect starts an owner first and the termination routes through
	// it, or the termination wins and the connect sees an archived session.
	for i := 0; i < 25; i++ {
		cons := testConsultation(1200)
		cons.ID = fmt.Sprintf("cons-%d", i)
		if err := repo.CreateConsultation(context.Background(), cons); err != nil {
			t.Fatalf("seed %s: %v", cons.ID, err)
		}

		var o *Owner
		started := make(chan struct{})
		go func() {
			defer close(started)
			if owner, err := h.Owner(context.Background(), cons.ID); err == nil {
				o = owner
			}
		}()
		if err := h.Terminate(context.Background(), cons.ID, domain.EndReasonAdminTerminated); err != nil {
			t.Fatalf("terminate %s: %v", cons.ID, err)
		}
		<-started

		if o != nil {
			select {
			case <-o.done:
			case <-time.After(2 * time.Second):
				t.Fatalf("%s: owner survived administrative termination", cons.ID)
			}
		}
		if got := repo.stored(t, cons.ID); got.Status != domain.StatusEnded {
			t.Fatalf("%s: expected ENDED, got %s", cons.ID, got.Status)
		}
	}
}

func TestHubTerminateStoredSession(t *testing.T) {
	repo := newFakeRepo()
	cons := testConsultation(1200)
	if err := repo.CreateConsultation(context.Background(), cons); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := newTestHub(t, repo, &fakeLedger{})

	// No owner is running; the hub closes the record directly.
	if err := h.Terminate(context.Background(), cons.ID, domain.EndReasonAdminTerminated); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	got := repo.stored(t, cons.ID)
	if got.Status != domain.StatusEnded || got.EndedAt == nil {
		t.Fatalf("expected ENDED with timestamp, got %+v", got)
	}

	// Terminating an already ended session is a no-op.
	if err := h.Terminate(context.Background(), cons.ID, domain.EndReasonUserEnded); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if got := repo.stored(t, cons.ID); got.EndReason != domain.EndReasonAdminTerminated {
		t.Fatalf("second terminate must not rewrite the reason, got %s", got.EndReason)
	}
}
