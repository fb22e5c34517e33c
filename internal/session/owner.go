package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/events"
	"github.com/instaastro/liveconsult/internal/store"
	"github.com/instaastro/liveconsult/internal/wallet"
)

// ErrSessionEnded is returned for any operation against a session that has
// reached the terminal state.
var ErrSessionEnded = errors.New("session has ended")

const (
	pauseReasonDisconnect = "participant_disconnected"
	storeTimeout          = 5 * time.Second
)

// Owner is the single logical writer for one consultation session. All
// mutation — state transitions, billing ticks, message sequencing — happens
// on its goroutine; connection handlers and the hub talk to it exclusively
// through the command channel.
type Owner struct {
	repo   store.Repository
	ledger wallet.Ledger
	pub    events.Publisher
	grace  time.Duration
	tick   time.Duration
	onStop func(id string)

	cmds chan func()
	done chan struct{}

	// Everything below is owned by the run goroutine.
	cons          *domain.Consultation
	billing       *meter
	clients       map[*client]struct{}
	absent        string // participant whose reconnect resumes a paused session
	resumeBilling bool   // billing was running when the session paused
	billedSeconds int64

	ticker *time.Ticker
	tickC  <-chan time.Time
	graceT *time.Timer
	graceC <-chan time.Time
}

func newOwner(cons *domain.Consultation, repo store.Repository, ledger wallet.Ledger, pub events.Publisher, grace, tick time.Duration, onStop func(id string)) *Owner {
	// The timer flag is only meaningful while ACTIVE; normalize anything a
	// crashed process may have left behind.
	if cons.Status != domain.StatusActive {
		cons.TimerActive = false
	}
	return &Owner{
		repo:    repo,
		ledger:  ledger,
		pub:     pub,
		grace:   grace,
		tick:    tick,
		onStop:  onStop,
		cmds:    make(chan func(), 16),
		done:    make(chan struct{}),
		cons:    cons,
		billing: newMeter(cons.RatePaisePerMin),
		clients: make(map[*client]struct{}),
	}
}

// ID returns the consultation id this owner serializes.
func (o *Owner) ID() string { return o.cons.ID }

func (o *Owner) run() {
	defer o.finish()
	defer func() {
		if r := recover(); r != nil {
			// Fail safe: never leave billing ticking in an undefined state.
			slog.Error("session owner panicked", "session_id", o.cons.ID, "panic", r)
			if !o.cons.Ended() {
				o.end(domain.EndReasonInternalError)
			}
		}
	}()

	for {
		select {
		case fn := <-o.cmds:
			fn()
		case <-o.tickC:
			o.onTick()
		case <-o.graceC:
			o.onGraceExpired()
		}
		if o.cons.Ended() {
			return
		}
	}
}

// finish tears the owner down after the terminal state is reached: pending
// commands are drained (they observe ENDED), every socket is closed, and the
// hub forgets the session.
func (o *Owner) finish() {
	close(o.done)
	o.stopTicker()
	o.stopGrace()
	for {
		select {
		case fn := <-o.cmds:
			fn()
			continue
		default:
		}
		break
	}
	for c := range o.clients {
		o.closeClient(c, o.cons.EndReason.Description())
	}
	if o.onStop != nil {
		o.onStop(o.cons.ID)
	}
	slog.Info("session owner stopped", "session_id", o.cons.ID, "end_reason", o.cons.EndReason, "spent_paise", o.cons.SpentPaise)
}

// do schedules fn on the owner goroutine. Returns ErrSessionEnded once the
// owner has shut down.
func (o *Owner) do(fn func()) error {
	select {
	case o.cmds <- fn:
		return nil
	case <-o.done:
		return ErrSessionEnded
	}
}

// Attach registers a participant socket and delivers its snapshot.
func (o *Owner) Attach(c *client) error {
	errc := make(chan error, 1)
	if err := o.do(func() { errc <- o.attach(c) }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-o.done:
		// The owner is shutting down. The drain in finish may still run the
		// queued command; give its reply one more chance before declaring
		// the session ended (a command run during drain observes ENDED and
		// never registers the client).
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

// Detach unregisters a socket. Safe to call after the session ended.
func (o *Owner) Detach(c *client) {
	_ = o.do(func() { o.detach(c) })
}

// Message submits a chat message from the socket's participant.
func (o *Owner) Message(c *client, content string) {
	_ = o.do(func() { o.message(c, content) })
}

// StartTimer submits an explicit billing-start request.
func (o *Owner) StartTimer(c *client) {
	_ = o.do(func() { o.startTimerCmd(c) })
}

// End requests termination with the given reason. Idempotent: a second call
// after the terminal state is a no-op.
func (o *Owner) End(reason domain.EndReason) {
	_ = o.do(func() { o.end(reason) })
}

func (o *Owner) attach(c *client) error {
	if o.cons.Ended() {
		return ErrSessionEnded
	}
	o.clients[c] = struct{}{}

	// Refresh the balance cache so the snapshot reflects the live wallet.
	if balance, err := o.ledgerBalance(); err == nil {
		o.cons.BalanceSnapshot = balance
	} else {
		slog.Warn("failed to refresh balance for snapshot", "session_id", o.cons.ID, "error", err)
	}

	// The client is already registered, so the broadcast in the activation
	// and resume branches covers it; only the plain connect needs its own
	// snapshot.
	switch {
	case o.cons.Status == domain.StatusRequested && c.participantID == o.cons.AstrologerID:
		// The astrologer joining the channel is the acceptance trigger.
		o.transition(domain.StatusActive)
		o.persistState()
		o.broadcast(snapshotFrame(o.cons))
	case o.cons.Status == domain.StatusPaused && c.participantID == o.absent:
		o.resume()
	default:
		if !c.enqueue(snapshotFrame(o.cons)) {
			o.closeClient(c, "send queue overflow")
			return nil
		}
	}
	slog.Info("participant connected", "session_id", o.cons.ID, "user_id", c.participantID, "status", o.cons.Status)
	return nil
}

func (o *Owner) detach(c *client) {
	if _, ok := o.clients[c]; !ok {
		return
	}
	o.closeClient(c, "disconnected")
	slog.Info("participant disconnected", "session_id", o.cons.ID, "user_id", c.participantID)

	if o.cons.Status != domain.StatusActive {
		return
	}
	if o.connected(c.participantID) {
		// Another device for the same participant is still attached.
		return
	}
	o.pause(c.participantID)
}

// connected reports whether the participant has at least one open socket.
func (o *Owner) connected(participantID string) bool {
	for c := range o.clients {
		if c.participantID == participantID {
			return true
		}
	}
	return false
}

func (o *Owner) message(c *client, content string) {
	if o.cons.Status != domain.StatusActive {
		if !c.enqueue(errorFrame("not_active", "messages can only be sent while the consultation is active")) {
			o.closeClient(c, "send queue overflow")
		}
		return
	}

	msg := &domain.Message{
		ID:             o.cons.LastMessageID + 1,
		ConsultationID: o.cons.ID,
		SenderID:       c.participantID,
		Content:        content,
		Timestamp:      time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := o.repo.InsertMessage(ctx, msg); err != nil {
		slog.Error("failed to persist message", "session_id", o.cons.ID, "error", err)
		o.end(domain.EndReasonInternalError)
		return
	}

	o.cons.LastMessageID = msg.ID
	o.broadcast(newMessageFrame(msg))

	// The astrologer's first message starts billing if no explicit
	// START_TIMER arrived first.
	if !o.cons.TimerActive && o.cons.StartedAt == nil && c.participantID == o.cons.AstrologerID {
		o.startBilling()
	}
}

func (o *Owner) startTimerCmd(c *client) {
	if c.participantID != o.cons.AstrologerID {
		if !c.enqueue(errorFrame("not_allowed", "only the astrologer can start the consultation timer")) {
			o.closeClient(c, "send queue overflow")
		}
		return
	}
	if o.cons.Status != domain.StatusActive {
		if !c.enqueue(errorFrame("not_active", "the timer can only start while the consultation is active")) {
			o.closeClient(c, "send queue overflow")
		}
		return
	}
	if o.cons.TimerActive {
		return
	}
	o.startBilling()
}

// startBilling flips the timer on. Caller guarantees status == ACTIVE.
func (o *Owner) startBilling() {
	o.cons.TimerActive = true
	if o.cons.StartedAt == nil {
		now := time.Now()
		o.cons.StartedAt = &now
	}
	o.startTicker()
	o.persistState()
	o.broadcast(timerStartedFrame())
	slog.Info("billing started", "session_id", o.cons.ID, "rate_paise_per_min", o.cons.RatePaisePerMin)
}

func (o *Owner) pause(absentID string) {
	o.resumeBilling = o.cons.TimerActive
	o.cons.TimerActive = false
	o.stopTicker()
	o.transition(domain.StatusPaused)
	o.absent = absentID

	o.graceT = time.NewTimer(o.grace)
	o.graceC = o.graceT.C

	o.persistState()
	o.broadcast(pausedFrame(pauseReasonDisconnect))
	slog.Info("session paused", "session_id", o.cons.ID, "absent", absentID, "grace", o.grace)
}

func (o *Owner) resume() {
	o.stopGrace()
	o.transition(domain.StatusActive)
	other := o.cons.Counterpart(o.absent)
	o.absent = ""

	if !o.connected(other) {
		// The counterpart dropped while the session was paused; that
		// disconnect recorded no transition, so the grace period moves to
		// them now. Billing must not run while a participant has no socket.
		wasBilling := o.resumeBilling
		o.pause(other)
		o.resumeBilling = wasBilling
		o.broadcast(snapshotFrame(o.cons))
		return
	}

	if o.resumeBilling {
		o.cons.TimerActive = true
		o.startTicker()
	}
	o.persistState()
	o.broadcast(snapshotFrame(o.cons))
	slog.Info("session resumed", "session_id", o.cons.ID, "timer_active", o.cons.TimerActive)
}

func (o *Owner) onGraceExpired() {
	if o.cons.Status != domain.StatusPaused {
		return
	}
	o.end(domain.EndReasonTimeout)
}

func (o *Owner) onTick() {
	if !o.cons.TimerActive {
		// A fire drained after the ticker stopped loses to the transition.
		return
	}

	due := o.billing.tick()
	o.billedSeconds++
	if due == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	desc := fmt.Sprintf("Chat deduction (second %d)", o.billedSeconds)
	ok, balance, err := o.ledger.Debit(ctx, o.cons.SeekerID, due, o.cons.ID, desc)
	if err != nil {
		slog.Error("wallet debit failed", "session_id", o.cons.ID, "error", err)
		o.end(domain.EndReasonInternalError)
		return
	}
	o.cons.BalanceSnapshot = balance
	if !ok {
		o.end(domain.EndReasonInsufficientBalance)
		return
	}

	o.cons.SpentPaise += due
	if err := o.repo.UpdateBillingProgress(ctx, o.cons.ID, o.cons.SpentPaise, o.cons.BalanceSnapshot, o.cons.LastMessageID); err != nil {
		slog.Warn("failed to persist billing progress", "session_id", o.cons.ID, "error", err)
	}
	o.broadcast(balanceUpdateFrame(balance, o.cons.SpentPaise))
	o.publish(&events.LedgerEvent{
		Event:          "consultation.debit",
		ConsultationID: o.cons.ID,
		SeekerID:       o.cons.SeekerID,
		AstrologerID:   o.cons.AstrologerID,
		AmountPaise:    due,
		SpentPaise:     o.cons.SpentPaise,
		BalancePaise:   balance,
		OccurredAt:     time.Now(),
	})
}

func (o *Owner) end(reason domain.EndReason) {
	if o.cons.Ended() {
		return
	}
	o.stopTicker()
	o.stopGrace()

	o.cons.TimerActive = false
	o.transition(domain.StatusEnded)
	now := time.Now()
	o.cons.EndedAt = &now
	o.cons.EndReason = reason
	o.persistState()

	o.broadcast(chatEndedFrame(reason))
	o.publish(&events.LedgerEvent{
		Event:          "consultation.ended",
		ConsultationID: o.cons.ID,
		SeekerID:       o.cons.SeekerID,
		AstrologerID:   o.cons.AstrologerID,
		SpentPaise:     o.cons.SpentPaise,
		BalancePaise:   o.cons.BalanceSnapshot,
		Reason:         string(reason),
		OccurredAt:     now,
	})
	slog.Info("session ended", "session_id", o.cons.ID, "reason", reason)
}

func (o *Owner) transition(to domain.Status) {
	if !canTransition(o.cons.Status, to) {
		// Callers gate on current status; reaching here is a programming
		// error, and the fail-safe path in run() turns the panic into a
		// terminal state instead of ticking on undefined state.
		panic(fmt.Sprintf("illegal transition %s -> %s for session %s", o.cons.Status, to, o.cons.ID))
	}
	o.cons.Status = to
}

func (o *Owner) startTicker() {
	if o.ticker != nil {
		return
	}
	o.ticker = time.NewTicker(o.tick)
	o.tickC = o.ticker.C
}

func (o *Owner) stopTicker() {
	if o.ticker == nil {
		return
	}
	o.ticker.Stop()
	o.ticker = nil
	o.tickC = nil
}

func (o *Owner) stopGrace() {
	if o.graceT == nil {
		return
	}
	o.graceT.Stop()
	o.graceT = nil
	o.graceC = nil
}

func (o *Owner) broadcast(frame []byte) {
	for c := range o.clients {
		if !c.enqueue(frame) {
			o.closeClient(c, "send queue overflow")
		}
	}
}

// closeClient removes the client and closes its queue.
func (o *Owner) closeClient(c *client, reason string) {
	if _, ok := o.clients[c]; !ok {
		return
	}
	delete(o.clients, c)
	c.close(reason)
}

func (o *Owner) persistState() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := o.repo.UpdateConsultationState(ctx, o.cons); err != nil {
		slog.Error("failed to persist session state", "session_id", o.cons.ID, "status", o.cons.Status, "error", err)
	}
}

func (o *Owner) ledgerBalance() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return o.ledger.Balance(ctx, o.cons.SeekerID)
}

func (o *Owner) publish(event *events.LedgerEvent) {
	if err := o.pub.Publish(event); err != nil {
		slog.Warn("failed to publish ledger event", "session_id", o.cons.ID, "event", event.Event, "error", err)
	}
}
