package session

import "github.com/instaastro/liveconsult/internal/domain"

// legalTransitions is the consultation state machine:
// REQUESTED -> ACTIVE -> {PAUSED <-> ACTIVE} -> ENDED, with ENDED terminal.
// REQUESTED and PAUSED may also end directly (admin termination, grace
// timeout); ENDED has no successors, making every transition attempt from it
// an idempotent no-op at the call sites.
var legalTransitions = map[domain.Status][]domain.Status{
	domain.StatusRequested: {domain.StatusActive, domain.StatusEnded},
	domain.StatusActive:    {domain.StatusPaused, domain.StatusEnded},
	domain.StatusPaused:    {domain.StatusActive, domain.StatusEnded},
	domain.StatusEnded:     {},
}

// canTransition reports whether moving from one status to another is legal.
func canTransition(from, to domain.Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
