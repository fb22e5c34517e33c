package session

import (
	"testing"

	"github.com/instaastro/liveconsult/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusRequested, domain.StatusActive, true},
		{domain.StatusRequested, domain.StatusEnded, true},
		{domain.StatusRequested, domain.StatusPaused, false},
		{domain.StatusActive, domain.StatusPaused, true},
		{domain.StatusActive, domain.StatusEnded, true},
		{domain.StatusActive, domain.StatusRequested, false},
		{domain.StatusPaused, domain.StatusActive, true},
		{domain.StatusPaused, domain.StatusEnded, true},
		{domain.StatusPaused, domain.StatusRequested, false},
		{domain.StatusEnded, domain.StatusActive, false},
		{domain.StatusEnded, domain.StatusPaused, false},
		{domain.StatusEnded, domain.StatusRequested, false},
		{domain.StatusEnded, domain.StatusEnded, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
