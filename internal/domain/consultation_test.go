package domain

import "testing"

func TestParticipantAndCounterpart(t *testing.T) {
	c := &Consultation{SeekerID: "seeker-1", AstrologerID: "astro-1"}

	if !c.Participant("seeker-1") || !c.Participant("astro-1") {
		t.Error("both parties must be participants")
	}
	if c.Participant("stranger") {
		t.Error("stranger must not be a participant")
	}

	if got := c.Counterpart("seeker-1"); got != "astro-1" {
		t.Errorf("seeker's counterpart = %q", got)
	}
	if got := c.Counterpart("astro-1"); got != "seeker-1" {
		t.Errorf("astrologer's counterpart = %q", got)
	}
	if got := c.Counterpart("stranger"); got != "" {
		t.Errorf("stranger's counterpart = %q", got)
	}
}

func TestEndReasonDescription(t *testing.T) {
	reasons := []EndReason{
		EndReasonUserEnded,
		EndReasonInsufficientBalance,
		EndReasonTimeout,
		EndReasonAdminTerminated,
		EndReasonInternalError,
		EndReason("something_new"),
	}
	for _, r := range reasons {
		if r.Description() == "" {
			t.Errorf("%s: empty description", r)
		}
	}
}

func TestRupees(t *testing.T) {
	tests := []struct {
		paise int64
		want  float64
	}{
		{0, 0},
		{1, 0.01},
		{2500, 25},
		{-50, -0.5},
	}
	for _, tt := range tests {
		if got := Rupees(tt.paise); got != tt.want {
			t.Errorf("Rupees(%d) = %v, want %v", tt.paise, got, tt.want)
		}
	}
}
