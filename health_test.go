package steward

import "testing"

func TestHealth_DegradesThenBecomesUnavailable(t *testing.T) {
	h := NewHealthTracker()

	for i := 0; i < 2; i++ {
		h.RecordFailure("mail")
	}
	if got := h.Status("mail"); got != HealthHealthy {
		t.Fatalf("got %q after 2 failures, want %q", got, HealthHealthy)
	}
	h.RecordFailure("mail")
	if got := h.Status("mail"); got != HealthDegraded {
		t.Fatalf("got %q after 3 failures, want %q", got, HealthDegraded)
	}
	for i := 0; i < 3; i++ {
		h.RecordFailure("mail")
	}
	if got := h.Status("mail"); got != HealthUnavailable {
		t.Fatalf("got %q after 6 failures, want %q", got, HealthUnavailable)
	}
}

func TestHealth_SuccessResets(t *testing.T) {
	h := NewHealthTracker()

	for i := 0; i < 6; i++ {
		h.RecordFailure("mail")
	}
	h.RecordSuccess("mail")
	if got := h.Status("mail"); got != HealthHealthy {
		t.Fatalf("got %q after success, want %q", got, HealthHealthy)
	}
	if snap := h.Snapshot("mail"); snap.RecentFailures != 0 {
		t.Errorf("got %d recent failures after success, want 0", snap.RecentFailures)
	}
}

func TestHealth_UnknownSkillIsHealthy(t *testing.T) {
	h := NewHealthTracker()

	if got := h.Status("never-seen"); got != HealthHealthy {
		t.Fatalf("got %q, want %q", got, HealthHealthy)
	}
}

func TestHealth_CustomThresholds(t *testing.T) {
	h := NewHealthTracker(HealthThresholds(1, 2))

	h.RecordFailure("mail")
	if got := h.Status("mail"); got != HealthDegraded {
		t.Fatalf("got %q, want %q", got, HealthDegraded)
	}
	h.RecordFailure("mail")
	if got := h.Status("mail"); got != HealthUnavailable {
		t.Fatalf("got %q, want %q", got, HealthUnavailable)
	}
}

func TestHealth_Reset(t *testing.T) {
	h := NewHealthTracker()

	for i := 0; i < 6; i++ {
		h.RecordFailure("mail")
	}
	h.Reset("mail")
	if got := h.Status("mail"); got != HealthHealthy {
		t.Fatalf("got %q after reset, want %q", got, HealthHealthy)
	}
}
