package steward

import (
	"errors"
	"testing"
)

func newTestManager(opts ...ManagerOption) (*ProviderManager, map[string]*Breaker) {
	m := NewProviderManager("alpha", "alpha-large", opts...)
	breakers := map[string]*Breaker{
		"alpha": NewBreaker(FailureThreshold(1)),
		"beta":  NewBreaker(FailureThreshold(1)),
		"gamma": NewBreaker(FailureThreshold(1)),
	}
	m.Register("alpha", &stubProvider{name: "alpha"}, breakers["alpha"], []string{"alpha-large", "alpha-small"})
	m.Register("beta", &stubProvider{name: "beta"}, breakers["beta"], []string{"beta-large"})
	m.Register("gamma", &stubProvider{name: "gamma"}, breakers["gamma"], []string{"alpha-large", "gamma-small"})
	return m, breakers
}

func TestManager_DefaultSelection(t *testing.T) {
	m, _ := newTestManager()

	sel, err := m.SelectFor("u1", TierHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Provider != "alpha" || sel.Model != "alpha-large" || sel.FailedOver {
		t.Errorf("got %+v, want default alpha/alpha-large without failover", sel)
	}
}

func TestManager_TierDefault(t *testing.T) {
	m, _ := newTestManager(TierDefault(TierLight, "alpha", "alpha-small"))

	sel, err := m.SelectFor("u1", TierLight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Model != "alpha-small" {
		t.Errorf("got model %q for light tier, want alpha-small", sel.Model)
	}

	sel, _ = m.SelectFor("u1", TierHeavy)
	if sel.Model != "alpha-large" {
		t.Errorf("got model %q for heavy tier, want alpha-large", sel.Model)
	}
}

func TestManager_UserPreferenceWins(t *testing.T) {
	m, _ := newTestManager()

	if err := m.SetUserPreference("u1", "beta", "beta-large"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel, err := m.SelectFor("u1", TierLight)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Provider != "beta" || sel.Model != "beta-large" {
		t.Errorf("got %+v, want the user's beta preference", sel)
	}
}

func TestManager_RejectsInvalidPreference(t *testing.T) {
	m, _ := newTestManager()

	if err := m.SetUserPreference("u1", "nope", "x"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if err := m.SetUserPreference("u1", "alpha", "beta-large"); err == nil {
		t.Error("expected error for model not configured on provider")
	}
}

func TestManager_FailoverChainWalk(t *testing.T) {
	m, breakers := newTestManager(FailoverChain("beta", "gamma"))
	breakers["alpha"].RecordFailure()

	sel, err := m.SelectFor("u1", TierHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Provider != "beta" {
		t.Fatalf("got provider %q, want first usable chain entry beta", sel.Provider)
	}
	if !sel.FailedOver || sel.OriginalProvider != "alpha" {
		t.Errorf("got %+v, want FailedOver with original alpha", sel)
	}
	// beta does not serve alpha-large: falls back to its first model.
	if sel.Model != "beta-large" {
		t.Errorf("got model %q, want beta-large", sel.Model)
	}
}

func TestManager_FailoverKeepsModelWhenServed(t *testing.T) {
	m, breakers := newTestManager(FailoverChain("gamma", "beta"))
	breakers["alpha"].RecordFailure()

	sel, err := m.SelectFor("u1", TierHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// gamma also serves alpha-large, so the model carries over.
	if sel.Provider != "gamma" || sel.Model != "alpha-large" {
		t.Errorf("got %+v, want gamma/alpha-large", sel)
	}
}

func TestManager_SkipsOpenChainEntries(t *testing.T) {
	m, breakers := newTestManager(FailoverChain("beta", "gamma"))
	breakers["alpha"].RecordFailure()
	breakers["beta"].RecordFailure()

	sel, err := m.SelectFor("u1", TierHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Provider != "gamma" {
		t.Errorf("got provider %q, want gamma", sel.Provider)
	}
}

func TestManager_FallsBackBeyondChain(t *testing.T) {
	m, breakers := newTestManager(FailoverChain("beta"))
	breakers["alpha"].RecordFailure()
	breakers["beta"].RecordFailure()

	sel, err := m.SelectFor("u1", TierHeavy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// gamma is not in the chain but is the only usable provider left.
	if sel.Provider != "gamma" {
		t.Errorf("got provider %q, want gamma", sel.Provider)
	}
}

func TestManager_AllProvidersUnavailable(t *testing.T) {
	m, breakers := newTestManager(FailoverChain("beta", "gamma"))
	for _, b := range breakers {
		b.RecordFailure()
	}

	_, err := m.SelectFor("u1", TierHeavy)
	if !errors.Is(err, ErrAllProvidersUnavailable) {
		t.Fatalf("got %v, want ErrAllProvidersUnavailable", err)
	}
}
