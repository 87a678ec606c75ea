package steward

import (
	"context"
	"testing"
	"time"
)

func TestRateLimit_AllowsUpToMax(t *testing.T) {
	m := NewMemoryRateLimiter()
	ctx := context.Background()
	l := Limit{Max: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, "tool", "u1", l)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	d, _ := m.Check(ctx, "tool", "u1", l)
	if d.Allowed {
		t.Fatal("request beyond Max allowed, want denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("got RetryAfter %v, want within (0, 1m]", d.RetryAfter)
	}
}

func TestRateLimit_WindowResets(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryRateLimiter()
	m.now = clock.now
	ctx := context.Background()
	l := Limit{Max: 1, Window: time.Minute}

	m.Check(ctx, "tool", "u1", l)
	if d, _ := m.Check(ctx, "tool", "u1", l); d.Allowed {
		t.Fatal("second request in window allowed, want denied")
	}

	clock.advance(time.Minute)
	if d, _ := m.Check(ctx, "tool", "u1", l); !d.Allowed {
		t.Fatal("request in fresh window denied, want allowed")
	}
}

func TestRateLimit_ZeroLimitAlwaysAllows(t *testing.T) {
	m := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if d, _ := m.Check(ctx, "tool", "u1", Limit{}); !d.Allowed {
			t.Fatal("zero limit denied a request")
		}
	}
}

func TestRateLimit_ScopesAreIndependent(t *testing.T) {
	m := NewMemoryRateLimiter()
	ctx := context.Background()
	l := Limit{Max: 1, Window: time.Minute}

	m.Check(ctx, "tool-a", "u1", l)
	if d, _ := m.Check(ctx, "tool-b", "u1", l); !d.Allowed {
		t.Error("different scope shared the window")
	}
	if d, _ := m.Check(ctx, "tool-a", "u2", l); !d.Allowed {
		t.Error("different key shared the window")
	}
	if d, _ := m.Check(ctx, "tool-a", "u1", l); d.Allowed {
		t.Error("same scope and key did not share the window")
	}
}
