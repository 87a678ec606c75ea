package steward

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"
)

var tokenShape = regexp.MustCompile(`^[A-Z2-7]{16}$`)

func TestConfirm_TokenShape(t *testing.T) {
	c := NewConfirmationManager(nil)

	token := c.Create("u1", "mail", "delete_email", json.RawMessage(`{}`), "delete 3 emails", "")
	if !tokenShape.MatchString(token) {
		t.Fatalf("token %q does not match ^[A-Z2-7]{16}$", token)
	}
}

func TestConfirm_ConsumeIsSingleUse(t *testing.T) {
	c := NewConfirmationManager(nil)
	ctx := context.Background()

	token := c.Create("u1", "mail", "delete_email", json.RawMessage(`{"id":"7"}`), "delete", "")
	action := c.Consume(ctx, token, "u1")
	if action == nil {
		t.Fatal("first consume returned nil")
	}
	if action.Skill != "mail" || action.Tool != "delete_email" {
		t.Errorf("got %+v, want the parked mail/delete_email action", action)
	}
	if string(action.Input) != `{"id":"7"}` {
		t.Errorf("got input %s", action.Input)
	}
	if c.Consume(ctx, token, "u1") != nil {
		t.Fatal("second consume returned the action again")
	}
}

func TestConfirm_TokenScopedToUser(t *testing.T) {
	c := NewConfirmationManager(nil)
	ctx := context.Background()

	token := c.Create("u1", "mail", "delete_email", nil, "delete", "")
	if c.Consume(ctx, token, "u2") != nil {
		t.Fatal("another user consumed the token")
	}
	// Still valid for the owner.
	if c.Consume(ctx, token, "u1") == nil {
		t.Fatal("owner could not consume after someone else tried")
	}
}

func TestConfirm_TokenExpires(t *testing.T) {
	clock := newFakeClock()
	c := NewConfirmationManager(nil, confirmClock(clock.now))
	ctx := context.Background()

	token := c.Create("u1", "mail", "delete_email", nil, "delete", "")
	clock.advance(5*time.Minute + time.Second)
	if c.Consume(ctx, token, "u1") != nil {
		t.Fatal("expired token was consumed")
	}
}

func TestConfirm_MatchConfirmation(t *testing.T) {
	c := NewConfirmationManager(nil)
	cases := []struct {
		text  string
		token string
		ok    bool
	}{
		{"confirm ABCDEFGHIJKLMN23", "ABCDEFGHIJKLMN23", true},
		{"  CONFIRM ABCDEFGHIJKLMN23  ", "ABCDEFGHIJKLMN23", true},
		{"confirm", "", false},
		{"please confirm ABCDEFGHIJKLMN23", "", false},
		{"confirm abc123", "", false},
		{"confirm ABCDEFGHIJKLMN23 now", "", false},
	}
	for _, tc := range cases {
		token, ok := c.MatchConfirmation(tc.text)
		if ok != tc.ok || token != tc.token {
			t.Errorf("MatchConfirmation(%q) = (%q, %v), want (%q, %v)", tc.text, token, ok, tc.token, tc.ok)
		}
	}
}

func TestConfirm_AbuseAlertFiresOnce(t *testing.T) {
	bus := NewEventBus()
	events := collectEvents(bus, EventAbuse)
	c := NewConfirmationManager(bus, AbusePolicy(5*time.Minute, 3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Consume(ctx, "WRONGTOKEN222222", "u1")
	}
	if len(*events) != 1 {
		t.Fatalf("got %d abuse alerts, want 1", len(*events))
	}
	ev := (*events)[0]
	if ev.Severity != SeverityHigh {
		t.Errorf("got severity %q, want %q", ev.Severity, SeverityHigh)
	}
	if ev.Payload["user_id"] != "u1" {
		t.Errorf("got payload %v, want user_id u1", ev.Payload)
	}
}

func TestConfirm_AbusedUserCannotConsumeValidToken(t *testing.T) {
	c := NewConfirmationManager(nil, AbusePolicy(5*time.Minute, 2))
	ctx := context.Background()

	token := c.Create("u1", "mail", "delete_email", nil, "delete", "")
	c.Consume(ctx, "WRONGTOKEN222222", "u1")
	c.Consume(ctx, "WRONGTOKEN222222", "u1")
	if c.Consume(ctx, token, "u1") != nil {
		t.Fatal("abused user consumed a valid token")
	}
}

func TestConfirm_CleanupPrunesExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewConfirmationManager(nil, confirmClock(clock.now))

	c.Create("u1", "mail", "delete_email", nil, "delete", "")
	c.Create("u1", "mail", "delete_email", nil, "delete", "")
	if got := c.Pending(); got != 2 {
		t.Fatalf("got %d pending tokens, want 2", got)
	}
	clock.advance(6 * time.Minute)
	c.Cleanup()
	if got := c.Pending(); got != 0 {
		t.Fatalf("got %d pending tokens after cleanup, want 0", got)
	}
}

func TestConfirm_CleanupResetsAbuseWindow(t *testing.T) {
	clock := newFakeClock()
	c := NewConfirmationManager(nil, AbusePolicy(5*time.Minute, 2), confirmClock(clock.now))
	ctx := context.Background()

	c.Consume(ctx, "WRONGTOKEN222222", "u1")
	c.Consume(ctx, "WRONGTOKEN222222", "u1")
	clock.advance(6 * time.Minute)
	c.Cleanup()

	token := c.Create("u1", "mail", "delete_email", nil, "delete", "")
	if c.Consume(ctx, token, "u1") == nil {
		t.Fatal("user still blocked after the abuse window lapsed")
	}
}
