package steward

import (
	"regexp"
	"testing"
)

var uuidShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if !uuidShape.MatchString(a) {
		t.Fatalf("id %q is not a v7 UUID", a)
	}
	if a == b {
		t.Error("consecutive ids collided")
	}
	// UUIDv7 sorts by creation time.
	if !(a < b) {
		t.Errorf("ids not time-ordered: %q then %q", a, b)
	}
}

func TestNewEventID(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	if a == "" || a == b {
		t.Fatalf("event ids not unique: %q, %q", a, b)
	}
}
