package steward

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// EventAbuse is published (severity high) when a user crosses the invalid
// confirmation attempt threshold.
const EventAbuse = "alert.system.abuse"

const (
	defaultTokenTTL       = 5 * time.Minute
	defaultAbuseWindow    = 5 * time.Minute
	defaultAbuseThreshold = 10
	tokenRandomBytes      = 10 // 80 bits -> 16 Base32 chars
)

// confirmPattern matches a whole message of the form "confirm <TOKEN>".
var confirmPattern = regexp.MustCompile(`(?i)^\s*confirm\s+([A-Z2-7]+)\s*$`)

// PendingAction is a destructive tool call parked behind a single-use token.
type PendingAction struct {
	Token       string          `json:"token"`
	UserID      string          `json:"user_id"`
	Skill       string          `json:"skill"`
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description"`
	TempDir     string          `json:"temp_dir,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ConfirmationManager mints and consumes single-use, time-bounded,
// user-scoped tokens for destructive actions, and tracks invalid attempts
// for abuse detection.
type ConfirmationManager struct {
	mu             sync.Mutex
	pending        map[string]PendingAction
	attempts       map[string][]time.Time
	alerted        map[string]bool
	ttl            time.Duration
	abuseWindow    time.Duration
	abuseThreshold int
	bus            *EventBus
	logger         *slog.Logger
	now            func() time.Time
}

// ConfirmOption configures a ConfirmationManager.
type ConfirmOption func(*ConfirmationManager)

// TokenTTL sets how long a minted token stays valid (default 5m).
func TokenTTL(d time.Duration) ConfirmOption {
	return func(c *ConfirmationManager) { c.ttl = d }
}

// AbusePolicy sets the invalid-attempt window and threshold (defaults 5m, 10).
func AbusePolicy(window time.Duration, threshold int) ConfirmOption {
	return func(c *ConfirmationManager) {
		c.abuseWindow = window
		c.abuseThreshold = threshold
	}
}

// ConfirmLogger sets the structured logger.
func ConfirmLogger(l *slog.Logger) ConfirmOption {
	return func(c *ConfirmationManager) { c.logger = l }
}

// confirmClock overrides the manager's time source, for tests.
func confirmClock(now func() time.Time) ConfirmOption {
	return func(c *ConfirmationManager) { c.now = now }
}

// NewConfirmationManager creates a manager publishing abuse alerts to bus
// (may be nil).
func NewConfirmationManager(bus *EventBus, opts ...ConfirmOption) *ConfirmationManager {
	c := &ConfirmationManager{
		pending:        make(map[string]PendingAction),
		attempts:       make(map[string][]time.Time),
		alerted:        make(map[string]bool),
		ttl:            defaultTokenTTL,
		abuseWindow:    defaultAbuseWindow,
		abuseThreshold: defaultAbuseThreshold,
		bus:            bus,
		logger:         nopLogger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create parks a destructive action and returns its token: 80 bits of
// randomness, Base32 without padding, matching ^[A-Z2-7]{16}$.
func (c *ConfirmationManager) Create(userID, skill, tool string, input json.RawMessage, description, tempDir string) string {
	var raw [tokenRandomBytes]byte
	_, _ = rand.Read(raw[:])
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[token] = PendingAction{
		Token:       token,
		UserID:      userID,
		Skill:       skill,
		Tool:        tool,
		Input:       input,
		Description: description,
		TempDir:     tempDir,
		ExpiresAt:   c.now().Add(c.ttl),
	}
	return token
}

// Consume redeems a token for its pending action. It returns nil when the
// user has crossed the abuse threshold, the token is unknown or expired, or
// the token belongs to another user. A successful consume deletes the token
// atomically, so a second call returns nil.
func (c *ConfirmationManager) Consume(ctx context.Context, token, userID string) *PendingAction {
	c.mu.Lock()
	now := c.now()

	if c.abusedLocked(userID, now) {
		c.mu.Unlock()
		return nil
	}

	action, ok := c.pending[token]
	if !ok || now.After(action.ExpiresAt) || action.UserID != userID {
		if ok && now.After(action.ExpiresAt) {
			delete(c.pending, token)
		}
		crossed := c.recordInvalidLocked(userID, now)
		c.mu.Unlock()
		c.logger.Info("invalid confirmation attempt", "user", userID)
		if crossed {
			c.publishAbuse(ctx, userID)
		}
		return nil
	}

	delete(c.pending, token)
	c.mu.Unlock()
	return &action
}

// MatchConfirmation reports whether text is a confirmation message and
// extracts its token. Matching is case-insensitive on the "confirm" keyword;
// the token itself is upper-case Base32.
func (c *ConfirmationManager) MatchConfirmation(text string) (string, bool) {
	m := confirmPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Cleanup prunes expired tokens and stale abuse windows.
func (c *ConfirmationManager) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for token, action := range c.pending {
		if now.After(action.ExpiresAt) {
			delete(c.pending, token)
		}
	}
	cutoff := now.Add(-c.abuseWindow)
	for user, stamps := range c.attempts {
		kept := stamps[:0]
		for _, at := range stamps {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		if len(kept) == 0 {
			delete(c.attempts, user)
			delete(c.alerted, user)
		} else {
			c.attempts[user] = kept
		}
	}
}

// TTL returns the configured token lifetime.
func (c *ConfirmationManager) TTL() time.Duration { return c.ttl }

// Pending returns the number of live tokens.
func (c *ConfirmationManager) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// abusedLocked reports whether userID is at or past the abuse threshold
// within the live window. Caller must hold c.mu.
func (c *ConfirmationManager) abusedLocked(userID string, now time.Time) bool {
	cutoff := now.Add(-c.abuseWindow)
	var live int
	for _, at := range c.attempts[userID] {
		if at.After(cutoff) {
			live++
		}
	}
	return live >= c.abuseThreshold
}

// recordInvalidLocked records one invalid attempt and reports whether the
// user just crossed the threshold. Caller must hold c.mu.
func (c *ConfirmationManager) recordInvalidLocked(userID string, now time.Time) bool {
	c.attempts[userID] = append(c.attempts[userID], now)
	if c.abusedLocked(userID, now) && !c.alerted[userID] {
		c.alerted[userID] = true
		return true
	}
	return false
}

func (c *ConfirmationManager) publishAbuse(ctx context.Context, userID string) {
	c.logger.Warn("confirmation abuse threshold crossed", "user", userID)
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, Event{
		Type:     EventAbuse,
		Source:   "confirmation_manager",
		Severity: SeverityHigh,
		Payload:  map[string]any{"user_id": userID},
	})
}
