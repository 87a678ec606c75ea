package steward

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrHTTP is a transport-level provider failure. RetryAfter carries the
// parsed Retry-After header when the server sent one.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrLLM is a provider-level failure that is not a plain HTTP error
// (malformed response body, refused request, unsupported feature).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Run-fatal sentinels. The orchestrator translates these into a bounded set
// of user-facing messages; they never carry stack traces or secrets upward.
var (
	// ErrProviderUnavailable means the provider's circuit is open.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersUnavailable means the failover chain was exhausted.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrTokenBudgetExceeded means a run crossed its configured token budget.
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")

	// ErrRunCancelled means the turn's cancel signal was observed before an
	// LLM call was issued.
	ErrRunCancelled = errors.New("run cancelled")
)

// EscalationError reports that a light-tier run tried to invoke a heavy tool.
// The loop stops before executing the tool; the orchestrator re-picks a
// heavy-tier provider and restarts the run.
type EscalationError struct {
	Tool string
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("tool %q requires heavy-tier escalation", e.Tool)
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds or
// an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryableFragments classifies transient provider errors by message
// substring, matched case-insensitively. 4xx auth/budget errors, schema
// errors and cancellation never match.
var retryableFragments = []string{"429", "500", "503", "rate limit", "overloaded", "timeout"}

// IsRetryable reports whether err is a transient provider error worth
// retrying. Structured *ErrHTTP errors are classified by status first;
// everything else falls back to substring matching on the message.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *ErrHTTP
	if errors.As(err, &he) {
		return he.Status == 429 || he.Status == 500 || he.Status == 503
	}
	return IsRetryableMessage(err.Error())
}

// IsRetryableMessage applies the transient-error substring classification to
// a bare message, for callers that only have a reified error string.
func IsRetryableMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, frag := range retryableFragments {
		if strings.Contains(m, frag) {
			return true
		}
	}
	return false
}
