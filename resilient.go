package steward

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventLLMFailure is published (severity high) when a provider's circuit
// transitions to open.
const EventLLMFailure = "alert.system.llm_failure"

// resilientProvider wraps a Provider with retry/backoff and a circuit
// breaker. Every LLM call in the system goes through one of these.
type resilientProvider struct {
	inner   Provider
	breaker *Breaker
	bus     *EventBus
	delays  []time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// defaultRetryDelays is the backoff schedule between attempts. The wrapper
// issues at most 1+len(delays) calls per Chat.
var defaultRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// ResilienceOption configures a resilient provider wrapper.
type ResilienceOption func(*resilientProvider)

// RetryDelays overrides the backoff schedule (default 100ms, 200ms, 400ms).
func RetryDelays(delays ...time.Duration) ResilienceOption {
	return func(r *resilientProvider) { r.delays = delays }
}

// ResilienceLogger sets the structured logger for retry and breaker events.
func ResilienceLogger(l *slog.Logger) ResilienceOption {
	return func(r *resilientProvider) { r.logger = l }
}

// WithResilience wraps p with retry on transient errors and the given
// circuit breaker. When the breaker transitions to open, an
// alert.system.llm_failure event is published to bus (best-effort; bus may
// be nil). Compose like any other decorator:
//
//	p := steward.WithResilience(anthropic.New(key), breaker, bus)
func WithResilience(p Provider, breaker *Breaker, bus *EventBus, opts ...ResilienceOption) Provider {
	r := &resilientProvider{
		inner:   p,
		breaker: breaker,
		bus:     bus,
		delays:  defaultRetryDelays,
		logger:  nopLogger,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *resilientProvider) Name() string               { return r.inner.Name() }
func (r *resilientProvider) Capabilities() Capabilities { return r.inner.Capabilities() }

// Chat implements Provider. The breaker is consulted once before the first
// attempt; an open circuit fails immediately with ErrProviderUnavailable.
func (r *resilientProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if !r.breaker.CanExecute() {
		return ChatResponse{}, fmt.Errorf("%w: %s circuit open", ErrProviderUnavailable, r.inner.Name())
	}

	var lastErr error
	for attempt := 0; attempt <= len(r.delays); attempt++ {
		resp, err := r.inner.Chat(ctx, req)
		if err == nil {
			r.breaker.RecordSuccess()
			return resp, nil
		}
		lastErr = err
		if attempt >= len(r.delays) || !IsRetryable(err) {
			break
		}
		r.logger.Warn("retrying transient provider error",
			"provider", r.inner.Name(),
			"attempt", attempt+1,
			"max_attempts", len(r.delays)+1,
			"error", err)
		if serr := r.sleep(ctx, r.delays[attempt]); serr != nil {
			return ChatResponse{}, serr
		}
	}

	wasOpen := r.breaker.State() == StateOpen
	r.breaker.RecordFailure()
	if !wasOpen && r.breaker.State() == StateOpen {
		r.logger.Error("provider circuit opened",
			"provider", r.inner.Name(), "error", lastErr)
		if r.bus != nil {
			r.bus.Publish(ctx, Event{
				Type:     EventLLMFailure,
				Source:   "resilient_provider",
				Severity: SeverityHigh,
				Payload: map[string]any{
					"provider": r.inner.Name(),
					"error":    lastErr.Error(),
				},
			})
		}
	}
	return ChatResponse{}, lastErr
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
