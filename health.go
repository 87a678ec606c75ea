package steward

import (
	"sync"
	"time"
)

// HealthStatus is a skill's availability class.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnavailable HealthStatus = "unavailable"
)

const (
	defaultDegradedThreshold    = 3
	defaultUnavailableThreshold = 6
)

// SkillHealth is a snapshot of one skill's health counters.
type SkillHealth struct {
	Status         HealthStatus `json:"status"`
	RecentFailures int          `json:"recent_failures"`
	LastFailureAt  time.Time    `json:"last_failure_at,omitzero"`
}

// HealthTracker keeps per-skill consecutive-failure counts. Skills degrade
// after a few consecutive failures and become unavailable after more; any
// success resets them to healthy.
type HealthTracker struct {
	mu          sync.Mutex
	skills      map[string]*SkillHealth
	degraded    int
	unavailable int
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// HealthThresholds sets the consecutive-failure counts for degraded and
// unavailable (defaults 3 and 6).
func HealthThresholds(degraded, unavailable int) HealthOption {
	return func(h *HealthTracker) {
		h.degraded = degraded
		h.unavailable = unavailable
	}
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	h := &HealthTracker{
		skills:      make(map[string]*SkillHealth),
		degraded:    defaultDegradedThreshold,
		unavailable: defaultUnavailableThreshold,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RecordSuccess resets the skill to healthy.
func (h *HealthTracker) RecordSuccess(skill string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skills[skill] = &SkillHealth{Status: HealthHealthy}
}

// RecordFailure increments the skill's consecutive-failure count and applies
// the degraded/unavailable thresholds.
func (h *HealthTracker) RecordFailure(skill string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.skills[skill]
	if !ok {
		s = &SkillHealth{Status: HealthHealthy}
		h.skills[skill] = s
	}
	s.RecentFailures++
	s.LastFailureAt = time.Now()
	switch {
	case s.RecentFailures >= h.unavailable:
		s.Status = HealthUnavailable
	case s.RecentFailures >= h.degraded:
		s.Status = HealthDegraded
	}
}

// Status returns the skill's current status. Unknown skills are healthy.
func (h *HealthTracker) Status(skill string) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.skills[skill]; ok {
		return s.Status
	}
	return HealthHealthy
}

// Snapshot returns a copy of the skill's health record.
func (h *HealthTracker) Snapshot(skill string) SkillHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.skills[skill]; ok {
		return *s
	}
	return SkillHealth{Status: HealthHealthy}
}

// Reset clears the skill to healthy regardless of previous state.
func (h *HealthTracker) Reset(skill string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skills[skill] = &SkillHealth{Status: HealthHealthy}
}
