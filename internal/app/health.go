package app

import (
	"context"
	"time"
)

// ServiceHealth is the probe result for one dependency.
type ServiceHealth struct {
	Status    string `json:"status"` // "ok" or "error"
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthReport aggregates dependency probes. Status is "ok" when every
// service passed, "degraded" when some failed, "error" when all did.
type HealthReport struct {
	Status    string                   `json:"status"`
	UptimeSec int64                    `json:"uptime_sec"`
	Services  map[string]ServiceHealth `json:"services"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health probes the app's external dependencies.
func (a *App) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		UptimeSec: int64(time.Since(a.startedAt).Seconds()),
		Services:  make(map[string]ServiceHealth),
	}

	if p, ok := a.turnLog.(pinger); ok {
		report.Services["database"] = probe(ctx, p.Ping)
	}
	if a.redisClient != nil {
		report.Services["redis"] = probe(ctx, func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		})
	}

	failed := 0
	for _, s := range report.Services {
		if s.Status != "ok" {
			failed++
		}
	}
	switch {
	case failed == 0:
		report.Status = "ok"
	case failed < len(report.Services):
		report.Status = "degraded"
	default:
		report.Status = "error"
	}
	return report
}

func probe(ctx context.Context, ping func(context.Context) error) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	err := ping(ctx)
	h := ServiceHealth{
		Status:    "ok",
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Status = "error"
		h.Error = err.Error()
	}
	return h
}
