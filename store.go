package steward

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// --- Persistence records (append-only) ---

// RoutingRecord logs one provider routing decision.
type RoutingRecord struct {
	ID               string    `json:"id"` // correlation id for the turn
	UserID           string    `json:"user_id"`
	Channel          string    `json:"channel"`
	Tier             Tier      `json:"tier"`
	TierReason       string    `json:"tier_reason"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	FailedOver       bool      `json:"failed_over"`
	OriginalProvider string    `json:"original_provider,omitempty"`
	Escalated        bool      `json:"escalated"`
	At               time.Time `json:"at"`
}

// AuditRecord logs the outcome of one turn.
type AuditRecord struct {
	ID            string    `json:"id"` // correlation id for the turn
	UserID        string    `json:"user_id"`
	Channel       string    `json:"channel"`
	InputChars    int       `json:"input_chars"`
	OutputChars   int       `json:"output_chars"`
	ToolCallCount int       `json:"tool_call_count"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Confirmation  bool      `json:"confirmation"` // turn was a token redemption
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// AlertRecord persists one alert.* event from the bus.
type AlertRecord struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Source    string    `json:"source"`
	Severity  Severity  `json:"severity"`
	Payload   string    `json:"payload"` // JSON-encoded event payload
	At        time.Time `json:"at"`
}

// --- Sink contracts ---

// UsageSink receives usage records, one per tracked LLM call.
type UsageSink interface {
	WriteUsage(ctx context.Context, rec UsageRecord) error
}

// TurnLog is the append-only persistence contract for routing decisions,
// audit entries, usage records and alert history. Implementations live
// under store/; each record is keyed by its generated id.
type TurnLog interface {
	UsageSink
	Init(ctx context.Context) error
	WriteRouting(ctx context.Context, rec RoutingRecord) error
	WriteAudit(ctx context.Context, rec AuditRecord) error
	WriteAlert(ctx context.Context, rec AlertRecord) error
	Close() error
}

// --- Best-effort wrapper ---

// SafeLog wraps a TurnLog so writes never throw into the caller: failures
// are logged at warn and swallowed. Audit and telemetry must not break a
// turn.
type SafeLog struct {
	inner  TurnLog
	logger *slog.Logger
}

// NewSafeLog wraps log; a nil log yields a no-op SafeLog.
func NewSafeLog(log TurnLog, logger *slog.Logger) *SafeLog {
	if logger == nil {
		logger = nopLogger
	}
	return &SafeLog{inner: log, logger: logger}
}

// WriteRouting appends a routing record, best-effort.
func (s *SafeLog) WriteRouting(ctx context.Context, rec RoutingRecord) {
	if s.inner == nil {
		return
	}
	if err := s.inner.WriteRouting(ctx, rec); err != nil {
		s.logger.Warn("routing log write failed", "id", rec.ID, "error", err)
	}
}

// WriteAudit appends an audit record, best-effort.
func (s *SafeLog) WriteAudit(ctx context.Context, rec AuditRecord) {
	if s.inner == nil {
		return
	}
	if err := s.inner.WriteAudit(ctx, rec); err != nil {
		s.logger.Warn("audit log write failed", "id", rec.ID, "error", err)
	}
}

// WriteUsage appends a usage record, best-effort.
func (s *SafeLog) WriteUsage(ctx context.Context, rec UsageRecord) error {
	if s.inner == nil {
		return nil
	}
	if err := s.inner.WriteUsage(ctx, rec); err != nil {
		s.logger.Warn("usage log write failed", "provider", rec.Provider, "error", err)
	}
	return nil
}

// WriteAlert appends an alert record, best-effort.
func (s *SafeLog) WriteAlert(ctx context.Context, rec AlertRecord) {
	if s.inner == nil {
		return
	}
	if err := s.inner.WriteAlert(ctx, rec); err != nil {
		s.logger.Warn("alert log write failed", "event_id", rec.EventID, "error", err)
	}
}

// BridgeAlerts subscribes log to the bus's system alerts so alert history
// survives the process. Returns the unsubscribe function.
func BridgeAlerts(bus *EventBus, log *SafeLog) func() {
	return bus.Subscribe("alert.system.*", func(ctx context.Context, ev Event) error {
		payload, _ := json.Marshal(ev.Payload)
		log.WriteAlert(ctx, AlertRecord{
			EventID:   ev.ID,
			EventType: ev.Type,
			Source:    ev.Source,
			Severity:  ev.Severity,
			Payload:   string(payload),
			At:        ev.At,
		})
		return nil
	})
}
