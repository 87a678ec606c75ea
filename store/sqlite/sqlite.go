// Package sqlite implements steward.TurnLog using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/stewardai/steward"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger sets a structured logger. When set, the log emits a debug line
// per write.
func WithLogger(l *slog.Logger) LogOption {
	return func(s *Log) { s.logger = l }
}

// Log implements steward.TurnLog backed by a local SQLite file. All four
// tables are append-only; rows are never updated.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ steward.TurnLog = (*Log)(nil)

// New creates a Log using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...LogOption) *Log {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Log{db: db, logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: turn log opened", "path", dbPath)
	return s
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Init creates all required tables.
func (s *Log) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS routing_log (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			tier TEXT NOT NULL,
			tier_reason TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			failed_over INTEGER NOT NULL,
			original_provider TEXT NOT NULL DEFAULT '',
			escalated INTEGER NOT NULL,
			at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			input_chars INTEGER NOT NULL,
			output_chars INTEGER NOT NULL,
			tool_call_count INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			confirmation INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			tracked INTEGER NOT NULL,
			cost REAL,
			at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			payload TEXT NOT NULL,
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_user ON routing_log(user_id, at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_at ON usage_log(at)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

// WriteRouting appends one routing decision.
func (s *Log) WriteRouting(ctx context.Context, rec steward.RoutingRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_log (id, user_id, channel, tier, tier_reason, provider, model, failed_over, original_provider, escalated, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Channel, string(rec.Tier), rec.TierReason,
		rec.Provider, rec.Model, boolInt(rec.FailedOver), rec.OriginalProvider,
		boolInt(rec.Escalated), rec.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: write routing: %w", err)
	}
	s.logger.Debug("sqlite: routing written", "id", rec.ID)
	return nil
}

// WriteAudit appends one turn outcome.
func (s *Log) WriteAudit(ctx context.Context, rec steward.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, user_id, channel, input_chars, output_chars, tool_call_count, input_tokens, output_tokens, confirmation, error, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Channel, rec.InputChars, rec.OutputChars,
		rec.ToolCallCount, rec.InputTokens, rec.OutputTokens,
		boolInt(rec.Confirmation), rec.Error, rec.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: write audit: %w", err)
	}
	s.logger.Debug("sqlite: audit written", "id", rec.ID)
	return nil
}

// WriteUsage appends one tracked LLM call.
func (s *Log) WriteUsage(ctx context.Context, rec steward.UsageRecord) error {
	var cost sql.NullFloat64
	if rec.Cost != nil {
		cost = sql.NullFloat64{Float64: *rec.Cost, Valid: true}
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (provider, model, tier, input_tokens, output_tokens, tracked, cost, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Provider, rec.Model, string(rec.Tier), rec.InputTokens,
		rec.OutputTokens, boolInt(rec.Tracked), cost, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: write usage: %w", err)
	}
	return nil
}

// WriteAlert appends one alert event.
func (s *Log) WriteAlert(ctx context.Context, rec steward.AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_log (event_id, event_type, source, severity, payload, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.EventType, rec.Source, string(rec.Severity),
		rec.Payload, rec.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: write alert: %w", err)
	}
	return nil
}

// Ping verifies the database handle is usable.
func (s *Log) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Log) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
