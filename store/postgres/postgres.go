// Package postgres implements steward.TurnLog using PostgreSQL.
//
// Log accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stewardai/steward"
)

// Log implements steward.TurnLog backed by PostgreSQL. All four tables are
// append-only; rows are never updated.
type Log struct {
	pool *pgxpool.Pool
}

var _ steward.TurnLog = (*Log)(nil)

// New creates a Log using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

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
			failed_over BOOLEAN NOT NULL,
			original_provider TEXT NOT NULL DEFAULT '',
			escalated BOOLEAN NOT NULL,
			at TIMESTAMPTZ NOT NULL
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
			confirmation BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			tracked BOOLEAN NOT NULL,
			cost DOUBLE PRECISION,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			payload TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_user ON routing_log(user_id, at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_at ON usage_log(at)`,
	}
	for _, stmt := range tables {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// WriteRouting appends one routing decision.
func (s *Log) WriteRouting(ctx context.Context, rec steward.RoutingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO routing_log (id, user_id, channel, tier, tier_reason, provider, model, failed_over, original_provider, escalated, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, rec.Channel, string(rec.Tier), rec.TierReason,
		rec.Provider, rec.Model, rec.FailedOver, rec.OriginalProvider,
		rec.Escalated, rec.At)
	if err != nil {
		return fmt.Errorf("postgres: write routing: %w", err)
	}
	return nil
}

// WriteAudit appends one turn outcome.
func (s *Log) WriteAudit(ctx context.Context, rec steward.AuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, user_id, channel, input_chars, output_chars, tool_call_count, input_tokens, output_tokens, confirmation, error, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, rec.Channel, rec.InputChars, rec.OutputChars,
		rec.ToolCallCount, rec.InputTokens, rec.OutputTokens,
		rec.Confirmation, rec.Error, rec.At)
	if err != nil {
		return fmt.Errorf("postgres: write audit: %w", err)
	}
	return nil
}

// WriteUsage appends one tracked LLM call.
func (s *Log) WriteUsage(ctx context.Context, rec steward.UsageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (provider, model, tier, input_tokens, output_tokens, tracked, cost, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Provider, rec.Model, string(rec.Tier), rec.InputTokens,
		rec.OutputTokens, rec.Tracked, rec.Cost, at)
	if err != nil {
		return fmt.Errorf("postgres: write usage: %w", err)
	}
	return nil
}

// WriteAlert appends one alert event.
func (s *Log) WriteAlert(ctx context.Context, rec steward.AlertRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_log (event_id, event_type, source, severity, payload, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.EventID, rec.EventType, rec.Source, string(rec.Severity),
		rec.Payload, rec.At)
	if err != nil {
		return fmt.Errorf("postgres: write alert: %w", err)
	}
	return nil
}

// Ping verifies the pool can reach the server.
func (s *Log) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Log) Close() error { return nil }
