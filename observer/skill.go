package observer

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stewardai/steward"
)

// ObservedSkill wraps a steward.Skill with OTEL instrumentation for its tool
// executions. Registration metadata and lifecycle calls pass through.
type ObservedSkill struct {
	inner steward.Skill
	inst  *Instruments
}

// WrapSkill returns an instrumented skill.
func WrapSkill(inner steward.Skill, inst *Instruments) *ObservedSkill {
	return &ObservedSkill{inner: inner, inst: inst}
}

func (o *ObservedSkill) Name() string                       { return o.inner.Name() }
func (o *ObservedSkill) Description() string                { return o.inner.Description() }
func (o *ObservedSkill) Kind() steward.SkillKind            { return o.inner.Kind() }
func (o *ObservedSkill) Tools() []steward.ToolDefinition    { return o.inner.Tools() }
func (o *ObservedSkill) RequiredConfig() []string           { return o.inner.RequiredConfig() }
func (o *ObservedSkill) Startup(ctx context.Context) error  { return o.inner.Startup(ctx) }
func (o *ObservedSkill) Shutdown(ctx context.Context) error { return o.inner.Shutdown(ctx) }

func (o *ObservedSkill) Execute(ctx context.Context, tool string, input json.RawMessage) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(tool),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, tool, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(tool),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(tool),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", tool),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ steward.Skill = (*ObservedSkill)(nil)
