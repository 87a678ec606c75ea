package steward

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// stubProvider is a test Provider that returns pre-configured results in
// order and records every request it saw.
type stubProvider struct {
	mu      sync.Mutex
	name    string
	calls   int
	results []stubResult
	reqs    []ChatRequest
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubProvider) Capabilities() Capabilities {
	return Capabilities{Tools: true, ParallelToolCalls: true, UsageMetrics: true}
}

func (s *stubProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i].resp, s.results[i].err
	}
	return ChatResponse{}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ Provider = (*stubProvider)(nil)

// textResp builds a final text response with tracked usage.
func textResp(text string, in, out int) ChatResponse {
	return ChatResponse{
		Text:       text,
		StopReason: StopEndTurn,
		Usage:      Usage{InputTokens: in, OutputTokens: out, Tracked: true},
	}
}

// toolResp builds a tool_use response.
func toolResp(text string, calls ...ToolCall) ChatResponse {
	return ChatResponse{
		Text:       text,
		ToolCalls:  calls,
		StopReason: StopToolUse,
		Usage:      Usage{InputTokens: 10, OutputTokens: 5, Tracked: true},
	}
}

// stubSkill is a configurable test Skill.
type stubSkill struct {
	name     string
	kind     SkillKind
	tools    []ToolDefinition
	required []string
	execute  func(ctx context.Context, tool string, input json.RawMessage) (string, error)

	started, stopped bool
}

func (s *stubSkill) Name() string        { return s.name }
func (s *stubSkill) Description() string { return s.name + " test skill" }

func (s *stubSkill) Kind() SkillKind {
	if s.kind == "" {
		return KindSkill
	}
	return s.kind
}

func (s *stubSkill) Tools() []ToolDefinition  { return s.tools }
func (s *stubSkill) RequiredConfig() []string { return s.required }

func (s *stubSkill) Execute(ctx context.Context, tool string, input json.RawMessage) (string, error) {
	if s.execute != nil {
		return s.execute(ctx, tool, input)
	}
	return "ok", nil
}

func (s *stubSkill) Startup(context.Context) error  { s.started = true; return nil }
func (s *stubSkill) Shutdown(context.Context) error { s.stopped = true; return nil }

var _ Skill = (*stubSkill)(nil)

// echoSkill returns a one-tool skill whose execution echoes its input.
func echoSkill(name, tool string) *stubSkill {
	return &stubSkill{
		name:  name,
		tools: []ToolDefinition{{Name: tool, Description: "echoes input"}},
		execute: func(_ context.Context, _ string, input json.RawMessage) (string, error) {
			return "echo:" + string(input), nil
		},
	}
}

// memLog is an in-memory TurnLog capturing every record.
type memLog struct {
	mu       sync.Mutex
	routing  []RoutingRecord
	audits   []AuditRecord
	usage    []UsageRecord
	alerts   []AlertRecord
	initDone bool
}

func (m *memLog) Init(context.Context) error { m.initDone = true; return nil }

func (m *memLog) WriteRouting(_ context.Context, rec RoutingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routing = append(m.routing, rec)
	return nil
}

func (m *memLog) WriteAudit(_ context.Context, rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

func (m *memLog) WriteUsage(_ context.Context, rec UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

func (m *memLog) WriteAlert(_ context.Context, rec AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, rec)
	return nil
}

func (m *memLog) Close() error { return nil }

var _ TurnLog = (*memLog)(nil)

// collectEvents subscribes to pattern and appends matches to the returned
// slice pointer.
func collectEvents(bus *EventBus, pattern string) *[]Event {
	events := &[]Event{}
	var mu sync.Mutex
	bus.Subscribe(pattern, func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, ev)
		return nil
	})
	return events
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
