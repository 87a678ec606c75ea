package steward

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLoop(stub *stubProvider, skills ...*stubSkill) *AgentLoop {
	m := NewProviderManager("stub", "m1")
	m.Register("stub", stub, NewBreaker(), []string{"m1"})
	r := newTestRegistry()
	for _, s := range skills {
		if err := r.Register(s, nil); err != nil {
			panic(err)
		}
	}
	return NewAgentLoop(m, r)
}

func loopCfg() LoopConfig {
	return LoopConfig{Name: "main", Provider: "stub", Model: "m1", UserID: "u1"}
}

func TestLoop_TextOnlyTurn(t *testing.T) {
	stub := &stubProvider{results: []stubResult{{resp: textResp("hi there", 10, 5)}}}
	loop := newTestLoop(stub)

	res, err := loop.Run(context.Background(), loopCfg(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hi there" {
		t.Errorf("got %q, want %q", res.Text, "hi there")
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 5 {
		t.Errorf("got usage %+v", res.Usage)
	}
	if len(res.Transcript) != 2 || res.Transcript[0].Role != "user" || res.Transcript[1].Role != "assistant" {
		t.Errorf("got transcript %+v", res.Transcript)
	}
}

func TestLoop_ToolCycle(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("checking", ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{"q":"x"}`)})},
		{resp: textResp("done", 10, 5)},
	}}
	loop := newTestLoop(stub, echoSkill("util", "echo"))

	res, err := loop.Run(context.Background(), loopCfg(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "done" {
		t.Errorf("got %q, want done", res.Text)
	}
	if res.ToolCallCount != 1 {
		t.Errorf("got %d tool calls, want 1", res.ToolCallCount)
	}

	// Transcript: user, assistant text, tool_result, final assistant.
	roles := make([]string, len(res.Transcript))
	for i, e := range res.Transcript {
		roles[i] = e.Role
	}
	want := []string{"user", "assistant", "tool_result", "assistant"}
	if len(roles) != 4 || roles[1] != "assistant" || roles[2] != "tool_result" || roles[3] != "assistant" {
		t.Fatalf("got roles %v, want %v", roles, want)
	}
	if res.Transcript[2].ToolName != "echo" {
		t.Errorf("tool_result entry missing tool name: %+v", res.Transcript[2])
	}
	if res.Transcript[2].Content != `echo:{"q":"x"}` {
		t.Errorf("got tool result %q", res.Transcript[2].Content)
	}
}

func TestLoop_ContinuationMessageShape(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("looking",
			ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{"a":1}`)},
			ToolCall{ID: "t2", Name: "echo", Input: json.RawMessage(`{"b":2}`)},
		)},
		{resp: textResp("done", 1, 1)},
	}}
	loop := newTestLoop(stub, echoSkill("util", "echo"))

	if _, err := loop.Run(context.Background(), loopCfg(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.reqs) != 2 {
		t.Fatalf("got %d provider calls, want 2", len(stub.reqs))
	}

	msgs := stub.reqs[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("got %d continuation messages, want 3", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Role != "assistant" || len(assistant.Blocks) != 3 {
		t.Fatalf("got assistant message %+v, want text + 2 tool_use blocks", assistant)
	}
	if assistant.Blocks[0].Type != BlockText || assistant.Blocks[0].Text != "looking" {
		t.Errorf("got first block %+v, want the assistant text", assistant.Blocks[0])
	}
	if assistant.Blocks[1].ID != "t1" || assistant.Blocks[2].ID != "t2" {
		t.Errorf("tool_use blocks out of order: %+v", assistant.Blocks[1:])
	}

	user := msgs[2]
	if user.Role != "user" || len(user.Blocks) != 2 {
		t.Fatalf("got result message %+v, want 2 tool_result blocks", user)
	}
	if user.Blocks[0].ToolUseID != "t1" || user.Blocks[1].ToolUseID != "t2" {
		t.Errorf("tool_result ids do not mirror tool_use order: %+v", user.Blocks)
	}
	if user.Blocks[0].Content != `echo:{"a":1}` {
		t.Errorf("got result content %q", user.Blocks[0].Content)
	}
}

func TestLoop_ToolCallCeiling(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("",
			ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{}`)},
			ToolCall{ID: "t2", Name: "echo", Input: json.RawMessage(`{}`)},
		)},
	}}
	executed := 0
	skill := &stubSkill{
		name:  "util",
		tools: []ToolDefinition{{Name: "echo"}},
		execute: func(context.Context, string, json.RawMessage) (string, error) {
			executed++
			return "ok", nil
		},
	}
	loop := newTestLoop(stub, skill)

	cfg := loopCfg()
	cfg.MaxToolCalls = 1
	res, err := loop.Run(context.Background(), cfg, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != maxToolCallsText {
		t.Errorf("got %q, want the ceiling text", res.Text)
	}
	// The batch that would cross the ceiling never executes.
	if executed != 0 {
		t.Errorf("got %d executions past the ceiling, want 0", executed)
	}
}

func TestLoop_TokenBudgetExceeded(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "echo", Input: json.RawMessage(`{}`)})},
	}}
	loop := newTestLoop(stub, echoSkill("util", "echo"))

	cfg := loopCfg()
	cfg.MaxTokenBudget = 5 // toolResp reports 15 tokens
	_, err := loop.Run(context.Background(), cfg, "hello")
	if !errors.Is(err, ErrTokenBudgetExceeded) {
		t.Fatalf("got %v, want ErrTokenBudgetExceeded", err)
	}
}

func TestLoop_Cancellation(t *testing.T) {
	stub := &stubProvider{}
	loop := newTestLoop(stub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, loopCfg(), "hello")
	if !errors.Is(err, ErrRunCancelled) {
		t.Fatalf("got %v, want ErrRunCancelled", err)
	}
	if stub.callCount() != 0 {
		t.Errorf("got %d provider calls after cancellation, want 0", stub.callCount())
	}
}

func TestLoop_EscalationStopsBeforeExecution(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "deep_research", Input: json.RawMessage(`{}`)})},
	}}
	executed := false
	skill := &stubSkill{
		name:  "research",
		tools: []ToolDefinition{{Name: "deep_research"}},
		execute: func(context.Context, string, json.RawMessage) (string, error) {
			executed = true
			return "ok", nil
		},
	}
	loop := newTestLoop(stub, skill)

	cfg := loopCfg()
	cfg.Tier = TierLight
	cfg.Escalate = func(name string) bool { return name == "deep_research" }
	_, err := loop.Run(context.Background(), cfg, "hello")

	var esc *EscalationError
	if !errors.As(err, &esc) {
		t.Fatalf("got %v, want *EscalationError", err)
	}
	if esc.Tool != "deep_research" {
		t.Errorf("got escalation tool %q", esc.Tool)
	}
	if executed {
		t.Error("heavy tool executed before escalation")
	}
}

func TestLoop_HeavyTierDoesNotEscalate(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "deep_research", Input: json.RawMessage(`{}`)})},
		{resp: textResp("done", 1, 1)},
	}}
	loop := newTestLoop(stub, echoSkill("research", "deep_research"))

	cfg := loopCfg()
	cfg.Tier = TierHeavy
	cfg.Escalate = func(string) bool { return true }
	res, err := loop.Run(context.Background(), cfg, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "done" {
		t.Errorf("got %q, want done", res.Text)
	}
}

func TestLoop_TransientToolFailureRetriedOnce(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "fetch", Input: json.RawMessage(`{}`)})},
		{resp: textResp("done", 1, 1)},
	}}
	attempts := 0
	skill := &stubSkill{
		name:  "web",
		tools: []ToolDefinition{{Name: "fetch"}},
		execute: func(context.Context, string, json.RawMessage) (string, error) {
			attempts++
			if attempts == 1 {
				return "", errors.New("upstream timeout")
			}
			return "page content", nil
		},
	}
	loop := newTestLoop(stub, skill)

	res, err := loop.Run(context.Background(), loopCfg(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("got %d attempts, want 2", attempts)
	}
	if res.Text != "done" {
		t.Errorf("got %q, want done", res.Text)
	}
}

func TestLoop_NonTransientToolFailureNotRetried(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "fetch", Input: json.RawMessage(`{}`)})},
		{resp: textResp("done", 1, 1)},
	}}
	attempts := 0
	skill := &stubSkill{
		name:  "web",
		tools: []ToolDefinition{{Name: "fetch"}},
		execute: func(context.Context, string, json.RawMessage) (string, error) {
			attempts++
			return "", errors.New("permission denied")
		},
	}
	loop := newTestLoop(stub, skill)

	res, err := loop.Run(context.Background(), loopCfg(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts, want 1", attempts)
	}
	// The failure reaches the LLM as tool_result content.
	var found bool
	for _, e := range res.Transcript {
		if e.Role == "tool_result" && strings.Contains(e.Content, "permission denied") {
			found = true
		}
	}
	if !found {
		t.Error("tool failure missing from transcript")
	}
}

func TestLoop_PendingConfirmationPropagates(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: toolResp("", ToolCall{ID: "t1", Name: "delete_email", Input: json.RawMessage(`{}`)})},
		{resp: textResp("awaiting confirmation", 1, 1)},
	}}
	m := NewProviderManager("stub", "m1")
	m.Register("stub", stub, NewBreaker(), []string{"m1"})
	cm := NewConfirmationManager(nil)
	r := newTestRegistry(Confirmations(cm))
	skill := &stubSkill{name: "mail", tools: []ToolDefinition{
		{Name: "delete_email", RequiresConfirmation: true},
	}}
	if err := r.Register(skill, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loop := NewAgentLoop(m, r)

	res, err := loop.Run(context.Background(), loopCfg(), "delete my email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PendingConfirmation {
		t.Fatal("parked confirmation not propagated to the run result")
	}
}

func TestLoop_EmptyFinalTextSubstituted(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{StopReason: StopEndTurn, Usage: Usage{Tracked: true}}},
	}}
	loop := newTestLoop(stub)

	res, err := loop.Run(context.Background(), loopCfg(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != noResponseText {
		t.Errorf("got %q, want %q", res.Text, noResponseText)
	}
}
