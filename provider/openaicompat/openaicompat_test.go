package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stewardai/steward"
)

func TestChat_RequestShape(t *testing.T) {
	var gotBody wireRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("got path %q", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	p := New("sk-test", srv.URL, WithName("groq"))
	resp, err := p.Chat(context.Background(), steward.ChatRequest{
		Model:     "llama-3.3-70b",
		System:    "Be brief.",
		Messages:  []steward.ChatMessage{steward.UserMessage("hello")},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("got Authorization %q", gotAuth)
	}
	if gotBody.MaxTokens != 256 {
		t.Errorf("got max_completion_tokens %d", gotBody.MaxTokens)
	}
	// System prompt leads as a system-role message.
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "Be brief." {
		t.Errorf("got messages %+v", gotBody.Messages)
	}
	if resp.Provider != "groq" || resp.Text != "hi" || !resp.Usage.Tracked {
		t.Errorf("got response %+v", resp)
	}
}

func TestChat_ToolCycleWireFormat(t *testing.T) {
	var gotBody wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := New("sk-test", srv.URL)
	_, err := p.Chat(context.Background(), steward.ChatRequest{
		Model: "gpt-4o",
		Messages: []steward.ChatMessage{
			steward.UserMessage("weather?"),
			{Role: "assistant", Blocks: []steward.ContentBlock{
				steward.TextBlock("checking"),
				steward.ToolUseBlock("call_1", "get_weather", json.RawMessage(`{"city":"Berlin"}`)),
			}},
			{Role: "user", Blocks: []steward.ContentBlock{
				steward.ToolResultBlock("call_1", "12C, clear"),
			}},
		},
		Tools: []steward.ToolDefinition{{Name: "get_weather"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotBody.Messages) != 3 {
		t.Fatalf("got %d messages", len(gotBody.Messages))
	}
	assistant := gotBody.Messages[1]
	if assistant.Content != "checking" || len(assistant.ToolCalls) != 1 {
		t.Fatalf("got assistant message %+v", assistant)
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" || tc.Function.Name != "get_weather" {
		t.Errorf("got tool call %+v", tc)
	}
	// Arguments travel as a JSON string, not an object.
	if tc.Function.Arguments != `{"city":"Berlin"}` {
		t.Errorf("got arguments %q", tc.Function.Arguments)
	}
	toolMsg := gotBody.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "12C, clear" {
		t.Errorf("got tool message %+v", toolMsg)
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].Type != "function" || string(gotBody.Tools[0].Function.Parameters) != `{"type":"object"}` {
		t.Errorf("got tools %+v", gotBody.Tools)
	}
}

func TestChat_ParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{
				"message": {
					"role": "assistant",
					"tool_calls": [
						{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Berlin\"}"}},
						{"id":"call_2","type":"function","function":{"name":"get_time","arguments":"not json"}}
					]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer srv.Close()

	p := New("sk-test", srv.URL)
	resp, err := p.Chat(context.Background(), steward.ChatRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.StopReason != steward.StopToolUse {
		t.Errorf("got stop reason %q", resp.StopReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	if string(resp.ToolCalls[0].Input) != `{"city":"Berlin"}` {
		t.Errorf("got input %s", resp.ToolCalls[0].Input)
	}
	// Unparseable arguments degrade to an empty object.
	if string(resp.ToolCalls[1].Input) != `{}` {
		t.Errorf("got input %s for invalid arguments", resp.ToolCalls[1].Input)
	}
}

func TestChat_LengthFinishReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"truncat"},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()

	p := New("sk-test", srv.URL)
	resp, err := p.Chat(context.Background(), steward.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != steward.StopMaxTokens {
		t.Errorf("got stop reason %q, want max_tokens", resp.StopReason)
	}
}

func TestChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	p := New("sk-test", srv.URL)
	_, err := p.Chat(context.Background(), steward.ChatRequest{Model: "m"})

	var he *steward.ErrHTTP
	if !errors.As(err, &he) {
		t.Fatalf("got %v, want *steward.ErrHTTP", err)
	}
	if he.Status != 503 {
		t.Errorf("got status %d", he.Status)
	}
}

func TestChat_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	// Ollama and other local backends take no key.
	p := New("", srv.URL, WithName("ollama"))
	if _, err := p.Chat(context.Background(), steward.ChatRequest{Model: "llama3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("got Authorization %q, want none", gotAuth)
	}
}
