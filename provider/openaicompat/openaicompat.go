// Package openaicompat implements steward.Provider for any API that speaks
// the OpenAI chat completions protocol: OpenAI, OpenRouter, Groq, Together,
// DeepSeek, Mistral, Ollama, vLLM, Azure OpenAI, and others.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stewardai/steward"
)

// Provider implements steward.Provider for OpenAI-compatible backends.
type Provider struct {
	apiKey  string
	baseURL string
	name    string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name (default "openai"), so the same
// client can serve Groq, Ollama, and friends under their own names.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates an OpenAI-compatible chat provider. baseURL is the API base
// (e.g. "https://api.openai.com/v1"); /chat/completions is appended.
func New(apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		name:    "openai",
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// Capabilities reports the chat-completions feature set.
func (p *Provider) Capabilities() steward.Capabilities {
	return steward.Capabilities{
		Tools:             true,
		ParallelToolCalls: true,
		UsageMetrics:      true,
		JSONMode:          true,
	}
}

// --- wire types ---

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_completion_tokens,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      *wireMessage `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends one chat-completions request and returns the parsed response.
func (p *Provider) Chat(ctx context.Context, req steward.ChatRequest) (steward.ChatResponse, error) {
	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name, Message: "marshal body: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name, Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return steward.ChatResponse{}, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return steward.ChatResponse{}, &steward.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: steward.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name, Message: "parse response: " + err.Error()}
	}
	return p.parseResponse(wire), nil
}

// buildBody maps the agnostic request onto the chat-completions wire
// format. The system prompt becomes a leading system message; assistant
// tool_use blocks become tool_calls; each tool_result block becomes one
// role:"tool" message bound by tool_call_id.
func buildBody(req steward.ChatRequest) wireRequest {
	out := wireRequest{Model: req.Model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		out.Messages = append(out.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Blocks) == 0 {
			out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: m.Content})
			continue
		}
		switch m.Role {
		case "assistant":
			msg := wireMessage{Role: "assistant"}
			for _, b := range m.Blocks {
				switch b.Type {
				case steward.BlockText:
					msg.Content += b.Text
				case steward.BlockToolUse:
					msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
						ID:   b.ID,
						Type: "function",
						Function: wireFunctionCall{
							Name:      b.Name,
							Arguments: string(b.Input),
						},
					})
				}
			}
			out.Messages = append(out.Messages, msg)
		default:
			for _, b := range m.Blocks {
				switch b.Type {
				case steward.BlockToolResult:
					out.Messages = append(out.Messages, wireMessage{
						Role:       "tool",
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
				case steward.BlockText:
					out.Messages = append(out.Messages, wireMessage{Role: m.Role, Content: b.Text})
				}
			}
		}
	}
	for _, t := range req.Tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (p *Provider) parseResponse(wire wireResponse) steward.ChatResponse {
	out := steward.ChatResponse{
		Model:      wire.Model,
		Provider:   p.name,
		StopReason: steward.StopEndTurn,
	}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		if choice.Message != nil {
			out.Text = choice.Message.Content
			for _, tc := range choice.Message.ToolCalls {
				args := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, steward.ToolCall{
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: args,
				})
			}
		}
		switch choice.FinishReason {
		case "tool_calls":
			out.StopReason = steward.StopToolUse
		case "length":
			out.StopReason = steward.StopMaxTokens
		}
	}
	if wire.Usage != nil {
		out.Usage = steward.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
			Tracked:      true,
		}
	}
	return out
}

var _ steward.Provider = (*Provider)(nil)
