// Package anthropic implements steward.Provider against the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stewardai/steward"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Anthropic implements steward.Provider for Claude models.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures an Anthropic provider.
type Option func(*Anthropic)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Anthropic) { a.client = c }
}

// WithBaseURL overrides the API base URL, for tests and proxies.
func WithBaseURL(url string) Option {
	return func(a *Anthropic) { a.baseURL = url }
}

// New creates an Anthropic chat provider.
func New(apiKey string, opts ...Option) *Anthropic {
	a := &Anthropic{apiKey: apiKey, baseURL: defaultBaseURL, client: &http.Client{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Capabilities reports the messages API feature set.
func (a *Anthropic) Capabilities() steward.Capabilities {
	return steward.Capabilities{
		Tools:             true,
		ParallelToolCalls: true,
		UsageMetrics:      true,
	}
}

// --- wire types ---

type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens"`
}

type wireResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Model      string      `json:"model"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends one messages-API request and returns the parsed response.
func (a *Anthropic) Chat(ctx context.Context, req steward.ChatRequest) (steward.ChatResponse, error) {
	body := buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "anthropic", Message: "marshal body: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "anthropic", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return steward.ChatResponse{}, fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "anthropic", Message: "read response: " + err.Error()}
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
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "anthropic", Message: "parse response: " + err.Error()}
	}
	return parseResponse(wire), nil
}

// buildBody maps the agnostic request onto the messages-API wire format.
// Plain-text messages become single text blocks; structured messages map
// block for block.
func buildBody(req steward.ChatRequest) wireRequest {
	out := wireRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role}
		if len(m.Blocks) == 0 {
			wm.Content = []wireBlock{{Type: "text", Text: m.Content}}
		} else {
			for _, b := range m.Blocks {
				wm.Content = append(wm.Content, wireBlock{
					Type:      string(b.Type),
					Text:      b.Text,
					ID:        b.ID,
					Name:      b.Name,
					Input:     b.Input,
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
				})
			}
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

func parseResponse(wire wireResponse) steward.ChatResponse {
	out := steward.ChatResponse{
		Model:    wire.Model,
		Provider: "anthropic",
	}
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			out.Text += b.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, steward.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
	}
	switch wire.StopReason {
	case "tool_use":
		out.StopReason = steward.StopToolUse
	case "max_tokens":
		out.StopReason = steward.StopMaxTokens
	default:
		out.StopReason = steward.StopEndTurn
	}
	if wire.Usage != nil {
		out.Usage = steward.Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
			Tracked:      true,
		}
	}
	return out
}

var _ steward.Provider = (*Anthropic)(nil)
