// Package gemini implements steward.Provider against the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stewardai/steward"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements steward.Provider for Google Gemini models.
type Gemini struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures a Gemini provider.
type Option func(*Gemini)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gemini) { g.client = c }
}

// WithBaseURL overrides the API base URL, for tests and proxies.
func WithBaseURL(url string) Option {
	return func(g *Gemini) { g.baseURL = url }
}

// New creates a Gemini chat provider.
func New(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{apiKey: apiKey, baseURL: defaultBaseURL, client: &http.Client{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Capabilities reports the generateContent feature set. Tool support varies
// by model, so ToolsPerModel is set.
func (g *Gemini) Capabilities() steward.Capabilities {
	return steward.Capabilities{
		Tools:         true,
		ToolsPerModel: true,
		UsageMetrics:  true,
		JSONMode:      true,
	}
}

// --- wire types ---

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResp `json:"functionResponse,omitempty"`
}

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireRequest struct {
	SystemInstruction *wireContent `json:"systemInstruction,omitempty"`
	Contents          []wireContent `json:"contents"`
	Tools             []struct {
		FunctionDeclarations []wireDeclaration `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
	GenerationConfig *struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content      *wireContent `json:"content"`
		FinishReason string       `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Chat sends one generateContent request and returns the parsed response.
func (g *Gemini) Chat(ctx context.Context, req steward.ChatRequest) (steward.ChatResponse, error) {
	payload, err := json.Marshal(buildBody(req))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "gemini", Message: "marshal body: " + err.Error()}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "gemini", Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return steward.ChatResponse{}, fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "gemini", Message: "read response: " + err.Error()}
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
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: "gemini", Message: "parse response: " + err.Error()}
	}
	return parseResponse(wire, req.Model), nil
}

// buildBody maps the agnostic request onto the generateContent wire format.
// Gemini carries no call IDs on the wire; functionResponse parts are keyed by
// function NAME, so tool_result blocks are resolved through a prescan of the
// conversation's earlier tool_use blocks.
func buildBody(req steward.ChatRequest) wireRequest {
	var out wireRequest
	if req.System != "" {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig = &struct {
			MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
		}{MaxOutputTokens: req.MaxTokens}
	}

	// Map tool_use IDs to function names for the functionResponse parts.
	callNames := make(map[string]string)
	for _, m := range req.Messages {
		for _, b := range m.Blocks {
			if b.Type == steward.BlockToolUse {
				callNames[b.ID] = b.Name
			}
		}
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		wc := wireContent{Role: role}
		if len(m.Blocks) == 0 {
			wc.Parts = []wirePart{{Text: m.Content}}
		} else {
			for _, b := range m.Blocks {
				switch b.Type {
				case steward.BlockText:
					wc.Parts = append(wc.Parts, wirePart{Text: b.Text})
				case steward.BlockToolUse:
					args := b.Input
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					wc.Parts = append(wc.Parts, wirePart{FunctionCall: &wireFunctionCall{
						Name: b.Name,
						Args: args,
					}})
				case steward.BlockToolResult:
					wc.Parts = append(wc.Parts, wirePart{FunctionResponse: &wireFunctionResp{
						Name:     callNames[b.ToolUseID],
						Response: map[string]any{"output": b.Content},
					}})
				}
			}
		}
		out.Contents = append(out.Contents, wc)
	}

	if len(req.Tools) > 0 {
		decls := make([]wireDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, wireDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		out.Tools = []struct {
			FunctionDeclarations []wireDeclaration `json:"functionDeclarations"`
		}{{FunctionDeclarations: decls}}
	}
	return out
}

// parseResponse flattens candidates[0] into the agnostic response. Gemini
// returns no call IDs, so they are synthesized in part order.
func parseResponse(wire wireResponse, model string) steward.ChatResponse {
	out := steward.ChatResponse{
		Model:      model,
		Provider:   "gemini",
		StopReason: steward.StopEndTurn,
	}
	if wire.ModelVersion != "" {
		out.Model = wire.ModelVersion
	}
	if len(wire.Candidates) > 0 {
		cand := wire.Candidates[0]
		if cand.Content != nil {
			for i, p := range cand.Content.Parts {
				switch {
				case p.FunctionCall != nil:
					args := p.FunctionCall.Args
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					out.ToolCalls = append(out.ToolCalls, steward.ToolCall{
						ID:    fmt.Sprintf("call_%d", i),
						Name:  p.FunctionCall.Name,
						Input: args,
					})
				case p.Text != "":
					out.Text += p.Text
				}
			}
		}
		if len(out.ToolCalls) > 0 {
			out.StopReason = steward.StopToolUse
		} else if cand.FinishReason == "MAX_TOKENS" {
			out.StopReason = steward.StopMaxTokens
		}
	}
	if wire.UsageMetadata != nil {
		out.Usage = steward.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			Tracked:      true,
		}
	}
	return out
}

var _ steward.Provider = (*Gemini)(nil)
