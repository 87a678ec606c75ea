package steward

import "context"

// Capabilities describes what a provider variant supports. ToolsPerModel
// marks providers where tool support depends on the selected model rather
// than the API as a whole.
type Capabilities struct {
	Tools             bool `json:"tools"`
	ToolsPerModel     bool `json:"tools_per_model,omitempty"`
	ParallelToolCalls bool `json:"parallel_tool_calls"`
	UsageMetrics      bool `json:"usage_metrics"`
	JSONMode          bool `json:"json_mode"`
	Streaming         bool `json:"streaming"`
}

// Provider abstracts one LLM backend. Implementations must honor ctx
// cancellation and return *ErrHTTP for transport-level failures so the
// resilience layer can classify them.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
