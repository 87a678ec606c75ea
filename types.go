package steward

import (
	"encoding/json"
	"time"
)

// --- LLM protocol types ---

// BlockType discriminates the ContentBlock union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a structured message body: plain text, an
// LLM-requested tool invocation, or the result of one.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block bound to a tool_use id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// ChatMessage is one conversation message. Content carries plain text;
// Blocks carries structured content. When Blocks is non-empty it takes
// precedence and Content is ignored by providers.
type ChatMessage struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

// AssistantMessage builds a plain-text assistant message.
func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// ToolCall is an LLM-produced request to invoke a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// StopReason reports why the LLM stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ChatRequest is a single call to an LLM backend. Cancellation travels on the
// context passed to Provider.Chat.
type ChatRequest struct {
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Messages  []ChatMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens"`
}

// Usage holds token counts for one LLM call. Tracked is false when the
// provider did not report usage metrics.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Tracked      bool `json:"tracked"`
}

// ChatResponse is the provider-agnostic result of one LLM call.
type ChatResponse struct {
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model"`
	Provider   string     `json:"provider"`
}

// --- Tool and skill types ---

// ToolDefinition describes one callable tool. Names are unique across the
// entire registry, not just within a skill.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"` // JSON Schema

	// RequiresConfirmation gates execution behind a single-use token.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`
	// Sensitive suppresses input values from logs (key names only).
	Sensitive bool `json:"sensitive,omitempty"`
	// MainAgentOnly refuses invocation from subagent runs.
	MainAgentOnly bool `json:"main_agent_only,omitempty"`
}

// --- Turn I/O (transport adapter contract) ---

// Attachment is a file that arrived with an inbound message, already
// downloaded to local disk by the transport adapter.
type Attachment struct {
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	UserID      string
	Text        string
	Channel     string
	Attachments []Attachment
	TempDir     string // scratch dir owned by the adapter for this turn
}

// OutFile is a file produced during a turn for the adapter to deliver.
type OutFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// TurnReply is the outcome of one turn. PendingConfirmation tells the
// adapter a destructive action is parked behind a token, so the turn's temp
// directory must survive until the token is consumed or expires.
type TurnReply struct {
	Text                string
	Files               []OutFile
	PendingConfirmation bool
}

// --- Agent run types ---

// TranscriptEntry is one append-only record within a single agent run.
type TranscriptEntry struct {
	Role     string    `json:"role"` // "user", "assistant", "tool_result"
	Content  string    `json:"content"`
	At       time.Time `json:"at"`
	ToolName string    `json:"tool_name,omitempty"`
}

// RunResult is what an AgentLoop run returns to its caller. The transcript
// is a value copy owned by the caller.
type RunResult struct {
	Text                string
	Usage               Usage
	ToolCallCount       int
	Transcript          []TranscriptEntry
	PendingConfirmation bool
}

// --- Usage accounting ---

// Tier is the coarse latency/cost class used for provider routing.
type Tier string

const (
	TierLight Tier = "light"
	TierHeavy Tier = "heavy"
)

// UsageRecord is one tracked LLM call. Cost is nil when the model has no
// pricing entry or the provider reported no usage.
type UsageRecord struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Tier         Tier      `json:"tier,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Tracked      bool      `json:"tracked"`
	Cost         *float64  `json:"cost,omitempty"`
	At           time.Time `json:"at"`
}
