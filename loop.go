package steward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultMaxToolCalls      = 10
	defaultMaxResponseTokens = 4096

	// noResponseText stands in for an empty final assistant message.
	noResponseText = "No response generated."
	// maxToolCallsText is appended when a run hits its tool-call ceiling.
	maxToolCallsText = "Reached maximum number of tool calls."
)

// LoopConfig configures one agent run.
type LoopConfig struct {
	Name         string
	SystemPrompt string
	Provider     string // provider name registered with the ProviderManager
	Model        string

	AllowedSkills []string
	BlockedTools  []string
	IsSubagent    bool

	MaxToolCalls      int           // default 10
	ToolTimeout       time.Duration // per-call wall clock; 0 = registry default
	MaxTokenBudget    int           // 0 = unlimited
	MaxResponseTokens int           // default 4096

	Tier    Tier
	UserID  string
	TempDir string

	// Escalate reports whether a tool demands a heavy-tier provider. When a
	// light-tier run is about to execute such a tool, Run stops with
	// *EscalationError instead; the caller re-picks a provider and reruns.
	Escalate func(toolName string) bool
}

// AgentLoop drives the LLM <-> tool-call cycle for agent runs. One loop
// instance serves many concurrent runs; all per-run state lives in Run.
type AgentLoop struct {
	manager  *ProviderManager
	registry *SkillRegistry
	logger   *slog.Logger
}

// LoopOption configures an AgentLoop.
type LoopOption func(*AgentLoop)

// LoopLogger sets the structured logger.
func LoopLogger(l *slog.Logger) LoopOption {
	return func(a *AgentLoop) { a.logger = l }
}

// NewAgentLoop creates a loop dispatching LLM calls through manager and tool
// calls through registry.
func NewAgentLoop(manager *ProviderManager, registry *SkillRegistry, opts ...LoopOption) *AgentLoop {
	a := &AgentLoop{manager: manager, registry: registry, logger: nopLogger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes one turn: it alternates LLM responses and sequential tool
// executions until the LLM stops requesting tools or a termination
// condition fires. The transcript accumulates in order (user, then per
// iteration any assistant text followed by tool results in tool_use order,
// then the final assistant text) and is retained on every exit path.
//
// Tool errors are not fatal: they surface to the LLM as tool_result content.
// LLM errors, budget exhaustion and cancellation terminate the run.
func (a *AgentLoop) Run(ctx context.Context, cfg LoopConfig, userInput string) (RunResult, error) {
	maxToolCalls := cfg.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = defaultMaxToolCalls
	}
	maxTokens := cfg.MaxResponseTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxResponseTokens
	}

	tools := a.registry.ToolDefinitions(Filter{
		AllowedSkills:        cfg.AllowedSkills,
		BlockedTools:         cfg.BlockedTools,
		ExcludeMainAgentOnly: cfg.IsSubagent,
	})

	result := RunResult{}
	result.Transcript = append(result.Transcript, TranscriptEntry{
		Role: "user", Content: userInput, At: time.Now(),
	})
	messages := []ChatMessage{UserMessage(userInput)}

	for {
		// Cancellation is observed between LLM calls only; in-flight work is
		// bounded by its own timeouts.
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %v", ErrRunCancelled, err)
		}

		resp, err := a.manager.Chat(ctx, cfg.Provider, ChatRequest{
			Model:     cfg.Model,
			System:    cfg.SystemPrompt,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: maxTokens,
		})
		if err != nil {
			return result, err
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		result.Usage.Tracked = result.Usage.Tracked || resp.Usage.Tracked

		// Final response: no tool use requested.
		if resp.StopReason != StopToolUse || len(resp.ToolCalls) == 0 {
			text := resp.Text
			if text == "" {
				text = noResponseText
			}
			result.Text = text
			result.Transcript = append(result.Transcript, TranscriptEntry{
				Role: "assistant", Content: text, At: time.Now(),
			})
			return result, nil
		}

		// Tool-call ceiling: finalize without executing this batch.
		if result.ToolCallCount+len(resp.ToolCalls) > maxToolCalls {
			text := resp.Text
			if text == "" {
				text = maxToolCallsText
			}
			result.Text = text
			result.Transcript = append(result.Transcript, TranscriptEntry{
				Role: "assistant", Content: text, At: time.Now(),
			})
			return result, nil
		}

		// Token budget applies to continuing runs only.
		if cfg.MaxTokenBudget > 0 &&
			result.Usage.InputTokens+result.Usage.OutputTokens > cfg.MaxTokenBudget {
			return result, fmt.Errorf("%w: %d tokens used, budget %d",
				ErrTokenBudgetExceeded,
				result.Usage.InputTokens+result.Usage.OutputTokens, cfg.MaxTokenBudget)
		}

		// A heavy tool in a light run stops the loop before execution; the
		// orchestrator re-picks the provider and reruns.
		if cfg.Tier == TierLight && cfg.Escalate != nil {
			for _, tc := range resp.ToolCalls {
				if cfg.Escalate(tc.Name) {
					return result, &EscalationError{Tool: tc.Name}
				}
			}
		}

		if resp.Text != "" {
			result.Transcript = append(result.Transcript, TranscriptEntry{
				Role: "assistant", Content: resp.Text, At: time.Now(),
			})
		}

		// Execute serially in the order the LLM produced, even when the
		// provider advertises parallel tool calls, so results bind by id.
		results := make([]ExecResult, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			results[i] = a.executeTool(ctx, cfg, tc)
			result.ToolCallCount++
			if results[i].PendingConfirmation {
				result.PendingConfirmation = true
			}
			result.Transcript = append(result.Transcript, TranscriptEntry{
				Role: "tool_result", Content: results[i].Content, At: time.Now(), ToolName: tc.Name,
			})
		}

		// Continuation: assistant blocks (text then tool_use), then one user
		// message with tool_result blocks mirroring tool_use order.
		assistantBlocks := make([]ContentBlock, 0, len(resp.ToolCalls)+1)
		if resp.Text != "" {
			assistantBlocks = append(assistantBlocks, TextBlock(resp.Text))
		}
		resultBlocks := make([]ContentBlock, 0, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			assistantBlocks = append(assistantBlocks, ToolUseBlock(tc.ID, tc.Name, tc.Input))
			resultBlocks = append(resultBlocks, ToolResultBlock(tc.ID, results[i].Content))
		}
		messages = append(messages,
			ChatMessage{Role: "assistant", Blocks: assistantBlocks},
			ChatMessage{Role: "user", Blocks: resultBlocks},
		)
	}
}

// executeTool dispatches one call through the registry, retrying once when
// the failure looks transient (same classification as provider retries).
func (a *AgentLoop) executeTool(ctx context.Context, cfg LoopConfig, tc ToolCall) ExecResult {
	callCtx := ctx
	if cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	ec := ExecContext{
		IsSubagent: cfg.IsSubagent,
		UserID:     cfg.UserID,
		TempDir:    cfg.TempDir,
	}
	res := a.registry.Execute(callCtx, tc.Name, tc.Input, ec)
	if isTransientToolFailure(res) && ctx.Err() == nil {
		a.logger.Warn("retrying transient tool failure",
			"run", cfg.Name, "tool", tc.Name, "result", res.Content)
		res = a.registry.Execute(callCtx, tc.Name, tc.Input, ec)
	}
	return res
}

// isTransientToolFailure reports whether a reified execution error is worth
// one automatic retry. Policy refusals and parked confirmations never are.
func isTransientToolFailure(res ExecResult) bool {
	if res.Denied || res.PendingConfirmation {
		return false
	}
	return strings.HasPrefix(res.Content, "Error executing ") && IsRetryableMessage(res.Content)
}
