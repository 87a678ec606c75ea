package steward

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// User-facing messages for run-fatal errors. Bounded set: no stack traces,
// no provider payloads, no secrets.
const (
	msgProviderTrouble = "I'm having trouble reaching the language model provider right now. Please try again in a moment."
	msgAllUnavailable  = "All language model providers are currently unavailable. Please try again later."
	msgBudgetExhausted = "This request used up its token budget before finishing. Try a simpler request."
	msgCancelled       = "The request was cancelled."
	msgInvalidToken    = "That confirmation code is invalid or has expired."
	msgInternalTrouble = "Something went wrong handling that request. Please try again."
)

// Orchestrator composes the routing, resilience, loop, skill and
// confirmation subsystems for one turn. It is safe for concurrent use; each
// turn is independent.
type Orchestrator struct {
	manager       *ProviderManager
	classifier    *TierClassifier
	registry      *SkillRegistry
	confirmations *ConfirmationManager
	loop          *AgentLoop
	usage         *UsageTracker
	log           *SafeLog
	logger        *slog.Logger

	systemPrompt      string
	maxToolCalls      int
	maxTokenBudget    int
	maxResponseTokens int
	toolTimeout       time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// SystemPrompt sets the system prompt used for every main-agent run.
func SystemPrompt(s string) OrchestratorOption {
	return func(o *Orchestrator) { o.systemPrompt = s }
}

// TurnBudgets overrides the per-run ceilings. Zero values keep the loop
// defaults (10 tool calls, unlimited tokens, 4096 response tokens).
func TurnBudgets(maxToolCalls, maxTokenBudget, maxResponseTokens int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxToolCalls = maxToolCalls
		o.maxTokenBudget = maxTokenBudget
		o.maxResponseTokens = maxResponseTokens
	}
}

// TurnToolTimeout sets the per-tool-call wall clock for turns.
func TurnToolTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.toolTimeout = d }
}

// TurnLogging wires the best-effort persistence log for routing and audit
// records.
func TurnLogging(log *SafeLog) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// OrchestratorLogger sets the structured logger.
func OrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the turn pipeline together.
func NewOrchestrator(
	manager *ProviderManager,
	classifier *TierClassifier,
	registry *SkillRegistry,
	confirmations *ConfirmationManager,
	loop *AgentLoop,
	usage *UsageTracker,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		manager:       manager,
		classifier:    classifier,
		registry:      registry,
		confirmations: confirmations,
		loop:          loop,
		usage:         usage,
		log:           NewSafeLog(nil, nil),
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleMessage owns one turn from message receipt to final reply.
// Confirmation messages redeem their token and dispatch the parked action
// directly; everything else is classified, routed and run through the agent
// loop. Run-fatal errors come back as bounded user-facing text, never as an
// error to the transport adapter.
func (o *Orchestrator) HandleMessage(ctx context.Context, req TurnRequest) TurnReply {
	turnID := NewID()

	if token, ok := o.confirmations.MatchConfirmation(req.Text); ok {
		return o.handleConfirmation(ctx, turnID, req, token)
	}

	cls := o.classifier.Classify(req.Text)
	reply, escalated := o.runTurn(ctx, turnID, req, cls.Tier, cls.Reason, false)
	if escalated {
		// A heavy tool surfaced mid-turn: re-pick a heavy provider and rerun
		// once from the original input.
		o.logger.Info("re-running turn on heavy tier", "turn", turnID, "user", req.UserID)
		reply, _ = o.runTurn(ctx, turnID, req, TierHeavy, "mid-turn escalation", true)
	}
	return reply
}

// runTurn selects a provider and drives one loop run. The escalated return
// is true when the run stopped for a heavy-tier re-pick.
func (o *Orchestrator) runTurn(ctx context.Context, turnID string, req TurnRequest, tier Tier, tierReason string, isRerun bool) (TurnReply, bool) {
	sel, err := o.manager.SelectFor(req.UserID, tier)
	if err != nil {
		o.logger.Error("provider selection failed", "turn", turnID, "error", err)
		o.audit(ctx, turnID, req, RunResult{}, err)
		return TurnReply{Text: msgAllUnavailable}, false
	}

	o.log.WriteRouting(ctx, RoutingRecord{
		ID:               turnID,
		UserID:           req.UserID,
		Channel:          req.Channel,
		Tier:             tier,
		TierReason:       tierReason,
		Provider:         sel.Provider,
		Model:            sel.Model,
		FailedOver:       sel.FailedOver,
		OriginalProvider: sel.OriginalProvider,
		Escalated:        isRerun,
		At:               time.Now(),
	})

	cfg := LoopConfig{
		Name:              "main",
		SystemPrompt:      o.systemPrompt,
		Provider:          sel.Provider,
		Model:             sel.Model,
		MaxToolCalls:      o.maxToolCalls,
		ToolTimeout:       o.toolTimeout,
		MaxTokenBudget:    o.maxTokenBudget,
		MaxResponseTokens: o.maxResponseTokens,
		Tier:              tier,
		UserID:            req.UserID,
		TempDir:           req.TempDir,
	}
	if !isRerun {
		cfg.Escalate = o.classifier.ShouldEscalate
	}

	result, runErr := o.loop.Run(ctx, cfg, req.Text)

	if result.Usage.Tracked || result.Usage.InputTokens > 0 || result.Usage.OutputTokens > 0 {
		o.usage.Track(ctx, sel.Provider, sel.Model, result.Usage, tier)
	}

	var esc *EscalationError
	if errors.As(runErr, &esc) {
		return TurnReply{}, true
	}

	o.audit(ctx, turnID, req, result, runErr)

	if runErr != nil {
		return TurnReply{Text: userFacing(runErr)}, false
	}
	return TurnReply{
		Text:                result.Text,
		PendingConfirmation: result.PendingConfirmation,
	}, false
}

// handleConfirmation redeems a token and dispatches the parked tool call
// directly through the registry, bypassing the agent loop.
func (o *Orchestrator) handleConfirmation(ctx context.Context, turnID string, req TurnRequest, token string) TurnReply {
	action := o.confirmations.Consume(ctx, token, req.UserID)
	if action == nil {
		o.audit(ctx, turnID, req, RunResult{}, errors.New("invalid confirmation token"))
		return TurnReply{Text: msgInvalidToken}
	}

	res := o.registry.Execute(ctx, action.Tool, action.Input, ExecContext{
		UserID:    req.UserID,
		TempDir:   action.TempDir,
		Confirmed: true,
	})
	result := RunResult{Text: res.Content, ToolCallCount: 1}
	o.auditConfirmation(ctx, turnID, req, result)
	return TurnReply{Text: res.Content}
}

func (o *Orchestrator) audit(ctx context.Context, turnID string, req TurnRequest, result RunResult, err error) {
	rec := AuditRecord{
		ID:            turnID,
		UserID:        req.UserID,
		Channel:       req.Channel,
		InputChars:    len(req.Text),
		OutputChars:   len(result.Text),
		ToolCallCount: result.ToolCallCount,
		InputTokens:   result.Usage.InputTokens,
		OutputTokens:  result.Usage.OutputTokens,
		At:            time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	o.log.WriteAudit(ctx, rec)
}

func (o *Orchestrator) auditConfirmation(ctx context.Context, turnID string, req TurnRequest, result RunResult) {
	o.log.WriteAudit(ctx, AuditRecord{
		ID:            turnID,
		UserID:        req.UserID,
		Channel:       req.Channel,
		InputChars:    len(req.Text),
		OutputChars:   len(result.Text),
		ToolCallCount: result.ToolCallCount,
		Confirmation:  true,
		At:            time.Now(),
	})
}

// userFacing maps a run-fatal error to its bounded user-visible message.
func userFacing(err error) string {
	switch {
	case errors.Is(err, ErrAllProvidersUnavailable):
		return msgAllUnavailable
	case errors.Is(err, ErrProviderUnavailable):
		return msgProviderTrouble
	case errors.Is(err, ErrTokenBudgetExceeded):
		return msgBudgetExhausted
	case errors.Is(err, ErrRunCancelled), errors.Is(err, context.Canceled):
		return msgCancelled
	}
	var he *ErrHTTP
	if errors.As(err, &he) {
		switch {
		case he.Status == 401 || he.Status == 403:
			return "The provider rejected our credentials. Please check the API key configuration."
		case he.Status == 402:
			return "The provider reports an exhausted budget or quota."
		case he.Status == 413:
			return "That conversation is too long for the model's context window."
		}
		return msgProviderTrouble
	}
	var le *ErrLLM
	if errors.As(err, &le) {
		return msgProviderTrouble
	}
	return msgInternalTrouble
}

// Cleanup prunes expired confirmation tokens; call it periodically.
func (o *Orchestrator) Cleanup() {
	o.confirmations.Cleanup()
}
