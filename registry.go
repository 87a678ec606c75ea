package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	defaultToolTimeout     = 30 * time.Second
	defaultSkillRateMax    = 60
	defaultSkillRateWindow = 60 * time.Second
)

// ExecContext carries per-call policy inputs into the dispatch pipeline.
type ExecContext struct {
	IsSubagent bool
	UserID     string
	TempDir    string
	// Confirmed skips the confirmation gate; set only when dispatching an
	// action already redeemed through the ConfirmationManager.
	Confirmed bool
}

// ExecResult is the outcome of one tool dispatch. Content is always a
// well-formed user/LLM-facing string; the pipeline never returns an error.
type ExecResult struct {
	Content string
	// PendingConfirmation marks that the call was parked behind a token
	// instead of executing.
	PendingConfirmation bool
	// Denied marks policy refusals (unknown tool, restriction, health, rate
	// limit, schema).
	Denied bool
}

// Filter narrows the tool definitions exposed to one agent run.
type Filter struct {
	AllowedSkills        []string // empty = all skills
	BlockedTools         []string
	ExcludeMainAgentOnly bool
}

type registeredSkill struct {
	skill  Skill
	policy Limit
}

type registeredTool struct {
	def    ToolDefinition
	skill  string
	schema *jsonschema.Schema
}

// SkillRegistry owns all registered skills, indexes their tools and is the
// only path by which tools execute. Dispatch enforces, in order: tool
// existence, subagent restriction, skill health, per-skill rate limits,
// input schema, and destructive-action confirmation, before invoking the
// skill with a wall-clock timeout.
type SkillRegistry struct {
	mu     sync.RWMutex
	skills map[string]*registeredSkill
	tools  map[string]*registeredTool

	health        *HealthTracker
	limiter       RateLimiter
	confirmations *ConfirmationManager
	logger        *slog.Logger
	toolTimeout   time.Duration
}

// RegistryOption configures a SkillRegistry.
type RegistryOption func(*SkillRegistry)

// ToolTimeout sets the wall-clock execution timeout per tool call
// (default 30s).
func ToolTimeout(d time.Duration) RegistryOption {
	return func(r *SkillRegistry) { r.toolTimeout = d }
}

// RegistryLogger sets the structured logger.
func RegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *SkillRegistry) { r.logger = l }
}

// Confirmations wires the manager used to park destructive actions. Without
// it, tools that require confirmation are refused outright.
func Confirmations(cm *ConfirmationManager) RegistryOption {
	return func(r *SkillRegistry) { r.confirmations = cm }
}

// NewSkillRegistry creates a registry with the given health tracker and
// rate limiter.
func NewSkillRegistry(health *HealthTracker, limiter RateLimiter, opts ...RegistryOption) *SkillRegistry {
	r := &SkillRegistry{
		skills:      make(map[string]*registeredSkill),
		tools:       make(map[string]*registeredTool),
		health:      health,
		limiter:     limiter,
		logger:      nopLogger,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption configures one skill registration.
type RegisterOption func(*registeredSkill)

// RatePolicy overrides the skill's fixed-window rate limit
// (default 60 requests per 60s).
func RatePolicy(l Limit) RegisterOption {
	return func(s *registeredSkill) { s.policy = l }
}

// Register validates and indexes a skill: its required config keys must all
// be present in available, its name must be new, and its tool names must be
// unique across the whole registry. Tool schemas are compiled here, once.
func (r *SkillRegistry) Register(s Skill, available map[string]string, opts ...RegisterOption) error {
	name := s.Name()
	var missing []string
	for _, key := range s.RequiredConfig() {
		if _, ok := available[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("skill %q missing config: %s", name, strings.Join(missing, ", "))
	}

	reg := &registeredSkill{
		skill:  s,
		policy: Limit{Max: defaultSkillRateMax, Window: defaultSkillRateWindow},
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[name]; ok {
		return fmt.Errorf("skill %q already registered", name)
	}
	tools := s.Tools()
	compiled := make(map[string]*registeredTool, len(tools))
	for _, def := range tools {
		if _, ok := r.tools[def.Name]; ok {
			return fmt.Errorf("tool %q already registered by skill %q", def.Name, r.tools[def.Name].skill)
		}
		if _, ok := compiled[def.Name]; ok {
			return fmt.Errorf("skill %q declares tool %q twice", name, def.Name)
		}
		schema, err := compileSchema(def.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %q schema: %w", def.Name, err)
		}
		compiled[def.Name] = &registeredTool{def: def, skill: name, schema: schema}
	}
	r.skills[name] = reg
	for toolName, t := range compiled {
		r.tools[toolName] = t
	}
	return nil
}

// ToolDefinitions returns the registered tool definitions passing the
// filter, sorted by name for deterministic prompt construction.
func (r *SkillRegistry) ToolDefinitions(f Filter) []ToolDefinition {
	allowed := make(map[string]bool, len(f.AllowedSkills))
	for _, s := range f.AllowedSkills {
		allowed[s] = true
	}
	blocked := make(map[string]bool, len(f.BlockedTools))
	for _, t := range f.BlockedTools {
		blocked[t] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []ToolDefinition
	for name, t := range r.tools {
		if len(allowed) > 0 && !allowed[t.skill] {
			continue
		}
		if blocked[name] {
			continue
		}
		if f.ExcludeMainAgentOnly && t.def.MainAgentOnly {
			continue
		}
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SkillNames returns the registered skill names, sorted.
func (r *SkillRegistry) SkillNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Startup starts every registered skill. The first failure aborts.
func (r *SkillRegistry) Startup(ctx context.Context) error {
	r.mu.RLock()
	skills := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		skills = append(skills, s.skill)
	}
	r.mu.RUnlock()
	for _, s := range skills {
		if err := s.Startup(ctx); err != nil {
			return fmt.Errorf("skill %q startup: %w", s.Name(), err)
		}
	}
	return nil
}

// Shutdown stops every registered skill, logging failures.
func (r *SkillRegistry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	skills := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		skills = append(skills, s.skill)
	}
	r.mu.RUnlock()
	for _, s := range skills {
		if err := s.Shutdown(ctx); err != nil {
			r.logger.Warn("skill shutdown failed", "skill", s.Name(), "error", err)
		}
	}
}

// Execute runs the dispatch pipeline for one tool call. The result is
// always a well-formed string; policy refusals and execution failures are
// reported in Content, never raised.
func (r *SkillRegistry) Execute(ctx context.Context, toolName string, input json.RawMessage, ec ExecContext) ExecResult {
	r.mu.RLock()
	tool, ok := r.tools[toolName]
	var reg *registeredSkill
	if ok {
		reg = r.skills[tool.skill]
	}
	r.mu.RUnlock()

	// 1. Unknown tool.
	if !ok {
		return ExecResult{Content: fmt.Sprintf("Unknown tool %q.", toolName), Denied: true}
	}
	skillName := tool.skill

	// 2. Subagent restriction.
	if tool.def.MainAgentOnly && ec.IsSubagent {
		return ExecResult{
			Content: fmt.Sprintf("Tool %q is restricted to the main agent only.", toolName),
			Denied:  true,
		}
	}

	// 3. Skill health.
	if r.health.Status(skillName) == HealthUnavailable {
		return ExecResult{
			Content: fmt.Sprintf("The %q skill is temporarily unavailable. Please try again later.", skillName),
			Denied:  true,
		}
	}

	// 4. Per-skill rate limit.
	decision, err := r.limiter.Check(ctx, "skill", skillName, reg.policy)
	if err != nil {
		// Limiter backend failure fails open; the check is advisory.
		r.logger.Warn("rate limiter check failed", "skill", skillName, "error", err)
		decision = Decision{Allowed: true}
	}
	if !decision.Allowed {
		return ExecResult{
			Content: fmt.Sprintf("Rate limit reached for %q. Retry in %d seconds.",
				skillName, int(decision.RetryAfter.Seconds())+1),
			Denied: true,
		}
	}

	// 5. Input schema.
	if err := validateInput(tool.schema, input); err != nil {
		return ExecResult{
			Content: fmt.Sprintf("Invalid input for %q: %v", toolName, err),
			Denied:  true,
		}
	}

	// 6. Destructive actions park behind a confirmation token.
	if tool.def.RequiresConfirmation && !ec.Confirmed {
		if r.confirmations == nil {
			return ExecResult{
				Content: fmt.Sprintf("Tool %q requires confirmation, which is not available.", toolName),
				Denied:  true,
			}
		}
		desc := tool.def.Description
		token := r.confirmations.Create(ec.UserID, skillName, toolName, input, desc, ec.TempDir)
		mins := int(r.confirmations.TTL().Minutes())
		return ExecResult{
			Content: fmt.Sprintf(
				"This action requires confirmation: %s\nReply \"confirm %s\" within %d minutes to proceed.",
				desc, token, mins),
			PendingConfirmation: true,
		}
	}

	// 7. Sensitive tools log key names only, never values.
	if tool.def.Sensitive {
		r.logger.Info("executing sensitive tool",
			"tool", toolName, "skill", skillName, "input_keys", inputKeys(input))
	} else {
		r.logger.Debug("executing tool", "tool", toolName, "skill", skillName)
	}

	content, execErr := r.invoke(ctx, reg.skill, toolName, input)
	if execErr != nil {
		r.health.RecordFailure(skillName)
		return ExecResult{Content: fmt.Sprintf("Error executing %s: %v", toolName, execErr)}
	}
	r.health.RecordSuccess(skillName)
	if reg.skill.Kind() == KindIntegration {
		// Integration output crossed a trust boundary.
		content = WrapExternal(content, skillName)
	}
	return ExecResult{Content: content}
}

// invoke runs the skill with the configured wall-clock timeout. The skill
// goroutine is left to finish on its own after a timeout; its result is
// discarded.
func (r *SkillRegistry) invoke(ctx context.Context, s Skill, toolName string, input json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := s.Execute(ctx, toolName, input)
		done <- outcome{content, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("timeout after %s", r.toolTimeout)
		}
		return "", ctx.Err()
	case out := <-done:
		return out.content, out.err
	}
}

// inputKeys extracts top-level key names from a JSON object, for sensitive
// logging.
func inputKeys(input json.RawMessage) []string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(input, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
