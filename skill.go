package steward

import (
	"context"
	"encoding/json"
)

// SkillKind distinguishes self-contained skills from integrations that talk
// to external services. Integration results are treated as untrusted and
// wrapped by the sanitizer before reaching the LLM.
type SkillKind string

const (
	KindSkill       SkillKind = "skill"
	KindIntegration SkillKind = "integration"
)

// Skill is the registration and invocation contract for a pluggable
// capability. Skill names and tool names are unique across the registry.
//
// Execute returns the tool result as a string; an error marks the execution
// failed for health accounting. Startup/Shutdown bracket the skill's
// lifecycle at application start and stop.
type Skill interface {
	Name() string
	Description() string
	Kind() SkillKind
	Tools() []ToolDefinition
	Execute(ctx context.Context, tool string, input json.RawMessage) (string, error)
	RequiredConfig() []string
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
