// Package steward is the agent execution core of a multi-channel AI
// assistant. It owns a conversational turn from message receipt to final
// reply: tier classification, provider routing with circuit breakers and
// failover, the LLM/tool-call loop, skill dispatch with policy enforcement,
// single-use confirmation tokens for destructive actions, and an in-process
// event bus for alerts.
//
// The package exposes small composable pieces. Providers are wrapped with
// resilience decorators (WithResilience), registered with a ProviderManager,
// and driven by an AgentLoop whose tool calls dispatch through a
// SkillRegistry. The Orchestrator glues the pieces together for one turn.
//
// Transport adapters (Telegram, Slack, CLI, ...) live outside this package
// and speak to it through TurnRequest/TurnReply. Persistence is delegated to
// the TurnLog contract in store.go with concrete backends under store/.
package steward
