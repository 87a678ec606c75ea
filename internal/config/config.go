// Package config loads steward configuration: defaults, then steward.toml,
// then STEWARD_* env vars (env wins).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App          AppConfig          `toml:"app"`
	Providers    []ProviderConfig   `toml:"providers"`
	Router       RouterConfig       `toml:"router"`
	Tier         TierConfig         `toml:"tier"`
	Budgets      BudgetConfig       `toml:"budgets"`
	Breaker      BreakerConfig      `toml:"breaker"`
	Usage        UsageConfig        `toml:"usage"`
	Confirmation ConfirmationConfig `toml:"confirmation"`
	RateLimit    RateLimitConfig    `toml:"ratelimit"`
	Database     DatabaseConfig     `toml:"database"`
	Observer     ObserverConfig     `toml:"observer"`
}

type AppConfig struct {
	SystemPrompt string `toml:"system_prompt"`
}

type ProviderConfig struct {
	Name    string   `toml:"name"` // "anthropic", "gemini", "openai", "groq", ...
	APIKey  string   `toml:"api_key"`
	BaseURL string   `toml:"base_url"`
	Models  []string `toml:"models"`
}

type RouterConfig struct {
	DefaultProvider string            `toml:"default_provider"`
	DefaultModel    string            `toml:"default_model"`
	Failover        []string          `toml:"failover"`
	TierModels      map[string]string `toml:"tier_models"` // "light"/"heavy" -> model
}

type TierConfig struct {
	HeavyTools         []string `toml:"heavy_tools"`
	HeavyPatterns      []string `toml:"heavy_patterns"`
	HeavyMessageLength int      `toml:"heavy_message_length"`
}

type BudgetConfig struct {
	MaxToolCalls       int `toml:"max_tool_calls"`
	MaxTokenBudget     int `toml:"max_token_budget"`
	MaxResponseTokens  int `toml:"max_response_tokens"`
	ToolTimeoutSeconds int `toml:"tool_timeout_seconds"`
}

type BreakerConfig struct {
	FailureThreshold    int `toml:"failure_threshold"`
	ResetTimeoutSeconds int `toml:"reset_timeout_seconds"`
}

type UsageConfig struct {
	DailyAlertThreshold float64                 `toml:"daily_alert_threshold"` // USD, 0 disables
	Pricing             map[string]PricingEntry `toml:"pricing"`
}

type PricingEntry struct {
	Input  float64 `toml:"input"`  // USD per million input tokens
	Output float64 `toml:"output"` // USD per million output tokens
}

type ConfirmationConfig struct {
	TTLMinutes         int `toml:"ttl_minutes"`
	AbuseWindowMinutes int `toml:"abuse_window_minutes"`
	AbuseThreshold     int `toml:"abuse_threshold"`
}

type RateLimitConfig struct {
	Backend              string `toml:"backend"` // "memory" or "redis"
	RedisAddr            string `toml:"redis_addr"`
	RedisPassword        string `toml:"redis_password"`
	DefaultMax           int    `toml:"default_max"`
	DefaultWindowSeconds int    `toml:"default_window_seconds"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"` // "sqlite", "postgres" or "" (no persistence)
	Path        string `toml:"path"`   // sqlite file
	PostgresURL string `toml:"postgres_url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Router: RouterConfig{
			Failover: nil,
		},
		Tier: TierConfig{
			HeavyMessageLength: 600,
		},
		Budgets: BudgetConfig{
			MaxToolCalls:       10,
			MaxResponseTokens:  4096,
			ToolTimeoutSeconds: 30,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeoutSeconds: 60,
		},
		Confirmation: ConfirmationConfig{
			TTLMinutes:         5,
			AbuseWindowMinutes: 5,
			AbuseThreshold:     10,
		},
		RateLimit: RateLimitConfig{
			Backend:              "memory",
			DefaultMax:           60,
			DefaultWindowSeconds: 60,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "steward.db",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "steward.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides. Per-provider API keys: STEWARD_ANTHROPIC_API_KEY etc.
	for i := range cfg.Providers {
		envKey := "STEWARD_" + strings.ToUpper(strings.ReplaceAll(cfg.Providers[i].Name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
	if v := os.Getenv("STEWARD_SYSTEM_PROMPT"); v != "" {
		cfg.App.SystemPrompt = v
	}
	if v := os.Getenv("STEWARD_REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("STEWARD_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("STEWARD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STEWARD_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// Validate returns the list of missing or inconsistent settings, empty when
// the config can start. The caller prints each entry and exits non-zero.
func (c Config) Validate() []string {
	var missing []string

	if len(c.Providers) == 0 {
		missing = append(missing, "providers: at least one [[providers]] entry is required")
	}
	names := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			missing = append(missing, "providers: entry with empty name")
			continue
		}
		if names[p.Name] {
			missing = append(missing, fmt.Sprintf("providers: duplicate provider %q", p.Name))
		}
		names[p.Name] = true
		if p.APIKey == "" && p.Name != "ollama" {
			missing = append(missing, fmt.Sprintf("providers.%s.api_key (or STEWARD_%s_API_KEY)",
				p.Name, strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_"))))
		}
		if len(p.Models) == 0 {
			missing = append(missing, fmt.Sprintf("providers.%s.models: at least one model", p.Name))
		}
	}
	if c.Router.DefaultProvider == "" {
		missing = append(missing, "router.default_provider")
	} else if len(names) > 0 && !names[c.Router.DefaultProvider] {
		missing = append(missing, fmt.Sprintf("router.default_provider: unknown provider %q", c.Router.DefaultProvider))
	}
	if c.Router.DefaultModel == "" {
		missing = append(missing, "router.default_model")
	}
	for _, name := range c.Router.Failover {
		if len(names) > 0 && !names[name] {
			missing = append(missing, fmt.Sprintf("router.failover: unknown provider %q", name))
		}
	}
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			missing = append(missing, "ratelimit.redis_addr (or STEWARD_REDIS_ADDR)")
		}
	default:
		missing = append(missing, fmt.Sprintf("ratelimit.backend: unknown backend %q", c.RateLimit.Backend))
	}
	switch c.Database.Driver {
	case "", "none":
	case "sqlite":
		if c.Database.Path == "" {
			missing = append(missing, "database.path")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			missing = append(missing, "database.postgres_url (or STEWARD_POSTGRES_URL)")
		}
	default:
		missing = append(missing, fmt.Sprintf("database.driver: unknown driver %q", c.Database.Driver))
	}

	return missing
}
