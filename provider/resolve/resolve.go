// Package resolve creates providers from provider-agnostic configuration.
package resolve

import (
	"fmt"

	"github.com/stewardai/steward"
	"github.com/stewardai/steward/provider/anthropic"
	"github.com/stewardai/steward/provider/gemini"
	"github.com/stewardai/steward/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "anthropic", "gemini", "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	BaseURL  string // required for bare openai-compat; auto-filled for known providers
}

// Provider creates a steward.Provider from a provider-agnostic Config.
func Provider(cfg Config) (steward.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.APIKey, opts...), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.APIKey, opts...), nil
	case "openai", "openrouter", "groq", "deepseek", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.New(cfg.APIKey, baseURL, openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
