package observer

import "github.com/stewardai/steward"

// DefaultPricing contains sensible defaults for common models, in USD per
// million tokens. Users can override or extend via [usage.pricing] in
// steward.toml.
var DefaultPricing = map[string]steward.ModelPricing{
	// Anthropic
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-3-5":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-opus-4":     {InputPerMillion: 15.00, OutputPerMillion: 75.00},

	// OpenAI
	"gpt-4o":       {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":      {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"o3-mini":      {InputPerMillion: 1.10, OutputPerMillion: 4.40},

	// Gemini
	"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"gemini-2.5-flash": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gemini-2.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 10.00},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]steward.ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]steward.ModelPricing) *CostCalculator {
	merged := make(map[string]steward.ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
