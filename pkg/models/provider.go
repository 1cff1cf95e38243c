package models

import "math"

// ProviderCategory groups backends by their routing characteristics.
type ProviderCategory string

const (
	CategoryFast        ProviderCategory = "fast"
	CategoryGeneral     ProviderCategory = "general"
	CategorySpecialized ProviderCategory = "specialized"
)

// Pricing holds a provider's cost in cents per 1K tokens.
type Pricing struct {
	PromptPer1K     float64 `json:"promptPer1K" yaml:"prompt_per_1k"`
	CompletionPer1K float64 `json:"completionPer1K" yaml:"completion_per_1k"`
}

// ProviderDescriptor describes a backend's capabilities and pricing.
// Owned by the registry; read-only everywhere else.
type ProviderDescriptor struct {
	ID             string           `json:"id"`
	Model          string           `json:"model"`
	Category       ProviderCategory `json:"category"`
	Pricing        Pricing          `json:"pricing"`
	MaxTokens      int              `json:"maxTokens"`
	MinTemperature float64          `json:"minTemperature"`
	MaxTemperature float64          `json:"maxTemperature"`
	Enabled        bool             `json:"enabled"`
}

// Usage holds token counts reported by a provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Cost is an execution's cost in cents, split by direction.
type Cost struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Total      float64 `json:"total"`
}

// Result is a provider's answer to an execution request.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// CostFor computes the actual cost in cents for reported usage.
func (d ProviderDescriptor) CostFor(u Usage) Cost {
	prompt := float64(u.PromptTokens) / 1000 * d.Pricing.PromptPer1K
	completion := float64(u.CompletionTokens) / 1000 * d.Pricing.CompletionPer1K
	return Cost{Prompt: prompt, Completion: completion, Total: prompt + completion}
}

// ProjectedCostCents computes the worst-case pre-flight cost in whole cents:
// estimated prompt tokens at the prompt rate plus the full max-token budget
// at the completion rate, rounded up.
func (d ProviderDescriptor) ProjectedCostCents(promptTokens, maxTokens int) int64 {
	cents := float64(promptTokens)/1000*d.Pricing.PromptPer1K +
		float64(maxTokens)/1000*d.Pricing.CompletionPer1K
	return int64(math.Ceil(cents))
}
