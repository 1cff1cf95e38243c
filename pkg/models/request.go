package models

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
)

// Tier is the access class of a caller, determining rate and token limits.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPro           Tier = "pro"
)

// ParseTier maps a header value to a known tier, defaulting to anonymous.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierAuthenticated, TierPro:
		return Tier(s)
	default:
		return TierAnonymous
	}
}

// Priority orders requests for strategy selection.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a string to a known priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh, PriorityUrgent:
		return Priority(s)
	default:
		return PriorityNormal
	}
}

const (
	MaxPromptLen   = 10000
	MaxTemperature = 2.0
	MaxTokensCap   = 4096

	// CacheableTemperature is the ceiling below which a request is treated
	// as deterministic and its response may be cached.
	CacheableTemperature = 0.3
)

// ExecutionRequest is a validated prompt-execution request. Immutable after
// Validate succeeds.
type ExecutionRequest struct {
	Prompt       string
	ProviderID   string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	ToolID       string
	RunID        string
	SubjectID    string
	Tier         Tier
	Priority     Priority
	Streaming    bool
}

// Validate checks field bounds. Provider existence and capability limits are
// checked separately against the registry.
func (r *ExecutionRequest) Validate() error {
	if len(r.Prompt) == 0 {
		return fmt.Errorf("prompt is required")
	}
	if len(r.Prompt) > MaxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", MaxPromptLen)
	}
	if r.Temperature < 0 || r.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be between 0 and %g", MaxTemperature)
	}
	if r.MaxTokens < 1 || r.MaxTokens > MaxTokensCap {
		return fmt.Errorf("maxTokens must be between 1 and %d", MaxTokensCap)
	}
	if r.ProviderID == "" {
		return fmt.Errorf("provider is required")
	}
	return nil
}

// Cacheable reports whether the request is deterministic enough to cache.
func (r *ExecutionRequest) Cacheable() bool {
	return r.Temperature <= CacheableTemperature
}

// EstimatedPromptTokens approximates prompt token count for pre-flight cost
// projection. The provider-reported usage is authoritative for billing.
func (r *ExecutionRequest) EstimatedPromptTokens() int {
	n := (len(r.Prompt) + len(r.SystemPrompt)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// BudgetScope returns the key a budget policy binds to: toolId when present,
// otherwise runId, otherwise empty (no budget applies).
func (r *ExecutionRequest) BudgetScope() string {
	if r.ToolID != "" {
		return r.ToolID
	}
	return r.RunID
}

// Fingerprint computes the deterministic cache/replay key: provider +
// normalized prompt + system prompt + temperature rounded to 0.1 + max tokens.
func (r *ExecutionRequest) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%.1f\x00%d",
		r.ProviderID, normalizePrompt(r.Prompt), normalizePrompt(r.SystemPrompt),
		math.Round(r.Temperature*10)/10, r.MaxTokens)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ReplayFingerprint hashes every caller-supplied parameter. Reusing a runId
// with any parameter changed, including the budget scope or delivery flags,
// is a conflict even when the cacheable subset of the request matches.
func (r *ExecutionRequest) ReplayFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%g\x00%d\x00%s\x00%t\x00%s",
		r.ProviderID, normalizePrompt(r.Prompt), normalizePrompt(r.SystemPrompt),
		r.Temperature, r.MaxTokens, r.ToolID, r.Streaming, r.Priority)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// normalizePrompt trims and collapses whitespace so insignificant formatting
// differences hash to the same fingerprint.
func normalizePrompt(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
