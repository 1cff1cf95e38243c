package models

import (
	"strings"
	"testing"
)

func validRequest() ExecutionRequest {
	return ExecutionRequest{
		Prompt:      "summarize this",
		ProviderID:  "openai",
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

func TestValidateBounds(t *testing.T) {
	tests := map[string]func(*ExecutionRequest){
		"empty prompt":         func(r *ExecutionRequest) { r.Prompt = "" },
		"prompt too long":      func(r *ExecutionRequest) { r.Prompt = strings.Repeat("x", MaxPromptLen+1) },
		"negative temperature": func(r *ExecutionRequest) { r.Temperature = -0.1 },
		"temperature too high": func(r *ExecutionRequest) { r.Temperature = 2.1 },
		"zero maxTokens":       func(r *ExecutionRequest) { r.MaxTokens = 0 },
		"maxTokens too high":   func(r *ExecutionRequest) { r.MaxTokens = MaxTokensCap + 1 },
		"missing provider":     func(r *ExecutionRequest) { r.ProviderID = "" },
	}
	for name, mutate := range tests {
		req := validRequest()
		mutate(&req)
		if err := req.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	req := validRequest()
	if err := req.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestCacheableThreshold(t *testing.T) {
	req := validRequest()
	req.Temperature = 0.3
	if !req.Cacheable() {
		t.Error("temperature 0.3 should be cacheable")
	}
	req.Temperature = 0.31
	if req.Cacheable() {
		t.Error("temperature above 0.3 should not be cacheable")
	}
}

func TestBudgetScopePrecedence(t *testing.T) {
	req := validRequest()
	if req.BudgetScope() != "" {
		t.Error("no toolId or runId means no scope")
	}
	req.RunID = "run_1"
	if req.BudgetScope() != "run_1" {
		t.Error("runId binds when toolId is absent")
	}
	req.ToolID = "tool_1"
	if req.BudgetScope() != "tool_1" {
		t.Error("toolId takes precedence over runId")
	}
}

func TestEstimatedPromptTokens(t *testing.T) {
	req := validRequest()
	req.Prompt = strings.Repeat("a", 400)
	req.SystemPrompt = strings.Repeat("b", 80)
	if got := req.EstimatedPromptTokens(); got != 120 {
		t.Errorf("expected 120 estimated tokens, got %d", got)
	}

	req = validRequest()
	req.Prompt = "hi"
	if got := req.EstimatedPromptTokens(); got != 1 {
		t.Errorf("estimate floor is 1, got %d", got)
	}
}

func TestReplayFingerprintCoversAllParameters(t *testing.T) {
	base := validRequest()

	same := base
	same.Prompt = "  summarize   this "
	if base.ReplayFingerprint() != same.ReplayFingerprint() {
		t.Error("whitespace differences should not change the replay fingerprint")
	}

	for name, mutate := range map[string]func(*ExecutionRequest){
		"toolId":      func(r *ExecutionRequest) { r.ToolID = "other-tool" },
		"streaming":   func(r *ExecutionRequest) { r.Streaming = true },
		"priority":    func(r *ExecutionRequest) { r.Priority = PriorityLow },
		"temperature": func(r *ExecutionRequest) { r.Temperature = 0.75 },
		"maxTokens":   func(r *ExecutionRequest) { r.MaxTokens = 101 },
		"provider":    func(r *ExecutionRequest) { r.ProviderID = "anthropic" },
	} {
		changed := base
		mutate(&changed)
		if base.ReplayFingerprint() == changed.ReplayFingerprint() {
			t.Errorf("%s change must change the replay fingerprint", name)
		}
	}
}

func TestParseTierAndPriorityDefaults(t *testing.T) {
	if ParseTier("unknown") != TierAnonymous {
		t.Error("unknown tier should map to anonymous")
	}
	if ParseTier("pro") != TierPro {
		t.Error("pro tier should round-trip")
	}
	if ParsePriority("") != PriorityNormal {
		t.Error("empty priority should map to normal")
	}
	if ParsePriority("urgent") != PriorityUrgent {
		t.Error("urgent priority should round-trip")
	}
}
