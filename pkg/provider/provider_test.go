package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promptforge/gateway/pkg/models"
)

func testDescriptor(id string, category models.ProviderCategory) models.ProviderDescriptor {
	return models.ProviderDescriptor{
		ID:             id,
		Model:          id + "-model",
		Category:       category,
		Pricing:        models.Pricing{PromptPer1K: 1, CompletionPer1K: 2},
		MaxTokens:      4096,
		MaxTemperature: 2.0,
		Enabled:        true,
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOpenAI(testDescriptor("openai", models.CategoryGeneral), "http://x", "k"))
	r.Register(NewAnthropic(testDescriptor("anthropic", models.CategoryGeneral), "http://x", "k"))

	_, err := r.Get("nope")
	var ue *UnknownError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnknownError, got %v", err)
	}
	if len(ue.Available) != 2 || ue.Available[0] != "anthropic" || ue.Available[1] != "openai" {
		t.Errorf("unexpected available list: %v", ue.Available)
	}
}

func TestRegistryCategories(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOpenAI(testDescriptor("turbo", models.CategoryFast), "http://x", "k"))
	r.Register(NewOpenAI(testDescriptor("openai", models.CategoryGeneral), "http://x", "k"))

	cats := r.Categories()
	if len(cats["fast"]) != 1 || cats["fast"][0] != "turbo" {
		t.Errorf("unexpected fast bucket: %v", cats["fast"])
	}
	if len(cats["specialized"]) != 0 {
		t.Errorf("expected empty specialized bucket, got %v", cats["specialized"])
	}
}

func TestValidateCapabilityLimits(t *testing.T) {
	desc := testDescriptor("openai", models.CategoryGeneral)
	desc.MaxTokens = 1000
	p := NewOpenAI(desc, "http://x", "k")

	req := models.ExecutionRequest{Prompt: "hi", ProviderID: "openai", MaxTokens: 2000, Temperature: 0.7}
	if err := p.Validate(req); err == nil {
		t.Error("expected maxTokens validation failure")
	}

	req.MaxTokens = 500
	if err := p.Validate(req); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func TestValidateDisabledProvider(t *testing.T) {
	desc := testDescriptor("openai", models.CategoryGeneral)
	desc.Enabled = false
	p := NewOpenAI(desc, "http://x", "k")

	if err := p.Validate(models.ExecutionRequest{Prompt: "hi", ProviderID: "openai", MaxTokens: 10}); err == nil {
		t.Error("expected disabled provider to fail validation")
	}
}

func TestOpenAIExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(testDescriptor("openai", models.CategoryGeneral), srv.URL, "sk-test")
	res, err := p.Execute(context.Background(), models.ExecutionRequest{
		Prompt: "hello", SystemPrompt: "be brief", MaxTokens: 100, Temperature: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hi there" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Usage.TotalTokens != 8 {
		t.Errorf("expected 8 tokens, got %d", res.Usage.TotalTokens)
	}
	if res.Model != "gpt-test" {
		t.Errorf("unexpected model %q", res.Model)
	}
}

func TestAnthropicExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("unexpected api key header %q", got)
		}
		w.Write([]byte(`{"model":"claude-test","content":[{"type":"text","text":"bonjour"}],"usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropic(testDescriptor("anthropic", models.CategoryGeneral), srv.URL, "sk-ant")
	res, err := p.Execute(context.Background(), models.ExecutionRequest{Prompt: "salut", MaxTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "bonjour" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Usage.TotalTokens != 6 {
		t.Errorf("expected 6 tokens, got %d", res.Usage.TotalTokens)
	}
}

func TestExecuteClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewOpenAI(testDescriptor("openai", models.CategoryGeneral), srv.URL, "k")
	_, err := p.Execute(context.Background(), models.ExecutionRequest{Prompt: "hi", MaxTokens: 10})

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !perr.Retryable {
		t.Error("5xx must be retryable")
	}
	if !strings.Contains(perr.Message, "upstream exploded") {
		t.Errorf("expected body in message, got %q", perr.Message)
	}
}

func TestExecuteClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad params", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAI(testDescriptor("openai", models.CategoryGeneral), srv.URL, "k")
	_, err := p.Execute(context.Background(), models.ExecutionRequest{Prompt: "hi", MaxTokens: 10})

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if perr.Retryable {
		t.Error("4xx must be fatal")
	}
}

func TestExecuteClassifiesTransportError(t *testing.T) {
	p := NewOpenAI(testDescriptor("openai", models.CategoryGeneral), "http://127.0.0.1:1", "k")
	_, err := p.Execute(context.Background(), models.ExecutionRequest{Prompt: "hi", MaxTokens: 10})

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !perr.Retryable {
		t.Error("transport errors must be retryable")
	}
}
