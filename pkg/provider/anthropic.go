package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/promptforge/gateway/pkg/models"
)

// Anthropic is a thin adapter for Anthropic-shaped messages backends.
type Anthropic struct {
	desc    models.ProviderDescriptor
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAnthropic creates an adapter for an Anthropic-shaped backend.
func NewAnthropic(desc models.ProviderDescriptor, baseURL, apiKey string) *Anthropic {
	return &Anthropic{desc: desc, baseURL: baseURL, apiKey: apiKey, client: http.DefaultClient}
}

// Describe returns the backend's descriptor.
func (p *Anthropic) Describe() models.ProviderDescriptor { return p.desc }

// Validate checks the request against the backend's capability limits.
func (p *Anthropic) Validate(req models.ExecutionRequest) error {
	return ValidateAgainst(p.desc, req)
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Execute sends the request to the backend's messages endpoint.
func (p *Anthropic) Execute(ctx context.Context, req models.ExecutionRequest) (*models.Result, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       p.desc.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, Classify(err, 0, "")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(err, 0, "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Classify(nil, resp.StatusCode, string(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Retryable: false, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	result := &models.Result{Text: text, Model: parsed.Model}
	if result.Model == "" {
		result.Model = p.desc.Model
	}
	if parsed.Usage != nil {
		result.Usage = models.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
	}
	return result, nil
}
