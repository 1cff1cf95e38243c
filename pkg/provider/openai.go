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

// OpenAI is a thin adapter for OpenAI-compatible chat completion backends.
type OpenAI struct {
	desc    models.ProviderDescriptor
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAI creates an adapter for an OpenAI-shaped backend.
func NewOpenAI(desc models.ProviderDescriptor, baseURL, apiKey string) *OpenAI {
	return &OpenAI{desc: desc, baseURL: baseURL, apiKey: apiKey, client: http.DefaultClient}
}

// Describe returns the backend's descriptor.
func (p *OpenAI) Describe() models.ProviderDescriptor { return p.desc }

// Validate checks the request against the backend's capability limits.
func (p *OpenAI) Validate(req models.ExecutionRequest) error {
	return ValidateAgainst(p.desc, req)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Execute sends the request to the backend's chat completions endpoint.
// Failures come back as *Error so the dispatcher can decide on a retry.
func (p *OpenAI) Execute(ctx context.Context, req models.ExecutionRequest) (*models.Result, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.desc.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Retryable: false, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Retryable: false, Message: "response has no choices"}
	}

	result := &models.Result{
		Text:  parsed.Choices[0].Message.Content,
		Model: parsed.Model,
	}
	if result.Model == "" {
		result.Model = p.desc.Model
	}
	if parsed.Usage != nil {
		result.Usage = models.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return result, nil
}
