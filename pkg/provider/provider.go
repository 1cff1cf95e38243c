// Package provider defines the capability-set interface every AI backend
// implements and the registry the dispatcher resolves them from.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/promptforge/gateway/pkg/models"
)

// Provider is the capability-set interface of a backend adapter.
type Provider interface {
	// Describe returns the backend's descriptor.
	Describe() models.ProviderDescriptor
	// Validate checks the request against the backend's capability limits.
	Validate(req models.ExecutionRequest) error
	// Execute runs the request against the backend.
	Execute(ctx context.Context, req models.ExecutionRequest) (*models.Result, error)
}

// Error is a classified provider failure: retryable failures (timeouts, 5xx)
// get exactly one retry, fatal failures (backend 4xx) surface immediately.
// Usage carries any tokens the backend reported before failing, so partial
// cost still reaches the ledger.
type Error struct {
	Retryable  bool
	StatusCode int
	Message    string
	Usage      models.Usage
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (%s, status %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", kind, e.Message)
}

// Classify wraps a transport error or upstream status into an Error.
// Network failures and timeouts are retryable; 5xx and 429 are retryable;
// other non-2xx statuses are fatal.
func Classify(err error, statusCode int, body string) *Error {
	if err != nil {
		return &Error{Retryable: true, Message: err.Error()}
	}
	retryable := statusCode >= 500 || statusCode == 429
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &Error{Retryable: retryable, StatusCode: statusCode, Message: msg}
}

// UnknownError is returned for provider ids not present in the registry.
type UnknownError struct {
	ID        string
	Available []string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown provider %q, available: %s", e.ID, strings.Join(e.Available, ", "))
}

// Registry is a lookup table of registered backends keyed by provider id.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its descriptor id.
func (r *Registry) Register(p Provider) {
	r.providers[p.Describe().ID] = p
}

// Get resolves a provider id, failing fast with the available ids.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, &UnknownError{ID: id, Available: r.IDs()}
	}
	return p, nil
}

// IDs returns the sorted registered provider ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns descriptors for all registered providers, sorted by id.
func (r *Registry) List() []models.ProviderDescriptor {
	descs := make([]models.ProviderDescriptor, 0, len(r.providers))
	for _, id := range r.IDs() {
		descs = append(descs, r.providers[id].Describe())
	}
	return descs
}

// Categories buckets registered provider ids by category.
func (r *Registry) Categories() map[string][]string {
	cats := map[string][]string{
		string(models.CategoryFast):        {},
		string(models.CategoryGeneral):     {},
		string(models.CategorySpecialized): {},
	}
	for _, d := range r.List() {
		cats[string(d.Category)] = append(cats[string(d.Category)], d.ID)
	}
	return cats
}

// ValidateAgainst checks a request against a descriptor's capability limits
// and liveness. Shared by the concrete adapters.
func ValidateAgainst(d models.ProviderDescriptor, req models.ExecutionRequest) error {
	if !d.Enabled {
		return fmt.Errorf("provider %s is disabled", d.ID)
	}
	if req.MaxTokens > d.MaxTokens {
		return fmt.Errorf("maxTokens %d exceeds provider limit %d", req.MaxTokens, d.MaxTokens)
	}
	if req.Temperature < d.MinTemperature || req.Temperature > d.MaxTemperature {
		return fmt.Errorf("temperature %g outside provider range [%g, %g]", req.Temperature, d.MinTemperature, d.MaxTemperature)
	}
	return nil
}
