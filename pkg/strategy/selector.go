// Package strategy picks the execution path for an admitted request.
package strategy

import (
	"github.com/promptforge/gateway/pkg/models"
)

// Strategy names an execution path.
type Strategy string

const (
	// Cache serves the stored response without touching a provider.
	Cache Strategy = "cache"
	// Streaming is the direct provider call for latency-sensitive requests.
	Streaming Strategy = "streaming"
	// Batch is the direct call path for low-priority background work.
	Batch Strategy = "batch"
	// Hybrid checks the cache first and falls through to streaming on miss.
	Hybrid Strategy = "hybrid"
)

// Selector chooses a path from the request's cache prospects, streaming
// flag, priority and the provider's category.
type Selector struct {
	cacheEnabled bool
}

// New creates a Selector. When the cache is disabled, cache-favoring paths
// are never selected.
func New(cacheEnabled bool) *Selector {
	return &Selector{cacheEnabled: cacheEnabled}
}

// Select picks the execution path. cacheHit reports whether the request's
// fingerprint is already present in the result cache.
func (s *Selector) Select(req models.ExecutionRequest, desc models.ProviderDescriptor, cacheHit bool) Strategy {
	cacheable := s.cacheEnabled && req.Cacheable()

	if cacheable && cacheHit {
		return Cache
	}
	if cacheable {
		// A deterministic miss still wants the response cached on the way
		// out; hybrid covers the check-then-execute path.
		return Hybrid
	}
	if req.Streaming {
		return Streaming
	}
	if req.Priority == models.PriorityLow && desc.Category != models.CategoryFast {
		return Batch
	}
	return Streaming
}
