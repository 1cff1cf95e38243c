// Package dispatch runs admitted requests against their provider and owns
// every write to the ledger, the budget scopes and the result cache.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/promptforge/gateway/pkg/budget"
	cachepkg "github.com/promptforge/gateway/pkg/cache/sqlite"
	"github.com/promptforge/gateway/pkg/ledger"
	"github.com/promptforge/gateway/pkg/models"
	"github.com/promptforge/gateway/pkg/provider"
	"github.com/promptforge/gateway/pkg/replay"
	"github.com/promptforge/gateway/pkg/strategy"
)

const (
	backoffBase   = 200 * time.Millisecond
	backoffJitter = 300 * time.Millisecond
)

// Error codes recorded on failed executions.
const (
	CodeRetryExhausted = "retry_exhausted"
	CodeProviderFatal  = "provider_fatal"
	CodeInternal       = "internal"
)

// Dispatcher invokes provider adapters under the per-call timeout, retries
// transient failures exactly once, and persists truthful usage and cost for
// every outcome. Cost already spent with a provider is never discarded from
// accounting, even when the caller receives an error.
type Dispatcher struct {
	registry *provider.Registry
	ledger   *ledger.Ledger
	budget   *budget.Enforcer
	cache    *cachepkg.Cache
	guard    *replay.Guard
	selector *strategy.Selector

	callTimeout time.Duration
}

// New wires a Dispatcher. cache and budget may be nil when disabled.
func New(reg *provider.Registry, led *ledger.Ledger, enf *budget.Enforcer, c *cachepkg.Cache, guard *replay.Guard, sel *strategy.Selector, callTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:    reg,
		ledger:      led,
		budget:      enf,
		cache:       c,
		guard:       guard,
		selector:    sel,
		callTimeout: callTimeout,
	}
}

// Execute runs a validated, admitted request and returns the serialized
// success body. Replay duplicates later receive exactly these bytes.
func (d *Dispatcher) Execute(ctx context.Context, req models.ExecutionRequest) ([]byte, error) {
	p, err := d.registry.Get(req.ProviderID)
	if err != nil {
		return nil, err
	}
	desc := p.Describe()
	fingerprint := req.Fingerprint()

	var cached []byte
	var hit bool
	if d.cache != nil && req.Cacheable() {
		cached, hit = d.cache.Get(fingerprint)
	}

	strat := d.selector.Select(req, desc, hit)
	if strat == strategy.Cache && hit {
		body, err := withRunID(cached, req.RunID)
		if err != nil {
			return nil, fmt.Errorf("rewrite cached response: %w", err)
		}
		if req.RunID != "" {
			if err := d.guard.Finalize(ctx, req.RunID, body); err != nil {
				return nil, err
			}
		}
		return body, nil
	}

	recordID, err := d.ledger.Begin(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, callErr := d.callWithRetry(ctx, p, req)
	latencyMs := time.Since(start).Milliseconds()

	if callErr != nil {
		d.recordFailure(ctx, req, recordID, desc, callErr, latencyMs)
		return nil, callErr
	}

	usage := result.Usage
	cost := desc.CostFor(usage)
	d.logDivergence(req, desc, cost)

	if err := d.ledger.Finalize(ctx, recordID, models.StatusSucceeded, usage, cost, latencyMs, ""); err != nil {
		d.releaseClaim(ctx, req.RunID)
		return nil, err
	}
	if d.budget != nil {
		if scope := req.BudgetScope(); scope != "" {
			if err := d.budget.Settle(ctx, scope, settleCents(cost)); err != nil {
				d.releaseClaim(ctx, req.RunID)
				return nil, err
			}
		}
	}

	resp := models.ExecutionResponse{
		Success:  true,
		Response: result.Text,
		Usage:    usage,
		Cost:     cost,
		Latency:  latencyMs,
		Provider: desc.ID,
		Model:    result.Model,
		RunID:    runIDPtr(req.RunID),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}

	if d.cache != nil && req.Cacheable() {
		if err := d.cache.Put(fingerprint, body); err != nil {
			log.Printf("cache write-through failed: %v", err)
		}
	}
	if req.RunID != "" {
		if err := d.guard.Finalize(ctx, req.RunID, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// callWithRetry performs the provider call under the per-call timeout and
// retries exactly once, with jittered backoff, when the failure is
// classified retryable.
func (d *Dispatcher) callWithRetry(ctx context.Context, p provider.Provider, req models.ExecutionRequest) (*models.Result, error) {
	result, err := d.call(ctx, p, req)
	if err == nil {
		return result, nil
	}

	var perr *provider.Error
	if !errors.As(err, &perr) || !perr.Retryable {
		return nil, err
	}

	backoff := backoffBase + time.Duration(rand.Int63n(int64(backoffJitter)))
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(backoff):
	}

	return d.call(ctx, p, req)
}

func (d *Dispatcher) call(ctx context.Context, p provider.Provider, req models.ExecutionRequest) (*models.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return p.Execute(cctx, req)
}

// recordFailure finalizes the record with whatever usage was actually
// incurred and settles that cost against the budget scope.
func (d *Dispatcher) recordFailure(ctx context.Context, req models.ExecutionRequest, recordID string, desc models.ProviderDescriptor, callErr error, latencyMs int64) {
	code := CodeInternal
	var usage models.Usage
	var perr *provider.Error
	if errors.As(callErr, &perr) {
		if perr.Retryable {
			code = CodeRetryExhausted
		} else {
			code = CodeProviderFatal
		}
		// Partial usage is rare on failure paths but never dropped.
		usage = perr.Usage
	}

	cost := desc.CostFor(usage)
	if err := d.ledger.Finalize(ctx, recordID, models.StatusFailed, usage, cost, latencyMs, code); err != nil {
		log.Printf("finalize failed record: %v", err)
	}
	if d.budget != nil && cost.Total > 0 {
		if scope := req.BudgetScope(); scope != "" {
			if err := d.budget.Settle(ctx, scope, settleCents(cost)); err != nil {
				log.Printf("settle failed execution: %v", err)
			}
		}
	}
	d.releaseClaim(ctx, req.RunID)
}

// releaseClaim drops a pending claim when the request cannot produce a
// reusable result, so the runId is not stuck until the TTL sweep.
func (d *Dispatcher) releaseClaim(ctx context.Context, runID string) {
	if runID == "" {
		return
	}
	if err := d.guard.Release(ctx, runID); err != nil {
		log.Printf("release claim %s: %v", runID, err)
	}
}

// logDivergence flags provider-reported costs far off the pre-flight
// projection. The reported usage stays authoritative; nothing is corrected.
func (d *Dispatcher) logDivergence(req models.ExecutionRequest, desc models.ProviderDescriptor, cost models.Cost) {
	projected := float64(desc.ProjectedCostCents(req.EstimatedPromptTokens(), req.MaxTokens))
	if projected <= 0 {
		return
	}
	if cost.Total > 2*projected {
		log.Printf("cost divergence: provider %s reported %.2f cents against projection %.0f", desc.ID, cost.Total, projected)
	}
}

// settleCents converts a fractional cost to whole cents, rounding up so no
// billed execution settles as free.
func settleCents(cost models.Cost) int64 {
	return int64(math.Ceil(cost.Total))
}

func runIDPtr(runID string) *string {
	if runID == "" {
		return nil
	}
	return &runID
}

// withRunID returns the cached body with the caller's runId in place. The
// bytes are untouched when the runId already matches, which keeps repeat
// deterministic responses identical.
func withRunID(body []byte, runID string) ([]byte, error) {
	var resp models.ExecutionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	current := ""
	if resp.RunID != nil {
		current = *resp.RunID
	}
	if current == runID {
		return body, nil
	}
	resp.RunID = runIDPtr(runID)
	return json.Marshal(resp)
}
