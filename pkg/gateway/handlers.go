package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptforge/gateway/pkg/admission"
	"github.com/promptforge/gateway/pkg/budget"
	"github.com/promptforge/gateway/pkg/models"
	"github.com/promptforge/gateway/pkg/provider"
	"github.com/promptforge/gateway/pkg/replay"
)

// executeRequest is the wire shape of POST /v1/executions.
type executeRequest struct {
	Prompt       string   `json:"prompt"`
	Provider     string   `json:"provider"`
	SystemPrompt string   `json:"systemPrompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"maxTokens"`
	ToolID       string   `json:"toolId"`
	RunID        string   `json:"runId"`
	Stream       bool     `json:"stream"`
	Priority     string   `json:"priority"`
}

const (
	defaultProvider    = "openai"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// toModel applies wire defaults and the caller identity from trusted headers.
func (w executeRequest) toModel(c *gin.Context) models.ExecutionRequest {
	req := models.ExecutionRequest{
		Prompt:       w.Prompt,
		ProviderID:   w.Provider,
		SystemPrompt: w.SystemPrompt,
		Temperature:  defaultTemperature,
		MaxTokens:    defaultMaxTokens,
		ToolID:       w.ToolID,
		RunID:        w.RunID,
		Streaming:    w.Stream,
		Priority:     models.ParsePriority(w.Priority),
	}
	if req.ProviderID == "" {
		req.ProviderID = defaultProvider
	}
	if w.Temperature != nil {
		req.Temperature = *w.Temperature
	}
	if w.MaxTokens != nil {
		req.MaxTokens = *w.MaxTokens
	}

	req.SubjectID = c.GetHeader("X-Subject-Id")
	req.Tier = models.ParseTier(c.GetHeader("X-Subject-Tier"))
	if req.SubjectID == "" {
		// Anonymous callers are keyed by client address.
		req.SubjectID = "anon:" + c.ClientIP()
		req.Tier = models.TierAnonymous
	}
	return req
}

func (s *Server) handleExecute(c *gin.Context) {
	var wire executeRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	req := wire.toModel(c)
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "message": err.Error()})
		return
	}

	// Unknown providers fail fast, before any admission counter is spent.
	prov, err := s.registry.Get(req.ProviderID)
	if err != nil {
		var ue *provider.UnknownError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":              "Invalid provider",
				"message":            err.Error(),
				"availableProviders": ue.Available,
			})
			return
		}
		s.internalError(c, err)
		return
	}
	if err := prov.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "message": err.Error()})
		return
	}

	ctx := c.Request.Context()

	decision, err := s.limiter.Admit(ctx, req.SubjectID, req.Tier, req.EstimatedPromptTokens())
	if err != nil {
		var le *admission.LimitError
		if errors.As(err, &le) {
			s.reject(ctx, req, "rate_limit")
			setRateLimitHeaders(c, le.Decision)
			c.Header("Retry-After", strconv.FormatInt(le.RetryAfter(time.Now().UTC()), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":             "Rate limit exceeded",
				"resetAt":           le.ResetAt.UTC().Format(time.RFC3339),
				"retryAfterSeconds": le.RetryAfter(time.Now().UTC()),
			})
			return
		}
		s.internalError(c, err)
		return
	}
	setRateLimitHeaders(c, decision)

	claimed := false
	if req.RunID != "" {
		outcome, _, err := s.guard.Claim(ctx, req.RunID, req.ReplayFingerprint())
		switch {
		case err != nil && outcome != replay.Conflict:
			s.internalError(c, err)
			return
		case outcome == replay.Conflict:
			s.reject(ctx, req, "replay")
			c.JSON(http.StatusConflict, gin.H{"error": "Replay detected", "runId": req.RunID})
			return
		case outcome == replay.Replayed:
			// Identical resubmission of completed work: no new work performed.
			c.JSON(http.StatusConflict, gin.H{"error": "Replay detected", "runId": req.RunID})
			return
		case outcome == replay.InFlight:
			// Wait for the claimant's result and return the identical bytes.
			body, err := s.guard.Resolve(ctx, req.RunID, s.cfg.Dispatch.RequestTimeout)
			if err != nil {
				s.internalError(c, err)
				return
			}
			c.Data(http.StatusOK, "application/json", body)
			return
		}
		claimed = true
	}

	if s.enforcer != nil {
		if scope := req.BudgetScope(); scope != "" {
			projected := prov.Describe().ProjectedCostCents(req.EstimatedPromptTokens(), req.MaxTokens)
			if err := s.enforcer.Preflight(ctx, scope, projected); err != nil {
				var ee *budget.ExceededError
				if errors.As(err, &ee) {
					s.reject(ctx, req, "budget")
					if claimed {
						_ = s.guard.Release(ctx, req.RunID)
					}
					c.JSON(http.StatusForbidden, gin.H{
						"error":           "Workbench execution exceeded cost budget",
						"runId":           nullableRunID(req.RunID),
						"maxCostCents":    ee.MaxCostCents,
						"actualCostCents": ee.ActualCostCents,
					})
					return
				}
				s.internalError(c, err)
				return
			}
		}
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.Dispatch.RequestTimeout)
	defer cancel()

	body, err := s.dispatcher.Execute(dctx, req)
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && !perr.Retryable {
			// Provider-side validation failures pass through as 400.
			c.JSON(http.StatusBadRequest, gin.H{"error": "Provider rejected request", "message": perr.Message})
			return
		}
		s.internalError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers":  s.registry.List(),
		"categories": s.registry.Categories(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reject appends a rejected record to the ledger; rejections incur no
// provider cost but stay visible to accounting.
func (s *Server) reject(ctx context.Context, req models.ExecutionRequest, code string) {
	if err := s.ledger.RecordRejection(ctx, req, code); err != nil {
		log.Printf("record rejection: %v", err)
	}
}

// internalError logs full detail and returns only the generic message.
func (s *Server) internalError(c *gin.Context, err error) {
	log.Printf("internal error on %s: %v", c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func setRateLimitHeaders(c *gin.Context, d admission.Decision) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func nullableRunID(runID string) any {
	if runID == "" {
		return nil
	}
	return runID
}
