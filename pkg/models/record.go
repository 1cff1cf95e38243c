package models

import "time"

// Status is an ExecutionRecord's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRejected
}

// ExecutionRecord is one row of the usage ledger. Created at dispatch,
// finalized once at a terminal status, never mutated afterwards.
type ExecutionRecord struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	SubjectID   string    `json:"subjectId"`
	ProviderID  string    `json:"providerId"`
	Status      Status    `json:"status"`
	Usage       Usage     `json:"usage"`
	Cost        Cost      `json:"cost"`
	LatencyMs   int64     `json:"latencyMs"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	FinalizedAt time.Time `json:"finalizedAt,omitempty"`
}

// LedgerSummary aggregates ledger rows by provider.
type LedgerSummary struct {
	ProviderID      string  `json:"providerId"`
	RequestCount    int     `json:"requestCount"`
	Succeeded       int     `json:"succeeded"`
	Failed          int     `json:"failed"`
	Rejected        int     `json:"rejected"`
	TotalPrompt     int64   `json:"totalPrompt"`
	TotalCompletion int64   `json:"totalCompletion"`
	TotalTokens     int64   `json:"totalTokens"`
	TotalCostCents  float64 `json:"totalCostCents"`
}
