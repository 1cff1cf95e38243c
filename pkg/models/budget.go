package models

// BudgetPolicy binds a scope key (toolId or runId) to a cost ceiling in cents.
type BudgetPolicy struct {
	ScopeKey     string `json:"scope_key" yaml:"scope_key"`
	MaxCostCents int64  `json:"max_cost_cents" yaml:"max_cost_cents"`
}

// BudgetStatus shows current consumption against a policy. ConsumedCents is
// monotonically non-decreasing for the life of the scope.
type BudgetStatus struct {
	Policy         BudgetPolicy `json:"policy"`
	ConsumedCents  int64        `json:"consumedCents"`
	RemainingCents int64        `json:"remainingCents"`
	OverBudget     bool         `json:"overBudget"`
}
