package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptforge/gateway/pkg/models"
)

// ErrBudgetExceeded is returned when a request exceeds its scope's budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ExceededError is an ErrBudgetExceeded carrying the safe fields the wire
// contract exposes. ActualCostCents is the consumed total when the scope is
// already over budget, otherwise the rejected projection.
type ExceededError struct {
	Scope           string
	MaxCostCents    int64
	ActualCostCents int64
	OverBudget      bool
}

func (e *ExceededError) Error() string {
	if e.OverBudget {
		return fmt.Sprintf("scope %s over budget: consumed %d of %d cents", e.Scope, e.ActualCostCents, e.MaxCostCents)
	}
	return fmt.Sprintf("scope %s: projected %d cents exceeds remaining budget of %d cents max", e.Scope, e.ActualCostCents, e.MaxCostCents)
}

func (e *ExceededError) Unwrap() error { return ErrBudgetExceeded }

// Enforcer checks projected costs against per-scope ceilings and settles
// actual costs after execution. Consumed cents only ever increase; updates
// are single atomic statements, so the worst case under concurrency is a
// bounded overspend of one in-flight request's projection.
type Enforcer struct {
	db       *sql.DB
	policies map[string]int64
}

const createScopesTable = `
CREATE TABLE IF NOT EXISTS budget_scopes (
	scope_key TEXT PRIMARY KEY,
	max_cost_cents INTEGER NOT NULL,
	consumed_cents INTEGER NOT NULL DEFAULT 0,
	over_budget INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
`

// New opens the budget database and indexes the configured policies.
func New(dbPath string, policies []models.BudgetPolicy) (*Enforcer, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open budget db: %w", err)
	}

	if _, err := db.Exec(createScopesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate budget db: %w", err)
	}

	idx := make(map[string]int64, len(policies))
	for _, p := range policies {
		idx[p.ScopeKey] = p.MaxCostCents
	}

	return &Enforcer{db: db, policies: idx}, nil
}

// PolicyFor returns the cost ceiling bound to a scope key, if any.
func (e *Enforcer) PolicyFor(scope string) (int64, bool) {
	max, ok := e.policies[scope]
	return max, ok
}

// Preflight rejects the request when its projected cost does not fit the
// scope's remaining budget, or the scope is already flagged over budget.
// No cost is consumed here; consumption happens at Settle.
func (e *Enforcer) Preflight(ctx context.Context, scope string, projectedCents int64) error {
	max, ok := e.policies[scope]
	if !ok {
		return nil
	}

	if err := e.ensureScope(ctx, scope, max); err != nil {
		return err
	}

	var consumed int64
	var overBudget bool
	err := e.db.QueryRowContext(ctx,
		`SELECT consumed_cents, over_budget FROM budget_scopes WHERE scope_key = ?`,
		scope,
	).Scan(&consumed, &overBudget)
	if err != nil {
		return fmt.Errorf("budget preflight: %w", err)
	}

	if overBudget {
		return &ExceededError{Scope: scope, MaxCostCents: max, ActualCostCents: consumed, OverBudget: true}
	}
	if projectedCents > max-consumed {
		return &ExceededError{Scope: scope, MaxCostCents: max, ActualCostCents: projectedCents}
	}
	return nil
}

// Settle adds the actual cost to the scope unconditionally: cost already
// spent with a provider is never discarded from accounting. When the total
// passes the ceiling the scope is flagged over budget, which rejects all
// later requests until reset.
func (e *Enforcer) Settle(ctx context.Context, scope string, actualCents int64) error {
	max, ok := e.policies[scope]
	if !ok {
		return nil
	}

	_, err := e.db.ExecContext(ctx,
		`INSERT INTO budget_scopes (scope_key, max_cost_cents, consumed_cents, over_budget, updated_at)
		 VALUES (?, ?, ?, ? > ?, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET
			consumed_cents = consumed_cents + excluded.consumed_cents,
			over_budget = CASE WHEN consumed_cents + excluded.consumed_cents > max_cost_cents THEN 1 ELSE over_budget END,
			updated_at = excluded.updated_at`,
		scope, max, actualCents, actualCents, max, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("budget settle: %w", err)
	}
	return nil
}

// Status returns the state of every known scope, or one scope when given.
func (e *Enforcer) Status(ctx context.Context, scope string) ([]models.BudgetStatus, error) {
	query := `SELECT scope_key, max_cost_cents, consumed_cents, over_budget FROM budget_scopes`
	var args []any
	if scope != "" {
		query += ` WHERE scope_key = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY scope_key`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("budget status: %w", err)
	}
	defer rows.Close()

	var statuses []models.BudgetStatus
	for rows.Next() {
		var s models.BudgetStatus
		if err := rows.Scan(&s.Policy.ScopeKey, &s.Policy.MaxCostCents, &s.ConsumedCents, &s.OverBudget); err != nil {
			return nil, fmt.Errorf("scan budget scope: %w", err)
		}
		s.RemainingCents = s.Policy.MaxCostCents - s.ConsumedCents
		if s.RemainingCents < 0 {
			s.RemainingCents = 0
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// Reset clears a scope's consumption and over-budget flag. Operator action.
func (e *Enforcer) Reset(ctx context.Context, scope string) error {
	_, err := e.db.ExecContext(ctx,
		`UPDATE budget_scopes SET consumed_cents = 0, over_budget = 0, updated_at = ? WHERE scope_key = ?`,
		time.Now().UTC(), scope,
	)
	if err != nil {
		return fmt.Errorf("budget reset: %w", err)
	}
	return nil
}

func (e *Enforcer) ensureScope(ctx context.Context, scope string, max int64) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO budget_scopes (scope_key, max_cost_cents, consumed_cents, over_budget, updated_at)
		 VALUES (?, ?, 0, 0, ?) ON CONFLICT(scope_key) DO NOTHING`,
		scope, max, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensure budget scope: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (e *Enforcer) Close() error {
	return e.db.Close()
}
