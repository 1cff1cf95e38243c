package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptforge/gateway/pkg/models"
)

// ErrRateLimited is returned when a subject exceeds its tier limits.
var ErrRateLimited = errors.New("rate limit exceeded")

// Decision carries the binding limit's state for rate-limit headers.
type Decision struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns the seconds until the binding window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int64 {
	secs := int64(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// LimitError is an ErrRateLimited carrying the rejecting window's state.
type LimitError struct {
	Decision
	Scope string // "hour" or "day"
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s window, resets %s", e.Scope, e.ResetAt.Format(time.RFC3339))
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Limiter admits or rejects requests against tiered fixed-window counters in
// the shared store. Buckets are owned exclusively by this component; the
// increment-and-check is a single statement, so concurrent requests from the
// same subject cannot double-admit past a limit.
type Limiter struct {
	db *sql.DB

	// now is swappable for window-boundary tests.
	now func() time.Time
}

const createBucketsTable = `
CREATE TABLE IF NOT EXISTS rate_buckets (
	subject_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	window TEXT NOT NULL,
	window_start DATETIME NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	token_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (subject_id, window, window_start)
);
`

// New opens the admission database and runs auto-migration.
func New(dbPath string) (*Limiter, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open admission db: %w", err)
	}

	if _, err := db.Exec(createBucketsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate admission db: %w", err)
	}

	return &Limiter{db: db, now: time.Now}, nil
}

// Admit atomically counts the request against the subject's hourly and daily
// windows plus the daily token ceiling. On rejection it returns a *LimitError
// wrapping ErrRateLimited; no counter exceeds its tier limit. The successful
// Decision reflects the hourly window, which is what callers see in headers.
func (l *Limiter) Admit(ctx context.Context, subjectID string, tier models.Tier, promptTokens int) (Decision, error) {
	limits := models.LimitsFor(tier)
	now := l.now().UTC()
	hourStart := now.Truncate(time.Hour)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	hourCount, err := l.bump(ctx, subjectID, tier, "hour", hourStart, 0, limits.RequestsPerHour, 0)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return Decision{}, &LimitError{
				Scope:    "hour",
				Decision: Decision{Limit: limits.RequestsPerHour, Remaining: 0, ResetAt: hourStart.Add(time.Hour)},
			}
		}
		return Decision{}, err
	}

	if _, err := l.bump(ctx, subjectID, tier, "day", dayStart, int64(promptTokens), limits.RequestsPerDay, limits.TokensPerDay); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return Decision{}, &LimitError{
				Scope:    "day",
				Decision: Decision{Limit: limits.RequestsPerDay, Remaining: 0, ResetAt: dayStart.AddDate(0, 0, 1)},
			}
		}
		return Decision{}, err
	}

	remaining := limits.RequestsPerHour - hourCount
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Limit:     limits.RequestsPerHour,
		Remaining: remaining,
		ResetAt:   hourStart.Add(time.Hour),
	}, nil
}

// bump is the atomic increment-and-check. The upsert only applies when the
// bucket stays within its limits; a rejected increment returns no row, which
// keeps counts bounded without a read-then-write race. maxTokens == 0 means
// the window has no token ceiling.
func (l *Limiter) bump(ctx context.Context, subjectID string, tier models.Tier, window string, windowStart time.Time, tokens, maxRequests, maxTokens int64) (int64, error) {
	// A request larger than the whole ceiling can never fit, not even into a
	// fresh bucket, which the upsert's insert branch would otherwise admit.
	if maxTokens != 0 && tokens > maxTokens {
		return 0, ErrRateLimited
	}

	var count int64
	err := l.db.QueryRowContext(ctx,
		`INSERT INTO rate_buckets (subject_id, tier, window, window_start, request_count, token_count)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT(subject_id, window, window_start) DO UPDATE SET
			request_count = request_count + 1,
			token_count = token_count + excluded.token_count
		 WHERE request_count < ? AND (? = 0 OR token_count + excluded.token_count <= ?)
		 RETURNING request_count`,
		subjectID, string(tier), window, windowStart, tokens,
		maxRequests, maxTokens, maxTokens,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRateLimited
	}
	if err != nil {
		return 0, fmt.Errorf("admission bump: %w", err)
	}
	return count, nil
}

// Remaining reports the subject's hourly window state without counting a
// request, for observability.
func (l *Limiter) Remaining(ctx context.Context, subjectID string, tier models.Tier) (Decision, error) {
	limits := models.LimitsFor(tier)
	now := l.now().UTC()
	hourStart := now.Truncate(time.Hour)

	var count int64
	err := l.db.QueryRowContext(ctx,
		`SELECT request_count FROM rate_buckets WHERE subject_id = ? AND window = 'hour' AND window_start = ?`,
		subjectID, hourStart,
	).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Decision{}, fmt.Errorf("admission remaining: %w", err)
	}

	remaining := limits.RequestsPerHour - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Limit: limits.RequestsPerHour, Remaining: remaining, ResetAt: hourStart.Add(time.Hour)}, nil
}

// Close releases the database connection.
func (l *Limiter) Close() error {
	return l.db.Close()
}
