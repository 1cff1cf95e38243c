package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/promptforge/gateway/pkg/models"
)

// ErrFinalized is returned when finalizing a record that already reached a
// terminal status.
var ErrFinalized = errors.New("execution record already finalized")

// Ledger is the append-only store of ExecutionRecords and the source of cost
// and usage aggregates. Records are written only by the dispatcher; billing
// and analytics consumers read them.
type Ledger struct {
	db *sql.DB
}

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS execution_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	status TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	prompt_cost_cents REAL NOT NULL DEFAULT 0,
	completion_cost_cents REAL NOT NULL DEFAULT 0,
	total_cost_cents REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	error_code TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	finalized_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_records_subject_time ON execution_records(subject_id, created_at);
CREATE INDEX IF NOT EXISTS idx_records_provider ON execution_records(provider_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_run_succeeded
	ON execution_records(run_id) WHERE status = 'succeeded' AND run_id != '';
`

// New opens the ledger database and runs auto-migration.
func New(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Begin inserts a pending record at dispatch time and returns its ID.
func (l *Ledger) Begin(ctx context.Context, req models.ExecutionRequest) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO execution_records (id, run_id, fingerprint, subject_id, provider_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, req.RunID, req.Fingerprint(), req.SubjectID, req.ProviderID,
		string(models.StatusPending), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("begin record: %w", err)
	}
	return id, nil
}

// Finalize moves a pending record to a terminal status exactly once,
// recording usage, cost and latency. A second finalize is ErrFinalized;
// terminal records are immutable.
func (l *Ledger) Finalize(ctx context.Context, id string, status models.Status, usage models.Usage, cost models.Cost, latencyMs int64, errorCode string) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize to non-terminal status %q", status)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE execution_records SET
			status = ?, prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
			prompt_cost_cents = ?, completion_cost_cents = ?, total_cost_cents = ?,
			latency_ms = ?, error_code = ?, finalized_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens,
		cost.Prompt, cost.Completion, cost.Total,
		latencyMs, errorCode, time.Now().UTC(),
		id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("finalize record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize record: %w", err)
	}
	if n == 0 {
		return ErrFinalized
	}
	return nil
}

// RecordRejection appends an already-terminal rejected record. Rejections
// incur no provider cost but still appear in the ledger.
func (l *Ledger) RecordRejection(ctx context.Context, req models.ExecutionRequest, errorCode string) error {
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO execution_records (id, run_id, fingerprint, subject_id, provider_id, status, error_code, created_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), req.RunID, req.Fingerprint(), req.SubjectID, req.ProviderID,
		string(models.StatusRejected), errorCode, now, now,
	)
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// Get returns a single record by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, run_id, fingerprint, subject_id, provider_id, status,
			prompt_tokens, completion_tokens, total_tokens,
			prompt_cost_cents, completion_cost_cents, total_cost_cents,
			latency_ms, error_code, created_at, finalized_at
		 FROM execution_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// SucceededCountByRun returns the number of succeeded records for a runId.
// The unique index keeps this at most 1.
func (l *Ledger) SucceededCountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_records WHERE run_id = ? AND status = ?`,
		runID, string(models.StatusSucceeded),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by run: %w", err)
	}
	return n, nil
}

// Recent returns the latest records, optionally filtered by subject.
func (l *Ledger) Recent(ctx context.Context, subjectID string, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, run_id, fingerprint, subject_id, provider_id, status,
		prompt_tokens, completion_tokens, total_tokens,
		prompt_cost_cents, completion_cost_cents, total_cost_cents,
		latency_ms, error_code, created_at, finalized_at
		FROM execution_records`
	var args []any
	if subjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent records: %w", err)
	}
	defer rows.Close()

	var records []models.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Summary aggregates records by provider for reporting.
func (l *Ledger) Summary(ctx context.Context) ([]models.LedgerSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider_id, COUNT(*),
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END),
			SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens),
			SUM(total_cost_cents)
		 FROM execution_records GROUP BY provider_id ORDER BY provider_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.LedgerSummary
	for rows.Next() {
		var s models.LedgerSummary
		if err := rows.Scan(&s.ProviderID, &s.RequestCount, &s.Succeeded, &s.Failed, &s.Rejected,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.TotalCostCents); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// TotalCostCentsBySubject returns the summed cost for a subject since a time.
func (l *Ledger) TotalCostCentsBySubject(ctx context.Context, subjectID string, since time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost_cents), 0) FROM execution_records
		 WHERE subject_id = ? AND created_at >= ?`,
		subjectID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost by subject: %w", err)
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	var status string
	var finalized sql.NullTime
	if err := s.Scan(
		&rec.ID, &rec.RunID, &rec.Fingerprint, &rec.SubjectID, &rec.ProviderID, &status,
		&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
		&rec.Cost.Prompt, &rec.Cost.Completion, &rec.Cost.Total,
		&rec.LatencyMs, &rec.ErrorCode, &rec.CreatedAt, &finalized,
	); err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	if finalized.Valid {
		rec.FinalizedAt = finalized.Time
	}
	return &rec, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
