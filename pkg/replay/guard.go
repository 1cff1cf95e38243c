package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrConflict is returned when a runId is reused with different parameters.
var ErrConflict = errors.New("replay conflict")

// ErrUnresolved is returned when a duplicate waits out its timeout without
// the claimant recording a result.
var ErrUnresolved = errors.New("replay claim unresolved")

// Outcome classifies a Claim attempt.
type Outcome int

const (
	// Claimed means this caller owns the runId and must dispatch.
	Claimed Outcome = iota
	// InFlight means an identical submission is mid-dispatch; poll Resolve.
	InFlight
	// Replayed means an identical submission already completed.
	Replayed
	// Conflict means the runId was seen with different parameters.
	Conflict
)

const (
	statusPending = "pending"
	statusDone    = "done"
)

// Guard provides at-most-one effective execution per runId. A claim is an
// atomic insert-if-absent on the runId key, acting as a lightweight
// distributed lock; the claim TTL is the safety net against claimants that
// crash between claim and finalize.
type Guard struct {
	db       *sql.DB
	claimTTL time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

const createClaimsTable = `
CREATE TABLE IF NOT EXISTS replay_claims (
	run_id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	response BLOB,
	claimed_at DATETIME NOT NULL
);
`

// New opens the claims database and starts the expiry sweeper.
func New(dbPath string, claimTTL time.Duration) (*Guard, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open replay db: %w", err)
	}

	if _, err := db.Exec(createClaimsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate replay db: %w", err)
	}

	g := &Guard{db: db, claimTTL: claimTTL, done: make(chan struct{})}

	g.wg.Add(1)
	go g.sweepLoop()

	return g, nil
}

// Claim attempts to take ownership of runID for a request with the given
// fingerprint. Expired pending claims are re-claimable. On Replayed, the
// stored response bytes are returned.
func (g *Guard) Claim(ctx context.Context, runID, fingerprint string) (Outcome, []byte, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-g.claimTTL)

	// Insert-if-absent; a stale pending claim is taken over in the same
	// statement. RETURNING yields a row only when we won.
	var got string
	err := g.db.QueryRowContext(ctx,
		`INSERT INTO replay_claims (run_id, fingerprint, status, response, claimed_at)
		 VALUES (?, ?, ?, NULL, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			response = NULL,
			claimed_at = excluded.claimed_at
		 WHERE status = ? AND claimed_at < ?
		 RETURNING run_id`,
		runID, fingerprint, statusPending, now,
		statusPending, cutoff,
	).Scan(&got)
	if err == nil {
		return Claimed, nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("claim run: %w", err)
	}

	// Lost the claim: inspect the live holder.
	var storedFP, status string
	var response []byte
	err = g.db.QueryRowContext(ctx,
		`SELECT fingerprint, status, response FROM replay_claims WHERE run_id = ?`,
		runID,
	).Scan(&storedFP, &status, &response)
	if err != nil {
		return 0, nil, fmt.Errorf("inspect claim: %w", err)
	}

	if storedFP != fingerprint {
		return Conflict, nil, ErrConflict
	}
	if status == statusDone {
		return Replayed, response, nil
	}
	return InFlight, nil, nil
}

// Resolve polls until the claimant records a result for runID, returning the
// identical response bytes. It gives up with ErrUnresolved when ctx expires
// or the wait timeout elapses.
func (g *Guard) Resolve(ctx context.Context, runID string, wait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		var status string
		var response []byte
		err := g.db.QueryRowContext(ctx,
			`SELECT status, response FROM replay_claims WHERE run_id = ?`,
			runID,
		).Scan(&status, &response)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resolve claim: %w", err)
		}
		if err == nil && status == statusDone {
			return response, nil
		}
		// A deleted claim means the claimant failed and released; there is
		// no result to reuse.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnresolved
		}

		if time.Now().After(deadline) {
			return nil, ErrUnresolved
		}
		select {
		case <-ctx.Done():
			return nil, ErrUnresolved
		case <-ticker.C:
		}
	}
}

// Finalize stores the claimant's response, making the claim terminal. Called
// in the same step as the ledger's terminal record write.
func (g *Guard) Finalize(ctx context.Context, runID string, response []byte) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE replay_claims SET status = ?, response = ? WHERE run_id = ? AND status = ?`,
		statusDone, response, runID, statusPending,
	)
	if err != nil {
		return fmt.Errorf("finalize claim: %w", err)
	}
	return nil
}

// Release drops a failed claim so a later submission may execute again.
func (g *Guard) Release(ctx context.Context, runID string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM replay_claims WHERE run_id = ? AND status = ?`,
		runID, statusPending,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// sweepLoop periodically drops expired claims, pending and done alike.
func (g *Guard) sweepLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-g.claimTTL)
			if _, err := g.db.Exec(`DELETE FROM replay_claims WHERE claimed_at < ?`, cutoff); err != nil {
				continue
			}
		}
	}
}

// Close stops the sweeper and releases the database connection.
func (g *Guard) Close() error {
	close(g.done)
	g.wg.Wait()
	return g.db.Close()
}
