package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/promptforge/gateway/pkg/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger_test.db")
	l, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testRequest(runID string) models.ExecutionRequest {
	return models.ExecutionRequest{
		Prompt:     "hello",
		ProviderID: "openai",
		MaxTokens:  100,
		RunID:      runID,
		SubjectID:  "subj",
		Tier:       models.TierAuthenticated,
	}
}

func TestBeginAndFinalize(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Begin(ctx, testRequest(""))
	if err != nil {
		t.Fatal(err)
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusPending {
		t.Errorf("expected pending, got %s", rec.Status)
	}
	if !rec.FinalizedAt.IsZero() {
		t.Error("pending record must not carry a finalized time")
	}

	usage := models.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}
	cost := models.Cost{Prompt: 0.5, Completion: 1.5, Total: 2.0}
	if err := l.Finalize(ctx, id, models.StatusSucceeded, usage, cost, 120, ""); err != nil {
		t.Fatal(err)
	}

	rec, err = l.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", rec.Status)
	}
	if rec.Usage.TotalTokens != 30 {
		t.Errorf("expected 30 tokens, got %d", rec.Usage.TotalTokens)
	}
	if rec.Cost.Total != 2.0 {
		t.Errorf("expected cost 2.0, got %g", rec.Cost.Total)
	}
	if rec.LatencyMs != 120 {
		t.Errorf("expected latency 120, got %d", rec.LatencyMs)
	}
	if rec.FinalizedAt.IsZero() {
		t.Error("finalized record must carry a finalized time")
	}

	// Finalized records must also come back readable through the list path.
	recs, err := l.Recent(ctx, "subj", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].FinalizedAt.IsZero() {
		t.Errorf("expected one finalized record from Recent, got %+v", recs)
	}
}

func TestFinalizeTwiceFails(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Begin(ctx, testRequest(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(ctx, id, models.StatusSucceeded, models.Usage{}, models.Cost{}, 1, ""); err != nil {
		t.Fatal(err)
	}

	// Terminal records never transition again.
	err = l.Finalize(ctx, id, models.StatusFailed, models.Usage{}, models.Cost{}, 1, "late")
	if !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}

	rec, _ := l.Get(ctx, id)
	if rec.Status != models.StatusSucceeded {
		t.Errorf("terminal status mutated to %s", rec.Status)
	}
}

func TestFinalizeNonTerminalRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Begin(ctx, testRequest(""))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(ctx, id, models.StatusPending, models.Usage{}, models.Cost{}, 1, ""); err == nil {
		t.Error("expected error finalizing to pending")
	}
}

func TestAtMostOneSucceededPerRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id1, err := l.Begin(ctx, testRequest("run_1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(ctx, id1, models.StatusSucceeded, models.Usage{}, models.Cost{}, 1, ""); err != nil {
		t.Fatal(err)
	}

	id2, err := l.Begin(ctx, testRequest("run_1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize(ctx, id2, models.StatusSucceeded, models.Usage{}, models.Cost{}, 1, ""); err == nil {
		t.Error("expected unique index to reject a second succeeded record for the run")
	}

	n, err := l.SucceededCountByRun(ctx, "run_1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 succeeded record, got %d", n)
	}
}

func TestFailedRecordKeepsPartialUsage(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Begin(ctx, testRequest(""))
	if err != nil {
		t.Fatal(err)
	}
	usage := models.Usage{PromptTokens: 42, TotalTokens: 42}
	cost := models.Cost{Prompt: 0.9, Total: 0.9}
	if err := l.Finalize(ctx, id, models.StatusFailed, usage, cost, 310, "provider_transient"); err != nil {
		t.Fatal(err)
	}

	rec, err := l.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Cost.Total != 0.9 {
		t.Errorf("partial cost dropped: got %g", rec.Cost.Total)
	}
	if rec.ErrorCode != "provider_transient" {
		t.Errorf("expected error code, got %q", rec.ErrorCode)
	}
}

func TestRecordRejection(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if err := l.RecordRejection(ctx, testRequest(""), "rate_limit"); err != nil {
		t.Fatal(err)
	}

	recs, err := l.Recent(ctx, "subj", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Status != models.StatusRejected {
		t.Errorf("expected rejected, got %s", recs[0].Status)
	}
	if recs[0].Cost.Total != 0 {
		t.Error("rejections must not carry cost")
	}
}

func TestSummary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Begin(ctx, testRequest(""))
	_ = l.Finalize(ctx, id, models.StatusSucceeded,
		models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		models.Cost{Total: 3}, 50, "")
	_ = l.RecordRejection(ctx, testRequest(""), "budget")

	summaries, err := l.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.RequestCount != 2 || s.Succeeded != 1 || s.Rejected != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.TotalTokens != 15 {
		t.Errorf("expected 15 tokens, got %d", s.TotalTokens)
	}
	if s.TotalCostCents != 3 {
		t.Errorf("expected 3 cents, got %g", s.TotalCostCents)
	}
}

func TestTotalCostCentsBySubject(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, _ := l.Begin(ctx, testRequest(""))
	_ = l.Finalize(ctx, id, models.StatusSucceeded, models.Usage{}, models.Cost{Total: 7.5}, 10, "")

	total, err := l.TotalCostCentsBySubject(ctx, "subj", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if total != 7.5 {
		t.Errorf("expected 7.5, got %g", total)
	}
}
