package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// These tests exercise the atomic SQL operations against a real database.
// Set RAPTOR_TEST_DSN to a disposable PostgreSQL instance to run them.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RAPTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("RAPTOR_TEST_DSN not set")
	}
	s, err := New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testChain() Chain {
	return Chain("test-" + uuid.NewString()[:8])
}

func enqueueTestJob(t *testing.T, s *Store, chain Chain, maxAttempts int) *TradeJob {
	t.Helper()
	job, err := s.EnqueueJob(context.Background(), &TradeJob{
		StrategyID:     1,
		UserID:         1,
		Chain:          chain,
		Action:         ActionBuy,
		Payload:        []byte(`{}`),
		IdempotencyKey: "job-" + uuid.NewString(),
		MaxAttempts:    maxAttempts,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func expireLease(t *testing.T, s *Store, jobID int64) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(),
		`UPDATE trade_jobs SET lease_expires_at = now() - interval '1 second' WHERE id = $1`,
		jobID)
	if err != nil {
		t.Fatalf("expire lease: %v", err)
	}
}

func TestClaimReclaimsExpiredRunningJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	chain := testChain()
	job := enqueueTestJob(t, s, chain, 3)

	claimed, err := s.ClaimJobs(ctx, "worker-a", 1, MinLease, chain)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 job claimed, got %d", len(claimed))
	}
	if ok, err := s.MarkJobRunning(ctx, job.ID, "worker-a"); err != nil || !ok {
		t.Fatalf("worker-a mark running: ok=%v err=%v", ok, err)
	}

	// The RUNNING job holds a live lease; no other worker may steal it.
	stolen, err := s.ClaimJobs(ctx, "worker-b", 1, MinLease, chain)
	if err != nil {
		t.Fatalf("steal attempt: %v", err)
	}
	if len(stolen) != 0 {
		t.Fatalf("claimed a RUNNING job with a live lease")
	}

	// worker-a dies without finalizing; once the lease lapses the job is
	// claimable again and the new owner can run it.
	expireLease(t, s, job.ID)

	reclaimed, err := s.ClaimJobs(ctx, "worker-b", 1, MinLease, chain)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != job.ID {
		t.Fatalf("expected job %d reclaimed, got %d jobs", job.ID, len(reclaimed))
	}
	if reclaimed[0].Status != JobPending {
		t.Errorf("reclaimed job status = %s, want PENDING", reclaimed[0].Status)
	}
	if ok, err := s.MarkJobRunning(ctx, job.ID, "worker-b"); err != nil || !ok {
		t.Fatalf("worker-b mark running: ok=%v err=%v", ok, err)
	}
}

func TestAbandonedJobFailsOutOfAttempts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	chain := testChain()
	job := enqueueTestJob(t, s, chain, 1)

	if _, err := s.ClaimJobs(ctx, "worker-a", 1, MinLease, chain); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok, err := s.MarkJobRunning(ctx, job.ID, "worker-a"); err != nil || !ok {
		t.Fatalf("mark running: ok=%v err=%v", ok, err)
	}
	expireLease(t, s, job.ID)

	// attempts == max_attempts, so reclaim must skip it and the janitor
	// fails it out.
	reclaimed, err := s.ClaimJobs(ctx, "worker-b", 1, MinLease, chain)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("reclaimed a job with no attempts left")
	}

	n, err := s.FailAbandonedJobs(ctx)
	if err != nil {
		t.Fatalf("fail abandoned: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least 1 abandoned job failed, got %d", n)
	}
	got, err := s.GetJobByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != JobFailed {
		t.Errorf("job status = %s, want FAILED", got.Status)
	}
}

func createTestPosition(t *testing.T, s *Store, chain Chain) *Position {
	t.Helper()
	p, err := s.CreatePosition(context.Background(), &Position{
		UserID:           1,
		StrategyID:       1,
		Chain:            chain,
		TokenMint:        "Mint" + uuid.NewString(),
		EntryExecutionID: 1,
		EntryTxSig:       "sig-" + uuid.NewString()[:8],
		EntryCostSol:     0.1,
		EntryPrice:       0.001,
		SizeTokens:       1_000_000,
		TPPrice:          0.002,
		SLPrice:          0.0005,
	})
	if err != nil {
		t.Fatalf("create position: %v", err)
	}
	return p
}

func failTestTrigger(t *testing.T, s *Store, positionID int64) {
	t.Helper()
	ctx := context.Background()
	claimed, _, err := s.TriggerExitAtomically(ctx, positionID, TriggerSL, 0.0004)
	if err != nil || !claimed {
		t.Fatalf("claim trigger: claimed=%v err=%v", claimed, err)
	}
	if err := s.MarkTriggerExecuting(ctx, positionID, 1); err != nil {
		t.Fatalf("mark executing: %v", err)
	}
	if err := s.MarkTriggerFailed(ctx, positionID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestEmergencyClaimsFromFailedTrigger(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := createTestPosition(t, s, testChain())
	failTestTrigger(t, s, p.ID)

	// Ordinary triggers stay locked out of FAILED.
	claimed, state, err := s.TriggerExitAtomically(ctx, p.ID, TriggerTP, 0.003)
	if err != nil {
		t.Fatalf("tp claim: %v", err)
	}
	if claimed {
		t.Fatalf("TP claimed out of FAILED")
	}
	if state != TriggerFailed {
		t.Errorf("lost-claim state = %s, want FAILED", state)
	}

	// The emergency path can always force the position out.
	claimed, _, err = s.TriggerExitAtomically(ctx, p.ID, TriggerEmergency, 0.0004)
	if err != nil {
		t.Fatalf("emergency claim: %v", err)
	}
	if !claimed {
		t.Fatal("emergency failed to claim a FAILED trigger")
	}
	got, err := s.GetPosition(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload position: %v", err)
	}
	if got.Status != PositionClosingEmergency {
		t.Errorf("position status = %s, want CLOSING_EMERGENCY", got.Status)
	}
}

func TestRearmFailedTriggers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := createTestPosition(t, s, testChain())
	failTestTrigger(t, s, p.ID)

	// Fresh failures sit out the aging window.
	if _, err := s.RearmFailedTriggers(ctx, 10*time.Minute); err != nil {
		t.Fatalf("rearm: %v", err)
	}
	got, err := s.GetPosition(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload position: %v", err)
	}
	if got.TriggerState != TriggerFailed {
		t.Fatalf("fresh failure re-armed early (state %s)", got.TriggerState)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE positions SET trigger_updated_at = now() - interval '20 minutes' WHERE id = $1`,
		p.ID); err != nil {
		t.Fatalf("age trigger: %v", err)
	}
	n, err := s.RearmFailedTriggers(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least 1 trigger re-armed, got %d", n)
	}
	got, err = s.GetPosition(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload position: %v", err)
	}
	if got.TriggerState != TriggerMonitoring || got.Status != PositionActive {
		t.Errorf("re-armed position state = %s/%s, want MONITORING/ACTIVE", got.TriggerState, got.Status)
	}
}
