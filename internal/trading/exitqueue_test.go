package trading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptor/internal/store"
)

func exitJob(userID int64, trigger store.Trigger) *ExitJob {
	return &ExitJob{
		Position: &store.Position{
			ID:     userID * 100,
			UserID: userID,
			Chain:  store.ChainSolana,
		},
		Trigger:     trigger,
		SellPercent: 100,
	}
}

func TestExitQueuePriorityOrder(t *testing.T) {
	q := NewExitQueue(16)

	require.NoError(t, q.Push(exitJob(1, store.TriggerMaxHold)))
	require.NoError(t, q.Push(exitJob(2, store.TriggerTP)))
	require.NoError(t, q.Push(exitJob(3, store.TriggerSL)))
	require.NoError(t, q.Push(exitJob(4, store.TriggerEmergency)))
	require.NoError(t, q.Push(exitJob(5, store.TriggerTrail)))

	want := []store.Trigger{
		store.TriggerEmergency,
		store.TriggerSL,
		store.TriggerTP,
		store.TriggerTrail,
		store.TriggerMaxHold,
	}
	for _, trigger := range want {
		job, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, trigger, job.Trigger)
		q.Done(job)
	}
}

func TestExitQueueFIFOWithinPriority(t *testing.T) {
	q := NewExitQueue(16)
	require.NoError(t, q.Push(exitJob(1, store.TriggerTP)))
	require.NoError(t, q.Push(exitJob(2, store.TriggerTP)))

	first, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Position.UserID)
	q.Done(first)

	second, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Position.UserID)
	q.Done(second)
}

func TestExitQueuePerWalletSerialization(t *testing.T) {
	q := NewExitQueue(16)
	require.NoError(t, q.Push(exitJob(1, store.TriggerSL)))
	require.NoError(t, q.Push(exitJob(1, store.TriggerTP))) // same wallet
	require.NoError(t, q.Push(exitJob(2, store.TriggerMaxHold)))

	first, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Position.UserID)

	// Wallet 1 is busy; the lower-priority job for wallet 2 must be next.
	second, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Position.UserID)

	// Nothing eligible until wallet 1 frees up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.Pop(ctx)
	assert.Error(t, err)

	q.Done(first)
	third, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.TriggerTP, third.Trigger)
	q.Done(second)
	q.Done(third)
}

func TestExitQueueBusyRootKeepsPriorityOrder(t *testing.T) {
	q := NewExitQueue(16)

	// Wallet 1 goes in flight, then another job for it lands at the root.
	require.NoError(t, q.Push(exitJob(1, store.TriggerEmergency)))
	first, err := q.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Position.UserID)

	require.NoError(t, q.Push(exitJob(1, store.TriggerEmergency)))
	require.NoError(t, q.Push(exitJob(2, store.TriggerMaxHold)))
	require.NoError(t, q.Push(exitJob(3, store.TriggerSL)))

	// With the root's wallet busy, the SL exit must still beat the MAXHOLD.
	second, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.TriggerSL, second.Trigger)
	assert.Equal(t, int64(3), second.Position.UserID)

	third, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.TriggerMaxHold, third.Trigger)

	// Freeing wallet 1 releases its queued emergency.
	q.Done(first)
	fourth, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.TriggerEmergency, fourth.Trigger)
	assert.Equal(t, int64(1), fourth.Position.UserID)
	q.Done(second)
	q.Done(third)
	q.Done(fourth)
}

func TestExitQueueFullRejectsExceptEmergency(t *testing.T) {
	q := NewExitQueue(8)
	for i := 0; i < 8; i++ {
		require.NoError(t, q.Push(exitJob(int64(i+1), store.TriggerTP)))
	}

	assert.ErrorIs(t, q.Push(exitJob(99, store.TriggerSL)), ErrQueueFull)
	assert.NoError(t, q.Push(exitJob(100, store.TriggerEmergency)), "emergency bypasses capacity")
}

func TestExitQueueBackpressureWatermarks(t *testing.T) {
	q := NewExitQueue(10) // high = 8, low = 5
	for i := 0; i < 7; i++ {
		require.NoError(t, q.Push(exitJob(int64(i+1), store.TriggerTP)))
	}
	assert.False(t, q.Backpressured())

	require.NoError(t, q.Push(exitJob(8, store.TriggerTP)))
	assert.True(t, q.Backpressured(), "high watermark sets backpressure")

	// Draining to the low watermark clears it; staying above keeps it.
	for i := 0; i < 2; i++ {
		job, err := q.Pop(context.Background())
		require.NoError(t, err)
		q.Done(job)
	}
	assert.True(t, q.Backpressured())

	job, err := q.Pop(context.Background())
	require.NoError(t, err)
	q.Done(job)
	assert.False(t, q.Backpressured(), "low watermark clears backpressure")
}

func TestExitQueuePopCancelled(t *testing.T) {
	q := NewExitQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExitQueueRunDrains(t *testing.T) {
	q := NewExitQueue(16)
	for i := 0; i < 6; i++ {
		require.NoError(t, q.Push(exitJob(int64(i+1), store.TriggerTP)))
	}

	seen := make(chan int64, 6)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for i := 0; i < 6; i++ {
			<-seen
		}
		cancel()
	}()

	q.Run(ctx, 3, func(_ context.Context, job *ExitJob) {
		seen <- job.Position.UserID
	})
	assert.Equal(t, 0, q.Len())
}
