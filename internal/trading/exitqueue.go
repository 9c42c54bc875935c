package trading

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"raptor/internal/store"
)

// ExitJob is one claimed exit waiting for a sell.
type ExitJob struct {
	Position       *store.Position
	Trigger        store.Trigger
	TriggerPrice   float64
	SellPercent    float64
	IdempotencyKey string
	EnqueuedAt     time.Time

	priority int
	seq      uint64
	index    int
}

// exitPriority orders exits by urgency. Lower runs first.
func exitPriority(t store.Trigger) int {
	switch t {
	case store.TriggerEmergency:
		return 0
	case store.TriggerSL:
		return 1
	case store.TriggerTP:
		return 2
	case store.TriggerTrail:
		return 3
	case store.TriggerManual:
		return 4
	default: // MAXHOLD
		return 5
	}
}

var (
	ErrQueueFull   = errors.New("exit queue full")
	ErrQueueClosed = errors.New("exit queue closed")
)

// ExitQueue is a bounded in-process priority queue between the monitor's
// trigger claims and the sell workers. Sells are serialized per (user, chain)
// so one wallet never signs two swaps at once, and the monitor reads
// Backpressured to stop claiming when the queue backs up.
type ExitQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	heap     exitHeap
	seq      uint64
	capacity int
	high     int
	low      int
	paused   bool
	closed   bool

	inFlight map[string]struct{} // "user:chain" of running sells
}

// NewExitQueue sizes the queue. Watermarks default to 80%/50% of capacity.
func NewExitQueue(capacity int) *ExitQueue {
	if capacity < 8 {
		capacity = 8
	}
	q := &ExitQueue{
		heap:     exitHeap{},
		capacity: capacity,
		high:     capacity * 8 / 10,
		low:      capacity / 2,
		inFlight: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a claimed exit. Emergency exits are admitted even past
// capacity; everything else gets ErrQueueFull.
func (q *ExitQueue) Push(job *ExitJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.heap) >= q.capacity && job.Trigger != store.TriggerEmergency {
		return ErrQueueFull
	}

	job.priority = exitPriority(job.Trigger)
	q.seq++
	job.seq = q.seq
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	heap.Push(&q.heap, job)

	if len(q.heap) >= q.high {
		q.paused = true
	}
	q.cond.Broadcast()
	return nil
}

// Pop blocks until an exit whose wallet is idle is available, marks that
// wallet busy and returns the job. The caller must call Done when finished.
func (q *ExitQueue) Pop(ctx context.Context) (*ExitJob, error) {
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed && len(q.heap) == 0 {
			return nil, ErrQueueClosed
		}
		if job := q.takeEligibleLocked(); job != nil {
			return job, nil
		}
		q.cond.Wait()
	}
}

// takeEligibleLocked removes the highest-priority job whose (user, chain) has
// no sell in flight. Candidates are popped in heap order so a busy wallet at
// the root never lets a lower-priority job jump the queue; skipped jobs go
// straight back with their sequence numbers intact, preserving FIFO within a
// priority.
func (q *ExitQueue) takeEligibleLocked() *ExitJob {
	var skipped []*ExitJob
	var picked *ExitJob
	for len(q.heap) > 0 {
		job := heap.Pop(&q.heap).(*ExitJob)
		key := walletKey(job.Position.UserID, job.Position.Chain)
		if _, busy := q.inFlight[key]; busy {
			skipped = append(skipped, job)
			continue
		}
		q.inFlight[key] = struct{}{}
		picked = job
		break
	}
	for _, job := range skipped {
		heap.Push(&q.heap, job)
	}
	if picked != nil && q.paused && len(q.heap) <= q.low {
		q.paused = false
	}
	return picked
}

// Done releases the job's wallet slot.
func (q *ExitQueue) Done(job *ExitJob) {
	q.mu.Lock()
	delete(q.inFlight, walletKey(job.Position.UserID, job.Position.Chain))
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Backpressured reports whether the monitor should stop claiming triggers.
// Set at the high watermark, cleared at the low one.
func (q *ExitQueue) Backpressured() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Len is the number of queued (not in-flight) exits.
func (q *ExitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close stops Pop once the queue drains.
func (q *ExitQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Run consumes the queue with a fixed worker count until ctx is cancelled
// and the queue is drained.
func (q *ExitQueue) Run(ctx context.Context, workers int, handle func(context.Context, *ExitJob)) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Pop(ctx)
				if err != nil {
					return
				}
				handle(ctx, job)
				q.Done(job)
			}
		}()
	}
	wg.Wait()
	log.Info().Msg("exit queue drained")
}

func walletKey(userID int64, chain store.Chain) string {
	return fmt.Sprintf("%d:%s", userID, chain)
}

// exitHeap orders by priority, then FIFO within a priority.
type exitHeap []*ExitJob

func (h exitHeap) Len() int { return len(h) }
func (h exitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h exitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *exitHeap) Push(x interface{}) {
	job := x.(*ExitJob)
	job.index = len(*h)
	*h = append(*h, job)
}
func (h *exitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
