package crossencoder

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Queue serializes access to a process-wide cross-encoder behind a bounded
// concurrency gate. It tracks queue depth and an EWMA of observed wait times
// so callers can shed load before joining a queue they cannot clear within
// their deadline.
type Queue struct {
	inner CrossEncoder
	sem   *semaphore.Weighted
	depth atomic.Int64

	mu       sync.Mutex
	waitEWMA time.Duration

	threshold int
}

// DefaultConcurrency is min(GOMAXPROCS, 4): cross-encoder inference is
// CPU-bound and saturates quickly.
func DefaultConcurrency() int {
	n := runtime.GOMAXPROCS(0)
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// NewQueue wraps inner with a concurrency bound and backpressure tracking.
// maxConcurrency <= 0 selects DefaultConcurrency; threshold <= 0 disables
// depth-based shedding.
func NewQueue(inner CrossEncoder, maxConcurrency, threshold int) *Queue {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency()
	}
	return &Queue{
		inner:     inner,
		sem:       semaphore.NewWeighted(int64(maxConcurrency)),
		threshold: threshold,
	}
}

// Depth returns the number of callers currently queued or scoring.
func (q *Queue) Depth() int { return int(q.depth.Load()) }

// WaitEstimate returns the current estimate of time spent waiting for a
// slot, zero until a wait has been observed.
func (q *Queue) WaitEstimate() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitEWMA
}

// ShouldShed reports whether a caller with the given deadline slack should
// be rejected instead of queued.
func (q *Queue) ShouldShed(slack time.Duration) bool {
	if q.threshold <= 0 || q.Depth() <= q.threshold {
		return false
	}
	return slack < q.WaitEstimate()
}

func (q *Queue) observeWait(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waitEWMA == 0 {
		q.waitEWMA = d
		return
	}
	// EWMA with alpha = 1/4.
	q.waitEWMA = (q.waitEWMA*3 + d) / 4
}

// ScorePairs waits for a slot and delegates to the wrapped scorer.
func (q *Queue) ScorePairs(ctx context.Context, pairs []Pair) ([]float64, error) {
	q.depth.Add(1)
	defer q.depth.Add(-1)

	start := time.Now()
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.observeWait(time.Since(start))
	defer q.sem.Release(1)

	return q.inner.ScorePairs(ctx, pairs)
}
