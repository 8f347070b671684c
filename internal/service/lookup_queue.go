package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jengzang/mobile-supervisor-go/internal/logging"
	"github.com/jengzang/mobile-supervisor-go/internal/metrics"
	"github.com/jengzang/mobile-supervisor-go/internal/models"
)

// Resolver is anything that can resolve a tower, typically a *TowerResolver
type Resolver interface {
	Resolve(ctx context.Context, tower models.ReportedTower) (*models.TowerRecord, error)
}

// LookupResult is delivered to SubmitWait callers
type LookupResult struct {
	Record *models.TowerRecord
	Err    error
}

type lookupJob struct {
	tower models.ReportedTower
	reply chan LookupResult
}

// LookupQueue runs tower resolutions in the background with at most
// `workers` in flight. Jobs start in submission order.
type LookupQueue struct {
	resolver Resolver
	workers  int
	jobs     chan lookupJob
	pending  atomic.Int64
}

// NewLookupQueue creates a queue holding up to depth waiting jobs
func NewLookupQueue(resolver Resolver, workers, depth int) *LookupQueue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &LookupQueue{
		resolver: resolver,
		workers:  workers,
		jobs:     make(chan lookupJob, depth),
	}
}

// Submit enqueues a fire-and-forget lookup without blocking. It returns false
// and drops the job when the queue is full.
func (q *LookupQueue) Submit(tower models.ReportedTower) bool {
	select {
	case q.jobs <- lookupJob{tower: tower}:
		q.pending.Add(1)
		metrics.LookupQueueDepth.Inc()
		return true
	default:
		metrics.LookupQueueDropped.Inc()
		logging.Warn().Str("tower", tower.Key()).Msg("Lookup queue full, dropping tower lookup")
		return false
	}
}

// SubmitWait enqueues a lookup and returns a channel that receives its result.
// Enqueueing blocks until there is room or ctx is done.
func (q *LookupQueue) SubmitWait(ctx context.Context, tower models.ReportedTower) <-chan LookupResult {
	reply := make(chan LookupResult, 1)
	select {
	case q.jobs <- lookupJob{tower: tower, reply: reply}:
		q.pending.Add(1)
		metrics.LookupQueueDepth.Inc()
	case <-ctx.Done():
		reply <- LookupResult{Err: ctx.Err()}
	}
	return reply
}

// Pending returns the number of jobs waiting for a worker
func (q *LookupQueue) Pending() int64 {
	return q.pending.Load()
}

// Serve runs the workers until ctx is cancelled. Jobs already started finish;
// jobs still waiting stay queued for the next Serve.
func (q *LookupQueue) Serve(ctx context.Context) error {
	logging.Info().Int("workers", q.workers).Int("depth", cap(q.jobs)).Msg("Lookup queue started")

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()

	logging.Info().Int64("pending", q.Pending()).Msg("Lookup queue stopped")
	return ctx.Err()
}

func (q *LookupQueue) work(ctx context.Context) {
	for {
		// Prefer stopping over taking another job
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.pending.Add(-1)
			metrics.LookupQueueDepth.Dec()
			q.run(context.WithoutCancel(ctx), job)
		}
	}
}

// run resolves one job. Failures and panics stay inside the job.
func (q *LookupQueue) run(ctx context.Context, job lookupJob) {
	var res LookupResult
	defer func() {
		if p := recover(); p != nil {
			logging.Error().Str("tower", job.tower.Key()).Interface("panic", p).Msg("Tower lookup panicked")
			res = LookupResult{Err: fmt.Errorf("tower lookup panicked: %v", p)}
		}
		if job.reply != nil {
			job.reply <- res
		}
	}()

	rec, err := q.resolver.Resolve(ctx, job.tower)
	res = LookupResult{Record: rec, Err: err}
	if err != nil {
		logging.Debug().Err(err).Str("tower", job.tower.Key()).Msg("Background tower lookup failed")
	}
}
