package jobs

import (
	"context"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/pkg/logger"
	"github.com/clarityinspect/ingestcore/pkg/metrics"
)

// Handler executes the Extraction Pipeline for a single job. ctx is
// cancelled the moment a cooperative cancellation is requested for this job;
// implementations must check it between pipeline stages. progress reports
// percent-complete and the current stage name to the pool, which forwards
// them to the Store (rate-limited) as heartbeats.
type Handler func(ctx context.Context, job *Job, progress func(percent int, stage string)) error

// FailureObserver is notified once Store.Fail has determined a failed job's
// resulting state. Only StateFailed and StateDead are genuinely terminal;
// StateQueued means the job was merely requeued for another attempt and
// callers that translate failures into outward events (processing.failed,
// §4.4) must not treat a requeue as terminal.
type FailureObserver func(job *Job, state State, payload ErrorPayload)

// Pool is the bounded N-worker pool (C4) draining the Store. Each worker
// polls Acquire; on an empty result it backs off exponentially up to a
// configured ceiling plus jitter, so an idle pool never busy-loops.
type Pool struct {
	store           *Store
	cfg             config.QueueConfig
	log             *slog.Logger
	handler         Handler
	failureObserver FailureObserver

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewPool constructs a worker pool. Call SetHandler before Start.
func NewPool(store *Store, cfg *config.Config, log *slog.Logger) *Pool {
	return &Pool{
		store:   store,
		cfg:     cfg.Queue,
		log:     log.With(logger.Scope("jobs.pool")),
		cancels: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// SetHandler installs the pipeline invoked for every acquired job. Must be
// called before Start.
func (p *Pool) SetHandler(h Handler) {
	p.handler = h
}

// SetFailureObserver installs the callback notified after Store.Fail resolves
// a failed job's state. Must be called before Start.
func (p *Pool) SetFailureObserver(o FailureObserver) {
	p.failureObserver = o
}

// Start launches WorkerCount worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	n := p.cfg.WorkerCount
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Stop signals all workers to finish their current job and exit, then waits.
func (p *Pool) Stop(ctx context.Context) error {
	close(p.stopCh)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of jobID. If it is queued it is failed
// immediately by the Store; if active, the worker holding it is signalled
// via its context and will abandon the job at its next checkpoint.
func (p *Pool) Cancel(ctx context.Context, jobID string) (State, error) {
	state, err := p.store.RequestCancel(ctx, jobID)
	if err != nil {
		return "", err
	}
	if state == StateActive {
		p.mu.Lock()
		if cancel, ok := p.cancels[jobID]; ok {
			cancel()
		}
		p.mu.Unlock()
	}
	return state, nil
}

func (p *Pool) runWorker(ctx context.Context, idx int) {
	defer p.wg.Done()
	log := p.log.With(slog.Int("worker", idx))

	backoff := p.cfg.IdlePollMinInterval
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxBackoff := p.cfg.IdlePollMaxInterval
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.Acquire(ctx)
		if err != nil {
			log.Warn("acquire failed", logger.Error(err))
			if !sleepOrStop(p.stopCh, ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		if job == nil {
			metrics.WorkerIdlePollBackoff.Observe(backoff.Seconds())
			if !sleepOrStop(p.stopCh, ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		metrics.JobsAcquired.Inc()
		backoff = p.cfg.IdlePollMinInterval
		if backoff <= 0 {
			backoff = 100 * time.Millisecond
		}
		p.process(ctx, job, log)
	}
}

func (p *Pool) process(parent context.Context, job *Job, log *slog.Logger) {
	jobCtx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancels[job.ID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancels, job.ID)
		p.mu.Unlock()
	}()

	lastEmit := time.Now().Add(-time.Hour)
	minInterval := p.cfg.ProgressEventMinInterval
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}

	progress := func(percent int, stage string) {
		if time.Since(lastEmit) < minInterval && percent < 100 {
			return
		}
		lastEmit = time.Now()
		if err := p.store.Heartbeat(jobCtx, job.ID, percent, stage); err != nil {
			log.Warn("heartbeat failed", slog.String("job_id", job.ID), logger.Error(err))
		}
	}

	if p.handler == nil {
		log.Error("no handler installed, failing job", slog.String("job_id", job.ID))
		payload := ErrorPayload{Code: "NO_HANDLER", Message: "no pipeline handler installed"}
		state, failErr := p.store.Fail(parent, job.ID, true, payload)
		if failErr != nil {
			log.Error("failed to record missing-handler failure", slog.String("job_id", job.ID), logger.Error(failErr))
			return
		}
		if p.failureObserver != nil {
			p.failureObserver(job, state, payload)
		}
		return
	}

	err := p.handler(jobCtx, job, progress)
	if err == nil {
		return
	}

	retryable, payload := classifyHandlerError(err)
	state, failErr := p.store.Fail(parent, job.ID, retryable, payload)
	if failErr != nil {
		log.Error("failed to record job failure", slog.String("job_id", job.ID), logger.Error(failErr))
		return
	}
	if p.failureObserver != nil {
		p.failureObserver(job, state, payload)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(mrand.Int63n(int64(next/5 + 1)))
	return next + jitter
}

func sleepOrStop(stopCh chan struct{}, ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
