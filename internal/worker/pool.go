package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"farm-jobs/internal/models"
	"farm-jobs/internal/telemetry"
)

// ErrShutdownTimeout is returned when in-flight jobs outlive the grace period.
var ErrShutdownTimeout = errors.New("worker shutdown grace period exceeded")

// Handler executes one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, job models.Job) (any, error)

// Queue is the broker surface a pool consumes.
type Queue interface {
	Kind() models.Kind
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	RequeueExpired(ctx context.Context, now time.Time) ([]string, error)
	Dequeue(ctx context.Context) (*models.Job, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Complete(ctx context.Context, job models.Job, result string) error
	Fail(ctx context.Context, job models.Job, cause error) (bool, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// RunRecorder persists job executions. It is optional.
type RunRecorder interface {
	RecordStart(ctx context.Context, job models.Job, workerID string) error
	RecordFinish(ctx context.Context, job models.Job, state string, errMsg string) error
}

// Options configures a pool.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	Grace        time.Duration
	WorkerID     string
	Recorder     RunRecorder
	Logger       *slog.Logger
}

// Pool runs one handler against one queue with bounded concurrency.
type Pool struct {
	queue   Queue
	handler Handler
	opts    Options
	log     *slog.Logger

	sem  chan struct{}
	stop chan struct{}
	// mu orders running.Add in Run against close(stop) in Shutdown, so
	// Shutdown never waits while a Run is still registering.
	mu       sync.Mutex
	stopOnce sync.Once
	running  sync.WaitGroup
	inflight sync.WaitGroup

	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// NewPool binds handler to q. At most opts.Concurrency jobs run at once.
func NewPool(q Queue, handler Handler, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:      q,
		handler:    handler,
		opts:       opts,
		log:        opts.Logger.With("kind", string(q.Kind())),
		sem:        make(chan struct{}, opts.Concurrency),
		stop:       make(chan struct{}),
		jobCtx:     jobCtx,
		cancelJobs: cancel,
	}
}

// Kind reports the job kind this pool consumes.
func (p *Pool) Kind() models.Kind { return p.queue.Kind() }

// Run polls the queue until ctx is cancelled or Shutdown is called. Jobs
// already running are not interrupted when Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	select {
	case <-p.stop:
		p.mu.Unlock()
		return nil
	default:
	}
	p.running.Add(1)
	p.mu.Unlock()
	defer p.running.Done()

	kind := string(p.queue.Kind())
	p.log.Info("worker pool started", "concurrency", p.opts.Concurrency)
	for {
		if p.stopped(ctx) {
			return nil
		}

		now := time.Now()
		if _, err := p.queue.PromoteDue(ctx, now); err != nil && ctx.Err() == nil {
			p.log.Warn("promote due jobs", "error", err)
		}
		if reclaimed, err := p.queue.RequeueExpired(ctx, now); err != nil && ctx.Err() == nil {
			p.log.Warn("requeue expired leases", "error", err)
		} else if len(reclaimed) > 0 {
			p.log.Warn("reclaimed expired leases", "count", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.WithLabelValues(kind).Set(float64(depth))
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.stop:
			return nil
		case <-ctx.Done():
			return nil
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil || job == nil {
			<-p.sem
			if err != nil && ctx.Err() == nil {
				p.log.Warn("dequeue", "error", err)
			}
			p.wait(ctx)
			continue
		}

		p.inflight.Add(1)
		go func(job models.Job) {
			defer p.inflight.Done()
			defer func() { <-p.sem }()
			p.process(job)
		}(*job)
	}
}

func (p *Pool) stopped(ctx context.Context) bool {
	select {
	case <-p.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (p *Pool) wait(ctx context.Context) {
	t := time.NewTimer(p.opts.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stop:
	case <-ctx.Done():
	}
}

// Shutdown stops polling and waits for in-flight jobs, up to the grace
// period or ctx, whichever ends first. Jobs still running afterwards have
// their context cancelled. Calling Shutdown more than once is safe.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.running.Wait()
		p.inflight.Wait()
		close(drained)
	}()

	grace := time.NewTimer(p.opts.Grace)
	defer grace.Stop()
	select {
	case <-drained:
		p.cancelJobs()
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	p.cancelJobs()
	p.log.Warn("shutdown grace exceeded, cancelling in-flight jobs")
	return ErrShutdownTimeout
}

func (p *Pool) process(job models.Job) {
	kind := string(job.Kind)
	log := p.log.With("job_id", job.ID, "user_id", job.Payload.UserID, "attempt", job.Attempts+1)
	ctx := p.jobCtx

	telemetry.InFlightGauge.WithLabelValues(kind).Inc()
	defer telemetry.InFlightGauge.WithLabelValues(kind).Dec()

	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.RecordStart(ctx, job, p.opts.WorkerID); err != nil {
			log.Warn("record job start", "error", err)
		}
	}

	stopHeartbeat := p.heartbeat(ctx, job.ID)
	start := time.Now()
	result, err := p.invoke(ctx, job)
	stopHeartbeat()

	// Bookkeeping must land even if the job context was cancelled.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		body, encErr := json.Marshal(result)
		if encErr != nil {
			body = []byte(fmt.Sprintf("%q", fmt.Sprint(result)))
		}
		if cerr := p.queue.Complete(bctx, job, string(body)); cerr != nil {
			log.Error("mark job complete", "error", cerr)
		}
		p.record(bctx, log, job, models.StateCompleted, "")
		telemetry.JobsCompleted.WithLabelValues(kind).Inc()
		log.Info("job completed", "duration", time.Since(start))
		return
	}

	telemetry.JobsFailed.WithLabelValues(kind).Inc()
	log.Error("job failed", "error", err, "duration", time.Since(start))
	dead, ferr := p.queue.Fail(bctx, job, err)
	if ferr != nil {
		log.Error("record job failure", "error", ferr)
		return
	}
	if dead {
		telemetry.JobsDeadLetter.WithLabelValues(kind).Inc()
		log.Error("job exhausted retries", "error", err)
		p.record(bctx, log, job, models.StateFailed, err.Error())
		return
	}
	p.record(bctx, log, job, models.StateWaiting, err.Error())
}

func (p *Pool) record(ctx context.Context, log *slog.Logger, job models.Job, state string, msg string) {
	if p.opts.Recorder == nil {
		return
	}
	if err := p.opts.Recorder.RecordFinish(ctx, job, state, msg); err != nil {
		log.Warn("record job finish", "error", err)
	}
}

// invoke runs the handler, converting a panic into an error.
func (p *Pool) invoke(ctx context.Context, job models.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

func (p *Pool) heartbeat(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(p.opts.Lease / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.queue.ExtendLease(ctx, jobID, p.opts.Lease); err != nil {
					p.log.Warn("extend lease", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
