// Package workers provides the bounded job pool that runs scans submitted
// through the API and the scheduler. It limits how many scans run at once,
// rejects work when the queue is full and drains gracefully on shutdown.
package workers

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
}

// Tracker is notified when jobs start and finish.
type Tracker interface {
	ScanStarted()
	ScanFinished()
}

// JobRecorder receives the outcome of each finished job.
type JobRecorder interface {
	RecordJob(jobType string, duration time.Duration, success bool)
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// ShutdownTimeout is how long Shutdown waits before canceling running jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            2,
		QueueSize:       32,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config  Config
	jobs    chan Job
	results chan Result
	tracker Tracker
	logger  *logging.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
}

// New creates a new worker pool. tracker may be nil.
func New(config Config, tracker Tracker) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize+config.Size),
		tracker: tracker,
		logger:  logging.Default().WithComponent("workers"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// Submit queues a job without blocking. It fails with CodeQueueFull when the
// queue has no room and with CodeCanceled once the pool is shut down.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.NewScanError(errors.CodeCanceled, "worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	default:
		return errors.NewScanError(errors.CodeQueueFull, "job queue is full").
			WithContext("queue_size", p.config.QueueSize)
	}
}

// Results returns the channel of finished jobs. Results are dropped when
// nobody drains the channel and its buffer is full. The channel is closed
// by Shutdown.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, lets queued and running jobs finish and
// cancels whatever is still running after the shutdown timeout.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if p.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(p.config.ShutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		p.logger.Info("Worker pool shutdown completed")
	case <-timeout:
		p.logger.Warn("Worker pool shutdown timeout, canceling running jobs")
		p.cancel()
		<-done
	}

	p.cancel()
	close(p.results)
	return nil
}

// Collect drains results until the channel is closed and reports each job
// to rec, which may be nil. It returns the number of jobs seen and how many
// of them failed.
func Collect(results <-chan Result, rec JobRecorder) (total, failed int) {
	for r := range results {
		total++
		if r.Error != nil {
			failed++
		}
		if rec != nil {
			rec.RecordJob(r.JobType, r.Duration, r.Error == nil)
		}
	}
	return total, failed
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		p.execute(id, job)
	}
}

func (p *Pool) execute(workerID int, job Job) {
	if p.tracker != nil {
		p.tracker.ScanStarted()
		defer p.tracker.ScanFinished()
	}

	start := time.Now()
	err := job.Execute(p.ctx)
	result := Result{
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.logger.Error("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"worker_id", workerID,
			"error", err)
	} else {
		p.logger.Debug("Job completed successfully",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", result.Duration,
			"worker_id", workerID)
	}

	select {
	case p.results <- result:
	default:
		p.logger.Debug("Result channel full, dropping result", "job_id", job.ID())
	}
}

// ScanExecutor runs one scan of target with the given worker count.
type ScanExecutor func(ctx context.Context, id string, target netip.Addr, workers int) error

// ScanJob implements Job for a full port-space scan.
type ScanJob struct {
	id       string
	target   netip.Addr
	workers  int
	executor ScanExecutor
}

// NewScanJob creates a new scan job.
func NewScanJob(id string, target netip.Addr, workers int, executor ScanExecutor) *ScanJob {
	return &ScanJob{
		id:       id,
		target:   target,
		workers:  workers,
		executor: executor,
	}
}

// Execute implements the Job interface.
func (j *ScanJob) Execute(ctx context.Context) error {
	return j.executor(ctx, j.id, j.target, j.workers)
}

// ID implements the Job interface.
func (j *ScanJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *ScanJob) Type() string {
	return "scan"
}
