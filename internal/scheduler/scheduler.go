// Package scheduler runs recurring scans from the configuration's schedule
// section. Each job submits a scan of its target on a cron expression; the
// scan itself runs on the worker pool behind the scan service.
package scheduler

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning"
	"github.com/anstrom/stridescan/internal/services"
)

// Submitter queues a scan. *services.ScanService satisfies it.
type Submitter interface {
	Submit(target netip.Addr, workers int, source string) (*services.ScanSummary, error)
}

// Scheduler manages recurring scan jobs.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	jobs      map[string]*ScheduledJob
	mu        sync.RWMutex
	running   bool
	logger    *logging.Logger
}

// ScheduledJob is one recurring scan and its run history.
type ScheduledJob struct {
	Name    string
	Cron    string
	Target  netip.Addr
	Workers int
	CronID  cron.EntryID

	LastRun    time.Time
	LastScanID string
	LastError  string
	Runs       int
}

// JobStatus is a snapshot of a scheduled job.
type JobStatus struct {
	Name       string    `json:"name"`
	Cron       string    `json:"cron"`
	Target     string    `json:"target"`
	Workers    int       `json:"workers"`
	NextRun    time.Time `json:"next_run"`
	LastRun    time.Time `json:"last_run"`
	LastScanID string    `json:"last_scan_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Runs       int       `json:"runs"`
}

// NewScheduler creates a new job scheduler.
func NewScheduler(submitter Submitter) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		submitter: submitter,
		jobs:      make(map[string]*ScheduledJob),
		logger:    logging.Default().WithComponent("scheduler"),
	}
}

// LoadFromConfig adds every job in the schedule section. Jobs without a
// worker count use the scanning default.
func (s *Scheduler) LoadFromConfig(cfg *config.Config) error {
	for _, job := range cfg.Schedule.Jobs {
		if err := s.AddJob(job.Name, job.Cron, job.Target, cfg.JobWorkers(job)); err != nil {
			return err
		}
	}
	return nil
}

// AddJob registers a recurring scan.
func (s *Scheduler) AddJob(name, cronExpr, target string, workers int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.NewScanError(errors.CodeValidation, "job name is required")
	}
	addr, err := scanning.ParseTarget(target)
	if err != nil {
		return err
	}
	if err := scanning.ValidateWorkers(workers); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return errors.WrapScanError(errors.CodeValidation, fmt.Sprintf("invalid cron expression %q", cronExpr), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return errors.NewScanError(errors.CodeConflict, fmt.Sprintf("job %q already exists", name))
	}

	job := &ScheduledJob{Name: name, Cron: cronExpr, Target: addr, Workers: workers}
	id, err := s.cron.AddFunc(cronExpr, func() { s.execute(name) })
	if err != nil {
		return errors.WrapScanError(errors.CodeValidation, "failed to schedule job", err)
	}
	job.CronID = id
	s.jobs[name] = job

	s.logger.Info("Scheduled scan job added", "job", name, "cron", cronExpr, "target", target, "workers", workers)
	return nil
}

// RemoveJob unschedules a job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return errors.ErrNotFound(name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Scheduled scan job removed", "job", name)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops firing jobs. The returned context is done once any job
// callback in flight has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info("Scheduler stopped")
	return s.cron.Stop()
}

// RunNow submits the job's scan immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.ErrNotFound(name)
	}
	return s.execute(name)
}

// GetJobs returns a snapshot of all jobs ordered by name.
func (s *Scheduler) GetJobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		statuses = append(statuses, JobStatus{
			Name:       job.Name,
			Cron:       job.Cron,
			Target:     job.Target.String(),
			Workers:    job.Workers,
			NextRun:    s.cron.Entry(job.CronID).Next,
			LastRun:    job.LastRun,
			LastScanID: job.LastScanID,
			LastError:  job.LastError,
			Runs:       job.Runs,
		})
	}
	slices.SortFunc(statuses, func(a, b JobStatus) int { return strings.Compare(a.Name, b.Name) })
	return statuses
}

func (s *Scheduler) execute(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	var target netip.Addr
	var workers int
	if exists {
		target, workers = job.Target, job.Workers
	}
	s.mu.RUnlock()
	if !exists {
		return errors.ErrNotFound(name)
	}

	summary, err := s.submitter.Submit(target, workers, "schedule:"+name)

	s.mu.Lock()
	job.LastRun = time.Now().UTC()
	job.Runs++
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
		job.LastScanID = summary.ID
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled scan submission failed", "job", name, "target", target.String(), "error", err)
		return err
	}
	s.logger.Info("Scheduled scan submitted", "job", name, "scan_id", summary.ID, "target", target.String())
	return nil
}
