// Package services provides the scan orchestration shared by the API server
// and the scheduler. ScanService queues scans on the worker pool, tracks
// recent runs in memory, streams progress to subscribers and persists
// finished scans when a store is configured.
package services

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning"
	"github.com/anstrom/stridescan/internal/workers"
)

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Event types delivered to subscribers.
const (
	EventOpen      = "open"
	EventCompleted = "completed"
)

const (
	defaultRecentLimit = 100
	subscriberBuffer   = 256
	storeTimeout       = 10 * time.Second
)

// Event is one progress notification for a scan.
type Event struct {
	Type      string    `json:"type"`
	ScanID    string    `json:"scan_id"`
	Port      uint16    `json:"port"`
	Status    string    `json:"status,omitempty"`
	OpenPorts []uint16  `json:"open_ports,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Submitter queues jobs for execution.
type Submitter interface {
	Submit(job workers.Job) error
}

// ScanStore persists finished scans.
type ScanStore interface {
	Create(ctx context.Context, rec *db.ScanRecord) error
}

// ScanSummary is a point-in-time view of a scan run.
type ScanSummary struct {
	ID          string           `json:"id"`
	Target      string           `json:"target"`
	Workers     int              `json:"workers"`
	Source      string           `json:"source"`
	Status      string           `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Result      *scanning.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type scanRun struct {
	id          string
	target      netip.Addr
	workers     int
	source      string
	submittedAt time.Time

	mu          sync.Mutex
	status      string
	found       []uint16
	result      *scanning.Result
	err         string
	subscribers map[chan Event]struct{}
}

// ScanService coordinates scan runs.
type ScanService struct {
	pool        Submitter
	store       ScanStore
	scanOptions []scanning.Option
	recentLimit int
	logger      *logging.Logger

	mu     sync.RWMutex
	runs   map[string]*scanRun
	recent []string
}

// Option configures a ScanService.
type Option func(*ScanService)

// WithStore persists finished scans to store.
func WithStore(store ScanStore) Option {
	return func(s *ScanService) { s.store = store }
}

// WithScanOptions sets the options every scanner is built with.
func WithScanOptions(opts ...scanning.Option) Option {
	return func(s *ScanService) { s.scanOptions = opts }
}

// WithRecentLimit bounds how many runs are kept in memory.
func WithRecentLimit(n int) Option {
	return func(s *ScanService) {
		if n > 0 {
			s.recentLimit = n
		}
	}
}

// NewScanService creates a scan service that submits work to pool.
func NewScanService(pool Submitter, opts ...Option) *ScanService {
	s := &ScanService{
		pool:        pool,
		recentLimit: defaultRecentLimit,
		logger:      logging.Default().WithComponent("scan-service"),
		runs:        make(map[string]*scanRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the request and queues a scan. source names the caller
// ("api", "schedule:<job>") for logs and listings.
func (s *ScanService) Submit(target netip.Addr, workerCount int, source string) (*ScanSummary, error) {
	if !target.IsValid() {
		return nil, errors.ErrInvalidTarget(target.String())
	}
	if err := scanning.ValidateWorkers(workerCount); err != nil {
		return nil, err
	}

	run := &scanRun{
		id:          uuid.NewString(),
		target:      target,
		workers:     workerCount,
		source:      source,
		submittedAt: time.Now().UTC(),
		status:      StatusQueued,
		subscribers: make(map[chan Event]struct{}),
	}

	s.track(run)

	if err := s.pool.Submit(workers.NewScanJob(run.id, target, workerCount, s.execute)); err != nil {
		s.untrack(run.id)
		return nil, err
	}

	s.logger.InfoScan("Scan queued", target.String(), "scan_id", run.id, "workers", workerCount, "source", source)
	summary := run.summary()
	return &summary, nil
}

// Get returns the run with the given ID.
func (s *ScanService) Get(id string) (*ScanSummary, bool) {
	run := s.lookup(id)
	if run == nil {
		return nil, false
	}
	summary := run.summary()
	return &summary, true
}

// List returns the tracked runs, newest first.
func (s *ScanService) List() []ScanSummary {
	s.mu.RLock()
	ids := slices.Clone(s.recent)
	s.mu.RUnlock()

	summaries := make([]ScanSummary, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if run := s.lookup(ids[i]); run != nil {
			summaries = append(summaries, run.summary())
		}
	}
	return summaries
}

// Subscribe returns a channel of events for the scan. Ports already found
// are replayed first; a finished scan replays its ports and the completion
// event. The channel is closed after the completion event or when the
// returned cancel function is called. A subscriber that falls more than the
// buffer size behind is dropped and its channel closed.
func (s *ScanService) Subscribe(id string) (<-chan Event, func(), error) {
	run := s.lookup(id)
	if run == nil {
		return nil, nil, errors.ErrNotFound(id)
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	ch := make(chan Event, len(run.found)+subscriberBuffer)
	for _, port := range run.found {
		ch <- run.openEvent(port)
	}

	if run.result != nil || run.err != "" {
		ch <- run.completedEvent()
		close(ch)
		return ch, func() {}, nil
	}

	run.subscribers[ch] = struct{}{}
	cancel := func() {
		run.mu.Lock()
		defer run.mu.Unlock()
		if _, ok := run.subscribers[ch]; ok {
			delete(run.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// execute is the worker-pool entry point for one scan.
func (s *ScanService) execute(ctx context.Context, id string, target netip.Addr, workerCount int) error {
	run := s.lookup(id)
	if run == nil {
		return errors.ErrNotFound(id)
	}
	run.setStatus(StatusRunning)

	// Stored records, API lookups and scanner logs share the run ID.
	opts := append(slices.Clone(s.scanOptions), scanning.WithProgress(run.portFound), scanning.WithScanID(id))
	result, err := scanning.New(opts...).Scan(ctx, target, workerCount)

	status := StatusCompleted
	switch {
	case errors.IsCode(err, errors.CodeCanceled):
		status = StatusCanceled
	case err != nil:
		status = StatusFailed
	}
	run.finish(status, result, err)

	if result != nil {
		s.persist(result, status)
	}
	return err
}

func (s *ScanService) persist(result *scanning.Result, status string) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	dbStatus := db.ScanStatusCompleted
	if status == StatusCanceled {
		dbStatus = db.ScanStatusCanceled
	}
	if err := s.store.Create(ctx, db.NewScanRecord(result, dbStatus)); err != nil {
		s.logger.ErrorDatabase("Failed to store scan", err, "scan_id", result.ID)
	}
}

func (s *ScanService) track(run *scanRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.id] = run
	s.recent = append(s.recent, run.id)

	// Evict the oldest finished runs beyond the limit; active runs stay.
	for len(s.recent) > s.recentLimit {
		evicted := false
		for i, id := range s.recent {
			if s.runs[id].finished() {
				delete(s.runs, id)
				s.recent = slices.Delete(s.recent, i, i+1)
				evicted = true
				break
			}
		}
		if !evicted {
			break
		}
	}
}

func (s *ScanService) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	if i := slices.Index(s.recent, id); i >= 0 {
		s.recent = slices.Delete(s.recent, i, i+1)
	}
}

func (s *ScanService) lookup(id string) *scanRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

func (r *scanRun) setStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *scanRun) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result != nil || r.err != ""
}

func (r *scanRun) portFound(port uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.found = append(r.found, port)
	r.broadcast(r.openEvent(port))
}

func (r *scanRun) finish(status string, result *scanning.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = status
	r.result = result
	if err != nil {
		r.err = err.Error()
	}

	r.broadcast(r.completedEvent())
	for ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = make(map[chan Event]struct{})
}

// broadcast must be called with r.mu held.
func (r *scanRun) broadcast(ev Event) {
	for ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			delete(r.subscribers, ch)
			close(ch)
		}
	}
}

func (r *scanRun) openEvent(port uint16) Event {
	return Event{Type: EventOpen, ScanID: r.id, Port: port, Timestamp: time.Now().UTC()}
}

// completedEvent must be called with r.mu held.
func (r *scanRun) completedEvent() Event {
	ev := Event{
		Type:      EventCompleted,
		ScanID:    r.id,
		Status:    r.status,
		OpenPorts: []uint16{},
		Error:     r.err,
		Timestamp: time.Now().UTC(),
	}
	if r.result != nil {
		ev.OpenPorts = slices.Clone(r.result.OpenPorts)
	}
	return ev
}

func (r *scanRun) summary() ScanSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ScanSummary{
		ID:          r.id,
		Target:      r.target.String(),
		Workers:     r.workers,
		Source:      r.source,
		Status:      r.status,
		SubmittedAt: r.submittedAt,
		Result:      r.result,
		Error:       r.err,
	}
}
