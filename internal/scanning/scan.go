package scanning

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
)

// Scanner runs connect scans against a single target.
type Scanner struct {
	dialer   Dialer
	network  string
	recorder Recorder
	progress ProgressFunc
	logger   *logging.Logger
	scanID   string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithDialer replaces the default *net.Dialer.
func WithDialer(d Dialer) Option {
	return func(s *Scanner) { s.dialer = d }
}

// WithNetwork sets the dial network: "tcp" (default), "tcp4" or "tcp6".
func WithNetwork(network string) Option {
	return func(s *Scanner) {
		if network != "" {
			s.network = network
		}
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) { s.recorder = r }
}

// WithProgress sets the per-open-port callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// WithLogger sets the logger; the package default is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithScanID makes Scan use id for the result and its log lines instead of
// generating one.
func WithScanID(id string) Option {
	return func(s *Scanner) { s.scanID = id }
}

// New creates a Scanner with the given options applied.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		dialer:   &net.Dialer{},
		network:  "tcp",
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("scanner")
	return s
}

// Scan probes every port of target using workers concurrent workers and
// returns the open ports in ascending order.
//
// Canceling ctx makes the remaining dials fail fast; the workers still run to
// the end of their sequences, and the partial result is returned together
// with a CodeCanceled error.
func (s *Scanner) Scan(ctx context.Context, target netip.Addr, workers int) (*Result, error) {
	if !target.IsValid() {
		return nil, errors.ErrInvalidTarget(target.String())
	}
	assignments, err := Partition(workers)
	if err != nil {
		return nil, err
	}

	result := NewResult(target, workers)
	if s.scanID != "" {
		result.ID = s.scanID
	}
	log := s.logger.WithScanID(result.ID).WithTarget(target.String())
	log.Info("Starting scan", "workers", workers)

	results := make(chan uint16)
	var wg sync.WaitGroup
	for _, a := range assignments {
		wg.Add(1)
		s.recorder.WorkerStarted()
		go func() {
			defer wg.Done()
			defer s.recorder.WorkerFinished()
			s.probe(ctx, target, a, results)
		}()
	}

	// The channel closes only after the last worker has returned.
	go func() {
		wg.Wait()
		close(results)
	}()

	result.OpenPorts = collect(results)
	result.Complete()

	if ctxErr := ctx.Err(); ctxErr != nil {
		s.recorder.RecordScan("canceled", result.Duration, len(result.OpenPorts))
		log.Warn("Scan canceled", "open_ports", len(result.OpenPorts), "duration", result.Duration)
		return result, errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctxErr)
	}

	s.recorder.RecordScan("success", result.Duration, len(result.OpenPorts))
	log.Info("Scan completed", "open_ports", len(result.OpenPorts), "duration", result.Duration)
	return result, nil
}

// collect drains results until it is closed and returns the ports in
// ascending order. Duplicates are kept.
func collect(results <-chan uint16) []uint16 {
	ports := make([]uint16, 0)
	for port := range results {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports
}

// probe walks one assignment, sending every port that accepts a connection.
func (s *Scanner) probe(ctx context.Context, target netip.Addr, a Assignment, results chan<- uint16) {
	for port := range a.Ports() {
		conn, err := s.dialer.DialContext(ctx, s.network, netip.AddrPortFrom(target, port).String())
		if err != nil {
			s.recorder.RecordProbe(StateClosed)
			continue
		}
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close probe connection", "port", port, "error", err)
		}

		s.recorder.RecordProbe(StateOpen)
		s.logger.Debug("Port open", "port", port, "worker", a.Start)
		if s.progress != nil {
			s.progress(port)
		}
		results <- port
	}
}
