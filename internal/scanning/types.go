package scanning

import (
	"fmt"
	"iter"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/stridescan/internal/errors"
)

const (
	// MaxPort is the highest TCP port number.
	MaxPort = 65535

	// MaxWorkers is the largest usable worker count; one worker per port offset.
	MaxWorkers = MaxPort

	// DefaultWorkers is the worker count used when none is given.
	DefaultWorkers = 4
)

// Port states reported to the Recorder.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Assignment is the arithmetic port sequence owned by one worker:
// Start, Start+Stride, Start+2*Stride, ... up to MaxPort.
type Assignment struct {
	Start  uint16
	Stride uint16
}

// Ports yields the assignment's ports in ascending order. The next candidate
// is computed in uint32 so advancing past MaxPort never wraps around.
func (a Assignment) Ports() iter.Seq[uint16] {
	return func(yield func(uint16) bool) {
		if a.Stride == 0 {
			yield(a.Start)
			return
		}
		for p := uint32(a.Start); p <= MaxPort; p += uint32(a.Stride) {
			if !yield(uint16(p)) {
				return
			}
		}
	}
}

// Count returns how many ports the assignment covers.
func (a Assignment) Count() int {
	if a.Stride == 0 {
		return 1
	}
	return (MaxPort-int(a.Start))/int(a.Stride) + 1
}

// Partition splits the port space into workers disjoint assignments,
// one per residue class modulo workers.
func Partition(workers int) ([]Assignment, error) {
	if err := ValidateWorkers(workers); err != nil {
		return nil, err
	}

	assignments := make([]Assignment, workers)
	for i := range assignments {
		assignments[i] = Assignment{Start: uint16(i), Stride: uint16(workers)}
	}
	return assignments, nil
}

// ValidateWorkers checks that a worker count lies in 1..MaxWorkers.
func ValidateWorkers(workers int) error {
	if workers < 1 || workers > MaxWorkers {
		return errors.ErrInvalidWorkers(workers)
	}
	return nil
}

// ParseTarget parses an IPv4 or IPv6 address literal.
func ParseTarget(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		scanErr := errors.ErrInvalidTarget(s)
		scanErr.Cause = err
		return netip.Addr{}, scanErr
	}
	return addr, nil
}

// Result contains the outcome of one scan run.
type Result struct {
	// ID uniquely identifies the scan run
	ID string `json:"id"`
	// Target is the scanned address
	Target netip.Addr `json:"target"`
	// Workers is the number of workers the port space was split across
	Workers int `json:"workers"`
	// OpenPorts lists every port that accepted a connection, ascending
	OpenPorts []uint16 `json:"open_ports"`
	// StartTime is when the scan started
	StartTime time.Time `json:"start_time"`
	// EndTime is when the scan completed
	EndTime time.Time `json:"end_time"`
	// Duration is how long the scan took
	Duration time.Duration `json:"duration"`
}

// NewResult creates a new scan result with the current time as start time.
func NewResult(target netip.Addr, workers int) *Result {
	return &Result{
		ID:        uuid.New().String(),
		Target:    target,
		Workers:   workers,
		OpenPorts: make([]uint16, 0),
		StartTime: time.Now(),
	}
}

// Complete marks the scan as complete and calculates duration.
func (r *Result) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Lines renders one "<port> is open" line per open port.
func (r *Result) Lines() []string {
	lines := make([]string, 0, len(r.OpenPorts))
	for _, p := range r.OpenPorts {
		lines = append(lines, fmt.Sprintf("%d is open", p))
	}
	return lines
}
