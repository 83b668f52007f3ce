package scanning

//go:generate mockgen -source=dialer.go -destination=mocks/mock_scanning.go -package=mocks

import (
	"context"
	"net"
	"time"
)

// Dialer opens the TCP connection for a single probe. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives scan telemetry. Implementations must be safe for
// concurrent use since every worker reports through it.
type Recorder interface {
	// RecordProbe counts one connect attempt with its resulting state.
	RecordProbe(state string)
	// WorkerStarted and WorkerFinished track live workers.
	WorkerStarted()
	WorkerFinished()
	// RecordScan records a finished scan.
	RecordScan(status string, duration time.Duration, openPorts int)
}

// ProgressFunc is called once per open port, from the worker that found it.
type ProgressFunc func(port uint16)

type nopRecorder struct{}

func (nopRecorder) RecordProbe(string) {}
func (nopRecorder) WorkerStarted() {}
func (nopRecorder) WorkerFinished() {}
func (nopRecorder) RecordScan(string, time.Duration, int) {}
