package db

import (
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/stridescan/internal/scanning"
)

// Scan statuses stored in the scans table.
const (
	ScanStatusCompleted = "completed"
	ScanStatusCanceled  = "canceled"
	ScanStatusFailed    = "failed"
)

// ScanRecord is one row of the scans table plus its open ports.
type ScanRecord struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Target     string    `db:"target" json:"target"`
	Workers    int       `db:"workers" json:"workers"`
	Status     string    `db:"status" json:"status"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
	DurationMs int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	OpenPorts  []uint16  `db:"-" json:"open_ports"`
}

// NewScanRecord converts a scan result into a record ready for Create.
// Results whose ID is not a UUID get a fresh one.
func NewScanRecord(result *scanning.Result, status string) *ScanRecord {
	id, err := uuid.Parse(result.ID)
	if err != nil {
		id = uuid.New()
	}

	ports := make([]uint16, len(result.OpenPorts))
	copy(ports, result.OpenPorts)

	return &ScanRecord{
		ID:         id,
		Target:     result.Target.String(),
		Workers:    result.Workers,
		Status:     status,
		StartedAt:  result.StartTime,
		FinishedAt: result.EndTime,
		DurationMs: result.Duration.Milliseconds(),
		OpenPorts:  ports,
	}
}

// ToResult converts the record back into a scan result.
func (r *ScanRecord) ToResult() (*scanning.Result, error) {
	target, err := scanning.ParseTarget(r.Target)
	if err != nil {
		// INET columns may come back with a prefix length.
		prefix, perr := netip.ParsePrefix(r.Target)
		if perr != nil {
			return nil, err
		}
		target = prefix.Addr()
	}

	ports := make([]uint16, len(r.OpenPorts))
	copy(ports, r.OpenPorts)

	return &scanning.Result{
		ID:        r.ID.String(),
		Target:    target,
		Workers:   r.Workers,
		OpenPorts: ports,
		StartTime: r.StartedAt,
		EndTime:   r.FinishedAt,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
	}, nil
}
