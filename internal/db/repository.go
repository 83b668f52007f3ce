package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
)

const (
	// DefaultListLimit caps List when no limit is given.
	DefaultListLimit = 50
	maxListLimit     = 1000
)

// QueryRecorder receives per-query telemetry.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
}

// ScanRepository handles scan result persistence.
type ScanRepository struct {
	db      *DB
	metrics QueryRecorder
}

// NewScanRepository creates a new scan repository. metrics may be nil.
func NewScanRepository(db *DB, metrics QueryRecorder) *ScanRepository {
	return &ScanRepository{db: db, metrics: metrics}
}

func (r *ScanRepository) observe(operation string, start time.Time, err error) {
	if r.metrics != nil {
		r.metrics.RecordDatabaseQuery(operation, time.Since(start), err == nil)
	}
}

// Create inserts the scan row and its open ports in one transaction.
func (r *ScanRepository) Create(ctx context.Context, rec *ScanRecord) (err error) {
	start := time.Now()
	defer func() { r.observe("create_scan", start, err) }()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = ScanStatusCompleted
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin create scan", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO scans (id, target, workers, status, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	if err = tx.QueryRowxContext(ctx, query,
		rec.ID, rec.Target, rec.Workers, rec.Status,
		rec.StartedAt, rec.FinishedAt, rec.DurationMs,
	).Scan(&rec.CreatedAt); err != nil {
		return sanitizeDBError("create scan", err)
	}

	if len(rec.OpenPorts) > 0 {
		ports := make([]int64, len(rec.OpenPorts))
		for i, p := range rec.OpenPorts {
			ports[i] = int64(p)
		}
		portsQuery := `INSERT INTO open_ports (scan_id, port) SELECT $1, unnest($2::int[])`
		if _, err = tx.ExecContext(ctx, portsQuery, rec.ID, pq.Array(ports)); err != nil {
			return sanitizeDBError("create open ports", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return sanitizeDBError("commit create scan", err)
	}

	logging.InfoDatabase("Stored scan", "scan_id", rec.ID, "open_ports", len(rec.OpenPorts))
	return nil
}

// Get returns one scan with its open ports.
func (r *ScanRepository) Get(ctx context.Context, id uuid.UUID) (rec *ScanRecord, err error) {
	start := time.Now()
	defer func() { r.observe("get_scan", start, err) }()

	var record ScanRecord
	query := `
		SELECT id, host(target) AS target, workers, status, started_at, finished_at, duration_ms, created_at
		FROM scans
		WHERE id = $1`

	if err = r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}

	var ports []int
	portsQuery := `SELECT port FROM open_ports WHERE scan_id = $1 ORDER BY port`
	if err = r.db.SelectContext(ctx, &ports, portsQuery, id); err != nil {
		return nil, sanitizeDBError("get open ports", err)
	}

	record.OpenPorts = make([]uint16, len(ports))
	for i, p := range ports {
		record.OpenPorts[i] = uint16(p)
	}
	return &record, nil
}

// List returns the most recent scans, newest first, with their open ports.
func (r *ScanRepository) List(ctx context.Context, limit int) (recs []*ScanRecord, err error) {
	start := time.Now()
	defer func() { r.observe("list_scans", start, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		return nil, errors.NewDatabaseError(errors.CodeValidation, "limit too large")
	}

	query := `
		SELECT id, host(target) AS target, workers, status, started_at, finished_at, duration_ms, created_at
		FROM scans
		ORDER BY started_at DESC
		LIMIT $1`

	var records []*ScanRecord
	if err = r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, sanitizeDBError("list scans", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]string, len(records))
	byID := make(map[uuid.UUID]*ScanRecord, len(records))
	for i, rec := range records {
		ids[i] = rec.ID.String()
		rec.OpenPorts = []uint16{}
		byID[rec.ID] = rec
	}

	var rows []struct {
		ScanID uuid.UUID `db:"scan_id"`
		Port   int       `db:"port"`
	}
	portsQuery := `SELECT scan_id, port FROM open_ports WHERE scan_id = ANY($1::uuid[]) ORDER BY scan_id, port`
	if err = r.db.SelectContext(ctx, &rows, portsQuery, pq.Array(ids)); err != nil {
		return nil, sanitizeDBError("list open ports", err)
	}

	for _, row := range rows {
		if rec, ok := byID[row.ScanID]; ok {
			rec.OpenPorts = append(rec.OpenPorts, uint16(row.Port))
		}
	}
	return records, nil
}
