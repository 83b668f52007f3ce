// Package handlers provides HTTP request handlers for the stridescan API.
// This file implements scan submission, status lookup and stored history.
package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/stridescan/internal/api/middleware"
	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/services"
)

// ScanService runs and tracks scans.
type ScanService interface {
	Submit(target netip.Addr, workers int, source string) (*services.ScanSummary, error)
	Get(id string) (*services.ScanSummary, bool)
	List() []services.ScanSummary
	Subscribe(id string) (<-chan services.Event, func(), error)
}

// HistoryStore reads persisted scans.
type HistoryStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error)
	List(ctx context.Context, limit int) ([]*db.ScanRecord, error)
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	service        ScanService
	store          HistoryStore
	defaultWorkers int
	logger         *logging.Logger
}

// NewScanHandler creates a new scan handler. store may be nil when no
// database is configured.
func NewScanHandler(service ScanService, store HistoryStore, defaultWorkers int, logger *logging.Logger) *ScanHandler {
	return &ScanHandler{
		service:        service,
		store:          store,
		defaultWorkers: defaultWorkers,
		logger:         logger.WithFields("handler", "scan"),
	}
}

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Target  string `json:"target" validate:"required,ip"`
	Workers int    `json:"workers,omitempty" validate:"omitempty,min=1,max=65535"`
}

// ScanResponse represents a scan, live or stored.
type ScanResponse struct {
	ID          string     `json:"id"`
	Target      string     `json:"target"`
	Workers     int        `json:"workers"`
	Source      string     `json:"source,omitempty"`
	Status      string     `json:"status"`
	OpenPorts   []uint16   `json:"open_ports"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ScanListResponse wraps a list of scans.
type ScanListResponse struct {
	Scans []ScanResponse `json:"scans"`
	Count int            `json:"count"`
}

// CreateScan handles POST /api/v1/scans.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var req ScanRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	target, err := netip.ParseAddr(req.Target)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.ErrInvalidTarget(req.Target))
		return
	}
	workers := req.Workers
	if workers == 0 {
		workers = h.defaultWorkers
	}

	summary, err := h.service.Submit(target, workers, "api")
	if err != nil {
		h.logger.Warn("Failed to submit scan", "request_id", requestID, "target", req.Target, "error", err)
		writeError(w, r, statusForError(err), err)
		return
	}

	h.logger.Info("Scan submitted", "request_id", requestID, "scan_id", summary.ID, "target", summary.Target)
	w.Header().Set("Location", "/api/v1/scans/"+summary.ID)
	writeJSON(w, r, http.StatusAccepted, summaryToResponse(summary))
}

// ListScans handles GET /api/v1/scans, listing the scans held in memory.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	summaries := h.service.List()

	response := ScanListResponse{Scans: make([]ScanResponse, 0, len(summaries)), Count: len(summaries)}
	for i := range summaries {
		response.Scans = append(response.Scans, summaryToResponse(&summaries[i]))
	}
	writeJSON(w, r, http.StatusOK, response)
}

// GetScan handles GET /api/v1/scans/{id}. Scans no longer held in memory
// are looked up in the history store.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if summary, ok := h.service.Get(id.String()); ok {
		writeJSON(w, r, http.StatusOK, summaryToResponse(summary))
		return
	}

	if h.store == nil {
		writeError(w, r, http.StatusNotFound, errors.ErrNotFound(id.String()))
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.Error("Failed to load scan", "request_id", middleware.GetRequestID(r), "scan_id", id, "error", err)
		}
		writeError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordToResponse(rec))
}

// ListHistory handles GET /api/v1/history?limit=N.
func (h *ScanHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable,
			errors.NewScanError(errors.CodeConfiguration, "scan history requires a database"))
		return
	}

	limit, err := getQueryParamInt(r, "limit", db.DefaultListLimit)
	if err != nil || limit < 1 {
		writeError(w, r, http.StatusBadRequest,
			errors.NewScanError(errors.CodeValidation, "limit must be a positive integer"))
		return
	}

	records, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list scan history", "request_id", middleware.GetRequestID(r), "error", err)
		writeError(w, r, statusForError(err), err)
		return
	}

	response := ScanListResponse{Scans: make([]ScanResponse, 0, len(records)), Count: len(records)}
	for _, rec := range records {
		response.Scans = append(response.Scans, recordToResponse(rec))
	}
	writeJSON(w, r, http.StatusOK, response)
}

func summaryToResponse(s *services.ScanSummary) ScanResponse {
	submitted := s.SubmittedAt
	resp := ScanResponse{
		ID:          s.ID,
		Target:      s.Target,
		Workers:     s.Workers,
		Source:      s.Source,
		Status:      s.Status,
		OpenPorts:   []uint16{},
		SubmittedAt: &submitted,
		Error:       s.Error,
	}
	if s.Result != nil {
		start, end := s.Result.StartTime, s.Result.EndTime
		resp.OpenPorts = s.Result.OpenPorts
		resp.StartTime = &start
		resp.EndTime = &end
		resp.DurationMs = s.Result.Duration.Milliseconds()
	}
	return resp
}

func recordToResponse(rec *db.ScanRecord) ScanResponse {
	start, end := rec.StartedAt, rec.FinishedAt
	resp := ScanResponse{
		ID:         rec.ID.String(),
		Target:     rec.Target,
		Workers:    rec.Workers,
		Source:     "history",
		Status:     rec.Status,
		OpenPorts:  rec.OpenPorts,
		StartTime:  &start,
		EndTime:    &end,
		DurationMs: rec.DurationMs,
	}
	if resp.OpenPorts == nil {
		resp.OpenPorts = []uint16{}
	}
	return resp
}
