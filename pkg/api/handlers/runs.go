// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/goclaw/simnet/pkg/api/middleware"
	"github.com/goclaw/simnet/pkg/api/models"
	"github.com/goclaw/simnet/pkg/api/response"
	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/simulation"
	"github.com/goclaw/simnet/pkg/sorter"
	"github.com/goclaw/simnet/pkg/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 1000
	maxRequestBody   = 2 << 20
)

// RunService is what the run endpoints need from the simulation layer.
type RunService interface {
	Submit(ctx context.Context, req simulation.Request) (string, error)
	Cancel(runID string) error
	GetRun(ctx context.Context, id string) (*storage.RunState, error)
	ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunState, int, error)
	ListTrace(ctx context.Context, runID string, filter *storage.TraceFilter) ([]*storage.TraceEvent, error)
}

// RunDefaults fills the fields a submission leaves out.
type RunDefaults struct {
	Sorter sorter.Config
	Trace  bool
}

// RunHandler handles run-related endpoints.
type RunHandler struct {
	runs      RunService
	defaults  RunDefaults
	logger    logger.Logger
	validator *validator.Validate
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runs RunService, defaults RunDefaults, log logger.Logger) *RunHandler {
	if log == nil {
		log = logger.Global()
	}
	return &RunHandler{
		runs:      runs,
		defaults:  defaults,
		logger:    log,
		validator: validator.New(),
	}
}

// SubmitRun handles POST /api/v1/runs.
func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.SubmitRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", requestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(ctx))
		return
	}

	simReq, err := h.simulationRequest(&req)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(ctx))
		return
	}

	runID, err := h.runs.Submit(ctx, simReq)
	switch {
	case err == nil:
	case errors.Is(err, simulation.ErrInvalidRequest):
		response.Error(w, http.StatusUnprocessableEntity, response.ErrCodeValidationFailed, err.Error(), requestID(ctx))
		return
	case errors.Is(err, engine.ErrEngineShutdown):
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "Engine is shutting down", requestID(ctx))
		return
	default:
		h.logger.ErrorContext(ctx, "Failed to submit run", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to submit run", requestID(ctx))
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+runID)
	response.JSON(w, http.StatusAccepted, models.SubmitRunResponse{
		ID:      runID,
		Status:  engine.RunStatusPending,
		Message: "Run submitted",
	})
}

func (h *RunHandler) simulationRequest(req *models.SubmitRunRequest) (simulation.Request, error) {
	cfg := h.defaults.Sorter
	if len(req.Addresses) > 0 {
		cfg.Addresses = req.Addresses
	}
	if req.PayloadSize > 0 {
		cfg.PayloadSize = req.PayloadSize
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	if req.Depth > 0 {
		cfg.Depth = req.Depth
	}
	traced := h.defaults.Trace
	if req.Trace != nil {
		traced = *req.Trace
	}
	out := simulation.Request{
		Manifest: []byte(req.Manifest),
		Format:   req.Format,
		Sorter:   cfg,
		FanIn:    req.FanIn,
		Trace:    traced,
		Metadata: req.Metadata,
		FailFast: req.FailFast,
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			return simulation.Request{}, fmt.Errorf("invalid timeout %q", req.Timeout)
		}
		out.Timeout = &d
	}
	return out, nil
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		h.storageError(w, r, "Run not found", err)
		return
	}
	response.JSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/v1/runs.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := &storage.RunFilter{
		Limit:  queryInt(q.Get("limit"), defaultListLimit, maxListLimit),
		Offset: queryInt(q.Get("offset"), 0, -1),
	}
	for _, s := range q["status"] {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Status = append(filter.Status, part)
			}
		}
	}

	runs, total, err := h.runs.ListRuns(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list runs", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list runs", requestID(ctx))
		return
	}

	resp := models.RunListResponse{
		Runs:   make([]models.RunSummary, 0, len(runs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, models.NewRunSummary(run))
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetTrace handles GET /api/v1/runs/{id}/trace.
func (h *RunHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	q := r.URL.Query()

	if _, err := h.runs.GetRun(ctx, runID); err != nil {
		h.storageError(w, r, "Run not found", err)
		return
	}

	filter := &storage.TraceFilter{
		Signal: q.Get("signal"),
		Limit:  queryInt(q.Get("limit"), maxListLimit, maxListLimit),
		Offset: queryInt(q.Get("offset"), 0, -1),
	}
	events, err := h.runs.ListTrace(ctx, runID, filter)
	if err != nil {
		h.storageError(w, r, "Trace not found", err)
		return
	}
	response.JSON(w, http.StatusOK, models.NewTraceResponse(runID, events, filter.Limit, filter.Offset))
}

// CancelRun handles POST /api/v1/runs/{id}/cancel.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if err := h.runs.Cancel(runID); err != nil {
		var notActive *engine.RunNotActiveError
		if errors.As(err, &notActive) {
			response.Error(w, http.StatusConflict, response.ErrCodeConflict, err.Error(), requestID(ctx))
			return
		}
		h.logger.ErrorContext(ctx, "Failed to cancel run", "run_id", runID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to cancel run", requestID(ctx))
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"id":      runID,
		"message": "Run cancellation requested",
	})
}

func (h *RunHandler) storageError(w http.ResponseWriter, r *http.Request, notFound string, err error) {
	ctx := r.Context()
	var nf *storage.NotFoundError
	if errors.As(err, &nf) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, notFound, requestID(ctx))
		return
	}
	h.logger.ErrorContext(ctx, "Storage error", "path", r.URL.Path, "error", err)
	response.HandleError(w, err, requestID(ctx))
}

// queryInt parses a non-negative integer, falling back to def. A positive
// limit caps the result.
func queryInt(s string, def, limit int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

func requestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}
