// Package handler provides the HTTP handlers for the jobs API and health
// endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

// JobHandler exposes the job queue over HTTP.
type JobHandler struct {
	queue  core.QueueManager
	logger *slog.Logger
}

func NewJobHandler(queue core.QueueManager, logger *slog.Logger) *JobHandler {
	return &JobHandler{queue: queue, logger: logger}
}

type createJobRequest struct {
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Priority     string         `json:"priority,omitempty"`
	DelaySeconds int            `json:"delaySeconds,omitempty"`
	MaxAttempts  int            `json:"maxAttempts,omitempty"`
	JobID        string         `json:"jobId,omitempty"`
}

// Create enqueues a new job and answers 202 with the stored job. Thanks to
// idempotent enqueue a repeated jobId returns the existing job instead of a
// duplicate.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	opts := core.EnqueueOptions{
		MaxAttempts: req.MaxAttempts,
		JobID:       req.JobID,
		Delay:       time.Duration(req.DelaySeconds) * time.Second,
	}
	if req.Priority != "" {
		priority, err := core.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Priority = priority
	}

	job, err := h.queue.Enqueue(r.Context(), "", req.Type, req.Payload, opts)
	if err != nil {
		h.logger.Error("failed to enqueue job", "type", req.Type, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("job accepted", "job_id", job.ID, "type", job.Type)
	writeJSON(w, http.StatusAccepted, job)
}

// Get answers with the current state of one job.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.queue.GetJob(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List answers with a page of jobs, optionally filtered by queue and status.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var statuses []core.JobStatus
	if raw := q.Get("status"); raw != "" {
		statuses = append(statuses, core.JobStatus(raw))
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		offset = n
	}

	jobs, err := h.queue.ListJobs(r.Context(), q.Get("queue"), statuses, offset, limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"count":  len(jobs),
		"offset": offset,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
