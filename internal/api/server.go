// Package api exposes the job submission surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"farm-jobs/internal/jobs"
	"farm-jobs/internal/models"
	"farm-jobs/internal/queue"
	"farm-jobs/internal/telemetry"
)

// Server wires HTTP handlers for the producer API.
type Server struct {
	jobs *jobs.Submitter
	log  *slog.Logger
}

// New constructs the API server.
func New(submitter *jobs.Submitter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: submitter, log: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users/{userID}/jobs/{kind}", s.handleEnqueue)
		r.Delete("/users/{userID}/jobs/{kind}", s.handleCancelSchedule)
		r.Get("/jobs/{kind}/{id}", s.handleGetJob)
		r.Delete("/jobs/{kind}/{id}", s.handleCancelJob)
		r.Get("/queues/{kind}/schedules", s.handleSchedules)
		r.Get("/queues/{kind}/failed", s.handleFailed)
		r.Get("/queues/{kind}/runs", s.handleRuns)
	})
	return r
}

type enqueueRequest struct {
	Repeat string `json:"repeat"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sched := models.OneShot()
	if req.Repeat != "" {
		sched = models.Repeating(req.Repeat)
	}

	sub, err := s.jobs.Enqueue(r.Context(), kind, chi.URLParam(r, "userID"), sched)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	code := http.StatusAccepted
	if sched.IsRepeating() && !sub.Created {
		code = http.StatusOK
	}
	writeJSON(w, code, sub)
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	if err := s.jobs.CancelScheduled(r.Context(), chi.URLParam(r, "userID"), kind); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Job(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	if err := s.jobs.CancelJob(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	items, err := s.jobs.Schedules(r.Context(), kind)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleFailed returns the newest dead-lettered jobs.
func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	items, err := s.jobs.Failed(r.Context(), kind, int64(limitParam(r, 100)))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindParam(w, r)
	if !ok {
		return
	}
	items, err := s.jobs.Runs(r.Context(), kind, limitParam(r, 50))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) kindParam(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func limitParam(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 1000 {
		return n
	}
	return def
}

// writeErr maps domain errors onto status codes.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrMissingUser), errors.Is(err, queue.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrUnknownKind), errors.Is(err, queue.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrLedgerDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.log.Error("api request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
