package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/gorilla/mux"

	"github.com/garnizeh/cftrack/internal/jobs"
	"github.com/garnizeh/cftrack/internal/stats"
	"github.com/garnizeh/cftrack/pkg/models"
)

// StatsService is satisfied by *stats.Service.
type StatsService interface {
	Student(ctx context.Context, handle string) (*models.Student, error)
	ProblemStats(ctx context.Context, handle string, days int) (stats.ProblemStats, error)
	ContestHistory(ctx context.Context, handle string, days int) ([]models.ContestRecord, error)
	Progress(ctx context.Context, handle string) (stats.Progress, error)
}

// JobEnqueuer is satisfied by *jobs.WorkerPool.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error)
}

type StudentsHandler struct {
	stats       StatsService
	jobs        JobEnqueuer
	runner      SyncRunner
	maxAttempts int
}

// NewStudentsHandler wires the per-student endpoints. When jobs is nil a
// student sync runs inline instead of in the background.
func NewStudentsHandler(st StatsService, jq JobEnqueuer, runner SyncRunner, maxAttempts int) *StudentsHandler {
	return &StudentsHandler{stats: st, jobs: jq, runner: runner, maxAttempts: maxAttempts}
}

// rangeParam reads ?range as a positive number of days; absent means 0 so
// the stats package applies its default.
func rangeParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("range")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (h *StudentsHandler) fail(w http.ResponseWriter, handle string, err error) {
	if errors.Is(err, stats.ErrStudentNotFound) {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}
	logger.Error("student lookup", slog.String("handle", handle), slog.Any("err", err))
	writeError(w, http.StatusInternalServerError, "Server error", err)
}

func (h *StudentsHandler) GetStudent(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	st, err := h.stats.Student(r.Context(), handle)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StudentsHandler) ProblemSolvingStats(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	days, ok := rangeParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "range must be a positive number of days", nil)
		return
	}
	ps, err := h.stats.ProblemStats(r.Context(), handle, days)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

type contestHistoryResponse struct {
	Contests []models.ContestRecord `json:"contests"`
}

func (h *StudentsHandler) ContestHistory(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	days, ok := rangeParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "range must be a positive number of days", nil)
		return
	}
	cs, err := h.stats.ContestHistory(r.Context(), handle, days)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	writeJSON(w, http.StatusOK, contestHistoryResponse{Contests: cs})
}

func (h *StudentsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	p, err := h.stats.Progress(r.Context(), handle)
	if err != nil {
		h.fail(w, handle, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type enqueueResponse struct {
	JobID  int64  `json:"jobId"`
	Handle string `json:"handle"`
}

// SyncStudent queues a background re-sync of one student.
func (h *StudentsHandler) SyncStudent(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	if _, err := h.stats.Student(r.Context(), handle); err != nil {
		h.fail(w, handle, err)
		return
	}

	if h.jobs == nil {
		writeJSON(w, http.StatusOK, h.runner.SyncOne(r.Context(), handle))
		return
	}

	id, err := h.jobs.Enqueue(r.Context(), jobs.TypeSyncStudent, jobs.SyncStudentPayload{Handle: handle}, 0, h.maxAttempts)
	if err != nil {
		logger.Error("enqueue student sync", slog.String("handle", handle), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to queue sync.", err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id, Handle: handle})
}
