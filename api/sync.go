package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/garnizeh/cftrack/internal/schedule"
	"github.com/garnizeh/cftrack/internal/syncer"
)

// SyncRunner is satisfied by *syncer.Syncer.
type SyncRunner interface {
	SyncAll(ctx context.Context) (syncer.Report, error)
	SyncOne(ctx context.Context, handle string) syncer.Outcome
}

// ScheduleService is satisfied by *schedule.Controller.
type ScheduleService interface {
	Expression(ctx context.Context) (string, error)
	Update(ctx context.Context, expr string) error
	Next() time.Time
}

type SyncHandler struct {
	runner   SyncRunner
	schedule ScheduleService

	// Lifetime, when set, cancels running batches on shutdown.
	Lifetime context.Context
}

func NewSyncHandler(runner SyncRunner, sched ScheduleService) *SyncHandler {
	return &SyncHandler{runner: runner, schedule: sched}
}

type manualSyncResponse struct {
	Message string        `json:"message"`
	Report  syncer.Report `json:"report"`
}

// ManualSync runs a full batch and answers once it completed. The batch
// outlives the request; only Lifetime (process shutdown) interrupts it.
func (h *SyncHandler) ManualSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if h.Lifetime != nil {
		stop := context.AfterFunc(h.Lifetime, cancel)
		defer stop()
	}

	rep, err := h.runner.SyncAll(ctx)
	if err != nil {
		logger.Error("manual sync failed", slog.String("run_id", rep.RunID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Manual sync failed.", err)
		return
	}
	if rep.Locked {
		writeJSON(w, http.StatusConflict, errorResponse{
			Success: false,
			Message: "Another sync is already running.",
			Error:   map[string]any{"runId": rep.RunID},
		})
		return
	}
	writeJSON(w, http.StatusOK, manualSyncResponse{Message: "Manual sync completed successfully.", Report: rep})
}

type cronTimeResponse struct {
	CronTime string     `json:"cronTime"`
	NextRun  *time.Time `json:"nextRun,omitempty"`
}

func (h *SyncHandler) GetCronTime(w http.ResponseWriter, r *http.Request) {
	expr, err := h.schedule.Expression(r.Context())
	if err != nil {
		logger.Error("fetch cron time", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch cron time.", err)
		return
	}
	resp := cronTimeResponse{CronTime: expr}
	if next := h.schedule.Next(); !next.IsZero() {
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateCronRequest struct {
	NewCronTime string `json:"newCronTime"`
}

func (h *SyncHandler) UpdateCronTime(w http.ResponseWriter, r *http.Request) {
	var req updateCronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.NewCronTime) == "" {
		writeError(w, http.StatusBadRequest, "Cron time is required", nil)
		return
	}

	if err := h.schedule.Update(r.Context(), req.NewCronTime); err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			writeError(w, http.StatusBadRequest, "Invalid cron expression", nil)
			return
		}
		logger.Error("update cron time", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "Failed to update cron time.", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Cron time updated successfully."})
}
