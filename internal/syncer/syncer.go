package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/cftrack/internal/config"
	"github.com/garnizeh/cftrack/pkg/repository"
)

// Locker guards a batch run across processes. acquired is false when another
// holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

type Status string

const (
	StatusSynced  Status = "synced"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of syncing one handle.
type Outcome struct {
	Handle string `json:"handle"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes one SyncAll run. Locked is set when the run was skipped
// because another batch held the lock.
type Report struct {
	RunID    string    `json:"runId"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Total    int       `json:"total"`
	Synced   int       `json:"synced"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Locked   bool      `json:"locked,omitempty"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Syncer runs the merge for one student or for every stored student.
type Syncer struct {
	repo   repository.StudentRepo
	merger *Merger
	locker Locker
	cfg    config.SyncConfig
	logger *slog.Logger
}

// New builds a Syncer. locker may be nil, in which case batches are not
// guarded.
func New(repo repository.StudentRepo, fetcher Fetcher, locker Locker, cfg config.SyncConfig, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:   repo,
		merger: NewMerger(repo, fetcher, logger),
		locker: locker,
		cfg:    cfg,
		logger: logger,
	}
}

// Merger exposes the underlying merger for callers that need its errors,
// such as the background job handler.
func (s *Syncer) Merger() *Merger { return s.merger }

// SyncOne merges a single handle. Errors are logged and reported in the
// outcome, never returned, so one bad handle cannot abort a batch.
func (s *Syncer) SyncOne(ctx context.Context, handle string) Outcome {
	return s.syncOne(ctx, s.logger, handle)
}

func (s *Syncer) syncOne(ctx context.Context, logger *slog.Logger, handle string) Outcome {
	if s.cfg.StudentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StudentTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.merger.Merge(ctx, handle)
	switch {
	case err == nil:
		logger.Info("student synced", slog.String("handle", handle), slog.Duration("took", time.Since(start)))
		return Outcome{Handle: handle, Status: StatusSynced}
	case errors.Is(err, ErrUnknownHandle):
		logger.Debug("sync skipped: unknown handle", slog.String("handle", handle))
		return Outcome{Handle: handle, Status: StatusSkipped}
	default:
		logger.Warn("student sync failed", slog.String("handle", handle), slog.String("error", err.Error()))
		return Outcome{Handle: handle, Status: StatusFailed, Error: err.Error()}
	}
}

// SyncAll syncs every stored student, one after another, in storage order.
// It only returns an error when the student list cannot be read or ctx is
// done; per-student failures are counted in the report.
func (s *Syncer) SyncAll(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
	logger := s.logger.With(slog.String("run_id", rep.RunID))

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			// a lock backend outage must not stop the sync itself
			logger.Warn("batch lock unavailable, running unguarded", slog.String("error", err.Error()))
		case !acquired:
			rep.Locked = true
			rep.Finished = time.Now().UTC()
			logger.Info("sync batch skipped: another run holds the lock", slog.String("key", s.cfg.LockKey))
			return rep, nil
		default:
			defer func() {
				// release even if ctx was canceled mid-batch
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("batch lock release failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return rep, fmt.Errorf("list students: %w", err)
	}
	rep.Total = len(students)
	logger.Info("sync batch started", slog.Int("students", rep.Total))

	for _, st := range students {
		if err := ctx.Err(); err != nil {
			rep.Finished = time.Now().UTC()
			logger.Warn("sync batch interrupted", slog.Int("done", len(rep.Outcomes)), slog.Int("students", rep.Total))
			return rep, err
		}

		out := s.syncOne(ctx, logger, st.Handle)
		rep.Outcomes = append(rep.Outcomes, out)
		switch out.Status {
		case StatusSynced:
			rep.Synced++
		case StatusSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}

	rep.Finished = time.Now().UTC()
	logger.Info("sync batch completed",
		slog.Int("synced", rep.Synced),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
		slog.Duration("took", rep.Finished.Sub(rep.Started)))
	return rep, nil
}
