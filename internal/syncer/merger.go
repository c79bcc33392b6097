package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/cftrack/pkg/codeforces"
	"github.com/garnizeh/cftrack/pkg/models"
	"github.com/garnizeh/cftrack/pkg/repository"
)

// ErrUnknownHandle is returned by Merge when no student has the handle.
// Sync never creates students.
var ErrUnknownHandle = errors.New("unknown handle")

// Fetcher retrieves everything the merge needs for one handle.
type Fetcher interface {
	FetchUserData(ctx context.Context, handle string) (*codeforces.Bundle, error)
}

// Merger refreshes the synced fields of a stored student from a fresh fetch.
type Merger struct {
	repo    repository.StudentRepo
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewMerger(repo repository.StudentRepo, fetcher Fetcher, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{repo: repo, fetcher: fetcher, logger: logger, now: time.Now}
}

// Merge fetches handle's data and overwrites every synced field of the
// student in one write. A failed fetch returns before anything is written.
func (m *Merger) Merge(ctx context.Context, handle string) error {
	st, err := m.repo.GetByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("load student %q: %w", handle, err)
	}
	if st == nil {
		return ErrUnknownHandle
	}

	b, err := m.fetcher.FetchUserData(ctx, handle)
	if err != nil {
		return err
	}

	state := BuildState(b, m.now())
	if err := m.repo.SaveSyncState(ctx, st.ID, state); err != nil {
		return fmt.Errorf("save student %q: %w", handle, err)
	}

	m.logger.Debug("student merged",
		slog.String("handle", handle),
		slog.Int("contests", len(state.Contests)),
		slog.Int("solved", len(state.SolvedProblems)))
	return nil
}

// BuildState derives the complete synced state from a fetched bundle.
func BuildState(b *codeforces.Bundle, now time.Time) *models.SyncState {
	now = now.UTC().Truncate(time.Millisecond)
	updated, synced := now, now
	return &models.SyncState{
		CurrentRating:    b.User.Rating,
		MaxRating:        b.User.MaxRating,
		Contests:         ReconcileContests(b.RatingChanges, b.Submissions),
		SolvedProblems:   DedupSolved(b.Submissions),
		LastActivityDate: LastActivity(b.Submissions),
		LastUpdated:      &updated,
		LastSynced:       &synced,
	}
}
