package repository

import (
	"context"

	"github.com/garnizeh/cftrack/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

// StudentRepo is the storage the sync pipeline needs. Lookups return
// (nil, nil) when nothing matches.
type StudentRepo interface {
	GetByHandle(ctx context.Context, handle string) (*models.Student, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	// SaveSyncState replaces every synced field of the student atomically.
	SaveSyncState(ctx context.Context, studentID int64, st *models.SyncState) error
}

// StudentWriter covers the roster import; full CRUD lives elsewhere.
type StudentWriter interface {
	UpsertStudent(ctx context.Context, s *models.Student) (int64, error)
}

type ScheduleRepo interface {
	GetSchedule(ctx context.Context, id string) (*models.SyncSchedule, error)
	SaveSchedule(ctx context.Context, s *models.SyncSchedule) error
}
