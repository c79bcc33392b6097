package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/garnizeh/cftrack/pkg/models"
)

// StudentRepo is an in-memory repository.StudentRepo for tests. Stored values
// are deep-copied on the way in and out so callers cannot alias them.
type StudentRepo struct {
	mu       sync.Mutex
	students []models.Student

	GetErr  error
	ListErr error
	SaveErr error
	Saves   int
	Lookups []string
}

func NewStudentRepo(students ...models.Student) *StudentRepo {
	r := &StudentRepo{}
	for i, s := range students {
		if s.ID == 0 {
			s.ID = int64(i + 1)
		}
		r.students = append(r.students, clone(s))
	}
	return r
}

func (m *StudentRepo) GetByHandle(ctx context.Context, handle string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Lookups = append(m.Lookups, handle)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, s := range m.students {
		if s.Handle == handle {
			c := clone(s)
			return &c, nil
		}
	}
	return nil, nil
}

func (m *StudentRepo) ListStudents(ctx context.Context) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, clone(s))
	}
	return out, nil
}

func (m *StudentRepo) SaveSyncState(ctx context.Context, studentID int64, st *models.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	for i := range m.students {
		if m.students[i].ID == studentID {
			m.students[i].SyncState = cloneState(*st)
			m.Saves++
			return nil
		}
	}
	return nil
}

// Snapshot returns a copy of the stored student, or nil.
func (m *StudentRepo) Snapshot(handle string) *models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.students {
		if s.Handle == handle {
			c := clone(s)
			return &c
		}
	}
	return nil
}

// Count returns the number of stored students.
func (m *StudentRepo) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.students)
}

// ScheduleRepo is an in-memory repository.ScheduleRepo.
type ScheduleRepo struct {
	mu        sync.Mutex
	schedules map[string]models.SyncSchedule

	SaveErr error
}

func NewScheduleRepo() *ScheduleRepo {
	return &ScheduleRepo{schedules: map[string]models.SyncSchedule{}}
}

func (m *ScheduleRepo) GetSchedule(ctx context.Context, id string) (*models.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *ScheduleRepo) SaveSchedule(ctx context.Context, s *models.SyncSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.schedules[s.ID] = *s
	return nil
}

func clone(s models.Student) models.Student {
	s.SyncState = cloneState(s.SyncState)
	return s
}

func cloneState(st models.SyncState) models.SyncState {
	st.CurrentRating = clonePtr(st.CurrentRating)
	st.MaxRating = clonePtr(st.MaxRating)
	st.LastActivityDate = clonePtr(st.LastActivityDate)
	st.LastUpdated = clonePtr(st.LastUpdated)
	st.LastSynced = clonePtr(st.LastSynced)
	st.Contests = slices.Clone(st.Contests)
	st.SolvedProblems = slices.Clone(st.SolvedProblems)
	return st
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
