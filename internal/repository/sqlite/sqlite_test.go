package sqlite_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	dbfs "github.com/garnizeh/cftrack/db"
	dbpkg "github.com/garnizeh/cftrack/internal/db"
	sqlite "github.com/garnizeh/cftrack/internal/repository/sqlite"
	"github.com/garnizeh/cftrack/pkg/models"
)

func setupRepo(t *testing.T) (*sqlite.SQLiteRepo, func()) {
	t.Helper()
	ctx := context.Background()
	d, err := dbpkg.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	if err := dbpkg.Migrate(ctx, d, dbfs.Migrations); err != nil {
		d.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := sqlite.New(d, nil)
	return repo, func() { d.Close() }
}

func ms(sec int64) time.Time {
	return time.UnixMilli(sec * 1000).UTC()
}

func intp(v int) *int { return &v }

func TestStudentUpsertAndGet(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := repo.UpsertStudent(ctx, nil); err == nil {
		t.Fatalf("expected error when upserting nil student")
	}
	if _, err := repo.UpsertStudent(ctx, &models.Student{Name: "x"}); err == nil {
		t.Fatalf("expected error when handle is empty")
	}

	// Non-existing handle should return nil, nil
	got, err := repo.GetByHandle(ctx, "nobody")
	if err != nil {
		t.Fatalf("expected no error when getting unknown handle: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown handle, got %#v", got)
	}

	s := &models.Student{Handle: "alice", Name: "Alice", Email: "alice@example.com", Phone: "123", AutoReminderEnabled: true}
	id, err := repo.UpsertStudent(ctx, s)
	if err != nil {
		t.Fatalf("UpsertStudent error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	got, err = repo.GetByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByHandle error: %v", err)
	}
	if got == nil || got.ID != id || got.Email != s.Email || !got.AutoReminderEnabled {
		t.Fatalf("GetByHandle wrong result: %#v", got)
	}
	if got.CurrentRating != nil || got.LastSynced != nil || len(got.Contests) != 0 || len(got.SolvedProblems) != 0 {
		t.Fatalf("expected empty synced state for a new student, got %#v", got.SyncState)
	}

	// second upsert with the same handle updates contact fields in place
	s.Name = "Alice B."
	id2, err := repo.UpsertStudent(ctx, s)
	if err != nil {
		t.Fatalf("second UpsertStudent error: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected same id on upsert, got %d want %d", id2, id)
	}
	got, _ = repo.GetByHandle(ctx, "alice")
	if got.Name != "Alice B." {
		t.Fatalf("expected updated name, got %q", got.Name)
	}
}

func TestSaveSyncState_ReplacesWholesale(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	id, err := repo.UpsertStudent(ctx, &models.Student{Handle: "bob", Name: "Bob", Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}

	synced := ms(1700000500)
	first := &models.SyncState{
		CurrentRating: intp(1500),
		MaxRating:     intp(1600),
		Contests: []models.ContestRecord{
			{ContestID: 100, ContestName: "Div2 Round", ContestDate: ms(1700000000), Rank: 50, OldRating: 1450, NewRating: 1500, ProblemsUnsolved: 1},
			{ContestID: 101, ContestName: "Div3 Round", ContestDate: ms(1700100000), Rank: 12, OldRating: 1500, NewRating: 1550},
		},
		SolvedProblems: []models.SolvedProblem{
			{ProblemID: "100-A", ProblemName: "Sum It Up", Rating: 1200, SolvedDate: ms(1699990000)},
			{ProblemID: "99-C", ProblemName: "Old One", SolvedDate: ms(1690000000)},
		},
		LastActivityDate: &synced,
		LastUpdated:      &synced,
		LastSynced:       &synced,
	}
	if err := repo.SaveSyncState(ctx, id, first); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	got, err := repo.GetByHandle(ctx, "bob")
	if err != nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if !reflect.DeepEqual(got.SyncState, *first) {
		t.Fatalf("sync state mismatch:\n got %#v\nwant %#v", got.SyncState, *first)
	}

	second := &models.SyncState{
		CurrentRating:  intp(1550),
		MaxRating:      intp(1600),
		Contests:       []models.ContestRecord{first.Contests[1]},
		SolvedProblems: []models.SolvedProblem{},
		LastUpdated:    &synced,
		LastSynced:     &synced,
	}
	if err := repo.SaveSyncState(ctx, id, second); err != nil {
		t.Fatalf("second SaveSyncState: %v", err)
	}

	got, _ = repo.GetByHandle(ctx, "bob")
	if len(got.Contests) != 1 || got.Contests[0].ContestID != 101 {
		t.Fatalf("expected contests replaced, got %#v", got.Contests)
	}
	if len(got.SolvedProblems) != 0 {
		t.Fatalf("expected solved problems cleared, got %#v", got.SolvedProblems)
	}
	if got.LastActivityDate != nil {
		t.Fatalf("expected last activity cleared, got %v", got.LastActivityDate)
	}
	if got.CurrentRating == nil || *got.CurrentRating != 1550 {
		t.Fatalf("unexpected current rating: %v", got.CurrentRating)
	}
}

func TestSaveSyncState_Failures(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.SaveSyncState(ctx, 1, nil); err == nil {
		t.Fatalf("expected error for nil state")
	}

	err := repo.SaveSyncState(ctx, 4242, &models.SyncState{CurrentRating: intp(1)})
	if !errors.Is(err, sqlite.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}

	// duplicate problem ids violate the unique constraint; the whole write must roll back
	id, _ := repo.UpsertStudent(ctx, &models.Student{Handle: "carol", Name: "Carol", Email: "carol@example.com"})
	dup := &models.SyncState{
		CurrentRating: intp(900),
		SolvedProblems: []models.SolvedProblem{
			{ProblemID: "1-A", SolvedDate: ms(1)},
			{ProblemID: "1-A", SolvedDate: ms(2)},
		},
	}
	if err := repo.SaveSyncState(ctx, id, dup); err == nil {
		t.Fatalf("expected unique violation")
	}
	got, _ := repo.GetByHandle(ctx, "carol")
	if got.CurrentRating != nil || len(got.SolvedProblems) != 0 {
		t.Fatalf("expected rollback to leave student untouched, got %#v", got.SyncState)
	}
}

func TestListStudents_InsertionOrder(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	empty, err := repo.ListStudents(ctx)
	if err != nil {
		t.Fatalf("ListStudents on empty db: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no students, got %d", len(empty))
	}

	for _, h := range []string{"zed", "amy", "kim"} {
		if _, err := repo.UpsertStudent(ctx, &models.Student{Handle: h, Name: h, Email: h + "@example.com"}); err != nil {
			t.Fatalf("UpsertStudent %s: %v", h, err)
		}
	}
	id, _ := repo.UpsertStudent(ctx, &models.Student{Handle: "amy", Name: "amy", Email: "amy@example.com"})
	if err := repo.SaveSyncState(ctx, id, &models.SyncState{Contests: []models.ContestRecord{{ContestID: 5, ContestDate: ms(10)}}}); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	list, err := repo.ListStudents(ctx)
	if err != nil {
		t.Fatalf("ListStudents: %v", err)
	}
	var handles []string
	for _, s := range list {
		handles = append(handles, s.Handle)
	}
	if !reflect.DeepEqual(handles, []string{"zed", "amy", "kim"}) {
		t.Fatalf("unexpected order: %v", handles)
	}
	if len(list[1].Contests) != 1 {
		t.Fatalf("expected contests loaded for listed students, got %#v", list[1].Contests)
	}
}

func TestSchedule(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	got, err := repo.GetSchedule(ctx, "syncSettings")
	if err != nil {
		t.Fatalf("GetSchedule on empty table: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil schedule, got %#v", got)
	}

	if err := repo.SaveSchedule(ctx, nil); err == nil {
		t.Fatalf("expected error when saving nil schedule")
	}

	for _, expr := range []string{"0 0 * * *", "*/5 * * * *"} {
		if err := repo.SaveSchedule(ctx, &models.SyncSchedule{ID: "syncSettings", CronTime: expr}); err != nil {
			t.Fatalf("SaveSchedule %q: %v", expr, err)
		}
	}

	got, err = repo.GetSchedule(ctx, "syncSettings")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got == nil || got.CronTime != "*/5 * * * *" || got.Updated == 0 {
		t.Fatalf("unexpected schedule: %#v", got)
	}
}
