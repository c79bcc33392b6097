package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garnizeh/cftrack/api"
	dbfs "github.com/garnizeh/cftrack/db"
	"github.com/garnizeh/cftrack/internal/config"
	"github.com/garnizeh/cftrack/internal/db"
	"github.com/garnizeh/cftrack/internal/jobs"
	sqlite "github.com/garnizeh/cftrack/internal/repository/sqlite"
	"github.com/garnizeh/cftrack/internal/schedule"
	"github.com/garnizeh/cftrack/internal/stats"
	"github.com/garnizeh/cftrack/internal/syncer"
	"github.com/garnizeh/cftrack/pkg/codeforces"
	"github.com/garnizeh/cftrack/pkg/models"
)

func codeforcesStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user.info":
			_, _ = w.Write([]byte(`{"status":"OK","result":[{"handle":"alice","rating":1500,"maxRating":1600}]}`))
		case "/user.rating":
			_, _ = w.Write([]byte(`{"status":"OK","result":[{"contestId":100,"contestName":"Div2 Round","rank":50,"ratingUpdateTimeSeconds":1700000000,"oldRating":1450,"newRating":1500}]}`))
		case "/user.status":
			_, _ = w.Write([]byte(`{"status":"OK","result":[
				{"contestId":100,"verdict":"OK","creationTimeSeconds":1699990000,"problem":{"contestId":100,"index":"A","name":"Sum It Up","rating":1200}},
				{"contestId":100,"verdict":"WRONG_ANSWER","creationTimeSeconds":1699980000,"problem":{"contestId":100,"index":"B","name":"Hard One","rating":1900}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

type stack struct {
	srv  *httptest.Server
	repo *sqlite.SQLiteRepo
	jobs *jobs.Repository
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	d, err := db.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		d.Close()
		t.Fatalf("migrate: %v", err)
	}
	repo := sqlite.New(d, nil)
	if _, err := repo.UpsertStudent(ctx, &models.Student{Handle: "alice", Name: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}

	cf := codeforcesStub(t)
	client, err := codeforces.NewClient(config.CodeforcesConfig{BaseURL: cf.URL, Timeout: 2 * time.Second, SubmissionCount: 10000}, cf.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	s := syncer.New(repo, client, nil, config.SyncConfig{StudentTimeout: 5 * time.Second}, nil)
	sched := schedule.NewController(repo, config.DefaultSyncSchedule, func(ctx context.Context) { _, _ = s.SyncAll(ctx) }, nil)
	jobRepo := jobs.NewRepository(d)
	pool := jobs.NewWorkerPool(jobRepo, map[string]jobs.Handler{jobs.TypeSyncStudent: jobs.SyncStudentHandler(s.Merger(), 5*time.Second)}, nil, 1)

	router := api.SetupRoutes(api.Deps{
		Version:     "test",
		BuildTime:   "now",
		Timeout:     5 * time.Second,
		Sync:        s,
		Schedule:    sched,
		Stats:       stats.NewService(repo),
		Jobs:        pool,
		MaxAttempts: 3,
		Health:      d.GetConn().PingContext,
	})
	srv := httptest.NewServer(router)

	pool.Start(ctx)
	t.Cleanup(func() {
		pool.Stop()
		srv.Close()
		_ = client.Close()
		cf.Close()
		d.Close()
	})
	return &stack{srv: srv, repo: repo, jobs: jobRepo}
}

func (s *stack) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := s.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestRoutes_SyncFlow(t *testing.T) {
	s := setupStack(t)

	res, body := s.do(t, http.MethodGet, "/v1/sync/cron-time", "")
	if res.StatusCode != http.StatusOK || body["cronTime"] != "Not Set" {
		t.Fatalf("cron-time before update: %d %v", res.StatusCode, body)
	}

	res, body = s.do(t, http.MethodPost, "/v1/sync/update-cron", `{"newCronTime":"*/30 * * * *"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update-cron: %d %v", res.StatusCode, body)
	}
	_, body = s.do(t, http.MethodGet, "/v1/sync/cron-time", "")
	if body["cronTime"] != "*/30 * * * *" {
		t.Fatalf("cron-time after update: %v", body)
	}

	res, body = s.do(t, http.MethodPost, "/v1/sync", "")
	if res.StatusCode != http.StatusOK || body["message"] != "Manual sync completed successfully." {
		t.Fatalf("manual sync: %d %v", res.StatusCode, body)
	}
	report, _ := body["report"].(map[string]any)
	if report["synced"] != float64(1) {
		t.Fatalf("unexpected report: %v", report)
	}

	st, err := s.repo.GetByHandle(context.Background(), "alice")
	if err != nil || st == nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if st.CurrentRating == nil || *st.CurrentRating != 1500 || len(st.Contests) != 1 || st.Contests[0].ProblemsUnsolved != 1 {
		t.Fatalf("unexpected synced state: %+v", st.SyncState)
	}
	if len(st.SolvedProblems) != 1 || st.SolvedProblems[0].ProblemID != "100-A" {
		t.Fatalf("unexpected solved problems: %+v", st.SolvedProblems)
	}

	res, body = s.do(t, http.MethodGet, "/v1/students/alice/progress", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d", res.StatusCode)
	}
	history, _ := body["ratingHistory"].([]any)
	if len(history) != 1 {
		t.Fatalf("unexpected rating history: %v", body)
	}

	_, body = s.do(t, http.MethodGet, "/v1/students/alice/contest-history?range=100000", "")
	contests, _ := body["contests"].([]any)
	if len(contests) != 1 {
		t.Fatalf("unexpected contest history: %v", body)
	}
	_, body = s.do(t, http.MethodGet, "/v1/students/alice/contest-history", "")
	if contests, _ := body["contests"].([]any); len(contests) != 0 {
		t.Fatalf("expected 2023 contest outside default range: %v", body)
	}

	res, body = s.do(t, http.MethodGet, "/v1/students/alice", "")
	if res.StatusCode != http.StatusOK || body["cfHandle"] != "alice" {
		t.Fatalf("get student: %d %v", res.StatusCode, body)
	}
}

func TestRoutes_StudentErrors(t *testing.T) {
	s := setupStack(t)

	res, body := s.do(t, http.MethodGet, "/v1/students/ghost/progress", "")
	if res.StatusCode != http.StatusNotFound || body["message"] != "Student not found" {
		t.Fatalf("expected 404 envelope, got %d %v", res.StatusCode, body)
	}

	res, _ = s.do(t, http.MethodGet, "/v1/students/alice/problem-solving-stats?range=abc", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", res.StatusCode)
	}

	res, _ = s.do(t, http.MethodPost, "/v1/students/ghost/sync", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when syncing unknown student, got %d", res.StatusCode)
	}

	res, body = s.do(t, http.MethodPost, "/v1/sync/update-cron", `{"newCronTime":"not cron"}`)
	if res.StatusCode != http.StatusBadRequest || body["message"] != "Invalid cron expression" {
		t.Fatalf("expected invalid cron, got %d %v", res.StatusCode, body)
	}
}

func TestRoutes_BackgroundStudentSync(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	res, body := s.do(t, http.MethodPost, "/v1/students/alice/sync", "")
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", res.StatusCode, body)
	}
	id, ok := body["jobId"].(float64)
	if !ok || id <= 0 {
		t.Fatalf("missing job id: %v", body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := s.jobs.Get(ctx, int64(id))
		if err != nil {
			t.Fatalf("Get job: %v", err)
		}
		if j != nil && j.Status == jobs.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not done in time: %+v", j)
		}
		time.Sleep(50 * time.Millisecond)
	}

	st, _ := s.repo.GetByHandle(ctx, "alice")
	if st.LastSynced == nil {
		t.Fatalf("expected background job to sync the student")
	}
}

func TestRoutes_System(t *testing.T) {
	s := setupStack(t)

	res, body := s.do(t, http.MethodGet, "/health", "")
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", res.StatusCode, body)
	}
	res, body = s.do(t, http.MethodGet, "/version", "")
	if res.StatusCode != http.StatusOK || body["version"] != "test" {
		t.Fatalf("version: %d %v", res.StatusCode, body)
	}
	res, _ = s.do(t, http.MethodOptions, "/v1/sync", "")
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected preflight status %d", res.StatusCode)
	}
}
