package api

import (
	"context"
	"time"

	"github.com/gorilla/mux"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Version     string
	BuildTime   string
	Timeout     time.Duration
	Sync        SyncRunner
	Schedule    ScheduleService
	Stats       StatsService
	Jobs        JobEnqueuer
	MaxAttempts int
	Health      func(ctx context.Context) error

	// Lifetime bounds work that outlives a request, such as a manual sync.
	Lifetime context.Context
}

func SetupRoutes(d Deps) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	systemHandler := &SystemHandler{Check: d.Health}
	syncHandler := NewSyncHandler(d.Sync, d.Schedule)
	syncHandler.Lifetime = d.Lifetime
	studentsHandler := NewStudentsHandler(d.Stats, d.Jobs, d.Sync, d.MaxAttempts)

	r.HandleFunc("/version", systemHandler.VersionHandler(d.Version, d.BuildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")

	apiV1 := r.PathPrefix("/v1").Subrouter()

	// Sync endpoints
	apiV1.HandleFunc("/sync", syncHandler.ManualSync).Methods("POST")
	apiV1.HandleFunc("/sync/cron-time", syncHandler.GetCronTime).Methods("GET")
	apiV1.HandleFunc("/sync/update-cron", syncHandler.UpdateCronTime).Methods("POST")
	apiV1.HandleFunc("/students/{handle}/sync", studentsHandler.SyncStudent).Methods("POST")

	// Read-only student views
	students := apiV1.PathPrefix("/students/{handle}").Methods("GET").Subrouter()
	students.Use(TimeoutMiddleware(d.Timeout))
	students.HandleFunc("", studentsHandler.GetStudent)
	students.HandleFunc("/problem-solving-stats", studentsHandler.ProblemSolvingStats)
	students.HandleFunc("/contest-history", studentsHandler.ContestHistory)
	students.HandleFunc("/progress", studentsHandler.Progress)

	return r
}
