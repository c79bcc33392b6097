// Package schedule owns the recurring sync job. The active cron expression
// is persisted under a fixed id and at most one job is armed at any time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/garnizeh/cftrack/pkg/models"
	"github.com/garnizeh/cftrack/pkg/repository"
)

const (
	// SettingsID is the key of the persisted schedule record.
	SettingsID = "syncSettings"
	// NotSet is reported by Expression while no schedule was ever stored.
	NotSet = "Not Set"
)

var ErrInvalidSchedule = errors.New("invalid cron expression")

// Validate reports whether expr is a standard five-field cron expression or
// a descriptor such as @daily.
func Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

type Controller struct {
	repo        repository.ScheduleRepo
	defaultExpr string
	run         func(ctx context.Context)
	logger      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	armed   bool
	expr    string
	runCtx  context.Context
	started bool
	// a replaced entry has its own skip chain, so overlap is also guarded here
	running atomic.Bool
}

// NewController builds a controller that calls run on every tick.
// defaultExpr is armed while nothing is persisted.
func NewController(repo repository.ScheduleRepo, defaultExpr string, run func(ctx context.Context), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{l: logger}
	return &Controller{
		repo:        repo,
		defaultExpr: defaultExpr,
		run:         run,
		logger:      logger,
		runCtx:      context.Background(),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start arms the persisted schedule, or the default one when nothing is
// stored, and starts the scheduler. Ticks run with ctx, so canceling it
// interrupts an in-flight batch.
func (c *Controller) Start(ctx context.Context) error {
	expr := c.defaultExpr
	saved, err := c.repo.GetSchedule(ctx, SettingsID)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if saved != nil {
		if verr := Validate(saved.CronTime); verr != nil {
			c.logger.Warn("persisted schedule is invalid, using default", slog.String("cron", saved.CronTime), slog.String("default", expr))
		} else {
			expr = saved.CronTime
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.runCtx = ctx
	if err := c.arm(expr); err != nil {
		return err
	}
	if !c.started {
		c.cron.Start()
		c.started = true
	}
	c.logger.Info("sync schedule started", slog.String("cron", expr), slog.Time("next", c.nextLocked()))
	return nil
}

// Expression returns the persisted schedule, or NotSet.
func (c *Controller) Expression(ctx context.Context) (string, error) {
	saved, err := c.repo.GetSchedule(ctx, SettingsID)
	if err != nil {
		return "", fmt.Errorf("load schedule: %w", err)
	}
	if saved == nil {
		return NotSet, nil
	}
	return saved.CronTime, nil
}

// Update validates expr, persists it and replaces the armed job. Nothing
// changes when validation or persistence fails. Re-submitting the current
// expression re-arms it.
func (c *Controller) Update(ctx context.Context, expr string) error {
	expr = strings.TrimSpace(expr)
	if err := Validate(expr); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.SaveSchedule(ctx, &models.SyncSchedule{ID: SettingsID, CronTime: expr}); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	if err := c.arm(expr); err != nil {
		return err
	}
	c.logger.Info("sync schedule updated", slog.String("cron", expr), slog.Time("next", c.nextLocked()))
	return nil
}

// arm swaps the armed entry for one bound to expr. c.mu must be held.
func (c *Controller) arm(expr string) error {
	id, err := c.cron.AddFunc(expr, c.tick)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if c.armed {
		c.cron.Remove(c.entry)
	}
	c.entry = id
	c.armed = true
	c.expr = expr
	return nil
}

func (c *Controller) tick() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("sync tick skipped: previous run still active")
		return
	}
	defer c.running.Store(false)
	c.run(ctx)
}

// Effective returns the expression currently armed, which is the default
// one until an update or a persisted schedule replaces it.
func (c *Controller) Effective() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expr
}

// ArmedJobs returns how many recurring jobs are registered.
func (c *Controller) ArmedJobs() int {
	return len(c.cron.Entries())
}

// Next returns the next activation time, or zero when nothing is armed or
// the scheduler is not running.
func (c *Controller) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextLocked()
}

func (c *Controller) nextLocked() time.Time {
	if !c.armed {
		return time.Time{}
	}
	return c.cron.Entry(c.entry).Next
}

// Stop halts the scheduler and waits for a running tick to return or ctx to
// expire.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return nil
	}

	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
