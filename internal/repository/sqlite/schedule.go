package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/cftrack/pkg/models"
)

func (r *SQLiteRepo) GetSchedule(ctx context.Context, id string) (*models.SyncSchedule, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, cron_time, updated FROM sync_settings WHERE id = ?`, id)
	var s models.SyncSchedule
	if err := row.Scan(&s.ID, &s.CronTime, &s.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule %q: %w", id, err)
	}
	return &s, nil
}

func (r *SQLiteRepo) SaveSchedule(ctx context.Context, s *models.SyncSchedule) error {
	if s == nil {
		return fmt.Errorf("schedule is nil")
	}

	s.Updated = now()
	_, err := r.conn.Exec(ctx, `INSERT INTO sync_settings (id, cron_time, updated) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET cron_time = excluded.cron_time, updated = excluded.updated`, s.ID, s.CronTime, s.Updated)
	if err != nil {
		return fmt.Errorf("save schedule %q: %w", s.ID, err)
	}
	return nil
}
