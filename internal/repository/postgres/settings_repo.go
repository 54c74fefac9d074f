package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mkarpenko/cf-progress/internal/model"
)

// Scheduler defaults used until an admin stores their own settings.
const (
	DefaultCronSchedule = "0 2 * * *"
	DefaultCronTimezone = "Etc/UTC"
)

// SettingsRepo implements SettingsRepository using a singleton row.
type SettingsRepo struct{ db *DB }

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// Get returns stored settings, or defaults when none are stored yet.
func (r *SettingsRepo) Get(ctx context.Context) (model.Settings, error) {
	const q = `SELECT cron_schedule, cron_timezone, updated_at FROM settings WHERE id = TRUE`
	var s model.Settings
	err := r.db.Pool.QueryRow(ctx, q).Scan(&s.CronSchedule, &s.CronTimezone, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Settings{CronSchedule: DefaultCronSchedule, CronTimezone: DefaultCronTimezone}, nil
	}
	if err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// Update upserts the singleton settings row.
func (r *SettingsRepo) Update(ctx context.Context, s model.Settings) error {
	const q = `
INSERT INTO settings (id, cron_schedule, cron_timezone, updated_at)
VALUES (TRUE, $1, $2, now())
ON CONFLICT (id)
DO UPDATE SET cron_schedule=$1, cron_timezone=$2, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, s.CronSchedule, s.CronTimezone)
	return err
}
