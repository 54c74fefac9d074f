package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/mkarpenko/cf-progress/internal/model"
)

func TestSettingsRepo_Get_DefaultsWhenEmpty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)

	mock.ExpectQuery(`SELECT cron_schedule, cron_timezone, updated_at FROM settings`).
		WillReturnError(pgx.ErrNoRows)

	s, err := r.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, DefaultCronSchedule, s.CronSchedule)
	require.Equal(t, DefaultCronTimezone, s.CronTimezone)
}

func TestSettingsRepo_Get_Stored(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)

	mock.ExpectQuery(`SELECT cron_schedule, cron_timezone, updated_at FROM settings`).
		WillReturnRows(pgxmock.NewRows([]string{"cron_schedule", "cron_timezone", "updated_at"}).
			AddRow("30 4 * * *", "Asia/Kolkata", time.Now()))

	s, err := r.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "30 4 * * *", s.CronSchedule)
	require.Equal(t, "Asia/Kolkata", s.CronTimezone)
}

func TestSettingsRepo_Update_Upserts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("30 4 * * *", "Asia/Kolkata").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := r.Update(context.Background(), model.Settings{
		CronSchedule: "30 4 * * *",
		CronTimezone: "Asia/Kolkata",
	})
	require.NoError(t, err)
}
