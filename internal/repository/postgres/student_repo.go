package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
)

// StudentRepo implements StudentRepository using PostgreSQL.
//
// Contest and submission collections are rebuilt wholesale inside a
// transaction rather than mutated row-by-row: the engine's checkpoints are
// explicit replace operations.
type StudentRepo struct{ db *DB }

// NewStudentRepo constructs a student repository.
func NewStudentRepo(db *DB) *StudentRepo { return &StudentRepo{db: db} }

const studentColumns = `
id, name, email, phone, handle, current_rating, max_rating,
last_submission_seconds, sync_status, sync_error_message, last_synced_at,
email_reminders_enabled, reminder_sent_count, created_at, updated_at`

// Create inserts a new student row.
func (r *StudentRepo) Create(ctx context.Context, s *model.Student) error {
	const q = `
INSERT INTO students (id, name, email, phone, handle, sync_status, email_reminders_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q,
		s.ID, s.Name, s.Email, s.Phone, s.Handle, string(model.SyncNone), s.EmailRemindersEnabled)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID loads a student together with contests and submissions.
func (r *StudentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	const q = `SELECT ` + studentColumns + ` FROM students WHERE id=$1`
	return r.getOne(ctx, q, id)
}

// GetByHandle loads a student by handle, matched case-insensitively so a
// lookup works with either the user-typed or the canonical casing.
func (r *StudentRepo) GetByHandle(ctx context.Context, handle string) (*model.Student, error) {
	const q = `SELECT ` + studentColumns + ` FROM students WHERE lower(handle)=lower($1)`
	return r.getOne(ctx, q, handle)
}

func (r *StudentRepo) getOne(ctx context.Context, q string, arg any) (*model.Student, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if s.Contests, err = r.loadContests(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Submissions, err = r.loadSubmissions(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns all students ordered by name, without child collections.
func (r *StudentRepo) List(ctx context.Context) ([]model.Student, error) {
	const q = `SELECT ` + studentColumns + ` FROM students ORDER BY name, id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListHandles returns every enrolled handle for the batch sweep.
func (r *StudentRepo) ListHandles(ctx context.Context) ([]string, error) {
	const q = `SELECT handle FROM students ORDER BY name, id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateProfile updates user-editable fields only.
func (r *StudentRepo) UpdateProfile(ctx context.Context, s *model.Student) error {
	const q = `
UPDATE students
SET name=$2, email=$3, phone=$4, handle=$5, email_reminders_enabled=$6, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, s.ID, s.Name, s.Email, s.Phone, s.Handle, s.EmailRemindersEnabled)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a student; child rows go via ON DELETE CASCADE.
func (r *StudentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM students WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// pendingStaleAfter matches the sync lease TTL: a pending row not touched for
// this long belongs to a crashed run and may be taken over. Without the
// takeover a crash mid-sync would leave the student refusing every future
// attempt.
const pendingStaleAfter = 30 * time.Minute

// SetSyncPending transitions to pending atomically. The status filter doubles
// as the per-record guard: a row already pending is not transitioned again
// unless its pending mark has gone stale.
func (r *StudentRepo) SetSyncPending(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE students
SET sync_status=$2, sync_error_message='', updated_at=now()
WHERE id=$1 AND (sync_status <> $2 OR updated_at < $3)`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(model.SyncPending),
		time.Now().Add(-pendingStaleAfter))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := r.db.Pool.QueryRow(ctx, `SELECT sync_status FROM students WHERE id=$1`, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}
		return errs.ErrSyncInProgress
	}
	return nil
}

// SetSyncFailed records a terminal failed attempt with the truncated message.
func (r *StudentRepo) SetSyncFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	const q = `
UPDATE students
SET sync_status=$2, sync_error_message=$3, last_synced_at=$4, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(model.SyncFailed), message, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetSyncSuccess records a terminal successful attempt and clears the error.
func (r *StudentRepo) SetSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `
UPDATE students
SET sync_status=$2, sync_error_message='', last_synced_at=$3, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(model.SyncSuccess), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// AdoptHandle replaces the stored handle with the remote canonical casing.
func (r *StudentRepo) AdoptHandle(ctx context.Context, id uuid.UUID, canonical string) error {
	const q = `UPDATE students SET handle=$2, updated_at=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, canonical)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ReplaceContests rebuilds the contest list wholesale in one transaction.
func (r *StudentRepo) ReplaceContests(
	ctx context.Context, id uuid.UUID, contests []model.ContestParticipation,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM contest_participations WHERE student_id=$1`, id); err != nil {
		return err
	}
	const ins = `
INSERT INTO contest_participations
  (student_id, contest_id, contest_name, rank, old_rating, new_rating,
   rating_update_seconds, problems_solved, total_problems, details_synced)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, c := range contests {
		if _, err = tx.Exec(ctx, ins, id, c.ContestID, c.ContestName, c.Rank,
			c.OldRating, c.NewRating, c.RatingUpdateSeconds,
			c.ProblemsSolvedByUser, c.TotalProblemsInContest, c.DetailsSynced); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSubmissions rebuilds the submission list wholesale and updates the
// ratings plus the derived last-submission timestamp in one transaction.
func (r *StudentRepo) ReplaceSubmissions(
	ctx context.Context, id uuid.UUID, subs []model.Submission,
	currentRating, maxRating int, lastSubmission *int64,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM submissions WHERE student_id=$1`, id); err != nil {
		return err
	}
	const ins = `
INSERT INTO submissions
  (student_id, id, contest_id, problem_name, problem_index, language, verdict,
   problem_rating, tags, creation_seconds)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, s := range subs {
		if _, err = tx.Exec(ctx, ins, id, s.ID, s.ContestID, s.ProblemName,
			s.ProblemIndex, s.Language, s.Verdict, s.ProblemRating, s.Tags,
			s.CreationSeconds); err != nil {
			return err
		}
	}
	const upd = `
UPDATE students
SET current_rating=$2, max_rating=$3, last_submission_seconds=$4, updated_at=now()
WHERE id=$1`
	if _, err = tx.Exec(ctx, upd, id, currentRating, maxRating, lastSubmission); err != nil {
		return err
	}
	return nil
}

// UpdateContestDetails persists one contest's enrichment result.
func (r *StudentRepo) UpdateContestDetails(
	ctx context.Context, id uuid.UUID, key model.ContestKey, solved, total int,
) error {
	const q = `
UPDATE contest_participations
SET problems_solved=$4, total_problems=$5, details_synced=TRUE
WHERE student_id=$1 AND contest_id=$2 AND rating_update_seconds=$3`
	tag, err := r.db.Pool.Exec(ctx, q, id, key.ContestID, key.RatingUpdateSeconds, solved, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListInactive returns reminder-enabled students whose last submission is
// unknown or strictly older than the threshold.
func (r *StudentRepo) ListInactive(ctx context.Context, olderThanSeconds int64) ([]model.Student, error) {
	const q = `SELECT ` + studentColumns + `
FROM students
WHERE email_reminders_enabled
  AND (last_submission_seconds IS NULL OR last_submission_seconds < $1)
ORDER BY name, id`
	rows, err := r.db.Pool.Query(ctx, q, olderThanSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// IncrementReminderCount bumps the counter after a confirmed send.
func (r *StudentRepo) IncrementReminderCount(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE students SET reminder_sent_count=reminder_sent_count+1, updated_at=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *StudentRepo) loadContests(ctx context.Context, id uuid.UUID) ([]model.ContestParticipation, error) {
	const q = `
SELECT contest_id, contest_name, rank, old_rating, new_rating,
       rating_update_seconds, problems_solved, total_problems, details_synced
FROM contest_participations
WHERE student_id=$1
ORDER BY rating_update_seconds DESC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContestParticipation
	for rows.Next() {
		var c model.ContestParticipation
		if err := rows.Scan(&c.ContestID, &c.ContestName, &c.Rank, &c.OldRating,
			&c.NewRating, &c.RatingUpdateSeconds, &c.ProblemsSolvedByUser,
			&c.TotalProblemsInContest, &c.DetailsSynced); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *StudentRepo) loadSubmissions(ctx context.Context, id uuid.UUID) ([]model.Submission, error) {
	const q = `
SELECT id, contest_id, problem_name, problem_index, language, verdict,
       problem_rating, tags, creation_seconds
FROM submissions
WHERE student_id=$1
ORDER BY creation_seconds DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.ContestID, &s.ProblemName, &s.ProblemIndex,
			&s.Language, &s.Verdict, &s.ProblemRating, &s.Tags, &s.CreationSeconds); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStudent(row pgx.Row) (*model.Student, error) {
	var s model.Student
	var status string
	if err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Phone, &s.Handle,
		&s.CurrentRating, &s.MaxRating, &s.LastSubmissionSeconds,
		&status, &s.SyncErrorMessage, &s.LastSyncedAt,
		&s.EmailRemindersEnabled, &s.ReminderSentCount,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.SyncStatus = model.SyncStatus(status)
	return &s, nil
}
