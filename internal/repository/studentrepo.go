// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mkarpenko/cf-progress/internal/model"
)

// StudentRepository provides access to enrolled students and the write
// operations the reconciliation engine checkpoints through.
type StudentRepository interface {
	// Create inserts a new student.
	Create(ctx context.Context, s *model.Student) error

	// GetByID loads a student with contests and submissions.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Student, error)

	// GetByHandle loads a student by handle, matched case-insensitively.
	GetByHandle(ctx context.Context, handle string) (*model.Student, error)

	// List returns all students ordered by name, without child collections.
	List(ctx context.Context) ([]model.Student, error)

	// ListHandles returns every enrolled handle for the batch sweep.
	ListHandles(ctx context.Context) ([]string, error)

	// UpdateProfile updates user-editable fields (name/email/phone/handle/
	// reminder preference). The sync engine never goes through here.
	UpdateProfile(ctx context.Context, s *model.Student) error

	// Delete removes a student and their child rows.
	Delete(ctx context.Context, id uuid.UUID) error

	// SetSyncPending transitions syncStatus to pending and clears the error
	// message. It only succeeds from a non-pending state, or from a pending
	// mark old enough to belong to a crashed run; a fresh pending row returns
	// errs.ErrSyncInProgress.
	SetSyncPending(ctx context.Context, id uuid.UUID) error

	// SetSyncFailed records a terminal failed attempt.
	SetSyncFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error

	// SetSyncSuccess records a terminal successful attempt.
	SetSyncSuccess(ctx context.Context, id uuid.UUID, at time.Time) error

	// AdoptHandle replaces the stored handle with the remote canonical casing.
	AdoptHandle(ctx context.Context, id uuid.UUID, canonical string) error

	// ReplaceContests rebuilds the contest list wholesale (checkpoint).
	ReplaceContests(ctx context.Context, id uuid.UUID, contests []model.ContestParticipation) error

	// ReplaceSubmissions rebuilds the submission list wholesale and updates
	// ratings and the derived last-submission timestamp (checkpoint).
	ReplaceSubmissions(ctx context.Context, id uuid.UUID, subs []model.Submission,
		currentRating, maxRating int, lastSubmission *int64) error

	// UpdateContestDetails persists one contest's enrichment result
	// (checkpoint per contest, keyed by the compound contest key).
	UpdateContestDetails(ctx context.Context, id uuid.UUID, key model.ContestKey,
		solved, total int) error

	// ListInactive returns students with reminders enabled whose last
	// submission is unknown or strictly older than the threshold.
	ListInactive(ctx context.Context, olderThanSeconds int64) ([]model.Student, error)

	// IncrementReminderCount bumps the reminder counter after a confirmed send.
	IncrementReminderCount(ctx context.Context, id uuid.UUID) error
}

// SettingsRepository stores the singleton scheduler configuration.
type SettingsRepository interface {
	// Get returns the current settings, or defaults if none are stored.
	Get(ctx context.Context) (model.Settings, error)

	// Update persists new settings values.
	Update(ctx context.Context, s model.Settings) error
}
