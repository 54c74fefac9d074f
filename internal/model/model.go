// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// SyncStatus reflects the outcome of the most recent reconciliation attempt.
type SyncStatus string

// Allowed syncStatus transitions: none|success|failed -> pending -> success|failed.
const (
	SyncNone    SyncStatus = "none"
	SyncPending SyncStatus = "pending"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// Student is the root entity: one enrolled student and their reconciled
// Codeforces state.
type Student struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string

	// Handle is stored in the canonical casing returned by user.info,
	// not the casing the user typed at enrollment.
	Handle string

	CurrentRating int
	MaxRating     int

	// Contests is ordered descending by RatingUpdateSeconds.
	Contests []ContestParticipation
	// Submissions is ordered descending by CreationSeconds and is replaced
	// wholesale on every sync.
	Submissions []Submission

	// LastSubmissionSeconds is the max CreationSeconds across Submissions,
	// nil if the student has none.
	LastSubmissionSeconds *int64

	SyncStatus       SyncStatus
	SyncErrorMessage string
	LastSyncedAt     *time.Time

	EmailRemindersEnabled bool
	ReminderSentCount     int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContestParticipation is one historical rated-contest entry. Identity is the
// compound key (ContestID, RatingUpdateSeconds): a handle can reappear in
// recomputed standings under the same contest id.
type ContestParticipation struct {
	ContestID           int
	ContestName         string
	Rank                int
	OldRating           int
	NewRating           int
	RatingUpdateSeconds int64

	ProblemsSolvedByUser   int
	TotalProblemsInContest int
	// DetailsSynced is never reset to false once true, and a true entry is
	// never re-fetched on later syncs.
	DetailsSynced bool
}

// Key returns the compound identity of the participation.
func (c ContestParticipation) Key() ContestKey {
	return ContestKey{ContestID: c.ContestID, RatingUpdateSeconds: c.RatingUpdateSeconds}
}

// ContestKey is the compound identity of a ContestParticipation.
type ContestKey struct {
	ContestID           int
	RatingUpdateSeconds int64
}

// Submission is one Codeforces submission, flattened from the remote's nested
// problem object.
type Submission struct {
	ID              int64
	ContestID       *int // nil for non-contest submissions
	ProblemName     string
	ProblemIndex    string
	Language        string
	Verdict         string
	ProblemRating   *int // nil when the problem is unrated
	Tags            []string
	CreationSeconds int64
}

// SyncReport summarizes a batch sweep over all handles.
type SyncReport struct {
	Success int
	Failed  int
}

// Settings is the singleton scheduler configuration row.
type Settings struct {
	CronSchedule string
	CronTimezone string
	UpdatedAt    time.Time
}
