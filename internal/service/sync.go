// Package service contains application services: the reconciliation engine,
// student management and the inactivity evaluator.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/codeforces"
	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
	"github.com/mkarpenko/cf-progress/internal/repository"
	"github.com/mkarpenko/cf-progress/internal/synclock"
)

const (
	// submissionFetchLimit caps how much of the submission history one sync
	// pulls; the remote list is total history up to this limit.
	submissionFetchLimit = 2000

	// syncErrorLimit bounds the persisted failure message.
	syncErrorLimit = 500
)

// RemoteClient is the four Codeforces read operations the engine consumes.
type RemoteClient interface {
	// UserInfo resolves a handle; fails when the handle does not exist.
	UserInfo(ctx context.Context, handle string) (*codeforces.Profile, error)
	// RatingHistory lists rated-contest entries; empty is a valid success.
	RatingHistory(ctx context.Context, handle string) ([]codeforces.RatingChange, error)
	// Submissions lists up to count submissions in remote order.
	Submissions(ctx context.Context, handle string, count int) ([]model.Submission, error)
	// StandingsRow is best-effort enrichment: (nil, nil) when unavailable.
	StandingsRow(ctx context.Context, contestID int, handle string) (*codeforces.Standings, error)
}

// SyncService reconciles remote Codeforces activity into the student store.
type SyncService interface {
	// SyncOne runs a full reconciliation cycle for one enrolled handle. The
	// returned record's syncStatus reflects the outcome even when an error
	// is returned.
	SyncOne(ctx context.Context, handle string) (*model.Student, error)
	// SyncAll sweeps every enrolled handle sequentially, isolating per-handle
	// failures. The error is non-nil only when the handle list cannot be read
	// or the context is canceled mid-sweep; the report covers what ran.
	SyncAll(ctx context.Context) (model.SyncReport, error)
	// ValidateHandle resolves a handle at enrollment time and returns the
	// canonical profile; enrollment fails closed on any resolution error.
	ValidateHandle(ctx context.Context, handle string) (*codeforces.Profile, error)
}

type SyncServiceImpl struct {
	students repository.StudentRepository
	cf       RemoteClient
	locks    synclock.Locker
	log      *zap.Logger
	now      func() time.Time
}

// NewSyncService constructs the reconciliation engine.
func NewSyncService(students repository.StudentRepository, cf RemoteClient,
	locks synclock.Locker, log *zap.Logger) *SyncServiceImpl {
	return &SyncServiceImpl{students: students, cf: cf, locks: locks, log: log, now: time.Now}
}

// SyncOne enriches an already-enrolled student; it never creates one.
//
// The cycle persists in checkpoints: pending mark, merged contest shells,
// replaced submissions, one save per enriched contest, final status. A crash
// mid-enrichment therefore loses at most the in-flight contest's counts.
func (s *SyncServiceImpl) SyncOne(ctx context.Context, handle string) (*model.Student, error) {
	student, err := s.students.GetByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("sync %s: load: %w", handle, err)
	}

	release, err := s.locks.Acquire(ctx, student.Handle)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", handle, err)
	}
	defer release(ctx)

	// Observable to pollers before the first remote call. The status filter
	// in the store doubles as a second overlap guard.
	if err := s.students.SetSyncPending(ctx, student.ID); err != nil {
		return nil, fmt.Errorf("sync %s: mark pending: %w", handle, err)
	}

	final, err := s.run(ctx, student)
	if err != nil {
		s.markFailed(ctx, student, err)
		rec, loadErr := s.students.GetByID(ctx, student.ID)
		if loadErr != nil {
			rec = student
		}
		return rec, err
	}
	return final, nil
}

// run executes the fetch, merge and enrichment phases. Any returned error is
// fatal to the cycle; the caller persists the failed status.
func (s *SyncServiceImpl) run(ctx context.Context, student *model.Student) (*model.Student, error) {
	handle := student.Handle

	// Fetch phase: all three calls must succeed or nothing is written.
	profile, err := s.cf.UserInfo(ctx, handle)
	if err != nil {
		return nil, err
	}
	history, err := s.cf.RatingHistory(ctx, handle)
	if err != nil {
		return nil, err
	}
	subs, err := s.cf.Submissions(ctx, handle, submissionFetchLimit)
	if err != nil {
		return nil, err
	}

	if profile.Handle != "" && profile.Handle != student.Handle {
		if err := s.students.AdoptHandle(ctx, student.ID, profile.Handle); err != nil {
			return nil, fmt.Errorf("adopt handle: %w", err)
		}
		student.Handle = profile.Handle
		handle = profile.Handle
	}

	// Contest merge: remote history is the source of truth for the list;
	// enrichment already attained locally is carried over, never re-fetched.
	contests := mergeContests(student.Contests, history)
	if err := s.students.ReplaceContests(ctx, student.ID, contests); err != nil {
		return nil, fmt.Errorf("checkpoint contests: %w", err)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].CreationSeconds > subs[j].CreationSeconds })
	var last *int64
	if len(subs) > 0 {
		last = &subs[0].CreationSeconds
	}
	if err := s.students.ReplaceSubmissions(ctx, student.ID, subs,
		profile.Rating, profile.MaxRating, last); err != nil {
		return nil, fmt.Errorf("checkpoint submissions: %w", err)
	}

	// Enrichment phase: best-effort per contest, one checkpoint per success.
	// A contest whose standings are unavailable stays unsynced for a later
	// cycle and never fails the run.
	for i := range contests {
		c := &contests[i]
		if c.DetailsSynced {
			continue
		}
		st, err := s.cf.StandingsRow(ctx, c.ContestID, handle)
		if err != nil {
			// Only context cancellation escapes the client; that is fatal.
			return nil, fmt.Errorf("standings %d: %w", c.ContestID, err)
		}
		if st == nil {
			continue
		}
		if err := s.students.UpdateContestDetails(ctx, student.ID, c.Key(),
			st.SolvedCount, st.TotalProblems); err != nil {
			return nil, fmt.Errorf("checkpoint contest %d: %w", c.ContestID, err)
		}
		c.ProblemsSolvedByUser = st.SolvedCount
		c.TotalProblemsInContest = st.TotalProblems
		c.DetailsSynced = true
	}

	if err := s.students.SetSyncSuccess(ctx, student.ID, s.now()); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	final, err := s.students.GetByID(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	s.log.Info("sync completed",
		zap.String("handle", handle),
		zap.Int("contests", len(final.Contests)),
		zap.Int("submissions", len(final.Submissions)))
	return final, nil
}

// markFailed leaves the record in a terminal failed state with a truncated
// message. A failing store here is logged only: the accepted gap.
func (s *SyncServiceImpl) markFailed(ctx context.Context, student *model.Student, cause error) {
	msg := cause.Error()
	if len(msg) > syncErrorLimit {
		msg = msg[:syncErrorLimit]
	}
	// The failed status must land even when the cycle died to cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := s.students.SetSyncFailed(ctx, student.ID, msg, s.now()); err != nil {
		s.log.Error("failed to persist failed sync status",
			zap.String("handle", student.Handle), zap.Error(err))
	}
	s.log.Warn("sync failed", zap.String("handle", student.Handle), zap.Error(cause))
}

// SyncAll sweeps all handles sequentially; the remote pacer spaces the calls.
func (s *SyncServiceImpl) SyncAll(ctx context.Context) (model.SyncReport, error) {
	handles, err := s.students.ListHandles(ctx)
	if err != nil {
		return model.SyncReport{}, fmt.Errorf("sync all: list handles: %w", err)
	}

	var report model.SyncReport
	for _, h := range handles {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, err := s.SyncOne(ctx, h); err != nil {
			report.Failed++
			s.log.Warn("sweep: handle failed", zap.String("handle", h), zap.Error(err))
			continue
		}
		report.Success++
	}
	s.log.Info("sweep finished", zap.Int("success", report.Success), zap.Int("failed", report.Failed))
	return report, nil
}

// ValidateHandle resolves the canonical profile for enrollment.
func (s *SyncServiceImpl) ValidateHandle(ctx context.Context, handle string) (*codeforces.Profile, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("%w: empty handle", errs.ErrValidation)
	}
	profile, err := s.cf.UserInfo(ctx, handle)
	if err != nil {
		if errors.Is(err, errs.ErrHandleUnresolved) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrHandleUnresolved, err)
	}
	return profile, nil
}

// mergeContests builds the new contest list from the fetched history, keyed
// by (contestId, ratingUpdateSeconds). Entries already enriched keep their
// counts and flag; everything else is seeded unsynced. The result is sorted
// descending by rating update time.
func mergeContests(existing []model.ContestParticipation, history []codeforces.RatingChange) []model.ContestParticipation {
	known := make(map[model.ContestKey]model.ContestParticipation, len(existing))
	for _, c := range existing {
		known[c.Key()] = c
	}

	out := make([]model.ContestParticipation, 0, len(history))
	for _, h := range history {
		c := model.ContestParticipation{
			ContestID:           h.ContestID,
			ContestName:         h.ContestName,
			Rank:                h.Rank,
			OldRating:           h.OldRating,
			NewRating:           h.NewRating,
			RatingUpdateSeconds: h.RatingUpdateTimeSeconds,
		}
		if prev, ok := known[c.Key()]; ok && prev.DetailsSynced {
			c.ProblemsSolvedByUser = prev.ProblemsSolvedByUser
			c.TotalProblemsInContest = prev.TotalProblemsInContest
			c.DetailsSynced = true
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RatingUpdateSeconds > out[j].RatingUpdateSeconds
	})
	return out
}
