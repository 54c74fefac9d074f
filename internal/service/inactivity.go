package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/mailer"
	"github.com/mkarpenko/cf-progress/internal/model"
	"github.com/mkarpenko/cf-progress/internal/repository"
)

// InactivityWindow is how long a student may go without a submission before a
// reminder is due.
const InactivityWindow = 7 * 24 * time.Hour

// ReminderReport summarizes one evaluator pass.
type ReminderReport struct {
	Eligible int
	Sent     int
}

// InactivityService scans for students without recent submissions and emails
// them a reminder. Intentionally simple: no backoff, no dedup window beyond
// one pass per trigger; a duplicate or missed reminder is not safety-critical.
type InactivityService struct {
	students repository.StudentRepository
	mail     mailer.Mailer
	log      *zap.Logger
	now      func() time.Time
}

// NewInactivityService constructs the evaluator.
func NewInactivityService(students repository.StudentRepository, mail mailer.Mailer, log *zap.Logger) *InactivityService {
	return &InactivityService{students: students, mail: mail, log: log, now: time.Now}
}

// Run selects reminder-enabled students whose last submission is unknown or
// older than the window and sends each one an email. The counter is bumped
// only after a confirmed send; a failed send is logged and skipped.
func (s *InactivityService) Run(ctx context.Context) (ReminderReport, error) {
	threshold := s.now().Add(-InactivityWindow).Unix()
	students, err := s.students.ListInactive(ctx, threshold)
	if err != nil {
		return ReminderReport{}, fmt.Errorf("inactivity scan: %w", err)
	}

	report := ReminderReport{Eligible: len(students)}
	for i := range students {
		st := &students[i]
		if err := s.mail.Send(ctx, st.Email, st.Name, reminderSubject, reminderBody(st)); err != nil {
			s.log.Warn("reminder send failed",
				zap.String("handle", st.Handle), zap.String("email", st.Email), zap.Error(err))
			continue
		}
		if err := s.students.IncrementReminderCount(ctx, st.ID); err != nil {
			s.log.Error("reminder counter update failed",
				zap.String("handle", st.Handle), zap.Error(err))
			continue
		}
		report.Sent++
	}
	s.log.Info("inactivity pass finished",
		zap.Int("eligible", report.Eligible), zap.Int("sent", report.Sent))
	return report, nil
}

const reminderSubject = "Friendly Reminder: Time to jump back into Codeforces!"

func reminderBody(st *model.Student) string {
	return fmt.Sprintf(`<p>Hi %s,</p>
<p>We noticed you haven't made any submissions on Codeforces (handle: <strong>%s</strong>) in the last %d days.</p>
<p>Consistent practice is key to improvement. Why not try solving a problem today?</p>
<p>Visit <a href="https://codeforces.com/problemset">the problemset</a> to find your next challenge!</p>
<p>Best regards,<br/>The Student Progress Tracker</p>`,
		st.Name, st.Handle, int(InactivityWindow.Hours()/24))
}
