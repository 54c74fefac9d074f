package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/model"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

// fakeMailer records sends and fails for addresses listed in failFor.
type fakeMailer struct {
	sent    []sentMail
	failFor map[string]error
}

func (m *fakeMailer) Send(_ context.Context, toEmail, _, subject, htmlBody string) error {
	if err := m.failFor[toEmail]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMail{to: toEmail, subject: subject, body: htmlBody})
	return nil
}

func daysAgo(now time.Time, d int) *int64 {
	ts := now.AddDate(0, 0, -d).Unix()
	return &ts
}

func reminderStudent(name, email, handle string, last *int64) *model.Student {
	return &model.Student{
		ID:                    uuid.Must(uuid.NewV4()),
		Name:                  name,
		Email:                 email,
		Handle:                handle,
		LastSubmissionSeconds: last,
		EmailRemindersEnabled: true,
	}
}

func newInactivity(repo *fakeStudentRepo, mail *fakeMailer, now time.Time) *InactivityService {
	s := NewInactivityService(repo, mail, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestInactivityRun_WindowBoundary(t *testing.T) {
	now := time.Unix(1700000000, 0)
	stale := reminderStudent("Stale", "stale@example.com", "stale1", daysAgo(now, 8))
	fresh := reminderStudent("Fresh", "fresh@example.com", "fresh1", daysAgo(now, 6))
	never := reminderStudent("Never", "never@example.com", "never1", nil)
	repo := newFakeRepo(stale, fresh, never)
	mail := &fakeMailer{}
	svc := newInactivity(repo, mail, now)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Eligible)
	require.Equal(t, 2, report.Sent)

	emails := map[string]bool{}
	for _, m := range mail.sent {
		emails[m.to] = true
	}
	require.True(t, emails["stale@example.com"])
	require.True(t, emails["never@example.com"])
	require.False(t, emails["fresh@example.com"])
}

func TestInactivityRun_SkipsOptedOut(t *testing.T) {
	now := time.Unix(1700000000, 0)
	optedOut := reminderStudent("Quiet", "quiet@example.com", "quiet1", daysAgo(now, 30))
	optedOut.EmailRemindersEnabled = false
	repo := newFakeRepo(optedOut)
	mail := &fakeMailer{}
	svc := newInactivity(repo, mail, now)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Eligible)
	require.Empty(t, mail.sent)
}

func TestInactivityRun_CounterOnlyOnConfirmedSend(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ok := reminderStudent("Ok", "ok@example.com", "ok1", nil)
	bad := reminderStudent("Bad", "bad@example.com", "bad1", nil)
	repo := newFakeRepo(ok, bad)
	mail := &fakeMailer{failFor: map[string]error{"bad@example.com": errors.New("smtp 550")}}
	svc := newInactivity(repo, mail, now)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Eligible)
	require.Equal(t, 1, report.Sent)

	stored, err := repo.GetByID(context.Background(), ok.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.ReminderSentCount)

	stored, err = repo.GetByID(context.Background(), bad.ID)
	require.NoError(t, err)
	require.Zero(t, stored.ReminderSentCount)
}

func TestInactivityRun_BodyMentionsHandle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := reminderStudent("Alice", "alice@example.com", "alice99", nil)
	repo := newFakeRepo(s)
	mail := &fakeMailer{}
	svc := newInactivity(repo, mail, now)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	require.Equal(t, reminderSubject, mail.sent[0].subject)
	require.Contains(t, mail.sent[0].body, "alice99")
	require.Contains(t, mail.sent[0].body, "7 days")
}

func TestInactivityRun_ListFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("db down")
	svc := newInactivity(repo, &fakeMailer{}, time.Unix(1700000000, 0))

	_, err := svc.Run(context.Background())
	require.Error(t, err)
}
