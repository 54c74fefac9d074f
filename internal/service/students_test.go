package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/codeforces"
	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
)

// newStudentService wires a service whose background syncs run inline so the
// tests can observe their effects synchronously.
func newStudentService(repo *fakeStudentRepo, remote *fakeRemote) (*StudentServiceImpl, *SyncServiceImpl) {
	engine := newEngine(repo, remote)
	svc := NewStudentService(repo, engine, zap.NewNop())
	svc.spawn = func(f func(ctx context.Context)) { f(context.Background()) }
	return svc, engine
}

func TestEnroll_StoresCanonicalHandleAndSyncs(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newStudentService(repo, aliceRemote())

	student, err := svc.Enroll(context.Background(), EnrollInput{
		Name:           "  Alice  ",
		Email:          "alice@example.com",
		Handle:         "ALICE99", // remote canonical form is alice99
		EmailReminders: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Alice", student.Name)
	require.Equal(t, "alice99", student.Handle)

	// the inline background sync already completed the first cycle
	stored, err := repo.GetByID(context.Background(), student.ID)
	require.NoError(t, err)
	require.Equal(t, model.SyncSuccess, stored.SyncStatus)
	require.Equal(t, 1500, stored.CurrentRating)
	require.Len(t, stored.Contests, 1)
}

func TestEnroll_FailsClosedOnUnresolvableHandle(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newStudentService(repo, aliceRemote())

	_, err := svc.Enroll(context.Background(), EnrollInput{
		Name: "Ghost", Email: "ghost@example.com", Handle: "ghost",
	})
	require.ErrorIs(t, err, errs.ErrHandleUnresolved)
	require.Empty(t, repo.students)
}

func TestEnroll_RequiredFields(t *testing.T) {
	svc, _ := newStudentService(newFakeRepo(), aliceRemote())

	_, err := svc.Enroll(context.Background(), EnrollInput{Name: "Alice", Handle: "alice99"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Enroll(context.Background(), EnrollInput{Name: "Alice", Email: "a@b.c", Handle: "   "})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestEnroll_DuplicateHandle(t *testing.T) {
	repo := newFakeRepo(enrolledAlice())
	svc, _ := newStudentService(repo, aliceRemote())

	_, err := svc.Enroll(context.Background(), EnrollInput{
		Name: "Imposter", Email: "other@example.com", Handle: "Alice99",
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestUpdate_HandleChangeTriggersResync(t *testing.T) {
	alice := enrolledAlice()
	repo := newFakeRepo(alice)
	remote := aliceRemote()
	remote.profiles["freshalice"] = &codeforces.Profile{Handle: "freshalice", Rating: 1800, MaxRating: 1900}
	svc, _ := newStudentService(repo, remote)

	got, err := svc.Update(context.Background(), alice.ID, UpdateInput{
		Name: "Alice", Email: "alice@example.com", Handle: "FreshAlice",
		EmailReminders: true,
	})
	require.NoError(t, err)
	require.Equal(t, "freshalice", got.Handle)

	// the inline resync fetched the new handle's data
	stored, err := repo.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	require.Equal(t, model.SyncSuccess, stored.SyncStatus)
	require.Equal(t, 1800, stored.CurrentRating)
	require.Equal(t, 1900, stored.MaxRating)
}

func TestUpdate_CasingOnlyChangeIsNotAHandleChange(t *testing.T) {
	alice := enrolledAlice() // handle alice99
	repo := newFakeRepo(alice)
	svc, _ := newStudentService(repo, aliceRemote())

	got, err := svc.Update(context.Background(), alice.ID, UpdateInput{
		Name: "Alice", Email: "alice@example.com", Handle: "Alice99",
		EmailReminders: true,
	})
	require.NoError(t, err)
	require.Equal(t, "alice99", got.Handle)
	// no sync ran, so no checkpoints were recorded
	require.Empty(t, repo.checkpoints)
}

func TestUpdate_RejectsHandleHeldByAnother(t *testing.T) {
	alice := enrolledAlice()
	bob := &model.Student{
		ID: uuid.Must(uuid.NewV4()), Name: "Bob", Email: "bob@example.com", Handle: "bob42",
	}
	repo := newFakeRepo(alice, bob)
	remote := aliceRemote()
	svc, _ := newStudentService(repo, remote)

	_, err := svc.Update(context.Background(), bob.ID, UpdateInput{
		Name: "Bob", Email: "bob@example.com", Handle: "Alice99",
	})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestDelete(t *testing.T) {
	alice := enrolledAlice()
	repo := newFakeRepo(alice)
	svc, _ := newStudentService(repo, aliceRemote())

	require.NoError(t, svc.Delete(context.Background(), alice.ID))
	_, err := repo.GetByID(context.Background(), alice.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.ErrorIs(t, svc.Delete(context.Background(), alice.ID), errs.ErrNotFound)
}
