package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/model"
	"github.com/mkarpenko/cf-progress/internal/repository"
)

// EnrollInput carries the fields a new enrollment accepts.
type EnrollInput struct {
	Name           string
	Email          string
	Phone          string
	Handle         string
	EmailReminders bool
}

// UpdateInput carries the user-editable fields of an existing student.
type UpdateInput struct {
	Name           string
	Email          string
	Phone          string
	Handle         string
	EmailReminders bool
}

// StudentService manages enrollment and user-facing edits. Sync-engine writes
// never go through here.
type StudentService interface {
	// Enroll validates the handle against Codeforces (fails closed), stores
	// the canonical casing and kicks off the initial sync in the background.
	Enroll(ctx context.Context, in EnrollInput) (*model.Student, error)
	// Get loads one student with contests and submissions.
	Get(ctx context.Context, id uuid.UUID) (*model.Student, error)
	// List returns all students without child collections.
	List(ctx context.Context) ([]model.Student, error)
	// Update edits profile fields; a handle change re-validates remotely and
	// triggers a full background resync.
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*model.Student, error)
	// Delete removes a student permanently.
	Delete(ctx context.Context, id uuid.UUID) error
}

type StudentServiceImpl struct {
	students repository.StudentRepository
	sync     SyncService
	log      *zap.Logger

	// spawn runs background work; replaced in tests to run inline.
	spawn func(f func(ctx context.Context))
}

// NewStudentService constructs StudentService.
func NewStudentService(students repository.StudentRepository, sync SyncService, log *zap.Logger) *StudentServiceImpl {
	return &StudentServiceImpl{
		students: students,
		sync:     sync,
		log:      log,
		spawn: func(f func(ctx context.Context)) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				defer cancel()
				f(ctx)
			}()
		},
	}
}

// Enroll validates, stores and schedules the first reconciliation.
func (s *StudentServiceImpl) Enroll(ctx context.Context, in EnrollInput) (*model.Student, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Handle = strings.TrimSpace(in.Handle)
	if in.Name == "" || in.Email == "" || in.Handle == "" {
		return nil, fmt.Errorf("%w: name, email and handle are required", errs.ErrValidation)
	}

	profile, err := s.sync.ValidateHandle(ctx, in.Handle)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	student := &model.Student{
		ID:                    id,
		Name:                  in.Name,
		Email:                 in.Email,
		Phone:                 strings.TrimSpace(in.Phone),
		Handle:                profile.Handle, // canonical casing, not user input
		SyncStatus:            model.SyncNone,
		EmailRemindersEnabled: in.EmailReminders,
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, fmt.Errorf("enroll %s: %w", profile.Handle, err)
	}

	s.backgroundSync(student.Handle)
	return student, nil
}

// Get loads one student.
func (s *StudentServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	return s.students.GetByID(ctx, id)
}

// List returns all students.
func (s *StudentServiceImpl) List(ctx context.Context) ([]model.Student, error) {
	return s.students.List(ctx)
}

// Update applies user edits; a handle change triggers a full resync.
func (s *StudentServiceImpl) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*model.Student, error) {
	student, err := s.students.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Handle = strings.TrimSpace(in.Handle)
	if in.Name == "" || in.Email == "" || in.Handle == "" {
		return nil, fmt.Errorf("%w: name, email and handle are required", errs.ErrValidation)
	}

	handleChanged := !strings.EqualFold(in.Handle, student.Handle)
	newHandle := student.Handle
	if handleChanged {
		profile, err := s.sync.ValidateHandle(ctx, in.Handle)
		if err != nil {
			return nil, err
		}
		if other, err := s.students.GetByHandle(ctx, profile.Handle); err == nil && other.ID != id {
			return nil, fmt.Errorf("handle %s: %w", profile.Handle, errs.ErrAlreadyExists)
		}
		newHandle = profile.Handle
	} else if in.Handle != student.Handle {
		// Same handle typed in a different casing: keep the canonical form.
		in.Handle = student.Handle
	}

	student.Name = in.Name
	student.Email = in.Email
	student.Phone = strings.TrimSpace(in.Phone)
	student.Handle = newHandle
	student.EmailRemindersEnabled = in.EmailReminders
	if err := s.students.UpdateProfile(ctx, student); err != nil {
		return nil, err
	}

	if handleChanged {
		s.log.Info("handle changed, triggering resync",
			zap.String("student", student.Name), zap.String("handle", newHandle))
		s.backgroundSync(newHandle)
	}
	return student, nil
}

// Delete removes a student permanently; no soft-delete.
func (s *StudentServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return s.students.Delete(ctx, id)
}

func (s *StudentServiceImpl) backgroundSync(handle string) {
	s.spawn(func(ctx context.Context) {
		if _, err := s.sync.SyncOne(ctx, handle); err != nil {
			s.log.Warn("background sync failed", zap.String("handle", handle), zap.Error(err))
		}
	})
}
