// Package scheduler drives the periodic sync sweep and inactivity pass from a
// cron schedule stored in settings.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mkarpenko/cf-progress/internal/errs"
	"github.com/mkarpenko/cf-progress/internal/repository"
	"github.com/mkarpenko/cf-progress/internal/service"
)

// sweepTimeout bounds one full sweep plus the inactivity pass.
const sweepTimeout = 2 * time.Hour

var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether schedule is a well-formed five-field cron spec and
// tz a known IANA timezone.
func Validate(schedule, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", errs.ErrValidation, tz)
	}
	if _, err := specParser.Parse(schedule); err != nil {
		return fmt.Errorf("%w: bad cron schedule %q: %v", errs.ErrValidation, schedule, err)
	}
	return nil
}

// ReminderRunner is the inactivity pass as the scheduler sees it.
type ReminderRunner interface {
	Run(ctx context.Context) (service.ReminderReport, error)
}

// Scheduler runs the sweep on the stored cron schedule and can be rewired at
// runtime when an admin changes the settings.
type Scheduler struct {
	sync       service.SyncService
	inactivity ReminderRunner
	settings   repository.SettingsRepository
	log        *zap.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

// New constructs a stopped Scheduler.
func New(syncSvc service.SyncService, inactivity ReminderRunner,
	settings repository.SettingsRepository, log *zap.Logger) *Scheduler {
	return &Scheduler{
		sync:       syncSvc,
		inactivity: inactivity,
		settings:   settings,
		log:        log,
	}
}

// Start loads the stored schedule and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load settings: %w", err)
	}
	if err := s.Reload(cfg.CronSchedule, cfg.CronTimezone); err != nil {
		return err
	}
	s.log.Info("scheduler started",
		zap.String("schedule", cfg.CronSchedule), zap.String("timezone", cfg.CronTimezone))
	return nil
}

// Reload replaces the active schedule. The previous cron instance is stopped
// first; a tick already in flight is allowed to finish.
func (s *Scheduler) Reload(schedule, tz string) error {
	if err := Validate(schedule, tz); err != nil {
		return err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %q", errs.ErrValidation, tz)
	}

	next := cron.New(cron.WithLocation(loc), cron.WithParser(specParser))
	entry, err := next.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("%w: bad cron schedule %q: %v", errs.ErrValidation, schedule, err)
	}

	s.mu.Lock()
	prev := s.cron
	s.cron = next
	s.entry = entry
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	next.Start()
	s.log.Info("schedule rewired", zap.String("schedule", schedule), zap.String("timezone", tz))
	return nil
}

// Stop halts ticking. Blocks until a running tick finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// NextRun returns the time of the next scheduled tick, or the zero time when
// the scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// tick runs one sweep followed by the inactivity pass. Failures are logged;
// the next tick starts fresh.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	report, err := s.sync.SyncAll(ctx)
	if err != nil {
		s.log.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	s.log.Info("scheduled sweep done",
		zap.Int("success", report.Success), zap.Int("failed", report.Failed))

	if _, err := s.inactivity.Run(ctx); err != nil {
		s.log.Error("inactivity pass failed", zap.Error(err))
	}
}
