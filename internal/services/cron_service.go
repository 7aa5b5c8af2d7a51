package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// jobTimeout bounds a single sweep run
const jobTimeout = 2 * time.Minute

// BookingSweeper is implemented by BookingOrchestratorService
type BookingSweeper interface {
	RetryPendingTickets(ctx context.Context, limit int) (int, error)
	ReconcileStalePayments(ctx context.Context, limit int) (int, error)
}

// PlateMigrator is implemented by VehicleService
type PlateMigrator interface {
	MigrateLegacyPlates(ctx context.Context, limit int) (int, error)
}

// CronSchedules holds 6-field cron expressions (seconds first)
type CronSchedules struct {
	TicketRetry  string
	Reconcile    string
	PlateMigrate string
	BatchSize    int
}

// CronService manages scheduled background jobs
type CronService struct {
	cron      *cron.Cron
	bookings  BookingSweeper
	plates    PlateMigrator
	schedules CronSchedules
	logger    *logrus.Logger
}

// NewCronService creates a new CronService. A run that is still going when its
// next tick fires is skipped.
func NewCronService(bookings BookingSweeper, plates PlateMigrator, schedules CronSchedules, logger *logrus.Logger) *CronService {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if schedules.BatchSize <= 0 {
		schedules.BatchSize = 100
	}

	return &CronService{
		cron:      c,
		bookings:  bookings,
		plates:    plates,
		schedules: schedules,
		logger:    logger,
	}
}

// Start schedules every job and starts the scheduler
func (s *CronService) Start() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context, limit int) (int, error)
	}{
		{"retry_pending_tickets", s.schedules.TicketRetry, s.bookings.RetryPendingTickets},
		{"reconcile_stale_payments", s.schedules.Reconcile, s.bookings.ReconcileStalePayments},
		{"migrate_legacy_plates", s.schedules.PlateMigrate, s.plates.MigrateLegacyPlates},
	}

	for _, job := range jobs {
		job := job
		if job.schedule == "" {
			s.logger.WithField("job", job.name).Info("Cron job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"job":      job.name,
			"schedule": job.schedule,
		}).Info("Cron job scheduled")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// RunNow runs every sweep once, synchronously
func (s *CronService) RunNow() {
	s.runJob("retry_pending_tickets", s.bookings.RetryPendingTickets)
	s.runJob("reconcile_stale_payments", s.bookings.ReconcileStalePayments)
	s.runJob("migrate_legacy_plates", s.plates.MigrateLegacyPlates)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

func (s *CronService) runJob(name string, run func(ctx context.Context, limit int) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	processed, err := run(ctx, s.schedules.BatchSize)
	fields := logrus.Fields{
		"job":         name,
		"processed":   processed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("Cron job failed")
		return
	}
	if processed > 0 {
		s.logger.WithFields(fields).Info("Cron job completed")
		return
	}
	s.logger.WithFields(fields).Debug("Cron job completed")
}
