package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	mu         sync.Mutex
	tickets    int
	reconciles int
	plates     int
	limits     []int
	err        error
}

func (s *countingSweeper) RetryPendingTickets(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets++
	s.limits = append(s.limits, limit)
	return 1, s.err
}

func (s *countingSweeper) ReconcileStalePayments(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles++
	s.limits = append(s.limits, limit)
	return 0, s.err
}

func (s *countingSweeper) MigrateLegacyPlates(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plates++
	s.limits = append(s.limits, limit)
	return 0, nil
}

func TestCronService_RunNow(t *testing.T) {
	sweeper := &countingSweeper{}
	svc := NewCronService(sweeper, sweeper, CronSchedules{}, quietLogger())

	svc.RunNow()

	assert.Equal(t, 1, sweeper.tickets)
	assert.Equal(t, 1, sweeper.reconciles)
	assert.Equal(t, 1, sweeper.plates)
	assert.Equal(t, []int{100, 100, 100}, sweeper.limits)
}

func TestCronService_JobErrorsAreContained(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("database is down")}
	svc := NewCronService(sweeper, sweeper, CronSchedules{BatchSize: 25}, quietLogger())

	assert.NotPanics(t, svc.RunNow)
	assert.Equal(t, []int{25, 25, 25}, sweeper.limits)
}

func TestCronService_StartSchedulesConfiguredJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	svc := NewCronService(sweeper, sweeper, CronSchedules{
		TicketRetry: "0 */5 * * * *",
		Reconcile:   "30 * * * * *",
	}, quietLogger())

	require.NoError(t, svc.Start())
	defer svc.Stop()

	status := svc.GetJobStatus()
	assert.Equal(t, 2, status["job_count"])
	assert.Equal(t, true, status["running"])
}

func TestCronService_InvalidSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	svc := NewCronService(sweeper, sweeper, CronSchedules{Reconcile: "every minute"}, quietLogger())

	assert.Error(t, svc.Start())
}
