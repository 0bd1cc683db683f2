package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/config"
)

// completionBatchSize caps how many bookings one completion run moves
const completionBatchSize = 500

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	cfg      config.SweeperConfig
	payments *PaymentService
	bookings *BookingService
	logger   *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(cfg config.SweeperConfig, payments *PaymentService, bookings *BookingService, logger *logrus.Logger) *CronService {
	// Schedules use seconds precision: second minute hour day month weekday
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &CronService{
		cron:     c,
		cfg:      cfg,
		payments: payments,
		bookings: bookings,
		logger:   logger,
	}
}

// Start registers the sweeps and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(s.cfg.PendingSchedule, s.reconcilePendingJob); err != nil {
		return fmt.Errorf("failed to schedule pending payment sweep: %w", err)
	}
	s.logger.WithField("schedule", s.cfg.PendingSchedule).Info("Scheduled: reconcile pending payments")

	if _, err := s.cron.AddFunc(s.cfg.CompletionSchedule, s.completeBookingsJob); err != nil {
		return fmt.Errorf("failed to schedule booking completion: %w", err)
	}
	s.logger.WithField("schedule", s.cfg.CompletionSchedule).Info("Scheduled: complete ended bookings")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// RunPendingSweep reconciles stale pending payments once
func (s *CronService) RunPendingSweep(ctx context.Context) (*SweepSummary, error) {
	return s.payments.SweepPending(ctx, s.cfg.PendingMinAge, s.cfg.PendingBatchSize)
}

// RunCompletion completes confirmed bookings whose service has ended
func (s *CronService) RunCompletion(ctx context.Context) (int, error) {
	return s.bookings.CompleteEnded(ctx, s.cfg.CompletionGrace, completionBatchSize)
}

func (s *CronService) reconcilePendingJob() {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	summary, err := s.RunPendingSweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Pending payment sweep failed")
		return
	}
	if summary.Checked == 0 {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"checked":   summary.Checked,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"pending":   summary.Pending,
		"errors":    summary.Errors,
		"duration":  time.Since(startTime).String(),
	}).Info("[CRON] Pending payment sweep finished")
}

func (s *CronService) completeBookingsJob() {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	completed, err := s.RunCompletion(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Booking completion failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"completed": completed,
		"duration":  time.Since(startTime).String(),
	}).Info("[CRON] Booking completion finished")
}
