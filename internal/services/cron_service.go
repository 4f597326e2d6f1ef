package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tourlink/booking-backend/internal/config"
)

// Reconciler is the part of the orchestrator the background jobs drive
type Reconciler interface {
	ReconcileOpenPayments(ctx context.Context) (ReconcileReport, error)
	RetryPendingSupplierSubmissions(ctx context.Context) (ReconcileReport, error)
}

const (
	jobPaymentPoll   = "payment_poll"
	jobSupplierRetry = "supplier_retry"

	jobTimeout = 2 * time.Minute
)

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	reconciler Reconciler
	config     config.CronConfig
	logger     *logrus.Logger
	entries    map[string]cron.EntryID
}

// NewCronService creates a new CronService
func NewCronService(reconciler Reconciler, cfg config.CronConfig, logger *logrus.Logger) *CronService {
	// Seconds precision; a run still in progress makes the next tick a no-op
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)

	return &CronService{
		cron:       c,
		reconciler: reconciler,
		config:     cfg,
		logger:     logger,
		entries:    map[string]cron.EntryID{},
	}
}

// Start schedules the reconciliation jobs and starts the scheduler
func (s *CronService) Start() error {
	// Cron format: second minute hour day month weekday

	// Job 1: poll wallet sessions whose webhook never arrived
	id, err := s.cron.AddFunc(s.config.PaymentPoll, s.paymentPollJob)
	if err != nil {
		return fmt.Errorf("failed to schedule payment poll job: %w", err)
	}
	s.entries[jobPaymentPoll] = id
	s.logger.WithField("spec", s.config.PaymentPoll).Info("Scheduled: payment reconciliation")

	// Job 2: resubmit paid bookings the supplier could not be reached for
	id, err = s.cron.AddFunc(s.config.SupplierRetry, s.supplierRetryJob)
	if err != nil {
		return fmt.Errorf("failed to schedule supplier retry job: %w", err)
	}
	s.entries[jobSupplierRetry] = id
	s.logger.WithField("spec", s.config.SupplierRetry).Info("Scheduled: supplier retry")

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

func (s *CronService) paymentPollJob() {
	s.run(jobPaymentPoll, s.reconciler.ReconcileOpenPayments)
}

func (s *CronService) supplierRetryJob() {
	s.run(jobSupplierRetry, s.reconciler.RetryPendingSupplierSubmissions)
}

func (s *CronService) run(name string, job func(context.Context) (ReconcileReport, error)) ReconcileReport {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	report, err := job(ctx)

	log := s.logger.WithFields(logrus.Fields{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
		"scanned":     report.Scanned,
		"confirmed":   report.Confirmed,
		"failed":      report.Failed,
		"pending":     report.Pending,
		"errors":      report.Errors,
	})
	if err != nil {
		log.WithError(err).Error("[CRON] Job failed")
		return report
	}
	if report.Scanned > 0 {
		log.Info("[CRON] Job finished")
	} else {
		log.Debug("[CRON] Nothing to do")
	}
	return report
}

// RunPaymentPollNow runs the payment reconciliation immediately
func (s *CronService) RunPaymentPollNow() ReconcileReport {
	return s.run(jobPaymentPoll, s.reconciler.ReconcileOpenPayments)
}

// RunSupplierRetryNow runs the supplier retry immediately
func (s *CronService) RunSupplierRetryNow() ReconcileReport {
	return s.run(jobSupplierRetry, s.reconciler.RetryPendingSupplierSubmissions)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	jobs := make([]map[string]interface{}, 0, len(s.entries))
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		jobs = append(jobs, map[string]interface{}{
			"name":     name,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(s.entries) > 0,
		"job_count": len(s.entries),
		"jobs":      jobs,
	}
}
