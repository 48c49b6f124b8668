package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/models"
)

// BookingExpirationService periodically expires bookings that were never paid
// within their reservation window, releasing their slots
type BookingExpirationService struct {
	cron     *cron.Cron
	ledger   *BookingLedgerService
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	lastRun time.Time
	lastErr error
}

// NewBookingExpirationService creates a new expiration service
func NewBookingExpirationService(
	ledger *BookingLedgerService,
	interval time.Duration,
	logger *logrus.Logger,
) *BookingExpirationService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BookingExpirationService{
		cron:     cron.New(),
		ledger:   ledger,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep and runs it once immediately
func (s *BookingExpirationService) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("Booking expiration sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiration sweep: %w", err)
	}

	s.mu.Lock()
	s.entryID = id
	s.mu.Unlock()

	s.logger.WithField("interval", s.interval.String()).Info("Starting booking expiration service")

	go func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("Initial booking expiration sweep failed")
		}
	}()
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *BookingExpirationService) Stop() {
	s.logger.Info("Stopping booking expiration service")
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce expires every stale pending booking now
func (s *BookingExpirationService) RunOnce(ctx context.Context) ([]*models.Booking, error) {
	started := time.Now()
	expired, err := s.ledger.ExpireStale(ctx, started)

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to expire stale bookings: %w", err)
	}

	if len(expired) > 0 {
		s.logger.WithFields(logrus.Fields{
			"count":    len(expired),
			"duration": time.Since(started).String(),
		}).Info("Booking expiration sweep completed")
	}
	return expired, nil
}

// Status reports the schedule and the outcome of the last sweep
func (s *BookingExpirationService) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"interval": s.interval.String(),
		"last_run": s.lastRun,
	}
	if s.entryID != 0 {
		status["next_run"] = s.cron.Entry(s.entryID).Next
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}
	return status
}
