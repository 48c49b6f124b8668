package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/models"
)

// OrchestrationState is the externally visible progress of a booking request
type OrchestrationState string

const (
	StateRequested       OrchestrationState = "REQUESTED"
	StateReserved        OrchestrationState = "RESERVED"
	StateAwaitingPayment OrchestrationState = "AWAITING_PAYMENT"
	StateConfirmed       OrchestrationState = "CONFIRMED"
	StateDeclined        OrchestrationState = "DECLINED"
	StateExpired         OrchestrationState = "EXPIRED"
	StateCancelled       OrchestrationState = "CANCELLED"
)

// StateOf maps a stored booking to its orchestration state
func StateOf(b *models.Booking) OrchestrationState {
	switch b.Status {
	case models.BookingStatusPendingPayment:
		return StateAwaitingPayment
	case models.BookingStatusConfirmed:
		return StateConfirmed
	case models.BookingStatusFailed:
		return StateDeclined
	case models.BookingStatusExpired:
		return StateExpired
	case models.BookingStatusCancelled:
		return StateCancelled
	}
	return StateRequested
}

// BookingHandle is what a requester gets back after BookSpace
type BookingHandle struct {
	Booking      *models.Booking
	State        OrchestrationState
	IntentID     string
	ClientSecret string
	ExpiresAt    time.Time
}

// BookingOrchestratorService drives a booking request through
// reserve -> payment intent -> confirmation
type BookingOrchestratorService struct {
	checker     *AvailabilityChecker
	ledger      *BookingLedgerService
	coordinator *PaymentCoordinatorService
	retry       RetryPolicy
	logger      *logrus.Logger
	now         func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	checker *AvailabilityChecker,
	ledger *BookingLedgerService,
	coordinator *PaymentCoordinatorService,
	retry RetryPolicy,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		checker:     checker,
		ledger:      ledger,
		coordinator: coordinator,
		retry:       retry,
		logger:      logger,
		now:         time.Now,
	}
}

// ============================================================================
// BOOK SPACE
// ============================================================================

// BookSpace reserves [start, end) on the space for the requester and opens a
// payment intent for it. On success the booking is AWAITING_PAYMENT and the
// handle carries the client secret the requester pays with.
//
// A gateway rejection fails the booking and returns ErrGatewayRejected.
// If the gateway stays unavailable after every retry the booking is failed
// too and ErrPaymentRetryable is returned; the slot is free again.
func (s *BookingOrchestratorService) BookSpace(
	ctx context.Context,
	requesterID, spaceID uuid.UUID,
	start, end time.Time,
) (*BookingHandle, error) {
	// REQUESTED
	interval := models.NewInterval(start, end)
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	if interval.Start.Before(s.now().UTC()) {
		return nil, fmt.Errorf("%w: start time is in the past", models.ErrInvalidInterval)
	}

	// Fast path; Reserve re-checks under the space lock
	available, err := s.checker.IsAvailable(ctx, spaceID, interval.Start, interval.End, nil)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, models.ErrSlotConflict
	}

	// RESERVED
	booking, err := s.ledger.Reserve(ctx, spaceID, requesterID, interval.Start, interval.End)
	if err != nil {
		return nil, err
	}

	ref, err := s.createIntentWithRetry(ctx, booking)
	if err != nil {
		return nil, s.abandon(ctx, booking, err)
	}

	// AWAITING_PAYMENT
	booking.PaymentIntentID = &ref.IntentID

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"space_id":   spaceID,
		"intent_id":  ref.IntentID,
		"amount_due": booking.AmountDue,
	}).Info("Booking awaiting payment")

	return &BookingHandle{
		Booking:      booking,
		State:        StateAwaitingPayment,
		IntentID:     ref.IntentID,
		ClientSecret: ref.ClientSecret,
		ExpiresAt:    booking.ExpiresAt(s.ledger.ReservationWindow()),
	}, nil
}

// createIntentWithRetry retries transient gateway failures with backoff.
// No store lock is held here.
func (s *BookingOrchestratorService) createIntentWithRetry(ctx context.Context, booking *models.Booking) (*models.PaymentIntentRef, error) {
	attempts := s.retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ref, err := s.coordinator.CreateIntent(ctx, booking)
		if err == nil {
			return ref, nil
		}
		lastErr = err

		if !errors.Is(err, models.ErrGatewayUnavailable) {
			return nil, err
		}

		log := s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"attempt":    attempt,
			"max":        attempts,
		})
		if attempt == attempts {
			log.WithError(err).Error("Payment gateway unavailable, giving up")
			break
		}

		delay := s.retry.NextDelay(attempt)
		log.WithError(err).WithField("retry_in", delay.String()).Warn("Payment gateway unavailable, retrying")
		if err := sleepContext(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
		}
	}
	return nil, lastErr
}

// abandon fails the reservation after an intent could not be created and
// returns the error for the caller
func (s *BookingOrchestratorService) abandon(ctx context.Context, booking *models.Booking, cause error) error {
	reason := "payment intent rejected"
	if !errors.Is(cause, models.ErrGatewayRejected) {
		reason = "payment gateway unavailable"
	}

	// The request context may already be cancelled; the slot must still be released
	if _, err := s.ledger.Fail(context.WithoutCancel(ctx), booking.ID, reason); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to release reservation")
	}

	if errors.Is(cause, models.ErrGatewayRejected) {
		return cause
	}
	return fmt.Errorf("%w: %v", models.ErrPaymentRetryable, cause)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Cancel cancels a booking on behalf of the principal
func (s *BookingOrchestratorService) Cancel(ctx context.Context, bookingID uuid.UUID, principal models.Principal) (*models.Booking, error) {
	return s.ledger.Cancel(ctx, bookingID, principal)
}

// HandleGatewayEvent folds an inbound gateway event into the ledger
func (s *BookingOrchestratorService) HandleGatewayEvent(ctx context.Context, event *models.GatewayEvent) (*ReconcileResult, error) {
	return s.coordinator.Reconcile(ctx, event)
}

// ConfirmPayment is the client-driven path: the requester reports that the
// payment sheet completed and the booking is refreshed from the gateway
func (s *BookingOrchestratorService) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, principal models.Principal) (*models.Booking, error) {
	booking, err := s.ledger.Get(ctx, bookingID, principal)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPendingPayment {
		return booking, nil
	}

	result, err := s.coordinator.RefreshFromGateway(ctx, booking)
	if err != nil {
		return nil, err
	}
	if result.Booking != nil {
		return result.Booking, nil
	}
	return booking, nil
}

// ExpireStale sweeps bookings whose reservation window elapsed
func (s *BookingOrchestratorService) ExpireStale(ctx context.Context) ([]*models.Booking, error) {
	return s.ledger.ExpireStale(ctx, s.now())
}

// ============================================================================
// QUERIES
// ============================================================================

// GetBooking returns a booking visible to the principal
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, bookingID uuid.UUID, principal models.Principal) (*models.Booking, error) {
	return s.ledger.Get(ctx, bookingID, principal)
}

// ListMyBookings returns the principal's own bookings
func (s *BookingOrchestratorService) ListMyBookings(ctx context.Context, principal models.Principal, limit, offset int) ([]*models.Booking, error) {
	return s.ledger.ListByRequester(ctx, principal.UserID, limit, offset)
}

// ListSpaceBookings returns the bookings of a space
func (s *BookingOrchestratorService) ListSpaceBookings(ctx context.Context, spaceID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	return s.ledger.ListBySpace(ctx, spaceID, limit, offset)
}

// CheckAvailability reports whether [start, end) is free on the space
func (s *BookingOrchestratorService) CheckAvailability(ctx context.Context, spaceID uuid.UUID, start, end time.Time) (bool, error) {
	return s.checker.IsAvailable(ctx, spaceID, start, end, nil)
}

// ReservationWindow returns how long an unpaid booking holds its slot
func (s *BookingOrchestratorService) ReservationWindow() time.Duration {
	return s.ledger.ReservationWindow()
}
