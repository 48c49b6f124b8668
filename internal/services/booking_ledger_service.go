package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/events"
	"github.com/spacehub/booking-backend/internal/metrics"
	"github.com/spacehub/booking-backend/internal/models"
)

// BookingLedgerConfig holds ledger settings
type BookingLedgerConfig struct {
	ReservationWindow time.Duration // How long a booking may stay pending_payment
	DefaultCurrency   string        // Used when a space has no currency of its own
}

// DefaultLedgerConfig returns sensible defaults
func DefaultLedgerConfig() BookingLedgerConfig {
	return BookingLedgerConfig{
		ReservationWindow: 15 * time.Minute,
		DefaultCurrency:   "KES",
	}
}

// BookingLedgerService owns booking creation and every status transition.
// All transitions are conditional writes in the store, so concurrent
// callers resolve as first commit wins.
type BookingLedgerService struct {
	spaces database.SpaceStore
	store  database.BookingStore
	bus    *events.EventBus
	config BookingLedgerConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewBookingLedgerService creates a new ledger service
func NewBookingLedgerService(
	spaces database.SpaceStore,
	store database.BookingStore,
	bus *events.EventBus,
	config BookingLedgerConfig,
	logger *logrus.Logger,
) *BookingLedgerService {
	return &BookingLedgerService{
		spaces: spaces,
		store:  store,
		bus:    bus,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// ReservationWindow returns how long a pending booking holds its slot
func (s *BookingLedgerService) ReservationWindow() time.Duration {
	return s.config.ReservationWindow
}

// ============================================================================
// RESERVE
// ============================================================================

// Reserve atomically re-checks availability and inserts a pending_payment
// booking whose amount_due is frozen from the space's current rates
func (s *BookingLedgerService) Reserve(ctx context.Context, spaceID, requesterID uuid.UUID, start, end time.Time) (*models.Booking, error) {
	interval := models.NewInterval(start, end)
	if err := interval.Validate(); err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}

	space, err := s.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		metrics.IncReservation("error")
		return nil, fmt.Errorf("failed to load space: %w", err)
	}
	if space == nil {
		return nil, models.ErrSpaceNotFound
	}
	if !space.IsBookable() {
		metrics.IncReservation("unavailable")
		return nil, fmt.Errorf("%w: %s", models.ErrSpaceUnavailable, space.Name)
	}

	currency := space.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	now := s.now().UTC()
	booking := &models.Booking{
		ID:          uuid.New(),
		SpaceID:     spaceID,
		RequesterID: requesterID,
		StartTime:   interval.Start,
		EndTime:     interval.End,
		Status:      models.BookingStatusPendingPayment,
		AmountDue:   space.Quote(interval.Start, interval.End),
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	expired, err := s.store.ReserveBooking(ctx, booking, now.Add(-s.config.ReservationWindow))
	s.publishExpired(expired)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSlotConflict):
			metrics.IncReservation("conflict")
			s.logger.WithFields(logrus.Fields{
				"space_id":     spaceID,
				"requester_id": requesterID,
				"start_time":   interval.Start,
				"end_time":     interval.End,
			}).Info("Reservation lost to an overlapping booking")
			return nil, err
		case errors.Is(err, models.ErrSpaceNotFound):
			return nil, err
		}
		metrics.IncReservation("error")
		return nil, fmt.Errorf("failed to reserve slot: %w", err)
	}

	metrics.IncReservation("reserved")
	s.publish(events.EventBookingReserved, booking, "")

	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"space_id":     spaceID,
		"requester_id": requesterID,
		"amount_due":   booking.AmountDue,
		"currency":     booking.Currency,
	}).Info("Slot reserved pending payment")

	return booking, nil
}

// ============================================================================
// PAYMENT INTENT
// ============================================================================

// AttachPaymentIntent records the gateway intent on a pending booking
func (s *BookingLedgerService) AttachPaymentIntent(ctx context.Context, bookingID uuid.UUID, intentID string) (*models.Booking, error) {
	updated, err := s.store.SetPaymentIntent(ctx, bookingID, intentID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if updated != nil {
		return updated, nil
	}

	current, err := s.mustGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.BookingStatusPendingPayment {
		return nil, fmt.Errorf("%w: cannot attach payment to %s booking", models.ErrInvalidState, current.Status)
	}
	return nil, fmt.Errorf("%w: booking already has a different payment intent", models.ErrInvalidState)
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Confirm moves a pending booking to confirmed when intentID is the booking's
// own intent. Confirming an already confirmed booking with the same intent
// is a no-op success.
func (s *BookingLedgerService) Confirm(ctx context.Context, bookingID uuid.UUID, intentID string) (*models.Booking, error) {
	booking, err := s.mustGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !booking.HasIntent(intentID) {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"intent_id":  intentID,
			"status":     booking.Status,
		}).Warn("Confirmation intent does not match booking")
		return nil, fmt.Errorf("%w: intent %s", models.ErrIntentMismatch, intentID)
	}

	switch booking.Status {
	case models.BookingStatusConfirmed:
		return booking, nil
	case models.BookingStatusPendingPayment:
	default:
		return nil, fmt.Errorf("%w: cannot confirm %s booking", models.ErrInvalidState, booking.Status)
	}

	now := s.now().UTC()
	if booking.IsStale(now, s.config.ReservationWindow) {
		return nil, s.expireLateHold(ctx, booking, intentID, now)
	}

	// the store re-checks the window so a sweep or reserve cannot race us
	staleBefore := now.Add(-s.config.ReservationWindow)
	updated, err := s.store.TransitionBooking(ctx, bookingID, models.BookingTransition{
		From:        []models.BookingStatus{models.BookingStatusPendingPayment},
		To:          models.BookingStatusConfirmed,
		IntentID:    &intentID,
		StaleBefore: &staleBefore,
		At:          now,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// Someone else committed first
		current, err := s.mustGet(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.BookingStatusConfirmed && current.HasIntent(intentID) {
			return current, nil
		}
		if current.IsStale(now, s.config.ReservationWindow) {
			return nil, s.expireLateHold(ctx, current, intentID, now)
		}
		return nil, fmt.Errorf("%w: booking became %s", models.ErrInvalidState, current.Status)
	}

	s.publish(events.EventBookingConfirmed, updated, "")
	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"intent_id":  intentID,
	}).Info("Booking confirmed")

	return updated, nil
}

// Fail moves a pending booking to failed and releases its slot.
// A booking that is already terminal is returned unchanged.
func (s *BookingLedgerService) Fail(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	booking, err := s.mustGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.IsTerminal() {
		return booking, nil
	}

	updated, err := s.store.TransitionBooking(ctx, bookingID, models.BookingTransition{
		From:          []models.BookingStatus{models.BookingStatusPendingPayment},
		To:            models.BookingStatusFailed,
		FailureReason: &reason,
		At:            s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return s.mustGet(ctx, bookingID)
	}

	s.publish(events.EventBookingFailed, updated, reason)
	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"reason":     reason,
	}).Info("Booking failed, slot released")

	return updated, nil
}

// Cancel aborts a booking on behalf of its requester or an admin.
// Confirmed bookings can only be cancelled before they start.
func (s *BookingLedgerService) Cancel(ctx context.Context, bookingID uuid.UUID, principal models.Principal) (*models.Booking, error) {
	booking, err := s.mustGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !principal.CanAccess(booking) {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"user_id":    principal.UserID,
		}).Warn("Cancel attempted by non-owner")
		return nil, models.ErrNotAuthorized
	}

	now := s.now().UTC()
	switch booking.Status {
	case models.BookingStatusPendingPayment:
	case models.BookingStatusConfirmed:
		if !now.Before(booking.StartTime) {
			return nil, fmt.Errorf("%w: confirmed booking has already started", models.ErrInvalidState)
		}
	default:
		return nil, fmt.Errorf("%w: booking is already %s", models.ErrInvalidState, booking.Status)
	}

	userID := principal.UserID
	updated, err := s.store.TransitionBooking(ctx, bookingID, models.BookingTransition{
		From:        []models.BookingStatus{booking.Status},
		To:          models.BookingStatusCancelled,
		CancelledBy: &userID,
		At:          now,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := s.mustGet(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: booking became %s", models.ErrInvalidState, current.Status)
	}

	s.publish(events.EventBookingCancelled, updated, "")
	s.logger.WithFields(logrus.Fields{
		"booking_id":   bookingID,
		"cancelled_by": userID,
		"was":          booking.Status,
		"admin":        booking.RequesterID != userID,
	}).Info("Booking cancelled")

	return updated, nil
}

// ExpireStale moves every pending booking whose reservation window elapsed
// before now to expired and returns them
func (s *BookingLedgerService) ExpireStale(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	now = now.UTC()
	expired, err := s.store.ExpireStale(ctx, now.Add(-s.config.ReservationWindow), now)
	if err != nil {
		return nil, err
	}

	s.publishExpired(expired)
	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("Expired stale bookings")
	}
	return expired, nil
}

// ============================================================================
// READS
// ============================================================================

// Get returns a booking visible to the principal
func (s *BookingLedgerService) Get(ctx context.Context, bookingID uuid.UUID, principal models.Principal) (*models.Booking, error) {
	booking, err := s.mustGet(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(booking) {
		return nil, models.ErrNotAuthorized
	}
	return booking, nil
}

// GetByIntent returns the booking owning intentID, or nil if none does
func (s *BookingLedgerService) GetByIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	return s.store.GetBookingByIntent(ctx, intentID)
}

// ListByRequester returns a requester's bookings
func (s *BookingLedgerService) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	return s.store.ListByRequester(ctx, requesterID, limit, offset)
}

// ListBySpace returns a space's bookings
func (s *BookingLedgerService) ListBySpace(ctx context.Context, spaceID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	return s.store.ListBySpace(ctx, spaceID, limit, offset)
}

func (s *BookingLedgerService) mustGet(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.ErrBookingNotFound
	}
	return booking, nil
}

// expireLateHold releases a pending booking whose window elapsed before the
// payment confirmation arrived. The slot may already belong to someone else,
// so the payment is left for reconciliation rather than confirmed.
func (s *BookingLedgerService) expireLateHold(ctx context.Context, booking *models.Booking, intentID string, now time.Time) error {
	updated, err := s.store.TransitionBooking(ctx, booking.ID, models.BookingTransition{
		From: []models.BookingStatus{models.BookingStatusPendingPayment},
		To:   models.BookingStatusExpired,
		At:   now,
	})
	if err != nil {
		return err
	}
	if updated != nil {
		s.publishExpired([]*models.Booking{updated})
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"intent_id":  intentID,
		"created_at": booking.CreatedAt,
		"expires_at": booking.ExpiresAt(s.config.ReservationWindow),
	}).Warn("Payment confirmed after reservation window, booking expired instead")

	return fmt.Errorf("%w: reservation window elapsed before payment confirmed", models.ErrInvalidState)
}

func (s *BookingLedgerService) publishExpired(expired []*models.Booking) {
	for _, b := range expired {
		s.publish(events.EventBookingExpired, b, "reservation window elapsed")
	}
}

func (s *BookingLedgerService) publish(eventType string, b *models.Booking, reason string) {
	err := s.bus.PublishJSON(eventType, events.BookingEventPayload{
		BookingID:   b.ID,
		SpaceID:     b.SpaceID,
		RequesterID: b.RequesterID,
		Status:      string(b.Status),
		StartTime:   b.StartTime,
		EndTime:     b.EndTime,
		AmountDue:   b.AmountDue,
		Reason:      reason,
	})
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("Failed to publish booking event")
	}
}
