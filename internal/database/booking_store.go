package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
)

// SpaceStore reads the space records owned by the listing service
type SpaceStore interface {
	// GetSpace returns nil, nil when the space does not exist
	GetSpace(ctx context.Context, spaceID uuid.UUID) (*models.Space, error)
}

// BookingStore is the transactional ledger of bookings keyed by space.
//
// Read methods return nil, nil when nothing matches. Conditional writes
// (SetPaymentIntent, TransitionBooking) also return nil, nil when the
// booking is not in a state that allows the change, so callers can re-read
// and decide how to report the lost race.
type BookingStore interface {
	// ReserveBooking atomically expires the space's pending bookings created
	// before staleBefore, re-checks the interval against active bookings and
	// inserts booking. Returns the holds it expired, models.ErrSlotConflict
	// on overlap and models.ErrSpaceNotFound when the space row is missing.
	// The expired holds are also returned alongside ErrSlotConflict.
	ReserveBooking(ctx context.Context, booking *models.Booking, staleBefore time.Time) ([]*models.Booking, error)

	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetBookingByIntent(ctx context.Context, intentID string) (*models.Booking, error)

	// FindOverlapping lists active bookings intersecting interval. Pending
	// bookings created before staleBefore are ignored.
	FindOverlapping(ctx context.Context, spaceID uuid.UUID, interval models.Interval, excludeID *uuid.UUID, staleBefore time.Time) ([]*models.Booking, error)

	// SetPaymentIntent records intentID on a pending booking that has no
	// intent yet (or already has the same one).
	SetPaymentIntent(ctx context.Context, bookingID uuid.UUID, intentID string, at time.Time) (*models.Booking, error)

	TransitionBooking(ctx context.Context, bookingID uuid.UUID, t models.BookingTransition) (*models.Booking, error)

	// ExpireStale moves every pending booking created before staleBefore to expired
	ExpireStale(ctx context.Context, staleBefore, at time.Time) ([]*models.Booking, error)

	ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*models.Booking, error)
	ListBySpace(ctx context.Context, spaceID uuid.UUID, limit, offset int) ([]*models.Booking, error)
}

// PaymentEventStore keeps the audit trail of gateway events
type PaymentEventStore interface {
	RecordPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	ListPaymentEvents(ctx context.Context, intentID string) ([]*models.PaymentEvent, error)
}
