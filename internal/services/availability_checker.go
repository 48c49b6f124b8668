package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/models"
)

// AvailabilityChecker answers whether an interval on a space is free.
// It is a read-only query; the ledger re-checks atomically when reserving.
type AvailabilityChecker struct {
	store  database.BookingStore
	window time.Duration
	now    func() time.Time
}

// NewAvailabilityChecker creates a checker. Pending bookings older than
// reservationWindow no longer count as occupying their slot.
func NewAvailabilityChecker(store database.BookingStore, reservationWindow time.Duration) *AvailabilityChecker {
	return &AvailabilityChecker{
		store:  store,
		window: reservationWindow,
		now:    time.Now,
	}
}

// IsAvailable reports whether no pending or confirmed booking other than
// excludeBookingID overlaps [start, end) on the space
func (c *AvailabilityChecker) IsAvailable(
	ctx context.Context,
	spaceID uuid.UUID,
	start, end time.Time,
	excludeBookingID *uuid.UUID,
) (bool, error) {
	overlapping, err := c.Conflicts(ctx, spaceID, start, end, excludeBookingID)
	if err != nil {
		return false, err
	}
	return len(overlapping) == 0, nil
}

// Conflicts returns the active bookings that overlap [start, end)
func (c *AvailabilityChecker) Conflicts(
	ctx context.Context,
	spaceID uuid.UUID,
	start, end time.Time,
	excludeBookingID *uuid.UUID,
) ([]*models.Booking, error) {
	interval := models.NewInterval(start, end)
	if err := interval.Validate(); err != nil {
		return nil, err
	}

	staleBefore := c.now().UTC().Add(-c.window)
	overlapping, err := c.store.FindOverlapping(ctx, spaceID, interval, excludeBookingID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	return overlapping, nil
}
