package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spacehub/booking-backend/internal/models"
)

const bookingColumns = `
	id, space_id, requester_id, start_time, end_time, status,
	payment_intent_id, amount_due, currency, failure_reason,
	cancelled_by, confirmed_at, created_at, updated_at`

// BookingRepository is the PostgreSQL implementation of BookingStore.
// Reservations serialize per space by locking the space row; the
// bookings_no_overlap exclusion constraint backs that up at the storage layer.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// RESERVE
// ============================================================================

// ReserveBooking expires stale holds, re-checks overlap and inserts in one
// transaction. The holds it expired are returned even when the insert fails.
func (r *BookingRepository) ReserveBooking(ctx context.Context, booking *models.Booking, staleBefore time.Time) ([]*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Lock the space row; concurrent reservations for the same space queue here
	var lockedID uuid.UUID
	err = tx.GetContext(ctx, &lockedID, `SELECT id FROM spaces WHERE id = $1 FOR UPDATE`, booking.SpaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSpaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock space: %w", err)
	}

	// 2. Release holds whose reservation window has elapsed
	expired := []*models.Booking{}
	err = tx.SelectContext(ctx, &expired, `
		UPDATE bookings
		SET status = 'expired', updated_at = $3
		WHERE space_id = $1 AND status = 'pending_payment' AND created_at < $2
		RETURNING `+bookingColumns,
		booking.SpaceID, staleBefore, booking.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale bookings: %w", err)
	}

	// 3. Overlap check against slot-holding bookings
	var conflicts int
	err = tx.GetContext(ctx, &conflicts, `
		SELECT COUNT(*) FROM bookings
		WHERE space_id = $1
		  AND status IN ('pending_payment', 'confirmed')
		  AND start_time < $2 AND end_time > $3`,
		booking.SpaceID, booking.EndTime, booking.StartTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlapping bookings: %w", err)
	}
	if conflicts > 0 {
		// keep the expiry even though this reservation loses
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit expired holds: %w", err)
		}
		return expired, models.ErrSlotConflict
	}

	// 4. Insert the hold
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, space_id, requester_id, start_time, end_time, status,
			amount_due, currency, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		booking.ID, booking.SpaceID, booking.RequesterID, booking.StartTime, booking.EndTime,
		booking.Status, booking.AmountDue, booking.Currency, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		if isOverlapViolation(err) {
			return nil, models.ErrSlotConflict
		}
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isOverlapViolation(err) {
			return nil, models.ErrSlotConflict
		}
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return expired, nil
}

// ============================================================================
// READS
// ============================================================================

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	err := r.db.GetContext(ctx, &booking, query, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetBookingByIntent retrieves the booking that owns a payment intent
func (r *BookingRepository) GetBookingByIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_intent_id = $1`
	err := r.db.GetContext(ctx, &booking, query, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by intent: %w", err)
	}
	return &booking, nil
}

// FindOverlapping lists active bookings that intersect the interval
func (r *BookingRepository) FindOverlapping(
	ctx context.Context,
	spaceID uuid.UUID,
	interval models.Interval,
	excludeID *uuid.UUID,
	staleBefore time.Time,
) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE space_id = $1
		  AND start_time < $2 AND end_time > $3
		  AND (status = 'confirmed' OR (status = 'pending_payment' AND created_at >= $4))`
	args := []interface{}{spaceID, interval.End, interval.Start, staleBefore}
	if excludeID != nil {
		query += ` AND id <> $5`
		args = append(args, *excludeID)
	}
	query += ` ORDER BY start_time`

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	return bookings, nil
}

// ListByRequester returns a requester's bookings, newest interval first
func (r *BookingRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE requester_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3`

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, requesterID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list requester bookings: %w", err)
	}
	return bookings, nil
}

// ListBySpace returns a space's bookings, newest interval first
func (r *BookingRepository) ListBySpace(ctx context.Context, spaceID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE space_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3`

	bookings := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, spaceID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list space bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// CONDITIONAL WRITES
// ============================================================================

// SetPaymentIntent records the gateway intent on a pending booking
func (r *BookingRepository) SetPaymentIntent(ctx context.Context, bookingID uuid.UUID, intentID string, at time.Time) (*models.Booking, error) {
	var booking models.Booking
	query := `
		UPDATE bookings
		SET payment_intent_id = $2, updated_at = $3
		WHERE id = $1
		  AND status = 'pending_payment'
		  AND (payment_intent_id IS NULL OR payment_intent_id = $2)
		RETURNING ` + bookingColumns

	err := r.db.GetContext(ctx, &booking, query, bookingID, intentID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to attach payment intent: %w", err)
	}
	return &booking, nil
}

// TransitionBooking applies t only if the booking is still in one of t.From.
// The first writer wins; a loser gets nil, nil.
func (r *BookingRepository) TransitionBooking(ctx context.Context, bookingID uuid.UUID, t models.BookingTransition) (*models.Booking, error) {
	if len(t.From) == 0 {
		return nil, fmt.Errorf("transition to %s has no source states", t.To)
	}

	// Optional columns go to the driver as untyped nil; a typed nil pointer
	// would reach the uuid.UUID Value method and panic.
	var failureReason, cancelledBy, confirmedAt interface{}
	if t.FailureReason != nil {
		failureReason = *t.FailureReason
	}
	if t.CancelledBy != nil {
		cancelledBy = *t.CancelledBy
	}
	if t.To == models.BookingStatusConfirmed {
		confirmedAt = t.At
	}

	args := []interface{}{string(t.To), t.At, failureReason, cancelledBy, confirmedAt, bookingID}
	placeholders := make([]string, len(t.From))
	for i, status := range t.From {
		args = append(args, string(status))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE bookings
		SET status = $1,
		    updated_at = $2,
		    failure_reason = COALESCE($3, failure_reason),
		    cancelled_by = COALESCE($4, cancelled_by),
		    confirmed_at = COALESCE($5, confirmed_at)
		WHERE id = $6 AND status IN (` + strings.Join(placeholders, ", ") + `)`
	if t.IntentID != nil {
		args = append(args, *t.IntentID)
		query += fmt.Sprintf(" AND payment_intent_id = $%d", len(args))
	}
	if t.StaleBefore != nil {
		args = append(args, *t.StaleBefore)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	query += ` RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition booking to %s: %w", t.To, err)
	}
	return &booking, nil
}

// ExpireStale moves pending bookings past their reservation window to expired
func (r *BookingRepository) ExpireStale(ctx context.Context, staleBefore, at time.Time) ([]*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = 'expired', updated_at = $2
		WHERE status = 'pending_payment' AND created_at < $1
		RETURNING ` + bookingColumns

	expired := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &expired, query, staleBefore, at); err != nil {
		return nil, fmt.Errorf("failed to expire stale bookings: %w", err)
	}
	return expired, nil
}

// ListStale returns the pending bookings ExpireStale would expire, oldest first
func (r *BookingRepository) ListStale(ctx context.Context, staleBefore time.Time) ([]*models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending_payment' AND created_at < $1
		ORDER BY created_at`

	stale := []*models.Booking{}
	if err := r.db.SelectContext(ctx, &stale, query, staleBefore); err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return stale, nil
}
