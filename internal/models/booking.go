package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUSES (matches DB ENUM: booking_status)
// ============================================================================

// BookingStatus represents the ledger status of a booking
type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "pending_payment" // Slot held, waiting for payment
	BookingStatusConfirmed      BookingStatus = "confirmed"       // Payment succeeded
	BookingStatusCancelled      BookingStatus = "cancelled"       // Requester or operator abort
	BookingStatusFailed         BookingStatus = "failed"          // Payment declined or never started
	BookingStatusExpired        BookingStatus = "expired"         // Reservation window elapsed
)

// ActiveBookingStatuses are the statuses that occupy a slot
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPendingPayment,
	BookingStatusConfirmed,
}

// ============================================================================
// INTERVAL
// ============================================================================

// Interval is a half-open time range [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval normalises both instants to UTC
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// Validate checks that the interval is well formed
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidInterval)
	}
	if !i.Start.Before(i.End) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidInterval)
	}
	return nil
}

// Overlaps reports whether two half-open intervals intersect
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// ============================================================================
// BOOKING (bookings table)
// ============================================================================

// Booking is a ledger record holding a space for an interval
type Booking struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	SpaceID         uuid.UUID     `db:"space_id" json:"space_id"`
	RequesterID     uuid.UUID     `db:"requester_id" json:"requester_id"`
	StartTime       time.Time     `db:"start_time" json:"start_time"`
	EndTime         time.Time     `db:"end_time" json:"end_time"`
	Status          BookingStatus `db:"status" json:"status"`
	PaymentIntentID *string       `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	AmountDue       int64         `db:"amount_due" json:"amount_due"` // frozen at reservation
	Currency        string        `db:"currency" json:"currency"`
	FailureReason   *string       `db:"failure_reason" json:"failure_reason,omitempty"`
	CancelledBy     *uuid.UUID    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	ConfirmedAt     *time.Time    `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// Interval returns the booking's half-open interval
func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// IsActive reports whether the booking occupies its slot
func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusPendingPayment || b.Status == BookingStatusConfirmed
}

// IsTerminal reports whether no further payment transition can happen
func (b *Booking) IsTerminal() bool {
	return b.Status != BookingStatusPendingPayment
}

// IsStale reports whether a pending booking has outlived its reservation window
func (b *Booking) IsStale(now time.Time, window time.Duration) bool {
	return b.Status == BookingStatusPendingPayment && b.CreatedAt.Add(window).Before(now)
}

// HasIntent reports whether the given intent id is the one stored on the booking
func (b *Booking) HasIntent(intentID string) bool {
	return b.PaymentIntentID != nil && *b.PaymentIntentID == intentID
}

// ExpiresAt is the moment a pending booking becomes eligible for expiry
func (b *Booking) ExpiresAt(window time.Duration) time.Time {
	return b.CreatedAt.Add(window)
}

// Clone returns a copy that shares no pointers with the original
func (b *Booking) Clone() *Booking {
	c := *b
	if b.PaymentIntentID != nil {
		v := *b.PaymentIntentID
		c.PaymentIntentID = &v
	}
	if b.FailureReason != nil {
		v := *b.FailureReason
		c.FailureReason = &v
	}
	if b.CancelledBy != nil {
		v := *b.CancelledBy
		c.CancelledBy = &v
	}
	if b.ConfirmedAt != nil {
		v := *b.ConfirmedAt
		c.ConfirmedAt = &v
	}
	return &c
}

// BookingTransition describes a conditional status change applied by a store.
// The change only commits when the booking is currently in one of From.
type BookingTransition struct {
	From          []BookingStatus
	To            BookingStatus
	IntentID      *string // when set, the stored payment intent must match
	FailureReason *string
	CancelledBy   *uuid.UUID
	StaleBefore   *time.Time // when set, the booking must have been created at or after it
	At            time.Time
}

// Allows reports whether the transition may start from the booking's current state
func (t BookingTransition) Allows(b *Booking) bool {
	if t.IntentID != nil && !b.HasIntent(*t.IntentID) {
		return false
	}
	if t.StaleBefore != nil && b.CreatedAt.Before(*t.StaleBefore) {
		return false
	}
	for _, s := range t.From {
		if s == b.Status {
			return true
		}
	}
	return false
}

// Apply mutates b to the target state
func (t BookingTransition) Apply(b *Booking) {
	b.Status = t.To
	b.UpdatedAt = t.At
	if t.FailureReason != nil {
		reason := *t.FailureReason
		b.FailureReason = &reason
	}
	if t.CancelledBy != nil {
		by := *t.CancelledBy
		b.CancelledBy = &by
	}
	if t.To == BookingStatusConfirmed {
		at := t.At
		b.ConfirmedAt = &at
	}
}
