package models

import "errors"

// Booking errors surfaced to callers. Wrap with fmt.Errorf("...: %w") and
// match with errors.Is.
var (
	// ErrInvalidInterval is returned for malformed or past-dated intervals
	ErrInvalidInterval = errors.New("invalid booking interval")

	// ErrSlotConflict is returned when the interval overlaps an active booking
	ErrSlotConflict = errors.New("slot no longer available")

	// ErrSpaceUnavailable is returned when the space is administratively blocked
	ErrSpaceUnavailable = errors.New("space is under maintenance")

	ErrSpaceNotFound   = errors.New("space not found")
	ErrBookingNotFound = errors.New("booking not found")

	// ErrNotAuthorized is returned when a principal acts on a booking it does not own
	ErrNotAuthorized = errors.New("not authorized for this booking")

	// ErrInvalidState is returned for illegal transitions, including the loser of a race
	ErrInvalidState = errors.New("invalid booking state")

	// ErrIntentMismatch is returned when a payment intent does not belong to the booking
	ErrIntentMismatch = errors.New("payment intent does not match booking")
)

// Payment gateway errors
var (
	// ErrGatewayUnavailable is transient (timeouts, 5xx) and may be retried
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected is a permanent rejection such as an invalid amount
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrPaymentRetryable is returned once gateway retries are exhausted and the
	// booking has been released; the caller may try again
	ErrPaymentRetryable = errors.New("payment could not be started, please retry")
)
