package models

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus mirrors the gateway's payment intent status
type IntentStatus string

const (
	IntentStatusRequiresConfirmation IntentStatus = "requires_confirmation"
	IntentStatusSucceeded            IntentStatus = "succeeded"
	IntentStatusFailed               IntentStatus = "failed"
	IntentStatusCanceled             IntentStatus = "canceled"
)

// IsKnown reports whether the status is one the coordinator understands
func (s IntentStatus) IsKnown() bool {
	switch s {
	case IntentStatusRequiresConfirmation, IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled:
		return true
	}
	return false
}

// PaymentIntentRef is the gateway's handle for a pending charge
type PaymentIntentRef struct {
	IntentID     string       `json:"intent_id"`
	ClientSecret string       `json:"client_secret"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	Status       IntentStatus `json:"status"`
}

// GatewayEvent is an asynchronous status notification from the gateway
type GatewayEvent struct {
	EventID       string       `json:"event_id"`
	IntentID      string       `json:"intent_id"`
	Status        IntentStatus `json:"status"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	Raw           []byte       `json:"-"`
}

// ReconcileOutcome classifies how a gateway event was absorbed
type ReconcileOutcome string

const (
	OutcomeApplied       ReconcileOutcome = "applied"        // Booking transitioned
	OutcomeDuplicate     ReconcileOutcome = "duplicate"      // Already in the target state or event seen
	OutcomeIgnored       ReconcileOutcome = "ignored"        // Non-final status, nothing to do
	OutcomeAnomaly       ReconcileOutcome = "anomaly"        // Out of order or mismatched, logged only
	OutcomeUnknownIntent ReconcileOutcome = "unknown_intent" // No booking owns the intent
)

// PaymentEvent is the audit record of a gateway event (payment_events table)
type PaymentEvent struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	BookingID     *uuid.UUID       `db:"booking_id" json:"booking_id,omitempty"`
	EventID       *string          `db:"event_id" json:"event_id,omitempty"`
	IntentID      string           `db:"intent_id" json:"intent_id"`
	Status        IntentStatus     `db:"status" json:"status"`
	Amount        int64            `db:"amount" json:"amount"`
	TransactionID *string          `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentMethod *string          `db:"payment_method" json:"payment_method,omitempty"`
	Outcome       ReconcileOutcome `db:"outcome" json:"outcome"`
	Detail        *string          `db:"detail" json:"detail,omitempty"`
	RawPayload    []byte           `db:"raw_payload" json:"-"`
	ReceivedAt    time.Time        `db:"received_at" json:"received_at"`
}
