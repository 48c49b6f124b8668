package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/models"
)

// PaymentEventRepository stores every gateway event the coordinator receives
type PaymentEventRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentEventRepository creates a new payment event repository
func NewPaymentEventRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentEventRepository {
	return &PaymentEventRepository{
		db:     db,
		logger: logger,
	}
}

// RecordPaymentEvent inserts an audit row for a gateway event
func (r *PaymentEventRepository) RecordPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil {
		return fmt.Errorf("payment event cannot be nil")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_events (
			id, booking_id, event_id, intent_id, status, amount,
			transaction_id, payment_method, outcome, detail, raw_payload, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.BookingID, event.EventID, event.IntentID, event.Status, event.Amount,
		event.TransactionID, event.PaymentMethod, event.Outcome, event.Detail, event.RawPayload, event.ReceivedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"intent_id": event.IntentID,
			"status":    event.Status,
			"outcome":   event.Outcome,
		}).Error("Failed to record payment event")
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}

// ListPaymentEvents returns the audit trail of an intent in arrival order
func (r *PaymentEventRepository) ListPaymentEvents(ctx context.Context, intentID string) ([]*models.PaymentEvent, error) {
	query := `
		SELECT id, booking_id, event_id, intent_id, status, amount,
		       transaction_id, payment_method, outcome, detail, raw_payload, received_at
		FROM payment_events
		WHERE intent_id = $1
		ORDER BY received_at`

	events := []*models.PaymentEvent{}
	if err := r.db.SelectContext(ctx, &events, query, intentID); err != nil {
		return nil, fmt.Errorf("failed to list payment events: %w", err)
	}
	return events, nil
}
