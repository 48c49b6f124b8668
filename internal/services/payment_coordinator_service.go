package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/metrics"
	"github.com/spacehub/booking-backend/internal/models"
)

// EventDeduplicator remembers which gateway events were already processed
type EventDeduplicator interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// ReconcileResult describes how a gateway event was absorbed. Anomaly is
// set when the event was logged and dropped instead of applied.
type ReconcileResult struct {
	Outcome models.ReconcileOutcome
	Booking *models.Booking
	Anomaly error
}

// PaymentCoordinatorService links ledger bookings to gateway payment intents
// and folds gateway status events back into the ledger. It never decides
// slot occupancy itself.
type PaymentCoordinatorService struct {
	gateway        PaymentGateway
	ledger         *BookingLedgerService
	audit          database.PaymentEventStore
	dedup          EventDeduplicator
	gatewayTimeout time.Duration
	logger         *logrus.Logger
}

// NewPaymentCoordinatorService creates a coordinator. audit and dedup are optional.
func NewPaymentCoordinatorService(
	gateway PaymentGateway,
	ledger *BookingLedgerService,
	audit database.PaymentEventStore,
	dedup EventDeduplicator,
	gatewayTimeout time.Duration,
	logger *logrus.Logger,
) *PaymentCoordinatorService {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}
	return &PaymentCoordinatorService{
		gateway:        gateway,
		ledger:         ledger,
		audit:          audit,
		dedup:          dedup,
		gatewayTimeout: gatewayTimeout,
		logger:         logger,
	}
}

// ============================================================================
// CREATE INTENT
// ============================================================================

// CreateIntent opens a gateway charge for the booking's frozen amount and
// records the intent on the booking. Returns ErrGatewayUnavailable for
// transient failures (including timeouts) and ErrGatewayRejected otherwise.
func (s *PaymentCoordinatorService) CreateIntent(ctx context.Context, booking *models.Booking) (*models.PaymentIntentRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	ref, err := s.gateway.CreatePaymentIntent(callCtx, booking.AmountDue, booking.Currency, map[string]string{
		"booking_id":   booking.ID.String(),
		"space_id":     booking.SpaceID.String(),
		"requester_id": booking.RequesterID.String(),
	})
	if err != nil {
		err = classifyGatewayError(err)
		result := "unavailable"
		if errors.Is(err, models.ErrGatewayRejected) {
			result = "rejected"
		}
		metrics.IncGatewayCall("create_intent", result)
		return nil, err
	}
	metrics.IncGatewayCall("create_intent", "ok")

	if _, err := s.ledger.AttachPaymentIntent(ctx, booking.ID, ref.IntentID); err != nil {
		return nil, fmt.Errorf("failed to attach payment intent: %w", err)
	}
	return ref, nil
}

// classifyGatewayError makes sure every gateway failure is one of the two
// gateway sentinels. Anything unclassified is treated as transient.
func classifyGatewayError(err error) error {
	if errors.Is(err, models.ErrGatewayRejected) || errors.Is(err, models.ErrGatewayUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
}

// ============================================================================
// RECONCILE
// ============================================================================

// Reconcile applies a gateway status event to the owning booking.
// Duplicate, out-of-order and mismatched events are logged and absorbed;
// an error is returned only when the ledger itself could not be reached.
func (s *PaymentCoordinatorService) Reconcile(ctx context.Context, event *models.GatewayEvent) (*ReconcileResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"event_id":  event.EventID,
		"intent_id": event.IntentID,
		"status":    event.Status,
	})

	// The marker is kept only once the event is fully reconciled; an error
	// or a panic releases it so the gateway's redelivery is processed.
	reconciled := false
	if event.EventID != "" && s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, event.EventID)
		if err != nil {
			// the ledger is idempotent, so fall through and process
			log.WithError(err).Warn("Event de-duplication unavailable")
		} else if seen {
			log.Info("Duplicate gateway event ignored")
			result := &ReconcileResult{Outcome: models.OutcomeDuplicate}
			s.finish(ctx, event, result)
			return result, nil
		} else {
			defer func() {
				if !reconciled {
					s.forget(ctx, event)
				}
			}()
		}
	}

	booking, err := s.ledger.GetByIntent(ctx, event.IntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up booking for intent: %w", err)
	}
	if booking == nil {
		result := &ReconcileResult{
			Outcome: models.OutcomeUnknownIntent,
			Anomaly: fmt.Errorf("%w: no booking owns intent %s", models.ErrIntentMismatch, event.IntentID),
		}
		log.WithError(result.Anomaly).Warn("Gateway event anomaly")
		reconciled = true
		s.finish(ctx, event, result)
		return result, nil
	}
	log = log.WithField("booking_id", booking.ID)

	var result *ReconcileResult
	switch event.Status {
	case models.IntentStatusSucceeded:
		result, err = s.applySucceeded(ctx, booking, event)
	case models.IntentStatusFailed, models.IntentStatusCanceled:
		result, err = s.applyFailed(ctx, booking, event)
	case models.IntentStatusRequiresConfirmation:
		result = &ReconcileResult{Outcome: models.OutcomeIgnored, Booking: booking}
	default:
		result = &ReconcileResult{
			Outcome: models.OutcomeAnomaly,
			Booking: booking,
			Anomaly: fmt.Errorf("unknown gateway status %q", event.Status),
		}
	}
	if err != nil {
		return nil, err
	}

	entry := log.WithFields(logrus.Fields{
		"outcome":        result.Outcome,
		"booking_status": booking.Status,
	})
	if result.Anomaly != nil {
		entry.WithError(result.Anomaly).Warn("Gateway event anomaly")
	} else {
		entry.Info("Gateway event reconciled")
	}

	reconciled = true
	s.finish(ctx, event, result)
	return result, nil
}

func (s *PaymentCoordinatorService) applySucceeded(ctx context.Context, booking *models.Booking, event *models.GatewayEvent) (*ReconcileResult, error) {
	if event.Amount > 0 && event.Amount != booking.AmountDue {
		return &ReconcileResult{
			Outcome: models.OutcomeAnomaly,
			Booking: booking,
			Anomaly: fmt.Errorf("%w: paid %d, due %d", models.ErrIntentMismatch, event.Amount, booking.AmountDue),
		}, nil
	}

	alreadyConfirmed := booking.Status == models.BookingStatusConfirmed
	updated, err := s.ledger.Confirm(ctx, booking.ID, event.IntentID)
	switch {
	case err == nil:
		outcome := models.OutcomeApplied
		if alreadyConfirmed {
			outcome = models.OutcomeDuplicate
		}
		return &ReconcileResult{Outcome: outcome, Booking: updated}, nil
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrIntentMismatch):
		// e.g. success arriving after the booking failed, expired or was cancelled
		current, getErr := s.ledger.GetByIntent(ctx, event.IntentID)
		if getErr != nil || current == nil {
			current = booking
		}
		return &ReconcileResult{Outcome: models.OutcomeAnomaly, Booking: current, Anomaly: err}, nil
	default:
		return nil, err
	}
}

func (s *PaymentCoordinatorService) applyFailed(ctx context.Context, booking *models.Booking, event *models.GatewayEvent) (*ReconcileResult, error) {
	updated, err := s.ledger.Fail(ctx, booking.ID, fmt.Sprintf("payment %s", event.Status))
	if err != nil {
		return nil, err
	}

	switch {
	case booking.Status == models.BookingStatusPendingPayment && updated.Status == models.BookingStatusFailed:
		return &ReconcileResult{Outcome: models.OutcomeApplied, Booking: updated}, nil
	case booking.Status == models.BookingStatusFailed:
		return &ReconcileResult{Outcome: models.OutcomeDuplicate, Booking: updated}, nil
	default:
		return &ReconcileResult{
			Outcome: models.OutcomeAnomaly,
			Booking: updated,
			Anomaly: fmt.Errorf("%w: %s event for %s booking", models.ErrInvalidState, event.Status, updated.Status),
		}, nil
	}
}

// RefreshFromGateway pulls the intent status from the gateway and reconciles
// it. Used when the client reports completion before the webhook arrives.
func (s *PaymentCoordinatorService) RefreshFromGateway(ctx context.Context, booking *models.Booking) (*ReconcileResult, error) {
	if booking.PaymentIntentID == nil {
		return nil, fmt.Errorf("%w: no payment has been started for this booking", models.ErrInvalidState)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	ref, err := s.gateway.GetPaymentIntent(callCtx, *booking.PaymentIntentID)
	if err != nil {
		err = classifyGatewayError(err)
		metrics.IncGatewayCall("get_intent", "error")
		return nil, err
	}
	metrics.IncGatewayCall("get_intent", "ok")

	return s.Reconcile(ctx, &models.GatewayEvent{
		IntentID: ref.IntentID,
		Status:   ref.Status,
		Amount:   ref.Amount,
		Currency: ref.Currency,
	})
}

// finish records metrics and the audit row for a processed event
func (s *PaymentCoordinatorService) finish(ctx context.Context, event *models.GatewayEvent, result *ReconcileResult) {
	metrics.IncReconcile(string(result.Outcome))

	if s.audit == nil {
		return
	}

	record := &models.PaymentEvent{
		IntentID:   event.IntentID,
		Status:     event.Status,
		Amount:     event.Amount,
		Outcome:    result.Outcome,
		RawPayload: event.Raw,
	}
	if result.Booking != nil {
		id := result.Booking.ID
		record.BookingID = &id
	}
	if event.EventID != "" {
		v := event.EventID
		record.EventID = &v
	}
	if event.TransactionID != "" {
		v := event.TransactionID
		record.TransactionID = &v
	}
	if event.PaymentMethod != "" {
		v := event.PaymentMethod
		record.PaymentMethod = &v
	}
	if result.Anomaly != nil {
		v := result.Anomaly.Error()
		record.Detail = &v
	}

	if err := s.audit.RecordPaymentEvent(ctx, record); err != nil {
		s.logger.WithError(err).WithField("intent_id", event.IntentID).Error("Failed to audit gateway event")
	}
}

// forget releases the de-dup marker so the gateway's redelivery is processed
func (s *PaymentCoordinatorService) forget(ctx context.Context, event *models.GatewayEvent) {
	if event.EventID == "" || s.dedup == nil {
		return
	}
	if err := s.dedup.Forget(ctx, event.EventID); err != nil {
		s.logger.WithError(err).WithField("event_id", event.EventID).Warn("Failed to release event marker")
	}
}
