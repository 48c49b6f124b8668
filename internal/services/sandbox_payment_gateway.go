package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/models"
)

// SandboxPaymentGateway issues intents in process for local development when
// no real gateway is configured. Intents stay in requires_confirmation until
// a webhook is posted for them.
type SandboxPaymentGateway struct {
	mu      sync.Mutex
	intents map[string]*models.PaymentIntentRef
	logger  *logrus.Logger
}

// NewSandboxPaymentGateway creates an empty sandbox gateway
func NewSandboxPaymentGateway(logger *logrus.Logger) *SandboxPaymentGateway {
	return &SandboxPaymentGateway{
		intents: make(map[string]*models.PaymentIntentRef),
		logger:  logger,
	}
}

// CreatePaymentIntent returns a new sandbox intent
func (g *SandboxPaymentGateway) CreatePaymentIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntentRef, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", models.ErrGatewayRejected, amount)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Same booking -> same intent, like the real gateway's idempotency key
	id := sandboxIntentID(metadata["booking_id"])
	if existing, ok := g.intents[id]; ok {
		c := *existing
		return &c, nil
	}

	ref := &models.PaymentIntentRef{
		IntentID:     id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
		Status:       models.IntentStatusRequiresConfirmation,
	}
	g.intents[id] = ref

	g.logger.WithFields(logrus.Fields{
		"intent_id":  id,
		"amount":     amount,
		"booking_id": metadata["booking_id"],
	}).Warn("Sandbox payment intent created (gateway not configured)")

	c := *ref
	return &c, nil
}

// GetPaymentIntent returns a sandbox intent
func (g *SandboxPaymentGateway) GetPaymentIntent(_ context.Context, intentID string) (*models.PaymentIntentRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", models.ErrGatewayRejected, intentID)
	}
	c := *ref
	return &c, nil
}

// SetStatus moves a sandbox intent to status
func (g *SandboxPaymentGateway) SetStatus(intentID string, status models.IntentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("no such intent %s", intentID)
	}
	ref.Status = status
	return nil
}

func sandboxIntentID(bookingID string) string {
	if bookingID == "" {
		bookingID = uuid.NewString()
	}
	return "pi_sandbox_" + strings.ReplaceAll(bookingID, "-", "")
}
