package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/config"
	"github.com/spacehub/booking-backend/internal/models"
)

// PaymentGateway is the external service that issues and reports payment intents
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntentRef, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*models.PaymentIntentRef, error)
}

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body
const SignatureHeader = "X-Gateway-Signature"

// PaymentGatewayService talks to the payment gateway REST API
type PaymentGatewayService struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// gatewayIntentRequest is the body of POST /v1/payment_intents
type gatewayIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// gatewayIntentResponse is the gateway's payment intent representation
type gatewayIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// gatewayErrorResponse is returned on non-2xx responses
type gatewayErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// gatewayWebhookPayload is the body of an inbound webhook
type gatewayWebhookPayload struct {
	ID            string `json:"id"`
	IntentID      string `json:"intent_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// NewPaymentGatewayService creates a new gateway client
func NewPaymentGatewayService(cfg *config.PaymentConfig, logger *logrus.Logger) *PaymentGatewayService {
	return &PaymentGatewayService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ============================================================================
// CREATE INTENT
// ============================================================================

// CreatePaymentIntent asks the gateway to open a charge for amount.
// The booking id in metadata doubles as the idempotency key, so a retried
// call after a timeout returns the same intent.
func (s *PaymentGatewayService) CreatePaymentIntent(
	ctx context.Context,
	amount int64,
	currency string,
	metadata map[string]string,
) (*models.PaymentIntentRef, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: payment gateway not configured", models.ErrGatewayUnavailable)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", models.ErrGatewayRejected, amount)
	}

	body, err := json.Marshal(&gatewayIntentRequest{
		Amount:   amount,
		Currency: strings.ToLower(currency),
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("/v1/payment_intents"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := metadata["booking_id"]; key != "" {
		req.Header.Set("Idempotency-Key", "booking-"+key)
	}

	s.logger.WithFields(logrus.Fields{
		"amount":     amount,
		"currency":   currency,
		"booking_id": metadata["booking_id"],
	}).Info("Creating payment intent")

	var resp gatewayIntentResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.ClientSecret == "" {
		return nil, fmt.Errorf("%w: gateway response missing intent id or client secret", models.ErrGatewayUnavailable)
	}

	s.logger.WithFields(logrus.Fields{
		"intent_id":  resp.ID,
		"booking_id": metadata["booking_id"],
	}).Info("Payment intent created")

	return resp.toRef(), nil
}

// GetPaymentIntent fetches the current status of an intent
func (s *PaymentGatewayService) GetPaymentIntent(ctx context.Context, intentID string) (*models.PaymentIntentRef, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: payment gateway not configured", models.ErrGatewayUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint("/v1/payment_intents/"+url.PathEscape(intentID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var resp gatewayIntentResponse
	if err := s.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.toRef(), nil
}

// do sends req with credentials and decodes a 2xx body into out.
// Transport failures, timeouts, 408, 429 and 5xx are ErrGatewayUnavailable;
// every other non-2xx status is ErrGatewayRejected.
func (s *PaymentGatewayService) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("url", req.URL.Path).Warn("Payment gateway call failed")
		return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", models.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gwErr gatewayErrorResponse
		_ = json.Unmarshal(body, &gwErr)
		msg := gwErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}

		s.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"code":        gwErr.Error.Code,
			"message":     msg,
		}).Warn("Payment gateway returned error")

		switch {
		case resp.StatusCode >= 500,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%w: status %d: %s", models.ErrGatewayUnavailable, resp.StatusCode, msg)
		default:
			return fmt.Errorf("%w: status %d: %s", models.ErrGatewayRejected, resp.StatusCode, msg)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", models.ErrGatewayUnavailable, err)
	}
	return nil
}

func (s *PaymentGatewayService) endpoint(path string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

func (r *gatewayIntentResponse) toRef() *models.PaymentIntentRef {
	return &models.PaymentIntentRef{
		IntentID:     r.ID,
		ClientSecret: r.ClientSecret,
		Amount:       r.Amount,
		Currency:     strings.ToUpper(r.Currency),
		Status:       models.IntentStatus(r.Status),
	}
}

// ============================================================================
// WEBHOOKS
// ============================================================================

// ErrInvalidSignature is returned when a webhook signature does not verify
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignPayload returns the hex HMAC-SHA256 of body under the webhook secret
func (s *PaymentGatewayService) SignPayload(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.config.WebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature (when a secret is configured) and parses the event
func (s *PaymentGatewayService) VerifyWebhook(body []byte, signature string) (*models.GatewayEvent, error) {
	if s.config.WebhookSecret != "" {
		expected := s.SignPayload(body)
		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
			return nil, ErrInvalidSignature
		}
	}

	var payload gatewayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if payload.IntentID == "" || payload.Status == "" {
		return nil, fmt.Errorf("webhook missing required fields")
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":  payload.ID,
		"intent_id": payload.IntentID,
		"status":    payload.Status,
		"amount":    payload.Amount,
	}).Info("Webhook payload verified")

	return &models.GatewayEvent{
		EventID:       payload.ID,
		IntentID:      payload.IntentID,
		Status:        models.IntentStatus(strings.ToLower(payload.Status)),
		Amount:        payload.Amount,
		Currency:      strings.ToUpper(payload.Currency),
		TransactionID: payload.TransactionID,
		PaymentMethod: payload.PaymentMethod,
		Raw:           body,
	}, nil
}

// IsConfigured returns true if the gateway has an endpoint and credentials
func (s *PaymentGatewayService) IsConfigured() bool {
	return s.config.BaseURL != "" && s.config.APIKey != ""
}
