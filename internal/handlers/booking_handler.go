package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/middleware"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/spacehub/booking-backend/internal/services"
)

const (
	maxPageSize = 100

	// seconds a client should wait before retrying after a gateway outage
	paymentRetryAfter = "5"
)

// WebhookVerifier authenticates and parses inbound gateway webhooks
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) (*models.GatewayEvent, error)
}

// BookingHandler handles space booking and payment endpoints
type BookingHandler struct {
	orchestrator    *services.BookingOrchestratorService
	verifier        WebhookVerifier
	defaultPageSize int
	logger          *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	orchestrator *services.BookingOrchestratorService,
	verifier WebhookVerifier,
	defaultPageSize int,
	logger *logrus.Logger,
) *BookingHandler {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &BookingHandler{
		orchestrator:    orchestrator,
		verifier:        verifier,
		defaultPageSize: defaultPageSize,
		logger:          logger,
	}
}

// BookSpaceRequest is the body of POST /spaces/:id/book
type BookSpaceRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// BookSpaceResponse is returned when a booking awaits payment
type BookSpaceResponse struct {
	BookingID    uuid.UUID `json:"booking_id"`
	Status       string    `json:"status"`
	ClientSecret string    `json:"client_secret"`
	AmountDue    int64     `json:"amount_due"`
	Currency     string    `json:"currency"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// BookingResponse is the API view of a booking. Requester and payment
// details are omitted from public slot listings.
type BookingResponse struct {
	BookingID       uuid.UUID            `json:"booking_id"`
	SpaceID         uuid.UUID            `json:"space_id"`
	RequesterID     *uuid.UUID           `json:"requester_id,omitempty"`
	Status          string               `json:"status"`
	BookingStatus   models.BookingStatus `json:"booking_status"`
	StartTime       time.Time            `json:"start_time"`
	EndTime         time.Time            `json:"end_time"`
	AmountDue       *int64               `json:"amount_due,omitempty"`
	Currency        string               `json:"currency,omitempty"`
	PaymentIntentID *string              `json:"payment_intent_id,omitempty"`
	FailureReason   *string              `json:"failure_reason,omitempty"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	ConfirmedAt     *time.Time           `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// RegisterRoutes wires the booking endpoints. protected must already carry
// the auth middleware; book is applied to booking creation only.
func (h *BookingHandler) RegisterRoutes(public, protected *gin.RouterGroup, book ...gin.HandlerFunc) {
	public.POST("/payments/webhook", h.PaymentWebhook)

	spaces := protected.Group("/spaces/:id")
	{
		spaces.POST("/book", append(book, h.BookSpace)...)
		spaces.GET("/bookings", h.ListSpaceBookings)
		spaces.GET("/availability", h.CheckAvailability)
	}

	bookings := protected.Group("/bookings")
	{
		bookings.GET("/my", h.ListMyBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.DELETE("/:id", h.CancelBooking)
		bookings.POST("/:id/confirm-payment", h.ConfirmPayment)
	}

	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/bookings/expire-stale", h.ExpireStale)
	}
}

// ============================================================================
// BOOK SPACE - POST /api/v1/spaces/:id/book
// ============================================================================

// BookSpace reserves an interval and opens a payment intent for it
func (h *BookingHandler) BookSpace(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	spaceID, ok := parseUUIDParam(c, "id", "space")
	if !ok {
		return
	}

	var req BookSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request: "+err.Error(), "INVALID_REQUEST")
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		respondError(c, http.StatusBadRequest, "invalid_request", "start_time and end_time are required", "INVALID_REQUEST")
		return
	}

	handle, err := h.orchestrator.BookSpace(c.Request.Context(), userCtx.UserID, spaceID, req.StartTime, req.EndTime)
	if err != nil {
		h.handleError(c, err, logrus.Fields{"space_id": spaceID, "user_id": userCtx.UserID})
		return
	}

	c.JSON(http.StatusCreated, BookSpaceResponse{
		BookingID:    handle.Booking.ID,
		Status:       string(handle.State),
		ClientSecret: handle.ClientSecret,
		AmountDue:    handle.Booking.AmountDue,
		Currency:     handle.Booking.Currency,
		ExpiresAt:    handle.ExpiresAt,
	})
}

// ============================================================================
// BOOKINGS
// ============================================================================

// CancelBooking cancels a booking owned by the caller (or any booking for admins)
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	bookingID, ok := parseUUIDParam(c, "id", "booking")
	if !ok {
		return
	}

	if _, err := h.orchestrator.Cancel(c.Request.Context(), bookingID, userCtx.Principal()); err != nil {
		h.handleError(c, err, logrus.Fields{"booking_id": bookingID, "user_id": userCtx.UserID})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetBooking returns a booking with its orchestration state
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	bookingID, ok := parseUUIDParam(c, "id", "booking")
	if !ok {
		return
	}

	booking, err := h.orchestrator.GetBooking(c.Request.Context(), bookingID, userCtx.Principal())
	if err != nil {
		h.handleError(c, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	c.JSON(http.StatusOK, h.toResponse(booking, true))
}

// ConfirmPayment refreshes a pending booking from the gateway after the
// client finished the payment sheet
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	bookingID, ok := parseUUIDParam(c, "id", "booking")
	if !ok {
		return
	}

	booking, err := h.orchestrator.ConfirmPayment(c.Request.Context(), bookingID, userCtx.Principal())
	if err != nil {
		h.handleError(c, err, logrus.Fields{"booking_id": bookingID})
		return
	}

	c.JSON(http.StatusOK, h.toResponse(booking, true))
}

// ListMyBookings returns the caller's bookings
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	limit, offset := h.pagination(c)
	bookings, err := h.orchestrator.ListMyBookings(c.Request.Context(), userCtx.Principal(), limit, offset)
	if err != nil {
		h.handleError(c, err, logrus.Fields{"user_id": userCtx.UserID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": h.toResponses(bookings, true),
		"limit":    limit,
		"offset":   offset,
	})
}

// ListSpaceBookings returns a space's bookings. Admins see full details;
// everyone else sees the occupied slots only.
func (h *BookingHandler) ListSpaceBookings(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized", "User not authenticated", "UNAUTHORIZED")
		return
	}

	spaceID, ok := parseUUIDParam(c, "id", "space")
	if !ok {
		return
	}

	limit, offset := h.pagination(c)
	bookings, err := h.orchestrator.ListSpaceBookings(c.Request.Context(), spaceID, limit, offset)
	if err != nil {
		h.handleError(c, err, logrus.Fields{"space_id": spaceID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": h.toResponses(bookings, userCtx.Principal().IsAdmin()),
		"limit":    limit,
		"offset":   offset,
	})
}

// CheckAvailability reports whether an interval is free on a space
func (h *BookingHandler) CheckAvailability(c *gin.Context) {
	spaceID, ok := parseUUIDParam(c, "id", "space")
	if !ok {
		return
	}

	start, errStart := time.Parse(time.RFC3339, c.Query("start_time"))
	end, errEnd := time.Parse(time.RFC3339, c.Query("end_time"))
	if errStart != nil || errEnd != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "start_time and end_time must be RFC 3339 timestamps", "INVALID_REQUEST")
		return
	}

	available, err := h.orchestrator.CheckAvailability(c.Request.Context(), spaceID, start, end)
	if err != nil {
		h.handleError(c, err, logrus.Fields{"space_id": spaceID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"space_id":   spaceID,
		"start_time": start.UTC(),
		"end_time":   end.UTC(),
		"available":  available,
	})
}

// ExpireStale runs an expiry sweep now instead of waiting for the scheduler
func (h *BookingHandler) ExpireStale(c *gin.Context) {
	expired, err := h.orchestrator.ExpireStale(c.Request.Context())
	if err != nil {
		h.handleError(c, err, logrus.Fields{"operation": "expire_stale"})
		return
	}

	ids := make([]uuid.UUID, 0, len(expired))
	for _, b := range expired {
		ids = append(ids, b.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"expired":     len(expired),
		"booking_ids": ids,
	})
}

// ============================================================================
// PAYMENT WEBHOOK - POST /api/v1/payments/webhook
// ============================================================================

// PaymentWebhook receives gateway status events. Every event that parses is
// acknowledged, including duplicates and anomalies, so the gateway stops
// redelivering it.
func (h *BookingHandler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		respondError(c, http.StatusBadRequest, "invalid_request", "Failed to read request body", "INVALID_REQUEST")
		return
	}

	event, err := h.verifier.VerifyWebhook(body, c.GetHeader(services.SignatureHeader))
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			h.logger.WithField("ip", c.ClientIP()).Warn("Webhook signature rejected")
			respondError(c, http.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed", "INVALID_SIGNATURE")
			return
		}
		h.logger.WithError(err).Warn("Failed to parse webhook payload")
		respondError(c, http.StatusBadRequest, "invalid_payload", "Invalid webhook payload", "INVALID_PAYLOAD")
		return
	}

	result, err := h.orchestrator.HandleGatewayEvent(c.Request.Context(), event)
	if err != nil {
		h.logger.WithError(err).WithField("intent_id", event.IntentID).Error("Failed to reconcile webhook")
		respondError(c, http.StatusServiceUnavailable, "unavailable", "Webhook could not be processed, please retry", "RECONCILE_UNAVAILABLE")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "webhook acknowledged",
		"outcome": result.Outcome,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *BookingHandler) toResponse(b *models.Booking, full bool) BookingResponse {
	resp := BookingResponse{
		BookingID:     b.ID,
		SpaceID:       b.SpaceID,
		Status:        string(services.StateOf(b)),
		BookingStatus: b.Status,
		StartTime:     b.StartTime,
		EndTime:       b.EndTime,
		CreatedAt:     b.CreatedAt,
	}
	if !full {
		return resp
	}

	requesterID := b.RequesterID
	amount := b.AmountDue
	resp.RequesterID = &requesterID
	resp.AmountDue = &amount
	resp.Currency = b.Currency
	resp.PaymentIntentID = b.PaymentIntentID
	resp.FailureReason = b.FailureReason
	resp.ConfirmedAt = b.ConfirmedAt
	if b.Status == models.BookingStatusPendingPayment {
		expiresAt := b.ExpiresAt(h.orchestrator.ReservationWindow())
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

func (h *BookingHandler) toResponses(bookings []*models.Booking, full bool) []BookingResponse {
	out := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, h.toResponse(b, full))
	}
	return out
}

func (h *BookingHandler) pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = h.defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// handleError maps domain errors to HTTP responses
func (h *BookingHandler) handleError(c *gin.Context, err error, fields logrus.Fields) {
	switch {
	case errors.Is(err, models.ErrInvalidInterval):
		respondError(c, http.StatusUnprocessableEntity, "invalid_interval", err.Error(), "INVALID_INTERVAL")
	case errors.Is(err, models.ErrSlotConflict):
		respondError(c, http.StatusConflict, "slot_conflict", "The requested interval is no longer available", "SLOT_CONFLICT")
	case errors.Is(err, models.ErrSpaceUnavailable):
		respondError(c, http.StatusLocked, "space_unavailable", "The space is not accepting bookings", "SPACE_UNAVAILABLE")
	case errors.Is(err, models.ErrSpaceNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Space not found", "SPACE_NOT_FOUND")
	case errors.Is(err, models.ErrBookingNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Booking not found", "BOOKING_NOT_FOUND")
	case errors.Is(err, models.ErrNotAuthorized):
		respondError(c, http.StatusForbidden, "forbidden", "You are not allowed to act on this booking", "NOT_AUTHORIZED")
	case errors.Is(err, models.ErrInvalidState):
		respondError(c, http.StatusConflict, "invalid_state", err.Error(), "INVALID_STATE")
	case errors.Is(err, models.ErrIntentMismatch):
		respondError(c, http.StatusConflict, "intent_mismatch", "Payment does not belong to this booking", "INTENT_MISMATCH")
	case errors.Is(err, models.ErrPaymentRetryable), errors.Is(err, models.ErrGatewayUnavailable):
		h.logger.WithError(err).WithFields(fields).Warn("Payment gateway unavailable")
		c.Header("Retry-After", paymentRetryAfter)
		respondError(c, http.StatusServiceUnavailable, "payment_unavailable", "Payment provider is temporarily unavailable, please retry", "PAYMENT_UNAVAILABLE")
	case errors.Is(err, models.ErrGatewayRejected):
		h.logger.WithError(err).WithFields(fields).Warn("Payment gateway rejected request")
		respondError(c, http.StatusBadGateway, "payment_rejected", "Payment provider rejected the request", "PAYMENT_REJECTED")
	default:
		h.logger.WithError(err).WithFields(fields).Error("Booking request failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error", "INTERNAL_ERROR")
	}
}

func parseUUIDParam(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid "+label+" id", "INVALID_ID")
		return uuid.Nil, false
	}
	return id, true
}

func respondError(c *gin.Context, status int, errCode, message, code string) {
	c.JSON(status, gin.H{
		"error":   errCode,
		"message": message,
		"code":    code,
	})
}
