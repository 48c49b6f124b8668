package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorFixture struct {
	*ledgerFixture
	gateway     *stubGateway
	dedup       *memoryDedup
	coordinator *PaymentCoordinatorService
}

func newCoordinatorFixture(t *testing.T, createErrs ...error) *coordinatorFixture {
	t.Helper()
	f := newLedgerFixture(t)
	gateway := newStubGateway(createErrs...)
	dedup := newMemoryDedup()
	return &coordinatorFixture{
		ledgerFixture: f,
		gateway:       gateway,
		dedup:         dedup,
		coordinator:   NewPaymentCoordinatorService(gateway, f.ledger, f.store, dedup, time.Second, discardLogger()),
	}
}

// pending reserves [10,12) and opens an intent for it
func (f *coordinatorFixture) pending(t *testing.T) (*models.Booking, string) {
	t.Helper()
	ctx := context.Background()

	b, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
	require.NoError(t, err)
	ref, err := f.coordinator.CreateIntent(ctx, b)
	require.NoError(t, err)
	return b, ref.IntentID
}

// brokenIntentStore fails every intent lookup
type brokenIntentStore struct {
	*database.MemoryBookingStore
}

func (s *brokenIntentStore) GetBookingByIntent(context.Context, string) (*models.Booking, error) {
	return nil, errors.New("connection refused")
}

// panickingIntentStore panics on the first n intent lookups, then recovers
type panickingIntentStore struct {
	*database.MemoryBookingStore
	n int
}

func (s *panickingIntentStore) GetBookingByIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	if s.n > 0 {
		s.n--
		panic("nil map write in intent index")
	}
	return s.MemoryBookingStore.GetBookingByIntent(ctx, intentID)
}

func TestCoordinator_CreateIntent(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	b, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
	require.NoError(t, err)

	ref, err := f.coordinator.CreateIntent(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "pi_"+b.ID.String(), ref.IntentID)
	assert.NotEmpty(t, ref.ClientSecret)
	assert.Equal(t, int64(1000), ref.Amount)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasIntent(ref.IntentID))
	assert.Equal(t, models.BookingStatusPendingPayment, stored.Status)
}

func TestCoordinator_CreateIntentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", fmt.Errorf("%w: amount too small", models.ErrGatewayRejected), models.ErrGatewayRejected},
		{"unavailable", fmt.Errorf("%w: status 503", models.ErrGatewayUnavailable), models.ErrGatewayUnavailable},
		{"unclassified is transient", errors.New("tls handshake timeout"), models.ErrGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCoordinatorFixture(t, tt.err)
			ctx := context.Background()

			b, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
			require.NoError(t, err)

			ref, err := f.coordinator.CreateIntent(ctx, b)
			assert.Nil(t, ref)
			assert.ErrorIs(t, err, tt.want)

			stored, err := f.store.GetBooking(ctx, b.ID)
			require.NoError(t, err)
			assert.Nil(t, stored.PaymentIntentID)
		})
	}
}

func TestCoordinator_CreateIntentOnReleasedBooking(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	b, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, b.ID, models.Principal{UserID: b.RequesterID})
	require.NoError(t, err)

	_, err = f.coordinator.CreateIntent(ctx, b)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCoordinator_ReconcileSucceeded(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	b, intentID := f.pending(t)

	result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{
		EventID:       "evt_1",
		IntentID:      intentID,
		Status:        models.IntentStatusSucceeded,
		Amount:        1000,
		TransactionID: "txn_1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Nil(t, result.Anomaly)
	assert.Equal(t, models.BookingStatusConfirmed, result.Booking.Status)
	assert.Equal(t, models.BookingStatusConfirmed, f.mustStatus(t, b.ID))

	audit, err := f.store.ListPaymentEvents(ctx, intentID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.OutcomeApplied, audit[0].Outcome)
	require.NotNil(t, audit[0].BookingID)
	assert.Equal(t, b.ID, *audit[0].BookingID)
	require.NotNil(t, audit[0].TransactionID)
	assert.Equal(t, "txn_1", *audit[0].TransactionID)
}

func TestCoordinator_ReconcileDuplicates(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	b, intentID := f.pending(t)

	event := &models.GatewayEvent{EventID: "evt_dup", IntentID: intentID, Status: models.IntentStatusSucceeded}

	first, err := f.coordinator.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, first.Outcome)

	// same delivery again
	second, err := f.coordinator.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, second.Outcome)

	// a different event carrying the same news
	third, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{EventID: "evt_other", IntentID: intentID, Status: models.IntentStatusSucceeded})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, third.Outcome)
	assert.Nil(t, third.Anomaly)

	assert.Equal(t, models.BookingStatusConfirmed, f.mustStatus(t, b.ID))

	audit, err := f.store.ListPaymentEvents(ctx, intentID)
	require.NoError(t, err)
	assert.Len(t, audit, 3)
}

func TestCoordinator_ReconcileFailed(t *testing.T) {
	for _, status := range []models.IntentStatus{models.IntentStatusFailed, models.IntentStatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			f := newCoordinatorFixture(t)
			ctx := context.Background()
			b, intentID := f.pending(t)

			result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: status})
			require.NoError(t, err)
			assert.Equal(t, models.OutcomeApplied, result.Outcome)
			assert.Equal(t, models.BookingStatusFailed, f.mustStatus(t, b.ID))

			again, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: status})
			require.NoError(t, err)
			assert.Equal(t, models.OutcomeDuplicate, again.Outcome)

			// the slot is free for someone else
			_, err = f.ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
			assert.NoError(t, err)
		})
	}
}

func TestCoordinator_ReconcileAnomalies(t *testing.T) {
	t.Run("unknown intent", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		result, err := f.coordinator.Reconcile(context.Background(), &models.GatewayEvent{
			IntentID: "pi_nobody", Status: models.IntentStatusSucceeded,
		})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeUnknownIntent, result.Outcome)
		assert.ErrorIs(t, result.Anomaly, models.ErrIntentMismatch)
		assert.Nil(t, result.Booking)
	})

	t.Run("success after failure", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		b, intentID := f.pending(t)
		_, err := f.ledger.Fail(ctx, b.ID, "declined")
		require.NoError(t, err)

		result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: models.IntentStatusSucceeded})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
		assert.ErrorIs(t, result.Anomaly, models.ErrInvalidState)
		assert.Equal(t, models.BookingStatusFailed, f.mustStatus(t, b.ID))
	})

	t.Run("failure after confirmation", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		b, intentID := f.pending(t)
		_, err := f.ledger.Confirm(ctx, b.ID, intentID)
		require.NoError(t, err)

		result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: models.IntentStatusFailed})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
		assert.ErrorIs(t, result.Anomaly, models.ErrInvalidState)
		assert.Equal(t, models.BookingStatusConfirmed, f.mustStatus(t, b.ID))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		b, intentID := f.pending(t)

		result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: models.IntentStatusSucceeded, Amount: 1})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
		assert.ErrorIs(t, result.Anomaly, models.ErrIntentMismatch)
		assert.Equal(t, models.BookingStatusPendingPayment, f.mustStatus(t, b.ID))

		audit, err := f.store.ListPaymentEvents(ctx, intentID)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		require.NotNil(t, audit[0].Detail)
		assert.Contains(t, *audit[0].Detail, "paid 1, due 1000")
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		b, intentID := f.pending(t)

		result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{IntentID: intentID, Status: "chargeback"})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
		assert.Error(t, result.Anomaly)
		assert.Equal(t, models.BookingStatusPendingPayment, f.mustStatus(t, b.ID))
	})
}

func TestCoordinator_ReconcileIgnoresNonFinalStatus(t *testing.T) {
	f := newCoordinatorFixture(t)
	b, intentID := f.pending(t)

	result, err := f.coordinator.Reconcile(context.Background(), &models.GatewayEvent{
		IntentID: intentID, Status: models.IntentStatusRequiresConfirmation,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeIgnored, result.Outcome)
	assert.Equal(t, models.BookingStatusPendingPayment, f.mustStatus(t, b.ID))
}

func TestCoordinator_DedupFailureFailsOpen(t *testing.T) {
	f := newCoordinatorFixture(t)
	b, intentID := f.pending(t)
	f.dedup.seenErr = errors.New("redis down")

	result, err := f.coordinator.Reconcile(context.Background(), &models.GatewayEvent{
		EventID: "evt_open", IntentID: intentID, Status: models.IntentStatusSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, models.BookingStatusConfirmed, f.mustStatus(t, b.ID))
}

func TestCoordinator_LedgerUnreachableReleasesEventMarker(t *testing.T) {
	f := newLedgerFixture(t)
	broken := &brokenIntentStore{MemoryBookingStore: f.store}
	ledger := NewBookingLedgerService(f.store, broken, nil, DefaultLedgerConfig(), discardLogger())
	dedup := newMemoryDedup()
	coordinator := NewPaymentCoordinatorService(newStubGateway(), ledger, f.store, dedup, time.Second, discardLogger())

	result, err := coordinator.Reconcile(context.Background(), &models.GatewayEvent{
		EventID: "evt_retry", IntentID: "pi_any", Status: models.IntentStatusSucceeded,
	})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, dedup.has("evt_retry"), "redelivery must be processed")
}

func TestCoordinator_PanicReleasesEventMarker(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	flaky := &panickingIntentStore{MemoryBookingStore: f.store, n: 1}
	ledger := NewBookingLedgerService(f.store, flaky, f.bus, DefaultLedgerConfig(), discardLogger())
	ledger.now = f.clock.Now
	dedup := newMemoryDedup()
	coordinator := NewPaymentCoordinatorService(newStubGateway(), ledger, f.store, dedup, time.Second, discardLogger())

	b, err := ledger.Reserve(ctx, testSpaceID, uuid.New(), hour(10), hour(12))
	require.NoError(t, err)
	_, err = ledger.AttachPaymentIntent(ctx, b.ID, "pi_crash")
	require.NoError(t, err)

	event := &models.GatewayEvent{
		EventID: "evt_crash", IntentID: "pi_crash", Status: models.IntentStatusSucceeded, Amount: 1000,
	}
	assert.Panics(t, func() { _, _ = coordinator.Reconcile(ctx, event) })
	assert.False(t, dedup.has("evt_crash"), "marker released while the panic unwinds")

	result, err := coordinator.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome, "redelivery is processed, not dropped as a duplicate")
	assert.Equal(t, models.BookingStatusConfirmed, f.mustStatus(t, b.ID))
	assert.True(t, dedup.has("evt_crash"))
}

func TestCoordinator_SuccessAfterWindowIsAnomaly(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()
	b, intentID := f.pending(t)

	f.clock.Advance(f.ledger.ReservationWindow() + time.Minute)

	result, err := f.coordinator.Reconcile(ctx, &models.GatewayEvent{
		EventID: "evt_late", IntentID: intentID, Status: models.IntentStatusSucceeded, Amount: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
	assert.ErrorIs(t, result.Anomaly, models.ErrInvalidState)
	assert.Equal(t, models.BookingStatusExpired, result.Booking.Status)
	assert.Equal(t, models.BookingStatusExpired, f.mustStatus(t, b.ID))
}

func TestCoordinator_RefreshFromGateway(t *testing.T) {
	t.Run("no intent yet", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		b, err := f.ledger.Reserve(context.Background(), testSpaceID, uuid.New(), hour(10), hour(12))
		require.NoError(t, err)

		_, err = f.coordinator.RefreshFromGateway(context.Background(), b)
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("succeeded at gateway", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		_, intentID := f.pending(t)
		f.gateway.setStatus(intentID, models.IntentStatusSucceeded)

		b, err := f.ledger.GetByIntent(ctx, intentID)
		require.NoError(t, err)

		result, err := f.coordinator.RefreshFromGateway(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, result.Outcome)
		assert.Equal(t, models.BookingStatusConfirmed, result.Booking.Status)
	})

	t.Run("still awaiting payment", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		_, intentID := f.pending(t)

		b, err := f.ledger.GetByIntent(ctx, intentID)
		require.NoError(t, err)

		result, err := f.coordinator.RefreshFromGateway(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeIgnored, result.Outcome)
	})

	t.Run("gateway down", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		ctx := context.Background()
		_, intentID := f.pending(t)
		f.gateway.getErr = errors.New("dial tcp: i/o timeout")

		b, err := f.ledger.GetByIntent(ctx, intentID)
		require.NoError(t, err)

		_, err = f.coordinator.RefreshFromGateway(ctx, b)
		assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	})
}

func TestCoordinator_CancelReconcileRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newCoordinatorFixture(t)
		ctx := context.Background()

		// started booking: once confirmed it can no longer be cancelled
		f.clock.Set(hour(10).Add(5 * time.Minute))
		b, intentID := f.pending(t)
		owner := models.Principal{UserID: b.RequesterID}

		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			cancelErr error
			result    *ReconcileResult
			recErr    error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = f.ledger.Cancel(ctx, b.ID, owner)
		}()
		go func() {
			defer wg.Done()
			<-start
			result, recErr = f.coordinator.Reconcile(ctx, &models.GatewayEvent{
				EventID: fmt.Sprintf("evt_%d", i), IntentID: intentID, Status: models.IntentStatusSucceeded,
			})
		}()
		close(start)
		wg.Wait()

		require.NoError(t, recErr, "reconcile never raises on a race")
		final := f.mustStatus(t, b.ID)

		if cancelErr == nil {
			assert.Equal(t, models.BookingStatusCancelled, final)
			assert.Equal(t, models.OutcomeAnomaly, result.Outcome)
			assert.ErrorIs(t, result.Anomaly, models.ErrInvalidState)
		} else {
			assert.ErrorIs(t, cancelErr, models.ErrInvalidState)
			assert.Equal(t, models.BookingStatusConfirmed, final)
			assert.Equal(t, models.OutcomeApplied, result.Outcome)
		}
	}
}
