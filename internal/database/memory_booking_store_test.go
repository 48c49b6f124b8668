package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededMemoryStore(spaceIDs ...uuid.UUID) *MemoryBookingStore {
	store := NewMemoryBookingStore()
	for _, id := range spaceIDs {
		store.PutSpace(&models.Space{ID: id, Name: "Room", HourlyRate: 500, Status: models.SpaceStatusAvailable})
	}
	return store
}

func pendingBooking(spaceID uuid.UUID, startHour, endHour int, created time.Time) *models.Booking {
	day := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:          uuid.New(),
		SpaceID:     spaceID,
		RequesterID: uuid.New(),
		StartTime:   day.Add(time.Duration(startHour) * time.Hour),
		EndTime:     day.Add(time.Duration(endHour) * time.Hour),
		Status:      models.BookingStatusPendingPayment,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestMemoryBookingStore_ReserveBooking(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()
	staleBefore := now.Add(-15 * time.Minute)

	first := pendingBooking(spaceID, 10, 12, now)
	require.NoError(t, reserve(ctx, store, first, staleBefore))

	_, err := store.ReserveBooking(ctx, pendingBooking(spaceID, 11, 13, now), staleBefore)
	assert.ErrorIs(t, err, models.ErrSlotConflict)

	assert.NoError(t, reserve(ctx, store, pendingBooking(spaceID, 12, 13, now), staleBefore))

	_, err = store.ReserveBooking(ctx, pendingBooking(uuid.New(), 10, 12, now), staleBefore)
	assert.ErrorIs(t, err, models.ErrSpaceNotFound)

	// stored copy is independent of the caller's struct
	first.Status = models.BookingStatusCancelled
	stored, err := store.GetBooking(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPendingPayment, stored.Status)
}

func TestMemoryBookingStore_ReserveExpiresStaleHolds(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()

	old := pendingBooking(spaceID, 10, 12, now.Add(-time.Hour))
	require.NoError(t, reserve(ctx, store, old, now.Add(-2*time.Hour)))

	expired, err := store.ReserveBooking(ctx, pendingBooking(spaceID, 10, 12, now), now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, models.BookingStatusExpired, expired[0].Status)

	stored, err := store.GetBooking(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, stored.Status)
}

func TestMemoryBookingStore_ReserveConflictStillReportsExpiry(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()

	old := pendingBooking(spaceID, 14, 15, now.Add(-time.Hour))
	require.NoError(t, reserve(ctx, store, old, now.Add(-2*time.Hour)))
	held := pendingBooking(spaceID, 10, 12, now)
	require.NoError(t, reserve(ctx, store, held, now.Add(-2*time.Hour)))

	expired, err := store.ReserveBooking(ctx, pendingBooking(spaceID, 11, 13, now), now.Add(-15*time.Minute))
	assert.ErrorIs(t, err, models.ErrSlotConflict)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}

// reserve drops the expired holds for tests that only care about the error
func reserve(ctx context.Context, store *MemoryBookingStore, b *models.Booking, staleBefore time.Time) error {
	_, err := store.ReserveBooking(ctx, b, staleBefore)
	return err
}

func TestMemoryBookingStore_ConcurrentReserves(t *testing.T) {
	spaceA, spaceB := uuid.New(), uuid.New()
	store := newSeededMemoryStore(spaceA, spaceB)
	ctx := context.Background()
	now := time.Now().UTC()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  = map[uuid.UUID]int{}
		start = make(chan struct{})
	)
	for i := 0; i < 40; i++ {
		spaceID := spaceA
		if i%2 == 1 {
			spaceID = spaceB
		}
		wg.Add(1)
		go func(spaceID uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := store.ReserveBooking(ctx, pendingBooking(spaceID, 10, 12, now), now.Add(-time.Hour))
			if err == nil {
				mu.Lock()
				wins[spaceID]++
				mu.Unlock()
				return
			}
			if !errors.Is(err, models.ErrSlotConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(spaceID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins[spaceA])
	assert.Equal(t, 1, wins[spaceB])
}

func TestMemoryBookingStore_SetPaymentIntent(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()

	a := pendingBooking(spaceID, 10, 11, now)
	b := pendingBooking(spaceID, 11, 12, now)
	require.NoError(t, reserve(ctx, store, a, now.Add(-time.Hour)))
	require.NoError(t, reserve(ctx, store, b, now.Add(-time.Hour)))

	got, err := store.SetPaymentIntent(ctx, a.ID, "pi_a", now)
	require.NoError(t, err)
	require.NotNil(t, got)

	byIntent, err := store.GetBookingByIntent(ctx, "pi_a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byIntent.ID)

	got, err = store.SetPaymentIntent(ctx, b.ID, "pi_a", now)
	assert.NoError(t, err)
	assert.Nil(t, got, "intent already owned by another booking")

	got, err = store.SetPaymentIntent(ctx, a.ID, "pi_other", now)
	assert.NoError(t, err)
	assert.Nil(t, got, "booking already has an intent")

	got, err = store.SetPaymentIntent(ctx, uuid.New(), "pi_x", now)
	assert.NoError(t, err)
	assert.Nil(t, got)

	missing, err := store.GetBookingByIntent(ctx, "pi_missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryBookingStore_TransitionIsConditional(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()

	b := pendingBooking(spaceID, 10, 12, now)
	require.NoError(t, reserve(ctx, store, b, now.Add(-time.Hour)))

	failed, err := store.TransitionBooking(ctx, b.ID, models.BookingTransition{
		From: []models.BookingStatus{models.BookingStatusPendingPayment},
		To:   models.BookingStatusFailed,
		At:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusFailed, failed.Status)

	again, err := store.TransitionBooking(ctx, b.ID, models.BookingTransition{
		From: []models.BookingStatus{models.BookingStatusPendingPayment},
		To:   models.BookingStatusConfirmed,
		At:   now,
	})
	assert.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryBookingStore_ExpireStaleAndLists(t *testing.T) {
	spaceID := uuid.New()
	store := newSeededMemoryStore(spaceID)
	ctx := context.Background()
	now := time.Now().UTC()

	old := pendingBooking(spaceID, 8, 9, now.Add(-time.Hour))
	fresh := pendingBooking(spaceID, 10, 11, now)
	later := pendingBooking(spaceID, 12, 13, now)
	later.RequesterID = old.RequesterID
	for _, b := range []*models.Booking{old, fresh, later} {
		require.NoError(t, reserve(ctx, store, b, now.Add(-2*time.Hour)))
	}

	expired, err := store.ExpireStale(ctx, now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	overlapping, err := store.FindOverlapping(ctx, spaceID, models.NewInterval(old.StartTime, later.EndTime), nil, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, overlapping, 2)
	assert.Equal(t, fresh.ID, overlapping[0].ID, "ordered by start time")

	mine, err := store.ListByRequester(ctx, old.RequesterID, 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, later.ID, mine[0].ID, "newest interval first")

	page, err := store.ListBySpace(ctx, spaceID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, fresh.ID, page[0].ID)

	empty, err := store.ListBySpace(ctx, spaceID, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryBookingStore_PaymentEvents(t *testing.T) {
	store := NewMemoryBookingStore()
	ctx := context.Background()

	require.NoError(t, store.RecordPaymentEvent(ctx, &models.PaymentEvent{IntentID: "pi_1", Outcome: models.OutcomeApplied}))
	require.NoError(t, store.RecordPaymentEvent(ctx, &models.PaymentEvent{IntentID: "pi_2", Outcome: models.OutcomeIgnored}))
	require.NoError(t, store.RecordPaymentEvent(ctx, &models.PaymentEvent{IntentID: "pi_1", Outcome: models.OutcomeDuplicate}))

	events, err := store.ListPaymentEvents(ctx, "pi_1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.OutcomeApplied, events[0].Outcome)
	assert.Equal(t, models.OutcomeDuplicate, events[1].Outcome)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
}
