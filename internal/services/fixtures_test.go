package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/events"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/stretchr/testify/require"
)

var (
	testSpaceID = uuid.MustParse("5a1e0000-0000-4000-8000-000000000051")
	testDay     = time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
)

// hour returns testDay at h:00 UTC
func hour(h int) time.Time {
	return testDay.Add(time.Duration(h) * time.Hour)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock is a settable time source shared by the services under test
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ledgerFixture is a ledger over the in-memory store with one space at 500/hr
type ledgerFixture struct {
	store   *database.MemoryBookingStore
	bus     *events.EventBus
	clock   *fakeClock
	ledger  *BookingLedgerService
	checker *AvailabilityChecker
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	store := database.NewMemoryBookingStore()
	store.PutSpace(&models.Space{
		ID:         testSpaceID,
		Name:       "S1",
		HourlyRate: 500,
		Capacity:   10,
		Currency:   "KES",
		Status:     models.SpaceStatusAvailable,
	})

	clock := newFakeClock(hour(8))
	bus := events.NewEventBus()

	ledger := NewBookingLedgerService(store, store, bus, DefaultLedgerConfig(), discardLogger())
	ledger.now = clock.Now

	checker := NewAvailabilityChecker(store, ledger.ReservationWindow())
	checker.now = clock.Now

	return &ledgerFixture{
		store:   store,
		bus:     bus,
		clock:   clock,
		ledger:  ledger,
		checker: checker,
	}
}

// reserveWithIntent reserves [start, end) and attaches intentID
func (f *ledgerFixture) reserveWithIntent(t *testing.T, requesterID uuid.UUID, start, end time.Time, intentID string) *models.Booking {
	t.Helper()
	ctx := context.Background()

	booking, err := f.ledger.Reserve(ctx, testSpaceID, requesterID, start, end)
	require.NoError(t, err)

	booking, err = f.ledger.AttachPaymentIntent(ctx, booking.ID, intentID)
	require.NoError(t, err)
	return booking
}

// captureEvents records the booking ids published under eventType
func (f *ledgerFixture) captureEvents(eventType string) func() []uuid.UUID {
	var mu sync.Mutex
	var ids []uuid.UUID
	f.bus.Subscribe(eventType, func(event *events.Event) error {
		payload, err := events.Decode(event)
		if err != nil {
			return err
		}
		mu.Lock()
		ids = append(ids, payload.BookingID)
		mu.Unlock()
		return nil
	})
	return func() []uuid.UUID {
		mu.Lock()
		defer mu.Unlock()
		return append([]uuid.UUID(nil), ids...)
	}
}

// mustStatus reads the stored status of a booking
func (f *ledgerFixture) mustStatus(t *testing.T, bookingID uuid.UUID) models.BookingStatus {
	t.Helper()
	b, err := f.store.GetBooking(context.Background(), bookingID)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.Status
}

// stubGateway is a scripted PaymentGateway. Each CreatePaymentIntent call
// consumes the next entry of createErrs; nil entries and an empty script succeed.
type stubGateway struct {
	mu         sync.Mutex
	createErrs []error
	getErr     error
	calls      int
	intents    map[string]*models.PaymentIntentRef
}

func newStubGateway(createErrs ...error) *stubGateway {
	return &stubGateway{
		createErrs: createErrs,
		intents:    make(map[string]*models.PaymentIntentRef),
	}
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntentRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	id := "pi_" + metadata["booking_id"]
	ref := &models.PaymentIntentRef{
		IntentID:     id,
		ClientSecret: id + "_secret",
		Amount:       amount,
		Currency:     currency,
		Status:       models.IntentStatusRequiresConfirmation,
	}
	g.intents[id] = ref
	c := *ref
	return &c, nil
}

func (g *stubGateway) GetPaymentIntent(_ context.Context, intentID string) (*models.PaymentIntentRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.getErr != nil {
		return nil, g.getErr
	}
	ref, ok := g.intents[intentID]
	if !ok {
		return nil, models.ErrGatewayRejected
	}
	c := *ref
	return &c, nil
}

func (g *stubGateway) setStatus(intentID string, status models.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ref, ok := g.intents[intentID]; ok {
		ref.Status = status
	}
}

func (g *stubGateway) createCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// memoryDedup is an in-process EventDeduplicator
type memoryDedup struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: make(map[string]bool)}
}

func (d *memoryDedup) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seenErr != nil {
		return false, d.seenErr
	}
	was := d.seen[eventID]
	d.seen[eventID] = true
	return was, nil
}

func (d *memoryDedup) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

func (d *memoryDedup) has(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[eventID]
}
