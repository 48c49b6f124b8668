package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
)

// MemoryBookingStore keeps the ledger in process. Check-and-insert is
// serialized per space with a dedicated mutex; different spaces never
// contend. Lock order is always space lock, then mu.
type MemoryBookingStore struct {
	mu       sync.RWMutex
	spaces   map[uuid.UUID]*models.Space
	bookings map[uuid.UUID]*models.Booking
	byIntent map[string]uuid.UUID
	events   []*models.PaymentEvent

	spaceLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewMemoryBookingStore creates an empty in-memory ledger
func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{
		spaces:   make(map[uuid.UUID]*models.Space),
		bookings: make(map[uuid.UUID]*models.Booking),
		byIntent: make(map[string]uuid.UUID),
	}
}

func (s *MemoryBookingStore) lockSpace(spaceID uuid.UUID) func() {
	v, _ := s.spaceLocks.LoadOrStore(spaceID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// PutSpace inserts or replaces a space record
func (s *MemoryBookingStore) PutSpace(space *models.Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *space
	s.spaces[space.ID] = &c
}

// GetSpace retrieves a space by ID
func (s *MemoryBookingStore) GetSpace(_ context.Context, spaceID uuid.UUID) (*models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	space, ok := s.spaces[spaceID]
	if !ok {
		return nil, nil
	}
	c := *space
	return &c, nil
}

// ReserveBooking expires stale holds, re-checks overlap and inserts under the space lock
func (s *MemoryBookingStore) ReserveBooking(ctx context.Context, booking *models.Booking, staleBefore time.Time) ([]*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.lockSpace(booking.SpaceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.spaces[booking.SpaceID]; !ok {
		return nil, models.ErrSpaceNotFound
	}

	expired := []*models.Booking{}
	conflict := false
	interval := booking.Interval()
	for _, existing := range s.bookings {
		if existing.SpaceID != booking.SpaceID {
			continue
		}
		if existing.Status == models.BookingStatusPendingPayment && existing.CreatedAt.Before(staleBefore) {
			existing.Status = models.BookingStatusExpired
			existing.UpdatedAt = booking.CreatedAt
			expired = append(expired, existing.Clone())
			continue
		}
		if existing.IsActive() && existing.Interval().Overlaps(interval) {
			conflict = true
		}
	}
	if conflict {
		return expired, models.ErrSlotConflict
	}

	s.bookings[booking.ID] = booking.Clone()
	return expired, nil
}

// GetBooking retrieves a booking by ID
func (s *MemoryBookingStore) GetBooking(_ context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

// GetBookingByIntent retrieves the booking that owns a payment intent
func (s *MemoryBookingStore) GetBookingByIntent(_ context.Context, intentID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, nil
	}
	return s.bookings[id].Clone(), nil
}

// FindOverlapping lists active bookings that intersect the interval
func (s *MemoryBookingStore) FindOverlapping(
	_ context.Context,
	spaceID uuid.UUID,
	interval models.Interval,
	excludeID *uuid.UUID,
	staleBefore time.Time,
) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Booking{}
	for _, b := range s.bookings {
		if b.SpaceID != spaceID || !b.IsActive() {
			continue
		}
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if b.Status == models.BookingStatusPendingPayment && b.CreatedAt.Before(staleBefore) {
			continue
		}
		if b.Interval().Overlaps(interval) {
			result = append(result, b.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

// SetPaymentIntent records the gateway intent on a pending booking
func (s *MemoryBookingStore) SetPaymentIntent(_ context.Context, bookingID uuid.UUID, intentID string, at time.Time) (*models.Booking, error) {
	spaceID, ok := s.spaceOf(bookingID)
	if !ok {
		return nil, nil
	}
	unlock := s.lockSpace(spaceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookings[bookingID]
	if b.Status != models.BookingStatusPendingPayment {
		return nil, nil
	}
	if b.PaymentIntentID != nil && *b.PaymentIntentID != intentID {
		return nil, nil
	}
	if owner, taken := s.byIntent[intentID]; taken && owner != bookingID {
		return nil, nil
	}

	id := intentID
	b.PaymentIntentID = &id
	b.UpdatedAt = at
	s.byIntent[intentID] = bookingID
	return b.Clone(), nil
}

// TransitionBooking applies t only if the booking is still in one of t.From
func (s *MemoryBookingStore) TransitionBooking(_ context.Context, bookingID uuid.UUID, t models.BookingTransition) (*models.Booking, error) {
	spaceID, ok := s.spaceOf(bookingID)
	if !ok {
		return nil, nil
	}
	unlock := s.lockSpace(spaceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bookings[bookingID]
	if !t.Allows(b) {
		return nil, nil
	}
	t.Apply(b)
	return b.Clone(), nil
}

// ExpireStale moves pending bookings past their reservation window to expired
func (s *MemoryBookingStore) ExpireStale(_ context.Context, staleBefore, at time.Time) ([]*models.Booking, error) {
	s.mu.RLock()
	candidates := make(map[uuid.UUID][]uuid.UUID)
	for _, b := range s.bookings {
		if b.Status == models.BookingStatusPendingPayment && b.CreatedAt.Before(staleBefore) {
			candidates[b.SpaceID] = append(candidates[b.SpaceID], b.ID)
		}
	}
	s.mu.RUnlock()

	expired := []*models.Booking{}
	for spaceID, ids := range candidates {
		unlock := s.lockSpace(spaceID)
		s.mu.Lock()
		for _, id := range ids {
			b := s.bookings[id]
			// re-check: a confirm or cancel may have landed since the scan
			if b.Status != models.BookingStatusPendingPayment || !b.CreatedAt.Before(staleBefore) {
				continue
			}
			b.Status = models.BookingStatusExpired
			b.UpdatedAt = at
			expired = append(expired, b.Clone())
		}
		s.mu.Unlock()
		unlock()
	}
	return expired, nil
}

// ListByRequester returns a requester's bookings, newest interval first
func (s *MemoryBookingStore) ListByRequester(_ context.Context, requesterID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	return s.list(func(b *models.Booking) bool { return b.RequesterID == requesterID }, limit, offset), nil
}

// ListBySpace returns a space's bookings, newest interval first
func (s *MemoryBookingStore) ListBySpace(_ context.Context, spaceID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	return s.list(func(b *models.Booking) bool { return b.SpaceID == spaceID }, limit, offset), nil
}

// RecordPaymentEvent appends an audit row
func (s *MemoryBookingStore) RecordPaymentEvent(_ context.Context, event *models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	c := *event
	s.events = append(s.events, &c)
	return nil
}

// ListPaymentEvents returns the audit trail of an intent in arrival order
func (s *MemoryBookingStore) ListPaymentEvents(_ context.Context, intentID string) ([]*models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []*models.PaymentEvent{}
	for _, e := range s.events {
		if e.IntentID == intentID {
			c := *e
			result = append(result, &c)
		}
	}
	return result, nil
}

func (s *MemoryBookingStore) spaceOf(bookingID uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return uuid.Nil, false
	}
	return b.SpaceID, true
}

func (s *MemoryBookingStore) list(match func(*models.Booking) bool, limit, offset int) []*models.Booking {
	s.mu.RLock()
	result := []*models.Booking{}
	for _, b := range s.bookings {
		if match(b) {
			result = append(result, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.After(result[j].StartTime) })

	if offset >= len(result) {
		return []*models.Booking{}
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}
