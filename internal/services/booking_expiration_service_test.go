package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingExpirationService_RunOnce(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	f.clock.Set(time.Now())
	fresh, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), start.Add(3*time.Hour), start.Add(4*time.Hour))
	require.NoError(t, err)

	// the sweep uses the wall clock, so backdate the abandoned hold
	f.clock.Set(time.Now().Add(-time.Hour))
	stale, err := f.ledger.Reserve(ctx, testSpaceID, uuid.New(), start, start.Add(2*time.Hour))
	require.NoError(t, err)

	svc := NewBookingExpirationService(f.ledger, time.Minute, discardLogger())
	expired, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	assert.Equal(t, models.BookingStatusExpired, f.mustStatus(t, stale.ID))
	assert.Equal(t, models.BookingStatusPendingPayment, f.mustStatus(t, fresh.ID))

	status := svc.Status()
	assert.Equal(t, "1m0s", status["interval"])
	assert.NotZero(t, status["last_run"])
	assert.NotContains(t, status, "last_error")
	assert.NotContains(t, status, "next_run", "not scheduled yet")
}

func TestBookingExpirationService_StartStop(t *testing.T) {
	f := newLedgerFixture(t)

	svc := NewBookingExpirationService(f.ledger, time.Hour, discardLogger())
	require.NoError(t, svc.Start())

	assert.Eventually(t, func() bool {
		return !svc.Status()["last_run"].(time.Time).IsZero()
	}, time.Second, 10*time.Millisecond, "initial sweep runs immediately")
	assert.Contains(t, svc.Status(), "next_run")

	svc.Stop()
}

func TestBookingExpirationService_DefaultInterval(t *testing.T) {
	svc := NewBookingExpirationService(nil, 0, discardLogger())
	assert.Equal(t, time.Minute, svc.interval)
}
