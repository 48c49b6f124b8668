package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpaceRepository_GetSpace(t *testing.T) {
	db, mock := newMockSQLX(t)
	repo := NewSpaceRepository(db)
	columns := []string{"id", "name", "hourly_rate", "daily_rate", "capacity", "currency", "status", "created_at", "updated_at"}

	t.Run("Success", func(t *testing.T) {
		spaceID := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery(`SELECT .+ FROM spaces\s+WHERE id = \$1`).
			WithArgs(spaceID).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				spaceID.String(), "Board room", int64(500), int64(8000), 12, "KES", "maintenance", now, now,
			))

		space, err := repo.GetSpace(context.Background(), spaceID)
		require.NoError(t, err)
		require.NotNil(t, space)
		assert.Equal(t, spaceID, space.ID)
		assert.Equal(t, int64(500), space.HourlyRate)
		assert.Equal(t, int64(8000), space.DailyRate)
		assert.Equal(t, models.SpaceStatusMaintenance, space.Status)
		assert.False(t, space.IsBookable())
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM spaces`).
			WillReturnRows(sqlmock.NewRows(columns))

		space, err := repo.GetSpace(context.Background(), uuid.New())
		assert.NoError(t, err)
		assert.Nil(t, space)
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM spaces`).
			WillReturnError(fmt.Errorf("database error"))

		space, err := repo.GetSpace(context.Background(), uuid.New())
		assert.Error(t, err)
		assert.Nil(t, space)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
