package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spacehub/booking-backend/internal/models"
)

// SpaceRepository reads spaces for pricing and availability checks
type SpaceRepository struct {
	db *sqlx.DB
}

// NewSpaceRepository creates a new SpaceRepository
func NewSpaceRepository(db *sqlx.DB) *SpaceRepository {
	return &SpaceRepository{db: db}
}

// GetSpace retrieves a space by ID
func (r *SpaceRepository) GetSpace(ctx context.Context, spaceID uuid.UUID) (*models.Space, error) {
	var space models.Space
	query := `
		SELECT id, name, hourly_rate, daily_rate, capacity, currency, status, created_at, updated_at
		FROM spaces
		WHERE id = $1`

	err := r.db.GetContext(ctx, &space, query, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	return &space, nil
}
