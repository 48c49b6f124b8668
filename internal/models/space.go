package models

import (
	"time"

	"github.com/google/uuid"
)

// SpaceStatus is the administrative hint stored on a space.
// It is never used for conflict detection; booking intervals are authoritative.
type SpaceStatus string

const (
	SpaceStatusAvailable   SpaceStatus = "available"
	SpaceStatusBooked      SpaceStatus = "booked"
	SpaceStatusMaintenance SpaceStatus = "maintenance"
)

// Space is a rentable room or venue (spaces table, owned by the listing service)
type Space struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	Name       string      `db:"name" json:"name"`
	HourlyRate int64       `db:"hourly_rate" json:"hourly_rate"` // minor currency units
	DailyRate  int64       `db:"daily_rate" json:"daily_rate"`   // minor currency units, 0 = hourly only
	Capacity   int         `db:"capacity" json:"capacity"`
	Currency   string      `db:"currency" json:"currency"`
	Status     SpaceStatus `db:"status" json:"status"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// IsBookable reports whether new reservations may be taken
func (s *Space) IsBookable() bool {
	return s.Status != SpaceStatusMaintenance
}

// BillableHours rounds the interval duration up to whole hours
func BillableHours(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	hours := int64(d / time.Hour)
	if d%time.Hour != 0 {
		hours++
	}
	return hours
}

// Quote prices the interval from the space's rates.
// Stays of a day or more are charged whole days at the daily rate plus
// the remaining hours at the hourly rate.
func (s *Space) Quote(start, end time.Time) int64 {
	hours := BillableHours(start, end)
	if hours >= 24 && s.DailyRate > 0 {
		return s.DailyRate*(hours/24) + s.HourlyRate*(hours%24)
	}
	return s.HourlyRate * hours
}
