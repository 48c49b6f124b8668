package models

import "github.com/google/uuid"

// RoleAdmin may cancel any booking and read any space's ledger
const RoleAdmin = "admin"

// Principal is the authenticated caller. Identity is verified upstream.
type Principal struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal has the administrative override
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// CanAccess reports whether the principal owns the booking or is an admin
func (p Principal) CanAccess(b *Booking) bool {
	return b.RequesterID == p.UserID || p.IsAdmin()
}
