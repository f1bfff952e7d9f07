package serverdb

import (
	"fmt"

	"github.com/salonsync/salonsync/internal/syncerr"
)

// Role constants
const (
	RoleOwner    = "owner"
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// roleLevel returns the numeric level for a role (higher = more permissions).
func roleLevel(role string) int {
	switch role {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleEmployee:
		return 1
	default:
		return 0
	}
}

// RoleAllows reports whether role meets requiredRole.
func RoleAllows(role, requiredRole string) bool {
	return roleLevel(role) > 0 && roleLevel(role) >= roleLevel(requiredRole)
}

// Authorize checks that the user has at least the required role in the business.
// Denials are syncerr.PermissionDenied.
func (db *ServerDB) Authorize(businessID, userID, requiredRole string) (*Membership, error) {
	m, err := db.GetMembership(businessID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if m == nil {
		return nil, syncerr.Errorf(syncerr.PermissionDenied, "authorize", "not a member of business %s", businessID)
	}
	if !RoleAllows(m.Role, requiredRole) {
		return nil, syncerr.Errorf(syncerr.PermissionDenied, "authorize",
			"insufficient permissions: have %s, need %s", m.Role, requiredRole)
	}
	return m, nil
}

// CanPush checks if the user can push offline actions (requires admin role).
func (db *ServerDB) CanPush(businessID, userID string) error {
	_, err := db.Authorize(businessID, userID, RoleAdmin)
	return err
}

// CanPull checks if the user can read the appointment window (any role).
func (db *ServerDB) CanPull(businessID, userID string) error {
	_, err := db.Authorize(businessID, userID, RoleEmployee)
	return err
}
