package domain

import "time"

// Role is the user's marketplace role, dispatched once at the HTTP boundary.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User is a marketplace identity. A user may hold at most one wallet address
// and a wallet address binds to at most one user, first claim wins. Users are
// never deleted, only deactivated.
type User struct {
	ID            string
	WalletAddress *string // stored lowercase hex, unique when present
	Email         *string
	Role          Role
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the user may authenticate and act.
func (u User) Active() bool { return u.DeactivatedAt == nil }
