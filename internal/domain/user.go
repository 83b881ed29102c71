package domain

import "time"

// Role values assignable to users.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a platform account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Name         string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Actor identifies the authenticated caller of a service operation,
// extracted from the verified token. Admins pass every ownership check.
type Actor struct {
	UserID string
	Admin  bool
}

// Owns reports whether the actor may operate on a resource owned by
// ownerID.
func (a Actor) Owns(ownerID string) bool {
	return a.Admin || a.UserID == ownerID
}
