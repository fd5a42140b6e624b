package models

import "time"

// Role is a user role. The ids match the seeded roles rows of the
// retail system.
type Role int

const (
	RoleClient   Role = 1
	RoleEmployee Role = 2
	RoleAdmin    Role = 3
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleEmployee || r == RoleAdmin
}

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleEmployee:
		return "employee"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// User is a registered account in the users directory
type User struct {
	ID        int64     `db:"id" json:"id"`
	RoleID    Role      `db:"role_id" json:"role_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Principal is the authenticated actor behind a request, resolved from
// its credentials by the auth middleware
type Principal struct {
	UserID int64
	Role   Role
	Name   string
}
