package domain

import "time"

// Role represents the authorization level of a portal user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

// IsPrivileged returns true for roles allowed to create tasks, submit QA
// verdicts and mutate tasks they are not assigned to.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsValid checks if the role is one of the allowed values.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleSuperAdmin
}

// User represents a portal user registered in the system. Token is the opaque
// bearer capability resolved by the external identity provider.
type User struct {
	ID        string
	Name      string
	Token     string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
}
