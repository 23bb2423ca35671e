// Package users tracks user accounts and their role assignments. Its main
// job in the role engine is reference counting: a role with live
// assignments cannot be deleted.
package users

import (
	"context"
	"time"
)

// User is an account holding zero or more role assignments.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	RoleIDs   []string  `json:"role_ids"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.RoleIDs = append([]string(nil), u.RoleIDs...)
	return &out
}

// CreateUserRequest is the payload for Service.Create.
type CreateUserRequest struct {
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	RoleIDs []string `json:"role_ids,omitempty"`
}

// AssignRolesRequest replaces a user's role assignments.
type AssignRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

// Store is the persistent user collection. Lookups return (nil, nil) when
// the record is absent.
type Store interface {
	Insert(ctx context.Context, user *User) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetRoles(ctx context.Context, id string, roleIDs []string) (*User, error)
	ListByRole(ctx context.Context, roleID string) ([]*User, error)
	CountByRole(ctx context.Context, roleID string) (int, error)
}
