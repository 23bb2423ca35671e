package roles

import (
	"time"
)

// RoleName identifies a role. The set of valid names is closed and shared
// with the authentication layer so that route guards and the engine cannot
// drift apart.
type RoleName string

const (
	RoleSuperAdmin RoleName = "SUPER_ADMIN"
	RoleAdmin      RoleName = "ADMIN"
	RoleModerator  RoleName = "MODERATOR"
	RoleEditor     RoleName = "EDITOR"
	RoleViewer     RoleName = "VIEWER"
	RoleUser       RoleName = "USER"
	RoleGuest      RoleName = "GUEST"
)

// KnownRoleNames returns the closed enumeration of role names accepted at
// the API boundary. The engine itself treats names as opaque.
func KnownRoleNames() []RoleName {
	return []RoleName{
		RoleSuperAdmin,
		RoleAdmin,
		RoleModerator,
		RoleEditor,
		RoleViewer,
		RoleUser,
		RoleGuest,
	}
}

// Valid reports whether the name is part of the closed enumeration.
func (n RoleName) Valid() bool {
	for _, known := range KnownRoleNames() {
		if n == known {
			return true
		}
	}
	return false
}

func (n RoleName) String() string {
	return string(n)
}

// Permission is an actions-plus-conditions capability unit owned by a role.
// Actions is always a materialized slice, never nil. Each permission gets an
// ID when it is appended to a role so it can be removed later.
type Permission struct {
	ID         string                 `json:"id,omitempty"`
	Resource   string                 `json:"resource,omitempty"`
	Actions    []string               `json:"actions"`
	Conditions map[string]interface{} `json:"conditions"`
}

// Role is a named, inheritable bundle of permissions.
type Role struct {
	ID             string                 `json:"id"`
	Name           RoleName               `json:"name"`
	IsDefault      bool                   `json:"is_default"`
	InheritedRoles []RoleName             `json:"inherited_roles"`
	Permissions    []Permission           `json:"permissions"`
	Description    string                 `json:"description,omitempty"`
	IsActive       bool                   `json:"is_active"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy      string                 `json:"created_by,omitempty"`
	UpdatedBy      string                 `json:"updated_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate results without aliasing
// store-owned data.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	out := *r
	out.InheritedRoles = append([]RoleName(nil), r.InheritedRoles...)
	out.Permissions = clonePermissions(r.Permissions)
	if r.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func clonePermissions(perms []Permission) []Permission {
	if perms == nil {
		return nil
	}
	out := make([]Permission, len(perms))
	for i, p := range perms {
		out[i] = p
		out[i].Actions = append([]string(nil), p.Actions...)
		if p.Conditions != nil {
			out[i].Conditions = make(map[string]interface{}, len(p.Conditions))
			for k, v := range p.Conditions {
				out[i].Conditions[k] = v
			}
		}
	}
	return out
}

// CreateRoleRequest is the payload for Service.Create.
type CreateRoleRequest struct {
	Name           RoleName               `json:"name"`
	Description    string                 `json:"description,omitempty"`
	IsDefault      bool                   `json:"is_default,omitempty"`
	InheritedRoles []RoleName             `json:"inherited_roles,omitempty"`
	Permissions    []Permission           `json:"permissions,omitempty"`
	IsActive       *bool                  `json:"is_active,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateRoleRequest is a partial update: only non-nil fields are written.
type UpdateRoleRequest struct {
	Name           *RoleName               `json:"name,omitempty"`
	Description    *string                 `json:"description,omitempty"`
	IsDefault      *bool                   `json:"is_default,omitempty"`
	InheritedRoles *[]RoleName             `json:"inherited_roles,omitempty"`
	Permissions    *[]Permission           `json:"permissions,omitempty"`
	IsActive       *bool                   `json:"is_active,omitempty"`
	Metadata       *map[string]interface{} `json:"metadata,omitempty"`
}

// UpdatePermissionsRequest adds and/or removes permissions in one call.
// Additions and removals are applied as a single store-level patch.
type UpdatePermissionsRequest struct {
	AddPermissions      []Permission `json:"add_permissions,omitempty"`
	RemovePermissionIDs []string     `json:"remove_permission_ids,omitempty"`
}

// UpdateStatusRequest toggles a role's active flag.
type UpdateStatusRequest struct {
	IsActive bool `json:"is_active"`
}

// RoleList is a paginated query result.
type RoleList struct {
	Data  []*Role `json:"data"`
	Total int     `json:"total"`
}

// ListOptions controls Service.List pagination and filtering. Page starts
// at 1. The transport layer caps Limit at 100 before it reaches the engine.
type ListOptions struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool
}

const (
	// DefaultPageSize is used when the caller does not supply a limit.
	DefaultPageSize = 10
	// MaxPageSize is the hard cap enforced by the transport layer.
	MaxPageSize = 100
)
