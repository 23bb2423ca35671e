package roles

import (
	"context"
)

// Filter selects roles for queries, bulk updates, and counts. Zero-value
// fields are ignored.
type Filter struct {
	// Names matches roles whose name is in the set.
	Names []RoleName
	// IsDefault, when non-nil, matches on the default flag.
	IsDefault *bool
	// IsActive, when non-nil, matches on the active flag.
	IsActive *bool
	// Search matches case-insensitively as a substring of name or
	// description.
	Search string
	// ExcludeID excludes a single role by id.
	ExcludeID string
}

// FindOptions controls pagination of FindMany. Results are always sorted by
// name ascending.
type FindOptions struct {
	Skip  int
	Limit int
}

// Changes carries the set-style part of a patch. Only non-nil fields are
// written; absent fields are left untouched. UpdatedBy is stamped on every
// patch, and the store refreshes UpdatedAt itself.
type Changes struct {
	Name           *RoleName
	Description    *string
	IsDefault      *bool
	IsActive       *bool
	InheritedRoles *[]RoleName
	Permissions    *[]Permission
	Metadata       *map[string]interface{}
	UpdatedBy      string
}

// Patch is a single-record atomic update: field sets, permission appends,
// and permission removals by id all land in one store call so concurrent
// permission edits cannot lose each other's writes.
type Patch struct {
	Set                 Changes
	AddPermissions      []Permission
	RemovePermissionIDs []string
}

// Store is the persistent role collection. Implementations must be safe for
// concurrent use and atomic at the single-record level; no cross-record
// transaction is assumed by the engine.
//
// Lookups return (nil, nil) when the record is absent; a non-nil error
// always means an infrastructure failure.
type Store interface {
	Insert(ctx context.Context, role *Role) (*Role, error)
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name RoleName) (*Role, error)
	FindMany(ctx context.Context, filter Filter, opts FindOptions) ([]*Role, error)
	UpdateByID(ctx context.Context, id string, patch Patch) (*Role, error)
	UpdateMany(ctx context.Context, filter Filter, patch Patch) (int, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	CountWhere(ctx context.Context, filter Filter) (int, error)
}

// ReferenceCounter reports how many users currently hold a role. It guards
// deletion: a role with live assignments cannot be removed.
type ReferenceCounter interface {
	CountByRole(ctx context.Context, roleID string) (int, error)
}
