package roles

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/pkg/observability"
)

// EventEmitter publishes role lifecycle events. Delivery is best effort;
// failures must not fail the originating operation.
type EventEmitter interface {
	Emit(ctx context.Context, event string, payload interface{})
}

// Lifecycle event names emitted by the service.
const (
	EventRoleCreated = "role.created"
	EventRoleUpdated = "role.updated"
	EventRoleDeleted = "role.deleted"
)

// Service implements role creation validation, safe mutation, and
// transitive permission resolution over a Store. It holds no mutable state
// of its own; every call reads fresh from the store, and consistency of the
// single-default and unique-name invariants is eventual under concurrent
// writers (per-record store atomicity only, no cross-record transactions).
type Service struct {
	store   Store
	refs    ReferenceCounter
	emitter EventEmitter
	logger  *observability.Logger
}

// NewService creates a role service. refs guards deletion; emitter may be
// nil to disable lifecycle events.
func NewService(store Store, refs ReferenceCounter, emitter EventEmitter, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{store: store, refs: refs, emitter: emitter, logger: logger}
}

// Create validates and inserts a new role attributed to actorID.
//
// Validation order matches the documented contract: duplicate-name check,
// then clearing any other default role (best effort, not transactional),
// then inherited-role existence. The default-clearing step runs before
// insert, so two concurrent creates with IsDefault set can transiently
// produce two defaults; that window is accepted, not guarded.
func (s *Service) Create(ctx context.Context, req CreateRoleRequest, actorID string) (*Role, error) {
	existing, err := s.store.FindByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, duplicateName(req.Name)
	}

	if req.IsDefault {
		if err := s.clearOtherDefaults(ctx, "", actorID); err != nil {
			return nil, err
		}
	}

	if len(req.InheritedRoles) > 0 {
		if err := s.requireRolesExist(ctx, req.InheritedRoles); err != nil {
			return nil, err
		}
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	role := &Role{
		Name:           req.Name,
		IsDefault:      req.IsDefault,
		InheritedRoles: append([]RoleName{}, req.InheritedRoles...),
		Permissions:    normalizePermissions(req.Permissions),
		Description:    req.Description,
		IsActive:       isActive,
		Metadata:       req.Metadata,
		CreatedBy:      actorID,
		UpdatedBy:      actorID,
	}

	created, err := s.store.Insert(ctx, role)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventRoleCreated, created)
	s.logger.WithField("role", string(created.Name)).WithField("actor", actorID).Info("role created")
	return created, nil
}

// List returns a page of roles sorted by name ascending plus the total
// match count. The page query and the count run concurrently. The engine
// does not re-clamp Limit; the transport layer caps it at MaxPageSize.
func (s *Service) List(ctx context.Context, opts ListOptions) (*RoleList, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	filter := Filter{Search: opts.Search, IsActive: opts.IsActive}

	var (
		data  []*Role
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, err = s.store.FindMany(gctx, filter, FindOptions{Skip: (page - 1) * limit, Limit: limit})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountWhere(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if data == nil {
		data = []*Role{}
	}
	return &RoleList{Data: data, Total: total}, nil
}

// Get returns a role by id.
func (s *Service) Get(ctx context.Context, id string) (*Role, error) {
	role, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, notFoundByID(id)
	}
	return role, nil
}

// GetByName returns a role by name.
func (s *Service) GetByName(ctx context.Context, name RoleName) (*Role, error) {
	role, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, notFoundByName(name)
	}
	return role, nil
}

// Update applies a partial update. Only fields present in the request are
// written; everything else keeps its stored value. Renames are checked
// against the unique-name invariant, and inheritance changes are validated
// for referential integrity and cycles, all before any write.
func (s *Service) Update(ctx context.Context, id string, req UpdateRoleRequest, actorID string) (*Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// A default role can never be switched off through a general update.
	if role.IsDefault && req.IsActive != nil && !*req.IsActive {
		return nil, cannotDeactivateDefault()
	}

	if req.Name != nil && *req.Name != role.Name {
		existing, err := s.store.FindByName(ctx, *req.Name)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, duplicateName(*req.Name)
		}
	}

	if req.IsDefault != nil && *req.IsDefault {
		if err := s.clearOtherDefaults(ctx, id, actorID); err != nil {
			return nil, err
		}
	}

	if req.InheritedRoles != nil && len(*req.InheritedRoles) > 0 {
		if err := s.requireRolesExist(ctx, *req.InheritedRoles); err != nil {
			return nil, err
		}
		if err := s.checkNoCycles(ctx, role.Name, *req.InheritedRoles); err != nil {
			return nil, err
		}
	}

	changes := Changes{
		Name:           req.Name,
		Description:    req.Description,
		IsDefault:      req.IsDefault,
		IsActive:       req.IsActive,
		InheritedRoles: req.InheritedRoles,
		Metadata:       req.Metadata,
		UpdatedBy:      actorID,
	}
	if req.Permissions != nil {
		normalized := normalizePermissions(*req.Permissions)
		changes.Permissions = &normalized
	}

	updated, err := s.store.UpdateByID(ctx, id, Patch{Set: changes})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, notFoundByID(id)
	}

	s.emit(ctx, EventRoleUpdated, updated)
	return updated, nil
}

// UpdatePermissions appends and/or removes permissions in one atomic
// store-level patch. Additions are not deduplicated.
func (s *Service) UpdatePermissions(ctx context.Context, id string, req UpdatePermissionsRequest, actorID string) (*Role, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	patch := Patch{
		Set:                 Changes{UpdatedBy: actorID},
		AddPermissions:      normalizePermissions(req.AddPermissions),
		RemovePermissionIDs: req.RemovePermissionIDs,
	}

	updated, err := s.store.UpdateByID(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, notFoundByID(id)
	}

	s.emit(ctx, EventRoleUpdated, updated)
	return updated, nil
}

// UpdateStatus toggles the active flag. Deactivating the default role is
// forbidden.
func (s *Service) UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest, actorID string) (*Role, error) {
	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsDefault && !req.IsActive {
		return nil, cannotDeactivateDefault()
	}

	isActive := req.IsActive
	updated, err := s.store.UpdateByID(ctx, id, Patch{Set: Changes{IsActive: &isActive, UpdatedBy: actorID}})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, notFoundByID(id)
	}

	s.emit(ctx, EventRoleUpdated, updated)
	return updated, nil
}

// Delete removes a role. The default role cannot be deleted, and neither
// can a role with live user assignments; both guards run before any write.
func (s *Service) Delete(ctx context.Context, id string) error {
	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsDefault {
		return cannotDeleteDefault()
	}

	if s.refs != nil {
		count, err := s.refs.CountByRole(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return roleInUse(role.Name, count)
		}
	}

	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFoundByID(id)
	}

	s.emit(ctx, EventRoleDeleted, role)
	s.logger.WithField("role", string(role.Name)).Info("role deleted")
	return nil
}

// clearOtherDefaults clears the default flag on every role except excludeID.
// Best effort: it is a separate store call from the write that follows, so
// the single-default invariant is eventual under concurrent writers.
func (s *Service) clearOtherDefaults(ctx context.Context, excludeID, actorID string) error {
	isDefault := true
	clear := false
	_, err := s.store.UpdateMany(ctx,
		Filter{IsDefault: &isDefault, ExcludeID: excludeID},
		Patch{Set: Changes{IsDefault: &clear, UpdatedBy: actorID}},
	)
	return err
}

// requireRolesExist batch-fetches the named roles and fails with the full
// list of missing names when any are absent.
func (s *Service) requireRolesExist(ctx context.Context, names []RoleName) error {
	found, err := s.store.FindMany(ctx, Filter{Names: names}, FindOptions{})
	if err != nil {
		return err
	}
	if len(found) == len(names) {
		return nil
	}

	present := make(map[RoleName]struct{}, len(found))
	for _, r := range found {
		present[r.Name] = struct{}{}
	}
	var missing []RoleName
	for _, n := range names {
		if _, ok := present[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missingInheritedRoles(missing)
}

func (s *Service) emit(ctx context.Context, event string, payload interface{}) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, event, payload)
}

// normalizePermissions materializes each permission so Actions is never nil
// and Conditions defaults to an empty map, and assigns an id to any
// permission that lacks one. Malformed shapes are normalized, not rejected.
func normalizePermissions(perms []Permission) []Permission {
	out := make([]Permission, len(perms))
	for i, p := range perms {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Actions == nil {
			p.Actions = []string{}
		}
		if p.Conditions == nil {
			p.Conditions = map[string]interface{}{}
		}
		out[i] = p
	}
	return out
}
