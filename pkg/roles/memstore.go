package roles

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation. It backs the engine's
// tests and the `-storage memory` development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Role
	clock func() time.Time
}

// NewMemoryStore creates an empty in-memory role store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Role),
		clock: time.Now,
	}
}

// Insert stores a new role, assigning its id and timestamps.
func (s *MemoryStore) Insert(_ context.Context, role *Role) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := role.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	return stored.Clone(), nil
}

// FindByID returns the role or (nil, nil) when absent.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

// FindByName returns the role or (nil, nil) when absent.
func (s *MemoryStore) FindByName(_ context.Context, name RoleName) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byID {
		if r.Name == name {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

// FindMany returns matching roles sorted by name ascending.
func (s *MemoryStore) FindMany(_ context.Context, filter Filter, opts FindOptions) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(filter)
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return []*Role{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	out := make([]*Role, len(matched))
	for i, r := range matched {
		out[i] = r.Clone()
	}
	return out, nil
}

// UpdateByID applies the patch to one role, returning (nil, nil) when the
// id is absent.
func (s *MemoryStore) UpdateByID(_ context.Context, id string, patch Patch) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	s.apply(role, patch)
	return role.Clone(), nil
}

// UpdateMany applies the patch to every matching role and returns the count.
func (s *MemoryStore) UpdateMany(_ context.Context, filter Filter, patch Patch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, role := range s.match(filter) {
		s.apply(role, patch)
		count++
	}
	return count, nil
}

// DeleteByID removes a role, reporting whether it existed.
func (s *MemoryStore) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	return true, nil
}

// CountWhere counts roles matching the filter.
func (s *MemoryStore) CountWhere(_ context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(filter)), nil
}

// match returns the live (uncloned) roles matching the filter; callers
// hold the lock.
func (s *MemoryStore) match(filter Filter) []*Role {
	var out []*Role
	for _, r := range s.byID {
		if !matchesFilter(r, filter) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesFilter(r *Role, filter Filter) bool {
	if filter.ExcludeID != "" && r.ID == filter.ExcludeID {
		return false
	}
	if filter.IsDefault != nil && r.IsDefault != *filter.IsDefault {
		return false
	}
	if filter.IsActive != nil && r.IsActive != *filter.IsActive {
		return false
	}
	if len(filter.Names) > 0 {
		found := false
		for _, n := range filter.Names {
			if r.Name == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		name := strings.ToLower(string(r.Name))
		desc := strings.ToLower(r.Description)
		if !strings.Contains(name, needle) && !strings.Contains(desc, needle) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) apply(role *Role, patch Patch) {
	set := patch.Set
	if set.Name != nil {
		role.Name = *set.Name
	}
	if set.Description != nil {
		role.Description = *set.Description
	}
	if set.IsDefault != nil {
		role.IsDefault = *set.IsDefault
	}
	if set.IsActive != nil {
		role.IsActive = *set.IsActive
	}
	if set.InheritedRoles != nil {
		role.InheritedRoles = append([]RoleName(nil), (*set.InheritedRoles)...)
	}
	if set.Permissions != nil {
		role.Permissions = clonePermissions(*set.Permissions)
	}
	if set.Metadata != nil {
		role.Metadata = *set.Metadata
	}
	if set.UpdatedBy != "" {
		role.UpdatedBy = set.UpdatedBy
	}

	if len(patch.AddPermissions) > 0 {
		role.Permissions = append(role.Permissions, clonePermissions(patch.AddPermissions)...)
	}
	if len(patch.RemovePermissionIDs) > 0 {
		remove := make(map[string]struct{}, len(patch.RemovePermissionIDs))
		for _, id := range patch.RemovePermissionIDs {
			remove[id] = struct{}{}
		}
		kept := role.Permissions[:0]
		for _, p := range role.Permissions {
			if _, gone := remove[p.ID]; !gone {
				kept = append(kept, p)
			}
		}
		role.Permissions = kept
	}

	role.UpdatedAt = s.clock().UTC()
}
