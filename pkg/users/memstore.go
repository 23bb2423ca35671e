package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*User
	clock func() time.Time
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*User),
		clock: time.Now,
	}
}

// Insert stores a new user, assigning its id and timestamps.
func (s *MemoryStore) Insert(_ context.Context, user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := user.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	return stored.Clone(), nil
}

// FindByID returns the user or (nil, nil) when absent.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

// FindByEmail returns the user or (nil, nil) when absent.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

// SetRoles replaces the user's role assignments, returning (nil, nil) when
// the user is absent.
func (s *MemoryStore) SetRoles(_ context.Context, id string, roleIDs []string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	user.RoleIDs = append([]string(nil), roleIDs...)
	user.UpdatedAt = s.clock().UTC()
	return user.Clone(), nil
}

// ListByRole returns users holding the role, sorted by email.
func (s *MemoryStore) ListByRole(_ context.Context, roleID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*User{}
	for _, u := range s.byID {
		for _, rid := range u.RoleIDs {
			if rid == roleID {
				out = append(out, u.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// CountByRole counts users holding the role.
func (s *MemoryStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	matched, err := s.ListByRole(ctx, roleID)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}
