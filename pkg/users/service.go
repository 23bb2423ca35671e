package users

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/roles"
)

// Service manages user accounts and their role assignments. It shares the
// role engine's error taxonomy so transports map errors uniformly.
type Service struct {
	store  Store
	roles  *roles.Service
	logger *observability.Logger
}

// NewService creates a user service. roleService validates assignments and
// may be nil to skip role validation.
func NewService(store Store, roleService *roles.Service, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{store: store, roles: roleService, logger: logger}
}

// Create validates and inserts a new user.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("%w: email is required", roles.ErrInvalidInput)
	}

	existing, err := s.store.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user with email %s already exists", roles.ErrConflict, req.Email)
	}

	if err := s.requireRolesExist(ctx, req.RoleIDs); err != nil {
		return nil, err
	}

	user := &User{
		Email:    req.Email,
		Name:     req.Name,
		RoleIDs:  append([]string{}, req.RoleIDs...),
		IsActive: true,
	}
	created, err := s.store.Insert(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user", created.Email).Info("user created")
	return created, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user with id %s", roles.ErrNotFound, id)
	}
	return user, nil
}

// AssignRoles replaces the user's role assignments. Every referenced role
// must exist.
func (s *Service) AssignRoles(ctx context.Context, id string, req AssignRolesRequest) (*User, error) {
	if err := s.requireRolesExist(ctx, req.RoleIDs); err != nil {
		return nil, err
	}

	user, err := s.store.SetRoles(ctx, id, req.RoleIDs)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user with id %s", roles.ErrNotFound, id)
	}

	s.logger.WithField("user", user.Email).WithField("roles", len(user.RoleIDs)).Info("roles assigned")
	return user, nil
}

// ListByRole returns all users holding the role.
func (s *Service) ListByRole(ctx context.Context, roleID string) ([]*User, error) {
	return s.store.ListByRole(ctx, roleID)
}

func (s *Service) requireRolesExist(ctx context.Context, roleIDs []string) error {
	if s.roles == nil {
		return nil
	}
	for _, roleID := range roleIDs {
		if _, err := s.roles.Get(ctx, roleID); err != nil {
			return err
		}
	}
	return nil
}
