package roles

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds map one-to-one onto caller-visible statuses. Use errors.Is
// against these sentinels to classify a failure.
var (
	// ErrNotFound means the role is absent by id or name.
	ErrNotFound = errors.New("role not found")
	// ErrConflict means a duplicate name on create, or a delete blocked by
	// live user assignments.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput means missing inherited-role references or a cycle in
	// the inheritance graph.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden means an attempt to deactivate or delete the default role.
	ErrForbidden = errors.New("forbidden")
)

func notFoundByID(id string) error {
	return fmt.Errorf("%w: id %q", ErrNotFound, id)
}

func notFoundByName(name RoleName) error {
	return fmt.Errorf("%w: name %q", ErrNotFound, name)
}

func duplicateName(name RoleName) error {
	return fmt.Errorf("%w: role with name %q already exists", ErrConflict, name)
}

func roleInUse(name RoleName, count int) error {
	return fmt.Errorf("%w: cannot delete role %q, it is assigned to %d user(s)", ErrConflict, name, count)
}

func missingInheritedRoles(names []RoleName) error {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return fmt.Errorf("%w: the following roles do not exist: %s", ErrInvalidInput, strings.Join(parts, ", "))
}

func circularInheritance() error {
	return fmt.Errorf("%w: circular dependency detected in role inheritance", ErrInvalidInput)
}

func cannotDeactivateDefault() error {
	return fmt.Errorf("%w: cannot deactivate default role", ErrForbidden)
}

func cannotDeleteDefault() error {
	return fmt.Errorf("%w: cannot delete default role", ErrForbidden)
}
