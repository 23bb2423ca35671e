package roles

import (
	"context"
)

// checkNoCycles rejects a proposed inheritedRoles list for the role named
// self when the resulting graph would contain a cycle reachable from self,
// including direct self-reference.
//
// The walk is an iterative depth-first traversal over role names: the
// visited set is seeded with the role's own name, the proposed names go on
// a work stack, and each popped name is fetched so its own inherited names
// can be pushed. Revisiting any name means a cycle. One store round-trip
// per visited node; role graphs are operationally shallow.
func (s *Service) checkNoCycles(ctx context.Context, self RoleName, proposed []RoleName) error {
	visited := map[RoleName]struct{}{self: {}}
	stack := append([]RoleName(nil), proposed...)

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[current]; seen {
			return circularInheritance()
		}
		visited[current] = struct{}{}

		role, err := s.store.FindByName(ctx, current)
		if err != nil {
			return err
		}
		if role != nil {
			stack = append(stack, role.InheritedRoles...)
		}
	}
	return nil
}

// EffectivePermissions walks the inheritance graph from roleID depth-first,
// guarded by a visited set keyed on role id. Inherited role names are
// resolved to ids before recursing, and roles deleted since the edge was
// written are skipped rather than failing the walk.
//
// Permission accumulation across the visited roles is an extension point:
// the deduplication key the walk was designed around (resource plus sorted
// actions) is not yet carried by the stored permission shape, so the walk
// currently yields an empty set.
func (s *Service) EffectivePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := s.Get(ctx, roleID); err != nil {
		return nil, err
	}

	visited := map[string]struct{}{}
	effective := map[string]Permission{}
	stack := []string{roleID}

	for len(stack) > 0 {
		currentID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[currentID]; seen {
			continue
		}
		visited[currentID] = struct{}{}

		current, err := s.store.FindByID(ctx, currentID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			continue
		}

		// Extension point: fold current.Permissions into effective, keyed
		// by resource plus sorted actions, once the stored shape carries
		// the resource discriminator.

		for _, inheritedName := range current.InheritedRoles {
			inherited, err := s.store.FindByName(ctx, inheritedName)
			if err != nil {
				return nil, err
			}
			if inherited != nil {
				stack = append(stack, inherited.ID)
			}
		}
	}

	out := make([]Permission, 0, len(effective))
	for _, p := range effective {
		out = append(out, p)
	}
	return out, nil
}
