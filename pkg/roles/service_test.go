package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRefs struct {
	counts map[string]int
}

func (r *staticRefs) CountByRole(_ context.Context, roleID string) (int, error) {
	return r.counts[roleID], nil
}

type recordingEmitter struct {
	events []string
}

func (e *recordingEmitter) Emit(_ context.Context, event string, _ interface{}) {
	e.events = append(e.events, event)
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *recordingEmitter, *staticRefs) {
	t.Helper()
	store := NewMemoryStore()
	refs := &staticRefs{counts: map[string]int{}}
	emitter := &recordingEmitter{}
	return NewService(store, refs, emitter, nil), store, emitter, refs
}

func mustCreate(t *testing.T, svc *Service, req CreateRoleRequest) *Role {
	t.Helper()
	role, err := svc.Create(context.Background(), req, "tester")
	require.NoError(t, err)
	return role
}

func TestCreateRole(t *testing.T) {
	svc, _, emitter, _ := newTestService(t)

	role := mustCreate(t, svc, CreateRoleRequest{
		Name:        RoleEditor,
		Description: "content editors",
		Permissions: []Permission{{Resource: "articles", Actions: []string{"read", "write"}}},
	})

	assert.NotEmpty(t, role.ID)
	assert.Equal(t, RoleEditor, role.Name)
	assert.True(t, role.IsActive, "roles default to active")
	assert.False(t, role.IsDefault)
	assert.Equal(t, "tester", role.CreatedBy)
	assert.Equal(t, "tester", role.UpdatedBy)
	assert.False(t, role.CreatedAt.IsZero())
	require.Len(t, role.Permissions, 1)
	assert.NotEmpty(t, role.Permissions[0].ID, "permissions get ids on insert")
	assert.NotNil(t, role.Permissions[0].Conditions)
	assert.Equal(t, []string{EventRoleCreated}, emitter.events)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	_, err := svc.Create(context.Background(), CreateRoleRequest{Name: RoleEditor}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestCreateRoleInactive(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	inactive := false
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleGuest, IsActive: &inactive})
	assert.False(t, role.IsActive)
}

func TestCreateDefaultClearsOtherDefaults(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	first := mustCreate(t, svc, CreateRoleRequest{Name: RoleUser, IsDefault: true})
	second := mustCreate(t, svc, CreateRoleRequest{Name: RoleGuest, IsDefault: true})

	reloaded, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault, "previous default must be cleared")
	assert.True(t, second.IsDefault)
}

func TestCreateRoleMissingInheritedRoles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleViewer})

	_, err := svc.Create(context.Background(), CreateRoleRequest{
		Name:           RoleEditor,
		InheritedRoles: []RoleName{RoleViewer, RoleModerator, RoleAdmin},
	}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	// All missing names are reported, not just the first.
	assert.Contains(t, err.Error(), "MODERATOR")
	assert.Contains(t, err.Error(), "ADMIN")
	assert.NotContains(t, err.Error(), "VIEWER")
}

func TestListPagination(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleAdmin})
	mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})
	mustCreate(t, svc, CreateRoleRequest{Name: RoleViewer})

	list, err := svc.List(context.Background(), ListOptions{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Data, 2)
	// Sorted by name ascending.
	assert.Equal(t, RoleAdmin, list.Data[0].Name)
	assert.Equal(t, RoleEditor, list.Data[1].Name)

	list, err = svc.List(context.Background(), ListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, RoleViewer, list.Data[0].Name)
}

func TestListFilters(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleAdmin, Description: "site administrators"})
	inactive := false
	mustCreate(t, svc, CreateRoleRequest{Name: RoleGuest, IsActive: &inactive})

	active := true
	list, err := svc.List(context.Background(), ListOptions{IsActive: &active})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	list, err = svc.List(context.Background(), ListOptions{Search: "administra"})
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, RoleAdmin, list.Data[0].Name)
}

func TestListEmptyPage(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	list, err := svc.List(context.Background(), ListOptions{Page: 7, Limit: 50})
	require.NoError(t, err)
	assert.NotNil(t, list.Data, "empty pages serialize as [], not null")
	assert.Empty(t, list.Data)
	assert.Equal(t, 0, list.Total)
}

func TestGetNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "no-such-id")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.GetByName(context.Background(), RoleAdmin)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdatePartialFields(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{
		Name:        RoleEditor,
		Description: "original",
		Permissions: []Permission{{Resource: "articles", Actions: []string{"read"}}},
	})

	desc := "updated"
	updated, err := svc.Update(context.Background(), role.ID, UpdateRoleRequest{Description: &desc}, "editor-bot")
	require.NoError(t, err)

	assert.Equal(t, "updated", updated.Description)
	// Absent fields keep their stored values.
	assert.Equal(t, RoleEditor, updated.Name)
	assert.Len(t, updated.Permissions, 1)
	assert.True(t, updated.IsActive)
	assert.Equal(t, "editor-bot", updated.UpdatedBy)
	assert.Equal(t, "tester", updated.CreatedBy)
}

func TestUpdateRenameToTakenNameConflict(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleAdmin})
	editor := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	admin := RoleAdmin
	_, err := svc.Update(context.Background(), editor.ID, UpdateRoleRequest{Name: &admin}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// The rejected rename must leave exactly one role holding the name.
	list, err := svc.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	admins := 0
	for _, r := range list.Data {
		if r.Name == RoleAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)

	// Renaming to a free name works, and re-submitting the current name is
	// not a conflict with itself.
	moderator := RoleModerator
	renamed, err := svc.Update(context.Background(), editor.ID, UpdateRoleRequest{Name: &moderator}, "tester")
	require.NoError(t, err)
	assert.Equal(t, RoleModerator, renamed.Name)

	_, err = svc.Update(context.Background(), renamed.ID, UpdateRoleRequest{Name: &moderator}, "tester")
	assert.NoError(t, err)
}

func TestUpdateCannotDeactivateDefault(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleUser, IsDefault: true})

	inactive := false
	_, err := svc.Update(context.Background(), role.ID, UpdateRoleRequest{IsActive: &inactive}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))

	// Updates that leave is_active alone are fine on a default role.
	desc := "default role"
	_, err = svc.Update(context.Background(), role.ID, UpdateRoleRequest{Description: &desc}, "tester")
	assert.NoError(t, err)

	// Explicitly setting is_active true is also fine.
	activeTrue := true
	_, err = svc.Update(context.Background(), role.ID, UpdateRoleRequest{IsActive: &activeTrue}, "tester")
	assert.NoError(t, err)
}

func TestUpdatePromoteToDefaultClearsOthers(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	first := mustCreate(t, svc, CreateRoleRequest{Name: RoleUser, IsDefault: true})
	second := mustCreate(t, svc, CreateRoleRequest{Name: RoleGuest})

	makeDefault := true
	updated, err := svc.Update(context.Background(), second.ID, UpdateRoleRequest{IsDefault: &makeDefault}, "tester")
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)

	reloaded, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault)
}

func TestUpdateInheritedRolesValidated(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	missing := []RoleName{RoleViewer}
	_, err := svc.Update(context.Background(), role.ID, UpdateRoleRequest{InheritedRoles: &missing}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "VIEWER")
}

func TestUpdateSelfInheritanceRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	self := []RoleName{RoleEditor}
	_, err := svc.Update(context.Background(), role.ID, UpdateRoleRequest{InheritedRoles: &self}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "circular")
}

func TestUpdateCycleRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleViewer})
	editor := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor, InheritedRoles: []RoleName{RoleViewer}})
	viewer, err := svc.GetByName(context.Background(), RoleViewer)
	require.NoError(t, err)

	// VIEWER -> EDITOR would close the loop EDITOR -> VIEWER -> EDITOR.
	cycle := []RoleName{RoleEditor}
	_, err = svc.Update(context.Background(), viewer.ID, UpdateRoleRequest{InheritedRoles: &cycle}, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "circular")

	// The editor role is untouched.
	reloaded, err := svc.Get(context.Background(), editor.ID)
	require.NoError(t, err)
	assert.Equal(t, []RoleName{RoleViewer}, reloaded.InheritedRoles)
}

func TestUpdateClearInheritedRoles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	mustCreate(t, svc, CreateRoleRequest{Name: RoleViewer})
	editor := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor, InheritedRoles: []RoleName{RoleViewer}})

	// An explicitly empty list clears inheritance without validation.
	empty := []RoleName{}
	updated, err := svc.Update(context.Background(), editor.ID, UpdateRoleRequest{InheritedRoles: &empty}, "tester")
	require.NoError(t, err)
	assert.Empty(t, updated.InheritedRoles)
}

func TestUpdatePermissionsAddAndRemove(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{
		Name:        RoleEditor,
		Permissions: []Permission{{Resource: "articles", Actions: []string{"read"}}},
	})
	existingID := role.Permissions[0].ID

	updated, err := svc.UpdatePermissions(context.Background(), role.ID, UpdatePermissionsRequest{
		AddPermissions:      []Permission{{Resource: "comments", Actions: []string{"moderate"}}},
		RemovePermissionIDs: []string{existingID},
	}, "tester")
	require.NoError(t, err)

	require.Len(t, updated.Permissions, 1)
	assert.Equal(t, "comments", updated.Permissions[0].Resource)
	assert.NotEmpty(t, updated.Permissions[0].ID)
}

func TestUpdatePermissionsNoDedup(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	perm := Permission{Resource: "articles", Actions: []string{"read"}}
	for i := 0; i < 2; i++ {
		var err error
		role, err = svc.UpdatePermissions(context.Background(), role.ID, UpdatePermissionsRequest{
			AddPermissions: []Permission{perm},
		}, "tester")
		require.NoError(t, err)
	}

	// Duplicate additions are kept; each gets its own id.
	require.Len(t, role.Permissions, 2)
	assert.NotEqual(t, role.Permissions[0].ID, role.Permissions[1].ID)
}

func TestUpdatePermissionsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.UpdatePermissions(context.Background(), "missing", UpdatePermissionsRequest{}, "tester")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateStatus(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	updated, err := svc.UpdateStatus(context.Background(), role.ID, UpdateStatusRequest{IsActive: false}, "tester")
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	updated, err = svc.UpdateStatus(context.Background(), role.ID, UpdateStatusRequest{IsActive: true}, "tester")
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
}

func TestUpdateStatusDefaultForbidden(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleUser, IsDefault: true})

	_, err := svc.UpdateStatus(context.Background(), role.ID, UpdateStatusRequest{IsActive: false}, "tester")
	assert.True(t, errors.Is(err, ErrForbidden))

	// Re-asserting active on a default role is allowed.
	_, err = svc.UpdateStatus(context.Background(), role.ID, UpdateStatusRequest{IsActive: true}, "tester")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	svc, _, emitter, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})

	require.NoError(t, svc.Delete(context.Background(), role.ID))
	_, err := svc.Get(context.Background(), role.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, emitter.events, EventRoleDeleted)
}

func TestDeleteDefaultForbidden(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleUser, IsDefault: true})

	err := svc.Delete(context.Background(), role.ID)
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestDeleteRoleInUse(t *testing.T) {
	svc, _, _, refs := newTestService(t)
	role := mustCreate(t, svc, CreateRoleRequest{Name: RoleEditor})
	refs.counts[role.ID] = 3

	err := svc.Delete(context.Background(), role.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "3")

	// The role survives the rejected delete.
	_, err = svc.Get(context.Background(), role.ID)
	assert.NoError(t, err)
}

func TestDeleteNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	err := svc.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEmitterFailuresDoNotBlockOperations(t *testing.T) {
	// A nil emitter disables events entirely.
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, nil)

	role, err := svc.Create(context.Background(), CreateRoleRequest{Name: RoleEditor}, "tester")
	require.NoError(t, err)
	assert.NotEmpty(t, role.ID)
}
