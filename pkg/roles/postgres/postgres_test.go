package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/roles"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	store.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return store, mock
}

func roleRow(role *roles.Role) *sqlmock.Rows {
	inherited, _ := json.Marshal(role.InheritedRoles)
	permissions, _ := json.Marshal(role.Permissions)
	var metadata []byte
	if role.Metadata != nil {
		metadata, _ = json.Marshal(role.Metadata)
	}
	return sqlmock.NewRows([]string{
		"id", "name", "is_default", "inherited_roles", "permissions",
		"description", "is_active", "metadata", "created_by", "updated_by",
		"created_at", "updated_at",
	}).AddRow(
		role.ID, string(role.Name), role.IsDefault, inherited, permissions,
		role.Description, role.IsActive, metadata, role.CreatedBy, role.UpdatedBy,
		role.CreatedAt, role.UpdatedAt,
	)
}

func TestPostgresInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO roles").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := store.Insert(context.Background(), &roles.Role{
		Name:        roles.RoleEditor,
		IsActive:    true,
		Permissions: []roles.Permission{{ID: "p1", Resource: "articles", Actions: []string{"read"}}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID, "id is assigned app-side")
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), created.CreatedAt)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByID(t *testing.T) {
	store, mock := newMockStore(t)

	want := &roles.Role{
		ID:             "role-1",
		Name:           roles.RoleEditor,
		IsActive:       true,
		InheritedRoles: []roles.RoleName{roles.RoleViewer},
		Permissions:    []roles.Permission{{ID: "p1", Resource: "articles", Actions: []string{"read"}, Conditions: map[string]interface{}{}}},
		CreatedAt:      time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id").
		WithArgs("role-1").
		WillReturnRows(roleRow(want))

	got, err := store.FindByID(context.Background(), "role-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.InheritedRoles, got.InheritedRoles)
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, "articles", got.Permissions[0].Resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := store.FindByID(context.Background(), "missing")
	require.NoError(t, err, "absence is (nil, nil), not an error")
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByName(t *testing.T) {
	store, mock := newMockStore(t)

	want := &roles.Role{ID: "role-1", Name: roles.RoleViewer, IsActive: true}
	mock.ExpectQuery("SELECT (.+) FROM roles WHERE name").
		WithArgs("VIEWER").
		WillReturnRows(roleRow(want))

	got, err := store.FindByName(context.Background(), roles.RoleViewer)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, roles.RoleViewer, got.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindManyOrdersAndPaginates(t *testing.T) {
	store, mock := newMockStore(t)

	a := &roles.Role{ID: "a", Name: roles.RoleAdmin, IsActive: true}
	rows := roleRow(a)
	mock.ExpectQuery("SELECT (.+) FROM roles WHERE is_active = (.+) ORDER BY name ASC LIMIT (.+) OFFSET").
		WithArgs(true, 10, 20).
		WillReturnRows(rows)

	active := true
	got, err := store.FindMany(context.Background(),
		roles.Filter{IsActive: &active},
		roles.FindOptions{Skip: 20, Limit: 10},
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, roles.RoleAdmin, got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindManyEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM roles ORDER BY name ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := store.FindMany(context.Background(), roles.Filter{}, roles.FindOptions{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateByIDSetFields(t *testing.T) {
	store, mock := newMockStore(t)

	updated := &roles.Role{ID: "role-1", Name: roles.RoleEditor, Description: "new", IsActive: true}
	mock.ExpectQuery("UPDATE roles SET description = (.+), updated_by = (.+), updated_at = (.+) WHERE id = (.+) RETURNING").
		WillReturnRows(roleRow(updated))

	desc := "new"
	got, err := store.UpdateByID(context.Background(), "role-1", roles.Patch{
		Set: roles.Changes{Description: &desc, UpdatedBy: "tester"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateByIDPermissionPatch(t *testing.T) {
	store, mock := newMockStore(t)

	// Removal filter and append are folded into a single UPDATE expression.
	updated := &roles.Role{ID: "role-1", Name: roles.RoleEditor, IsActive: true,
		Permissions: []roles.Permission{{ID: "new", Resource: "comments", Actions: []string{"moderate"}}}}
	mock.ExpectQuery(`UPDATE roles SET updated_by = (.+), permissions = \(SELECT COALESCE\(jsonb_agg\(elem\), '\[\]'::jsonb\) FROM jsonb_array_elements\(permissions\) elem WHERE NOT \(elem->>'id' = ANY\((.+)\)\)\) \|\| (.+)::jsonb, updated_at = (.+) WHERE id = (.+) RETURNING`).
		WillReturnRows(roleRow(updated))

	got, err := store.UpdateByID(context.Background(), "role-1", roles.Patch{
		Set:                 roles.Changes{UpdatedBy: "tester"},
		AddPermissions:      []roles.Permission{{ID: "new", Resource: "comments", Actions: []string{"moderate"}}},
		RemovePermissionIDs: []string{"drop"},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, "new", got.Permissions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateByIDAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE roles SET").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	desc := "x"
	got, err := store.UpdateByID(context.Background(), "missing", roles.Patch{
		Set: roles.Changes{Description: &desc},
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMany(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE roles SET is_default = (.+), updated_by = (.+), updated_at = (.+) WHERE is_default = (.+) AND id !=").
		WillReturnResult(sqlmock.NewResult(0, 2))

	isDefault := true
	clear := false
	count, err := store.UpdateMany(context.Background(),
		roles.Filter{IsDefault: &isDefault, ExcludeID: "keep"},
		roles.Patch{Set: roles.Changes{IsDefault: &clear, UpdatedBy: "tester"}},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteByID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM roles WHERE id").
		WithArgs("role-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM roles WHERE id").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := store.DeleteByID(context.Background(), "role-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountWhere(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM roles WHERE \(name ILIKE (.+) OR description ILIKE (.+)\)`).
		WithArgs("%admin%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := store.CountWhere(context.Background(), roles.Filter{Search: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS roles").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
