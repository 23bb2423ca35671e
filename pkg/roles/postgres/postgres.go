// Package postgres provides a PostgreSQL-backed role store. Role documents
// are stored in a single table with JSONB columns for inherited roles,
// permissions, and metadata, so permission edits can be applied as one
// atomic statement.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/roles"
)

func newID() string {
	return uuid.NewString()
}

// Config holds PostgreSQL connection settings.
type Config struct {
	URL      string
	MaxConns int
	Timeout  time.Duration
}

// Store implements roles.Store on PostgreSQL.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
	clock   func() time.Time
}

// Open connects to PostgreSQL and returns a role store.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return NewStore(db), nil
}

// NewStore wraps an existing database handle. Used by Open and by tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// WithMetrics attaches store operation metrics.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS roles (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	inherited_roles JSONB NOT NULL DEFAULT '[]',
	permissions JSONB NOT NULL DEFAULT '[]',
	description TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	metadata JSONB,
	created_by TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_roles_is_default ON roles (is_default) WHERE is_default;
CREATE INDEX IF NOT EXISTS idx_roles_is_active ON roles (is_active);
`

// Migrate creates the roles table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate roles table: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so sibling stores can share the
// connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const roleColumns = "id, name, is_default, inherited_roles, permissions, description, is_active, metadata, created_by, updated_by, created_at, updated_at"

// Insert stores a new role, assigning its id and timestamps.
func (s *Store) Insert(ctx context.Context, role *roles.Role) (*roles.Role, error) {
	defer s.observe("insert")()

	stored := role.Clone()
	if stored.ID == "" {
		stored.ID = newID()
	}
	now := s.clock().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	inherited, permissions, metadata, err := marshalDocumentColumns(stored)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO roles (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		stored.ID,
		string(stored.Name),
		stored.IsDefault,
		inherited,
		permissions,
		stored.Description,
		stored.IsActive,
		metadata,
		stored.CreatedBy,
		stored.UpdatedBy,
		stored.CreatedAt,
		stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert role: %w", err)
	}
	return stored, nil
}

// FindByID returns the role or (nil, nil) when absent.
func (s *Store) FindByID(ctx context.Context, id string) (*roles.Role, error) {
	defer s.observe("find_by_id")()

	row := s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = $1", id)
	return scanRole(row)
}

// FindByName returns the role or (nil, nil) when absent.
func (s *Store) FindByName(ctx context.Context, name roles.RoleName) (*roles.Role, error) {
	defer s.observe("find_by_name")()

	row := s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE name = $1", string(name))
	return scanRole(row)
}

// FindMany returns matching roles sorted by name ascending.
func (s *Store) FindMany(ctx context.Context, filter roles.Filter, opts roles.FindOptions) ([]*roles.Role, error) {
	defer s.observe("find_many")()

	where, args := buildWhere(filter)
	query := "SELECT " + roleColumns + " FROM roles" + where + " ORDER BY name ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	out := []*roles.Role{}
	for rows.Next() {
		role, err := scanRoleRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return out, nil
}

// UpdateByID applies the patch to one role, returning (nil, nil) when the
// id is absent. Field sets, permission appends, and permission removals
// land in a single UPDATE statement.
func (s *Store) UpdateByID(ctx context.Context, id string, patch roles.Patch) (*roles.Role, error) {
	defer s.observe("update_by_id")()

	sets, args, err := s.buildSet(patch)
	if err != nil {
		return nil, err
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE roles SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), roleColumns)

	row := s.db.QueryRowContext(ctx, query, args...)
	role, err := scanRole(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return role, nil
}

// UpdateMany applies the patch to every matching role and returns the count.
func (s *Store) UpdateMany(ctx context.Context, filter roles.Filter, patch roles.Patch) (int, error) {
	defer s.observe("update_many")()

	sets, args, err := s.buildSet(patch)
	if err != nil {
		return 0, err
	}

	where, whereArgs := buildWhereFrom(filter, len(args))
	args = append(args, whereArgs...)
	query := "UPDATE roles SET " + strings.Join(sets, ", ") + where

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update roles: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}

// DeleteByID removes a role, reporting whether it existed.
func (s *Store) DeleteByID(ctx context.Context, id string) (bool, error) {
	defer s.observe("delete_by_id")()

	res, err := s.db.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// CountWhere counts roles matching the filter.
func (s *Store) CountWhere(ctx context.Context, filter roles.Filter) (int, error) {
	defer s.observe("count_where")()

	where, args := buildWhere(filter)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count roles: %w", err)
	}
	return count, nil
}

// buildSet renders the SET clause for a patch. The permissions column is
// rewritten as one expression combining replacement, removal filtering, and
// appends so the whole patch is a single atomic write.
func (s *Store) buildSet(patch roles.Patch) ([]string, []interface{}, error) {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	set := patch.Set
	if set.Name != nil {
		add("name", string(*set.Name))
	}
	if set.Description != nil {
		add("description", *set.Description)
	}
	if set.IsDefault != nil {
		add("is_default", *set.IsDefault)
	}
	if set.IsActive != nil {
		add("is_active", *set.IsActive)
	}
	if set.InheritedRoles != nil {
		data, err := json.Marshal(*set.InheritedRoles)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal inherited roles: %w", err)
		}
		add("inherited_roles", data)
	}
	if set.Metadata != nil {
		data, err := json.Marshal(*set.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		add("metadata", data)
	}
	if set.UpdatedBy != "" {
		add("updated_by", set.UpdatedBy)
	}

	// permissions: start from the replacement value or the stored column,
	// strip removed ids, then append additions.
	expr := "permissions"
	touched := false
	if set.Permissions != nil {
		data, err := json.Marshal(*set.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
		}
		args = append(args, data)
		expr = fmt.Sprintf("$%d::jsonb", len(args))
		touched = true
	}
	if len(patch.RemovePermissionIDs) > 0 {
		args = append(args, pq.Array(patch.RemovePermissionIDs))
		expr = fmt.Sprintf(
			"(SELECT COALESCE(jsonb_agg(elem), '[]'::jsonb) FROM jsonb_array_elements(%s) elem WHERE NOT (elem->>'id' = ANY($%d)))",
			expr, len(args))
		touched = true
	}
	if len(patch.AddPermissions) > 0 {
		data, err := json.Marshal(patch.AddPermissions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal added permissions: %w", err)
		}
		args = append(args, data)
		expr = fmt.Sprintf("%s || $%d::jsonb", expr, len(args))
		touched = true
	}
	if touched {
		sets = append(sets, "permissions = "+expr)
	}

	args = append(args, s.clock().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	return sets, args, nil
}

// buildWhere renders the WHERE clause for a filter.
func buildWhere(filter roles.Filter) (string, []interface{}) {
	return buildWhereFrom(filter, 0)
}

// buildWhereFrom renders the WHERE clause with placeholders starting after
// offset existing arguments.
func buildWhereFrom(filter roles.Filter, offset int) (string, []interface{}) {
	var conds []string
	var args []interface{}

	place := func(value interface{}) int {
		args = append(args, value)
		return offset + len(args)
	}

	if len(filter.Names) > 0 {
		names := make([]string, len(filter.Names))
		for i, n := range filter.Names {
			names[i] = string(n)
		}
		conds = append(conds, fmt.Sprintf("name = ANY($%d)", place(pq.Array(names))))
	}
	if filter.IsDefault != nil {
		conds = append(conds, fmt.Sprintf("is_default = $%d", place(*filter.IsDefault)))
	}
	if filter.IsActive != nil {
		conds = append(conds, fmt.Sprintf("is_active = $%d", place(*filter.IsActive)))
	}
	if filter.Search != "" {
		n := place("%" + filter.Search + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", n, n))
	}
	if filter.ExcludeID != "" {
		conds = append(conds, fmt.Sprintf("id != $%d", place(filter.ExcludeID)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row *sql.Row) (*roles.Role, error) {
	role, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return role, err
}

func scanRoleRows(rows *sql.Rows) (*roles.Role, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (*roles.Role, error) {
	var (
		role        roles.Role
		name        string
		inherited   []byte
		permissions []byte
		metadata    []byte
	)
	err := row.Scan(
		&role.ID,
		&name,
		&role.IsDefault,
		&inherited,
		&permissions,
		&role.Description,
		&role.IsActive,
		&metadata,
		&role.CreatedBy,
		&role.UpdatedBy,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}

	role.Name = roles.RoleName(name)
	if len(inherited) > 0 {
		if err := json.Unmarshal(inherited, &role.InheritedRoles); err != nil {
			return nil, fmt.Errorf("failed to decode inherited roles: %w", err)
		}
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &role.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &role, nil
}

func marshalDocumentColumns(role *roles.Role) (inherited, permissions, metadata []byte, err error) {
	if role.InheritedRoles == nil {
		inherited = []byte("[]")
	} else if inherited, err = json.Marshal(role.InheritedRoles); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal inherited roles: %w", err)
	}
	if role.Permissions == nil {
		permissions = []byte("[]")
	} else if permissions, err = json.Marshal(role.Permissions); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if role.Metadata != nil {
		if metadata, err = json.Marshal(role.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return inherited, permissions, metadata, nil
}

func (s *Store) observe(operation string) func() {
	if s.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		s.metrics.ObserveStoreOperation(operation, "postgres", start)
	}
}
