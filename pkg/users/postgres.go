package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Role assignments live in a
// user_roles join table so CountByRole is a single indexed count.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role_id UUID NOT NULL,
	PRIMARY KEY (user_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles (role_id);
`

// Migrate creates the users tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to migrate users tables: %w", err)
	}
	return nil
}

// Insert stores a new user with its role assignments in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, user *User) (*User, error) {
	stored := user.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.IsActive = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		stored.ID, stored.Email, stored.Name, stored.IsActive, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	for _, roleID := range stored.RoleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
			stored.ID, roleID,
		); err != nil {
			return nil, fmt.Errorf("failed to insert role assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

// FindByID returns the user or (nil, nil) when absent.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "id = $1", id)
}

// FindByEmail returns the user or (nil, nil) when absent.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "email = $1", email)
}

func (s *PostgresStore) findOne(ctx context.Context, cond string, arg interface{}) (*User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at,
			COALESCE(array_agg(ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		WHERE u.` + cond + `
		GROUP BY u.id
	`

	var user User
	var roleIDs pq.StringArray
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &roleIDs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.RoleIDs = []string(roleIDs)
	return &user, nil
}

// SetRoles replaces the user's role assignments transactionally, returning
// (nil, nil) when the user is absent.
func (s *PostgresStore) SetRoles(ctx context.Context, id string, roleIDs []string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = $2 WHERE id = $1`, id, s.clock().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to touch user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to clear role assignments: %w", err)
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
			id, roleID,
		); err != nil {
			return nil, fmt.Errorf("failed to insert role assignment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.FindByID(ctx, id)
}

// ListByRole returns users holding the role, sorted by email.
func (s *PostgresStore) ListByRole(ctx context.Context, roleID string) ([]*User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at,
			COALESCE(array_agg(ur2.role_id) FILTER (WHERE ur2.role_id IS NOT NULL), '{}')
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id AND ur.role_id = $1
		LEFT JOIN user_roles ur2 ON ur2.user_id = u.id
		GROUP BY u.id
		ORDER BY u.email ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	out := []*User{}
	for rows.Next() {
		var user User
		var roleIDs pq.StringArray
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &roleIDs); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.RoleIDs = []string(roleIDs)
		out = append(out, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}

// CountByRole counts users holding the role.
func (s *PostgresStore) CountByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}
