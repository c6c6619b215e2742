package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vendra.io/internal/ids"
	"vendra.io/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

// Users ---------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (rbac.User, error) {
	var user rbac.User
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password_hash)
		values ($1, $2, $3, $4)
		returning id, username, email, password_hash, created_at, updated_at
	`, ids.New(), username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.User{}, rbac.ErrConflict
		}
		return rbac.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (rbac.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, created_at, updated_at
		from users where id = $1
	`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (rbac.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, created_at, updated_at
		from users where username = $1
	`, username))
}

func (s *Store) scanUser(row *sql.Row) (rbac.User, error) {
	var user rbac.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

// Roles ---------------------------------------------------------------------

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.active, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.description, p.resource, p.action, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	var (
		role rbac.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, active, created_at, updated_at
		from roles where name = $1
	`, name).Scan(&role.ID, &role.Name, &desc, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	role.Description = desc.String
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, active, created_at, updated_at
		from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

func (s *Store) SetRoleActive(ctx context.Context, name string, active bool) (rbac.Role, error) {
	var (
		role rbac.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		update roles set active = $2, updated_at = now()
		where name = $1
		returning id, name, description, active, created_at, updated_at
	`, name, active).Scan(&role.ID, &role.Name, &desc, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	role.Description = desc.String
	return role, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// Permissions ---------------------------------------------------------------

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, resource, action, created_at
		from permissions order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *Store) UpsertPermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	var (
		out    rbac.Permission
		desc   sql.NullString
		action string
	)
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description, resource, action)
		values ($1, $2, $3, $4, $5)
		on conflict (name) do update
		set description = excluded.description,
		    resource = excluded.resource,
		    action = excluded.action
		returning id, name, description, resource, action, created_at
	`, ids.New(), perm.Name, nullIfEmpty(perm.Description), perm.Resource, string(perm.Action)).Scan(
		&out.ID, &out.Name, &desc, &out.Resource, &action, &out.CreatedAt,
	)
	if err != nil {
		return rbac.Permission{}, err
	}
	out.Description = desc.String
	out.Action = rbac.Action(action)
	return out, nil
}

func (s *Store) UpsertRole(ctx context.Context, name, description string, permissionNames []string) (rbac.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		role rbac.Role
		desc sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		insert into roles (id, name, description, active)
		values ($1, $2, $3, true)
		on conflict (name) do update
		set description = excluded.description, updated_at = now()
		returning id, name, description, active, created_at, updated_at
	`, ids.New(), name, nullIfEmpty(description)).Scan(
		&role.ID, &role.Name, &desc, &role.Active, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		return rbac.Role{}, err
	}
	role.Description = desc.String

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, role.ID); err != nil {
		return rbac.Role{}, err
	}
	for _, permName := range permissionNames {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where name = $2
		`, role.ID, permName)
		if err != nil {
			return rbac.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return rbac.Role{}, err
		}
		if aff == 0 {
			return rbac.Role{}, rbac.ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

// Sessions ------------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, session *rbac.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, false)
	`, session.ID, session.UserID, session.TokenHash, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (rbac.Session, error) {
	var session rbac.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from sessions where id = $1
	`, id).Scan(&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt, &session.CreatedAt, &session.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Session{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Session{}, err
	}
	return session, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked = true where id = $1
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeSessionsForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked = true where user_id = $1 and not revoked
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from sessions where expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// helpers -------------------------------------------------------------------

func scanRoles(rows *sql.Rows) ([]rbac.Role, error) {
	var roles []rbac.Role
	for rows.Next() {
		var (
			role rbac.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Description = desc.String
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanPermissions(rows *sql.Rows) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for rows.Next() {
		var (
			perm   rbac.Permission
			desc   sql.NullString
			action string
		)
		if err := rows.Scan(&perm.ID, &perm.Name, &desc, &perm.Resource, &action, &perm.CreatedAt); err != nil {
			return nil, err
		}
		perm.Description = desc.String
		perm.Action = rbac.Action(action)
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}
