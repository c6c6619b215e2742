package rbac

import (
	"context"
	"time"
)

// Store describes the persistence operations the RBAC subsystem depends on.
// Role and permission reads are per-request; nothing is cached in-process, so
// role changes take effect on the very next authenticated request.
type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)

	// RolesForUser returns every role referenced by the user, including
	// inactive ones; the resolver decides what counts.
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SetRoleActive(ctx context.Context, name string, active bool) (Role, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)
	// UpsertRole creates or updates the role keyed by its unique name and
	// replaces its permission references with the named set.
	UpsertRole(ctx context.Context, name, description string, permissionNames []string) (Role, error)

	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeSessionsForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}
