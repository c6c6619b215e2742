package rbac

import "time"

// Action is the verb half of a permission.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// Valid reports whether the action is one of the recognized verbs.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage:
		return true
	default:
		return false
	}
}

// User is a registered account. Roles are referenced by id, never embedded.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions under a globally unique name. An inactive role keeps
// its permission references but contributes nothing at resolution time.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a (resource, action) pair with a unique "resource:action" name.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Resource    string    `json:"resource"`
	Action      Action    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is a persisted refresh credential. Only the sha256 of the token
// secret is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// PermissionSet is the flattened, deduplicated union of permissions across a
// user's active roles, keyed by resource.
type PermissionSet map[string]map[Action]struct{}

// Add records a permission in the set.
func (s PermissionSet) Add(resource string, action Action) {
	actions, ok := s[resource]
	if !ok {
		actions = make(map[Action]struct{})
		s[resource] = actions
	}
	actions[action] = struct{}{}
}

// Has reports whether the set grants action on resource. A stored "manage"
// permission subsumes every other action on the same resource; the expansion
// happens here at query time, never in stored data.
func (s PermissionSet) Has(resource string, action Action) bool {
	actions, ok := s[resource]
	if !ok {
		return false
	}
	if _, ok := actions[action]; ok {
		return true
	}
	_, ok = actions[ActionManage]
	return ok
}

// Len returns the number of distinct (resource, action) pairs in the set.
func (s PermissionSet) Len() int {
	n := 0
	for _, actions := range s {
		n += len(actions)
	}
	return n
}

// Principal is an authenticated user with roles and permissions resolved from
// live store data.
type Principal struct {
	User        User
	Roles       []Role
	Permissions PermissionSet
}

// HasRole reports whether any of the principal's active roles matches one of
// the given names.
func (p Principal) HasRole(names ...string) bool {
	for _, role := range p.Roles {
		for _, name := range names {
			if role.Name == name {
				return true
			}
		}
	}
	return false
}

// HasPermission reports whether the principal may perform action on resource.
func (p Principal) HasPermission(resource string, action Action) bool {
	return p.Permissions.Has(resource, action)
}
