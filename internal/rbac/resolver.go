package rbac

import "context"

// Principal loads the user and resolves the effective permission set from
// live store data. Inactive roles are filtered out before their permissions
// are unioned, so deactivating a role cuts its grants on the next request.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	roles, err := s.store.RolesForUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}

	active := make([]Role, 0, len(roles))
	perms := make(PermissionSet)
	for _, role := range roles {
		if !role.Active {
			continue
		}
		active = append(active, role)
		list, err := s.store.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return Principal{}, err
		}
		for _, p := range list {
			perms.Add(p.Resource, p.Action)
		}
	}
	return Principal{User: user, Roles: active, Permissions: perms}, nil
}

// EffectivePermissions resolves the flattened permission set for a user.
// Read-only; fails with ErrNotFound when the user record is gone.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	principal, err := s.Principal(ctx, userID)
	if err != nil {
		return nil, err
	}
	return principal.Permissions, nil
}

// HasAnyRole reports whether the user holds at least one of the named roles,
// counting only active ones.
func (s *Service) HasAnyRole(ctx context.Context, userID string, names ...string) (bool, error) {
	roles, err := s.store.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if !role.Active {
			continue
		}
		for _, name := range names {
			if role.Name == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// RequirePermission resolves the user and fails with ErrForbidden unless the
// effective set grants (resource, action) or manage on the same resource.
func (s *Service) RequirePermission(ctx context.Context, userID, resource string, action Action) (Principal, error) {
	principal, err := s.Principal(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if !principal.HasPermission(resource, action) {
		return Principal{}, ErrForbidden
	}
	return principal, nil
}
