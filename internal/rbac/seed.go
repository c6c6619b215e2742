package rbac

import (
	"context"
	"fmt"
)

// Catalog resources. "rbac" changes are audited against these names too.
const (
	ResourceUser    = "user"
	ResourceProduct = "product"
	ResourceOrder   = "order"
	ResourceRole    = "role"
)

var catalogResources = []string{ResourceUser, ResourceProduct, ResourceOrder, ResourceRole}

var catalogActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage}

// PermissionName builds the unique "resource:action" key.
func PermissionName(resource string, action Action) string {
	return fmt.Sprintf("%s:%s", resource, action)
}

// CatalogPermissions returns the fixed permission catalog: every resource
// crossed with every action.
func CatalogPermissions() []Permission {
	perms := make([]Permission, 0, len(catalogResources)*len(catalogActions))
	for _, resource := range catalogResources {
		for _, action := range catalogActions {
			perms = append(perms, Permission{
				Name:        PermissionName(resource, action),
				Description: fmt.Sprintf("%s %ss", action, resource),
				Resource:    resource,
				Action:      action,
			})
		}
	}
	return perms
}

type seedRole struct {
	name        string
	description string
	permissions []string
}

func baselineRoles() []seedRole {
	admin := make([]string, 0)
	for _, p := range CatalogPermissions() {
		admin = append(admin, p.Name)
	}
	return []seedRole{
		{
			name:        "user",
			description: "Regular user",
			permissions: []string{
				PermissionName(ResourceUser, ActionRead),
				PermissionName(ResourceProduct, ActionRead),
				PermissionName(ResourceOrder, ActionCreate),
				PermissionName(ResourceOrder, ActionRead),
			},
		},
		{
			name:        "seller",
			description: "Seller with product management",
			permissions: []string{
				PermissionName(ResourceUser, ActionRead),
				PermissionName(ResourceProduct, ActionCreate),
				PermissionName(ResourceProduct, ActionRead),
				PermissionName(ResourceProduct, ActionUpdate),
				PermissionName(ResourceProduct, ActionDelete),
				PermissionName(ResourceOrder, ActionRead),
				PermissionName(ResourceOrder, ActionUpdate),
			},
		},
		{
			name:        "admin",
			description: "Administrator with full access",
			permissions: admin,
		},
	}
}

// Seed upserts the permission catalog and the baseline user/seller/admin
// roles. Everything is keyed by unique name, so re-running never produces
// duplicates.
func (s *Service) Seed(ctx context.Context) error {
	for _, perm := range CatalogPermissions() {
		if _, err := s.store.UpsertPermission(ctx, perm); err != nil {
			return fmt.Errorf("seed permission %s: %w", perm.Name, err)
		}
	}
	for _, role := range baselineRoles() {
		if _, err := s.store.UpsertRole(ctx, role.name, role.description, role.permissions); err != nil {
			return fmt.Errorf("seed role %s: %w", role.name, err)
		}
	}
	return nil
}
