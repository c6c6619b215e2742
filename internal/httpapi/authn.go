package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"vendra.io/internal/obs"
	"vendra.io/internal/rbac"
)

// publicPaths are reachable without a bearer token. Everything else passes
// through token verification before the mux sees the request.
var publicPaths = map[string]struct{}{
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
	"/v1/auth/register": {},
	"/v1/auth/login":    {},
	"/v1/auth/refresh":  {},
}

// withAuth verifies the bearer token on protected paths and attaches the
// resolved principal to the request context. Roles and permissions come from
// live store data on every request, so a revoked role takes effect on the
// caller's next call.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, rbac.ErrTokenExpired):
				unauthorized(w, r, "token expired")
			case errors.Is(err, rbac.ErrInvalidToken), errors.Is(err, rbac.ErrUnauthorized):
				unauthorized(w, r, "invalid token")
			default:
				respondError(w, r, http.StatusInternalServerError, "internal error", err)
			}
			return
		}

		ctx := rbac.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

// RequireRole admits requests whose principal holds at least one of the named
// roles. A missing principal is a 401; a present principal without the role is
// a 403. Callers learn whether they are logged in before they learn what they
// may do.
func RequireRole(names ...string) func(http.Handler) http.Handler {
	guard := "role:" + strings.Join(names, ",")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := rbac.PrincipalFromContext(r.Context())
			if !ok {
				obs.CountAuthzDecision(guard, "unauthorized")
				unauthorized(w, r, "authentication required")
				return
			}
			if !principal.HasRole(names...) {
				obs.CountAuthzDecision(guard, "forbidden")
				respondError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			obs.CountAuthzDecision(guard, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits requests whose principal holds the (resource,
// action) permission, directly or through a "manage" grant on the resource.
func RequirePermission(resource string, action rbac.Action) func(http.Handler) http.Handler {
	guard := rbac.PermissionName(resource, action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := rbac.PrincipalFromContext(r.Context())
			if !ok {
				obs.CountAuthzDecision(guard, "unauthorized")
				unauthorized(w, r, "authentication required")
				return
			}
			if !principal.HasPermission(resource, action) {
				obs.CountAuthzDecision(guard, "forbidden")
				respondError(w, r, http.StatusForbidden, "forbidden", nil)
				return
			}
			obs.CountAuthzDecision(guard, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

// requirePrincipal is the in-handler variant for routes where the guard
// depends on the request method or path suffix.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "authentication required")
		return rbac.Principal{}, false
	}
	return principal, true
}

// requireGuard combines the principal lookup with a permission check for
// handlers that branch on method before guarding.
func requireGuard(w http.ResponseWriter, r *http.Request, resource string, action rbac.Action) (rbac.Principal, bool) {
	guard := rbac.PermissionName(resource, action)
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		obs.CountAuthzDecision(guard, "unauthorized")
		unauthorized(w, r, "authentication required")
		return rbac.Principal{}, false
	}
	if !principal.HasPermission(resource, action) {
		obs.CountAuthzDecision(guard, "forbidden")
		respondError(w, r, http.StatusForbidden, "forbidden", nil)
		return rbac.Principal{}, false
	}
	obs.CountAuthzDecision(guard, "allowed")
	return principal, true
}

// requireRoleGuard is the in-handler variant of RequireRole.
func requireRoleGuard(w http.ResponseWriter, r *http.Request, names ...string) (rbac.Principal, bool) {
	guard := "role:" + strings.Join(names, ",")
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		obs.CountAuthzDecision(guard, "unauthorized")
		unauthorized(w, r, "authentication required")
		return rbac.Principal{}, false
	}
	if !principal.HasRole(names...) {
		obs.CountAuthzDecision(guard, "forbidden")
		respondError(w, r, http.StatusForbidden, "forbidden", nil)
		return rbac.Principal{}, false
	}
	obs.CountAuthzDecision(guard, "allowed")
	return principal, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="vendra"`)
	respondError(w, r, http.StatusUnauthorized, msg, nil)
}
