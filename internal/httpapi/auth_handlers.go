package httpapi

import (
	"errors"
	"net/http"
	"time"

	"vendra.io/internal/activity"
	"vendra.io/internal/rbac"
)

const refreshCookieName = "vendra_refresh"

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	TokenType       string    `json:"token_type"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	User            userView  `json:"user"`
}

type userView struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	Roles       []string       `json:"roles"`
	Permissions map[string]any `json:"permissions"`
	CreatedAt   time.Time      `json:"created_at"`
}

func viewOf(p rbac.Principal) userView {
	roles := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		roles = append(roles, role.Name)
	}
	perms := make(map[string]any, len(p.Permissions))
	for resource, actions := range p.Permissions {
		verbs := make([]string, 0, len(actions))
		for action := range actions {
			verbs = append(verbs, string(action))
		}
		perms[resource] = verbs
	}
	return userView{
		ID:          p.User.ID,
		Username:    p.User.Username,
		Email:       p.User.Email,
		Roles:       roles,
		Permissions: perms,
		CreatedAt:   p.User.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	user, err := a.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.recorder.RecordAuth(r.Context(), activity.Event{
		Actor:       user.ID,
		Action:      activity.ActionRegister,
		Description: "user " + user.Username + " registered",
		Origin:      origin(r),
	})
	respondData(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	pair, principal, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidCredentials) {
			a.recorder.RecordAuth(r.Context(), activity.Event{
				Actor:       req.Username,
				Action:      activity.ActionLogin,
				Outcome:     activity.OutcomeFailed,
				Description: "login failed",
				Origin:      origin(r),
			})
		}
		respondDomainError(w, r, err)
		return
	}
	a.recorder.RecordAuth(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionLogin,
		Description: "user " + principal.User.Username + " logged in",
		Origin:      origin(r),
	})
	a.setRefreshCookie(w, pair)
	respondData(w, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: pair.AccessExpiresAt,
		User:            viewOf(principal),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := a.refreshTokenFrom(r)
	if token == "" {
		unauthorized(w, r, "refresh token is required")
		return
	}
	pair, principal, err := a.auth.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidToken) {
			a.clearRefreshCookie(w)
		}
		respondDomainError(w, r, err)
		return
	}
	a.setRefreshCookie(w, pair)
	respondData(w, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: pair.AccessExpiresAt,
		User:            viewOf(principal),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if token := a.refreshTokenFrom(r); token != "" {
		if err := a.auth.Logout(r.Context(), token); err != nil && !errors.Is(err, rbac.ErrInvalidToken) {
			respondDomainError(w, r, err)
			return
		}
	}
	a.clearRefreshCookie(w)
	a.recorder.RecordAuth(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionLogout,
		Description: "user " + principal.User.Username + " logged out",
		Origin:      origin(r),
	})
	respondMessage(w, http.StatusOK, "logged out")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	respondData(w, http.StatusOK, viewOf(principal))
}

// refreshTokenFrom prefers the httpOnly cookie; the JSON body is the fallback
// for non-browser clients.
func (a *API) refreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if r.Body != nil {
		dec := jsonDecoder(r)
		_ = dec.Decode(&req)
	}
	return req.RefreshToken
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair rbac.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   a.secureCookies,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   a.secureCookies,
	})
}
