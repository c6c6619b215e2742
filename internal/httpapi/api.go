// Package httpapi exposes the JSON HTTP surface: authentication, RBAC
// administration, activity log retrieval and notifications. Authorization is
// enforced by stacking guards ahead of handlers; every privileged operation
// reports to the activity recorder after it decides its own outcome.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"vendra.io/internal/activity"
	"vendra.io/internal/notify"
	"vendra.io/internal/obs"
	"vendra.io/internal/rbac"
)

// AdminRole gates the elevated views (all activity entries, entry deletion,
// role-addressed notifications).
const AdminRole = "admin"

// ReadyProbe checks backing-store readiness for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *rbac.Service
	recorder   *activity.Recorder
	notify     *notify.Service
	readyProbe ReadyProbe
	version    string

	// secureCookies marks refresh cookies Secure; disabled only for
	// plain-http local development.
	secureCookies bool
}

// SecureCookies toggles the Secure attribute on refresh cookies.
func (a *API) SecureCookies(on bool) {
	a.secureCookies = on
}

// New wires the route table.
func New(auth *rbac.Service, recorder *activity.Recorder, notifier *notify.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       auth,
		recorder:   recorder,
		notify:     notifier,
		readyProbe: rp,
		version:    version,

		secureCookies: true,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.Handle("/v1/activity", RequireRole(AdminRole)(http.HandlerFunc(a.handleActivityCollection)))
	a.mux.HandleFunc("/v1/activity/", a.handleActivityResource)

	a.mux.HandleFunc("/v1/notifications", a.handleNotificationsCollection)
	a.mux.HandleFunc("/v1/notifications/", a.handleNotificationResource)

	a.mux.Handle("/v1/roles", RequirePermission(rbac.ResourceRole, rbac.ActionRead)(http.HandlerFunc(a.handleRoles)))
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.Handle("/v1/permissions", RequirePermission(rbac.ResourceRole, rbac.ActionRead)(http.HandlerFunc(a.handlePermissions)))
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 40, 20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vendra-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "not ready",
			"error":   err.Error(),
		})
		return
	}
	respondData(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- response envelope ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

func respondMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": true, "message": msg})
}

// respondError writes the standard failure envelope. The raw error text is
// included when present; internal detail beyond that stays in the server log.
// The body carries no per-request identifiers, so responses for the same
// failure are byte-identical; the request id travels in the X-Request-Id
// header instead.
func respondError(w http.ResponseWriter, r *http.Request, code int, msg string, err error) {
	payload := map[string]any{
		"success": false,
		"message": msg,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	writeJSON(w, code, payload)
}

// respondDomainError maps the shared error taxonomy onto status codes.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, notify.ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, "validation failed", err)
	case errors.Is(err, rbac.ErrConflict):
		respondError(w, r, http.StatusBadRequest, "duplicate resource", err)
	case errors.Is(err, rbac.ErrInvalidCredentials):
		// Same payload for unknown username and wrong password.
		respondError(w, r, http.StatusBadRequest, rbac.ErrInvalidCredentials.Error(), nil)
	case errors.Is(err, rbac.ErrInvalidToken), errors.Is(err, rbac.ErrTokenExpired),
		errors.Is(err, rbac.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="vendra"`)
		respondError(w, r, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, rbac.ErrForbidden):
		respondError(w, r, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, rbac.ErrNotFound), errors.Is(err, activity.ErrNotFound),
		errors.Is(err, notify.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "resource not found", err)
	default:
		obs.LogEvent("error", "request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"err":        err.Error(),
		})
		respondError(w, r, http.StatusInternalServerError, "internal error", err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	respondError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
}

// jsonDecoder is the lenient variant for optional bodies.
func jsonDecoder(r *http.Request) *json.Decoder {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePage(r *http.Request) (number, size int, err error) {
	number, err = parsePositiveInt(r.URL.Query().Get("page"), 1, 1, 1_000_000)
	if err != nil {
		return 0, 0, errors.New("page must be a positive integer")
	}
	size, err = parsePositiveInt(r.URL.Query().Get("limit"), 20, 1, 100)
	if err != nil {
		return 0, 0, errors.New("limit must be between 1 and 100")
	}
	return number, size, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, errors.New("out of range")
	}
	return val, nil
}

// origin captures caller metadata for audit entries.
func origin(r *http.Request) activity.Origin {
	return activity.Origin{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func paginationEnvelope(page, size, total int) map[string]any {
	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}
	return map[string]any{
		"page":        page,
		"limit":       size,
		"total":       total,
		"total_pages": totalPages,
	}
}
