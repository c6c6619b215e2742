package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vendra.io/internal/activity"
	"vendra.io/internal/notify"
)

type roleNotifyRequest struct {
	Roles   []string       `json:"roles"`
	Payload notify.Payload `json:"notification"`
}

// handleNotificationsCollection serves GET (list mine) and DELETE (purge my
// read entries) on /v1/notifications.
func (a *API) handleNotificationsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		filter := notify.Filter{Type: strings.TrimSpace(r.URL.Query().Get("type"))}
		if raw := strings.TrimSpace(r.URL.Query().Get("read")); raw != "" {
			read, err := strconv.ParseBool(raw)
			if err != nil {
				respondError(w, r, http.StatusBadRequest, "read must be a boolean", nil)
				return
			}
			filter.Read = &read
		}
		number, size, err := parsePage(r)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error(), nil)
			return
		}
		notifications, total, err := a.notify.ListForUser(r.Context(), principal.User.ID, filter, notify.Page{Number: number, Size: size})
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, map[string]any{
			"notifications": notifications,
			"pagination":    paginationEnvelope(number, size, total),
		})
	case http.MethodDelete:
		count, err := a.notify.DeleteAllRead(r.Context(), principal.User.ID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		a.recorder.Record(r.Context(), activity.Event{
			Actor:       principal.User.ID,
			Action:      activity.ActionDelete,
			Resource:    "notification",
			Description: fmt.Sprintf("deleted %d read notifications", count),
			Origin:      origin(r),
			Metadata:    map[string]any{"count": count},
		})
		respondData(w, http.StatusOK, map[string]any{"deleted": count})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleNotificationResource dispatches the sub-routes:
//
//	GET    /v1/notifications/unread-count
//	POST   /v1/notifications/read-all
//	POST   /v1/notifications/roles        (admin broadcast)
//	POST   /v1/notifications/{id}/read
//	DELETE /v1/notifications/{id}
func (a *API) handleNotificationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/notifications/"), "/")
	switch rest {
	case "":
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	case "unread-count":
		a.handleUnreadCount(w, r)
		return
	case "read-all":
		a.handleReadAll(w, r)
		return
	case "roles":
		a.handleNotifyRoles(w, r)
		return
	}

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if id, found := strings.CutSuffix(rest, "/read"); found && !strings.Contains(id, "/") {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.notify.MarkRead(r.Context(), principal.User.ID, id); err != nil {
			respondDomainError(w, r, err)
			return
		}
		respondMessage(w, http.StatusOK, "notification marked as read")
		return
	}
	if strings.Contains(rest, "/") {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.notify.Delete(r.Context(), principal.User.ID, rest); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "notification deleted")
}

func (a *API) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	count, err := a.notify.UnreadCount(r.Context(), principal.User.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"unread": count})
}

// handleReadAll marks everything read and audits the bulk change as one
// summary entry carrying the affected count.
func (a *API) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	count, err := a.notify.MarkAllRead(r.Context(), principal.User.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.recorder.Record(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionUpdate,
		Resource:    "notification",
		Description: fmt.Sprintf("marked %d notifications as read", count),
		Origin:      origin(r),
		Metadata:    map[string]any{"count": count},
	})
	respondData(w, http.StatusOK, map[string]any{"updated": count})
}

// handleNotifyRoles fans one notification out to every holder of the named
// roles. Admin-only; the whole broadcast is one audit entry.
func (a *API) handleNotifyRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := requireRoleGuard(w, r, AdminRole)
	if !ok {
		return
	}
	var req roleNotifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	count, err := a.notify.CreateForRoles(r.Context(), req.Roles, req.Payload)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.recorder.Record(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionCreate,
		Resource:    "notification",
		Description: "notified roles " + strings.Join(req.Roles, ", "),
		Origin:      origin(r),
		Metadata:    map[string]any{"count": count, "roles": req.Roles},
	})
	respondData(w, http.StatusCreated, map[string]any{"created": count})
}
