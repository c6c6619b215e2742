package httpapi

import (
	"net/http"
	"strings"
	"time"

	"vendra.io/internal/activity"
)

// handleActivityCollection serves GET /v1/activity. The admin guard sits in
// the route table.
func (a *API) handleActivityCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	filter, err := activityFilter(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	number, size, err := parsePage(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	entries, total, err := a.recorder.List(r.Context(), filter, activity.Page{Number: number, Size: size})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": paginationEnvelope(number, size, total),
	})
}

// handleActivityResource serves /v1/activity/mine plus /v1/activity/{id}.
// Reading or deleting arbitrary entries is admin-only; "mine" is restricted
// to the caller's own actor id.
func (a *API) handleActivityResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/activity/"), "/")
	if rest == "" {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	if rest == "mine" {
		a.handleActivityMine(w, r)
		return
	}
	if strings.Contains(rest, "/") {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	principal, ok := requireRoleGuard(w, r, AdminRole)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		entry, err := a.recorder.Get(r.Context(), rest)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, entry)
	case http.MethodDelete:
		if err := a.recorder.Delete(r.Context(), rest); err != nil {
			respondDomainError(w, r, err)
			return
		}
		a.recorder.Record(r.Context(), activity.Event{
			Actor:       principal.User.ID,
			Action:      activity.ActionDelete,
			Resource:    "activity",
			ResourceID:  rest,
			Description: "activity entry deleted",
			Origin:      origin(r),
		})
		respondMessage(w, http.StatusOK, "activity entry deleted")
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleActivityMine lists the caller's own entries. No admin requirement; the
// actor filter is forced to the authenticated user.
func (a *API) handleActivityMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	filter, err := activityFilter(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	filter.Actor = principal.User.ID
	number, size, err := parsePage(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	entries, total, err := a.recorder.List(r.Context(), filter, activity.Page{Number: number, Size: size})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"pagination": paginationEnvelope(number, size, total),
	})
}

func activityFilter(r *http.Request) (activity.Filter, error) {
	q := r.URL.Query()
	filter := activity.Filter{
		Actor:      strings.TrimSpace(q.Get("actor")),
		Action:     strings.TrimSpace(q.Get("action")),
		Resource:   strings.TrimSpace(q.Get("resource")),
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		Search:     strings.TrimSpace(q.Get("search")),
	}
	if raw := strings.TrimSpace(q.Get("outcome")); raw != "" {
		outcome := activity.Outcome(raw)
		if !outcome.Valid() {
			return activity.Filter{}, errInvalidQuery("outcome")
		}
		filter.Outcome = outcome
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return activity.Filter{}, errInvalidQuery("from")
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return activity.Filter{}, errInvalidQuery("to")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return activity.Filter{}, errInvalidQuery("from/to")
	}
	return filter, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

type queryError string

func (e queryError) Error() string { return "invalid query parameter: " + string(e) }

func errInvalidQuery(name string) error { return queryError(name) }
