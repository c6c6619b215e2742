package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"vendra.io/internal/activity"
	"vendra.io/internal/notify"
)

func seedNotifications(t *testing.T, env *testEnv, userID string, payloads ...notify.Payload) []notify.Notification {
	t.Helper()
	var out []notify.Notification
	for i, p := range payloads {
		n := notify.Notification{
			ID:      "n" + string(rune('1'+i)),
			UserID:  userID,
			Title:   p.Title,
			Message: p.Message,
			Type:    p.Type,
		}
		if err := env.noteStore.InsertNotifications(context.Background(), []notify.Notification{n}); err != nil {
			t.Fatalf("InsertNotifications: %v", err)
		}
		out = append(out, n)
	}
	return out
}

func TestNotificationsListMine(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "member", "password123", env.userRole)
	other := env.addUser(t, "other", "password123", env.userRole)
	seedNotifications(t, env, member.ID,
		notify.Payload{Title: "a", Message: "m", Type: "info"},
		notify.Payload{Title: "b", Message: "m", Type: "alert"},
	)
	seedNotifications(t, env, other.ID,
		notify.Payload{Title: "c", Message: "m", Type: "info"},
	)

	rec := env.do(t, http.MethodGet, "/v1/notifications", env.tokenFor(t, member.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataField(t, decodeEnvelope(t, rec))
	list, _ := data["notifications"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 own notifications, got %d", len(list))
	}

	rec = env.do(t, http.MethodGet, "/v1/notifications?type=alert", env.tokenFor(t, member.ID), nil)
	data = dataField(t, decodeEnvelope(t, rec))
	list, _ = data["notifications"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(list))
	}
}

func TestNotificationUnreadCountAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "member", "password123", env.userRole)
	seeded := seedNotifications(t, env, member.ID,
		notify.Payload{Title: "a", Message: "m"},
		notify.Payload{Title: "b", Message: "m"},
	)
	token := env.tokenFor(t, member.ID)

	rec := env.do(t, http.MethodGet, "/v1/notifications/unread-count", token, nil)
	data := dataField(t, decodeEnvelope(t, rec))
	if data["unread"] != float64(2) {
		t.Fatalf("expected 2 unread, got %v", data["unread"])
	}

	rec = env.do(t, http.MethodPost, "/v1/notifications/"+seeded[0].ID+"/read", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/notifications/unread-count", token, nil)
	data = dataField(t, decodeEnvelope(t, rec))
	if data["unread"] != float64(1) {
		t.Fatalf("expected 1 unread after mark, got %v", data["unread"])
	}
}

func TestNotificationMarkReadIsScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "owner", "password123", env.userRole)
	intruder := env.addUser(t, "intruder", "password123", env.userRole)
	seeded := seedNotifications(t, env, owner.ID, notify.Payload{Title: "a", Message: "m"})

	rec := env.do(t, http.MethodPost, "/v1/notifications/"+seeded[0].ID+"/read", env.tokenFor(t, intruder.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign notification, got %d", rec.Code)
	}
}

// Bulk read-all is audited as one summary entry carrying the affected count,
// not one entry per notification.
func TestReadAllAuditsSingleSummaryEntry(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "member", "password123", env.userRole)
	seedNotifications(t, env, member.ID,
		notify.Payload{Title: "a", Message: "m"},
		notify.Payload{Title: "b", Message: "m"},
		notify.Payload{Title: "c", Message: "m"},
	)

	rec := env.do(t, http.MethodPost, "/v1/notifications/read-all", env.tokenFor(t, member.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataField(t, decodeEnvelope(t, rec))
	if data["updated"] != float64(3) {
		t.Fatalf("expected 3 updated, got %v", data["updated"])
	}

	updates := env.actStore.byAction(activity.ActionUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected exactly one summary entry, got %d", len(updates))
	}
	if !strings.Contains(updates[0].Description, "marked 3 notifications as read") {
		t.Fatalf("expected affected count in summary description, got %q", updates[0].Description)
	}
	if updates[0].Metadata["count"] != int64(3) {
		t.Fatalf("expected count 3 in summary metadata, got %v", updates[0].Metadata["count"])
	}
}

func TestDeleteReadNotifications(t *testing.T) {
	env := newTestEnv(t)
	member := env.addUser(t, "member", "password123", env.userRole)
	seedNotifications(t, env, member.ID,
		notify.Payload{Title: "a", Message: "m"},
		notify.Payload{Title: "b", Message: "m"},
	)
	token := env.tokenFor(t, member.ID)

	env.do(t, http.MethodPost, "/v1/notifications/read-all", token, nil)
	rec := env.do(t, http.MethodDelete, "/v1/notifications", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := dataField(t, decodeEnvelope(t, rec))
	if data["deleted"] != float64(2) {
		t.Fatalf("expected 2 deleted, got %v", data["deleted"])
	}

	deletes := env.actStore.byAction(activity.ActionDelete)
	if len(deletes) != 1 {
		t.Fatalf("expected exactly one summary entry, got %d", len(deletes))
	}
	if !strings.Contains(deletes[0].Description, "deleted 2 read notifications") {
		t.Fatalf("expected affected count in summary description, got %q", deletes[0].Description)
	}
}

func TestNotifyRolesBroadcast(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "root", "password123", env.adminRole)
	env.addUser(t, "seller1", "password123", env.sellerRole)
	env.addUser(t, "seller2", "password123", env.sellerRole)
	env.addUser(t, "buyer", "password123", env.userRole)

	body := map[string]any{
		"roles": []string{"seller"},
		"notification": map[string]any{
			"title":   "payout schedule change",
			"message": "weekly payouts move to Tuesdays",
			"type":    "announcement",
		},
	}

	rec := env.do(t, http.MethodPost, "/v1/notifications/roles", env.tokenFor(t, admin.ID), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := dataField(t, decodeEnvelope(t, rec))
	if data["created"] != float64(2) {
		t.Fatalf("expected 2 recipients, got %v", data["created"])
	}

	// One audit entry for the whole broadcast.
	creates := env.actStore.byAction(activity.ActionCreate)
	if len(creates) != 1 {
		t.Fatalf("expected one broadcast entry, got %d", len(creates))
	}
}

func TestNotifyRolesIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	seller := env.addUser(t, "shop", "password123", env.sellerRole)

	rec := env.do(t, http.MethodPost, "/v1/notifications/roles", env.tokenFor(t, seller.ID), map[string]any{
		"roles":        []string{"user"},
		"notification": map[string]any{"title": "t", "message": "m"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestNotifyRolesNoRecipients(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "root", "password123", env.adminRole)

	rec := env.do(t, http.MethodPost, "/v1/notifications/roles", env.tokenFor(t, admin.ID), map[string]any{
		"roles":        []string{"seller"},
		"notification": map[string]any{"title": "t", "message": "m"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no users hold the roles, got %d", rec.Code)
	}
}
