package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vendra.io/internal/activity"
	"vendra.io/internal/notify"
	"vendra.io/internal/rbac"
)

const testSecret = "test-signing-secret-0123456789abcdef"

// memRBACStore is an in-memory rbac.Store for request-level tests.
type memRBACStore struct {
	mu        sync.Mutex
	users     map[string]rbac.User
	roles     map[string]rbac.Role
	rolePerms map[string][]rbac.Permission
	userRoles map[string][]string
	sessions  map[string]rbac.Session
	nextID    int
}

func newMemRBACStore() *memRBACStore {
	return &memRBACStore{
		users:     make(map[string]rbac.User),
		roles:     make(map[string]rbac.Role),
		rolePerms: make(map[string][]rbac.Permission),
		userRoles: make(map[string][]string),
		sessions:  make(map[string]rbac.Session),
	}
}

func (m *memRBACStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%04d", prefix, m.nextID)
}

func (m *memRBACStore) addRole(name string, active bool, perms ...rbac.Permission) rbac.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := rbac.Role{ID: m.id("role"), Name: name, Active: active}
	m.roles[role.ID] = role
	m.rolePerms[role.ID] = perms
	return role
}

func (m *memRBACStore) addUser(username, passwordHash string, roleIDs ...string) rbac.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := rbac.User{
		ID:       m.id("user"),
		Username: username,
		Email:    username + "@example.com",

		PasswordHash: passwordHash,
	}
	m.users[user.ID] = user
	m.userRoles[user.ID] = append([]string(nil), roleIDs...)
	return user
}

func (m *memRBACStore) CreateUser(_ context.Context, username, email, passwordHash string) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return rbac.User{}, rbac.ErrConflict
		}
	}
	user := rbac.User{ID: m.id("user"), Username: username, Email: email, PasswordHash: passwordHash}
	m.users[user.ID] = user
	return user, nil
}

func (m *memRBACStore) GetUser(_ context.Context, id string) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return user, nil
}

func (m *memRBACStore) GetUserByUsername(_ context.Context, username string) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return rbac.User{}, rbac.ErrNotFound
}

func (m *memRBACStore) RolesForUser(_ context.Context, userID string) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roles []rbac.Role
	for _, roleID := range m.userRoles[userID] {
		if role, ok := m.roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (m *memRBACStore) PermissionsForRole(_ context.Context, roleID string) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rbac.Permission(nil), m.rolePerms[roleID]...), nil
}

func (m *memRBACStore) GetRoleByName(_ context.Context, name string) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (m *memRBACStore) ListRoles(_ context.Context) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roles []rbac.Role
	for _, role := range m.roles {
		roles = append(roles, role)
	}
	return roles, nil
}

func (m *memRBACStore) SetRoleActive(_ context.Context, name string, active bool) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, role := range m.roles {
		if role.Name == name {
			role.Active = active
			m.roles[id] = role
			return role, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (m *memRBACStore) AssignRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	for _, existing := range m.userRoles[userID] {
		if existing == roleID {
			return nil
		}
	}
	m.userRoles[userID] = append(m.userRoles[userID], roleID)
	return nil
}

func (m *memRBACStore) RevokeRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.userRoles[userID]
	for i, existing := range ids {
		if existing == roleID {
			m.userRoles[userID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return rbac.ErrNotFound
}

func (m *memRBACStore) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var perms []rbac.Permission
	seen := make(map[string]struct{})
	for _, list := range m.rolePerms {
		for _, p := range list {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			perms = append(perms, p)
		}
	}
	return perms, nil
}

func (m *memRBACStore) UpsertPermission(_ context.Context, perm rbac.Permission) (rbac.Permission, error) {
	return perm, nil
}

func (m *memRBACStore) UpsertRole(_ context.Context, name, description string, _ []string) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, role := range m.roles {
		if role.Name == name {
			role.Description = description
			m.roles[id] = role
			return role, nil
		}
	}
	role := rbac.Role{ID: m.id("role"), Name: name, Description: description, Active: true}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memRBACStore) CreateSession(_ context.Context, session *rbac.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memRBACStore) GetSession(_ context.Context, id string) (rbac.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return rbac.Session{}, rbac.ErrNotFound
	}
	return session, nil
}

func (m *memRBACStore) RevokeSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return rbac.ErrNotFound
	}
	session.Revoked = true
	m.sessions[id] = session
	return nil
}

func (m *memRBACStore) RevokeSessionsForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, session := range m.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			m.sessions[id] = session
			n++
		}
	}
	return n, nil
}

func (m *memRBACStore) DeleteExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, session := range m.sessions {
		if session.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// memActivityStore records entries in memory. failAppend simulates a broken
// audit sink.
type memActivityStore struct {
	mu         sync.Mutex
	entries    []activity.Entry
	failAppend bool
}

func (m *memActivityStore) AppendEntry(_ context.Context, entry *activity.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errors.New("sink unavailable")
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memActivityStore) ListEntries(_ context.Context, filter activity.Filter, page activity.Page) ([]activity.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []activity.Entry
	for _, e := range m.entries {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	page = page.Normalize()
	start := (page.Number - 1) * page.Size
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memActivityStore) GetEntry(_ context.Context, id string) (activity.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return activity.Entry{}, activity.ErrNotFound
}

func (m *memActivityStore) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return activity.ErrNotFound
}

func (m *memActivityStore) byAction(action string) []activity.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []activity.Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// memNotifyStore backs the notification handlers, resolving role recipients
// through the shared RBAC store.
type memNotifyStore struct {
	mu            sync.Mutex
	notifications []notify.Notification
	rbac          *memRBACStore
}

func (m *memNotifyStore) InsertNotifications(_ context.Context, notifications []notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, notifications...)
	return nil
}

func (m *memNotifyStore) ListNotifications(_ context.Context, userID string, filter notify.Filter, page notify.Page) ([]notify.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []notify.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if filter.Read != nil && n.Read != *filter.Read {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		matched = append(matched, n)
	}
	total := len(matched)
	page = page.Normalize()
	start := (page.Number - 1) * page.Size
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memNotifyStore) CountUnread(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *memNotifyStore) MarkNotificationRead(_ context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			if n.Read {
				return nil
			}
			n.Read = true
			n.ReadAt = &at
			m.notifications[i] = n
			return nil
		}
	}
	return notify.ErrNotFound
}

func (m *memNotifyStore) MarkAllNotificationsRead(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for i, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			n.ReadAt = &at
			m.notifications[i] = n
			count++
		}
	}
	return count, nil
}

func (m *memNotifyStore) DeleteNotification(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return nil
		}
	}
	return notify.ErrNotFound
}

func (m *memNotifyStore) DeleteReadNotifications(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []notify.Notification
	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && n.Read {
			count++
			continue
		}
		kept = append(kept, n)
	}
	m.notifications = kept
	return count, nil
}

func (m *memNotifyStore) UserIDsWithRoles(_ context.Context, roleNames []string) ([]string, error) {
	m.rbac.mu.Lock()
	defer m.rbac.mu.Unlock()
	wanted := make(map[string]struct{})
	for _, name := range roleNames {
		for id, role := range m.rbac.roles {
			if role.Name == name {
				wanted[id] = struct{}{}
			}
		}
	}
	var userIDs []string
	for userID, roleIDs := range m.rbac.userRoles {
		for _, roleID := range roleIDs {
			if _, ok := wanted[roleID]; ok {
				userIDs = append(userIDs, userID)
				break
			}
		}
	}
	return userIDs, nil
}

// testEnv bundles the wired API with its backing stores.
type testEnv struct {
	api        *API
	handler    http.Handler
	rbacStore  *memRBACStore
	actStore   *memActivityStore
	noteStore  *memNotifyStore
	service    *rbac.Service
	adminRole  rbac.Role
	userRole   rbac.Role
	sellerRole rbac.Role
}

func permFor(resource string, action rbac.Action) rbac.Permission {
	return rbac.Permission{
		ID:       resource + ":" + string(action),
		Name:     rbac.PermissionName(resource, action),
		Resource: resource,
		Action:   action,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemRBACStore()
	adminPerms := []rbac.Permission{
		permFor(rbac.ResourceUser, rbac.ActionManage),
		permFor(rbac.ResourceProduct, rbac.ActionManage),
		permFor(rbac.ResourceOrder, rbac.ActionManage),
		permFor(rbac.ResourceRole, rbac.ActionManage),
	}
	userPerms := []rbac.Permission{
		permFor(rbac.ResourceUser, rbac.ActionRead),
		permFor(rbac.ResourceProduct, rbac.ActionRead),
		permFor(rbac.ResourceOrder, rbac.ActionCreate),
		permFor(rbac.ResourceOrder, rbac.ActionRead),
	}
	sellerPerms := []rbac.Permission{
		permFor(rbac.ResourceProduct, rbac.ActionCreate),
		permFor(rbac.ResourceProduct, rbac.ActionRead),
		permFor(rbac.ResourceProduct, rbac.ActionUpdate),
		permFor(rbac.ResourceProduct, rbac.ActionDelete),
		permFor(rbac.ResourceOrder, rbac.ActionRead),
		permFor(rbac.ResourceOrder, rbac.ActionUpdate),
	}

	env := &testEnv{rbacStore: store}
	env.adminRole = store.addRole("admin", true, adminPerms...)
	env.userRole = store.addRole("user", true, userPerms...)
	env.sellerRole = store.addRole("seller", true, sellerPerms...)

	service, err := rbac.NewService(store, rbac.WithSecret(testSecret))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.service = service

	env.actStore = &memActivityStore{}
	recorder, err := activity.NewRecorder(env.actStore)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	env.noteStore = &memNotifyStore{rbac: store}
	notifier, err := notify.NewService(env.noteStore)
	if err != nil {
		t.Fatalf("notify.NewService: %v", err)
	}

	env.api = New(service, recorder, notifier, ReadyProbe{}, "test")
	env.api.SecureCookies(false)
	env.handler = env.api.Handler()
	return env
}

// addUser registers a user with the given password and roles, bypassing the
// HTTP surface.
func (env *testEnv) addUser(t *testing.T, username, password string, roles ...rbac.Role) rbac.User {
	t.Helper()
	hash, err := rbac.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ids := make([]string, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	return env.rbacStore.addUser(username, hash, ids...)
}

// tokenFor mints a valid access token for the user.
func (env *testEnv) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.service.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return token
}

// do performs one request against the wired handler chain.
func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return envelope
}

func dataField(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data field in %v", envelope)
	}
	return data
}

func mustContain(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q to contain %q", haystack, needle)
	}
}
