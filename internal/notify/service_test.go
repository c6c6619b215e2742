package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	insertNotifications      func(ctx context.Context, notifications []Notification) error
	listNotifications        func(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error)
	countUnread              func(ctx context.Context, userID string) (int, error)
	markNotificationRead     func(ctx context.Context, userID, id string, at time.Time) error
	markAllNotificationsRead func(ctx context.Context, userID string, at time.Time) (int64, error)
	deleteNotification       func(ctx context.Context, userID, id string) error
	deleteReadNotifications  func(ctx context.Context, userID string) (int64, error)
	userIDsWithRoles         func(ctx context.Context, roleNames []string) ([]string, error)
}

func (s *stubStore) InsertNotifications(ctx context.Context, notifications []Notification) error {
	if s.insertNotifications == nil {
		return errors.New("unexpected InsertNotifications")
	}
	return s.insertNotifications(ctx, notifications)
}

func (s *stubStore) ListNotifications(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error) {
	if s.listNotifications == nil {
		return nil, 0, errors.New("unexpected ListNotifications")
	}
	return s.listNotifications(ctx, userID, filter, page)
}

func (s *stubStore) CountUnread(ctx context.Context, userID string) (int, error) {
	if s.countUnread == nil {
		return 0, errors.New("unexpected CountUnread")
	}
	return s.countUnread(ctx, userID)
}

func (s *stubStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	if s.markNotificationRead == nil {
		return errors.New("unexpected MarkNotificationRead")
	}
	return s.markNotificationRead(ctx, userID, id, at)
}

func (s *stubStore) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	if s.markAllNotificationsRead == nil {
		return 0, errors.New("unexpected MarkAllNotificationsRead")
	}
	return s.markAllNotificationsRead(ctx, userID, at)
}

func (s *stubStore) DeleteNotification(ctx context.Context, userID, id string) error {
	if s.deleteNotification == nil {
		return errors.New("unexpected DeleteNotification")
	}
	return s.deleteNotification(ctx, userID, id)
}

func (s *stubStore) DeleteReadNotifications(ctx context.Context, userID string) (int64, error) {
	if s.deleteReadNotifications == nil {
		return 0, errors.New("unexpected DeleteReadNotifications")
	}
	return s.deleteReadNotifications(ctx, userID)
}

func (s *stubStore) UserIDsWithRoles(ctx context.Context, roleNames []string) ([]string, error) {
	if s.userIDsWithRoles == nil {
		return nil, errors.New("unexpected UserIDsWithRoles")
	}
	return s.userIDsWithRoles(ctx, roleNames)
}

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateForUser(t *testing.T) {
	var inserted []Notification
	store := &stubStore{
		insertNotifications: func(_ context.Context, notifications []Notification) error {
			inserted = notifications
			return nil
		},
	}
	fixed := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return fixed }))

	n, err := svc.CreateForUser(context.Background(), "u1", Payload{Title: "order shipped", Message: "on its way"})
	if err != nil {
		t.Fatalf("CreateForUser: %v", err)
	}
	if n.ID == "" || n.UserID != "u1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Type != "info" {
		t.Fatalf("empty type must default to info, got %q", n.Type)
	}
	if !n.CreatedAt.Equal(fixed) {
		t.Fatalf("timestamp must come from the clock, got %v", n.CreatedAt)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(inserted))
	}
}

func TestCreateForUserValidation(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	cases := []struct {
		name    string
		userID  string
		payload Payload
	}{
		{"empty user", "", Payload{Title: "t", Message: "m"}},
		{"missing title", "u1", Payload{Message: "m"}},
		{"missing message", "u1", Payload{Title: "t"}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateForUser(context.Background(), tc.userID, tc.payload); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestCreateForRolesFansOut(t *testing.T) {
	var inserted []Notification
	store := &stubStore{
		userIDsWithRoles: func(_ context.Context, roleNames []string) ([]string, error) {
			if len(roleNames) != 1 || roleNames[0] != "seller" {
				t.Fatalf("unexpected roles %v", roleNames)
			}
			return []string{"u1", "u2", "u3"}, nil
		},
		insertNotifications: func(_ context.Context, notifications []Notification) error {
			inserted = notifications
			return nil
		},
	}
	svc := newTestService(t, store)

	count, err := svc.CreateForRoles(context.Background(), []string{" seller ", ""}, Payload{Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("CreateForRoles: %v", err)
	}
	if count != 3 || len(inserted) != 3 {
		t.Fatalf("expected 3 notifications, got count=%d inserted=%d", count, len(inserted))
	}
	ids := make(map[string]struct{})
	for _, n := range inserted {
		ids[n.ID] = struct{}{}
	}
	if len(ids) != 3 {
		t.Fatal("each recipient gets a distinct notification id")
	}
}

func TestCreateForRolesNoRecipients(t *testing.T) {
	store := &stubStore{
		userIDsWithRoles: func(_ context.Context, _ []string) ([]string, error) {
			return nil, nil
		},
	}
	svc := newTestService(t, store)

	if _, err := svc.CreateForRoles(context.Background(), []string{"warehouse"}, Payload{Title: "t", Message: "m"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateForRolesRequiresRoleName(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	if _, err := svc.CreateForRoles(context.Background(), []string{"  ", ""}, Payload{Title: "t", Message: "m"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMarkAllReadReturnsCount(t *testing.T) {
	store := &stubStore{
		markAllNotificationsRead: func(_ context.Context, userID string, _ time.Time) (int64, error) {
			if userID != "u1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return 7, nil
		},
	}
	svc := newTestService(t, store)

	count, err := svc.MarkAllRead(context.Background(), "u1")
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7, got %d", count)
	}
}

func TestListForUserNormalizesPage(t *testing.T) {
	var got Page
	store := &stubStore{
		listNotifications: func(_ context.Context, _ string, _ Filter, page Page) ([]Notification, int, error) {
			got = page
			return nil, 0, nil
		},
	}
	svc := newTestService(t, store)

	if _, _, err := svc.ListForUser(context.Background(), "u1", Filter{}, Page{Size: 5000}); err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if got.Number != 1 || got.Size != maxPageSize {
		t.Fatalf("expected normalized page, got %+v", got)
	}
}
