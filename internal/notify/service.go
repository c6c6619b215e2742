// Package notify fans notifications out to users, including role-addressed
// delivery resolved through the RBAC role store. Delivery transport is out of
// scope; rows in the store are the deliverable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendra.io/internal/ids"
)

var ErrNotFound = errors.New("notification not found")

var ErrInvalidInput = errors.New("invalid input")

// Notification is a message addressed to a single user.
type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Read       bool           `json:"read"`
	ReadAt     *time.Time     `json:"read_at,omitempty"`
	ActionURL  string         `json:"action_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Payload is the caller-supplied content of a notification.
type Payload struct {
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	ActionURL  string         `json:"action_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Filter narrows per-user listing. Read is a tri-state: nil means both.
type Filter struct {
	Read *bool
	Type string
}

// Page holds pagination parameters.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps page number and size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Store persists notifications and resolves role-addressed recipients.
type Store interface {
	InsertNotifications(ctx context.Context, notifications []Notification) error
	ListNotifications(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteNotification(ctx context.Context, userID, id string) error
	DeleteReadNotifications(ctx context.Context, userID string) (int64, error)
	// UserIDsWithRoles resolves role names to the distinct set of users
	// holding any of them.
	UserIDsWithRoles(ctx context.Context, roleNames []string) ([]string, error)
}

// Service implements notification operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("notify: store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) build(userID string, payload Payload) (Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Notification{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Message) == "" {
		return Notification{}, fmt.Errorf("%w: title and message are required", ErrInvalidInput)
	}
	typ := strings.TrimSpace(payload.Type)
	if typ == "" {
		typ = "info"
	}
	return Notification{
		ID:         ids.New(),
		UserID:     userID,
		Title:      payload.Title,
		Message:    payload.Message,
		Type:       typ,
		Resource:   payload.Resource,
		ResourceID: payload.ResourceID,
		ActionURL:  payload.ActionURL,
		Metadata:   payload.Metadata,
		CreatedAt:  s.now().UTC(),
	}, nil
}

// CreateForUser inserts one notification for one user.
func (s *Service) CreateForUser(ctx context.Context, userID string, payload Payload) (Notification, error) {
	n, err := s.build(userID, payload)
	if err != nil {
		return Notification{}, err
	}
	if err := s.store.InsertNotifications(ctx, []Notification{n}); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// CreateForRoles inserts one notification per user holding any of the named
// roles. Returns the number of notifications created; zero recipients is
// ErrNotFound so callers can distinguish a miss from an empty payload.
func (s *Service) CreateForRoles(ctx context.Context, roleNames []string, payload Payload) (int, error) {
	names := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, fmt.Errorf("%w: at least one role name is required", ErrInvalidInput)
	}
	userIDs, err := s.store.UserIDsWithRoles(ctx, names)
	if err != nil {
		return 0, err
	}
	if len(userIDs) == 0 {
		return 0, fmt.Errorf("%w: no users hold roles %s", ErrNotFound, strings.Join(names, ", "))
	}
	notifications := make([]Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		n, err := s.build(userID, payload)
		if err != nil {
			return 0, err
		}
		notifications = append(notifications, n)
	}
	if err := s.store.InsertNotifications(ctx, notifications); err != nil {
		return 0, err
	}
	return len(notifications), nil
}

// ListForUser returns the user's notifications, newest first, with the total
// match count.
func (s *Service) ListForUser(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error) {
	return s.store.ListNotifications(ctx, userID, filter, page.Normalize())
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkNotificationRead(ctx, userID, id, s.now().UTC())
}

// MarkAllRead marks every unread notification of the user as read and returns
// the affected count. Callers audit this as a single summary entry.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID, s.now().UTC())
}

// Delete removes one of the user's notifications.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.DeleteNotification(ctx, userID, id)
}

// DeleteAllRead removes every read notification of the user and returns the
// affected count.
func (s *Service) DeleteAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteReadNotifications(ctx, userID)
}
