package activity

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates the referenced entry does not exist.
var ErrNotFound = errors.New("activity entry not found")

// Outcome classifies how the recorded operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// Valid reports whether the outcome is one of the recognized values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeError:
		return true
	default:
		return false
	}
}

// Recorded actions. Resource CRUD shares the verbs of the permission catalog;
// the rest cover authentication and RBAC changes.
const (
	ActionCreate           = "create"
	ActionRead             = "read"
	ActionUpdate           = "update"
	ActionDelete           = "delete"
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionRegister         = "register"
	ActionAssignRole       = "assign_role"
	ActionRevokeRole       = "revoke_role"
	ActionUpdatePermission = "update_permission"
	ActionOther            = "other"
)

// Origin carries caller metadata captured at the edge.
type Origin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Event is the explicit write contract: Actor, Action and Resource are
// required, everything else optional.
type Event struct {
	Actor       string
	Action      string
	Resource    string
	ResourceID  string
	Description string
	Before      json.RawMessage
	After       json.RawMessage
	Origin      Origin
	Outcome     Outcome
	Error       string
	Metadata    map[string]any
}

// Entry is an immutable, persisted audit record. The actor is a weak
// reference: entries survive user deletion.
type Entry struct {
	ID          string          `json:"id"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	ResourceID  string          `json:"resource_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Origin      Origin          `json:"origin"`
	Outcome     Outcome         `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Filter narrows retrieval. Zero values are ignored. From/To bound a closed
// interval on CreatedAt; Search is a case-insensitive substring match over
// description and resource.
type Filter struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Outcome    Outcome
	From       time.Time
	To         time.Time
	Search     string
}

// Page holds normalized pagination parameters.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps page number and size to sane bounds.
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

// Offset returns the row offset for the normalized page.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Number - 1) * n.Size
}

// Store persists audit entries. Append is insert-only; nothing updates an
// entry after the fact.
type Store interface {
	AppendEntry(ctx context.Context, entry *Entry) error
	ListEntries(ctx context.Context, filter Filter, page Page) ([]Entry, int, error)
	GetEntry(ctx context.Context, id string) (Entry, error)
	DeleteEntry(ctx context.Context, id string) error
}
