package activity

import (
	"context"
	"errors"
	"strings"
	"time"

	"vendra.io/internal/ids"
	"vendra.io/internal/obs"
)

// Recorder writes audit entries. Writes are best-effort: a missing required
// field or a store failure is logged internally and reported to the caller as
// nil, never as an error, so the triggering business operation keeps going.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("activity: store is required")
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends one immutable entry. Returns the persisted entry, or nil
// when the event is incomplete or the write failed.
func (r *Recorder) Record(ctx context.Context, ev Event) *Entry {
	ev.Actor = strings.TrimSpace(ev.Actor)
	ev.Action = strings.TrimSpace(ev.Action)
	ev.Resource = strings.TrimSpace(ev.Resource)
	if ev.Actor == "" || ev.Action == "" || ev.Resource == "" {
		obs.LogEvent("warn", "activity entry dropped: missing required fields", map[string]any{
			"actor":    ev.Actor,
			"action":   ev.Action,
			"resource": ev.Resource,
		})
		obs.CountAuditWriteFailure()
		return nil
	}
	if ev.Outcome == "" {
		ev.Outcome = OutcomeSuccess
	}
	if !ev.Outcome.Valid() {
		obs.LogEvent("warn", "activity entry dropped: unknown outcome", map[string]any{
			"outcome": string(ev.Outcome),
		})
		obs.CountAuditWriteFailure()
		return nil
	}

	var metadata map[string]any
	if len(ev.Metadata) > 0 {
		metadata = make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			metadata[k] = v
		}
	}

	entry := &Entry{
		ID:          ids.New(),
		Actor:       ev.Actor,
		Action:      ev.Action,
		Resource:    ev.Resource,
		ResourceID:  strings.TrimSpace(ev.ResourceID),
		Description: ev.Description,
		Before:      ev.Before,
		After:       ev.After,
		Origin:      ev.Origin,
		Outcome:     ev.Outcome,
		Error:       ev.Error,
		Metadata:    metadata,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.store.AppendEntry(ctx, entry); err != nil {
		obs.LogEvent("error", "activity entry write failed", map[string]any{
			"actor":    entry.Actor,
			"action":   entry.Action,
			"resource": entry.Resource,
			"err":      err.Error(),
		})
		obs.CountAuditWriteFailure()
		return nil
	}
	return entry
}

// RecordRBAC records a role/permission change with the fixed "rbac" resource
// tag.
func (r *Recorder) RecordRBAC(ctx context.Context, ev Event) *Entry {
	ev.Resource = "rbac"
	ev.Metadata = withType(ev.Metadata, "rbac")
	return r.Record(ctx, ev)
}

// RecordAuth records an authentication event with the fixed "auth" resource
// tag.
func (r *Recorder) RecordAuth(ctx context.Context, ev Event) *Entry {
	ev.Resource = "auth"
	ev.ResourceID = ""
	ev.Metadata = withType(ev.Metadata, "auth")
	return r.Record(ctx, ev)
}

// RecordResource records a generic resource mutation, tagging metadata with
// the resource name.
func (r *Recorder) RecordResource(ctx context.Context, ev Event) *Entry {
	ev.Metadata = withType(ev.Metadata, ev.Resource)
	return r.Record(ctx, ev)
}

func withType(metadata map[string]any, typ string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["type"] = typ
	return out
}

// List returns entries matching the filter, newest first, with the total
// match count. Retrieval is not fail-open; errors surface normally.
func (r *Recorder) List(ctx context.Context, filter Filter, page Page) ([]Entry, int, error) {
	return r.store.ListEntries(ctx, filter, page.Normalize())
}

// Get returns a single entry by id.
func (r *Recorder) Get(ctx context.Context, id string) (Entry, error) {
	return r.store.GetEntry(ctx, id)
}

// Delete removes a single entry. Access control happens at the call site.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	return r.store.DeleteEntry(ctx, id)
}
