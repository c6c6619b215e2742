package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vendra.io/internal/activity"
)

var _ activity.Store = (*Store)(nil)

func (s *Store) AppendEntry(ctx context.Context, entry *activity.Entry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		bytes, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into activity_log (
			id, actor, action, resource, resource_id, description,
			before_data, after_data, ip, user_agent, outcome, error_text,
			metadata, created_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		entry.ID, entry.Actor, entry.Action, entry.Resource,
		nullIfEmpty(entry.ResourceID), entry.Description,
		nullIfRawEmpty(entry.Before), nullIfRawEmpty(entry.After),
		nullIfEmpty(entry.Origin.IP), nullIfEmpty(entry.Origin.UserAgent),
		string(entry.Outcome), nullIfEmpty(entry.Error),
		metadata, entry.CreatedAt,
	)
	return err
}

func (s *Store) ListEntries(ctx context.Context, filter activity.Filter, page activity.Page) ([]activity.Entry, int, error) {
	where, args := buildEntryFilter(filter)

	var total int
	countQuery := `select count(*) from activity_log` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	query := `
		select id, actor, action, resource, resource_id, description,
		       before_data, after_data, ip, user_agent, outcome, error_text,
		       metadata, created_at
		from activity_log` + where + fmt.Sprintf(`
		order by created_at desc, id desc
		limit $%d offset $%d`, len(args)+1, len(args)+2)
	args = append(args, page.Size, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (activity.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, actor, action, resource, resource_id, description,
		       before_data, after_data, ip, user_agent, outcome, error_text,
		       metadata, created_at
		from activity_log where id = $1
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return activity.Entry{}, activity.ErrNotFound
	}
	if err != nil {
		return activity.Entry{}, err
	}
	return entry, nil
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from activity_log where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return activity.ErrNotFound
	}
	return nil
}

func buildEntryFilter(filter activity.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Resource != "" {
		add("resource = $%d", filter.Resource)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(description ilike $%d or resource ilike $%d)", n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (activity.Entry, error) {
	var (
		entry      activity.Entry
		resourceID sql.NullString
		before     []byte
		after      []byte
		ip         sql.NullString
		userAgent  sql.NullString
		outcome    string
		errorText  sql.NullString
		metadata   []byte
	)
	err := row.Scan(
		&entry.ID, &entry.Actor, &entry.Action, &entry.Resource,
		&resourceID, &entry.Description, &before, &after,
		&ip, &userAgent, &outcome, &errorText, &metadata, &entry.CreatedAt,
	)
	if err != nil {
		return activity.Entry{}, err
	}
	entry.ResourceID = resourceID.String
	entry.Before = json.RawMessage(before)
	entry.After = json.RawMessage(after)
	entry.Origin = activity.Origin{IP: ip.String, UserAgent: userAgent.String}
	entry.Outcome = activity.Outcome(outcome)
	entry.Error = errorText.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return activity.Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}

func nullIfRawEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
