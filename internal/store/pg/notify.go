package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vendra.io/internal/notify"
)

var _ notify.Store = (*Store)(nil)

func (s *Store) InsertNotifications(ctx context.Context, notifications []notify.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range notifications {
		var metadata []byte
		if len(n.Metadata) > 0 {
			bytes, err := json.Marshal(n.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = bytes
		}
		_, err := tx.ExecContext(ctx, `
			insert into notifications (
				id, user_id, title, message, type, resource, resource_id,
				read, action_url, metadata, created_at
			)
			values ($1, $2, $3, $4, $5, $6, $7, false, $8, $9, $10)
		`,
			n.ID, n.UserID, n.Title, n.Message, n.Type,
			nullIfEmpty(n.Resource), nullIfEmpty(n.ResourceID),
			nullIfEmpty(n.ActionURL), metadata, n.CreatedAt,
		)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return notify.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListNotifications(ctx context.Context, userID string, filter notify.Filter, page notify.Page) ([]notify.Notification, int, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		conds = append(conds, fmt.Sprintf("read = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	where := " where " + strings.Join(conds, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from notifications`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		select id, user_id, title, message, type, resource, resource_id,
		       read, read_at, action_url, metadata, created_at
		from notifications` + where + fmt.Sprintf(`
		order by created_at desc, id desc
		limit $%d offset $%d`, len(args)+1, len(args)+2)
	args = append(args, page.Size, (page.Number-1)*page.Size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []notify.Notification
	for rows.Next() {
		var (
			n          notify.Notification
			resource   sql.NullString
			resourceID sql.NullString
			readAt     sql.NullTime
			actionURL  sql.NullString
			metadata   []byte
		)
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type,
			&resource, &resourceID, &n.Read, &readAt, &actionURL,
			&metadata, &n.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		n.Resource = resource.String
		n.ResourceID = resourceID.String
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		n.ActionURL = actionURL.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from notifications where user_id = $1 and not read
	`, userID).Scan(&count)
	return count, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read = true, read_at = $3
		where id = $1 and user_id = $2 and not read
	`, id, userID, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		// Either missing or already read; distinguish for the caller.
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			select true from notifications where id = $1 and user_id = $2
		`, id, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notify.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read = true, read_at = $2
		where user_id = $1 and not read
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from notifications where id = $1 and user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteReadNotifications(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from notifications where user_id = $1 and read
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) UserIDsWithRoles(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roleNames))
	args := make([]any, len(roleNames))
	for i, name := range roleNames {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select distinct ur.user_id
		from user_roles ur
		join roles r on r.id = ur.role_id
		where r.name in (%s)
		order by ur.user_id
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
