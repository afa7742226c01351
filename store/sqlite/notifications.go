/*
notifications.go - Notification inbox, delivery queue, and templates

PURPOSE:
  Implements ledger.NotificationStore. The unread counter on users is a
  cache over the is_read flags here; CreateNotification and
  MarkNotificationRead move flag and counter in one transaction so the
  two can never disagree.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// INBOX
// =============================================================================

const notificationColumns = `id, user_id, title, message, type, action,
	related_id, priority, is_read, read_at, scheduled_for, delivered_at,
	created_at, updated_at`

func (s *Store) CreateNotification(ctx context.Context, n *ledger.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = ledger.PriorityMedium
	}
	now := s.now()
	n.CreatedAt = now
	n.UpdatedAt = now

	return s.inTx(ctx, "create notification", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, string(n.UserID), n.Title, n.Message, n.Type, n.Action,
			n.RelatedID, string(n.Priority), n.IsRead, nullTime(n.ReadAt),
			nullTime(n.ScheduledFor), nullTime(n.DeliveredAt),
			formatTime(now), formatTime(now))
		if err != nil {
			return wrap("create notification", err)
		}

		if n.IsRead {
			return nil
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET notifications = notifications + 1, updated_at = ?
			WHERE id = ?`, formatTime(now), string(n.UserID))
		if err != nil {
			return wrap("create notification", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return &ledger.NotFoundError{Kind: "user", ID: string(n.UserID)}
		}
		return nil
	})
}

func (s *Store) GetNotification(ctx context.Context, id string) (*ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get notification", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get notification", err)
		}
		return nil, &ledger.NotFoundError{Kind: "notification", ID: id}
	}
	return scanNotification(rows)
}

func (s *Store) ListNotifications(ctx context.Context, user ledger.UserID, unreadOnly bool) ([]ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{string(user)}
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	defer rows.Close()

	var out []ledger.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, wrap("list notifications", err)
		}
		out = append(out, *n)
	}
	return out, wrap("list notifications", rows.Err())
}

func scanNotification(rows *sql.Rows) (*ledger.Notification, error) {
	var n ledger.Notification
	var createdAt, updatedAt string
	var readAt, scheduledFor, deliveredAt sql.NullString
	if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type,
		&n.Action, &n.RelatedID, &n.Priority, &n.IsRead, &readAt,
		&scheduledFor, &deliveredAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.ReadAt = scanNullTime(readAt)
	n.ScheduledFor = scanNullTime(scheduledFor)
	n.DeliveredAt = scanNullTime(deliveredAt)
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped bool
	err := s.inTx(ctx, "mark notification read", func(tx *sql.Tx) error {
		// Conditional on is_read = FALSE: a second call changes nothing.
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications SET is_read = TRUE, read_at = ?, updated_at = ?
			WHERE id = ? AND is_read = FALSE`,
			formatTime(at), s.restamp(at), id)
		if err != nil {
			return wrap("mark notification read", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM notifications WHERE id = ?`, id).Scan(&exists); err != nil {
				return wrap("mark notification read", err)
			}
			if exists == 0 {
				return &ledger.NotFoundError{Kind: "notification", ID: id}
			}
			return nil // already read
		}
		flipped = true

		// Floored decrement: the counter never goes negative even if it
		// has drifted low.
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET
				notifications = MAX(notifications - 1, 0), updated_at = ?
			WHERE id = (SELECT user_id FROM notifications WHERE id = ?)`,
			s.stamp(), id)
		return wrap("mark notification read", err)
	})
	return flipped, err
}

func (s *Store) UnreadCount(ctx context.Context, user ledger.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT notifications FROM users WHERE id = ?`, string(user)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &ledger.NotFoundError{Kind: "user", ID: string(user)}
	}
	return count, wrap("unread count", err)
}

func (s *Store) ClearUnread(ctx context.Context, user ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, "clear unread", func(tx *sql.Tx) error {
		now := s.stamp()
		_, err := tx.ExecContext(ctx, `
			UPDATE notifications SET is_read = TRUE, read_at = ?, updated_at = ?
			WHERE user_id = ? AND is_read = FALSE`, now, now, string(user))
		if err != nil {
			return wrap("clear unread", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET notifications = 0, updated_at = ?
			WHERE id = ?`, now, string(user))
		if err != nil {
			return wrap("clear unread", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &ledger.NotFoundError{Kind: "user", ID: string(user)}
		}
		return nil
	})
}

// =============================================================================
// DELIVERY QUEUE
// =============================================================================

func (s *Store) PendingDelivery(ctx context.Context, now time.Time, limit int) ([]ledger.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE delivered_at IS NULL
			AND (scheduled_for IS NULL OR scheduled_for <= ?)
		ORDER BY created_at, id
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, wrap("pending delivery", err)
	}
	defer rows.Close()

	var out []ledger.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, wrap("pending delivery", err)
		}
		out = append(out, *n)
	}
	return out, wrap("pending delivery", rows.Err())
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = ?, updated_at = ?
		WHERE id = ? AND delivered_at IS NULL`,
		formatTime(at), s.restamp(at), id)
	if err != nil {
		return wrap("mark delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already delivered is a no-op; truly missing is an error.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM notifications WHERE id = ?`, id).Scan(&exists); err != nil {
			return wrap("mark delivered", err)
		}
		if exists == 0 {
			return &ledger.NotFoundError{Kind: "notification", ID: id}
		}
	}
	return nil
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (s *Store) SaveTemplate(ctx context.Context, t *ledger.NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	vars := t.Variables
	if vars == nil {
		vars = []string{}
	}
	varsJSON, _ := json.Marshal(vars)

	now := s.now()
	t.UpdatedAt = now
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_templates (id, name, title_template,
			message_template, type, action, variables, is_active, usage_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			title_template = excluded.title_template,
			message_template = excluded.message_template,
			type = excluded.type,
			action = excluded.action,
			variables = excluded.variables,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.TitleTemplate, t.MessageTemplate, t.Type, t.Action,
		string(varsJSON), t.IsActive, t.UsageCount,
		formatTime(t.CreatedAt), formatTime(now))
	return wrap("save template", err)
}

func (s *Store) GetTemplateByName(ctx context.Context, name string) (*ledger.NotificationTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, title_template, message_template, type, action,
			variables, is_active, usage_count, created_at, updated_at
		FROM notification_templates WHERE name = ?`, name)

	t, err := scanTemplateRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "notification_template", ID: name}
	}
	if err != nil {
		return nil, wrap("get template", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]ledger.NotificationTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, title_template, message_template, type, action,
			variables, is_active, usage_count, created_at, updated_at
		FROM notification_templates ORDER BY name`)
	if err != nil {
		return nil, wrap("list templates", err)
	}
	defer rows.Close()

	var out []ledger.NotificationTemplate
	for rows.Next() {
		t, err := scanTemplateRow(rows.Scan)
		if err != nil {
			return nil, wrap("list templates", err)
		}
		out = append(out, *t)
	}
	return out, wrap("list templates", rows.Err())
}

func scanTemplateRow(scan func(dest ...any) error) (*ledger.NotificationTemplate, error) {
	var t ledger.NotificationTemplate
	var vars, createdAt, updatedAt string
	if err := scan(&t.ID, &t.Name, &t.TitleTemplate, &t.MessageTemplate,
		&t.Type, &t.Action, &vars, &t.IsActive, &t.UsageCount,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_templates SET usage_count = usage_count + 1
		WHERE id = ?`, id)
	if err != nil {
		return wrap("increment template usage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "notification_template", ID: id}
	}
	return nil
}
