/*
chat.go - Direct message persistence

PURPOSE:
  Implements chat.Store. Conversation queries match either direction of
  the pair and come back oldest first, the order clients render.
*/
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/chat"
	"github.com/vsla/health-engine/ledger"
)

func (s *Store) CreateMessage(ctx context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = chat.MessageText
	}
	m.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, body, message_type,
			is_delivered, is_read, read_at, reply_to_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.SenderID), string(m.ReceiverID), m.Body, string(m.Type),
		m.IsDelivered, m.IsRead, nullTime(m.ReadAt), nullString(m.ReplyToID),
		formatTime(m.CreatedAt))
	return wrap("create message", err)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, message_type, is_delivered,
			is_read, read_at, reply_to_id, created_at
		FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get message", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get message", err)
		}
		return nil, &ledger.NotFoundError{Kind: "message", ID: id}
	}
	return scanMessage(rows)
}

func (s *Store) Conversation(ctx context.Context, a, b ledger.UserID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, message_type, is_delivered,
			is_read, read_at, reply_to_id, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
			OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at, id`,
		string(a), string(b), string(b), string(a))
	if err != nil {
		return nil, wrap("conversation", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrap("conversation", err)
		}
		out = append(out, *m)
	}
	return out, wrap("conversation", rows.Err())
}

func scanMessage(rows *sql.Rows) (*chat.Message, error) {
	var m chat.Message
	var createdAt string
	var readAt, replyTo sql.NullString
	if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Type,
		&m.IsDelivered, &m.IsRead, &readAt, &replyTo, &createdAt); err != nil {
		return nil, err
	}
	m.ReadAt = scanNullTime(readAt)
	m.ReplyToID = replyTo.String
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *Store) MarkMessageRead(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE, is_delivered = TRUE, read_at = ?
		WHERE id = ? AND is_read = FALSE`,
		formatTime(at), id)
	if err != nil {
		return false, wrap("mark message read", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE id = ?`, id).Scan(&exists); err != nil {
			return false, wrap("mark message read", err)
		}
		if exists == 0 {
			return false, &ledger.NotFoundError{Kind: "message", ID: id}
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) MarkMessageDelivered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_delivered = TRUE
		WHERE id = ?`, id)
	if err != nil {
		return wrap("mark message delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "message", ID: id}
	}
	return nil
}
