/*
navigation.go - Peer navigator assignments and support sessions

PURPOSE:
  Implements ledger.NavigationStore. CreateSession is the invariant-bearing
  operation here: the session insert and the parent assignment's
  total_sessions/last_session_date update share one transaction, so the
  derived counters always match the session rows.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, youth_id, navigator_id, status, support_areas,
	notes, total_sessions, last_session_date, next_session_date,
	completion_date, assigned_at, created_at, updated_at`

func marshalAreas(areas []string) string {
	if areas == nil {
		areas = []string{}
	}
	b, _ := json.Marshal(areas)
	return string(b)
}

func (s *Store) CreateAssignment(ctx context.Context, a *ledger.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = ledger.AssignmentActive
	}
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.YouthID), string(a.NavigatorID), string(a.Status),
		marshalAreas(a.SupportAreas), a.Notes, a.TotalSessions,
		nullTime(a.LastSessionDate), nullTime(a.NextSessionDate),
		nullTime(a.CompletionDate), formatTime(a.AssignedAt),
		formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{
			Fact: "assignment",
			Key: fmt.Sprintf("youth=%s navigator=%s status=%s",
				a.YouthID, a.NavigatorID, a.Status),
		}
	}
	return wrap("create assignment", err)
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*ledger.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get assignment", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get assignment", err)
		}
		return nil, &ledger.NotFoundError{Kind: "assignment", ID: id}
	}
	return scanAssignment(rows)
}

func (s *Store) UpdateAssignment(ctx context.Context, a *ledger.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.UpdatedAt = s.now()
	if a.UpdatedAt.Before(a.CreatedAt) {
		a.UpdatedAt = a.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE assignments SET
			status = ?, support_areas = ?, notes = ?, next_session_date = ?,
			completion_date = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Status), marshalAreas(a.SupportAreas), a.Notes,
		nullTime(a.NextSessionDate), nullTime(a.CompletionDate),
		formatTime(a.UpdatedAt), a.ID)
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{
			Fact: "assignment",
			Key: fmt.Sprintf("youth=%s navigator=%s status=%s",
				a.YouthID, a.NavigatorID, a.Status),
		}
	}
	if err != nil {
		return wrap("update assignment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "assignment", ID: a.ID}
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, youth, navigator ledger.UserID) ([]ledger.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1=1`
	args := []any{}
	if youth != "" {
		query += ` AND youth_id = ?`
		args = append(args, string(youth))
	}
	if navigator != "" {
		query += ` AND navigator_id = ?`
		args = append(args, string(navigator))
	}
	query += ` ORDER BY assigned_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list assignments", err)
	}
	defer rows.Close()

	var out []ledger.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, wrap("list assignments", err)
		}
		out = append(out, *a)
	}
	return out, wrap("list assignments", rows.Err())
}

func scanAssignment(rows *sql.Rows) (*ledger.Assignment, error) {
	var a ledger.Assignment
	var areas, assignedAt, createdAt, updatedAt string
	var lastSession, nextSession, completion sql.NullString
	if err := rows.Scan(&a.ID, &a.YouthID, &a.NavigatorID, &a.Status, &areas,
		&a.Notes, &a.TotalSessions, &lastSession, &nextSession, &completion,
		&assignedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(areas), &a.SupportAreas); err != nil {
		return nil, err
	}
	a.LastSessionDate = scanNullTime(lastSession)
	a.NextSessionDate = scanNullTime(nextSession)
	a.CompletionDate = scanNullTime(completion)
	a.AssignedAt = parseTime(assignedAt)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// =============================================================================
// SUPPORT SESSIONS
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, sess *ledger.SupportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if sess.SessionDate.IsZero() {
		sess.SessionDate = now
	}

	return s.inTx(ctx, "create session", func(tx *sql.Tx) error {
		var last sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT last_session_date FROM assignments WHERE id = ?`,
			sess.AssignmentID).Scan(&last)
		if err == sql.ErrNoRows {
			return &ledger.NotFoundError{Kind: "assignment", ID: sess.AssignmentID}
		}
		if err != nil {
			return wrap("create session", err)
		}

		var satisfaction sql.NullInt64
		if sess.Satisfaction != nil {
			satisfaction = sql.NullInt64{Int64: int64(*sess.Satisfaction), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO support_sessions (id, assignment_id, session_date,
				session_type, duration_minutes, notes, satisfaction, follow_up,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.AssignmentID, formatTime(sess.SessionDate),
			sess.SessionType, int64(sess.Duration/time.Minute), sess.Notes,
			satisfaction, sess.FollowUp, formatTime(now), formatTime(now))
		if err != nil {
			return wrap("create session", err)
		}

		// last_session_date tracks the latest session on record, so a
		// backdated session never moves it backwards.
		latest := sess.SessionDate
		if last.Valid {
			if prev := parseTime(last.String); prev.After(latest) {
				latest = prev
			}
		}

		// Counter and session row move together or not at all.
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET
				total_sessions = total_sessions + 1,
				last_session_date = ?,
				updated_at = ?
			WHERE id = ?`,
			formatTime(latest), formatTime(now), sess.AssignmentID)
		return wrap("create session", err)
	})
}

func (s *Store) ListSessions(ctx context.Context, assignmentID string) ([]ledger.SupportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, session_date, session_type, duration_minutes,
			notes, satisfaction, follow_up, created_at, updated_at
		FROM support_sessions
		WHERE assignment_id = ?
		ORDER BY session_date DESC, id`, assignmentID)
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	defer rows.Close()

	var out []ledger.SupportSession
	for rows.Next() {
		var sess ledger.SupportSession
		var sessionDate, createdAt, updatedAt string
		var minutes int64
		var satisfaction sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.AssignmentID, &sessionDate,
			&sess.SessionType, &minutes, &sess.Notes, &satisfaction,
			&sess.FollowUp, &createdAt, &updatedAt); err != nil {
			return nil, wrap("list sessions", err)
		}
		sess.SessionDate = parseTime(sessionDate)
		sess.Duration = time.Duration(minutes) * time.Minute
		if satisfaction.Valid {
			v := int(satisfaction.Int64)
			sess.Satisfaction = &v
		}
		sess.CreatedAt = parseTime(createdAt)
		sess.UpdatedAt = parseTime(updatedAt)
		out = append(out, sess)
	}
	return out, wrap("list sessions", rows.Err())
}
