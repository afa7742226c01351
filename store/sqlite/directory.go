/*
directory.go - Access point directory persistence

PURPOSE:
  Implements directory.Store. Schedules are one row per (access point,
  weekday); GetSchedule returns nil (not an error) when a day has no row,
  which the open-check treats as closed.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/directory"
	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// ACCESS POINTS
// =============================================================================

func (s *Store) CreateAccessPoint(ctx context.Context, p *directory.AccessPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	services := p.Services
	if services == nil {
		services = []string{}
	}
	servicesJSON, _ := json.Marshal(services)

	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_points (id, name, type, location, address,
			services, contact_person, phone_number, description, is_active,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Type), p.Location, p.Address,
		string(servicesJSON), p.ContactPerson, p.PhoneNumber, p.Description,
		p.IsActive, formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{Fact: "access_point", Key: "id=" + p.ID}
	}
	return wrap("create access point", err)
}

func (s *Store) GetAccessPoint(ctx context.Context, id string) (*directory.AccessPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, location, address, services, contact_person,
			phone_number, description, is_active, created_at, updated_at
		FROM access_points WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get access point", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get access point", err)
		}
		return nil, &ledger.NotFoundError{Kind: "access_point", ID: id}
	}
	return scanAccessPoint(rows)
}

func (s *Store) ListAccessPoints(ctx context.Context, pointType directory.AccessPointType, activeOnly bool) ([]directory.AccessPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, type, location, address, services, contact_person,
			phone_number, description, is_active, created_at, updated_at
		FROM access_points WHERE 1=1`
	args := []any{}
	if pointType != "" {
		query += ` AND type = ?`
		args = append(args, string(pointType))
	}
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list access points", err)
	}
	defer rows.Close()

	var out []directory.AccessPoint
	for rows.Next() {
		p, err := scanAccessPoint(rows)
		if err != nil {
			return nil, wrap("list access points", err)
		}
		out = append(out, *p)
	}
	return out, wrap("list access points", rows.Err())
}

func scanAccessPoint(rows *sql.Rows) (*directory.AccessPoint, error) {
	var p directory.AccessPoint
	var services, createdAt, updatedAt string
	if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Location, &p.Address,
		&services, &p.ContactPerson, &p.PhoneNumber, &p.Description,
		&p.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(services), &p.Services); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Store) SaveSchedule(ctx context.Context, sched *directory.DaySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched.Day = strings.ToLower(sched.Day)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_point_schedules (access_point_id, day, open_time,
			close_time, is_closed, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(access_point_id, day) DO UPDATE SET
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			is_closed = excluded.is_closed,
			notes = excluded.notes`,
		sched.AccessPointID, sched.Day, sched.OpenTime, sched.CloseTime,
		sched.IsClosed, sched.Notes)
	return wrap("save schedule", err)
}

func (s *Store) GetSchedule(ctx context.Context, accessPointID, day string) (*directory.DaySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT access_point_id, day, open_time, close_time, is_closed, notes
		FROM access_point_schedules
		WHERE access_point_id = ? AND day = ?`,
		accessPointID, strings.ToLower(day))

	var sched directory.DaySchedule
	err := row.Scan(&sched.AccessPointID, &sched.Day, &sched.OpenTime,
		&sched.CloseTime, &sched.IsClosed, &sched.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing day row means "no hours posted", not a fault.
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get schedule", err)
	}
	return &sched, nil
}

func (s *Store) ListSchedules(ctx context.Context, accessPointID string) ([]directory.DaySchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT access_point_id, day, open_time, close_time, is_closed, notes
		FROM access_point_schedules
		WHERE access_point_id = ?
		ORDER BY day`, accessPointID)
	if err != nil {
		return nil, wrap("list schedules", err)
	}
	defer rows.Close()

	var out []directory.DaySchedule
	for rows.Next() {
		var sched directory.DaySchedule
		if err := rows.Scan(&sched.AccessPointID, &sched.Day, &sched.OpenTime,
			&sched.CloseTime, &sched.IsClosed, &sched.Notes); err != nil {
			return nil, wrap("list schedules", err)
		}
		out = append(out, sched)
	}
	return out, wrap("list schedules", rows.Err())
}
