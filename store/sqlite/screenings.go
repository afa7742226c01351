/*
screenings.go - Screening records and the health worker directory

PURPOSE:
  Implements ledger.ScreeningStore and ledger.WorkerStore. Listing goes
  through one filtered query builder; the stats query aggregates in SQL
  rather than loading rows into memory.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// SCREENINGS
// =============================================================================

const screeningColumns = `id, patient_id, test_type, result, status, notes,
	location, date, conducted_by, requires_follow_up, follow_up_instructions,
	follow_up_date, created_at, updated_at`

func (s *Store) CreateScreening(ctx context.Context, rec *ledger.ScreeningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Date.IsZero() {
		rec.Date = now
	}
	if rec.Status == "" {
		rec.Status = ledger.ScreeningPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screenings (`+screeningColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.PatientID), rec.TestType, rec.Result, string(rec.Status),
		rec.Notes, rec.Location, formatTime(rec.Date),
		nullString(string(rec.ConductedBy)), rec.RequiresFollowUp,
		rec.FollowUpInstructions, nullTime(rec.FollowUpDate),
		formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{Fact: "screening", Key: "id=" + rec.ID}
	}
	return wrap("create screening", err)
}

func (s *Store) GetScreening(ctx context.Context, id string) (*ledger.ScreeningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+screeningColumns+` FROM screenings WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get screening", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get screening", err)
		}
		return nil, &ledger.NotFoundError{Kind: "screening", ID: id}
	}
	rec, err := scanScreening(rows)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) UpdateScreening(ctx context.Context, rec *ledger.ScreeningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = s.now()
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE screenings SET
			test_type = ?, result = ?, status = ?, notes = ?, location = ?,
			date = ?, conducted_by = ?, requires_follow_up = ?,
			follow_up_instructions = ?, follow_up_date = ?, updated_at = ?
		WHERE id = ?`,
		rec.TestType, rec.Result, string(rec.Status), rec.Notes, rec.Location,
		formatTime(rec.Date), nullString(string(rec.ConductedBy)),
		rec.RequiresFollowUp, rec.FollowUpInstructions,
		nullTime(rec.FollowUpDate), formatTime(rec.UpdatedAt), rec.ID)
	if err != nil {
		return wrap("update screening", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "screening", ID: rec.ID}
	}
	return nil
}

func (s *Store) DeleteScreening(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM screenings WHERE id = ?`, id)
	if err != nil {
		return wrap("delete screening", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "screening", ID: id}
	}
	return nil
}

func (s *Store) ListScreenings(ctx context.Context, f ledger.ScreeningFilter) ([]ledger.ScreeningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + screeningColumns + ` FROM screenings WHERE 1=1`
	args := []any{}
	if f.PatientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, string(f.PatientID))
	}
	if f.TestType != "" {
		query += ` AND test_type = ?`
		args = append(args, f.TestType)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.FollowUpOnly {
		query += ` AND requires_follow_up = TRUE`
	}
	if f.DateFrom != nil {
		query += ` AND date >= ?`
		args = append(args, formatTime(*f.DateFrom))
	}
	if f.DateTo != nil {
		query += ` AND date <= ?`
		args = append(args, formatTime(*f.DateTo))
	}
	query += ` ORDER BY date DESC, id`

	return s.queryScreenings(ctx, "list screenings", query, args...)
}

func (s *Store) PatientHistory(ctx context.Context, patient ledger.UserID) ([]ledger.ScreeningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryScreenings(ctx, "patient history", `
		SELECT `+screeningColumns+` FROM screenings
		WHERE patient_id = ?
		ORDER BY date DESC, id`, string(patient))
}

func (s *Store) AbnormalScreenings(ctx context.Context, patient ledger.UserID) ([]ledger.ScreeningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + screeningColumns + ` FROM screenings
		WHERE (status = ? OR requires_follow_up = TRUE)`
	args := []any{string(ledger.ScreeningAbnormal)}
	if patient != "" {
		query += ` AND patient_id = ?`
		args = append(args, string(patient))
	}
	query += ` ORDER BY date DESC, id`

	return s.queryScreenings(ctx, "abnormal screenings", query, args...)
}

func (s *Store) queryScreenings(ctx context.Context, op, query string, args ...any) ([]ledger.ScreeningRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var recs []ledger.ScreeningRecord
	for rows.Next() {
		rec, err := scanScreening(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		recs = append(recs, *rec)
	}
	return recs, wrap(op, rows.Err())
}

func scanScreening(rows *sql.Rows) (*ledger.ScreeningRecord, error) {
	var rec ledger.ScreeningRecord
	var date, createdAt, updatedAt string
	var conductedBy, followUpDate sql.NullString
	if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.TestType, &rec.Result,
		&rec.Status, &rec.Notes, &rec.Location, &date, &conductedBy,
		&rec.RequiresFollowUp, &rec.FollowUpInstructions, &followUpDate,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Date = parseTime(date)
	rec.ConductedBy = ledger.UserID(conductedBy.String)
	rec.FollowUpDate = scanNullTime(followUpDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func (s *Store) ScreeningStats(ctx context.Context) (*ledger.ScreeningStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ledger.ScreeningStats{ByTestType: map[string]int64{}}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'normal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'abnormal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN requires_follow_up THEN 1 ELSE 0 END), 0)
		FROM screenings`)
	if err := row.Scan(&stats.Total, &stats.Normal, &stats.Abnormal,
		&stats.Pending, &stats.FollowUpNeeded); err != nil {
		return nil, wrap("screening stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT test_type, COUNT(*) FROM screenings GROUP BY test_type`)
	if err != nil {
		return nil, wrap("screening stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var testType string
		var count int64
		if err := rows.Scan(&testType, &count); err != nil {
			return nil, wrap("screening stats", err)
		}
		stats.ByTestType[testType] = count
	}
	return stats, wrap("screening stats", rows.Err())
}

// =============================================================================
// HEALTH WORKER DIRECTORY
// =============================================================================

func (s *Store) SaveWorker(ctx context.Context, w *ledger.HealthWorker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.Availability == "" {
		w.Availability = ledger.AvailabilityOffline
	}
	// Only "available" counts as online; a busy worker is reachable later,
	// not now.
	w.IsOnline = w.Availability == ledger.AvailabilityAvailable

	now := s.now()
	w.UpdatedAt = now
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_workers (user_id, specialization, location,
			availability, is_online, license_number, years_experience,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			specialization = excluded.specialization,
			location = excluded.location,
			availability = excluded.availability,
			is_online = excluded.is_online,
			license_number = excluded.license_number,
			years_experience = excluded.years_experience,
			updated_at = excluded.updated_at`,
		string(w.UserID), w.Specialization, w.Location, string(w.Availability),
		w.IsOnline, w.LicenseNumber, w.YearsExperience,
		formatTime(w.CreatedAt), formatTime(now))
	return wrap("save worker", err)
}

func (s *Store) GetWorker(ctx context.Context, id ledger.UserID) (*ledger.HealthWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, specialization, location, availability, is_online,
			license_number, years_experience, created_at, updated_at
		FROM health_workers WHERE user_id = ?`, string(id))

	var w ledger.HealthWorker
	var createdAt, updatedAt string
	err := row.Scan(&w.UserID, &w.Specialization, &w.Location, &w.Availability,
		&w.IsOnline, &w.LicenseNumber, &w.YearsExperience, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "health_worker", ID: string(id)}
	}
	if err != nil {
		return nil, wrap("get worker", err)
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context, f ledger.WorkerFilter) ([]ledger.HealthWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT user_id, specialization, location, availability, is_online,
			license_number, years_experience, created_at, updated_at
		FROM health_workers WHERE 1=1`
	args := []any{}
	if f.Specialization != "" {
		query += ` AND specialization = ?`
		args = append(args, f.Specialization)
	}
	if f.Availability != "" {
		query += ` AND availability = ?`
		args = append(args, string(f.Availability))
	}
	if f.OnlineOnly {
		query += ` AND is_online = TRUE`
	}
	query += ` ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list workers", err)
	}
	defer rows.Close()

	var workers []ledger.HealthWorker
	for rows.Next() {
		var w ledger.HealthWorker
		var createdAt, updatedAt string
		if err := rows.Scan(&w.UserID, &w.Specialization, &w.Location,
			&w.Availability, &w.IsOnline, &w.LicenseNumber, &w.YearsExperience,
			&createdAt, &updatedAt); err != nil {
			return nil, wrap("list workers", err)
		}
		w.CreatedAt = parseTime(createdAt)
		w.UpdatedAt = parseTime(updatedAt)
		workers = append(workers, w)
	}
	return workers, wrap("list workers", rows.Err())
}
