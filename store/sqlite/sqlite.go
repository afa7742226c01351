/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, directory.Store, and chat.Store in one place.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INVARIANT ENFORCEMENT:
  The invariants the engine depends on live in the schema and in single
  SQL transactions, not in application memory:
  - users.points and users.notifications carry CHECK(>= 0)
  - balance deductions are a conditional UPDATE (compare-and-set); two
    concurrent deductions cannot both observe a stale sufficient balance
  - (youth, navigator, status), (user, reward, redeemed_at) and
    (user, achievement) unique indexes are mapped to DuplicateFactError
  - session insert + assignment counter update share one transaction, as
    do notification insert + unread increment and mark-read + decrement

TIMESTAMPS:
  The store stamps created_at/updated_at and keeps updated_at monotonic
  (never before created_at), so callers cannot regress a record's clock.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

CONCURRENCY:
  A sync.RWMutex serializes writers in-process. With PostgreSQL, database
  level concurrency control would take over.

USAGE:
  store, err := sqlite.New("./data/platform.db")   // ":memory:" for tests
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vsla/health-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// now is swappable for tests.
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, &ledger.StoreError{Op: "open", Err: err}
	}

	// One connection: SQLite allows a single writer anyway, and a pool
	// of connections against ":memory:" would each see a different db.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, &ledger.StoreError{Op: "migrate", Err: err}
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users (root aggregate; counters are mutated only via engine ops)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		notifications INTEGER NOT NULL DEFAULT 0 CHECK (notifications >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_phone
		ON users(phone_number) WHERE phone_number != '';

	-- Points transactions (append-only audit trail behind users.points)
	CREATE TABLE IF NOT EXISTS points_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		delta TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_points_tx_user
		ON points_transactions(user_id, created_at DESC);

	-- Screenings
	CREATE TABLE IF NOT EXISTS screenings (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		test_type TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		notes TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT 'clinic',
		date TEXT NOT NULL,
		conducted_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		requires_follow_up BOOLEAN NOT NULL DEFAULT FALSE,
		follow_up_instructions TEXT NOT NULL DEFAULT '',
		follow_up_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot paths: per-patient history, status boards, test-type breakdowns
	CREATE INDEX IF NOT EXISTS idx_screenings_patient_date
		ON screenings(patient_id, date DESC);
	CREATE INDEX IF NOT EXISTS idx_screenings_status_date
		ON screenings(status, date DESC);
	CREATE INDEX IF NOT EXISTS idx_screenings_test_type
		ON screenings(test_type, date DESC);

	-- Health worker directory
	CREATE TABLE IF NOT EXISTS health_workers (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		specialization TEXT NOT NULL DEFAULT 'general',
		location TEXT NOT NULL DEFAULT '',
		availability TEXT NOT NULL DEFAULT 'offline',
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		license_number TEXT NOT NULL DEFAULT '',
		years_experience INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Peer navigator assignments
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		youth_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		navigator_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'active',
		support_areas TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_session_date TEXT,
		next_session_date TEXT,
		completion_date TEXT,
		assigned_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- A youth/navigator pair can hold at most one engagement per status
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_unique_pair
		ON assignments(youth_id, navigator_id, status);
	CREATE INDEX IF NOT EXISTS idx_assignments_youth
		ON assignments(youth_id, status);
	CREATE INDEX IF NOT EXISTS idx_assignments_navigator
		ON assignments(navigator_id, status);

	-- Support sessions
	CREATE TABLE IF NOT EXISTS support_sessions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
		session_date TEXT NOT NULL,
		session_type TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		satisfaction INTEGER CHECK (satisfaction BETWEEN 1 AND 5),
		follow_up BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_assignment
		ON support_sessions(assignment_id, session_date DESC);

	-- Reward catalog
	CREATE TABLE IF NOT EXISTS reward_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points_required INTEGER NOT NULL CHECK (points_required >= 1),
		category TEXT NOT NULL DEFAULT 'health',
		redemption_code TEXT NOT NULL UNIQUE,
		expiry_days INTEGER NOT NULL DEFAULT 30 CHECK (expiry_days >= 1),
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Redemptions
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		reward_item_id TEXT NOT NULL REFERENCES reward_items(id),
		redeemed_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		points_spent INTEGER NOT NULL,
		used_at TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_redemptions_unique
		ON redemptions(user_id, reward_item_id, redeemed_at);
	CREATE INDEX IF NOT EXISTS idx_redemptions_user
		ON redemptions(user_id, redeemed_at DESC);

	-- Achievements
	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points_rewarded INTEGER NOT NULL DEFAULT 0 CHECK (points_rewarded >= 0),
		icon TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: the (user, achievement) constraint is what makes the
	-- point credit exactly-once under concurrent unlock attempts
	CREATE TABLE IF NOT EXISTS achievement_unlocks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		achievement_id TEXT NOT NULL REFERENCES achievements(id) ON DELETE CASCADE,
		unlocked_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unlocks_unique
		ON achievement_unlocks(user_id, achievement_id);

	-- Notifications
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		related_id TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'medium',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TEXT,
		scheduled_for TEXT,
		delivered_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_inbox
		ON notifications(user_id, is_read, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_delivery
		ON notifications(delivered_at, scheduled_for)
		WHERE delivered_at IS NULL;

	-- Notification templates
	CREATE TABLE IF NOT EXISTS notification_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		title_template TEXT NOT NULL,
		message_template TEXT NOT NULL,
		type TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		variables TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Access point directory
	CREATE TABLE IF NOT EXISTS access_points (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		services TEXT NOT NULL DEFAULT '[]',
		contact_person TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_access_points_type
		ON access_points(type, is_active);

	CREATE TABLE IF NOT EXISTS access_point_schedules (
		access_point_id TEXT NOT NULL REFERENCES access_points(id) ON DELETE CASCADE,
		day TEXT NOT NULL,
		open_time TEXT NOT NULL DEFAULT '',
		close_time TEXT NOT NULL DEFAULT '',
		is_closed BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (access_point_id, day)
	);

	-- Direct messages
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		body TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TEXT,
		reply_to_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(sender_id, receiver_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_inbox
		ON messages(receiver_id, is_read, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry second precision.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// stamp returns the current store time, formatted.
func (s *Store) stamp() string { return formatTime(s.now()) }

// restamp keeps updated_at monotonic: never before created_at.
func (s *Store) restamp(createdAt time.Time) string {
	now := s.now()
	if now.Before(createdAt) {
		now = createdAt
	}
	return formatTime(now)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}

// wrap maps transient database faults to the retryable store error and
// leaves everything else alone.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked") {
		return &ledger.StoreError{Op: op, Err: err}
	}
	return err
}

// inTx runs fn inside a database transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return wrap(op, sqlTx.Commit())
}
