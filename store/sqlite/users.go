/*
users.go - User and points persistence

PURPOSE:
  Implements ledger.UserStore and ledger.PointsStore. The points balance
  is a cached column on users backed by the append-only
  points_transactions trail; every balance change touches both in one
  transaction.

COMPARE-AND-SET:
  spendTx is the only path that lowers a balance. Its conditional UPDATE
  (WHERE points >= needed) is evaluated inside the database, so two
  concurrent deductions cannot both observe a stale sufficient balance.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = ledger.UserID(uuid.NewString())
	}
	now := s.now()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, phone_number, role, points, notifications,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(u.ID), u.Name, u.PhoneNumber, string(u.Role),
		u.Points, u.Unread, u.IsActive, formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		key := fmt.Sprintf("id=%s", u.ID)
		if u.PhoneNumber != "" {
			key = fmt.Sprintf("id=%s phone=%s", u.ID, u.PhoneNumber)
		}
		return &ledger.DuplicateFactError{Fact: "user", Key: key}
	}
	return wrap("create user", err)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number, role, points, notifications,
			is_active, created_at, updated_at
		FROM users WHERE id = ?`, string(id))

	var u ledger.User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Name, &u.PhoneNumber, &u.Role, &u.Points,
		&u.Unread, &u.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, role ledger.Role) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, phone_number, role, points, notifications,
			is_active, created_at, updated_at
		FROM users`
	args := []any{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var u ledger.User
		var createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.Name, &u.PhoneNumber, &u.Role, &u.Points,
			&u.Unread, &u.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, wrap("list users", err)
		}
		u.CreatedAt = parseTime(createdAt)
		u.UpdatedAt = parseTime(updatedAt)
		users = append(users, u)
	}
	return users, wrap("list users", rows.Err())
}

func (s *Store) DeleteUser(ctx context.Context, id ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ON DELETE CASCADE / SET NULL clauses carry the per-entity policy.
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, string(id))
	if err != nil {
		return wrap("delete user", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	return nil
}

// =============================================================================
// POINTS
// =============================================================================

func (s *Store) CreditPoints(ctx context.Context, tx ledger.PointsTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, "credit points", func(dbTx *sql.Tx) error {
		return s.creditTx(ctx, dbTx, tx)
	})
}

func (s *Store) SpendPoints(ctx context.Context, tx ledger.PointsTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ok bool
	err := s.inTx(ctx, "spend points", func(dbTx *sql.Tx) error {
		var err error
		ok, err = s.spendTx(ctx, dbTx, tx)
		return err
	})
	return ok, err
}

// creditTx applies a positive delta and appends the audit entry. Shared
// with CreateUnlock, which runs it inside the unlock transaction.
func (s *Store) creditTx(ctx context.Context, dbTx *sql.Tx, tx ledger.PointsTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	res, err := dbTx.ExecContext(ctx, `
		UPDATE users SET points = points + ?, updated_at = ?
		WHERE id = ?`,
		tx.Delta.IntPart(), s.stamp(), string(tx.UserID))
	if err != nil {
		return wrap("credit points", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "user", ID: string(tx.UserID)}
	}

	return s.appendAudit(ctx, dbTx, tx)
}

// spendTx applies a negative delta with a compare-and-set. Returns false
// (nothing written) when the balance doesn't cover it. Shared with
// CreateRedemption.
func (s *Store) spendTx(ctx context.Context, dbTx *sql.Tx, tx ledger.PointsTransaction) (bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	needed := tx.Delta.Neg().IntPart()

	res, err := dbTx.ExecContext(ctx, `
		UPDATE users SET points = points - ?, updated_at = ?
		WHERE id = ? AND points >= ?`,
		needed, s.stamp(), string(tx.UserID), needed)
	if err != nil {
		return false, wrap("spend points", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Insufficient balance or missing user; distinguish them.
		var exists int
		err := dbTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE id = ?`, string(tx.UserID)).Scan(&exists)
		if err != nil {
			return false, wrap("spend points", err)
		}
		if exists == 0 {
			return false, &ledger.NotFoundError{Kind: "user", ID: string(tx.UserID)}
		}
		return false, nil
	}

	return true, s.appendAudit(ctx, dbTx, tx)
}

func (s *Store) appendAudit(ctx context.Context, dbTx *sql.Tx, tx ledger.PointsTransaction) error {
	_, err := dbTx.ExecContext(ctx, `
		INSERT INTO points_transactions (id, user_id, delta, tx_type, reason,
			reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.UserID), tx.Delta.String(), string(tx.Type),
		tx.Reason, tx.ReferenceID, nullString(tx.IdempotencyKey), s.stamp())
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{
			Fact: "points_transaction",
			Key:  fmt.Sprintf("idempotency_key=%s", tx.IdempotencyKey),
		}
	}
	return wrap("append points audit", err)
}

func (s *Store) PointsHistory(ctx context.Context, id ledger.UserID) ([]ledger.PointsTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, delta, tx_type, reason, reference_id,
			idempotency_key, created_at
		FROM points_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, string(id))
	if err != nil {
		return nil, wrap("points history", err)
	}
	defer rows.Close()

	var txs []ledger.PointsTransaction
	for rows.Next() {
		var tx ledger.PointsTransaction
		var delta, createdAt string
		var key sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &delta, &tx.Type, &tx.Reason,
			&tx.ReferenceID, &key, &createdAt); err != nil {
			return nil, wrap("points history", err)
		}
		tx.Delta, err = decimal.NewFromString(delta)
		if err != nil {
			return nil, wrap("points history", err)
		}
		tx.IdempotencyKey = key.String
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, wrap("points history", rows.Err())
}
