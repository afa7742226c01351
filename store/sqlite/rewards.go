/*
rewards.go - Reward catalog, redemptions, achievements, unlocks

PURPOSE:
  Implements ledger.RewardStore. Two operations are invariant-bearing:
  - CreateRedemption runs the compare-and-set spend and the redemption
    insert in one transaction; an insufficient balance rolls everything
    back and returns false.
  - CreateUnlock leans on the (user, achievement) unique index: the
    insert and the point credit commit together, so a duplicate unlock
    credits nothing.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// REWARD CATALOG
// =============================================================================

func (s *Store) CreateRewardItem(ctx context.Context, item *ledger.RewardItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ExpiryDays == 0 {
		item.ExpiryDays = 30
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_items (id, name, description, points_required,
			category, redemption_code, expiry_days, is_available,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Description, item.PointsRequired,
		item.Category, item.RedemptionCode, item.ExpiryDays, item.IsAvailable,
		formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{
			Fact: "reward_item",
			Key:  "redemption_code=" + item.RedemptionCode,
		}
	}
	return wrap("create reward item", err)
}

func (s *Store) GetRewardItem(ctx context.Context, id string) (*ledger.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, points_required, category,
			redemption_code, expiry_days, is_available, created_at, updated_at
		FROM reward_items WHERE id = ?`, id)

	var item ledger.RewardItem
	var createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.Name, &item.Description,
		&item.PointsRequired, &item.Category, &item.RedemptionCode,
		&item.ExpiryDays, &item.IsAvailable, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Kind: "reward_item", ID: id}
	}
	if err != nil {
		return nil, wrap("get reward item", err)
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

func (s *Store) ListRewardItems(ctx context.Context, availableOnly bool) ([]ledger.RewardItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, name, description, points_required, category,
			redemption_code, expiry_days, is_available, created_at, updated_at
		FROM reward_items`
	if availableOnly {
		query += ` WHERE is_available = TRUE`
	}
	query += ` ORDER BY points_required, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("list reward items", err)
	}
	defer rows.Close()

	var items []ledger.RewardItem
	for rows.Next() {
		var item ledger.RewardItem
		var createdAt, updatedAt string
		if err := rows.Scan(&item.ID, &item.Name, &item.Description,
			&item.PointsRequired, &item.Category, &item.RedemptionCode,
			&item.ExpiryDays, &item.IsAvailable, &createdAt, &updatedAt); err != nil {
			return nil, wrap("list reward items", err)
		}
		item.CreatedAt = parseTime(createdAt)
		item.UpdatedAt = parseTime(updatedAt)
		items = append(items, item)
	}
	return items, wrap("list reward items", rows.Err())
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func (s *Store) CreateRedemption(ctx context.Context, r *ledger.Redemption, spend ledger.PointsTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = ledger.RedemptionActive
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if spend.ReferenceID == "" {
		spend.ReferenceID = r.ID
	}

	var ok bool
	err := s.inTx(ctx, "create redemption", func(tx *sql.Tx) error {
		var err error
		ok, err = s.spendTx(ctx, tx, spend)
		if err != nil || !ok {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO redemptions (id, user_id, reward_item_id, redeemed_at,
				expires_at, status, points_spent, used_at, notes,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, string(r.UserID), r.RewardItemID, formatTime(r.RedeemedAt),
			formatTime(r.ExpiresAt), string(r.Status), r.PointsSpent,
			nullTime(r.UsedAt), r.Notes, formatTime(now), formatTime(now))
		if isUniqueConstraintError(err) {
			return &ledger.DuplicateFactError{
				Fact: "redemption",
				Key: fmt.Sprintf("user=%s item=%s at=%s",
					r.UserID, r.RewardItemID, formatTime(r.RedeemedAt)),
			}
		}
		return wrap("create redemption", err)
	})
	return ok, err
}

func (s *Store) GetRedemption(ctx context.Context, id string) (*ledger.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, reward_item_id, redeemed_at, expires_at, status,
			points_spent, used_at, notes, created_at, updated_at
		FROM redemptions WHERE id = ?`, id)
	if err != nil {
		return nil, wrap("get redemption", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get redemption", err)
		}
		return nil, &ledger.NotFoundError{Kind: "redemption", ID: id}
	}
	return scanRedemption(rows)
}

func (s *Store) MarkRedemptionUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE redemptions SET status = ?, used_at = ?, updated_at = ?
		WHERE id = ?`,
		string(ledger.RedemptionUsed), formatTime(at), s.restamp(at), id)
	if err != nil {
		return wrap("mark redemption used", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "redemption", ID: id}
	}
	return nil
}

func (s *Store) ListRedemptions(ctx context.Context, user ledger.UserID) ([]ledger.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, reward_item_id, redeemed_at, expires_at, status,
			points_spent, used_at, notes, created_at, updated_at
		FROM redemptions`
	args := []any{}
	if user != "" {
		query += ` WHERE user_id = ?`
		args = append(args, string(user))
	}
	query += ` ORDER BY redeemed_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list redemptions", err)
	}
	defer rows.Close()

	var out []ledger.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, wrap("list redemptions", err)
		}
		out = append(out, *r)
	}
	return out, wrap("list redemptions", rows.Err())
}

func scanRedemption(rows *sql.Rows) (*ledger.Redemption, error) {
	var r ledger.Redemption
	var redeemedAt, expiresAt, createdAt, updatedAt string
	var usedAt sql.NullString
	if err := rows.Scan(&r.ID, &r.UserID, &r.RewardItemID, &redeemedAt,
		&expiresAt, &r.Status, &r.PointsSpent, &usedAt, &r.Notes,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.RedeemedAt = parseTime(redeemedAt)
	r.ExpiresAt = parseTime(expiresAt)
	r.UsedAt = scanNullTime(usedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// =============================================================================
// ACHIEVEMENTS & UNLOCKS
// =============================================================================

func (s *Store) CreateAchievement(ctx context.Context, a *ledger.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO achievements (id, name, description, points_rewarded,
			icon, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, a.PointsRewarded, a.Icon,
		formatTime(now), formatTime(now))
	if isUniqueConstraintError(err) {
		return &ledger.DuplicateFactError{Fact: "achievement", Key: "id=" + a.ID}
	}
	return wrap("create achievement", err)
}

func (s *Store) GetAchievement(ctx context.Context, id string) (*ledger.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, points_rewarded, icon,
			created_at, updated_at
		FROM achievements WHERE id = ?`, id)

	var a ledger.Achievement
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.PointsRewarded,
		&a.Icon, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Kind: "achievement", ID: id}
	}
	if err != nil {
		return nil, wrap("get achievement", err)
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) ListAchievements(ctx context.Context) ([]ledger.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, points_rewarded, icon,
			created_at, updated_at
		FROM achievements ORDER BY name`)
	if err != nil {
		return nil, wrap("list achievements", err)
	}
	defer rows.Close()

	var out []ledger.Achievement
	for rows.Next() {
		var a ledger.Achievement
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.PointsRewarded,
			&a.Icon, &createdAt, &updatedAt); err != nil {
			return nil, wrap("list achievements", err)
		}
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		out = append(out, a)
	}
	return out, wrap("list achievements", rows.Err())
}

func (s *Store) CreateUnlock(ctx context.Context, u *ledger.AchievementUnlock, credit ledger.PointsTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = s.now()
	}
	if credit.ReferenceID == "" {
		credit.ReferenceID = u.ID
	}

	return s.inTx(ctx, "create unlock", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO achievement_unlocks (id, user_id, achievement_id,
				unlocked_at)
			VALUES (?, ?, ?, ?)`,
			u.ID, string(u.UserID), u.AchievementID, formatTime(u.UnlockedAt))
		if isUniqueConstraintError(err) {
			// Duplicate unlock rolls back everything; no credit happens.
			return &ledger.DuplicateFactError{
				Fact: "achievement_unlock",
				Key:  fmt.Sprintf("user=%s achievement=%s", u.UserID, u.AchievementID),
			}
		}
		if err != nil {
			return wrap("create unlock", err)
		}

		if credit.Delta.IsZero() {
			return nil
		}
		return s.creditTx(ctx, tx, credit)
	})
}

func (s *Store) ListUnlocks(ctx context.Context, user ledger.UserID) ([]ledger.AchievementUnlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, achievement_id, unlocked_at
		FROM achievement_unlocks
		WHERE user_id = ?
		ORDER BY unlocked_at DESC, id`, string(user))
	if err != nil {
		return nil, wrap("list unlocks", err)
	}
	defer rows.Close()

	var out []ledger.AchievementUnlock
	for rows.Next() {
		var u ledger.AchievementUnlock
		var unlockedAt string
		if err := rows.Scan(&u.ID, &u.UserID, &u.AchievementID, &unlockedAt); err != nil {
			return nil, wrap("list unlocks", err)
		}
		u.UnlockedAt = parseTime(unlockedAt)
		out = append(out, u)
	}
	return out, wrap("list unlocks", rows.Err())
}
