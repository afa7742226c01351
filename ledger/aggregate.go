/*
aggregate.go - Per-user aggregate maintenance

PURPOSE:
  The Maintainer owns every mutation of the per-user counters (points
  balance, unread notification count) and the cross-entity counters on
  assignments. It is the only path by which those fields change; the
  non-negative invariants live here and in the store's compare-and-set
  operations, nowhere else.

OPERATIONS:
  AddPoints          n >= 0 or ValidationError; increments balance
  DeductPoints       boolean outcome, balance never goes negative
  CreditAchievement  exactly-once per (user, achievement), duplicates no-op
  Redeem             deduct-then-record in one transaction
  RecordSession      session insert + assignment counters, atomic
  MarkNotificationRead / ClearNotifications / notification counters

Every operation is atomic with respect to the user row it targets; see
store.go for the contract the store upholds.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Maintainer keeps the per-user aggregates consistent with the facts.
type Maintainer struct {
	Store Store

	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewMaintainer(store Store) *Maintainer {
	return &Maintainer{Store: store, Now: time.Now}
}

func (m *Maintainer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// =============================================================================
// POINTS
// =============================================================================

// AddPoints credits n points to the user. n must be non-negative.
func (m *Maintainer) AddPoints(ctx context.Context, user UserID, n int64, reason string) error {
	if n < 0 {
		return Validationf("amount", "must be non-negative, got %d", n)
	}
	return m.Store.CreditPoints(ctx, PointsTransaction{
		ID:        uuid.NewString(),
		UserID:    user,
		Delta:     PointsFromInt(n),
		Type:      TxCredit,
		Reason:    reason,
		CreatedAt: m.now(),
	})
}

// DeductPoints debits n points if the balance covers it. An insufficient
// balance is a normal outcome (false, nil), not an error; the balance is
// left untouched in that case.
func (m *Maintainer) DeductPoints(ctx context.Context, user UserID, n int64, reason string) (bool, error) {
	if n < 0 {
		return false, Validationf("amount", "must be non-negative, got %d", n)
	}
	return m.Store.SpendPoints(ctx, PointsTransaction{
		ID:        uuid.NewString(),
		UserID:    user,
		Delta:     PointsFromInt(n).Neg(),
		Type:      TxDebit,
		Reason:    reason,
		CreatedAt: m.now(),
	})
}

// CreditAchievement unlocks an achievement for the user and credits its
// points exactly once. A duplicate unlock is a benign no-op: the store's
// uniqueness constraint rejects the second insert, and we swallow it here
// so concurrent attempts converge on the same outcome.
// Returns the unlock record, or nil if the pair was already unlocked.
func (m *Maintainer) CreditAchievement(ctx context.Context, user UserID, achievementID string) (*AchievementUnlock, error) {
	achievement, err := m.Store.GetAchievement(ctx, achievementID)
	if err != nil {
		return nil, err
	}

	unlock := &AchievementUnlock{
		ID:            uuid.NewString(),
		UserID:        user,
		AchievementID: achievementID,
		UnlockedAt:    m.now(),
	}
	credit := PointsTransaction{
		ID:             uuid.NewString(),
		UserID:         user,
		Delta:          PointsFromInt(achievement.PointsRewarded),
		Type:           TxAchievement,
		Reason:         fmt.Sprintf("achievement unlocked: %s", achievement.Name),
		ReferenceID:    unlock.ID,
		IdempotencyKey: fmt.Sprintf("unlock-%s-%s", user, achievementID),
		CreatedAt:      m.now(),
	}

	if err := m.Store.CreateUnlock(ctx, unlock, credit); err != nil {
		if errors.Is(err, ErrDuplicateFact) {
			return nil, nil // already unlocked, nothing credited
		}
		return nil, err
	}
	return unlock, nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// Redeem spends the item's point cost and records the redemption in one
// transaction. Returns (nil, false, nil) when the balance doesn't cover the
// cost. Expiry is computed from the item's window when the caller doesn't
// supply one.
func (m *Maintainer) Redeem(ctx context.Context, user UserID, itemID string, expiresAt *time.Time) (*Redemption, bool, error) {
	item, err := m.Store.GetRewardItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	if !item.IsAvailable {
		return nil, false, Validationf("reward_item", "%q is not available", item.Name)
	}

	now := m.now()
	redemption := &Redemption{
		ID:           uuid.NewString(),
		UserID:       user,
		RewardItemID: itemID,
		RedeemedAt:   now,
		Status:       RedemptionPending,
		PointsSpent:  item.PointsRequired,
	}
	if expiresAt != nil {
		redemption.ExpiresAt = *expiresAt
	} else {
		redemption.ExpiresAt = ExpiryFor(now, *item)
	}

	spend := PointsTransaction{
		ID:          uuid.NewString(),
		UserID:      user,
		Delta:       PointsFromInt(item.PointsRequired).Neg(),
		Type:        TxRedemption,
		Reason:      fmt.Sprintf("redeemed: %s", item.Name),
		ReferenceID: redemption.ID,
		CreatedAt:   now,
	}

	ok, err := m.Store.CreateRedemption(ctx, redemption, spend)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil // insufficient balance, nothing written
	}
	return redemption, true, nil
}

// MarkRedemptionUsed stamps the redemption used. Expired redemptions
// cannot be used; the check goes through the pure deriver, not the stored
// status column.
func (m *Maintainer) MarkRedemptionUsed(ctx context.Context, id string) error {
	redemption, err := m.Store.GetRedemption(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	if IsExpired(*redemption, now) {
		return Validationf("redemption", "expired at %s", redemption.ExpiresAt.Format(time.RFC3339))
	}
	if redemption.Status == RedemptionUsed {
		return nil // idempotent
	}
	return m.Store.MarkRedemptionUsed(ctx, id, now)
}

// =============================================================================
// SUPPORT SESSIONS
// =============================================================================

// RecordSession creates a support session. The parent assignment's
// total_sessions and last_session_date move in the same transaction as the
// insert; they are never updated on their own.
func (m *Maintainer) RecordSession(ctx context.Context, s *SupportSession) error {
	if s.AssignmentID == "" {
		return Validationf("assignment_id", "required")
	}
	if s.Satisfaction != nil && (*s.Satisfaction < 1 || *s.Satisfaction > 5) {
		return Validationf("satisfaction", "must be 1-5, got %d", *s.Satisfaction)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SessionDate.IsZero() {
		s.SessionDate = m.now()
	}
	return m.Store.CreateSession(ctx, s)
}

// =============================================================================
// NOTIFICATION COUNTERS
// =============================================================================

// MarkNotificationRead transitions a notification unread -> read exactly
// once, decrementing the owner's unread count by exactly 1 (floored at 0).
// Calling it again on an already-read notification is a no-op.
func (m *Maintainer) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := m.Store.MarkNotificationRead(ctx, id, m.now())
	return err
}

// ClearNotifications resets the user's unread counter to zero.
func (m *Maintainer) ClearNotifications(ctx context.Context, user UserID) error {
	return m.Store.ClearUnread(ctx, user)
}
