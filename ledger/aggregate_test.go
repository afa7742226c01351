package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsla/health-engine/ledger"
	"github.com/vsla/health-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Maintainer, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.NewMaintainer(store), store
}

func mustUser(t *testing.T, store *sqlite.Store, id string, role ledger.Role) ledger.UserID {
	t.Helper()
	u := &ledger.User{ID: ledger.UserID(id), Name: "Test " + id, Role: role, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u.ID
}

func balanceOf(t *testing.T, store *sqlite.Store, id ledger.UserID) int64 {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Points
}

// =============================================================================
// POINTS BALANCE TESTS
// =============================================================================

func TestAddPoints_CreditsBalanceAndTrail(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	require.NoError(t, engine.AddPoints(ctx, user, 50, "screening completed"))
	require.NoError(t, engine.AddPoints(ctx, user, 25, "session attended"))

	assert.Equal(t, int64(75), balanceOf(t, store, user))

	// The cached balance is explainable by replaying the trail.
	txs, err := store.PointsHistory(ctx, user)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.Equal(t, "75", ledger.ReplayBalance(txs).String())
}

func TestAddPoints_NegativeRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	err := engine.AddPoints(context.Background(), user, -5, "oops")
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, int64(0), balanceOf(t, store, user))
}

func TestDeductPoints_InsufficientBalance_NoChange(t *testing.T) {
	// GIVEN: A user with 30 points
	// WHEN: Deducting 50
	// THEN: (false, nil), balance untouched, no audit entry

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 30, "seed"))

	ok, err := engine.DeductPoints(ctx, user, 50, "too much")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(30), balanceOf(t, store, user))

	txs, err := store.PointsHistory(ctx, user)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "failed deduction must not append to the trail")
}

func TestDeductPoints_ExactBalance_Succeeds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 30, "seed"))

	ok, err := engine.DeductPoints(ctx, user, 30, "spend all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), balanceOf(t, store, user))

	// The trail distinguishes ordinary debits from admin corrections.
	txs, err := store.PointsHistory(ctx, user)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxDebit, txs[0].Type)
	assert.Equal(t, "-30", txs[0].Delta.String())
}

func TestDeductPoints_Concurrent_NeverNegative(t *testing.T) {
	// GIVEN: A user with 100 points
	// WHEN: 20 goroutines each try to deduct 30
	// THEN: Exactly 3 succeed and the balance lands on 10

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 100, "seed"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := engine.DeductPoints(ctx, user, 30, "race")
			if err == nil && ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(10), balanceOf(t, store, user))
}

// =============================================================================
// ACHIEVEMENT UNLOCK TESTS
// =============================================================================

func TestCreditAchievement_ExactlyOnce(t *testing.T) {
	// GIVEN: An achievement worth 40 points
	// WHEN: The same user unlocks it twice
	// THEN: One unlock record, one 40-point credit, second call is a no-op

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	achievement := &ledger.Achievement{Name: "First Screening", PointsRewarded: 40}
	require.NoError(t, store.CreateAchievement(ctx, achievement))

	unlock, err := engine.CreditAchievement(ctx, user, achievement.ID)
	require.NoError(t, err)
	require.NotNil(t, unlock)

	again, err := engine.CreditAchievement(ctx, user, achievement.ID)
	require.NoError(t, err, "duplicate unlock is benign")
	assert.Nil(t, again)

	assert.Equal(t, int64(40), balanceOf(t, store, user))

	unlocks, err := store.ListUnlocks(ctx, user)
	require.NoError(t, err)
	assert.Len(t, unlocks, 1)
}

func TestCreditAchievement_Concurrent_SingleCredit(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	achievement := &ledger.Achievement{Name: "Streak", PointsRewarded: 15}
	require.NoError(t, store.CreateAchievement(ctx, achievement))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CreditAchievement(ctx, user, achievement.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(15), balanceOf(t, store, user), "credited exactly once")
}

func TestCreditAchievement_UnknownAchievement(t *testing.T) {
	engine, store := newTestEngine(t)
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	_, err := engine.CreditAchievement(context.Background(), user, "nope")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// REDEMPTION TESTS
// =============================================================================

func TestRedeem_SpendsAndRecordsAtomically(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 100, "seed"))

	item := &ledger.RewardItem{
		Name: "Airtime Voucher", PointsRequired: 60,
		RedemptionCode: "AIR-60", ExpiryDays: 14, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	redemption, ok, err := engine.Redeem(ctx, user, item.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(40), balanceOf(t, store, user))
	assert.Equal(t, int64(60), redemption.PointsSpent)
	assert.Equal(t, redemption.RedeemedAt.AddDate(0, 0, 14), redemption.ExpiresAt)
}

func TestRedeem_Insufficient_NothingWritten(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 10, "seed"))

	item := &ledger.RewardItem{
		Name: "Big Prize", PointsRequired: 500,
		RedemptionCode: "BIG-500", ExpiryDays: 30, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	redemption, ok, err := engine.Redeem(ctx, user, item.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, redemption)
	assert.Equal(t, int64(10), balanceOf(t, store, user))

	redemptions, err := store.ListRedemptions(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, redemptions)
}

func TestRedeem_UnavailableItem(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 100, "seed"))

	item := &ledger.RewardItem{
		Name: "Retired", PointsRequired: 10,
		RedemptionCode: "OLD-10", ExpiryDays: 7, IsAvailable: false,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	_, _, err := engine.Redeem(ctx, user, item.ID, nil)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, int64(100), balanceOf(t, store, user))
}

func TestMarkRedemptionUsed_ExpiredRefused(t *testing.T) {
	// GIVEN: A redemption whose expiry already passed
	// WHEN: Marking it used
	// THEN: ValidationError; the stored status column is ignored

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 100, "seed"))

	item := &ledger.RewardItem{
		Name: "Short-lived", PointsRequired: 10,
		RedemptionCode: "SHORT-10", ExpiryDays: 1, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	past := time.Now().Add(-time.Hour)
	redemption, ok, err := engine.Redeem(ctx, user, item.ID, &past)
	require.NoError(t, err)
	require.True(t, ok)

	err = engine.MarkRedemptionUsed(ctx, redemption.ID)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestMarkRedemptionUsed_Idempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)
	require.NoError(t, engine.AddPoints(ctx, user, 100, "seed"))

	item := &ledger.RewardItem{
		Name: "Voucher", PointsRequired: 10,
		RedemptionCode: "V-10", ExpiryDays: 30, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	redemption, ok, err := engine.Redeem(ctx, user, item.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, engine.MarkRedemptionUsed(ctx, redemption.ID))
	require.NoError(t, engine.MarkRedemptionUsed(ctx, redemption.ID), "second use is a no-op")

	got, err := store.GetRedemption(ctx, redemption.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RedemptionUsed, got.Status)
}

// =============================================================================
// SESSION COUNTER TESTS
// =============================================================================

func TestRecordSession_CountersMoveWithInsert(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	youth := mustUser(t, store, "y-1", ledger.RoleYouth)
	navigator := mustUser(t, store, "n-1", ledger.RolePeerNavigator)

	a := &ledger.Assignment{YouthID: youth, NavigatorID: navigator}
	require.NoError(t, store.CreateAssignment(ctx, a))

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.RecordSession(ctx, &ledger.SupportSession{
			AssignmentID: a.ID,
			SessionType:  ledger.SessionFollowUp,
			Duration:     45 * time.Minute,
		}))
	}

	got, err := store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalSessions)
	require.NotNil(t, got.LastSessionDate)

	sessions, err := store.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 3, "counter always matches the session rows")
}

func TestRecordSession_SatisfactionBounds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	youth := mustUser(t, store, "y-1", ledger.RoleYouth)
	navigator := mustUser(t, store, "n-1", ledger.RolePeerNavigator)

	a := &ledger.Assignment{YouthID: youth, NavigatorID: navigator}
	require.NoError(t, store.CreateAssignment(ctx, a))

	six := 6
	err := engine.RecordSession(ctx, &ledger.SupportSession{
		AssignmentID: a.ID,
		SessionType:  ledger.SessionFollowUp,
		Satisfaction: &six,
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	got, err := store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalSessions, "rejected session must not bump the counter")
}

func TestRecordSession_MissingAssignment(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.RecordSession(context.Background(), &ledger.SupportSession{
		AssignmentID: "ghost",
		SessionType:  ledger.SessionFollowUp,
	})
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// NOTIFICATION COUNTER TESTS
// =============================================================================

func TestMarkNotificationRead_DecrementsOnce(t *testing.T) {
	// GIVEN: A user with one unread notification
	// WHEN: Marking it read twice
	// THEN: The unread counter drops by exactly 1 and stays there

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	n := &ledger.Notification{
		UserID: user, Title: "Hi", Message: "Welcome", Type: ledger.NotifySystem,
	}
	require.NoError(t, store.CreateNotification(ctx, n))

	count, err := store.UnreadCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, engine.MarkNotificationRead(ctx, n.ID))
	require.NoError(t, engine.MarkNotificationRead(ctx, n.ID), "second read is a no-op")

	count, err = store.UnreadCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "counter never goes negative")

	got, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.NotNil(t, got.ReadAt)
}

func TestClearNotifications_ZeroesCounter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := mustUser(t, store, "u-1", ledger.RoleYouth)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreateNotification(ctx, &ledger.Notification{
			UserID: user, Title: "T", Message: "M", Type: ledger.NotifyReminder,
		}))
	}

	require.NoError(t, engine.ClearNotifications(ctx, user))

	count, err := store.UnreadCount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	unread, err := store.ListNotifications(ctx, user, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
