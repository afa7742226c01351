package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsla/health-engine/chat"
	"github.com/vsla/health-engine/directory"
	"github.com/vsla/health-engine/ledger"
	"github.com/vsla/health-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, id string, role ledger.Role) ledger.UserID {
	t.Helper()
	u := &ledger.User{ID: ledger.UserID(id), Name: "User " + id, Role: role, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u.ID
}

// Interface conformance.
var (
	_ ledger.Store    = (*sqlite.Store)(nil)
	_ directory.Store = (*sqlite.Store)(nil)
	_ chat.Store      = (*sqlite.Store)(nil)
)

// =============================================================================
// UNIQUENESS CONSTRAINT TESTS
// =============================================================================

func TestCreateUser_DuplicatePhone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &ledger.User{
		ID: "u-1", Name: "A", PhoneNumber: "0700000001", Role: ledger.RoleYouth,
	}))
	err := store.CreateUser(ctx, &ledger.User{
		ID: "u-2", Name: "B", PhoneNumber: "0700000001", Role: ledger.RoleYouth,
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateFact)

	// Empty phone numbers never collide.
	require.NoError(t, store.CreateUser(ctx, &ledger.User{
		ID: "u-3", Name: "C", Role: ledger.RoleYouth,
	}))
	require.NoError(t, store.CreateUser(ctx, &ledger.User{
		ID: "u-4", Name: "D", Role: ledger.RoleYouth,
	}))
}

func TestCreateAssignment_DuplicatePairSameStatus(t *testing.T) {
	// GIVEN: An active youth/navigator pair
	// WHEN: Creating the same active pair again
	// THEN: DuplicateFactError naming the pair

	store := newTestStore(t)
	ctx := context.Background()
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	nav := seedUser(t, store, "n-1", ledger.RolePeerNavigator)

	require.NoError(t, store.CreateAssignment(ctx, &ledger.Assignment{
		YouthID: youth, NavigatorID: nav, Status: ledger.AssignmentActive,
	}))
	err := store.CreateAssignment(ctx, &ledger.Assignment{
		YouthID: youth, NavigatorID: nav, Status: ledger.AssignmentActive,
	})

	var dup *ledger.DuplicateFactError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "assignment", dup.Fact)

	// A completed engagement doesn't block a new active one.
	require.NoError(t, store.CreateAssignment(ctx, &ledger.Assignment{
		YouthID: youth, NavigatorID: nav, Status: ledger.AssignmentCompleted,
	}))
}

func TestCreateRedemption_DuplicateTriple(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	require.NoError(t, store.CreditPoints(ctx, ledger.PointsTransaction{
		UserID: user, Delta: ledger.PointsFromInt(100), Type: ledger.TxCredit,
	}))
	item := &ledger.RewardItem{
		Name: "Voucher", PointsRequired: 10, RedemptionCode: "V-1",
		ExpiryDays: 30, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	redeemedAt := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	spend := func() ledger.PointsTransaction {
		return ledger.PointsTransaction{
			UserID: user, Delta: ledger.PointsFromInt(10).Neg(), Type: ledger.TxRedemption,
		}
	}

	r1 := &ledger.Redemption{
		UserID: user, RewardItemID: item.ID, RedeemedAt: redeemedAt,
		ExpiresAt: redeemedAt.AddDate(0, 0, 30), PointsSpent: 10,
	}
	ok, err := store.CreateRedemption(ctx, r1, spend())
	require.NoError(t, err)
	require.True(t, ok)

	r2 := &ledger.Redemption{
		UserID: user, RewardItemID: item.ID, RedeemedAt: redeemedAt,
		ExpiresAt: redeemedAt.AddDate(0, 0, 30), PointsSpent: 10,
	}
	_, err = store.CreateRedemption(ctx, r2, spend())
	assert.ErrorIs(t, err, ledger.ErrDuplicateFact)

	// The failed attempt must not have spent points: 100 - 10 = 90.
	u, err := store.GetUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(90), u.Points)
}

func TestCreateUnlock_DuplicateCreditsNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	achievement := &ledger.Achievement{Name: "First", PointsRewarded: 25}
	require.NoError(t, store.CreateAchievement(ctx, achievement))

	credit := func(key string) ledger.PointsTransaction {
		return ledger.PointsTransaction{
			UserID: user, Delta: ledger.PointsFromInt(25),
			Type: ledger.TxAchievement, IdempotencyKey: key,
		}
	}

	require.NoError(t, store.CreateUnlock(ctx, &ledger.AchievementUnlock{
		UserID: user, AchievementID: achievement.ID,
	}, credit("k-1")))

	err := store.CreateUnlock(ctx, &ledger.AchievementUnlock{
		UserID: user, AchievementID: achievement.ID,
	}, credit("k-2"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateFact)

	u, err := store.GetUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(25), u.Points, "rolled-back unlock credits nothing")
}

// =============================================================================
// TIMESTAMP TESTS
// =============================================================================

func TestTimestamps_Monotonic(t *testing.T) {
	// GIVEN: A store whose clock runs backwards between writes
	// WHEN: A record is updated
	// THEN: updated_at never lands before created_at

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.SetClock(func() time.Time { return now })

	user := seedUser(t, store, "u-1", ledger.RoleYouth)
	rec := &ledger.ScreeningRecord{
		PatientID: user, TestType: ledger.TestBMI, Status: ledger.ScreeningPending,
	}
	require.NoError(t, store.CreateScreening(ctx, rec))
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	now = base.Add(-time.Hour) // clock skew
	rec.Result = "22"
	require.NoError(t, store.UpdateScreening(ctx, rec))

	got, err := store.GetScreening(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt),
		"updated_at must never precede created_at")
}

// =============================================================================
// CASCADE TESTS
// =============================================================================

func TestDeleteUser_CascadesPerPolicy(t *testing.T) {
	// GIVEN: A conductor-recorded screening and the patient's own records
	// WHEN: Deleting each user
	// THEN: Patient deletion removes the screening; conductor deletion
	//       keeps it with the conductor nulled

	store := newTestStore(t)
	ctx := context.Background()
	patient := seedUser(t, store, "p-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)

	rec := &ledger.ScreeningRecord{
		PatientID: patient, TestType: ledger.TestBloodPressure,
		ConductedBy: staff, Status: ledger.ScreeningPending,
	}
	require.NoError(t, store.CreateScreening(ctx, rec))

	require.NoError(t, store.DeleteUser(ctx, staff))
	got, err := store.GetScreening(ctx, rec.ID)
	require.NoError(t, err, "screening survives its conductor")
	assert.Empty(t, got.ConductedBy)

	require.NoError(t, store.DeleteUser(ctx, patient))
	_, err = store.GetScreening(ctx, rec.ID)
	assert.True(t, ledger.IsNotFound(err), "screening goes with its patient")
}

// =============================================================================
// SESSION COUNTER TESTS
// =============================================================================

func TestCreateSession_BackdatedSessionKeepsLatestDate(t *testing.T) {
	// GIVEN: An assignment with a session on the 20th
	// WHEN: A session dated the 10th is logged afterwards
	// THEN: last_session_date stays on the 20th and the counter still moves

	store := newTestStore(t)
	ctx := context.Background()
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	nav := seedUser(t, store, "n-1", ledger.RolePeerNavigator)

	a := &ledger.Assignment{YouthID: youth, NavigatorID: nav, Status: ledger.AssignmentActive}
	require.NoError(t, store.CreateAssignment(ctx, a))

	recent := time.Date(2026, time.August, 20, 10, 0, 0, 0, time.UTC)
	backdated := time.Date(2026, time.August, 10, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateSession(ctx, &ledger.SupportSession{
		AssignmentID: a.ID, SessionType: ledger.SessionFollowUp, SessionDate: recent,
	}))
	require.NoError(t, store.CreateSession(ctx, &ledger.SupportSession{
		AssignmentID: a.ID, SessionType: ledger.SessionFollowUp, SessionDate: backdated,
	}))

	got, err := store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalSessions)
	require.NotNil(t, got.LastSessionDate)
	assert.True(t, got.LastSessionDate.Equal(recent),
		"last_session_date must stay on the max session date, got %v", got.LastSessionDate)
}

// =============================================================================
// WORKER DIRECTORY TESTS
// =============================================================================

func TestSaveWorker_OnlineOnlyWhenAvailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	worker := seedUser(t, store, "w-1", ledger.RolePeerNavigator)

	cases := []struct {
		availability ledger.Availability
		online       bool
	}{
		{ledger.AvailabilityAvailable, true},
		{ledger.AvailabilityBusy, false},
		{ledger.AvailabilityOffline, false},
	}
	for _, c := range cases {
		require.NoError(t, store.SaveWorker(ctx, &ledger.HealthWorker{
			UserID: worker, Specialization: "HIV counselling", Availability: c.availability,
		}))
		got, err := store.GetWorker(ctx, worker)
		require.NoError(t, err)
		assert.Equal(t, c.online, got.IsOnline, "availability %q", c.availability)
	}
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestPatientHistory_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	dates := []time.Time{
		time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		require.NoError(t, store.CreateScreening(ctx, &ledger.ScreeningRecord{
			PatientID: user, TestType: ledger.TestBMI, Date: d,
			Status: ledger.ScreeningPending,
		}))
	}

	history, err := store.PatientHistory(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, time.Month(3), history[0].Date.Month())
	assert.Equal(t, time.Month(2), history[1].Date.Month())
	assert.Equal(t, time.Month(1), history[2].Date.Month())
}

func TestScreeningStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	seed := []struct {
		testType string
		status   ledger.ScreeningStatus
		followUp bool
	}{
		{ledger.TestBMI, ledger.ScreeningNormal, false},
		{ledger.TestBMI, ledger.ScreeningAbnormal, true},
		{ledger.TestBloodSugar, ledger.ScreeningPending, false},
		{ledger.TestBloodSugar, ledger.ScreeningNormal, false},
	}
	for _, s := range seed {
		require.NoError(t, store.CreateScreening(ctx, &ledger.ScreeningRecord{
			PatientID: user, TestType: s.testType, Status: s.status,
			RequiresFollowUp: s.followUp,
		}))
	}

	stats, err := store.ScreeningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Normal)
	assert.Equal(t, int64(1), stats.Abnormal)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.FollowUpNeeded)
	assert.Equal(t, int64(2), stats.ByTestType[ledger.TestBMI])
	assert.Equal(t, int64(2), stats.ByTestType[ledger.TestBloodSugar])
}

func TestPendingDelivery_FiltersScheduled(t *testing.T) {
	// GIVEN: One unscheduled, one due, one future notification
	// WHEN: Querying the delivery queue
	// THEN: Only the first two come back; MarkDelivered removes them

	store := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	n1 := &ledger.Notification{UserID: user, Title: "a", Message: "a", Type: ledger.NotifySystem}
	n2 := &ledger.Notification{UserID: user, Title: "b", Message: "b", Type: ledger.NotifySystem, ScheduledFor: &past}
	n3 := &ledger.Notification{UserID: user, Title: "c", Message: "c", Type: ledger.NotifySystem, ScheduledFor: &future}
	for _, n := range []*ledger.Notification{n1, n2, n3} {
		require.NoError(t, store.CreateNotification(ctx, n))
	}

	pending, err := store.PendingDelivery(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	for _, n := range pending {
		require.NoError(t, store.MarkDelivered(ctx, n.ID, now))
	}
	pending, err = store.PendingDelivery(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// CHAT & DIRECTORY TESTS
// =============================================================================

func TestConversation_BothDirectionsOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, store, "a", ledger.RoleYouth)
	b := seedUser(t, store, "b", ledger.RolePeerNavigator)

	require.NoError(t, store.CreateMessage(ctx, &chat.Message{
		SenderID: a, ReceiverID: b, Body: "hello", Type: chat.MessageText,
	}))
	require.NoError(t, store.CreateMessage(ctx, &chat.Message{
		SenderID: b, ReceiverID: a, Body: "hi there", Type: chat.MessageText,
	}))

	thread, err := store.Conversation(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "hello", thread[0].Body)
	assert.Equal(t, "hi there", thread[1].Body)
}

func TestMarkMessageRead_Once(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, store, "a", ledger.RoleYouth)
	b := seedUser(t, store, "b", ledger.RoleStaff)

	m := &chat.Message{SenderID: a, ReceiverID: b, Body: "ping", Type: chat.MessageText}
	require.NoError(t, store.CreateMessage(ctx, m))

	flipped, err := store.MarkMessageRead(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = store.MarkMessageRead(ctx, m.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, flipped, "second read changes nothing")
}

func TestSchedules_UpsertAndOpenCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	point := &directory.AccessPoint{
		Name: "Kasarani Market Stand", Type: directory.TypeMarket, IsActive: true,
	}
	require.NoError(t, store.CreateAccessPoint(ctx, point))

	require.NoError(t, store.SaveSchedule(ctx, &directory.DaySchedule{
		AccessPointID: point.ID, Day: "Monday", OpenTime: "08:00", CloseTime: "17:00",
	}))
	// Upsert replaces the window.
	require.NoError(t, store.SaveSchedule(ctx, &directory.DaySchedule{
		AccessPointID: point.ID, Day: "monday", OpenTime: "09:00", CloseTime: "16:00",
	}))

	sched, err := store.GetSchedule(ctx, point.ID, "MONDAY")
	require.NoError(t, err)
	require.NotNil(t, sched)
	assert.Equal(t, "09:00", sched.OpenTime)

	// No row for sunday: closed, not an error.
	open, err := directory.IsOpenAt(ctx, store, point.ID, "sunday",
		time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, open)
}
