/*
store.go - Persistence contract for facts and counters

PURPOSE:
  Defines the interface between the engine and the database. Implementations
  must provide transactions, unique constraints, and indexed range queries;
  the sqlite store under store/sqlite is the production implementation.

ATOMICITY CONTRACT:
  Every invariant-bearing mutation is a single store call that the
  implementation executes in one database transaction:
  - SpendPoints uses a compare-and-set so two concurrent deductions cannot
    both observe a stale sufficient balance
  - CreateUnlock relies on the (user, achievement) unique constraint to
    make the point credit exactly-once
  - CreateSession applies the assignment counter increment with the session
    insert, never separately
  - CreateNotification bumps the owner's unread counter with the insert
  - MarkNotificationRead flips the flag and decrements the counter together
  There is no read-modify-write of counters in application memory, ever.

TIMESTAMPS:
  The store stamps created_at/updated_at itself and keeps them monotonic
  (updated_at >= created_at); callers never supply them on writes.

ERRORS:
  Uniqueness violations surface as *DuplicateFactError naming the
  conflicting key. Timeouts and busy databases surface as *StoreError
  (retryable). Missing rows surface as *NotFoundError.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// USERS & POINTS
// =============================================================================

type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context, role Role) ([]User, error)

	// DeleteUser cascades per entity policy: notifications, sessions,
	// redemptions, unlocks, messages, and screenings-as-patient go with
	// the user; screenings they conducted keep the record, conductor nulled.
	DeleteUser(ctx context.Context, id UserID) error
}

type PointsStore interface {
	// CreditPoints applies a positive delta to the cached balance and
	// appends the audit entry in one transaction.
	CreditPoints(ctx context.Context, tx PointsTransaction) error

	// SpendPoints applies a negative delta only if the balance covers it.
	// Returns false (balance untouched, no audit entry) when it doesn't.
	SpendPoints(ctx context.Context, tx PointsTransaction) (bool, error)

	// PointsHistory returns the audit trail, newest first.
	PointsHistory(ctx context.Context, id UserID) ([]PointsTransaction, error)
}

// =============================================================================
// SCREENINGS
// =============================================================================

// ScreeningFilter narrows screening listings. Zero values mean "any".
type ScreeningFilter struct {
	PatientID    UserID
	TestType     string
	Status       ScreeningStatus
	FollowUpOnly bool
	DateFrom     *time.Time
	DateTo       *time.Time
}

// ScreeningStats is the platform summary served to staff.
type ScreeningStats struct {
	Total          int64
	Normal         int64
	Abnormal       int64
	Pending        int64
	FollowUpNeeded int64
	ByTestType     map[string]int64
}

type ScreeningStore interface {
	CreateScreening(ctx context.Context, s *ScreeningRecord) error
	GetScreening(ctx context.Context, id string) (*ScreeningRecord, error)
	UpdateScreening(ctx context.Context, s *ScreeningRecord) error
	DeleteScreening(ctx context.Context, id string) error

	ListScreenings(ctx context.Context, f ScreeningFilter) ([]ScreeningRecord, error)

	// PatientHistory is ordered newest-first.
	PatientHistory(ctx context.Context, patient UserID) ([]ScreeningRecord, error)

	// AbnormalScreenings lists records that are abnormal OR flagged for
	// follow-up. Empty patient means platform-wide.
	AbnormalScreenings(ctx context.Context, patient UserID) ([]ScreeningRecord, error)

	ScreeningStats(ctx context.Context) (*ScreeningStats, error)
}

// =============================================================================
// HEALTH WORKER DIRECTORY
// =============================================================================

type WorkerFilter struct {
	Specialization string
	Availability   Availability
	OnlineOnly     bool
}

type WorkerStore interface {
	SaveWorker(ctx context.Context, w *HealthWorker) error
	GetWorker(ctx context.Context, id UserID) (*HealthWorker, error)
	ListWorkers(ctx context.Context, f WorkerFilter) ([]HealthWorker, error)
}

// =============================================================================
// PEER NAVIGATION
// =============================================================================

type NavigationStore interface {
	CreateAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	UpdateAssignment(ctx context.Context, a *Assignment) error
	ListAssignments(ctx context.Context, youth, navigator UserID) ([]Assignment, error)

	// CreateSession inserts the session and updates the parent assignment's
	// total_sessions/last_session_date in the same transaction.
	// last_session_date holds the max session date on record, so a
	// backdated session never moves it backwards.
	CreateSession(ctx context.Context, s *SupportSession) error
	ListSessions(ctx context.Context, assignmentID string) ([]SupportSession, error)
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardStore interface {
	CreateRewardItem(ctx context.Context, item *RewardItem) error
	GetRewardItem(ctx context.Context, id string) (*RewardItem, error)
	ListRewardItems(ctx context.Context, availableOnly bool) ([]RewardItem, error)

	// CreateRedemption spends the points (compare-and-set) and inserts the
	// redemption in one transaction. Returns false on insufficient balance.
	CreateRedemption(ctx context.Context, r *Redemption, spend PointsTransaction) (bool, error)
	GetRedemption(ctx context.Context, id string) (*Redemption, error)
	MarkRedemptionUsed(ctx context.Context, id string, at time.Time) error
	ListRedemptions(ctx context.Context, user UserID) ([]Redemption, error)

	CreateAchievement(ctx context.Context, a *Achievement) error
	GetAchievement(ctx context.Context, id string) (*Achievement, error)
	ListAchievements(ctx context.Context) ([]Achievement, error)

	// CreateUnlock inserts the unlock and credits its points in one
	// transaction. A second insert for the same (user, achievement) fails
	// with *DuplicateFactError and credits nothing.
	CreateUnlock(ctx context.Context, u *AchievementUnlock, credit PointsTransaction) error
	ListUnlocks(ctx context.Context, user UserID) ([]AchievementUnlock, error)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationStore interface {
	// CreateNotification inserts the record and increments the owner's
	// unread counter in one transaction.
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	ListNotifications(ctx context.Context, user UserID, unreadOnly bool) ([]Notification, error)

	// MarkNotificationRead flips is_read, stamps read_at, and decrements
	// the owner's unread counter (floored at 0) in one transaction.
	// Returns false without touching anything if already read.
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error)

	UnreadCount(ctx context.Context, user UserID) (int64, error)
	ClearUnread(ctx context.Context, user UserID) error

	// PendingDelivery returns undelivered notifications whose schedule has
	// arrived (or that were never scheduled). Consumed by the sweeper.
	PendingDelivery(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	SaveTemplate(ctx context.Context, t *NotificationTemplate) error
	GetTemplateByName(ctx context.Context, name string) (*NotificationTemplate, error)
	ListTemplates(ctx context.Context) ([]NotificationTemplate, error)
	IncrementTemplateUsage(ctx context.Context, id string) error
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	UserStore
	PointsStore
	ScreeningStore
	WorkerStore
	NavigationStore
	RewardStore
	NotificationStore
}
