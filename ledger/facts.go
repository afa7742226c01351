/*
facts.go - Fact record definitions

PURPOSE:
  A fact is an immutable-once-created record of something that happened:
  a screening was taken, a support session was held, a reward was
  redeemed, an achievement was unlocked. Fields may be updated in place
  (status overrides, follow-up scheduling) but every record keeps
  monotonic created/updated timestamps enforced by the store.

OWNERSHIP:
  User is the root aggregate. Deleting a user cascades to their
  notifications, sessions, redemptions, unlocks, messages, and
  screenings-as-patient; screenings they merely conducted keep the
  record and null the conductor.

SEE ALSO:
  - derive.go: How statuses are computed from these fields
  - store.go: Persistence contract, uniqueness constraints
*/
package ledger

import "time"

// =============================================================================
// USER - Root aggregate
// =============================================================================

// User carries the two running counters (points, unread notifications).
// Both are mutated exclusively through Maintainer operations; direct field
// writes would break the non-negative invariant.
type User struct {
	ID          UserID
	Name        string
	PhoneNumber string
	Role        Role
	Points      int64
	Unread      int64
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// SCREENINGS
// =============================================================================

type ScreeningStatus string

const (
	ScreeningPending        ScreeningStatus = "pending"
	ScreeningNormal         ScreeningStatus = "normal"
	ScreeningAbnormal       ScreeningStatus = "abnormal"
	ScreeningFollowUpNeeded ScreeningStatus = "follow_up_needed"
)

// ScreeningRecord is a health screening taken by a youth user.
// Status starts pending; the first save with a non-empty result classifies
// it (see Classify in derive.go), after which only explicit updates change it.
type ScreeningRecord struct {
	ID        string
	PatientID UserID // role must be youth
	TestType  string
	Result    string
	Status    ScreeningStatus
	Notes     string
	Location  string
	Date      time.Time

	// Conductor is optional; nulled (not cascaded) if that user is deleted.
	ConductedBy UserID

	RequiresFollowUp     bool
	FollowUpInstructions string
	FollowUpDate         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Common test types offered at access points.
const (
	TestBloodPressure   = "Blood Pressure"
	TestBloodSugar      = "Blood Sugar"
	TestBMI             = "BMI"
	TestHIVSelfTest     = "HIV Self-Test"
	TestContraceptive   = "Contraceptive Counseling"
	TestMentalHealth    = "Mental Health Screening"
	TestPregnancy       = "Pregnancy Test"
	TestSTIInformation  = "STI Information"
	TestNutrition       = "Nutrition Assessment"
	TestPhysicalCheck   = "Physical Activity Check"
)

// =============================================================================
// HEALTH WORKERS
// =============================================================================

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// HealthWorker is the directory profile for a staff or peer-navigator user.
// IsOnline is derived from availability, never set directly.
type HealthWorker struct {
	UserID          UserID
	Specialization  string
	Location        string
	Availability    Availability
	IsOnline        bool
	LicenseNumber   string
	YearsExperience int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// PEER NAVIGATION
// =============================================================================

type AssignmentStatus string

const (
	AssignmentPending      AssignmentStatus = "pending"
	AssignmentActive       AssignmentStatus = "active"
	AssignmentCompleted    AssignmentStatus = "completed"
	AssignmentDiscontinued AssignmentStatus = "discontinued"
)

// Assignment pairs a youth with a peer navigator. (youth, navigator, status)
// is unique, so a pair can have at most one active engagement.
// TotalSessions and LastSessionDate are derived counters that must always
// match the SupportSessions referencing this assignment; RecordSession keeps
// them in step atomically.
type Assignment struct {
	ID           string
	YouthID      UserID
	NavigatorID  UserID
	Status       AssignmentStatus
	SupportAreas []string
	Notes        string

	TotalSessions   int64
	LastSessionDate *time.Time
	NextSessionDate *time.Time
	CompletionDate  *time.Time

	AssignedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SupportSession is a single session under an assignment. Creating one
// increments the parent assignment's counters in the same transaction.
type SupportSession struct {
	ID           string
	AssignmentID string
	SessionDate  time.Time
	SessionType  string
	Duration     time.Duration
	Notes        string
	Satisfaction *int // 1..5, absent if not rated
	FollowUp     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session types recognised by the platform.
const (
	SessionInitialAssessment  = "initial_assessment"
	SessionFollowUp           = "follow_up"
	SessionCrisisIntervention = "crisis_intervention"
	SessionGoalSetting        = "goal_setting"
	SessionProgressReview     = "progress_review"
	SessionReferral           = "referral"
	SessionEducation          = "education"
	SessionSupportGroup       = "support_group"
)

// =============================================================================
// REWARDS
// =============================================================================

// RewardItem is a catalog entry redeemable with points.
type RewardItem struct {
	ID             string
	Name           string
	Description    string
	PointsRequired int64 // >= 1
	Category       string
	RedemptionCode string // unique
	ExpiryDays     int    // redemption expiry window, >= 1
	IsAvailable    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RedemptionStatus string

const (
	RedemptionPending RedemptionStatus = "pending"
	RedemptionActive  RedemptionStatus = "active"
	RedemptionExpired RedemptionStatus = "expired"
	RedemptionUsed    RedemptionStatus = "used"
)

// Redemption records points spent on a reward item.
// Status is advisory; IsExpired in derive.go is the canonical state.
// (user, reward item, redemption date) is unique.
type Redemption struct {
	ID           string
	UserID       UserID
	RewardItemID string
	RedeemedAt   time.Time
	ExpiresAt    time.Time
	Status       RedemptionStatus
	PointsSpent  int64
	UsedAt       *time.Time
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Achievement is a gamification goal worth points.
type Achievement struct {
	ID             string
	Name           string
	Description    string
	PointsRewarded int64 // >= 0
	Icon           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AchievementUnlock is the sole trigger that credits an achievement's
// points. (user, achievement) is unique; the store's constraint is what
// makes the credit exactly-once under concurrent attempts.
type AchievementUnlock struct {
	ID            string
	UserID        UserID
	AchievementID string
	UnlockedAt    time.Time
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

// Notification types and actions mirror what the mobile client renders.
const (
	NotifyScreeningResult = "screening_result"
	NotifyReminder        = "reminder"
	NotifyAchievement     = "achievement"
	NotifyMessage         = "message"
	NotifyAppointment     = "appointment"
	NotifyFollowUp        = "follow_up"
	NotifyHealthTip       = "health_tip"
	NotifySystem          = "system"
	NotifyAbnormalResult  = "abnormal_result"

	ActionViewResult       = "view_result"
	ActionViewAppointment  = "view_appointment"
	ActionViewAchievement  = "view_achievement"
	ActionOpenChat         = "open_chat"
	ActionScheduleFollowUp = "schedule_follow_up"
	ActionReviewAbnormal   = "review_abnormal_result"
)

// Notification is an inbox entry. Transitions unread -> read exactly once
// via Maintainer.MarkNotificationRead, which also decrements the owner's
// unread counter.
type Notification struct {
	ID           string
	UserID       UserID
	Title        string
	Message      string
	Type         string
	Action       string
	RelatedID    string
	Priority     NotificationPriority
	IsRead       bool
	ReadAt       *time.Time
	ScheduledFor *time.Time
	DeliveredAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotificationTemplate is a named, reusable notification shape.
// Title and message carry {variable} placeholders; see template.go.
type NotificationTemplate struct {
	ID              string
	Name            string // unique
	TitleTemplate   string
	MessageTemplate string
	Type            string
	Action          string
	Variables       []string
	IsActive        bool
	UsageCount      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
