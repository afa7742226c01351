/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/vsla/health-engine/chat"
	"github.com/vsla/health-engine/directory"
	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// USERS & POINTS
// =============================================================================

type UserDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Role        string `json:"role"`
	Points      int64  `json:"points"`
	Unread      int64  `json:"unread_notifications"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toUserDTO(u *ledger.User) UserDTO {
	return UserDTO{
		ID:          string(u.ID),
		Name:        u.Name,
		PhoneNumber: u.PhoneNumber,
		Role:        string(u.Role),
		Points:      u.Points,
		Unread:      u.Unread,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

type CreateUserRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
}

type CreditPointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

type PointsTransactionDTO struct {
	ID          string `json:"id"`
	Delta       string `json:"delta"`
	Type        string `json:"type"`
	Reason      string `json:"reason,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// SCREENINGS
// =============================================================================

type ScreeningDTO struct {
	ID                   string `json:"id"`
	PatientID            string `json:"patient_id"`
	TestType             string `json:"test_type"`
	Result               string `json:"result,omitempty"`
	Status               string `json:"status"`
	Notes                string `json:"notes,omitempty"`
	Location             string `json:"location,omitempty"`
	Date                 string `json:"date"`
	ConductedBy          string `json:"conducted_by,omitempty"`
	RequiresFollowUp     bool   `json:"requires_follow_up"`
	FollowUpInstructions string `json:"follow_up_instructions,omitempty"`
	FollowUpDate         string `json:"follow_up_date,omitempty"`
	CreatedAt            string `json:"created_at,omitempty"`
}

func toScreeningDTO(s *ledger.ScreeningRecord) ScreeningDTO {
	dto := ScreeningDTO{
		ID:                   s.ID,
		PatientID:            string(s.PatientID),
		TestType:             s.TestType,
		Result:               s.Result,
		Status:               string(s.Status),
		Notes:                s.Notes,
		Location:             s.Location,
		Date:                 s.Date.Format(time.RFC3339),
		ConductedBy:          string(s.ConductedBy),
		RequiresFollowUp:     s.RequiresFollowUp,
		FollowUpInstructions: s.FollowUpInstructions,
		CreatedAt:            s.CreatedAt.Format(time.RFC3339),
	}
	if s.FollowUpDate != nil {
		dto.FollowUpDate = s.FollowUpDate.Format(time.RFC3339)
	}
	return dto
}

type CreateScreeningRequest struct {
	PatientID string `json:"patient_id"`
	TestType  string `json:"test_type"`
	Result    string `json:"result"`
	Notes     string `json:"notes"`
	Location  string `json:"location"`
	Date      string `json:"date"` // RFC3339, optional
}

type UpdateScreeningRequest struct {
	Result string `json:"result"`
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type FollowUpRequest struct {
	Instructions string `json:"instructions"`
	Date         string `json:"date"` // RFC3339
}

type ScreeningStatsDTO struct {
	Total          int64            `json:"total"`
	Normal         int64            `json:"normal"`
	Abnormal       int64            `json:"abnormal"`
	Pending        int64            `json:"pending"`
	FollowUpNeeded int64            `json:"follow_up_needed"`
	ByTestType     map[string]int64 `json:"by_test_type"`
}

// =============================================================================
// WORKERS & ACCESS POINTS
// =============================================================================

type WorkerDTO struct {
	UserID          string `json:"user_id"`
	Specialization  string `json:"specialization"`
	Location        string `json:"location,omitempty"`
	Availability    string `json:"availability"`
	IsOnline        bool   `json:"is_online"`
	YearsExperience int    `json:"years_experience"`
}

type UpdateAvailabilityRequest struct {
	Availability string `json:"availability"`
}

type AccessPointDTO struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Location      string           `json:"location,omitempty"`
	Address       string           `json:"address,omitempty"`
	Services      []string         `json:"services"`
	ContactPerson string           `json:"contact_person,omitempty"`
	PhoneNumber   string           `json:"phone_number,omitempty"`
	IsActive      bool             `json:"is_active"`
	Schedules     []DayScheduleDTO `json:"schedules,omitempty"`
}

type DayScheduleDTO struct {
	Day       string `json:"day"`
	OpenTime  string `json:"open_time,omitempty"`
	CloseTime string `json:"close_time,omitempty"`
	IsClosed  bool   `json:"is_closed"`
	Notes     string `json:"notes,omitempty"`
}

func toAccessPointDTO(p *directory.AccessPoint, schedules []directory.DaySchedule) AccessPointDTO {
	dto := AccessPointDTO{
		ID:            p.ID,
		Name:          p.Name,
		Type:          string(p.Type),
		Location:      p.Location,
		Address:       p.Address,
		Services:      p.Services,
		ContactPerson: p.ContactPerson,
		PhoneNumber:   p.PhoneNumber,
		IsActive:      p.IsActive,
	}
	for _, s := range schedules {
		dto.Schedules = append(dto.Schedules, DayScheduleDTO{
			Day:       s.Day,
			OpenTime:  s.OpenTime,
			CloseTime: s.CloseTime,
			IsClosed:  s.IsClosed,
			Notes:     s.Notes,
		})
	}
	return dto
}

type CreateAccessPointRequest struct {
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Location      string           `json:"location"`
	Address       string           `json:"address"`
	Services      []string         `json:"services"`
	ContactPerson string           `json:"contact_person"`
	PhoneNumber   string           `json:"phone_number"`
	Schedules     []DayScheduleDTO `json:"schedules"`
}

// =============================================================================
// ASSIGNMENTS & SESSIONS
// =============================================================================

type AssignmentDTO struct {
	ID              string   `json:"id"`
	YouthID         string   `json:"youth_id"`
	NavigatorID     string   `json:"navigator_id"`
	Status          string   `json:"status"`
	SupportAreas    []string `json:"support_areas"`
	Notes           string   `json:"notes,omitempty"`
	TotalSessions   int64    `json:"total_sessions"`
	LastSessionDate string   `json:"last_session_date,omitempty"`
	AssignedAt      string   `json:"assigned_at"`
}

func toAssignmentDTO(a *ledger.Assignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:            a.ID,
		YouthID:       string(a.YouthID),
		NavigatorID:   string(a.NavigatorID),
		Status:        string(a.Status),
		SupportAreas:  a.SupportAreas,
		Notes:         a.Notes,
		TotalSessions: a.TotalSessions,
		AssignedAt:    a.AssignedAt.Format(time.RFC3339),
	}
	if a.LastSessionDate != nil {
		dto.LastSessionDate = a.LastSessionDate.Format(time.RFC3339)
	}
	return dto
}

type CreateAssignmentRequest struct {
	YouthID      string   `json:"youth_id"`
	NavigatorID  string   `json:"navigator_id"`
	SupportAreas []string `json:"support_areas"`
	Notes        string   `json:"notes"`
}

type CreateSessionRequest struct {
	SessionType     string `json:"session_type"`
	SessionDate     string `json:"session_date"` // RFC3339, optional
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
	Satisfaction    *int   `json:"satisfaction"` // 1..5
	FollowUp        bool   `json:"follow_up"`
}

type SessionDTO struct {
	ID              string `json:"id"`
	AssignmentID    string `json:"assignment_id"`
	SessionDate     string `json:"session_date"`
	SessionType     string `json:"session_type"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes,omitempty"`
	Satisfaction    *int   `json:"satisfaction,omitempty"`
	FollowUp        bool   `json:"follow_up"`
}

// =============================================================================
// REWARDS
// =============================================================================

type RewardItemDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PointsRequired int64  `json:"points_required"`
	Category       string `json:"category"`
	RedemptionCode string `json:"redemption_code"`
	ExpiryDays     int    `json:"expiry_days"`
	IsAvailable    bool   `json:"is_available"`
}

type CreateRewardItemRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	PointsRequired int64  `json:"points_required"`
	Category       string `json:"category"`
	RedemptionCode string `json:"redemption_code"`
	ExpiryDays     int    `json:"expiry_days"`
}

type RedemptionDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	RewardItemID string `json:"reward_item_id"`
	RedeemedAt   string `json:"redeemed_at"`
	ExpiresAt    string `json:"expires_at"`
	Status       string `json:"status"`
	IsExpired    bool   `json:"is_expired"`
	PointsSpent  int64  `json:"points_spent"`
	UsedAt       string `json:"used_at,omitempty"`
}

func toRedemptionDTO(r *ledger.Redemption, now time.Time) RedemptionDTO {
	dto := RedemptionDTO{
		ID:           r.ID,
		UserID:       string(r.UserID),
		RewardItemID: r.RewardItemID,
		RedeemedAt:   r.RedeemedAt.Format(time.RFC3339),
		ExpiresAt:    r.ExpiresAt.Format(time.RFC3339),
		Status:       string(ledger.EffectiveStatus(*r, now)),
		IsExpired:    ledger.IsExpired(*r, now),
		PointsSpent:  r.PointsSpent,
	}
	if r.UsedAt != nil {
		dto.UsedAt = r.UsedAt.Format(time.RFC3339)
	}
	return dto
}

type CreateAchievementRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	PointsRewarded int64  `json:"points_rewarded"`
	Icon           string `json:"icon"`
}

type UnlockRequest struct {
	UserID string `json:"user_id"`
}

// =============================================================================
// NOTIFICATIONS & MESSAGING
// =============================================================================

type NotificationDTO struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Action       string `json:"action,omitempty"`
	RelatedID    string `json:"related_id,omitempty"`
	Priority     string `json:"priority"`
	IsRead       bool   `json:"is_read"`
	ScheduledFor string `json:"scheduled_for,omitempty"`
	DeliveredAt  string `json:"delivered_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toNotificationDTO(n *ledger.Notification) NotificationDTO {
	dto := NotificationDTO{
		ID:        n.ID,
		UserID:    string(n.UserID),
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Action:    n.Action,
		RelatedID: n.RelatedID,
		Priority:  string(n.Priority),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.ScheduledFor != nil {
		dto.ScheduledFor = n.ScheduledFor.Format(time.RFC3339)
	}
	if n.DeliveredAt != nil {
		dto.DeliveredAt = n.DeliveredAt.Format(time.RFC3339)
	}
	return dto
}

// NotifyRequest fires a notification from a template (Template set) or a
// literal payload (Title/Message set).
type NotifyRequest struct {
	UserID       string            `json:"user_id"`
	Template     string            `json:"template"`
	Variables    map[string]string `json:"variables"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Type         string            `json:"type"`
	Action       string            `json:"action"`
	RelatedID    string            `json:"related_id"`
	Priority     string            `json:"priority"`
	ScheduledFor string            `json:"scheduled_for"` // RFC3339
}

type SaveTemplateRequest struct {
	Name            string   `json:"name"`
	TitleTemplate   string   `json:"title_template"`
	MessageTemplate string   `json:"message_template"`
	Type            string   `json:"type"`
	Action          string   `json:"action"`
	Variables       []string `json:"variables"`
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	Type       string `json:"type"`
	ReplyToID  string `json:"reply_to_id"`
}

type MessageDTO struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	ReceiverID  string `json:"receiver_id"`
	Body        string `json:"body"`
	Type        string `json:"type"`
	IsDelivered bool   `json:"is_delivered"`
	IsRead      bool   `json:"is_read"`
	ReadAt      string `json:"read_at,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toMessageDTO(m *chat.Message) MessageDTO {
	dto := MessageDTO{
		ID:          m.ID,
		SenderID:    string(m.SenderID),
		ReceiverID:  string(m.ReceiverID),
		Body:        m.Body,
		Type:        string(m.Type),
		IsDelivered: m.IsDelivered,
		IsRead:      m.IsRead,
		ReplyToID:   m.ReplyToID,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
	if m.ReadAt != nil {
		dto.ReadAt = m.ReadAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
