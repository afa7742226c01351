/*
Package directory provides the health access-point directory: typed
locations (markets, schools, youth centers, clinics, hospitals) with the
services they offer and per-day open/close schedules.

The open/closed check is pure time arithmetic over a day's window;
overnight windows (open after close, e.g. a clinic open 20:00-06:00) wrap
past midnight.
*/
package directory

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// ACCESS POINTS
// =============================================================================

type AccessPointType string

const (
	TypeMarket          AccessPointType = "market"
	TypeSchool          AccessPointType = "school"
	TypeYouthCenter     AccessPointType = "youth_center"
	TypeClinic          AccessPointType = "clinic"
	TypeHospital        AccessPointType = "hospital"
	TypeCommunityCenter AccessPointType = "community_center"
)

// AccessPoint is a directory entry for a place youth can get services.
type AccessPoint struct {
	ID            string
	Name          string
	Type          AccessPointType
	Location      string
	Address       string
	Services      []string
	ContactPerson string
	PhoneNumber   string
	Description   string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// SCHEDULES
// =============================================================================

// DaySchedule is the open/close window for one weekday.
// (access point, day) is unique in the store.
type DaySchedule struct {
	AccessPointID string
	Day           string // lowercase weekday name
	OpenTime      string // "HH:MM", 24h
	CloseTime     string // "HH:MM", 24h
	IsClosed      bool
	Notes         string
}

// IsOpen reports whether the window covers the clock time of now.
// A window whose open time is after its close time wraps past midnight.
func (s DaySchedule) IsOpen(now time.Time) bool {
	if s.IsClosed {
		return false
	}
	open, err1 := minuteOfDay(s.OpenTime)
	close_, err2 := minuteOfDay(s.CloseTime)
	if err1 != nil || err2 != nil {
		return false
	}
	at := now.Hour()*60 + now.Minute()
	if open <= close_ {
		return at >= open && at <= close_
	}
	// Overnight window.
	return at >= open || at <= close_
}

// DayName normalizes a weekday to the lowercase form schedules use.
func DayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

func minuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence contract for the directory. The sqlite store
// implements it alongside the ledger store.
type Store interface {
	CreateAccessPoint(ctx context.Context, p *AccessPoint) error
	GetAccessPoint(ctx context.Context, id string) (*AccessPoint, error)
	ListAccessPoints(ctx context.Context, pointType AccessPointType, activeOnly bool) ([]AccessPoint, error)

	SaveSchedule(ctx context.Context, s *DaySchedule) error
	GetSchedule(ctx context.Context, accessPointID, day string) (*DaySchedule, error)
	ListSchedules(ctx context.Context, accessPointID string) ([]DaySchedule, error)
}

// IsOpenAt answers "is this access point open on day X at time Y" against
// the stored schedule. No schedule row for the day means closed.
func IsOpenAt(ctx context.Context, store Store, accessPointID, day string, at time.Time) (bool, error) {
	sched, err := store.GetSchedule(ctx, accessPointID, strings.ToLower(day))
	if err != nil {
		return false, err
	}
	if sched == nil {
		return false, nil
	}
	return sched.IsOpen(at), nil
}
