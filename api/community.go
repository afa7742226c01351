/*
community.go - Health worker directory, access points, peer navigation

PURPOSE:
  The community-facing surfaces: who can help (worker directory), where
  to get screened (access points with open-hours answers), and the peer
  navigation program (assignments plus session logging with atomic
  counters).
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vsla/health-engine/directory"
	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// WORKER DIRECTORY
// =============================================================================

// ListWorkers returns the worker directory with optional filters.
// GET /api/workers?specialization=&availability=&online=true
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workers, err := h.Store.ListWorkers(r.Context(), ledger.WorkerFilter{
		Specialization: q.Get("specialization"),
		Availability:   ledger.Availability(q.Get("availability")),
		OnlineOnly:     q.Get("online") == "true",
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list workers", err)
		return
	}
	dtos := make([]WorkerDTO, len(workers))
	for i, worker := range workers {
		dtos[i] = WorkerDTO{
			UserID:          string(worker.UserID),
			Specialization:  worker.Specialization,
			Location:        worker.Location,
			Availability:    string(worker.Availability),
			IsOnline:        worker.IsOnline,
			YearsExperience: worker.YearsExperience,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateAvailability sets the caller's own directory availability.
// PUT /api/workers/availability
func (h *Handler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "appear in the worker directory", p.Role.CanConductScreenings()) {
		return
	}

	var req UpdateAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	availability := ledger.Availability(req.Availability)
	switch availability {
	case ledger.AvailabilityAvailable, ledger.AvailabilityBusy, ledger.AvailabilityOffline:
	default:
		writeError(w, http.StatusBadRequest, "Invalid availability",
			ledger.Validationf("availability", "unknown value %q", req.Availability))
		return
	}

	worker, err := h.Store.GetWorker(r.Context(), p.UserID)
	if ledger.IsNotFound(err) {
		worker = &ledger.HealthWorker{UserID: p.UserID}
	} else if err != nil {
		h.writeDomainError(w, "Failed to get worker", err)
		return
	}
	worker.Availability = availability
	if err := h.Store.SaveWorker(r.Context(), worker); err != nil {
		h.writeDomainError(w, "Failed to update availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"availability": string(worker.Availability),
		"is_online":    worker.IsOnline,
	})
}

// =============================================================================
// ACCESS POINTS
// =============================================================================

// CreateAccessPoint registers a service location with its weekly hours.
// POST /api/access-points
func (h *Handler) CreateAccessPoint(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "manage access points", p.Role == ledger.RoleStaff) {
		return
	}

	var req CreateAccessPointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Invalid access point",
			ledger.Validationf("name", "required"))
		return
	}

	point := &directory.AccessPoint{
		Name:          req.Name,
		Type:          directory.AccessPointType(req.Type),
		Location:      req.Location,
		Address:       req.Address,
		Services:      req.Services,
		ContactPerson: req.ContactPerson,
		PhoneNumber:   req.PhoneNumber,
		IsActive:      true,
	}
	if err := h.Store.CreateAccessPoint(r.Context(), point); err != nil {
		h.writeDomainError(w, "Failed to create access point", err)
		return
	}

	var schedules []directory.DaySchedule
	for _, s := range req.Schedules {
		sched := &directory.DaySchedule{
			AccessPointID: point.ID,
			Day:           s.Day,
			OpenTime:      s.OpenTime,
			CloseTime:     s.CloseTime,
			IsClosed:      s.IsClosed,
			Notes:         s.Notes,
		}
		if err := h.Store.SaveSchedule(r.Context(), sched); err != nil {
			h.writeDomainError(w, "Failed to save schedule", err)
			return
		}
		schedules = append(schedules, *sched)
	}
	writeJSON(w, http.StatusCreated, toAccessPointDTO(point, schedules))
}

// ListAccessPoints returns active locations, optionally by type.
// GET /api/access-points?type=
func (h *Handler) ListAccessPoints(w http.ResponseWriter, r *http.Request) {
	points, err := h.Store.ListAccessPoints(r.Context(),
		directory.AccessPointType(r.URL.Query().Get("type")), true)
	if err != nil {
		h.writeDomainError(w, "Failed to list access points", err)
		return
	}
	dtos := make([]AccessPointDTO, len(points))
	for i := range points {
		dtos[i] = toAccessPointDTO(&points[i], nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccessPoint returns one location with its weekly schedule.
// GET /api/access-points/{id}
func (h *Handler) GetAccessPoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	point, err := h.Store.GetAccessPoint(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get access point", err)
		return
	}
	schedules, err := h.Store.ListSchedules(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccessPointDTO(point, schedules))
}

// AccessPointOpen answers "is it open". Defaults to now; day and at
// query parameters ask about other times.
// GET /api/access-points/{id}/open?day=monday&at=14:30
func (h *Handler) AccessPointOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	now := time.Now()
	day := q.Get("day")
	if day == "" {
		day = directory.DayName(now.Weekday())
	}
	at := now
	if v := q.Get("at"); v != "" {
		parsed, err := time.Parse("15:04", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use HH:MM)", err)
			return
		}
		at = parsed
	}

	open, err := directory.IsOpenAt(r.Context(), h.Store, id, day, at)
	if err != nil {
		h.writeDomainError(w, "Failed to check hours", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_point_id": id,
		"day":             day,
		"is_open":         open,
	})
}

// =============================================================================
// PEER NAVIGATION
// =============================================================================

// CreateAssignment pairs a youth with a peer navigator.
// POST /api/assignments
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "create assignments", p.Role.CanViewCrossUser()) {
		return
	}

	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.YouthID == "" || req.NavigatorID == "" {
		writeError(w, http.StatusBadRequest, "Invalid assignment",
			ledger.Validationf("youth_id", "youth_id and navigator_id are required"))
		return
	}

	a := &ledger.Assignment{
		YouthID:      ledger.UserID(req.YouthID),
		NavigatorID:  ledger.UserID(req.NavigatorID),
		Status:       ledger.AssignmentActive,
		SupportAreas: req.SupportAreas,
		Notes:        req.Notes,
	}
	if err := h.Store.CreateAssignment(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to create assignment", err)
		return
	}

	if _, err := h.Dispatcher.NotifyLiteral(r.Context(), a.YouthID, ledger.Literal{
		Title:   "Peer navigator assigned",
		Message: "A peer navigator will reach out to support you",
		Type:    ledger.NotifySystem,
	}, ledger.NotifyOptions{RelatedID: a.ID}); err != nil {
		h.Log.Warn("assignment notification failed",
			zap.String("assignment_id", a.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// GetAssignment returns one assignment. Participants and staff only.
// GET /api/assignments/{id}
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	a, err := h.Store.GetAssignment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}
	allowed := p.UserID == a.YouthID || p.UserID == a.NavigatorID ||
		p.Role == ledger.RoleStaff
	if !requireRole(w, p, "view other assignments", allowed) {
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(a))
}

// ListAssignments returns assignments the caller participates in; staff
// can filter by youth/navigator.
// GET /api/assignments?youth_id=&navigator_id=
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	q := r.URL.Query()

	youth := ledger.UserID(q.Get("youth_id"))
	navigator := ledger.UserID(q.Get("navigator_id"))
	if !p.Role.CanViewCrossUser() {
		youth, navigator = "", ""
		if p.Role == ledger.RoleYouth {
			youth = p.UserID
		} else {
			navigator = p.UserID
		}
	}

	assignments, err := h.Store.ListAssignments(r.Context(), youth, navigator)
	if err != nil {
		h.writeDomainError(w, "Failed to list assignments", err)
		return
	}
	dtos := make([]AssignmentDTO, len(assignments))
	for i := range assignments {
		dtos[i] = toAssignmentDTO(&assignments[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CompleteAssignment closes out an engagement.
// POST /api/assignments/{id}/complete
func (h *Handler) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	a, err := h.Store.GetAssignment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}
	allowed := p.UserID == a.NavigatorID || p.Role == ledger.RoleStaff
	if !requireRole(w, p, "complete assignments", allowed) {
		return
	}

	now := time.Now()
	a.Status = ledger.AssignmentCompleted
	a.CompletionDate = &now
	if err := h.Store.UpdateAssignment(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to complete assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(a))
}

// RecordSession logs a support session under an assignment. The
// assignment's counters move in the same transaction.
// POST /api/assignments/{id}/sessions
func (h *Handler) RecordSession(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	p := principalFrom(r)

	a, err := h.Store.GetAssignment(r.Context(), assignmentID)
	if err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}
	allowed := p.UserID == a.NavigatorID || p.Role == ledger.RoleStaff
	if !requireRole(w, p, "record sessions", allowed) {
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sess := &ledger.SupportSession{
		AssignmentID: assignmentID,
		SessionType:  req.SessionType,
		Duration:     time.Duration(req.DurationMinutes) * time.Minute,
		Notes:        req.Notes,
		Satisfaction: req.Satisfaction,
		FollowUp:     req.FollowUp,
	}
	if req.SessionDate != "" {
		date, err := time.Parse(time.RFC3339, req.SessionDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid session_date (use RFC3339)", err)
			return
		}
		sess.SessionDate = date
	}
	if err := h.Engine.RecordSession(r.Context(), sess); err != nil {
		h.writeDomainError(w, "Failed to record session", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

// ListSessions returns an assignment's sessions, newest first.
// GET /api/assignments/{id}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "id")
	p := principalFrom(r)

	a, err := h.Store.GetAssignment(r.Context(), assignmentID)
	if err != nil {
		h.writeDomainError(w, "Failed to get assignment", err)
		return
	}
	allowed := p.UserID == a.YouthID || p.UserID == a.NavigatorID ||
		p.Role == ledger.RoleStaff
	if !requireRole(w, p, "view other sessions", allowed) {
		return
	}

	sessions, err := h.Store.ListSessions(r.Context(), assignmentID)
	if err != nil {
		h.writeDomainError(w, "Failed to list sessions", err)
		return
	}
	dtos := make([]SessionDTO, len(sessions))
	for i := range sessions {
		dtos[i] = toSessionDTO(&sessions[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toSessionDTO(s *ledger.SupportSession) SessionDTO {
	return SessionDTO{
		ID:              s.ID,
		AssignmentID:    s.AssignmentID,
		SessionDate:     s.SessionDate.Format(time.RFC3339),
		SessionType:     s.SessionType,
		DurationMinutes: int(s.Duration / time.Minute),
		Notes:           s.Notes,
		Satisfaction:    s.Satisfaction,
		FollowUp:        s.FollowUp,
	}
}
