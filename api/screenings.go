/*
screenings.go - Screening endpoints

PURPOSE:
  Create/read/update/delete for screening records plus the derived
  views: per-patient history, abnormal board, platform statistics, and
  follow-up scheduling.

CLASSIFICATION:
  A screening created or updated with a non-empty result is classified
  on the spot (ledger.Classify). An abnormal classification schedules a
  follow-up flag and fires a high-priority notification to the patient.
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vsla/health-engine/ledger"
)

// CreateScreening records a screening. Youth record their own; staff and
// navigators record on behalf of patients.
// POST /api/screenings
func (h *Handler) CreateScreening(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	var req CreateScreeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TestType == "" {
		writeError(w, http.StatusBadRequest, "Invalid screening",
			ledger.Validationf("test_type", "required"))
		return
	}

	patient := ledger.UserID(req.PatientID)
	if patient == "" {
		patient = p.UserID
	}
	if patient != p.UserID && !p.Role.CanConductScreenings() {
		writeError(w, http.StatusForbidden, "Forbidden",
			&ledger.PermissionError{Role: p.Role, Action: "record screenings for others"})
		return
	}

	rec := &ledger.ScreeningRecord{
		PatientID: patient,
		TestType:  req.TestType,
		Result:    req.Result,
		Notes:     req.Notes,
		Location:  req.Location,
		Status:    ledger.ScreeningPending,
	}
	if p.UserID != patient {
		rec.ConductedBy = p.UserID
	}
	if req.Date != "" {
		date, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use RFC3339)", err)
			return
		}
		rec.Date = date
	}

	classified := ledger.Classify(rec)

	if err := h.Store.CreateScreening(r.Context(), rec); err != nil {
		h.writeDomainError(w, "Failed to create screening", err)
		return
	}
	if classified {
		h.notifyScreeningResult(r, rec)
	}
	writeJSON(w, http.StatusCreated, toScreeningDTO(rec))
}

// GetScreening returns one screening record.
// GET /api/screenings/{id}
func (h *Handler) GetScreening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	rec, err := h.Store.GetScreening(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get screening", err)
		return
	}
	if !requireRole(w, p, "view other patients' screenings", p.canAccessUser(rec.PatientID)) {
		return
	}
	writeJSON(w, http.StatusOK, toScreeningDTO(rec))
}

// ListScreenings returns screenings with optional filters. Youth are
// scoped to their own records regardless of the filter.
// GET /api/screenings?patient_id=&test_type=&status=&follow_up=true&from=&to=
func (h *Handler) ListScreenings(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	q := r.URL.Query()

	f := ledger.ScreeningFilter{
		PatientID:    ledger.UserID(q.Get("patient_id")),
		TestType:     q.Get("test_type"),
		Status:       ledger.ScreeningStatus(q.Get("status")),
		FollowUpOnly: q.Get("follow_up") == "true",
	}
	if !p.Role.CanViewCrossUser() {
		f.PatientID = p.UserID
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
		f.DateFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
		f.DateTo = &t
	}

	recs, err := h.Store.ListScreenings(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list screenings", err)
		return
	}
	writeJSON(w, http.StatusOK, toScreeningDTOs(recs))
}

// UpdateScreening applies result/status/notes changes. A result landing
// on a still-pending record classifies it.
// PUT /api/screenings/{id}
func (h *Handler) UpdateScreening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	var req UpdateScreeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Store.GetScreening(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get screening", err)
		return
	}
	if !requireRole(w, p, "update other patients' screenings",
		p.UserID == rec.PatientID || p.Role.CanConductScreenings()) {
		return
	}

	if req.Result != "" {
		rec.Result = req.Result
	}
	if req.Notes != "" {
		rec.Notes = req.Notes
	}
	classified := ledger.Classify(rec)
	if req.Status != "" {
		// Explicit status override wins over derivation.
		rec.Status = ledger.ScreeningStatus(req.Status)
		classified = false
	}

	if err := h.Store.UpdateScreening(r.Context(), rec); err != nil {
		h.writeDomainError(w, "Failed to update screening", err)
		return
	}
	if classified {
		h.notifyScreeningResult(r, rec)
	}
	writeJSON(w, http.StatusOK, toScreeningDTO(rec))
}

// DeleteScreening removes a record. Staff only.
// DELETE /api/screenings/{id}
func (h *Handler) DeleteScreening(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "delete screenings", p.Role == ledger.RoleStaff) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteScreening(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete screening", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// PatientScreenings returns a patient's history, newest first.
// GET /api/patients/{id}/screenings
func (h *Handler) PatientScreenings(w http.ResponseWriter, r *http.Request) {
	patient := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other patients' screenings", p.canAccessUser(patient)) {
		return
	}

	recs, err := h.Store.PatientHistory(r.Context(), patient)
	if err != nil {
		h.writeDomainError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toScreeningDTOs(recs))
}

// AbnormalScreenings lists abnormal or follow-up-flagged records. Youth
// see their own; staff and navigators see platform-wide.
// GET /api/screenings/abnormal
func (h *Handler) AbnormalScreenings(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	scope := ledger.UserID("")
	if !p.Role.CanViewCrossUser() {
		scope = p.UserID
	}
	recs, err := h.Store.AbnormalScreenings(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, "Failed to list abnormal screenings", err)
		return
	}
	writeJSON(w, http.StatusOK, toScreeningDTOs(recs))
}

// ScreeningStatistics returns the platform summary. Staff/navigator only.
// GET /api/screenings/statistics
func (h *Handler) ScreeningStatistics(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "view statistics", p.Role.CanViewCrossUser()) {
		return
	}

	stats, err := h.Store.ScreeningStats(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to get statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, ScreeningStatsDTO{
		Total:          stats.Total,
		Normal:         stats.Normal,
		Abnormal:       stats.Abnormal,
		Pending:        stats.Pending,
		FollowUpNeeded: stats.FollowUpNeeded,
		ByTestType:     stats.ByTestType,
	})
}

// ScheduleFollowUp attaches follow-up instructions and a date.
// POST /api/screenings/{id}/follow-up
func (h *Handler) ScheduleFollowUp(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "schedule follow-ups", p.Role.CanConductScreenings()) {
		return
	}

	var req FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.Store.GetScreening(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get screening", err)
		return
	}

	rec.RequiresFollowUp = true
	rec.FollowUpInstructions = req.Instructions
	if req.Date != "" {
		date, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use RFC3339)", err)
			return
		}
		rec.FollowUpDate = &date
	}
	if err := h.Store.UpdateScreening(r.Context(), rec); err != nil {
		h.writeDomainError(w, "Failed to schedule follow-up", err)
		return
	}

	if _, err := h.Dispatcher.NotifyLiteral(r.Context(), rec.PatientID, ledger.Literal{
		Title:    "Follow-up scheduled",
		Message:  "A follow-up has been scheduled for your " + rec.TestType + " screening",
		Type:     ledger.NotifyFollowUp,
		Action:   ledger.ActionScheduleFollowUp,
		Priority: ledger.PriorityHigh,
	}, ledger.NotifyOptions{RelatedID: rec.ID, ScheduledFor: rec.FollowUpDate}); err != nil {
		h.Log.Warn("follow-up notification failed",
			zap.String("screening_id", rec.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, toScreeningDTO(rec))
}

// notifyScreeningResult tells the patient their result is in. Abnormal
// results go out high priority with the review action.
func (h *Handler) notifyScreeningResult(r *http.Request, rec *ledger.ScreeningRecord) {
	lit := ledger.Literal{
		Title:   "Screening result available",
		Message: "Your " + rec.TestType + " result is ready",
		Type:    ledger.NotifyScreeningResult,
		Action:  ledger.ActionViewResult,
	}
	if rec.Status == ledger.ScreeningAbnormal {
		lit = ledger.Literal{
			Title:    "Screening needs attention",
			Message:  "Your " + rec.TestType + " result needs a follow-up. Please contact a health worker.",
			Type:     ledger.NotifyAbnormalResult,
			Action:   ledger.ActionReviewAbnormal,
			Priority: ledger.PriorityHigh,
		}
	}
	if _, err := h.Dispatcher.NotifyLiteral(r.Context(), rec.PatientID, lit,
		ledger.NotifyOptions{RelatedID: rec.ID}); err != nil {
		h.Log.Warn("result notification failed",
			zap.String("screening_id", rec.ID), zap.Error(err))
	}
}

func toScreeningDTOs(recs []ledger.ScreeningRecord) []ScreeningDTO {
	dtos := make([]ScreeningDTO, len(recs))
	for i := range recs {
		dtos[i] = toScreeningDTO(&recs[i])
	}
	return dtos
}
