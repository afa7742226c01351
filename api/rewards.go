/*
rewards.go - Reward catalog, redemption, and achievement endpoints

PURPOSE:
  Staff manage the catalog and achievements; youth redeem items and
  earn unlocks. The balance-sensitive paths ride the engine's atomic
  operations: a redeem either spends the points and records the
  redemption or does neither, and an unlock credits its achievement's
  points exactly once.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// CATALOG
// =============================================================================

// CreateRewardItem adds a catalog entry. Staff only.
// POST /api/rewards
func (h *Handler) CreateRewardItem(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "manage rewards", p.Role == ledger.RoleStaff) {
		return
	}

	var req CreateRewardItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PointsRequired < 1 {
		writeError(w, http.StatusBadRequest, "Invalid reward",
			ledger.Validationf("points_required", "must be at least 1"))
		return
	}
	if req.RedemptionCode == "" {
		writeError(w, http.StatusBadRequest, "Invalid reward",
			ledger.Validationf("redemption_code", "required"))
		return
	}

	item := &ledger.RewardItem{
		Name:           req.Name,
		Description:    req.Description,
		PointsRequired: req.PointsRequired,
		Category:       req.Category,
		RedemptionCode: req.RedemptionCode,
		ExpiryDays:     req.ExpiryDays,
		IsAvailable:    true,
	}
	if err := h.Store.CreateRewardItem(r.Context(), item); err != nil {
		h.writeDomainError(w, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardItemDTO(item))
}

// ListRewardItems returns the catalog. Youth see available items only.
// GET /api/rewards?all=true
func (h *Handler) ListRewardItems(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	availableOnly := true
	if r.URL.Query().Get("all") == "true" && p.Role == ledger.RoleStaff {
		availableOnly = false
	}

	items, err := h.Store.ListRewardItems(r.Context(), availableOnly)
	if err != nil {
		h.writeDomainError(w, "Failed to list rewards", err)
		return
	}
	dtos := make([]RewardItemDTO, len(items))
	for i := range items {
		dtos[i] = toRewardItemDTO(&items[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toRewardItemDTO(item *ledger.RewardItem) RewardItemDTO {
	return RewardItemDTO{
		ID:             item.ID,
		Name:           item.Name,
		Description:    item.Description,
		PointsRequired: item.PointsRequired,
		Category:       item.Category,
		RedemptionCode: item.RedemptionCode,
		ExpiryDays:     item.ExpiryDays,
		IsAvailable:    item.IsAvailable,
	}
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// Redeem spends the caller's points on a reward item. Insufficient
// balance returns 409 with the shortfall, not an error.
// POST /api/rewards/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	itemID := chi.URLParam(r, "id")

	redemption, ok, err := h.Engine.Redeem(r.Context(), p.UserID, itemID, nil)
	if err != nil {
		h.writeDomainError(w, "Failed to redeem", err)
		return
	}
	if !ok {
		item, err := h.Store.GetRewardItem(r.Context(), itemID)
		if err != nil {
			h.writeDomainError(w, "Failed to redeem", err)
			return
		}
		u, err := h.Store.GetUser(r.Context(), p.UserID)
		if err != nil {
			h.writeDomainError(w, "Failed to redeem", err)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           "insufficient points",
			"points_required": item.PointsRequired,
			"points_balance":  u.Points,
			"shortfall":       item.PointsRequired - u.Points,
		})
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(redemption, time.Now()))
}

// UseRedemption marks a redemption consumed, typically by a vendor
// scanning the code. Expired redemptions are refused.
// POST /api/redemptions/{id}/use
func (h *Handler) UseRedemption(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	id := chi.URLParam(r, "id")

	redemption, err := h.Store.GetRedemption(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get redemption", err)
		return
	}
	allowed := p.UserID == redemption.UserID ||
		p.Role == ledger.RoleVendor || p.Role == ledger.RoleStaff
	if !requireRole(w, p, "use other users' redemptions", allowed) {
		return
	}

	if err := h.Engine.MarkRedemptionUsed(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to use redemption", err)
		return
	}
	redemption, err = h.Store.GetRedemption(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get redemption", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(redemption, time.Now()))
}

// ListRedemptions returns a user's redemptions, newest first.
// GET /api/users/{id}/redemptions
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	user := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other users' redemptions", p.canAccessUser(user)) {
		return
	}

	redemptions, err := h.Store.ListRedemptions(r.Context(), user)
	if err != nil {
		h.writeDomainError(w, "Failed to list redemptions", err)
		return
	}
	now := time.Now()
	dtos := make([]RedemptionDTO, len(redemptions))
	for i := range redemptions {
		dtos[i] = toRedemptionDTO(&redemptions[i], now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

// CreateAchievement defines an achievement. Staff only.
// POST /api/achievements
func (h *Handler) CreateAchievement(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "manage achievements", p.Role == ledger.RoleStaff) {
		return
	}

	var req CreateAchievementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PointsRewarded < 0 {
		writeError(w, http.StatusBadRequest, "Invalid achievement",
			ledger.Validationf("points_rewarded", "must be non-negative"))
		return
	}

	a := &ledger.Achievement{
		Name:           req.Name,
		Description:    req.Description,
		PointsRewarded: req.PointsRewarded,
		Icon:           req.Icon,
	}
	if err := h.Store.CreateAchievement(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to create achievement", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAchievements returns every achievement.
// GET /api/achievements
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.Store.ListAchievements(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, achievements)
}

// Unlock credits an achievement to a user. Exactly-once: repeat calls
// return the unchanged balance with unlocked=false.
// POST /api/achievements/{id}/unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user := ledger.UserID(req.UserID)
	if user == "" {
		user = p.UserID
	}
	if !requireRole(w, p, "unlock achievements for others",
		user == p.UserID || p.Role.CanViewCrossUser()) {
		return
	}

	achievementID := chi.URLParam(r, "id")
	unlock, err := h.Engine.CreditAchievement(r.Context(), user, achievementID)
	if err != nil {
		h.writeDomainError(w, "Failed to unlock achievement", err)
		return
	}
	if unlock == nil {
		// Already unlocked; nothing was credited.
		writeJSON(w, http.StatusOK, map[string]any{"unlocked": false})
		return
	}

	achievement, err := h.Store.GetAchievement(r.Context(), achievementID)
	if err == nil {
		if _, nerr := h.Dispatcher.NotifyLiteral(r.Context(), user, ledger.Literal{
			Title: "Achievement unlocked!",
			Message: "You earned \"" + achievement.Name + "\" and " +
				strconv.FormatInt(achievement.PointsRewarded, 10) + " points",
			Type:   ledger.NotifyAchievement,
			Action: ledger.ActionViewAchievement,
		}, ledger.NotifyOptions{RelatedID: unlock.ID}); nerr != nil {
			h.Log.Warn("unlock notification failed",
				zap.String("unlock_id", unlock.ID), zap.Error(nerr))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked":    true,
		"unlock_id":   unlock.ID,
		"unlocked_at": unlock.UnlockedAt.Format(time.RFC3339),
	})
}
