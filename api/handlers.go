/*
handlers.go - HTTP API handlers for the youth healthcare platform

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic. This file carries
  the handler context plus the user, points, notification, template, and
  messaging endpoints; screenings and rewards live in their own files.

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:      Database access (ledger + directory + chat)
  - Engine:     Counter maintenance (points, unread, sessions)
  - Dispatcher: Notification synthesis

REQUEST FLOW:
  1. Parse HTTP request, resolve principal
  2. Validate input and role
  3. Call domain logic
  4. Serialize response
  5. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with the status the taxonomy dictates:
  - 400: validation failures
  - 403: role denials
  - 404: missing records
  - 409: duplicate facts, insufficient balance
  - 503: retryable store faults
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal extraction and role checks
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vsla/health-engine/chat"
	"github.com/vsla/health-engine/directory"
	"github.com/vsla/health-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API needs from persistence.
type Store interface {
	ledger.Store
	directory.Store
	chat.Store
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Engine     *ledger.Maintainer
	Dispatcher *ledger.Dispatcher
	Log        *zap.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		Engine:     ledger.NewMaintainer(store),
		Dispatcher: ledger.NewDispatcher(store),
		Log:        log,
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrDuplicateFact):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Log.Error("internal error", zap.String("message", message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser registers a platform user.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	role := ledger.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role",
			ledger.Validationf("role", "unknown role %q", req.Role))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Invalid name",
			ledger.Validationf("name", "required"))
		return
	}

	u := &ledger.User{
		ID:          ledger.UserID(req.ID),
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Role:        role,
		IsActive:    true,
	}
	if err := h.Store.CreateUser(r.Context(), u); err != nil {
		h.writeDomainError(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// GetUser returns a single user. Youth callers see only themselves.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other users", p.canAccessUser(id)) {
		return
	}

	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// ListUsers returns users, optionally filtered by role. Staff only.
// GET /api/users?role=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "list users", p.Role.CanViewCrossUser()) {
		return
	}

	users, err := h.Store.ListUsers(r.Context(), ledger.Role(r.URL.Query().Get("role")))
	if err != nil {
		h.writeDomainError(w, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteUser removes a user and cascades per entity policy.
// DELETE /api/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "delete users", p.UserID == id || p.Role == ledger.RoleStaff) {
		return
	}

	if err := h.Store.DeleteUser(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": string(id)})
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// GetPoints returns the cached balance plus the replayed trail balance.
// GET /api/users/{id}/points
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other balances", p.canAccessUser(id)) {
		return
	}

	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": string(id),
		"points":  u.Points,
	})
}

// CreditPoints grants points to a user. Staff only.
// POST /api/users/{id}/points/credit
func (h *Handler) CreditPoints(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "credit points", p.Role == ledger.RoleStaff) {
		return
	}

	var req CreditPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := ledger.UserID(chi.URLParam(r, "id"))
	if err := h.Engine.AddPoints(r.Context(), id, req.Points, req.Reason); err != nil {
		h.writeDomainError(w, "Failed to credit points", err)
		return
	}
	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": string(id),
		"points":  u.Points,
	})
}

// PointsHistory returns the audit trail, newest first.
// GET /api/users/{id}/points/history
func (h *Handler) PointsHistory(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other balances", p.canAccessUser(id)) {
		return
	}

	txs, err := h.Store.PointsHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get points history", err)
		return
	}
	dtos := make([]PointsTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = PointsTransactionDTO{
			ID:          tx.ID,
			Delta:       tx.Delta.String(),
			Type:        string(tx.Type),
			Reason:      tx.Reason,
			ReferenceID: tx.ReferenceID,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      string(id),
		"transactions": dtos,
		"balance":      ledger.ReplayBalance(txs).String(),
	})
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListUserNotifications returns the inbox, newest first.
// GET /api/users/{id}/notifications?unread=true
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other inboxes", p.canAccessUser(id)) {
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := h.Store.ListNotifications(r.Context(), id, unreadOnly)
	if err != nil {
		h.writeDomainError(w, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, len(notifications))
	for i := range notifications {
		dtos[i] = toNotificationDTO(&notifications[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UnreadCount returns the cached unread counter.
// GET /api/users/{id}/notifications/count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "view other inboxes", p.canAccessUser(id)) {
		return
	}

	count, err := h.Store.UnreadCount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": count})
}

// ClearNotifications marks everything read and zeroes the counter.
// POST /api/users/{id}/notifications/clear
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))
	p := principalFrom(r)
	if !requireRole(w, p, "clear other inboxes", p.UserID == id) {
		return
	}

	if err := h.Engine.ClearNotifications(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to clear notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": 0})
}

// MarkNotificationRead flips one notification to read. Idempotent.
// POST /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	n, err := h.Store.GetNotification(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get notification", err)
		return
	}
	if !requireRole(w, p, "read other users' notifications", p.UserID == n.UserID) {
		return
	}

	if err := h.Engine.MarkNotificationRead(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to mark notification read", err)
		return
	}
	n, err = h.Store.GetNotification(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get notification", err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationDTO(n))
}

// =============================================================================
// TEMPLATE & DISPATCH HANDLERS
// =============================================================================

// SaveTemplate creates or updates a named notification template.
// POST /api/templates
func (h *Handler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "manage templates", p.Role == ledger.RoleStaff) {
		return
	}

	var req SaveTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Invalid template",
			ledger.Validationf("name", "required"))
		return
	}

	t := &ledger.NotificationTemplate{
		Name:            req.Name,
		TitleTemplate:   req.TitleTemplate,
		MessageTemplate: req.MessageTemplate,
		Type:            req.Type,
		Action:          req.Action,
		Variables:       req.Variables,
		IsActive:        true,
	}
	if err := h.Store.SaveTemplate(r.Context(), t); err != nil {
		h.writeDomainError(w, "Failed to save template", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": t.ID, "name": t.Name})
}

// ListTemplates returns every template. Staff only.
// GET /api/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "manage templates", p.Role == ledger.RoleStaff) {
		return
	}

	templates, err := h.Store.ListTemplates(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// Notify fires a notification from a template or literal payload.
// POST /api/notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !requireRole(w, p, "send notifications", p.Role.CanViewCrossUser()) {
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request",
			ledger.Validationf("user_id", "required"))
		return
	}

	opts := ledger.NotifyOptions{
		RelatedID: req.RelatedID,
		Priority:  ledger.NotificationPriority(req.Priority),
	}
	if req.ScheduledFor != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid scheduled_for (use RFC3339)", err)
			return
		}
		opts.ScheduledFor = &at
	}

	var n *ledger.Notification
	var err error
	if req.Template != "" {
		n, err = h.Dispatcher.Notify(r.Context(), ledger.UserID(req.UserID),
			req.Template, req.Variables, opts)
	} else {
		n, err = h.Dispatcher.NotifyLiteral(r.Context(), ledger.UserID(req.UserID),
			ledger.Literal{
				Title:   req.Title,
				Message: req.Message,
				Type:    req.Type,
				Action:  req.Action,
			}, opts)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to send notification", err)
		return
	}
	writeJSON(w, http.StatusCreated, toNotificationDTO(n))
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

// SendMessage writes a direct message and notifies the receiver.
// POST /api/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m := &chat.Message{
		SenderID:   p.UserID,
		ReceiverID: ledger.UserID(req.ReceiverID),
		Body:       req.Body,
		Type:       chat.MessageType(req.Type),
		ReplyToID:  req.ReplyToID,
	}
	if err := m.Validate(); err != nil {
		h.writeDomainError(w, "Invalid message", err)
		return
	}
	if err := h.Store.CreateMessage(r.Context(), m); err != nil {
		h.writeDomainError(w, "Failed to send message", err)
		return
	}

	// The receiver's inbox notification rides on the message, not inside
	// its transaction; a lost notification never loses the message.
	sender, err := h.Store.GetUser(r.Context(), p.UserID)
	senderName := string(p.UserID)
	if err == nil {
		senderName = sender.Name
	}
	if _, err := h.Dispatcher.NotifyLiteral(r.Context(), m.ReceiverID, ledger.Literal{
		Title:   "New message",
		Message: "You have a new message from " + senderName,
		Type:    ledger.NotifyMessage,
		Action:  ledger.ActionOpenChat,
	}, ledger.NotifyOptions{RelatedID: m.ID}); err != nil {
		h.Log.Warn("message notification failed",
			zap.String("message_id", m.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, toMessageDTO(m))
}

// Conversation returns the thread between the caller and another user.
// GET /api/messages/conversation?with={id}
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	other := ledger.UserID(r.URL.Query().Get("with"))
	if other == "" {
		writeError(w, http.StatusBadRequest, "Invalid request",
			ledger.Validationf("with", "required"))
		return
	}

	messages, err := h.Store.Conversation(r.Context(), p.UserID, other)
	if err != nil {
		h.writeDomainError(w, "Failed to load conversation", err)
		return
	}
	dtos := make([]MessageDTO, len(messages))
	for i := range messages {
		dtos[i] = toMessageDTO(&messages[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkMessageRead flips a message to read. Receiver only; idempotent.
// POST /api/messages/{id}/read
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principalFrom(r)

	m, err := h.Store.GetMessage(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get message", err)
		return
	}
	if !requireRole(w, p, "read messages addressed to others", p.UserID == m.ReceiverID) {
		return
	}

	if _, err := h.Store.MarkMessageRead(r.Context(), id, time.Now()); err != nil {
		h.writeDomainError(w, "Failed to mark message read", err)
		return
	}
	m, err = h.Store.GetMessage(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get message", err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageDTO(m))
}
