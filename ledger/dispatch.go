/*
dispatch.go - Notification synthesis

PURPOSE:
  On each qualifying state transition (screening classified abnormal,
  achievement unlocked, session logged, message received), the Dispatcher
  synthesizes a notification from a template + context, or from literal
  text, and enqueues it against the target user's inbox. The insert and
  the owner's unread counter bump are one store transaction.

DELIVERY:
  The Dispatcher never performs delivery. ShouldDeliver is the pure
  readiness check; an external sweeper (see api/sweeper.go) polls it and
  marks delivery out-of-band.
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Dispatcher turns state transitions into inbox entries.
type Dispatcher struct {
	Store Store
	Now   func() time.Time
}

func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{Store: store, Now: time.Now}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Literal is a notification spec given directly, without a template.
type Literal struct {
	Title    string
	Message  string
	Type     string
	Action   string
	Priority NotificationPriority
}

// NotifyOptions carry the per-notification extras.
type NotifyOptions struct {
	RelatedID    string
	Priority     NotificationPriority
	ScheduledFor *time.Time
}

// Notify renders the named template with the context and enqueues the
// result for the user. Unresolved {placeholders} stay verbatim; template
// usage_count increments on every render.
func (d *Dispatcher) Notify(ctx context.Context, user UserID, templateName string, vars map[string]string, opts NotifyOptions) (*Notification, error) {
	tmpl, err := d.Store.GetTemplateByName(ctx, templateName)
	if err != nil {
		return nil, err
	}
	rendered := tmpl.Render(vars)
	if err := d.Store.IncrementTemplateUsage(ctx, tmpl.ID); err != nil {
		return nil, err
	}

	n := &Notification{
		ID:           uuid.NewString(),
		UserID:       user,
		Title:        rendered.Title,
		Message:      rendered.Message,
		Type:         rendered.Type,
		Action:       rendered.Action,
		RelatedID:    opts.RelatedID,
		Priority:     opts.Priority,
		ScheduledFor: opts.ScheduledFor,
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if err := d.Store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// NotifyLiteral enqueues a notification from literal text.
func (d *Dispatcher) NotifyLiteral(ctx context.Context, user UserID, lit Literal, opts NotifyOptions) (*Notification, error) {
	n := &Notification{
		ID:           uuid.NewString(),
		UserID:       user,
		Title:        lit.Title,
		Message:      lit.Message,
		Type:         lit.Type,
		Action:       lit.Action,
		RelatedID:    opts.RelatedID,
		Priority:     lit.Priority,
		ScheduledFor: opts.ScheduledFor,
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if err := d.Store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ShouldDeliver reports whether a notification is ready for the delivery
// channel: no schedule, or the scheduled time has arrived.
func ShouldDeliver(n Notification, now time.Time) bool {
	return n.ScheduledFor == nil || !now.Before(*n.ScheduledFor)
}
