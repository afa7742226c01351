/*
template.go - Notification template rendering

Simple key -> literal substitution. No expression evaluation, no
recursion. Unresolved {placeholders} are left verbatim so rendering is
deterministic regardless of what context the caller provides.
*/
package ledger

import "strings"

// Rendered is the outcome of applying a context to a template.
type Rendered struct {
	Title   string
	Message string
	Type    string
	Action  string
}

// Render substitutes every {key} in the template's title and message with
// the context value. Keys missing from the context stay as literal text.
func (t NotificationTemplate) Render(context map[string]string) Rendered {
	title := t.TitleTemplate
	message := t.MessageTemplate
	for key, value := range context {
		placeholder := "{" + key + "}"
		title = strings.ReplaceAll(title, placeholder, value)
		message = strings.ReplaceAll(message, placeholder, value)
	}
	return Rendered{
		Title:   title,
		Message: message,
		Type:    t.Type,
		Action:  t.Action,
	}
}
