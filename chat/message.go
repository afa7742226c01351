/*
Package chat provides direct messaging between youth and health workers.

Messages follow the same read-state discipline as notifications: the
unread -> read transition happens exactly once, stamping read_at; marking
an already-read message again is a no-op.
*/
package chat

import (
	"context"
	"time"

	"github.com/vsla/health-engine/ledger"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVoice MessageType = "voice"
)

// Message is a single sender -> receiver message.
type Message struct {
	ID          string
	SenderID    ledger.UserID
	ReceiverID  ledger.UserID
	Body        string
	Type        MessageType
	IsDelivered bool
	IsRead      bool
	ReadAt      *time.Time
	ReplyToID   string
	CreatedAt   time.Time
}

// Store is the persistence contract for messaging. Implemented by the
// sqlite store alongside the ledger tables.
type Store interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)

	// Conversation returns the messages between two users, oldest first.
	Conversation(ctx context.Context, a, b ledger.UserID) ([]Message, error)

	// MarkMessageRead flips is_read and stamps read_at exactly once.
	// Returns false without writing if already read.
	MarkMessageRead(ctx context.Context, id string, at time.Time) (bool, error)

	MarkMessageDelivered(ctx context.Context, id string) error
}

// Validate checks a message before it is written.
func (m *Message) Validate() error {
	if m.SenderID == "" || m.ReceiverID == "" {
		return ledger.Validationf("message", "sender and receiver are required")
	}
	if m.SenderID == m.ReceiverID {
		return ledger.Validationf("receiver", "cannot message yourself")
	}
	if m.Body == "" {
		return ledger.Validationf("body", "required")
	}
	if m.Type == "" {
		m.Type = MessageText
	}
	return nil
}
