// Package message implements the canonical Message record and its
// lifecycle operations (spec.md §3 Message, §4.3 C3), grounded on
// codeready-toolchain-tarsy's repository-over-pgxpool pattern
// (pkg/database/client.go) generalized from its Kubernetes-resource
// tables to chat messages.
package message

import (
	"errors"
	"time"
)

// Typed error taxonomy, spec.md §4.3 "Failure modes". Handlers translate
// these to HTTP status; PersistenceTransient is retryable by the caller,
// PersistencePermanent is not.
var (
	ErrNotMember            = errors.New("message: sender is not a current chat member")
	ErrNotAuthorized        = errors.New("message: actor is not the sender or a chat admin")
	ErrEmptyContent         = errors.New("message: content and files are both empty")
	ErrChatNotFound         = errors.New("message: chat not found")
	ErrMessageNotFound      = errors.New("message: message not found")
	ErrPersistenceTransient = errors.New("message: transient persistence failure")
	ErrPersistencePermanent = errors.New("message: permanent persistence failure")
)

// File is an ordered blob reference attached to a message.
type File struct {
	URL      string
	Filename string
}

// Message is the canonical record C3 owns (spec.md §3).
type Message struct {
	ID             int64
	ChatID         int64
	SenderID       int64
	Content        string
	Files          []File
	CreatedAt      time.Time // UTC millisecond, server-authoritative
	IdempotencyKey *string
	EditedAt       *time.Time
	EditorID       *int64
	DeletedAt      *time.Time
}

// IsDeleted reports whether the message carries a soft-delete marker.
func (m *Message) IsDeleted() bool { return m.DeletedAt != nil }

// CreateMessage is the inbound payload for send_message.
type CreateMessage struct {
	Content        string
	Files          []File
	IdempotencyKey *string
}

func (c CreateMessage) validate() error {
	if c.Content == "" && len(c.Files) == 0 {
		return ErrEmptyContent
	}
	return nil
}

// ListQuery is the cursor-paginated filter for list_messages.
type ListQuery struct {
	LastID *int64 // exclusive cursor; nil means "from the newest"
	Limit  int
}

const maxListLimit = 100

func (q ListQuery) normalize() ListQuery {
	if q.Limit <= 0 || q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return q
}
