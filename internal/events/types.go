// Package events implements C5, the three-channel event dispatcher
// (spec.md §4.5): it turns a committed message.Outcome into
// RealtimeStreamEvent (R) and DomainEvent (D) payloads and publishes them
// over pkg/eventbus in the order spec.md §4.5 fixes. It also holds the
// AnalyticsEventRow (A) wire codec; no analytics row is produced from an
// Outcome. Grounded on
// original_source/fechatter_server/src/services/infrastructure/flows/events.rs
// and realtime_stream.rs for the event shapes and publish ordering.
package events

import (
	"time"

	"github.com/Kevinzh0C/fechatter-core/internal/analytics"
)

// DomainEventKind discriminates DomainEvent's tagged-variant payload.
type DomainEventKind string

const (
	DomainMessage DomainEventKind = "message"
	DomainChat    DomainEventKind = "chat"
	DomainUser    DomainEventKind = "user"
	DomainSystem  DomainEventKind = "system"
)

// MessagePayload is DomainEvent's Message sub-variant, carrying full
// business context (spec.md §3 DomainEvent).
type MessagePayload struct {
	MessageID       int64
	ChatID          int64
	WorkspaceID     int64
	SenderID        int64
	SenderName      string
	ChatName        string
	MessageType     string
	Content         string
	Members         []int64
	Mentions        []int64
	Operation       string // "created", "edited", "deleted"
	CreatedAt       time.Time
}

// ChatPayload is DomainEvent's Chat sub-variant, carrying chat-membership
// triggers (spec.md §4.6's ChatMemberAdded/ChatMemberRemoved).
type ChatPayload struct {
	ChatID    int64
	UserID    int64
	Operation string // "member_added", "member_removed"
}

// UserPayload is DomainEvent's User sub-variant, carrying profile-mutation
// triggers (spec.md §4.6's UserProfileUpdated).
type UserPayload struct {
	UserID int64
}

// SystemKind discriminates DomainEvent's System sub-variant.
type SystemKind string

const (
	SystemSearchIndexUpdateRequired SystemKind = "SearchIndexUpdateRequired"
	SystemCacheInvalidationRequired SystemKind = "CacheInvalidationRequired"
	SystemAnalyticsEventGenerated   SystemKind = "AnalyticsEventGenerated"
)

// SystemPayload carries the three internal-signal sub-variants spec.md §3
// names.
type SystemPayload struct {
	Kind SystemKind

	// SearchIndexUpdateRequired
	EntityType string
	EntityID   int64
	Operation  string

	// CacheInvalidationRequired
	Keys   []string
	Reason string

	// AnalyticsEventGenerated
	Analytics *analytics.Row
}

// DomainEvent is the D-channel's tagged variant (spec.md §3).
type DomainEvent struct {
	Kind    DomainEventKind
	Message *MessagePayload
	Chat    *ChatPayload
	User    *UserPayload
	System  *SystemPayload
	Sig     *string
}

// RealtimeEventKind discriminates RealtimeStreamEvent's tagged variant.
type RealtimeEventKind string

const (
	RealtimeMessageReceived     RealtimeEventKind = "MessageReceived"
	RealtimeMessageRead         RealtimeEventKind = "MessageRead"
	RealtimeMessageUnread       RealtimeEventKind = "MessageUnread"
	RealtimeTypingStarted       RealtimeEventKind = "TypingStarted"
	RealtimeTypingStopped       RealtimeEventKind = "TypingStopped"
	RealtimeUserPresenceChanged RealtimeEventKind = "UserPresenceChanged"
	RealtimeMessageDelivered    RealtimeEventKind = "MessageDelivered"
)

// RealtimeStreamEvent is the R-channel's tagged variant (spec.md §3).
// MessageContent carries the full committed message content: spec.md §9
// Open Question leaves preview-vs-full unresolved and the original emits
// full content, so MessageReceived does too.
type RealtimeStreamEvent struct {
	Kind           RealtimeEventKind
	ChatID         int64
	UserID         int64
	MessageID      int64
	MessageContent string
	SenderID       int64
	Recipients     []int64
	Sig            *string
}
