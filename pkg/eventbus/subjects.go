package eventbus

import "fmt"

// Subjects builds the exact subject strings named in spec.md §6, the same
// pattern go-server/pkg/nats/client.go uses for Odin's token/trade
// subjects (Subjects{} value type + fmt.Sprintf builders).
type Subjects struct{}

// Realtime (R) channel subjects — core, best-effort.
func (Subjects) RealtimeChat(chatID int64) string     { return fmt.Sprintf("fechatter.realtime.chat.%d", chatID) }
func (Subjects) RealtimeTyping(chatID int64) string    { return fmt.Sprintf("fechatter.realtime.typing.%d", chatID) }
func (Subjects) RealtimePresence(userID int64) string  { return fmt.Sprintf("fechatter.realtime.presence.%d", userID) }
func (Subjects) RealtimeDelivery(chatID int64) string  { return fmt.Sprintf("fechatter.realtime.delivery.%d", chatID) }

// Domain (D) channel subjects — persistent, ack-awaited.
const (
	DomainStreamName    = "FECHATTER_DOMAIN_EVENTS"
	DomainSubjectMessage = "FECHATTER_DOMAIN_EVENTS.message"
	DomainSubjectChat    = "FECHATTER_DOMAIN_EVENTS.chat"
	DomainSubjectUser    = "FECHATTER_DOMAIN_EVENTS.user"
	DomainSubjectSystem  = "FECHATTER_DOMAIN_EVENTS.system"
)

// Analytics (A) channel subjects — persistent, batched.
func (Subjects) Analytics(eventType string) string { return fmt.Sprintf("fechatter.analytics.%s", eventType) }

const AnalyticsStreamName = "ANALYTICS"
const AnalyticsSubjectWildcard = "fechatter.analytics.>"

// Legacy compatibility subjects (spec.md §6), kept for consumers that have
// not migrated onto the D-stream.
const (
	LegacyMessagesCreated    = "fechatter.messages.created"
	LegacyMessagesUpdated    = "fechatter.messages.updated"
	LegacyMessagesDeleted    = "fechatter.messages.deleted"
	LegacyChatMemberJoined   = "fechatter.chats.member.joined"
	LegacyChatMemberLeft     = "fechatter.chats.member.left"
	LegacyMessagesDuplicate  = "fechatter.messages.duplicate"
	LegacySearchIndex        = "fechatter.search.index"
)

// AnalyticsEventTypes enumerates the closed tag set from spec.md §6.
var AnalyticsEventTypes = []string{
	"app.start", "app.exit", "user.login", "user.logout", "user.register",
	"chat.created", "message.sent", "chat.joined", "chat.left", "navigation",
	"file.uploaded", "file.downloaded", "search.performed",
	"notification.received", "error.occurred", "bot.response",
}

// DomainConsumerConfig is the durable consumer policy spec.md §4.1 fixes
// for D-stream subscribers.
func DomainConsumerConfig(durableName string) ConsumerConfig {
	return ConsumerConfig{
		DurableName: durableName,
		AckExplicit: true,
		MaxDeliver:  3,
		AckWait:     30_000_000_000, // 30s, expressed in ns to avoid importing time here twice
	}
}
