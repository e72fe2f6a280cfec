// Package analytics holds the AnalyticsEventRow shape (spec.md §3) shared
// between C4 (which produces it) and C5 (which encodes and publishes it).
// It is its own package, not nested in internal/events or internal/session,
// because both of those packages need the type without importing each
// other.
package analytics

import "fmt"

// SystemInfo is the client-reported platform tuple, spec.md §3.
type SystemInfo struct {
	OS             string
	Arch           string
	Locale         string
	Timezone       string
	Browser        *string
	BrowserVersion *string
}

// Geo is server-derived location, never client-supplied (spec.md §4.4 rule 4).
type Geo struct {
	Country string
	Region  string
	City    string
}

// EventType is the closed tag set from spec.md §6.
type EventType string

const (
	EventAppStart              EventType = "app.start"
	EventAppExit               EventType = "app.exit"
	EventUserLogin             EventType = "user.login"
	EventUserLogout            EventType = "user.logout"
	EventUserRegister          EventType = "user.register"
	EventChatCreated           EventType = "chat.created"
	EventMessageSent           EventType = "message.sent"
	EventChatJoined            EventType = "chat.joined"
	EventChatLeft              EventType = "chat.left"
	EventNavigation            EventType = "navigation"
	EventFileUploaded          EventType = "file.uploaded"
	EventFileDownloaded        EventType = "file.downloaded"
	EventSearchPerformed       EventType = "search.performed"
	EventNotificationReceived  EventType = "notification.received"
	EventErrorOccurred         EventType = "error.occurred"
	EventBotResponse           EventType = "bot.response"
)

// Payload is the per-event-type union of optional typed fields spec.md §3
// names by example. Only the fields matching Row.EventType should be set;
// ValidatePayloadShape checks that invariant.
type Payload struct {
	MessageChatID        *int64
	MessageSize          *int64
	LoginMethod          *string
	ExitCode             *int64
	BotResponseTokensUsed *int64
}

// ValidatePayloadShape enforces spec.md §3's "event_type matches the
// populated payload subset" invariant: a Row's Payload may only carry the
// fields belonging to its EventType, every other field must be nil.
func ValidatePayloadShape(row Row) error {
	allowed := map[EventType][]string{
		EventMessageSent: {"MessageChatID", "MessageSize"},
		EventUserLogin:   {"LoginMethod"},
		EventAppExit:     {"ExitCode"},
		EventBotResponse: {"BotResponseTokensUsed"},
	}
	set := map[string]bool{}
	if row.Payload.MessageChatID != nil {
		set["MessageChatID"] = true
	}
	if row.Payload.MessageSize != nil {
		set["MessageSize"] = true
	}
	if row.Payload.LoginMethod != nil {
		set["LoginMethod"] = true
	}
	if row.Payload.ExitCode != nil {
		set["ExitCode"] = true
	}
	if row.Payload.BotResponseTokensUsed != nil {
		set["BotResponseTokensUsed"] = true
	}
	permitted := map[string]bool{}
	for _, f := range allowed[row.EventType] {
		permitted[f] = true
	}
	for f := range set {
		if !permitted[f] {
			return fmt.Errorf("analytics: event_type %q does not permit payload field %s", row.EventType, f)
		}
	}
	return nil
}

// Row is the flat denormalized AnalyticsEventRow record (spec.md §3),
// column-oriented for the analytics sink.
type Row struct {
	ClientID   string
	SessionID  string
	DurationMS int64
	AppVersion string
	System     SystemInfo
	UserID     *int64
	IP         *string
	UserAgent  *string
	Geo        *Geo
	ClientTS   int64
	ServerTS   int64
	EventType  EventType
	Payload    Payload
}
