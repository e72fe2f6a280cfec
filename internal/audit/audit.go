// Package audit implements C10, the buffered structured audit stream for
// authn/authz/rate-limit/security and gateway-request events described in
// spec.md §3 and §4.10. It is grounded on the gateway's Pingora-native
// GatewayAuditLogger (original_source/fechatter_gateway/src/proxy/audit.rs):
// the same event-type catalog, severity table, excluded-paths filter, and
// size/interval buffered-flush mechanics, re-expressed with a zerolog sink
// in place of tracing and a background goroutine in place of a tokio task.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity is one of five fixed levels; it is always derived from an
// EventType via Severity() and never set directly by a caller.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// EventType enumerates every audited condition across C9's gateway and the
// pipeline's own components, matching audit.rs's AuditEventType one-to-one
// plus the domain-pipeline additions the Rust gateway never needed
// (cache-invalidation and notification-channel exhaustion alarms).
type EventType string

const (
	EventAuthenticationSuccess EventType = "authentication_success"
	EventAuthenticationFailure EventType = "authentication_failure"
	EventTokenExpired          EventType = "token_expired"
	EventTokenInvalid          EventType = "token_invalid"

	EventAuthorizationSuccess EventType = "authorization_success"
	EventAuthorizationFailure EventType = "authorization_failure"
	EventPermissionDenied     EventType = "permission_denied"

	EventRequestReceived  EventType = "request_received"
	EventRequestCompleted EventType = "request_completed"
	EventRequestFailed    EventType = "request_failed"

	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventRateLimitWarning  EventType = "rate_limit_warning"

	EventCorsViolation EventType = "cors_violation"
	EventCorsSuccess   EventType = "cors_success"

	EventCacheHit      EventType = "cache_hit"
	EventCacheMiss     EventType = "cache_miss"
	EventCacheEviction EventType = "cache_eviction"

	EventSuspiciousActivity EventType = "suspicious_activity"
	EventSecurityViolation  EventType = "security_violation"
	EventUnauthorizedAccess EventType = "unauthorized_access"

	EventGatewayStartup      EventType = "gateway_startup"
	EventGatewayShutdown     EventType = "gateway_shutdown"
	EventConfigurationChange EventType = "configuration_change"

	EventInternalError EventType = "internal_error"
	EventUpstreamError EventType = "upstream_error"
	EventTimeoutError  EventType = "timeout_error"

	// Pipeline-specific additions not present in the gateway-only source.
	EventNotificationChannelsExhausted EventType = "notification_channels_exhausted"
	EventCacheInvalidationExhausted    EventType = "cache_invalidation_exhausted"
)

// severityTable mirrors audit.rs's AuditEventType::severity match exactly;
// anything not listed defaults to Info, same as the Rust `_ => Info` arm.
var severityTable = map[EventType]Severity{
	EventSecurityViolation:  SeverityCritical,
	EventUnauthorizedAccess: SeverityCritical,
	EventSuspiciousActivity: SeverityCritical,

	EventAuthenticationFailure:         SeverityHigh,
	EventAuthorizationFailure:          SeverityHigh,
	EventPermissionDenied:              SeverityHigh,
	EventCorsViolation:                 SeverityHigh,
	EventCacheInvalidationExhausted:    SeverityHigh,
	EventNotificationChannelsExhausted: SeverityHigh,

	EventRateLimitExceeded: SeverityMedium,
	EventTokenExpired:      SeverityMedium,
	EventTokenInvalid:      SeverityMedium,
	EventRequestFailed:     SeverityMedium,
	EventUpstreamError:     SeverityMedium,

	EventRateLimitWarning: SeverityLow,
	EventTimeoutError:     SeverityLow,
	EventInternalError:    SeverityLow,
}

// Severity is the pure function spec.md's AuditEvent invariant names:
// "severity is a pure function of event_type".
func (t EventType) Severity() Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return SeverityInfo
}

// IsImmediate reports whether events of this type bypass buffering and hit
// the structured log sink synchronously (spec.md §4.10: "Immediate-severity
// events are emitted ... before buffering").
func (t EventType) IsImmediate() bool {
	switch t.Severity() {
	case SeverityCritical, SeverityHigh:
		return true
	default:
		return false
	}
}

// Event is spec.md §3's AuditEvent record.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Severity  Severity  `json:"severity"`

	RequestID string  `json:"request_id"`
	SessionID *string `json:"session_id,omitempty"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`

	UserID      *int64 `json:"user_id,omitempty"`
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
	ClientIP    string `json:"client_ip,omitempty"`

	StatusCode     *int   `json:"status_code,omitempty"`
	ResponseTimeMS *int64 `json:"response_time_ms,omitempty"`

	Details map[string]json.RawMessage `json:"details,omitempty"`

	ComplianceTags []string `json:"compliance_tags,omitempty"`
	RetentionDays  *int     `json:"retention_days,omitempty"`
}

// New constructs an Event with event_id and timestamp filled in and
// severity derived from eventType, matching AuditEvent::new.
func New(eventType EventType, requestID string) *Event {
	return &Event{
		EventID:   uuid.Must(uuid.NewV7()).String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  eventType.Severity(),
		RequestID: requestID,
		Details:   make(map[string]json.RawMessage),
	}
}

// WithRequest sets the request-context fields; returns the receiver for
// chaining, matching the Rust builder's with_request.
func (e *Event) WithRequest(method, path string) *Event {
	e.Method = method
	e.Path = path
	return e
}

// WithUser sets the user/workspace context.
func (e *Event) WithUser(userID, workspaceID int64) *Event {
	e.UserID = &userID
	e.WorkspaceID = &workspaceID
	return e
}

// WithNetwork sets client-network context.
func (e *Event) WithNetwork(clientIP string) *Event {
	e.ClientIP = clientIP
	return e
}

// WithResponse sets response-context fields.
func (e *Event) WithResponse(status int, d time.Duration) *Event {
	e.StatusCode = &status
	ms := d.Milliseconds()
	e.ResponseTimeMS = &ms
	return e
}

// WithDetail attaches one JSON-marshalable detail under key. Marshal
// failures are dropped silently, matching the Rust with_detail's
// if-let-Ok-only insert.
func (e *Event) WithDetail(key string, value any) *Event {
	raw, err := json.Marshal(value)
	if err != nil {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]json.RawMessage)
	}
	e.Details[key] = raw
	return e
}

// WithCompliance tags the event for retention/compliance reporting.
func (e *Event) WithCompliance(tags []string, retentionDays *int) *Event {
	e.ComplianceTags = tags
	e.RetentionDays = retentionDays
	return e
}

// IsCompliant mirrors spec.md §3's AuditEvent invariant: "compliant iff
// compliance_tags non-empty and retention_days set".
func (e *Event) IsCompliant() bool {
	return len(e.ComplianceTags) > 0 && e.RetentionDays != nil
}
