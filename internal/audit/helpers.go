package audit

// GatewayEmitter adapts Logger to the gateway.AuditEmitter function shape
// (func(kind, detail, remoteAddr string)) without the audit package
// importing internal/gateway — the two packages share only this function
// signature, not a type.
func (l *Logger) GatewayEmitter() func(kind, detail, remoteAddr string) {
	return func(kind, detail, remoteAddr string) {
		l.Log(gatewayEvent(kind, detail, remoteAddr))
	}
}

// gatewayEvent maps the kind strings C9's middleware and proxy engine emit
// onto audit event types with their compliance defaults, mirroring
// audit.rs's log_auth_failure/log_auth_denied/log_cors_violation/
// log_rate_limit_exceeded/log_request_completed helpers.
func gatewayEvent(kind, detail, remoteAddr string) *Event {
	switch kind {
	case "cors_violation":
		return New(EventCorsViolation, "").
			WithNetwork(remoteAddr).
			WithDetail("blocked_origin", detail).
			WithCompliance([]string{"CORS", "SECURITY"}, intPtr(90))
	case "auth_failure":
		return New(EventAuthenticationFailure, "").
			WithNetwork(remoteAddr).
			WithDetail("reason", detail).
			WithCompliance([]string{"AUTH", "SECURITY"}, intPtr(90))
	case "rate_limit_breach":
		return New(EventRateLimitExceeded, "").
			WithNetwork(remoteAddr).
			WithDetail("rate_limit_key", detail).
			WithCompliance([]string{"RATE_LIMIT"}, intPtr(30))
	case "gateway_request":
		return New(EventRequestCompleted, "").
			WithNetwork(remoteAddr).
			WithDetail("summary", detail)
	default:
		return New(EventInternalError, "").
			WithNetwork(remoteAddr).
			WithDetail("kind", kind).
			WithDetail("detail", detail)
	}
}

func intPtr(v int) *int { return &v }

// NotificationAlarm records a notification whose every channel failed.
// cmd/notifier calls it from notify.Dispatcher's OnAllChannelsFailed hook
// with the user id, notification type and number of channels attempted;
// taking plain values keeps this package from importing internal/notify.
func (l *Logger) NotificationAlarm(userID int64, notifType string, channelCount int) {
	l.Log(New(EventNotificationChannelsExhausted, "").
		WithUser(userID, 0).
		WithDetail("notification_type", notifType).
		WithDetail("channels_attempted", channelCount).
		WithCompliance([]string{"NOTIFICATION"}, intPtr(30)))
}

// CacheInvalidationAlarm adapts Logger to cacheinval.Subscriber's AlarmFunc
// shape (func(reason string)).
func (l *Logger) CacheInvalidationAlarm(reason string) {
	l.Log(New(EventCacheInvalidationExhausted, "").
		WithDetail("reason", reason).
		WithCompliance([]string{"CACHE"}, intPtr(30)))
}
