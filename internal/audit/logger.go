package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/config"
)

// Logger is C10's buffered audit sink. It mirrors GatewayAuditLogger from
// audit.rs: an in-memory buffer flushed on size threshold or on a ticking
// interval, with immediate-severity events written to the structured log
// synchronously before they're appended to the buffer at all.
type Logger struct {
	cfg config.AuditConfig
	log zerolog.Logger

	mu     sync.Mutex
	buffer []Event

	excluded []string

	stop chan struct{}
	done chan struct{}
}

// New builds a Logger from config and starts its background flush loop if
// cfg.Enabled. Callers must call Stop to drain the final buffer and end the
// goroutine.
func New(cfg config.AuditConfig, log zerolog.Logger) *Logger {
	l := &Logger{
		cfg:      cfg,
		log:      log.With().Str("subsystem", "audit").Logger(),
		excluded: cfg.ExcludedPaths,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Enabled {
		go l.flushLoop()
	} else {
		close(l.done)
	}
	return l
}

// Log records one event (spec.md §4.10). Events whose path matches an
// excluded prefix are dropped before anything else happens. Immediate
// (Critical/High) events are written to the log synchronously in addition
// to being buffered, so they are never lost to a crash between now and the
// next flush.
func (l *Logger) Log(e *Event) {
	if !l.cfg.Enabled || e == nil {
		return
	}
	for _, p := range l.excluded {
		if strings.HasPrefix(e.Path, p) {
			return
		}
	}

	if l.cfg.ComplianceMode && !e.IsCompliant() {
		l.log.Warn().Str("event_id", e.EventID).Str("event_type", string(e.EventType)).
			Msg("audit: compliance mode enabled but event carries no compliance_tags/retention_days")
	}

	if e.EventType.IsImmediate() {
		l.writeEvent(e)
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, *e)
	full := len(l.buffer) >= l.cfg.BufferSize && l.cfg.BufferSize > 0
	l.mu.Unlock()

	if full {
		l.Flush()
	}
}

// Flush writes and clears every currently buffered event.
func (l *Logger) Flush() {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	for i := range pending {
		l.writeEvent(&pending[i])
	}
}

// writeEvent emits one event at the log level its severity maps to,
// matching audit.rs's write_event: Critical->Error, High/Medium->Warn,
// Low/Info->Info.
func (l *Logger) writeEvent(e *Event) {
	var ev *zerolog.Event
	switch e.Severity {
	case SeverityCritical:
		ev = l.log.Error()
	case SeverityHigh, SeverityMedium:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}

	ev = ev.Str("event_id", e.EventID).
		Str("event_type", string(e.EventType)).
		Str("severity", string(e.Severity)).
		Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path)

	if e.UserID != nil {
		ev = ev.Int64("user_id", *e.UserID)
	}
	if e.WorkspaceID != nil {
		ev = ev.Int64("workspace_id", *e.WorkspaceID)
	}
	if e.ClientIP != "" {
		ev = ev.Str("client_ip", e.ClientIP)
	}
	if e.StatusCode != nil {
		ev = ev.Int("status_code", *e.StatusCode)
	}
	if e.ResponseTimeMS != nil {
		ev = ev.Int64("response_time_ms", *e.ResponseTimeMS)
	}
	for k, v := range e.Details {
		ev = ev.RawJSON(k, v)
	}
	ev.Msg("audit event")
}

// flushLoop ticks at cfg.FlushIntervalSec and drains the buffer on each
// tick, matching GatewayAuditLogger::start_flush_task.
func (l *Logger) flushLoop() {
	defer close(l.done)
	interval := l.cfg.FlushIntervalSec
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Flush()
		case <-l.stop:
			l.Flush()
			return
		}
	}
}

// Stop ends the flush loop after a final drain. Safe to call once.
func (l *Logger) Stop(ctx context.Context) {
	if !l.cfg.Enabled {
		return
	}
	close(l.stop)
	select {
	case <-l.done:
	case <-ctx.Done():
	}
}

// Buffered reports the current in-memory backlog size, for C11 and
// /status reporting.
func (l *Logger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}
