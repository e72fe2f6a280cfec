// Package session implements C4's per-client_id session assignment and
// event enrichment (spec.md §4.4). The map-of-mutex-guarded-entries shape
// is grounded on go-server/pkg/websocket/hub.go's seenNonces map (a
// single RWMutex-guarded map with a periodic cleanup ticker), generalized
// from dedup-nonce bookkeeping to session continuation bookkeeping.
package session

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/analytics"
)

const inactivityExpiry = 10 * time.Minute

// RawEvent is the untrusted, client-submitted analytics payload before
// enrichment.
type RawEvent struct {
	ClientID   string
	AppVersion string
	System     analytics.SystemInfo
	ClientTS   int64
	EventType  analytics.EventType
	Payload    analytics.Payload

	// ClientSuppliedUserID and ClientSuppliedIP are recorded only so
	// enrichment can explicitly discard them (spec.md §4.4 rules 2-3);
	// they must never reach the emitted Row.
	ClientSuppliedUserID *int64
	ClientSuppliedIP     *string
}

// Principal is the authenticated identity attached to the request
// context, if any (spec.md §4.4 rule 2).
type Principal struct {
	UserID int64
}

type entry struct {
	sessionID string
	lastTS    int64
}

// Map is the process-local SessionState store, keyed by client_id
// (spec.md §3 SessionState). Entries do not survive a process restart —
// an accepted loss per spec.md, since sessions are best-effort.
type Map struct {
	mu   sync.Mutex
	data map[string]*entry
	log  zerolog.Logger
}

func NewMap(log zerolog.Logger) *Map {
	return &Map{data: make(map[string]*entry), log: log}
}

// resolve performs rule 6 atomically for a single client_id.
func (m *Map) resolve(clientID string, serverTS int64) (sessionID string, duration int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[clientID]
	if !ok {
		sid := uuid.Must(uuid.NewV7()).String()
		m.data[clientID] = &entry{sessionID: sid, lastTS: serverTS}
		return sid, 0
	}

	duration = serverTS - e.lastTS
	if duration < 0 {
		m.log.Warn().Str("client_id", clientID).Int64("duration_ms", duration).
			Msg("session: negative computed duration, treating as 0")
		duration = 0
	}

	if duration < inactivityExpiry.Milliseconds() {
		e.lastTS = serverTS
		return e.sessionID, duration
	}

	sid := uuid.Must(uuid.NewV7()).String()
	e.sessionID = sid
	e.lastTS = serverTS
	return sid, 0
}

// Sweep evicts entries idle past the inactivity window, keeping the map
// from growing unboundedly across long-lived processes. It has no
// correctness role (resolve always re-derives a fresh session once an
// entry goes stale) and exists purely to bound memory, the same role
// go-server/pkg/websocket/hub.go's cleanup ticker plays for seenNonces.
func (m *Map) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-inactivityExpiry).UnixMilli()
	evicted := 0
	for id, e := range m.data {
		if e.lastTS < cutoff {
			delete(m.data, id)
			evicted++
		}
	}
	return evicted
}

// Enricher turns a RawEvent plus request context into a trustworthy
// analytics.Row, applying spec.md §4.4's seven ordered rules.
type Enricher struct {
	sessions *Map
	log      zerolog.Logger
	// GeoLookup resolves a server-derived geo for an IP, or nil if
	// unavailable. No concrete implementation is wired: spec.md leaves
	// the geo source external, and the rule is simply "use it if present,
	// else clear" either way.
	GeoLookup func(ip string) *analytics.Geo
}

func NewEnricher(sessions *Map, log zerolog.Logger) *Enricher {
	return &Enricher{sessions: sessions, log: log}
}

// ValidationError reports a required-field failure (rule 1/7), distinct
// from the warn-only anomalies rule 7 also names.
type ValidationError struct{ Field string }

func (e *ValidationError) Error() string { return "session: required field empty: " + e.Field }

// Enrich applies rules 1-7 in order.
func (en *Enricher) Enrich(req *http.Request, principal *Principal, raw RawEvent) (*analytics.Row, error) {
	// Rule 1: context consumption + required-field rejection.
	if raw.ClientID == "" {
		return nil, &ValidationError{Field: "client_id"}
	}
	if raw.AppVersion == "" {
		return nil, &ValidationError{Field: "app_version"}
	}

	row := &analytics.Row{
		ClientID:   raw.ClientID,
		AppVersion: raw.AppVersion,
		System:     raw.System,
		ClientTS:   raw.ClientTS,
		EventType:  raw.EventType,
		Payload:    raw.Payload,
	}

	// Rule 2: user identity, server-controlled only.
	if principal != nil {
		uid := principal.UserID
		row.UserID = &uid
	}

	// Rule 3: IP extraction from trusted proxy headers only.
	if req != nil {
		if ip := firstForwardedFor(req); ip != "" {
			row.IP = &ip
		} else if ip := req.Header.Get("X-Real-IP"); ip != "" {
			row.IP = &ip
		}
		if ua := req.Header.Get("User-Agent"); ua != "" {
			row.UserAgent = &ua
		}
	}

	// Rule 4: server-derived geo only.
	if row.IP != nil && en.GeoLookup != nil {
		row.Geo = en.GeoLookup(*row.IP)
	}

	// Rule 5: server timestamp, always authoritative.
	row.ServerTS = time.Now().UTC().UnixMilli()

	// Rule 6: session continuation.
	sessionID, duration := en.sessions.resolve(raw.ClientID, row.ServerTS)
	row.SessionID = sessionID
	row.DurationMS = duration

	// Rule 7: validation + warn-only anomaly.
	if row.ClientTS <= 0 {
		return nil, &ValidationError{Field: "client_ts"}
	}
	if row.ServerTS <= 0 {
		return nil, &ValidationError{Field: "server_ts"}
	}
	skew := row.ServerTS - row.ClientTS
	if skew < 0 {
		skew = -skew
	}
	if skew > 24*time.Hour.Milliseconds() {
		en.log.Warn().Str("client_id", raw.ClientID).Int64("skew_ms", skew).
			Msg("session: client/server timestamp skew exceeds 24h")
	}
	if err := analytics.ValidatePayloadShape(*row); err != nil {
		en.log.Warn().Str("client_id", raw.ClientID).Err(err).
			Msg("session: payload fields do not match event_type")
	}

	return row, nil
}

func firstForwardedFor(req *http.Request) string {
	xff := req.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first := strings.SplitN(xff, ",", 2)[0]
	return strings.TrimSpace(first)
}
