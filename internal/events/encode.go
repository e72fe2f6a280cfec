package events

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Kevinzh0C/fechatter-core/internal/analytics"
)

// EncodeDomainEvent / EncodeRealtimeStreamEvent use plain JSON: both are
// read by Go-side consumers only in this repo (C6/C7/C8), so there is no
// cross-language wire-format requirement forcing a binary schema, and
// JSON keeps the D/R consumer code simple to grep and log.
func EncodeDomainEvent(e DomainEvent) ([]byte, error) { return json.Marshal(e) }

func DecodeDomainEvent(data []byte) (DomainEvent, error) {
	var e DomainEvent
	err := json.Unmarshal(data, &e)
	return e, err
}

func EncodeRealtimeStreamEvent(e RealtimeStreamEvent) ([]byte, error) { return json.Marshal(e) }

func DecodeRealtimeStreamEvent(data []byte) (RealtimeStreamEvent, error) {
	var e RealtimeStreamEvent
	err := json.Unmarshal(data, &e)
	return e, err
}

// Analytics rows use a hand-written protobuf wire encoding (spec.md §6:
// "a protocol-buffer-encoded schema"). Rather than generate code from a
// .proto file (no protoc invocation is available in this environment),
// field numbers below form the schema directly and are encoded with
// google.golang.org/protobuf/encoding/protowire, which the NATS/JetStream
// stack already pulls in transitively.
const (
	fieldClientID   = 1
	fieldSessionID  = 2
	fieldDurationMS = 3
	fieldAppVersion = 4
	fieldOS         = 5
	fieldArch       = 6
	fieldLocale     = 7
	fieldTimezone   = 8
	fieldUserID     = 9
	fieldIP         = 10
	fieldUserAgent  = 11
	fieldCountry    = 12
	fieldRegion     = 13
	fieldCity       = 14
	fieldClientTS   = 15
	fieldServerTS   = 16
	fieldEventType  = 17
	fieldBrowser               = 18
	fieldBrowserVersion        = 19
	fieldMessageChatID         = 20
	fieldMessageSize           = 21
	fieldLoginMethod           = 22
	fieldExitCode              = 23
	fieldBotResponseTokensUsed = 24
)

func ensureGeo(row *analytics.Row) *analytics.Geo {
	if row.Geo == nil {
		row.Geo = &analytics.Geo{}
	}
	return row.Geo
}

// EncodeAnalyticsRow serializes the column-oriented AnalyticsEventRow into
// protobuf wire format. Optional fields are simply omitted when absent,
// the standard proto3 convention.
func EncodeAnalyticsRow(row analytics.Row) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldClientID, protowire.BytesType)
	b = protowire.AppendString(b, row.ClientID)
	b = protowire.AppendTag(b, fieldSessionID, protowire.BytesType)
	b = protowire.AppendString(b, row.SessionID)
	b = protowire.AppendTag(b, fieldDurationMS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(row.DurationMS))
	b = protowire.AppendTag(b, fieldAppVersion, protowire.BytesType)
	b = protowire.AppendString(b, row.AppVersion)
	b = protowire.AppendTag(b, fieldOS, protowire.BytesType)
	b = protowire.AppendString(b, row.System.OS)
	b = protowire.AppendTag(b, fieldArch, protowire.BytesType)
	b = protowire.AppendString(b, row.System.Arch)
	b = protowire.AppendTag(b, fieldLocale, protowire.BytesType)
	b = protowire.AppendString(b, row.System.Locale)
	b = protowire.AppendTag(b, fieldTimezone, protowire.BytesType)
	b = protowire.AppendString(b, row.System.Timezone)

	if row.UserID != nil {
		b = protowire.AppendTag(b, fieldUserID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*row.UserID))
	}
	if row.IP != nil {
		b = protowire.AppendTag(b, fieldIP, protowire.BytesType)
		b = protowire.AppendString(b, *row.IP)
	}
	if row.UserAgent != nil {
		b = protowire.AppendTag(b, fieldUserAgent, protowire.BytesType)
		b = protowire.AppendString(b, *row.UserAgent)
	}
	if row.Geo != nil {
		b = protowire.AppendTag(b, fieldCountry, protowire.BytesType)
		b = protowire.AppendString(b, row.Geo.Country)
		b = protowire.AppendTag(b, fieldRegion, protowire.BytesType)
		b = protowire.AppendString(b, row.Geo.Region)
		b = protowire.AppendTag(b, fieldCity, protowire.BytesType)
		b = protowire.AppendString(b, row.Geo.City)
	}
	if row.System.Browser != nil {
		b = protowire.AppendTag(b, fieldBrowser, protowire.BytesType)
		b = protowire.AppendString(b, *row.System.Browser)
	}
	if row.System.BrowserVersion != nil {
		b = protowire.AppendTag(b, fieldBrowserVersion, protowire.BytesType)
		b = protowire.AppendString(b, *row.System.BrowserVersion)
	}
	if row.Payload.MessageChatID != nil {
		b = protowire.AppendTag(b, fieldMessageChatID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*row.Payload.MessageChatID))
	}
	if row.Payload.MessageSize != nil {
		b = protowire.AppendTag(b, fieldMessageSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*row.Payload.MessageSize))
	}
	if row.Payload.LoginMethod != nil {
		b = protowire.AppendTag(b, fieldLoginMethod, protowire.BytesType)
		b = protowire.AppendString(b, *row.Payload.LoginMethod)
	}
	if row.Payload.ExitCode != nil {
		b = protowire.AppendTag(b, fieldExitCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*row.Payload.ExitCode))
	}
	if row.Payload.BotResponseTokensUsed != nil {
		b = protowire.AppendTag(b, fieldBotResponseTokensUsed, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*row.Payload.BotResponseTokensUsed))
	}

	b = protowire.AppendTag(b, fieldClientTS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(row.ClientTS))
	b = protowire.AppendTag(b, fieldServerTS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(row.ServerTS))
	b = protowire.AppendTag(b, fieldEventType, protowire.BytesType)
	b = protowire.AppendString(b, string(row.EventType))

	return b
}

// DecodeAnalyticsRow parses the wire format EncodeAnalyticsRow produces.
// Used by tests.
func DecodeAnalyticsRow(data []byte) (analytics.Row, error) {
	var row analytics.Row
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return row, protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return row, protowire.ParseError(n)
			}
			data = data[n:]
			s := string(v)
			switch num {
			case fieldClientID:
				row.ClientID = s
			case fieldSessionID:
				row.SessionID = s
			case fieldAppVersion:
				row.AppVersion = s
			case fieldOS:
				row.System.OS = s
			case fieldArch:
				row.System.Arch = s
			case fieldLocale:
				row.System.Locale = s
			case fieldTimezone:
				row.System.Timezone = s
			case fieldIP:
				row.IP = &s
			case fieldUserAgent:
				row.UserAgent = &s
			case fieldCountry:
				ensureGeo(&row).Country = s
			case fieldRegion:
				ensureGeo(&row).Region = s
			case fieldCity:
				ensureGeo(&row).City = s
			case fieldEventType:
				row.EventType = analytics.EventType(s)
			case fieldBrowser:
				row.System.Browser = &s
			case fieldBrowserVersion:
				row.System.BrowserVersion = &s
			case fieldLoginMethod:
				row.Payload.LoginMethod = &s
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return row, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldDurationMS:
				row.DurationMS = int64(v)
			case fieldUserID:
				uid := int64(v)
				row.UserID = &uid
			case fieldClientTS:
				row.ClientTS = int64(v)
			case fieldServerTS:
				row.ServerTS = int64(v)
			case fieldMessageChatID:
				id := int64(v)
				row.Payload.MessageChatID = &id
			case fieldMessageSize:
				sz := int64(v)
				row.Payload.MessageSize = &sz
			case fieldExitCode:
				code := int64(v)
				row.Payload.ExitCode = &code
			case fieldBotResponseTokensUsed:
				tok := int64(v)
				row.Payload.BotResponseTokensUsed = &tok
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return row, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return row, nil
}
