package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/analytics"
)

func TestAnalyticsRowRoundTrip(t *testing.T) {
	uid := int64(42)
	ip := "203.0.113.5"
	row := analytics.Row{
		ClientID:   "C1",
		SessionID:  "S1",
		DurationMS: 60000,
		AppVersion: "1.2.3",
		System:     analytics.SystemInfo{OS: "linux", Arch: "amd64", Locale: "en-US", Timezone: "UTC"},
		UserID:     &uid,
		IP:         &ip,
		Geo:        &analytics.Geo{Country: "US", Region: "CA", City: "SF"},
		ClientTS:   1000,
		ServerTS:   1005,
		EventType:  analytics.EventMessageSent,
	}

	encoded := EncodeAnalyticsRow(row)
	decoded, err := DecodeAnalyticsRow(encoded)
	require.NoError(t, err)

	assert.Equal(t, row.ClientID, decoded.ClientID)
	assert.Equal(t, row.SessionID, decoded.SessionID)
	assert.Equal(t, row.DurationMS, decoded.DurationMS)
	assert.Equal(t, row.AppVersion, decoded.AppVersion)
	assert.Equal(t, row.System, decoded.System)
	require.NotNil(t, decoded.UserID)
	assert.Equal(t, *row.UserID, *decoded.UserID)
	require.NotNil(t, decoded.IP)
	assert.Equal(t, *row.IP, *decoded.IP)
	require.NotNil(t, decoded.Geo)
	assert.Equal(t, *row.Geo, *decoded.Geo)
	assert.Equal(t, row.EventType, decoded.EventType)
}

func TestAnalyticsRowPayloadAndBrowserRoundTrip(t *testing.T) {
	browser := "Chrome"
	browserVersion := "120.0"
	chatID := int64(9)
	size := int64(256)
	row := analytics.Row{
		ClientID:   "C3",
		SessionID:  "S3",
		AppVersion: "1.2.3",
		System: analytics.SystemInfo{
			OS: "macos", Arch: "arm64", Locale: "en-US", Timezone: "UTC",
			Browser: &browser, BrowserVersion: &browserVersion,
		},
		ClientTS:  10,
		ServerTS:  11,
		EventType: analytics.EventMessageSent,
		Payload:   analytics.Payload{MessageChatID: &chatID, MessageSize: &size},
	}

	decoded, err := DecodeAnalyticsRow(EncodeAnalyticsRow(row))
	require.NoError(t, err)

	require.NotNil(t, decoded.System.Browser)
	assert.Equal(t, browser, *decoded.System.Browser)
	require.NotNil(t, decoded.System.BrowserVersion)
	assert.Equal(t, browserVersion, *decoded.System.BrowserVersion)
	require.NotNil(t, decoded.Payload.MessageChatID)
	assert.Equal(t, chatID, *decoded.Payload.MessageChatID)
	require.NotNil(t, decoded.Payload.MessageSize)
	assert.Equal(t, size, *decoded.Payload.MessageSize)
}

func TestAnalyticsRowOptionalFieldsOmitted(t *testing.T) {
	row := analytics.Row{
		ClientID:   "C2",
		SessionID:  "S2",
		AppVersion: "1.0.0",
		ClientTS:   1,
		ServerTS:   2,
		EventType:  analytics.EventAppStart,
	}
	decoded, err := DecodeAnalyticsRow(EncodeAnalyticsRow(row))
	require.NoError(t, err)
	assert.Nil(t, decoded.UserID)
	assert.Nil(t, decoded.IP)
	assert.Nil(t, decoded.Geo)
}

func TestDomainEventJSONRoundTrip(t *testing.T) {
	evt := DomainEvent{
		Kind: DomainMessage,
		Message: &MessagePayload{
			MessageID: 7,
			ChatID:    3,
			Operation: "created",
			Members:   []int64{1, 2, 3},
		},
	}
	data, err := EncodeDomainEvent(evt)
	require.NoError(t, err)

	decoded, err := DecodeDomainEvent(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Message)
	assert.Equal(t, int64(7), decoded.Message.MessageID)
	assert.Equal(t, "created", decoded.Message.Operation)
}

func TestDomainEventChatAndUserVariantsRoundTrip(t *testing.T) {
	chatEvt := DomainEvent{Kind: DomainChat, Chat: &ChatPayload{ChatID: 5, UserID: 2, Operation: "member_added"}}
	data, err := EncodeDomainEvent(chatEvt)
	require.NoError(t, err)
	decoded, err := DecodeDomainEvent(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Chat)
	assert.Equal(t, int64(5), decoded.Chat.ChatID)
	assert.Equal(t, int64(2), decoded.Chat.UserID)
	assert.Equal(t, "member_added", decoded.Chat.Operation)

	userEvt := DomainEvent{Kind: DomainUser, User: &UserPayload{UserID: 11}}
	data, err = EncodeDomainEvent(userEvt)
	require.NoError(t, err)
	decoded, err = DecodeDomainEvent(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.User)
	assert.Equal(t, int64(11), decoded.User.UserID)
}
