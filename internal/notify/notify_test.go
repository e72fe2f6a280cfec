package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/config"
	"github.com/Kevinzh0C/fechatter-core/pkg/wshub"
)

type stubChannel struct {
	name Channel
	err  error
	sent []Notification
}

func (s *stubChannel) Name() Channel { return s.name }
func (s *stubChannel) Send(ctx context.Context, n Notification) error {
	s.sent = append(s.sent, n)
	return s.err
}

func TestRouteForMentionAndDirectMessage(t *testing.T) {
	channels, priority := RouteFor(TypeMention)
	assert.ElementsMatch(t, []Channel{ChannelRealtime, ChannelPersistent}, channels)
	assert.Equal(t, PriorityMedium, priority)

	channels, priority = RouteFor(TypeDirectMessage)
	assert.ElementsMatch(t, []Channel{ChannelRealtime, ChannelPersistent}, channels)
	assert.Equal(t, PriorityMedium, priority)
}

func TestRouteForChatInviteIncludesEmailAtHighPriority(t *testing.T) {
	channels, priority := RouteFor(TypeChatInvite)
	assert.ElementsMatch(t, []Channel{ChannelRealtime, ChannelPersistent, ChannelEmail}, channels)
	assert.Equal(t, PriorityHigh, priority)
}

func TestSendViaMultipleChannelsContinuesPastFailure(t *testing.T) {
	realtime := &stubChannel{name: ChannelRealtime}
	persistent := &stubChannel{name: ChannelPersistent, err: errors.New("db down")}
	d := NewDispatcher(realtime, persistent)

	results := d.SendViaMultipleChannels(context.Background(), Notification{UserID: 1}, []Channel{ChannelRealtime, ChannelPersistent})

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Len(t, realtime.sent, 1)
	assert.Len(t, persistent.sent, 1)
}

func TestAllChannelsFailingFiresAlarm(t *testing.T) {
	realtime := &stubChannel{name: ChannelRealtime, err: errors.New("down")}
	persistent := &stubChannel{name: ChannelPersistent, err: errors.New("down")}
	d := NewDispatcher(realtime, persistent)

	var alarmed bool
	d.OnAllChannelsFailed = func(n Notification, results []Result) { alarmed = true }

	d.SendViaMultipleChannels(context.Background(), Notification{UserID: 1}, []Channel{ChannelRealtime, ChannelPersistent})
	assert.True(t, alarmed)
}

func TestAtLeastOneSuccessDoesNotFireAlarm(t *testing.T) {
	realtime := &stubChannel{name: ChannelRealtime}
	persistent := &stubChannel{name: ChannelPersistent, err: errors.New("down")}
	d := NewDispatcher(realtime, persistent)

	var alarmed bool
	d.OnAllChannelsFailed = func(n Notification, results []Result) { alarmed = true }

	d.SendViaMultipleChannels(context.Background(), Notification{UserID: 1}, []Channel{ChannelRealtime, ChannelPersistent})
	assert.False(t, alarmed)
}

func TestNotifyRoutesByTypeThroughDispatcher(t *testing.T) {
	realtime := &stubChannel{name: ChannelRealtime}
	persistent := &stubChannel{name: ChannelPersistent}
	email := &stubChannel{name: ChannelEmail}
	d := NewDispatcher(realtime, persistent, email)

	results := d.Notify(context.Background(), Notification{UserID: 2, Type: TypeChatInvite})
	assert.Len(t, results, 3)
	assert.Len(t, email.sent, 1)
}

func TestRealtimeChannelNonFatalWhenUserOffline(t *testing.T) {
	hub := wshub.NewHub(zerolog.Nop())
	ch := NewRealtimeChannel(hub, zerolog.Nop())

	err := ch.Send(context.Background(), Notification{UserID: 404, Title: "hi"})
	assert.NoError(t, err)
}

type fakeDirectory struct{}

func (fakeDirectory) UserContact(ctx context.Context, userID int64) (string, string, error) {
	return "Alice", "alice@example.com", nil
}

func TestEmailChannelDisabledSkipsWithoutError(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{Enabled: false}, fakeDirectory{}, "https://app.test", zerolog.Nop())
	err := ch.Send(context.Background(), Notification{UserID: 1, Title: "Invite", Message: "join us"})
	assert.NoError(t, err)
}

func TestEmailChannelRetriesRetryableErrorsThenFails(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{
		Enabled: true, SMTPHost: "smtp.test", SMTPPort: 587, From: "noreply@test",
		MaxRetries: 3, RetryBaseDelay: time.Millisecond,
	}, fakeDirectory{}, "https://app.test", zerolog.Nop())

	attempts := 0
	ch.dial = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		attempts++
		return errors.New("connection timeout")
	}

	err := ch.Send(context.Background(), Notification{UserID: 1, Title: "Invite", Message: "join us"})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEmailChannelPermanentErrorDoesNotRetry(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{
		Enabled: true, SMTPHost: "smtp.test", SMTPPort: 587, From: "noreply@test",
		MaxRetries: 3, RetryBaseDelay: time.Millisecond,
	}, fakeDirectory{}, "https://app.test", zerolog.Nop())

	attempts := 0
	ch.dial = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		attempts++
		return errors.New("535 authentication failed")
	}

	err := ch.Send(context.Background(), Notification{UserID: 1, Title: "Invite", Message: "join us"})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
