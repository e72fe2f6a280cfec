// Package notify implements C8, converting a triggering event (mention,
// direct message, chat invite) into notifications delivered across
// configured channels (spec.md §4.8). Grounded on
// original_source/fechatter_server/src/services/infrastructure/notification/channels.rs
// for the per-channel send_notification contract and
// .../flows/notifications.rs for the routing table (mention/DM ->
// {realtime, persistent}, invite -> {realtime, persistent, email}) and the
// send_via_multiple_channels sequential-with-partial-failure semantics.
package notify

import (
	"context"
	"time"
)

// Type discriminates the triggering event kind, matching the original's
// NotificationType::{Mention,DirectMessage,ChatInvite}.
type Type string

const (
	TypeMention      Type = "mention"
	TypeDirectMessage Type = "direct_message"
	TypeChatInvite   Type = "chat_invite"
)

// Priority mirrors the original's NotificationPriority; Invite notifications
// carry High, Mention/DM carry Medium.
type Priority string

const (
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Channel names a delivery surface, used both in Notification.Channels and
// as the key identifying per-channel Result entries.
type Channel string

const (
	ChannelRealtime  Channel = "realtime"
	ChannelPersistent Channel = "persistent"
	ChannelEmail     Channel = "email"
	ChannelPush      Channel = "push"
)

// routingTable is spec.md §4.8's "Routing table" verbatim: Mention/DM route
// to realtime+persistent at medium priority, Invite additionally gets email
// at high priority.
var routingTable = map[Type]struct {
	Channels []Channel
	Priority Priority
}{
	TypeMention:       {Channels: []Channel{ChannelRealtime, ChannelPersistent}, Priority: PriorityMedium},
	TypeDirectMessage: {Channels: []Channel{ChannelRealtime, ChannelPersistent}, Priority: PriorityMedium},
	TypeChatInvite:    {Channels: []Channel{ChannelRealtime, ChannelPersistent, ChannelEmail}, Priority: PriorityHigh},
}

// RouteFor returns the channel set and priority a notification type is
// delivered through.
func RouteFor(t Type) (channels []Channel, priority Priority) {
	r, ok := routingTable[t]
	if !ok {
		return []Channel{ChannelRealtime}, PriorityMedium
	}
	return r.Channels, r.Priority
}

// Notification is the domain entity every channel receives, matching the
// original's Notification { id, user_id, notification_type, title,
// content, priority, is_read, created_at, read_at }.
type Notification struct {
	ID         int64
	UserID     int64
	Type       Type
	Title      string
	Message    string
	ChatID     *int64
	SenderID   *int64
	Metadata   string
	Priority   Priority
	CreatedAt  time.Time
}

// ChannelSender implements send_notification for exactly one channel. A
// channel returns a plain error rather than a custom type: spec.md's
// contract is `Result<(), String>`, a success/failure signal only — callers
// that need retry classification (email) do that internally before
// returning.
type ChannelSender interface {
	Send(ctx context.Context, n Notification) error
	Name() Channel
}

// Result is one channel's outcome from a multi-channel send.
type Result struct {
	Channel Channel
	Err     error
}

// Dispatcher routes notifications to their channel set and fans them out.
type Dispatcher struct {
	channels map[Channel]ChannelSender
	// OnAllChannelsFailed receives the notification and its per-channel
	// results when every channel attempted returns an error; spec.md §4.8
	// "all-failure produces an audit event" — wired to C10.
	OnAllChannelsFailed func(n Notification, results []Result)
	// OnChannelResult observes each individual channel result, used to
	// feed C11's per-channel success/failure metrics.
	OnChannelResult func(n Notification, r Result)
}

func NewDispatcher(senders ...ChannelSender) *Dispatcher {
	d := &Dispatcher{channels: make(map[Channel]ChannelSender, len(senders))}
	for _, s := range senders {
		d.channels[s.Name()] = s
	}
	return d
}

// Notify routes n by its Type through RouteFor and calls
// SendViaMultipleChannels with the resolved channel set.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) []Result {
	channels, priority := RouteFor(n.Type)
	n.Priority = priority
	return d.SendViaMultipleChannels(ctx, n, channels)
}

// SendViaMultipleChannels executes channels sequentially against n,
// returning one Result per channel. A channel failure does not abort the
// remaining channels (spec.md §4.8 "Semantics"). Overall success is "at
// least one channel succeeded"; if every attempted channel failed,
// OnAllChannelsFailed fires.
func (d *Dispatcher) SendViaMultipleChannels(ctx context.Context, n Notification, channels []Channel) []Result {
	results := make([]Result, 0, len(channels))
	anySucceeded := false

	for _, ch := range channels {
		sender, ok := d.channels[ch]
		if !ok {
			results = append(results, Result{Channel: ch, Err: errUnconfiguredChannel(ch)})
			continue
		}
		err := sender.Send(ctx, n)
		r := Result{Channel: ch, Err: err}
		results = append(results, r)
		if err == nil {
			anySucceeded = true
		}
		if d.OnChannelResult != nil {
			d.OnChannelResult(n, r)
		}
	}

	if !anySucceeded && len(results) > 0 && d.OnAllChannelsFailed != nil {
		d.OnAllChannelsFailed(n, results)
	}
	return results
}

type errUnconfiguredChannel Channel

func (e errUnconfiguredChannel) Error() string {
	return "notify: no sender configured for channel " + string(e)
}
