package cacheinval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/events"
)

func newTestSubscriber(t *testing.T, cfg Config) (*Subscriber, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSubscriber(rdb, cfg, zerolog.Nop()), rdb
}

// Mirrors spec.md §8 scenario 4: within 50ms, two MessageCreated events
// for chat_id=7 (members {1,2}) collapse into one flush that deletes
// recent_messages:7, messages:7:page:0, chat_list:1, chat_list:2, with
// the duplicated user ids counted in operations_saved.
func TestBatchedMessageCreatedFlushDeduplicates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchWindow = 30 * time.Millisecond
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()

	for _, k := range []string{"recent_messages:7", "messages:7:page:0", "chat_list:1", "chat_list:2"} {
		require.NoError(t, rdb.Set(ctx, k, "stale", 0).Err())
	}

	evt1 := events.DomainEvent{Kind: events.DomainMessage, Message: &events.MessagePayload{ChatID: 7, Members: []int64{1, 2}, Operation: "created"}}
	evt2 := events.DomainEvent{Kind: events.DomainMessage, Message: &events.MessagePayload{ChatID: 7, Members: []int64{1, 2}, Operation: "created"}}

	require.NoError(t, sub.HandleDomainEvent(ctx, evt1))
	require.NoError(t, sub.HandleDomainEvent(ctx, evt2))

	require.Eventually(t, func() bool {
		n, _ := rdb.Exists(ctx, "recent_messages:7", "messages:7:page:0", "chat_list:1", "chat_list:2").Result()
		return n == 0
	}, time.Second, 10*time.Millisecond)

	assert.Greater(t, sub.Metrics().OperationsSaved, int64(0))
	assert.Equal(t, int64(4), sub.Metrics().TotalInvalidations)
}

func TestNonBatchedInvalidationIsImmediate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableBatchInvalidation = false
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, "recent_messages:9", "stale", 0).Err())

	evt := events.DomainEvent{Kind: events.DomainMessage, Message: &events.MessagePayload{ChatID: 9, Members: []int64{5}, Operation: "created"}}
	require.NoError(t, sub.HandleDomainEvent(ctx, evt))

	n, err := rdb.Exists(ctx, "recent_messages:9").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInvalidateChatMembershipDeletesExpectedKeys(t *testing.T) {
	cfg := DefaultConfig()
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()
	for _, k := range []string{"chat:members:3", "chat:detail:3", "chat_list:8"} {
		require.NoError(t, rdb.Set(ctx, k, "x", 0).Err())
	}

	require.NoError(t, sub.InvalidateChatMembership(ctx, 3, 8))

	n, err := rdb.Exists(ctx, "chat:members:3", "chat:detail:3", "chat_list:8").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHandleDomainEventDispatchesChatMembershipTrigger(t *testing.T) {
	cfg := DefaultConfig()
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()
	for _, k := range []string{"chat:members:4", "chat:detail:4", "chat_list:6"} {
		require.NoError(t, rdb.Set(ctx, k, "x", 0).Err())
	}

	evt := events.DomainEvent{Kind: events.DomainChat, Chat: &events.ChatPayload{ChatID: 4, UserID: 6, Operation: "member_added"}}
	require.NoError(t, sub.HandleDomainEvent(ctx, evt))

	n, err := rdb.Exists(ctx, "chat:members:4", "chat:detail:4", "chat_list:6").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHandleDomainEventDispatchesUserProfileTrigger(t *testing.T) {
	cfg := DefaultConfig()
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()
	for _, k := range []string{"user:profile:12", "user:settings:12", "user:permissions:12"} {
		require.NoError(t, rdb.Set(ctx, k, "x", 0).Err())
	}

	evt := events.DomainEvent{Kind: events.DomainUser, User: &events.UserPayload{UserID: 12}}
	require.NoError(t, sub.HandleDomainEvent(ctx, evt))

	n, err := rdb.Exists(ctx, "user:profile:12", "user:settings:12", "user:permissions:12").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEditOperationDoesNotTriggerMessageCreatedInvalidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableBatchInvalidation = false
	sub, rdb := newTestSubscriber(t, cfg)
	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, "recent_messages:11", "fresh", 0).Err())

	evt := events.DomainEvent{Kind: events.DomainMessage, Message: &events.MessagePayload{ChatID: 11, Members: []int64{1}, Operation: "edited"}}
	require.NoError(t, sub.HandleDomainEvent(ctx, evt))

	val, err := rdb.Get(ctx, "recent_messages:11").Result()
	require.NoError(t, err)
	assert.Equal(t, "fresh", val)
}
