// Package cacheinval implements C6: a D-stream subscriber that turns
// message/chat/user domain events into multi-key cache deletions under a
// distributed lock, with batching (spec.md §4.6). Grounded on
// other_examples' linkmeAman-universal-middleware cacheupdater/service.go
// (Redis client construction with retry, per-entity-type event handling,
// "invalidate related cache" pattern), retargeted from its Kafka
// consumer onto a NATS JetStream durable consumer and from go-redis v8
// to v9.
package cacheinval

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/events"
)

// Config mirrors spec.md §4.6's named knobs.
type Config struct {
	EnableBatchInvalidation bool
	BatchWindow             time.Duration
	BatchSizeThreshold      int
	LockTTL                 time.Duration
	MaxRetryAttempts        int
}

func DefaultConfig() Config {
	return Config{
		EnableBatchInvalidation: true,
		BatchWindow:             50 * time.Millisecond,
		BatchSizeThreshold:      200,
		LockTTL:                 3 * time.Second,
		MaxRetryAttempts:        3,
	}
}

// Metrics matches the flush metrics spec.md §4.6 names.
type Metrics struct {
	mu                 sync.Mutex
	TotalInvalidations int64
	OperationsSaved    int64
	FailedInvalidations int64
	latencySumUS       int64
	flushCount         int64
}

func (m *Metrics) record(ops int, saved int, failed int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalInvalidations += int64(ops)
	m.OperationsSaved += int64(saved)
	m.FailedInvalidations += int64(failed)
	m.latencySumUS += latency.Microseconds()
	m.flushCount++
}

func (m *Metrics) AvgLatencyUS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushCount == 0 {
		return 0
	}
	return float64(m.latencySumUS) / float64(m.flushCount)
}

// AlarmFunc notifies C11 of a terminal invalidation failure.
type AlarmFunc func(reason string)

// Subscriber consumes Message/ChatMember/UserProfile domain events and
// invalidates the keyspace spec.md §4.6 names.
type Subscriber struct {
	rdb *redis.Client
	cfg Config
	log zerolog.Logger
	met *Metrics
	Alarm AlarmFunc

	mu          sync.Mutex
	chatBuffer  map[int64]map[int64]struct{} // chat_id -> member ids pending invalidation
	userBuffer  map[int64]struct{}
	flushTimer  *time.Timer
	// pendingMentions counts member ids received since the last flush,
	// duplicates included, so Flush can report how many deletions
	// deduplication saved.
	pendingMentions int
}

func NewSubscriber(rdb *redis.Client, cfg Config, log zerolog.Logger) *Subscriber {
	s := &Subscriber{
		rdb:        rdb,
		cfg:        cfg,
		log:        log,
		met:        &Metrics{},
		chatBuffer: make(map[int64]map[int64]struct{}),
		userBuffer: make(map[int64]struct{}),
	}
	return s
}

func (s *Subscriber) Metrics() *Metrics { return s.met }

// HandleDomainEvent is the entry point wired to a pkg/eventbus durable
// subscription on FECHATTER_DOMAIN_EVENTS.message (and .chat/.user, via
// the same handler, once those producers exist).
func (s *Subscriber) HandleDomainEvent(ctx context.Context, evt events.DomainEvent) error {
	switch evt.Kind {
	case events.DomainMessage:
		return s.handleMessageEvent(ctx, evt.Message)
	case events.DomainChat:
		return s.handleChatEvent(ctx, evt.Chat)
	case events.DomainUser:
		return s.handleUserEvent(ctx, evt.User)
	default:
		return nil
	}
}

func (s *Subscriber) handleChatEvent(ctx context.Context, cp *events.ChatPayload) error {
	if cp == nil {
		return nil
	}
	return s.InvalidateChatMembership(ctx, cp.ChatID, cp.UserID)
}

func (s *Subscriber) handleUserEvent(ctx context.Context, up *events.UserPayload) error {
	if up == nil {
		return nil
	}
	return s.InvalidateUserProfile(ctx, up.UserID)
}

func (s *Subscriber) handleMessageEvent(ctx context.Context, mp *events.MessagePayload) error {
	if mp == nil || mp.Operation != "created" {
		return nil
	}

	if !s.cfg.EnableBatchInvalidation {
		return s.invalidateMessageCreated(ctx, mp.ChatID, mp.Members)
	}

	s.mu.Lock()
	if _, ok := s.chatBuffer[mp.ChatID]; !ok {
		s.chatBuffer[mp.ChatID] = make(map[int64]struct{})
	}
	for _, u := range mp.Members {
		s.chatBuffer[mp.ChatID][u] = struct{}{}
		s.userBuffer[u] = struct{}{}
	}
	s.pendingMentions += len(mp.Members)
	flushNow := s.bufferedCountLocked() >= s.cfg.BatchSizeThreshold
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.cfg.BatchWindow, func() { s.Flush(context.Background()) })
	}
	s.mu.Unlock()

	if flushNow {
		return s.Flush(ctx)
	}
	return nil
}

func (s *Subscriber) bufferedCountLocked() int {
	n := 0
	for _, members := range s.chatBuffer {
		n += len(members)
	}
	return n
}

// Flush applies every buffered invalidation, deduplicating repeated user
// ids across chats (spec.md §4.6 "Deduplication").
func (s *Subscriber) Flush(ctx context.Context) error {
	s.mu.Lock()
	chats := s.chatBuffer
	users := s.userBuffer
	s.chatBuffer = make(map[int64]map[int64]struct{})
	s.userBuffer = make(map[int64]struct{})
	rawUserMentions := s.pendingMentions
	s.pendingMentions = 0
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	if len(chats) == 0 {
		return nil
	}

	start := time.Now()
	keys := make(map[string]struct{})
	for chatID, members := range chats {
		keys[fmt.Sprintf("recent_messages:%d", chatID)] = struct{}{}
		keys[fmt.Sprintf("messages:%d:page:0", chatID)] = struct{}{}
		for u := range members {
			keys[fmt.Sprintf("chat_list:%d", u)] = struct{}{}
		}
	}
	_ = users // de-duplicated user ids are already folded into the chat_list keys above

	keyList := make([]string, 0, len(keys))
	for k := range keys {
		keyList = append(keyList, k)
	}
	dedupedUserKeys := len(keyList) - 2*len(chats) // subtract the two per-chat keys, leaving chat_list key count
	saved := rawUserMentions - dedupedUserKeys
	if saved < 0 {
		saved = 0
	}

	failed := s.deleteWithLockAndRetry(ctx, fmt.Sprintf("lock:cache_flush:%d", start.UnixNano()), keyList)
	s.met.record(len(keyList), saved, boolToInt(failed), time.Since(start))
	if failed {
		return fmt.Errorf("cacheinval: flush failed for %d keys", len(keyList))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Subscriber) invalidateMessageCreated(ctx context.Context, chatID int64, members []int64) error {
	keys := []string{
		fmt.Sprintf("recent_messages:%d", chatID),
		fmt.Sprintf("messages:%d:page:0", chatID),
	}
	for _, u := range members {
		keys = append(keys, fmt.Sprintf("chat_list:%d", u))
	}
	if s.deleteWithLockAndRetry(ctx, fmt.Sprintf("lock:chat:%d", chatID), keys) {
		return fmt.Errorf("cacheinval: invalidation failed for chat %d", chatID)
	}
	return nil
}

// InvalidateChatMembership implements the ChatMemberAdded/Removed trigger.
func (s *Subscriber) InvalidateChatMembership(ctx context.Context, chatID, userID int64) error {
	keys := []string{
		fmt.Sprintf("chat:members:%d", chatID),
		fmt.Sprintf("chat:detail:%d", chatID),
		fmt.Sprintf("chat_list:%d", userID),
	}
	if s.deleteWithLockAndRetry(ctx, fmt.Sprintf("lock:chat:%d", chatID), keys) {
		return fmt.Errorf("cacheinval: membership invalidation failed for chat %d", chatID)
	}
	return nil
}

// InvalidateUserProfile implements the UserProfileUpdated trigger.
func (s *Subscriber) InvalidateUserProfile(ctx context.Context, userID int64) error {
	keys := []string{
		fmt.Sprintf("user:profile:%d", userID),
		fmt.Sprintf("user:settings:%d", userID),
		fmt.Sprintf("user:permissions:%d", userID),
	}
	if s.deleteWithLockAndRetry(ctx, fmt.Sprintf("lock:user:%d", userID), keys) {
		return fmt.Errorf("cacheinval: profile invalidation failed for user %d", userID)
	}
	return nil
}

// deleteWithLockAndRetry acquires a short-TTL distributed lock (SET NX
// PX), deletes every key under it, and retries with exponential backoff
// on transient failure up to MaxRetryAttempts. It returns true on
// terminal failure (retries exhausted): the D-stream message should
// still be acked (spec.md §4.6 "terminal failure acks to avoid infinite
// redelivery"), and the caller raises an alarm to C11.
func (s *Subscriber) deleteWithLockAndRetry(ctx context.Context, lockKey string, keys []string) (terminalFailure bool) {
	if len(keys) == 0 {
		return false
	}

	acquired, err := s.rdb.SetNX(ctx, lockKey, "1", s.cfg.LockTTL).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("lock", lockKey).Msg("cacheinval: lock acquisition error, proceeding unlocked")
	} else if !acquired {
		// Lock expiry/contention is non-fatal per spec.md §4.6: retry once,
		// then proceed unlocked if the lock is still held elsewhere.
		time.Sleep(50 * time.Millisecond)
		if ok, err := s.rdb.SetNX(ctx, lockKey, "1", s.cfg.LockTTL).Result(); err == nil && ok {
			defer s.rdb.Del(context.Background(), lockKey)
		}
	} else {
		defer s.rdb.Del(context.Background(), lockKey)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetryAttempts; attempt++ {
		if err := s.rdb.Del(ctx, keys...).Err(); err == nil {
			return false
		} else {
			lastErr = err
		}
		backoff := time.Duration(100*math.Pow(2, float64(attempt-1))) * time.Millisecond
		time.Sleep(backoff)
	}

	s.log.Error().Err(lastErr).Strs("keys", keys).Msg("cacheinval: terminal invalidation failure, acking anyway")
	if s.Alarm != nil {
		s.Alarm(fmt.Sprintf("cache invalidation exhausted retries for keys %v: %v", keys, lastErr))
	}
	return true
}
