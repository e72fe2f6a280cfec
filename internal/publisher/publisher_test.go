package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/pkg/eventbus"
)

// fakeTransport lets tests script which calls fail, independent of any
// real broker.
type fakeTransport struct {
	mu       sync.Mutex
	failNext int
	acks     int
	publishes int
}

func (f *fakeTransport) shouldFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return true
	}
	return false
}

func (f *fakeTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	f.publishes++
	f.mu.Unlock()
	if f.shouldFail() {
		return errors.New("injected failure")
	}
	return nil
}

func (f *fakeTransport) PublishWithAck(ctx context.Context, subject string, data []byte) (eventbus.Ack, error) {
	f.mu.Lock()
	f.acks++
	f.mu.Unlock()
	if f.shouldFail() {
		return eventbus.Ack{}, errors.New("injected failure")
	}
	return eventbus.Ack{Stream: "TEST", Sequence: uint64(f.acks)}, nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, subject string, cfg *eventbus.ConsumerConfig, handler func(eventbus.Message)) (func() error, error) {
	return func() error { return nil }, nil
}
func (f *fakeTransport) EnsureStream(ctx context.Context, cfg eventbus.StreamConfig) error { return nil }
func (f *fakeTransport) Healthy() bool                                                     { return true }
func (f *fakeTransport) Close() error                                                      { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxErrorRate = 0.5
	cfg.ConsecutiveFailureThreshold = 2
	cfg.RecoveryDelay = 0
	cfg.BatchInterval = 5 * time.Millisecond
	cfg.BatchSize = 1
	cfg.WorkerCount = 1
	return cfg
}

// Mirrors spec.md §8 scenario 5: two consecutive publish failures in
// HighPerf degrade the publisher to Legacy exactly once. With
// MaxErrorRate 0.5 the first failure (1 of 1) already exceeds the
// error-rate trigger, before the consecutive-failure threshold of 2 is
// reached.
func TestDegradesOnConsecutiveFailures(t *testing.T) {
	tr := &fakeTransport{failNext: 2}
	p := New(tr, testConfig(), zerolog.Nop())
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Publish(ctx, Event{Subject: "fechatter.realtime.chat.7", Data: []byte("x")}))
	}
	require.Eventually(t, func() bool {
		return p.HealthCheck().CurrentBackend == "legacy"
	}, time.Second, 5*time.Millisecond)

	h := p.HealthCheck()
	assert.Equal(t, int64(1), h.TotalDegradations)

	// Subsequent publishes succeed on legacy (synchronous, acked).
	require.NoError(t, p.Publish(ctx, Event{Subject: "fechatter.realtime.chat.7", Data: []byte("y")}))
	assert.Equal(t, "legacy", p.HealthCheck().CurrentBackend)
}

func TestManualOverrideBypassesAutoTransitions(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), zerolog.Nop())
	defer p.Close()

	p.SetManualOverride(Legacy)
	require.NoError(t, p.Publish(context.Background(), Event{Subject: "s", Data: []byte("x")}))
	assert.Equal(t, "legacy", p.HealthCheck().CurrentBackend)
	assert.True(t, p.HealthCheck().ManualOverride)

	p.ClearManualOverride()
	assert.False(t, p.HealthCheck().ManualOverride)
}

func TestHighPerfEnqueuesAsynchronously(t *testing.T) {
	tr := &fakeTransport{}
	p := New(tr, testConfig(), zerolog.Nop())
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), Event{Subject: "s", Data: []byte("x")}))
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.publishes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOnDegradeCallbackFires(t *testing.T) {
	tr := &fakeTransport{failNext: 2}
	p := New(tr, testConfig(), zerolog.Nop())
	defer p.Close()

	var fired int
	var mu sync.Mutex
	p.OnDegrade(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = p.Publish(ctx, Event{Subject: "s", Data: []byte("x")})
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 5*time.Millisecond)
}
