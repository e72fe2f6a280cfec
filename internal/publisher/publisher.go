// Package publisher implements the adaptive, health-degrading publish path
// (spec.md §4.2, C2) on top of pkg/eventbus.Transport. The backend-selection
// and rolling-window health bookkeeping generalizes the CPU-threshold
// pause/reject pattern in ws/config.go (a single load figure gates a mode
// switch) to three independent rolling metrics (error rate, latency, queue
// depth) plus a consecutive-failure/success counter.
package publisher

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/pkg/eventbus"
)

// Backend names the active publish path.
type Backend int

const (
	HighPerf Backend = iota
	Legacy
)

func (b Backend) String() string {
	if b == Legacy {
		return "legacy"
	}
	return "high_perf"
}

// Config carries the production defaults spec.md §4.2 names explicitly.
type Config struct {
	ErrorWindow                 time.Duration
	MaxErrorRate                float64
	MaxLatencyMS                int64
	MaxQueueSize                int
	ConsecutiveFailureThreshold int

	RecoveryWindow              time.Duration
	RecoveryDelay               time.Duration
	MinSuccessRate              float64
	RecoveryLatencyCeilingMS    int64
	ConsecutiveSuccessThreshold int

	QueueCapacity  int
	BatchSize      int
	BatchInterval  time.Duration
	WorkerCount    int
}

// DefaultConfig matches the "prod default" figures named in spec.md §4.2.
func DefaultConfig() Config {
	return Config{
		ErrorWindow:                 30 * time.Second,
		MaxErrorRate:                0.02,
		MaxLatencyMS:                500,
		MaxQueueSize:                1000,
		ConsecutiveFailureThreshold: 2,

		RecoveryWindow:              30 * time.Second,
		RecoveryDelay:               10 * time.Second,
		MinSuccessRate:              0.995,
		RecoveryLatencyCeilingMS:    50,
		ConsecutiveSuccessThreshold: 30,

		QueueCapacity: 10000,
		BatchSize:     100,
		BatchInterval: 20 * time.Millisecond,
		WorkerCount:   4,
	}
}

// Event is a single subject-addressed payload to publish.
type Event struct {
	Subject string
	Data    []byte
}

// Health is the snapshot health_check() returns.
type Health struct {
	CurrentBackend   string
	SuccessRate      float64
	AvgLatencyMS     float64
	TotalDegradations int64
	ManualOverride   bool
	IsHealthy        bool
}

type outcome struct {
	at      time.Time
	success bool
	latencyMS int64
}

// Publisher wraps an eventbus.Transport with the HighPerf/Legacy/
// ManualOverride state machine.
type Publisher struct {
	cfg   Config
	tr    eventbus.Transport
	log   zerolog.Logger
	onDegrade func()

	mu                  sync.Mutex
	backend             Backend
	manualOverride      bool
	manualBackend       Backend
	history             *list.List // of outcome, oldest at front
	consecutiveFailures int
	consecutiveSuccesses int
	lastDegradedAt      time.Time
	totalDegradations   int64

	queue chan queuedEvent
	wg    sync.WaitGroup
	stop  chan struct{}
}

type queuedEvent struct {
	ev   Event
	done chan error
}

// New constructs a Publisher in HighPerf mode and starts its background
// batch workers.
func New(tr eventbus.Transport, cfg Config, log zerolog.Logger) *Publisher {
	p := &Publisher{
		cfg:     cfg,
		tr:      tr,
		log:     log,
		backend: HighPerf,
		history: list.New(),
		queue:   make(chan queuedEvent, cfg.QueueCapacity),
		stop:    make(chan struct{}),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// OnDegrade registers a callback fired every time the publisher transitions
// HighPerf -> Legacy, used to notify C11's consistency auditor.
func (p *Publisher) OnDegrade(fn func()) { p.onDegrade = fn }

// Close stops background workers, draining the queue first.
func (p *Publisher) Close() error {
	close(p.stop)
	p.wg.Wait()
	return nil
}

// Publish accepts an event on the currently-selected backend. For HighPerf
// it returns once the event is enqueued; for Legacy it returns once the
// broker has acked it.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	backend := p.activeBackend()

	if backend == Legacy {
		start := time.Now()
		_, err := p.tr.PublishWithAck(ctx, ev.Subject, ev.Data)
		p.record(err == nil, time.Since(start))
		if err != nil {
			return fmt.Errorf("publisher: legacy publish %s: %w", ev.Subject, err)
		}
		return nil
	}

	if len(p.queue) >= p.cfg.MaxQueueSize {
		p.record(false, 0)
		p.maybeDegrade()
		return fmt.Errorf("publisher: queue depth exceeded (%d)", p.cfg.MaxQueueSize)
	}

	done := make(chan error, 1)
	select {
	case p.queue <- queuedEvent{ev: ev, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) activeBackend() Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manualOverride {
		return p.manualBackend
	}
	return p.backend
}

// SetManualOverride forces a backend until ClearManualOverride is called.
func (p *Publisher) SetManualOverride(b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualOverride = true
	p.manualBackend = b
}

// ClearManualOverride returns the publisher to automatic degradation/
// recovery control.
func (p *Publisher) ClearManualOverride() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualOverride = false
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	batch := make([]queuedEvent, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, qe := range batch {
			start := time.Now()
			err := p.tr.Publish(context.Background(), qe.ev.Subject, qe.ev.Data)
			p.record(err == nil, time.Since(start))
			if qe.done != nil {
				qe.done <- err
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-p.stop:
			for {
				select {
				case qe := <-p.queue:
					batch = append(batch, qe)
				default:
					flush()
					return
				}
			}
		case qe := <-p.queue:
			batch = append(batch, qe)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// record feeds a publish outcome into the rolling windows and evaluates
// state transitions. Called with no locks held.
func (p *Publisher) record(success bool, latency time.Duration) {
	now := time.Now()
	p.mu.Lock()
	p.history.PushBack(outcome{at: now, success: success, latencyMS: latency.Milliseconds()})
	p.trimHistoryLocked(now)

	if success {
		p.consecutiveSuccesses++
		p.consecutiveFailures = 0
	} else {
		p.consecutiveFailures++
		p.consecutiveSuccesses = 0
	}
	p.mu.Unlock()

	p.maybeDegrade()
	p.maybeRecover()
}

func (p *Publisher) trimHistoryLocked(now time.Time) {
	window := p.cfg.ErrorWindow
	if p.cfg.RecoveryWindow > window {
		window = p.cfg.RecoveryWindow
	}
	for e := p.history.Front(); e != nil; {
		next := e.Next()
		o := e.Value.(outcome)
		if now.Sub(o.at) > window {
			p.history.Remove(e)
		}
		e = next
	}
}

// windowStatsLocked computes error rate and average latency for outcomes
// within the given window, caller must hold p.mu.
func (p *Publisher) windowStatsLocked(window time.Duration, now time.Time) (errorRate, successRate, avgLatencyMS float64, n int) {
	var failures, successes int
	var latencySum int64
	for e := p.history.Front(); e != nil; e = e.Next() {
		o := e.Value.(outcome)
		if now.Sub(o.at) > window {
			continue
		}
		n++
		latencySum += o.latencyMS
		if o.success {
			successes++
		} else {
			failures++
		}
	}
	if n == 0 {
		return 0, 1, 0, 0
	}
	errorRate = float64(failures) / float64(n)
	successRate = float64(successes) / float64(n)
	avgLatencyMS = float64(latencySum) / float64(n)
	return
}

func (p *Publisher) maybeDegrade() {
	p.mu.Lock()
	if p.manualOverride || p.backend != HighPerf {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	errorRate, _, avgLatency, _ := p.windowStatsLocked(p.cfg.ErrorWindow, now)
	queueDepth := len(p.queue)

	degrade := errorRate > p.cfg.MaxErrorRate ||
		avgLatency > float64(p.cfg.MaxLatencyMS) ||
		queueDepth > p.cfg.MaxQueueSize ||
		p.consecutiveFailures >= p.cfg.ConsecutiveFailureThreshold

	if !degrade {
		p.mu.Unlock()
		return
	}
	p.backend = Legacy
	p.lastDegradedAt = now
	p.totalDegradations++
	p.mu.Unlock()

	p.log.Warn().
		Float64("error_rate", errorRate).
		Float64("avg_latency_ms", avgLatency).
		Int("queue_depth", queueDepth).
		Msg("publisher degraded high_perf -> legacy")

	if p.onDegrade != nil {
		p.onDegrade()
	}
}

func (p *Publisher) maybeRecover() {
	p.mu.Lock()
	if p.manualOverride || p.backend != Legacy {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(p.lastDegradedAt) < p.cfg.RecoveryDelay {
		p.mu.Unlock()
		return
	}
	_, successRate, avgLatency, _ := p.windowStatsLocked(p.cfg.RecoveryWindow, now)

	recover := successRate >= p.cfg.MinSuccessRate &&
		avgLatency <= float64(p.cfg.RecoveryLatencyCeilingMS) &&
		p.consecutiveSuccesses >= p.cfg.ConsecutiveSuccessThreshold

	if !recover {
		p.mu.Unlock()
		return
	}
	p.backend = HighPerf
	p.mu.Unlock()

	p.log.Info().
		Float64("success_rate", successRate).
		Float64("avg_latency_ms", avgLatency).
		Msg("publisher recovered legacy -> high_perf")
}

// HealthCheck returns the snapshot spec.md §4.2 names.
func (p *Publisher) HealthCheck() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	window := p.cfg.ErrorWindow
	if p.backend == Legacy {
		window = p.cfg.RecoveryWindow
	}
	_, successRate, avgLatency, n := p.windowStatsLocked(window, now)

	backend := p.backend
	if p.manualOverride {
		backend = p.manualBackend
	}

	isHealthy := true
	if n > 0 {
		isHealthy = successRate >= p.cfg.MinSuccessRate || backend == Legacy
	}

	return Health{
		CurrentBackend:    backend.String(),
		SuccessRate:       successRate,
		AvgLatencyMS:      avgLatency,
		TotalDegradations: p.totalDegradations,
		ManualOverride:    p.manualOverride,
		IsHealthy:         isHealthy,
	}
}
