package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig configures the underlying connection, mirroring the option
// set go-server/pkg/nats/client.go wired into nats.Option.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultNATSConfig matches the production defaults implied by spec.md §4.1.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// NATSTransport is the production Transport implementation.
type NATSTransport struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  zerolog.Logger
}

// NewNATSTransport connects to the broker and obtains a JetStream context
// for persistent-stream operations. Grounded on
// go-server/pkg/nats/client.go's NewClient: the same connection-event
// handler wiring, generalized to return errors via %w instead of logging
// only.
func NewNATSTransport(cfg NATSConfig, log zerolog.Logger) (*NATSTransport, error) {
	t := &NATSTransport{log: log}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			t.log.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			t.log.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			t.log.Error().Err(err).Msg("NATS async error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w: %v", ErrTransient, err)
	}
	t.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventbus: jetstream context: %w: %v", ErrPermanent, err)
	}
	t.js = js

	return t, nil
}

func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if err := validateSubject(subject); err != nil {
		return err
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w: %v", subject, ErrTransient, err)
	}
	return nil
}

func (t *NATSTransport) PublishWithAck(ctx context.Context, subject string, data []byte) (Ack, error) {
	if err := validateSubject(subject); err != nil {
		return Ack{}, err
	}
	pubAck, err := t.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return Ack{}, fmt.Errorf("eventbus: publish-with-ack %s: %w: %v", subject, ErrTransient, err)
	}
	return Ack{Stream: pubAck.Stream, Sequence: pubAck.Sequence}, nil
}

func (t *NATSTransport) Subscribe(ctx context.Context, subject string, cfg *ConsumerConfig, handler func(Message)) (func() error, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}

	wrap := func(m *nats.Msg) {
		handler(Message{
			Subject: m.Subject,
			Data:    m.Data,
			Ack: func() error {
				if cfg == nil {
					return nil
				}
				return m.Ack()
			},
		})
	}

	if cfg == nil {
		sub, err := t.conn.Subscribe(subject, wrap)
		if err != nil {
			return nil, fmt.Errorf("eventbus: subscribe %s: %w: %v", subject, ErrTransient, err)
		}
		return sub.Unsubscribe, nil
	}

	opts := []nats.SubOpt{
		nats.Durable(cfg.DurableName),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.AckWait(cfg.AckWait),
	}
	if cfg.AckExplicit {
		opts = append(opts, nats.ManualAck())
	}

	sub, err := t.js.Subscribe(subject, wrap, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: durable subscribe %s: %w: %v", subject, ErrTransient, err)
	}
	return sub.Unsubscribe, nil
}

func (t *NATSTransport) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	storage := nats.FileStorage
	if cfg.Storage == StorageMemory {
		storage = nats.MemoryStorage
	}
	retention := nats.LimitsPolicy
	switch cfg.Retention {
	case RetentionInterest:
		retention = nats.InterestPolicy
	case RetentionWorkQueue:
		retention = nats.WorkQueuePolicy
	}

	streamCfg := &nats.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		MaxAge:    cfg.MaxAge,
		Storage:   storage,
		Retention: retention,
		Replicas:  cfg.Replicas,
	}

	if _, err := t.js.StreamInfo(cfg.Name); err != nil {
		if _, err := t.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("eventbus: add stream %s: %w: %v", cfg.Name, ErrPermanent, err)
		}
		return nil
	}
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("eventbus: update stream %s: %w: %v", cfg.Name, ErrPermanent, err)
	}
	return nil
}

func (t *NATSTransport) Healthy() bool {
	return t.conn != nil && t.conn.IsConnected()
}

func (t *NATSTransport) Close() error {
	if t.conn != nil {
		t.conn.Close()
	}
	return nil
}

func validateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("eventbus: empty subject: %w", ErrPermanent)
	}
	return nil
}
