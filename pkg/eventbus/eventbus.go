// Package eventbus abstracts subject-addressed publish/subscribe over a
// durable stream bus (spec.md §4.1, C1). The only concrete implementation
// is a NATS core+JetStream client (nats.go), adapted from
// go-server/pkg/nats/client.go's connection lifecycle and subject-builder
// conventions, generalized from Odin market-data subjects to the Fechatter
// chat subject taxonomy (spec.md §6).
package eventbus

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks an error the caller may retry (broker unreachable,
// timed out waiting for ack). ErrPermanent marks one it should not
// (malformed subject, stream misconfiguration).
var (
	ErrTransient = errors.New("eventbus: transient error")
	ErrPermanent = errors.New("eventbus: permanent error")
)

// Ack is returned by PublishWithAck once the broker has durably stored
// the message.
type Ack struct {
	Stream   string
	Sequence uint64
}

// Message is a single delivery handed to a subscriber.
type Message struct {
	Subject string
	Data    []byte
	// Ack acknowledges a persistent-stream delivery. It is a no-op for
	// core (best-effort) subscriptions.
	Ack func() error
}

// StreamConfig describes a persistent stream's retention policy, mirroring
// spec.md §4.1's admin_stream capability.
type StreamConfig struct {
	Name       string
	Subjects   []string
	MaxBytes   int64
	MaxMsgs    int64
	MaxAge     time.Duration
	Storage    StorageType
	Retention  RetentionPolicy
	Replicas   int
}

type StorageType int

const (
	StorageFile StorageType = iota
	StorageMemory
)

type RetentionPolicy int

const (
	RetentionLimits RetentionPolicy = iota
	RetentionInterest
	RetentionWorkQueue
)

// ConsumerConfig describes a durable consumer's delivery policy.
type ConsumerConfig struct {
	DurableName string
	AckExplicit bool
	MaxDeliver  int
	AckWait     time.Duration
}

// Transport is the capability set C1 exposes: publish (best-effort),
// publish-with-ack (durable), subscribe (iteration), and stream
// administration. Implementers may satisfy a subset; the adaptive
// publisher (C2) only requires Publish and PublishWithAck.
type Transport interface {
	// Publish sends a fire-and-forget message on subject. It does not
	// wait for the broker to persist it.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishWithAck sends a message on subject and waits for the broker
	// to confirm durable receipt, returning its stream sequence.
	PublishWithAck(ctx context.Context, subject string, data []byte) (Ack, error)

	// Subscribe registers handler for every message delivered on subject.
	// If cfg is non-nil the subscription is a durable JetStream consumer;
	// otherwise it is a best-effort core subscription. Subscribe returns
	// an unsubscribe function.
	Subscribe(ctx context.Context, subject string, cfg *ConsumerConfig, handler func(Message)) (func() error, error)

	// EnsureStream creates or updates a persistent stream.
	EnsureStream(ctx context.Context, cfg StreamConfig) error

	// Healthy reports whether the underlying connection is usable.
	Healthy() bool

	Close() error
}
