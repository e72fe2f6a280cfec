package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/internal/message"
	"github.com/Kevinzh0C/fechatter-core/internal/publisher"
	"github.com/Kevinzh0C/fechatter-core/pkg/eventbus"
)

// Dispatcher implements C5's publish order for a committed message
// outcome: R first (fire-and-forget, via the adaptive publisher), then D
// (ack-awaited, direct on the transport), then the derived System events
// on D (spec.md §4.5). A D publish failure is logged and skips the System
// events; HandleOutcome has no error result, so the failure is not
// returned to its caller.
type Dispatcher struct {
	realtime  *publisher.Publisher
	transport eventbus.Transport
	log       zerolog.Logger
	subjects  eventbus.Subjects

	// ChatMembers resolves recipients for the R-channel MessageReceived
	// fan-out and the member list of the D-channel Message event; wired to message.Repository.ChatMemberIDs by the caller
	// that constructs the Dispatcher.
	ChatMembers func(ctx context.Context, chatID int64) ([]int64, error)
}

func NewDispatcher(realtime *publisher.Publisher, transport eventbus.Transport, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{realtime: realtime, transport: transport, log: log}
}

// HandleOutcome is wired as message.Service.Dispatch.
func (d *Dispatcher) HandleOutcome(o message.Outcome) {
	ctx := context.Background()

	d.publishRealtime(ctx, o)

	op, err := d.publishDomain(ctx, o)
	if err != nil {
		d.log.Error().Err(err).Int64("message_id", o.Message.ID).Msg("C5: domain event publish failed")
		return
	}
	if op == "" {
		return
	}

	d.publishSystemEvents(ctx, o, op)
}

// publishRealtime fires the R-channel MessageReceived push spec.md §4.5
// names explicitly. It only applies to a newly-sent message: spec.md's
// RealtimeStreamEvent variant list has no dedicated "deleted"/"edited"
// tag, and a duplicate idempotent retry must not re-deliver to recipients
// who already received the first delivery.
func (d *Dispatcher) publishRealtime(ctx context.Context, o message.Outcome) {
	if o.Kind != message.OutcomeSent {
		return
	}

	var recipients []int64
	if d.ChatMembers != nil {
		var err error
		recipients, err = d.ChatMembers(ctx, o.ChatID)
		if err != nil {
			d.log.Warn().Err(err).Int64("chat_id", o.ChatID).Msg("C5: could not resolve recipients for realtime push")
		}
	}

	evt := RealtimeStreamEvent{
		Kind:           RealtimeMessageReceived,
		ChatID:         o.ChatID,
		MessageID:      o.Message.ID,
		MessageContent: o.Message.Content,
		SenderID:       o.ActorID,
		Recipients:     recipients,
	}

	data, err := EncodeRealtimeStreamEvent(evt)
	if err != nil {
		d.log.Error().Err(err).Msg("C5: encode realtime event")
		return
	}

	// Fire-and-forget per spec.md §4.5's R-channel batching rule: the
	// caller of HandleOutcome does not wait on this, and failure is
	// logged, never propagated.
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.realtime.Publish(pubCtx, d.subjects.RealtimeChat(o.ChatID), data); err != nil {
			d.log.Warn().Err(err).Int64("chat_id", o.ChatID).Msg("C5: realtime publish failed")
		}
	}()
}

// publishDomain publishes the Message domain event and returns the
// operation name ("created"/"edited"/"deleted") used to derive System
// events, or "" for a duplicate retry (no new domain event).
func (d *Dispatcher) publishDomain(ctx context.Context, o message.Outcome) (string, error) {
	var op string
	switch o.Kind {
	case message.OutcomeSent:
		op = "created"
	case message.OutcomeEdited:
		op = "edited"
	case message.OutcomeDeleted:
		op = "deleted"
	case message.OutcomeSentDuplicate:
		return "", nil
	}

	payload := MessagePayload{
		MessageID: o.Message.ID,
		ChatID:    o.ChatID,
		SenderID:  o.Message.SenderID,
		Content:   o.Message.Content,
		Operation: op,
		CreatedAt: o.Message.CreatedAt,
	}
	if d.ChatMembers != nil {
		members, err := d.ChatMembers(ctx, o.ChatID)
		if err != nil {
			d.log.Warn().Err(err).Int64("chat_id", o.ChatID).Msg("C5: could not resolve members for domain event")
		}
		payload.Members = members
	}
	evt := DomainEvent{Kind: DomainMessage, Message: &payload}

	data, err := EncodeDomainEvent(evt)
	if err != nil {
		return "", fmt.Errorf("events: encode domain event: %w", err)
	}
	if _, err := d.transport.PublishWithAck(ctx, eventbus.DomainSubjectMessage, data); err != nil {
		return "", fmt.Errorf("events: publish domain event: %w", err)
	}
	return op, nil
}

// publishSystemEvents emits the derived System signal spec.md §8's
// idempotent-send scenario names explicitly: for every Message domain
// event, a SearchIndexUpdateRequired follows on the same D stream.
// CacheInvalidationRequired is not emitted from the message-commit path:
// spec.md §4.6's trigger table has C6 react to the Message domain event
// itself (MessageCreated{chat_id, members}), deriving its own key set,
// so a redundant signal here would just be a second trigger for the same
// invalidation. AnalyticsEventGenerated is likewise not emitted here —
// spec.md §4.5 assigns it to the analytics ingestion server's own
// client-submission path (internal/session + internal/analytics), not
// to C5's message-commit flow.
func (d *Dispatcher) publishSystemEvents(ctx context.Context, o message.Outcome, op string) {
	searchOp := op
	switch op {
	case "created":
		searchOp = "create"
	case "edited":
		searchOp = "update"
	case "deleted":
		searchOp = "delete"
	}

	d.publishOneSystemEvent(ctx, SystemPayload{
		Kind:       SystemSearchIndexUpdateRequired,
		EntityType: "message",
		EntityID:   o.Message.ID,
		Operation:  searchOp,
	})
}

func (d *Dispatcher) publishOneSystemEvent(ctx context.Context, sp SystemPayload) {
	evt := DomainEvent{Kind: DomainSystem, System: &sp}
	data, err := EncodeDomainEvent(evt)
	if err != nil {
		d.log.Error().Err(err).Msg("C5: encode system event")
		return
	}
	if _, err := d.transport.PublishWithAck(ctx, eventbus.DomainSubjectSystem, data); err != nil {
		d.log.Error().Err(err).Str("kind", string(sp.Kind)).Msg("C5: publish system event failed")
	}
}
