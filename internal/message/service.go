package message

import (
	"context"
	"errors"
)

// Service implements the five C3 operations (spec.md §4.3) over a
// Repository. It has no opinion on how results propagate to the three
// event channels; Dispatch, if set, is invoked with outcomes the caller
// (internal/events) turns into DomainEvent/RealtimeStreamEvent.
type Service struct {
	repo     Repository
	Dispatch func(Outcome)
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// OutcomeKind distinguishes which operation produced an Outcome, so a
// dispatcher can pick the right domain event shape without a type switch
// on Message alone.
type OutcomeKind int

const (
	OutcomeSent OutcomeKind = iota
	OutcomeSentDuplicate
	OutcomeEdited
	OutcomeDeleted
)

// Outcome is handed to Service.Dispatch after a successful mutation.
type Outcome struct {
	Kind    OutcomeKind
	Message *Message
	ChatID  int64
	ActorID int64
}

func (s *Service) notify(o Outcome) {
	if s.Dispatch != nil {
		s.Dispatch(o)
	}
}

// SendMessage implements send_message: validates, authorizes membership,
// resolves idempotency, and inserts.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID int64, cm CreateMessage) (*Message, error) {
	if err := cm.validate(); err != nil {
		return nil, err
	}

	exists, err := s.repo.ChatExists(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrChatNotFound
	}

	isMember, err := s.repo.IsMember(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	if cm.IdempotencyKey != nil {
		if existing, err := s.repo.FindByIdempotencyKey(ctx, chatID, *cm.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			s.notify(Outcome{Kind: OutcomeSentDuplicate, Message: existing, ChatID: chatID, ActorID: senderID})
			return existing, nil
		}
	}

	msg := &Message{
		ChatID:         chatID,
		SenderID:       senderID,
		Content:        cm.Content,
		Files:          cm.Files,
		IdempotencyKey: cm.IdempotencyKey,
	}
	inserted, err := s.repo.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.notify(Outcome{Kind: OutcomeSent, Message: inserted, ChatID: chatID, ActorID: senderID})
	return inserted, nil
}

// EditMessage implements edit_message: only the original sender or a
// chat admin/creator may edit, and content must remain non-empty.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID int64, newContent string) (*Message, error) {
	if newContent == "" {
		return nil, ErrEmptyContent
	}

	msg, err := s.repo.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, ErrMessageNotFound
	}

	perms, err := s.repo.Permissions(ctx, msg.ChatID, editorID)
	if err != nil {
		return nil, err
	}
	if !CanEditMessage(editorID, msg, perms) {
		return nil, ErrNotAuthorized
	}

	msg.Content = newContent
	msg.EditorID = &editorID
	if err := s.repo.Update(ctx, msg); err != nil {
		return nil, err
	}
	updated, err := s.repo.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.notify(Outcome{Kind: OutcomeEdited, Message: updated, ChatID: updated.ChatID, ActorID: editorID})
	return updated, nil
}

// DeleteMessage implements delete_message: soft-delete, authorized the
// same way as edit.
func (s *Service) DeleteMessage(ctx context.Context, messageID, deleterID int64) error {
	msg, err := s.repo.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted() {
		return nil
	}

	perms, err := s.repo.Permissions(ctx, msg.ChatID, deleterID)
	if err != nil {
		return err
	}
	if !CanDeleteMessage(deleterID, msg, perms) {
		return ErrNotAuthorized
	}

	if err := s.repo.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	s.notify(Outcome{Kind: OutcomeDeleted, Message: msg, ChatID: msg.ChatID, ActorID: deleterID})
	return nil
}

// ListMessages implements list_messages: newest-first, capped, exclusive
// cursor. Requires the viewer to currently be a chat member.
func (s *Service) ListMessages(ctx context.Context, chatID, viewerID int64, q ListQuery) ([]*Message, error) {
	isMember, err := s.repo.IsMember(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}
	return s.repo.List(ctx, chatID, q)
}

// GetMessage implements get_message, returning (nil, nil) when absent
// rather than ErrMessageNotFound — callers that need the stricter
// behavior (edit/delete) call repo.Get directly through the service
// methods above.
func (s *Service) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, nil
	}
	return msg, err
}
