package searchindex

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kevinzh0C/fechatter-core/internal/events"
	"github.com/Kevinzh0C/fechatter-core/internal/message"
)

type fakeAdapter struct {
	indexed map[string]Document
	updated map[string]Document
	deleted []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{indexed: map[string]Document{}, updated: map[string]Document{}}
}

func (f *fakeAdapter) IndexDocument(ctx context.Context, index string, doc Document) error {
	f.indexed[doc.ID] = doc
	return nil
}
func (f *fakeAdapter) UpdateDocument(ctx context.Context, index string, doc Document) error {
	f.updated[doc.ID] = doc
	return nil
}
func (f *fakeAdapter) DeleteDocument(ctx context.Context, index string, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeAdapter) Search(ctx context.Context, index string, q SearchQuery) (*SearchResult, error) {
	return &SearchResult{}, nil
}

func testSource(msg *message.Message) func(context.Context, int64) (*message.Message, ChatContext, error) {
	return func(ctx context.Context, id int64) (*message.Message, ChatContext, error) {
		return msg, ChatContext{WorkspaceID: 5, ChatName: "general", ChatType: "group", SenderName: "alice"}, nil
	}
}

func TestCreateOperationIndexesDocument(t *testing.T) {
	adapter := newFakeAdapter()
	sub := NewSubscriber(adapter, "messages", zerolog.Nop())
	msg := &message.Message{ID: 42, ChatID: 7, SenderID: 1, Content: "hi", CreatedAt: time.Now()}
	sub.MessageSource = testSource(msg)

	err := sub.HandleSystemEvent(context.Background(), events.SystemPayload{
		Kind: events.SystemSearchIndexUpdateRequired, EntityType: "message", EntityID: 42, Operation: "create",
	})
	require.NoError(t, err)

	doc, ok := adapter.indexed["42"]
	require.True(t, ok)
	assert.Equal(t, "general", doc.ChatName)
	assert.Equal(t, int64(5), doc.WorkspaceID)
}

func TestUpdateOperationUpdatesDocument(t *testing.T) {
	adapter := newFakeAdapter()
	sub := NewSubscriber(adapter, "messages", zerolog.Nop())
	msg := &message.Message{ID: 42, ChatID: 7, SenderID: 1, Content: "edited", CreatedAt: time.Now()}
	sub.MessageSource = testSource(msg)

	err := sub.HandleSystemEvent(context.Background(), events.SystemPayload{
		Kind: events.SystemSearchIndexUpdateRequired, EntityType: "message", EntityID: 42, Operation: "update",
	})
	require.NoError(t, err)
	assert.Contains(t, adapter.updated, "42")
}

func TestDeleteOperationDoesNotNeedMessageSource(t *testing.T) {
	adapter := newFakeAdapter()
	sub := NewSubscriber(adapter, "messages", zerolog.Nop())

	err := sub.HandleSystemEvent(context.Background(), events.SystemPayload{
		Kind: events.SystemSearchIndexUpdateRequired, EntityType: "message", EntityID: 42, Operation: "delete",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, adapter.deleted)
}

func TestBuildFilterExpressionMixesScalarAndList(t *testing.T) {
	expr := BuildFilterExpression(map[string]any{"chat_id": int64(7)})
	assert.Equal(t, "chat_id = 7", expr)

	expr2 := BuildFilterExpression(map[string]any{"tags": []string{"a", "b"}})
	assert.Equal(t, `tags IN ["a", "b"]`, expr2)
}

func TestIgnoresNonMessageEntityTypes(t *testing.T) {
	adapter := newFakeAdapter()
	sub := NewSubscriber(adapter, "messages", zerolog.Nop())
	err := sub.HandleSystemEvent(context.Background(), events.SystemPayload{
		Kind: events.SystemSearchIndexUpdateRequired, EntityType: "chat", EntityID: 1, Operation: "create",
	})
	require.NoError(t, err)
	assert.Empty(t, adapter.indexed)
}
