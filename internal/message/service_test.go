package message

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo is an in-memory Repository used only by this package's tests.
type fakeRepo struct {
	mu       sync.Mutex
	nextID   int64
	chats    map[int64]bool
	members  map[int64]map[int64]Permissions
	byID     map[int64]*Message
	byIdem   map[string]int64 // "chatID:key" -> message id
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		chats:   map[int64]bool{1: true},
		members: map[int64]map[int64]Permissions{1: {1: {ChatMember}, 2: {ChatMember}, 3: {ChatAdmin, ChatMember}}},
		byID:    map[int64]*Message{},
		byIdem:  map[string]int64{},
	}
}

func (f *fakeRepo) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[chatID]
	if !ok {
		return false, nil
	}
	_, ok = m[userID]
	return ok, nil
}

func (f *fakeRepo) Permissions(ctx context.Context, chatID, userID int64) (Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[chatID][userID], nil
}

func (f *fakeRepo) ChatExists(ctx context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[chatID], nil
}

func idemKey(chatID int64, key string) string {
	return key
}

func (f *fakeRepo) FindByIdempotencyKey(ctx context.Context, chatID int64, key string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIdem[idemKey(chatID, key)]
	if !ok {
		return nil, nil
	}
	return f.byID[id], nil
}

func (f *fakeRepo) Insert(ctx context.Context, msg *Message) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	out := *msg
	out.ID = f.nextID
	f.byID[out.ID] = &out
	if out.IdempotencyKey != nil {
		f.byIdem[idemKey(out.ChatID, *out.IdempotencyKey)] = out.ID
	}
	return &out, nil
}

func (f *fakeRepo) Get(ctx context.Context, id int64) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRepo) Update(ctx context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.byID[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	existing.Content = msg.Content
	existing.EditorID = msg.EditorID
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	now := m.CreatedAt
	m.DeletedAt = &now
	return nil
}

func (f *fakeRepo) List(ctx context.Context, chatID int64, q ListQuery) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q = q.normalize()
	var out []*Message
	for id := f.nextID; id >= 1; id-- {
		m, ok := f.byID[id]
		if !ok || m.ChatID != chatID {
			continue
		}
		if q.LastID != nil && id >= *q.LastID {
			continue
		}
		out = append(out, m)
		if len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for uid := range f.members[chatID] {
		ids = append(ids, uid)
	}
	return ids, nil
}

func TestSendMessageIdempotentRetrySameRow(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	var dispatched []Outcome
	svc.Dispatch = func(o Outcome) { dispatched = append(dispatched, o) }

	key := "idem-x"
	cm := CreateMessage{Content: "hi", IdempotencyKey: &key}

	first, err := svc.SendMessage(context.Background(), 1, 1, cm)
	require.NoError(t, err)

	second, err := svc.SendMessage(context.Background(), 1, 1, cm)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.byID, 1)
	require.Len(t, dispatched, 2)
	assert.Equal(t, OutcomeSent, dispatched[0].Kind)
	assert.Equal(t, OutcomeSentDuplicate, dispatched[1].Kind)
}

func TestSendMessageEmptyContentAndFiles(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSendMessageNonMemberRejected(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.SendMessage(context.Background(), 99, 1, CreateMessage{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSendMessageUnknownChat(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.SendMessage(context.Background(), 1, 404, CreateMessage{Content: "hi"})
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestEditMessageBySenderAllowed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	msg, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{Content: "hi"})
	require.NoError(t, err)

	edited, err := svc.EditMessage(context.Background(), msg.ID, 1, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Content)
}

func TestEditMessageByOtherMemberRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	msg, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{Content: "hi"})
	require.NoError(t, err)

	_, err = svc.EditMessage(context.Background(), msg.ID, 2, "hacked")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestEditMessageByChatAdminAllowed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	msg, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{Content: "hi"})
	require.NoError(t, err)

	edited, err := svc.EditMessage(context.Background(), msg.ID, 3, "moderated")
	require.NoError(t, err)
	assert.Equal(t, "moderated", edited.Content)
}

func TestDeleteMessageSoftDeletes(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	msg, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMessage(context.Background(), msg.ID, 1))
	stored := repo.byID[msg.ID]
	assert.NotNil(t, stored.DeletedAt)

	_, err = svc.EditMessage(context.Background(), msg.ID, 1, "too late")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListMessagesRequiresMembership(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.ListMessages(context.Background(), 1, 404, ListQuery{})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestListMessagesCapsLimit(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	for i := 0; i < 150; i++ {
		_, err := svc.SendMessage(context.Background(), 1, 1, CreateMessage{Content: "hi"})
		require.NoError(t, err)
	}
	out, err := svc.ListMessages(context.Background(), 1, 1, ListQuery{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, out, maxListLimit)
}
