package message

import "context"

// Repository is the persistence boundary C3 depends on. The pgx
// implementation lives in store.go; tests use an in-memory fake
// (service_test.go).
type Repository interface {
	// IsMember reports whether userID currently belongs to chatID.
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	// Permissions returns the actor's effective chat-scoped permissions.
	Permissions(ctx context.Context, chatID, userID int64) (Permissions, error)
	// ChatExists reports whether chatID is a live chat.
	ChatExists(ctx context.Context, chatID int64) (bool, error)

	// FindByIdempotencyKey returns the existing message for (chatID, key),
	// or nil if none exists yet.
	FindByIdempotencyKey(ctx context.Context, chatID int64, key string) (*Message, error)
	Insert(ctx context.Context, msg *Message) (*Message, error)
	Get(ctx context.Context, id int64) (*Message, error)
	Update(ctx context.Context, msg *Message) error
	SoftDelete(ctx context.Context, id int64) error
	List(ctx context.Context, chatID int64, q ListQuery) ([]*Message, error)

	// ChatMemberIDs returns every current member of chatID, used by C5 to
	// fan out the realtime delivery event.
	ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error)
}
