package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store upserts a notification into a user's persistent inbox. Grounded on
// the original's InAppChannelImpl (the "Primary notification method") and
// internal/message/store.go's PGStore for the pgx query shape.
type Store interface {
	Upsert(ctx context.Context, n Notification) error
}

// PersistentChannel implements the Persistent store notification channel.
type PersistentChannel struct {
	store Store
}

func NewPersistentChannel(store Store) *PersistentChannel {
	return &PersistentChannel{store: store}
}

func (c *PersistentChannel) Name() Channel { return ChannelPersistent }

func (c *PersistentChannel) Send(ctx context.Context, n Notification) error {
	return c.store.Upsert(ctx, n)
}

// PGStore is the production Store, backed by a notifications inbox table
// keyed by id with an ON CONFLICT upsert, mirroring
// internal/message/store.go's idempotency pattern.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) Upsert(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, notification_type, title, message, chat_id, sender_id, metadata, priority, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			message = EXCLUDED.message,
			priority = EXCLUDED.priority
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.ChatID, n.SenderID, n.Metadata, n.Priority, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: upsert notification %d for user %d: %w", n.ID, n.UserID, err)
	}
	return nil
}
