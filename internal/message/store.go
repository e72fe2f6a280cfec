package message

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the production Repository, grounded on
// codeready-toolchain-tarsy/pkg/database/client.go's pgxpool usage
// pattern. The idempotency check uses a single INSERT ... ON CONFLICT DO
// NOTHING RETURNING statement rather than a separate SELECT + INSERT
// (spec.md §5 "Database" requirement), which collapses the race window
// a caller observing a mid-flight duplicate could otherwise hit.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func wrapPersistenceErr(err error) error {
	if err == nil {
		return nil
	}
	// pgx surfaces connection, timeout and constraint errors through the
	// same error interface, and no attempt is made here to tell them apart:
	// every error, context cancellation and deadline expiry included, is
	// wrapped as ErrPersistenceTransient. Callers check pgx.ErrNoRows
	// before calling this.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPersistenceTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistenceTransient, err)
}

func (s *PGStore) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL)
	`, chatID, userID).Scan(&exists)
	if err != nil {
		return false, wrapPersistenceErr(err)
	}
	return exists, nil
}

func (s *PGStore) Permissions(ctx context.Context, chatID, userID int64) (Permissions, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM chat_members WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
	`, chatID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	switch role {
	case "creator":
		return Permissions{ChatCreator, ChatAdmin, ChatModerator, ChatMember}, nil
	case "admin":
		return Permissions{ChatAdmin, ChatModerator, ChatMember}, nil
	case "moderator":
		return Permissions{ChatModerator, ChatMember}, nil
	case "observer":
		return Permissions{ChatObserver}, nil
	default:
		return Permissions{ChatMember}, nil
	}
}

func (s *PGStore) ChatExists(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists)
	if err != nil {
		return false, wrapPersistenceErr(err)
	}
	return exists, nil
}

func (s *PGStore) FindByIdempotencyKey(ctx context.Context, chatID int64, key string) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, file_urls, file_names, created_at,
		       idempotency_key, edited_at, editor_id, deleted_at
		FROM messages WHERE chat_id = $1 AND idempotency_key = $2
	`, chatID, key)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	return msg, nil
}

func (s *PGStore) Insert(ctx context.Context, msg *Message) (*Message, error) {
	urls, names := splitFiles(msg.Files)

	if msg.IdempotencyKey != nil {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO messages (chat_id, sender_id, content, file_urls, file_names, created_at, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, NOW(), $6)
			ON CONFLICT (chat_id, idempotency_key) DO NOTHING
			RETURNING id, chat_id, sender_id, content, file_urls, file_names, created_at,
			          idempotency_key, edited_at, editor_id, deleted_at
		`, msg.ChatID, msg.SenderID, msg.Content, urls, names, *msg.IdempotencyKey)
		inserted, err := scanMessage(row)
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent sender won the conflict; re-read the winner's row by key.
			existing, ferr := s.FindByIdempotencyKey(ctx, msg.ChatID, *msg.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if existing == nil {
				return nil, fmt.Errorf("%w: idempotent insert lost its row", ErrPersistenceTransient)
			}
			return existing, nil
		}
		if err != nil {
			return nil, wrapPersistenceErr(err)
		}
		return inserted, nil
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, file_urls, file_names, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, chat_id, sender_id, content, file_urls, file_names, created_at,
		          idempotency_key, edited_at, editor_id, deleted_at
	`, msg.ChatID, msg.SenderID, msg.Content, urls, names)
	inserted, err := scanMessage(row)
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	return inserted, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, sender_id, content, file_urls, file_names, created_at,
		       idempotency_key, edited_at, editor_id, deleted_at
		FROM messages WHERE id = $1
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	return msg, nil
}

func (s *PGStore) Update(ctx context.Context, msg *Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $1, edited_at = NOW(), editor_id = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, msg.Content, msg.EditorID, msg.ID)
	if err != nil {
		return wrapPersistenceErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PGStore) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return wrapPersistenceErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, chatID int64, q ListQuery) ([]*Message, error) {
	q = q.normalize()
	var rows pgxRows
	var err error
	if q.LastID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, chat_id, sender_id, content, file_urls, file_names, created_at,
			       idempotency_key, edited_at, editor_id, deleted_at
			FROM messages
			WHERE chat_id = $1 AND id < $2
			ORDER BY id DESC LIMIT $3
		`, chatID, *q.LastID, q.Limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, chat_id, sender_id, content, file_urls, file_names, created_at,
			       idempotency_key, edited_at, editor_id, deleted_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY id DESC LIMIT $2
		`, chatID, q.Limit)
	}
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, wrapPersistenceErr(err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPersistenceErr(err)
	}
	return out, nil
}

func (s *PGStore) ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1 AND left_at IS NULL
	`, chatID)
	if err != nil {
		return nil, wrapPersistenceErr(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapPersistenceErr(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pgxRows narrows pgx.Rows to what scanMessageRows needs, keeping store.go
// decoupled from the concrete pgx.Rows type in signatures above.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var urls, names string
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &urls, &names,
		&m.CreatedAt, &m.IdempotencyKey, &m.EditedAt, &m.EditorID, &m.DeletedAt); err != nil {
		return nil, err
	}
	m.Files = joinFiles(urls, names)
	return &m, nil
}

func scanMessageRows(rows pgxRows) (*Message, error) {
	var m Message
	var urls, names string
	if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &urls, &names,
		&m.CreatedAt, &m.IdempotencyKey, &m.EditedAt, &m.EditorID, &m.DeletedAt); err != nil {
		return nil, err
	}
	m.Files = joinFiles(urls, names)
	return &m, nil
}

// splitFiles/joinFiles store File{URL,Filename} pairs as parallel
// pipe-joined columns, avoiding a join table for what is always a small,
// ordered, immutable list.
func splitFiles(files []File) (urls, names string) {
	us := make([]string, len(files))
	ns := make([]string, len(files))
	for i, f := range files {
		us[i] = f.URL
		ns[i] = f.Filename
	}
	return strings.Join(us, "|"), strings.Join(ns, "|")
}

func joinFiles(urls, names string) []File {
	if urls == "" {
		return nil
	}
	us := strings.Split(urls, "|")
	ns := strings.Split(names, "|")
	out := make([]File, len(us))
	for i, u := range us {
		f := File{URL: u}
		if i < len(ns) {
			f.Filename = ns[i]
		}
		out[i] = f
	}
	return out
}
