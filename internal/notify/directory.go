package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGUserDirectory implements UserDirectory against the same users table
// internal/message.PGStore reads senders from, grounded on
// codeready-toolchain-tarsy/pkg/database/client.go's pgxpool query
// pattern (the same one PGStore itself follows).
type PGUserDirectory struct {
	pool *pgxpool.Pool
}

func NewPGUserDirectory(pool *pgxpool.Pool) *PGUserDirectory {
	return &PGUserDirectory{pool: pool}
}

func (d *PGUserDirectory) UserContact(ctx context.Context, userID int64) (name, email string, err error) {
	const q = `SELECT display_name, email FROM users WHERE id = $1`
	err = d.pool.QueryRow(ctx, q, userID).Scan(&name, &email)
	return name, email, err
}
