// Package postgres provides a PostgreSQL-backed [memory.HistoryStore].
//
// Turns live in a single chat_turns table keyed by (user_id, seq). Replace
// rewrites a user's rows inside one transaction so readers never observe a
// half-written history.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	turns, _ := store.Load(ctx, userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatTurns = `
CREATE TABLE IF NOT EXISTS chat_turns (
    user_id     TEXT         NOT NULL,
    seq         INTEGER      NOT NULL,
    role        TEXT         NOT NULL CHECK (role IN ('user', 'assistant')),
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, seq)
);
`

// Migrate creates the chat_turns table if it does not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChatTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
