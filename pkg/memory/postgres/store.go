package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/murmur/pkg/memory"
)

var _ memory.HistoryStore = (*Store)(nil)

// Store is a [memory.HistoryStore] backed by a [pgxpool.Pool]. All methods
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Load implements [memory.HistoryStore].
func (s *Store) Load(ctx context.Context, userID string) ([]memory.Turn, error) {
	const q = `
		SELECT role, content, created_at
		FROM   chat_turns
		WHERE  user_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var t memory.Turn
		err := row.Scan(&t.Role, &t.Content, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}

// Replace implements [memory.HistoryStore]. The old rows are deleted and the
// new ones bulk-inserted with COPY in a single transaction.
func (s *Store) Replace(ctx context.Context, userID string, turns []memory.Turn) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("postgres store: replace: delete: %w", err)
		}
		if len(turns) == 0 {
			return nil
		}
		now := time.Now()
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"chat_turns"},
			[]string{"user_id", "seq", "role", "content", "created_at"},
			pgx.CopyFromSlice(len(turns), func(i int) ([]any, error) {
				created := turns[i].CreatedAt
				if created.IsZero() {
					created = now
				}
				return []any{userID, i, turns[i].Role, turns[i].Content, created}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres store: replace: copy: %w", err)
		}
		return nil
	})
}

// Clear implements [memory.HistoryStore].
func (s *Store) Clear(ctx context.Context, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_turns WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("postgres store: clear: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks that the database is reachable. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
