package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/remerge/internal/crdt"
)

// Ключи таблицы metadata
const (
	metaCollectionName      = "remerge/collection-name"
	metaLocalSchemaVersion  = "remerge/local-schema-version"
	metaNativeSchemaVersion = "remerge/native-schema-version"
	metaClientID            = "remerge/client-id"
	metaChangeCounter       = "remerge/change-counter"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tryGetMeta retrieves a metadata value. Returns false if the key is absent
func tryGetMeta[T any](ctx context.Context, q querier, key string) (T, bool, error) {
	var v T
	err := q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("failed to get metadata %q: %w", key, err)
	}
	return v, true, nil
}

// getMeta retrieves a metadata value that bootstrap always writes
func getMeta[T any](ctx context.Context, q querier, key string) (T, error) {
	v, ok, err := tryGetMeta[T](ctx, q, key)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("metadata %q is missing", key)
	}
	return v, nil
}

// putMeta creates or replaces a metadata value
func putMeta(ctx context.Context, q querier, key string, value any) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to put metadata %q: %w", key, err)
	}
	return nil
}

// bumpCounter increments the change counter and returns the new value.
// Panics if the stored counter is corrupt.
func bumpCounter(ctx context.Context, q querier) (crdt.Counter, error) {
	raw, err := getMeta[int64](ctx, q, metaChangeCounter)
	if err != nil {
		return 0, err
	}

	cur, err := crdt.NewCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to read change counter: %w", err)
	}
	next := cur.Next()
	if err := putMeta(ctx, q, metaChangeCounter, int64(next)); err != nil {
		return 0, err
	}
	return next, nil
}
