package store

import (
	"context"
	"database/sql"
)

// DBTX is the common surface of *sql.DB and *sql.Tx. Store methods take
// it so the same query code runs standalone or inside a transaction,
// which RecomputeProgress and the batch-creation path rely on.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
