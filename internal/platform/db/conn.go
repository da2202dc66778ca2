package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBConnKey is the context key under which a request-scoped connection is
// stored.
const DBConnKey contextKey = "db_conn"

// WithConn returns a context carrying a dedicated connection. Repositories
// prefer this connection over the shared pool, so a caller can pin related
// statements to one session.
func WithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// ConnFromContext retrieves the request-scoped database connection from
// context, or nil when the caller did not pin one.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}
