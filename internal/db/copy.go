package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Copier is implemented by both pools and transactions.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Ident splits an optionally schema-qualified table name ("public.release")
// into a pgx identifier.
func Ident(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	return pgx.Identifier(parts)
}

// CopyFrom bulk-inserts rows into table using the COPY protocol.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := c.CopyFrom(ctx, Ident(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, Storage("COPY INTO "+table, err)
	}
	return n, nil
}

// CopySource streams rows from src into table using the COPY protocol.
func CopySource(ctx context.Context, c Copier, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	n, err := c.CopyFrom(ctx, Ident(table), columns, src)
	if err != nil {
		return 0, Storage("COPY INTO "+table, err)
	}
	return n, nil
}
