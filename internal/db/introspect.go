package db

import (
	"context"
)

// TableExists reports whether table exists in the public schema.
func TableExists(ctx context.Context, pool Pool, table string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table,
	).Scan(&ok)
	if err != nil {
		return false, Storage("table exists "+table, err)
	}
	return ok, nil
}

// TableHasRows reports whether table holds at least one row. The table name
// is quoted as an identifier, never interpolated raw.
func TableHasRows(ctx context.Context, pool Pool, table string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+Ident(table).Sanitize()+" LIMIT 1)",
	).Scan(&ok)
	if err != nil {
		return false, Storage("table has rows "+table, err)
	}
	return ok, nil
}

// ColumnExists reports whether column exists on table.
func ColumnExists(ctx context.Context, pool Pool, table, column string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, table, column,
	).Scan(&ok)
	if err != nil {
		return false, Storage("column exists "+table+"."+column, err)
	}
	return ok, nil
}

// IndexesExist reports whether every named index exists in the public schema.
func IndexesExist(ctx context.Context, pool Pool, names ...string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}
	rows, err := pool.Query(ctx,
		`SELECT indexname FROM pg_indexes
		 WHERE schemaname = 'public' AND indexname = ANY($1)`, names,
	)
	if err != nil {
		return false, Storage("list indexes", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, Storage("scan index name", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, Storage("list indexes", err)
	}
	for _, n := range names {
		if !found[n] {
			return false, nil
		}
	}
	return true, nil
}

// TableSize is a row count and on-disk size for one table.
type TableSize struct {
	Table string
	Rows  int64
	Bytes int64
}

// TableSizes returns live row estimates and total relation sizes for the
// given tables, largest first.
func TableSizes(ctx context.Context, pool Pool, tables []string) ([]TableSize, error) {
	rows, err := pool.Query(ctx,
		`SELECT relname, n_live_tup::bigint, pg_total_relation_size(relid)
		 FROM pg_stat_user_tables
		 WHERE relname = ANY($1)
		 ORDER BY pg_total_relation_size(relid) DESC`, tables,
	)
	if err != nil {
		return nil, Storage("table sizes", err)
	}
	defer rows.Close()

	var out []TableSize
	for rows.Next() {
		var ts TableSize
		if err := rows.Scan(&ts.Table, &ts.Rows, &ts.Bytes); err != nil {
			return nil, Storage("scan table size", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
