package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Resolver maps human-facing symbolic values (addresses, asset names, pool
// hashes, memos) to the internal integer ids the search index stores. Values
// with no internal record are simply missing from the result; absence is
// never an error.
type Resolver interface {
	Resolve(ctx context.Context, values []string) ([]int64, error)
}

type lookupResolver struct {
	db     *DB
	table  string
	column string
}

func (r lookupResolver) Resolve(ctx context.Context, values []string) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	sql := sq.Select("id").From(r.table).Where(sq.Eq{r.column: values})
	var ids []int64
	if err := r.db.Select(ctx, &ids, sql); err != nil {
		return nil, fmt.Errorf("resolving %d values against %q failed: %w", len(values), r.table, err)
	}
	return ids, nil
}

func NewAccountResolver(db *DB) Resolver {
	return lookupResolver{db: db, table: accountTableName, column: "address"}
}

func NewAssetResolver(db *DB) Resolver {
	return lookupResolver{db: db, table: assetTableName, column: "name"}
}

func NewPoolResolver(db *DB) Resolver {
	return lookupResolver{db: db, table: poolTableName, column: "hash"}
}

func NewMemoResolver(db *DB) Resolver {
	return lookupResolver{db: db, table: memoTableName, column: "value"}
}
