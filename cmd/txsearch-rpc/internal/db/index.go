package db

import (
	"context"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

type indexReader struct {
	log *log.Entry
	db  *DB
}

// NewIndexReader returns the search.Executor backed by this database's index
// tables. It translates the structured request into one filter-only SQL
// query; callers never see the schema.
func NewIndexReader(log *log.Entry, db *DB) search.Executor {
	return indexReader{log: log, db: db}
}

func (r indexReader) Execute(ctx context.Context, req search.Request) ([]txid.ID, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	q := sq.Select("t.id").From(txIndexTableName + " t")
	for _, pred := range req.Predicates {
		var err error
		if q, err = applyPredicate(q, pred); err != nil {
			return nil, err
		}
	}
	switch req.Sort {
	case search.SortAsc:
		q = q.OrderBy("t.id ASC")
	case search.SortDesc:
		q = q.OrderBy("t.id DESC")
	default:
		return nil, fmt.Errorf("unsupported sort order %q", req.Sort)
	}
	q = q.Limit(uint64(req.Size))

	var rawIDs []int64
	if err := r.db.Select(ctx, &rawIDs, q); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]txid.ID, len(rawIDs))
	for i, raw := range rawIDs {
		ids[i] = txid.ID(uint64(raw))
	}

	r.log.
		WithField("predicates", len(req.Predicates)).
		WithField("hits", len(ids)).
		WithField("duration", time.Since(start)).
		Debug("executed search")
	return ids, nil
}

func applyPredicate(q sq.SelectBuilder, pred search.Predicate) (sq.SelectBuilder, error) {
	switch p := pred.(type) {
	case search.Range:
		if p.Field != search.FieldID {
			return q, fmt.Errorf("range predicate on unsupported field %q", p.Field)
		}
		// Stored ids are non-negative int64s, so a bound in the upper half
		// of the uint64 space must not sign-wrap through the conversion: a
		// GTE there matches nothing, an LTE there constrains nothing.
		if p.GTE != nil {
			if *p.GTE > math.MaxInt64 {
				return q.Where("1 = 0"), nil
			}
			q = q.Where(sq.GtOrEq{"t.id": int64(*p.GTE)})
		}
		if p.LTE != nil && *p.LTE <= math.MaxInt64 {
			q = q.Where(sq.LtOrEq{"t.id": int64(*p.LTE)})
		}
		return q, nil
	case search.Terms:
		return applyTerms(q, p)
	default:
		return q, fmt.Errorf("unsupported predicate type %T", pred)
	}
}

func applyTerms(q sq.SelectBuilder, p search.Terms) (sq.SelectBuilder, error) {
	switch p.Field {
	case search.FieldType:
		return existsWhere(q, sq.Select("1").From(txTypeTableName).
			Where("tx_id = t.id").Where(sq.Eq{"code": p.Values}))
	case search.FieldAccount:
		return existsWhere(q, sq.Select("1").From(txAccountTableName).
			Where("tx_id = t.id").Where(sq.Eq{"account_id": p.Values}))
	case search.FieldSourceAccount:
		return existsWhere(q, sq.Select("1").From(txAccountTableName).
			Where("tx_id = t.id").Where(sq.Eq{"role": roleSource, "account_id": p.Values}))
	case search.FieldDestAccount:
		return existsWhere(q, sq.Select("1").From(txAccountTableName).
			Where("tx_id = t.id").Where(sq.Eq{"role": roleDest, "account_id": p.Values}))
	case search.FieldAsset:
		return existsWhere(q, sq.Select("1").From(txAssetTableName).
			Where("tx_id = t.id").Where(sq.Eq{"asset_id": p.Values}))
	case search.FieldSourceAsset:
		return existsWhere(q, sq.Select("1").From(txAssetTableName).
			Where("tx_id = t.id").Where(sq.Eq{"role": roleSource, "asset_id": p.Values}))
	case search.FieldDestAsset:
		return existsWhere(q, sq.Select("1").From(txAssetTableName).
			Where("tx_id = t.id").Where(sq.Eq{"role": roleDest, "asset_id": p.Values}))
	case search.FieldOffer:
		return existsWhere(q, sq.Select("1").From(txOfferTableName).
			Where("tx_id = t.id").Where(sq.Eq{"offer_id": p.Values}))
	case search.FieldPool:
		return existsWhere(q, sq.Select("1").From(txPoolTableName).
			Where("tx_id = t.id").Where(sq.Eq{"pool_id": p.Values}))
	case search.FieldMemo:
		return q.Where(sq.Eq{"t.memo_id": p.Values}), nil
	default:
		return q, fmt.Errorf("terms predicate on unsupported field %q", p.Field)
	}
}

func existsWhere(q sq.SelectBuilder, sub sq.SelectBuilder) (sq.SelectBuilder, error) {
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return q, err
	}
	return q.Where("EXISTS ("+subSQL+")", subArgs...), nil
}
