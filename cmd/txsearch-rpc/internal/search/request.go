// Package search defines the structured request accepted by the transaction
// search index and the contract its implementations fulfill. The index only
// ever filters and sorts; there is no relevance scoring, and hits carry the
// document id alone (full records live in the archive store, not the index).
package search

import (
	"context"
	"time"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

// SortOrder is the direction of the id sort applied to hits.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Indexed field names. These are the only fields a predicate may target.
const (
	FieldID            = "id"
	FieldType          = "type"
	FieldAccount       = "account"
	FieldSourceAccount = "source_account"
	FieldDestAccount   = "dest_account"
	FieldAsset         = "asset"
	FieldSourceAsset   = "source_asset"
	FieldDestAsset     = "dest_asset"
	FieldOffer         = "offer"
	FieldPool          = "pool"
	FieldMemo          = "memo"
)

// Predicate is a single structured filter condition. Predicates accumulated
// into a request are combined by logical AND.
type Predicate interface {
	predicate()
}

// Terms matches documents whose field contains at least one of the given
// internal identifiers (set membership).
type Terms struct {
	Field  string
	Values []int64
}

func (Terms) predicate() {}

// Range matches documents whose id falls within the given inclusive bounds.
// A nil bound is unconstrained on that side.
type Range struct {
	Field string
	GTE   *uint64
	LTE   *uint64
}

func (Range) predicate() {}

// Request is a single filter-only search against one network's index.
type Request struct {
	Predicates []Predicate
	Sort       SortOrder
	// Size is the page size; it also caps total-hit counting so the index
	// never pays for counting matches beyond one page.
	Size    uint
	Timeout time.Duration
}

// Executor runs a request and returns the matching transaction ids in the
// requested order. Implementations own their storage details; callers only
// see this contract.
type Executor interface {
	Execute(ctx context.Context, req Request) ([]txid.ID, error)
}
