package query

import (
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

// Range accumulates an inclusive lower/upper bound over the transaction id
// space. Bounds only ever tighten: a later AddBottom can raise the bottom but
// never lower it, and symmetrically for AddTop. Contributions therefore
// commute, which is what lets independent filter steps feed the same range.
type Range struct {
	bottom, top *txid.ID
}

// AddBottom raises the lower bound to v unless an equal or higher bound is
// already set.
func (r *Range) AddBottom(v txid.ID) {
	if r.bottom == nil || *r.bottom < v {
		r.bottom = &v
	}
}

// AddTop lowers the upper bound to v unless an equal or lower bound is
// already set.
func (r *Range) AddTop(v txid.ID) {
	if r.top == nil || *r.top > v {
		r.top = &v
	}
}

// IsEmpty reports whether no bound has been contributed at all.
func (r *Range) IsEmpty() bool {
	return r.bottom == nil && r.top == nil
}

// IsUnfeasible reports whether the accumulated bounds exclude every id.
func (r *Range) IsUnfeasible() bool {
	return r.bottom != nil && r.top != nil && *r.bottom > *r.top
}

// Resolve projects the range into a search predicate carrying only the bounds
// that were actually set.
func (r *Range) Resolve() search.Range {
	p := search.Range{Field: search.FieldID}
	if r.bottom != nil {
		gte := uint64(*r.bottom)
		p.GTE = &gte
	}
	if r.top != nil {
		lte := uint64(*r.top)
		p.LTE = &lte
	}
	return p
}
