package methods

import (
	"net/url"
	"strconv"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
)

// PagedResponse is the envelope wrapping list results: self/prev/next links
// plus the embedded records, in the shape Horizon clients expect.
type PagedResponse struct {
	Links    PageLinks    `json:"_links"`
	Embedded EmbeddedPage `json:"_embedded"`
}

type PageLinks struct {
	Self Link `json:"self"`
	Prev Link `json:"prev"`
	Next Link `json:"next"`
}

type Link struct {
	Href string `json:"href"`
}

type EmbeddedPage struct {
	Records []query.TransactionInfo `json:"records"`
}

func pageLink(basePath, network string, order search.SortOrder, limit uint, cursor string) Link {
	values := url.Values{}
	values.Set("network", network)
	values.Set("order", string(order))
	values.Set("limit", strconv.FormatUint(uint64(limit), 10))
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	return Link{Href: basePath + "?" + values.Encode()}
}

func invert(order search.SortOrder) search.SortOrder {
	if order == search.SortAsc {
		return search.SortDesc
	}
	return search.SortAsc
}

// wrapPage builds the paging envelope: next continues past the last record
// in the same order, prev walks back from the first record in the inverted
// order. An empty page reuses the request's own cursor so clients can poll.
func wrapPage(basePath, network string, params query.Params, records []query.TransactionInfo) PagedResponse {
	order, _ := query.ParseOrder(params.Order)
	limit := query.NormalizeLimit(params.Limit)

	nextCursor := params.Cursor
	prevCursor := params.Cursor
	if len(records) > 0 {
		prevCursor = records[0].PagingToken
		nextCursor = records[len(records)-1].PagingToken
	}

	if records == nil {
		records = []query.TransactionInfo{}
	}
	return PagedResponse{
		Links: PageLinks{
			Self: pageLink(basePath, network, order, limit, params.Cursor),
			Prev: pageLink(basePath, network, invert(order), limit, prevCursor),
			Next: pageLink(basePath, network, order, limit, nextCursor),
		},
		Embedded: EmbeddedPage{Records: records},
	}
}
