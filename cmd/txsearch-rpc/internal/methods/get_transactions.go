package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

// GetTransactionsRequest carries one multi-criteria transaction query. All
// filter values arrive as strings; the query pipeline resolves them to
// internal identifiers.
type GetTransactionsRequest struct {
	Network string `json:"network"`

	Cursor string `json:"cursor,omitempty"`
	Order  string `json:"order,omitempty"`
	Limit  uint   `json:"limit,omitempty"`

	Type        []string `json:"type,omitempty"`
	Account     []string `json:"account,omitempty"`
	Source      []string `json:"source,omitempty"`
	Destination []string `json:"destination,omitempty"`
	Asset       []string `json:"asset,omitempty"`
	SrcAsset    []string `json:"src_asset,omitempty"`
	DestAsset   []string `json:"dest_asset,omitempty"`
	Offer       []string `json:"offer,omitempty"`
	Pool        []string `json:"pool,omitempty"`
	Memo        []string `json:"memo,omitempty"`

	From *int64 `json:"from,omitempty"`
	To   *int64 `json:"to,omitempty"`
}

func (req GetTransactionsRequest) params() query.Params {
	return query.Params{
		Cursor:      req.Cursor,
		Order:       req.Order,
		Limit:       req.Limit,
		Type:        req.Type,
		Account:     req.Account,
		Source:      req.Source,
		Destination: req.Destination,
		Asset:       req.Asset,
		SrcAsset:    req.SrcAsset,
		DestAsset:   req.DestAsset,
		Offer:       req.Offer,
		Pool:        req.Pool,
		Memo:        req.Memo,
		From:        req.From,
		To:          req.To,
	}
}

type transactionsRPCHandler struct {
	registry *query.Registry
	basePath string
	logger   *log.Entry
}

func (h transactionsRPCHandler) getTransactions(ctx context.Context, request GetTransactionsRequest) (PagedResponse, error) {
	backend, err := h.registry.Lookup(request.Network)
	if err != nil {
		return PagedResponse{}, rpcError(h.logger, err)
	}

	params := request.params()
	builder, err := query.NewBuilder(backend, params, h.logger)
	if err != nil {
		return PagedResponse{}, rpcError(h.logger, err)
	}
	records, err := builder.Resolve(ctx)
	if err != nil {
		return PagedResponse{}, rpcError(h.logger, err)
	}

	return wrapPage(h.basePath, request.Network, params, records), nil
}

// NewGetTransactionsHandler returns the json rpc handler answering paginated
// multi-criteria transaction queries.
func NewGetTransactionsHandler(logger *log.Entry, registry *query.Registry, basePath string) jrpc2.Handler {
	transactionsHandler := transactionsRPCHandler{
		registry: registry,
		basePath: basePath,
		logger:   logger,
	}

	return NewHandler(func(ctx context.Context, request GetTransactionsRequest) (PagedResponse, error) {
		return transactionsHandler.getTransactions(ctx, request)
	})
}
