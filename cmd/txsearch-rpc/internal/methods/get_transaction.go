package methods

import (
	"context"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

type GetTransactionRequest struct {
	Network string `json:"network"`
	// ID addresses the transaction either by its decimal id or its hex hash.
	ID string `json:"id"`
}

// GetTransaction resolves a single transaction directly against the archive
// store, bypassing the search index.
func GetTransaction(
	ctx context.Context,
	logger *log.Entry,
	registry *query.Registry,
	request GetTransactionRequest,
) (query.TransactionInfo, error) {
	backend, err := registry.Lookup(request.Network)
	if err != nil {
		return query.TransactionInfo{}, rpcError(logger, err)
	}

	info, err := query.Lookup(ctx, backend, request.ID)
	if err != nil {
		return query.TransactionInfo{}, rpcError(logger, err)
	}
	return info, nil
}

// NewGetTransactionHandler returns the single-transaction lookup handler.
func NewGetTransactionHandler(logger *log.Entry, registry *query.Registry) jrpc2.Handler {
	return NewHandler(func(ctx context.Context, request GetTransactionRequest) (query.TransactionInfo, error) {
		return GetTransaction(ctx, logger, registry, request)
	})
}
