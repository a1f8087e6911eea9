package methods

import (
	"errors"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

func NewHandler(fn any) jrpc2.Handler {
	fi, err := handler.Check(fn)
	if err != nil {
		panic(err)
	}
	// explicitly disable array arguments since otherwise we cannot add
	// new method arguments without breaking backwards compatibility with clients
	fi.AllowArray(false)
	return fi.Wrap()
}

// rpcError translates core failures into JSON-RPC errors. Validation and
// not-found failures pass through with their own messages; anything else is
// an internal error worth logging.
func rpcError(logger *log.Entry, err error) error {
	var validationErr *query.ValidationError
	if errors.As(err, &validationErr) {
		return &jrpc2.Error{
			Code:    jrpc2.InvalidParams,
			Message: validationErr.Error(),
		}
	}
	if errors.Is(err, db.ErrNoTransaction) {
		return &jrpc2.Error{
			Code:    jrpc2.InvalidRequest,
			Message: "transaction not found",
		}
	}
	logger.WithError(err).Error("request failed")
	return &jrpc2.Error{
		Code:    jrpc2.InternalError,
		Message: err.Error(),
	}
}
