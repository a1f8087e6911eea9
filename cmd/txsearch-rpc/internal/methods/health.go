package methods

import (
	"context"
	"sort"

	"github.com/creachadair/jrpc2"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/query"
)

type HealthCheckResult struct {
	Status   string   `json:"status"`
	Networks []string `json:"networks"`
}

// NewHealthCheck returns a serve-ability check: the service is healthy as
// soon as its networks are registered.
func NewHealthCheck(registry *query.Registry) jrpc2.Handler {
	return NewHandler(func(ctx context.Context) (HealthCheckResult, error) {
		networks := registry.Networks()
		sort.Strings(networks)
		return HealthCheckResult{Status: "healthy", Networks: networks}, nil
	})
}
